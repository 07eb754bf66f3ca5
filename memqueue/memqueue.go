// Package memqueue implements simplequeue.Backend in process memory.
// Safe for concurrent use. Intended for unit tests and embedded use
// where jobs don't have to survive the process.
package memqueue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"

	"github.com/domonda/go-simplequeue"
)

var _ simplequeue.Backend = (*Backend)(nil)

type Backend struct {
	mtx    sync.Mutex
	jobs   map[uu.ID]*simplequeue.Job
	closed atomic.Bool
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{jobs: make(map[uu.ID]*simplequeue.Job)}
}

// CreateSchema is a no-op for the memory backend.
func (b *Backend) CreateSchema(ctx context.Context) error {
	if b.closed.Load() {
		return simplequeue.ErrClosed
	}
	return nil
}

func (b *Backend) StoreJob(ctx context.Context, job *simplequeue.Job) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if _, exists := b.jobs[job.ID]; exists {
		return simplequeue.ErrDuplicateID
	}
	b.jobs[job.ID] = job.Clone()
	return nil
}

func (b *Backend) ReserveNextJob(ctx context.Context, queue string) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	return b.reserveFirst(func(j *simplequeue.Job) bool {
		return j.Queue == queue && j.IsAvailable()
	})
}

func (b *Backend) ReserveJob(ctx context.Context, jobID uu.ID) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	return b.reserveFirst(func(j *simplequeue.Job) bool {
		return j.ID == jobID && !j.IsReserved()
	})
}

func (b *Backend) ReserveNextFailedJob(ctx context.Context, queue string) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	return b.reserveFirst(func(j *simplequeue.Job) bool {
		return j.Queue == queue && j.IsFailed()
	})
}

// reserveFirst reserves the first job matching the predicate.
// Map iteration order makes the selection arbitrary.
func (b *Backend) reserveFirst(match func(*simplequeue.Job) bool) (*simplequeue.Job, error) {
	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	for id, j := range b.jobs {
		if !match(j) {
			continue
		}
		reserved := j.Reserved(simplequeue.UnixNow())
		b.jobs[id] = reserved
		return reserved.Clone(), nil
	}
	return nil, nil
}

func (b *Backend) DeleteJob(ctx context.Context, jobID uu.ID) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if j, ok := b.jobs[jobID]; ok && j.IsReserved() {
		delete(b.jobs, jobID)
	}
	return nil
}

func (b *Backend) MarkJobFailed(ctx context.Context, jobID uu.ID) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	j, ok := b.jobs[jobID]
	if !ok || !j.IsReserved() {
		log.Warn("Reserved job to mark as failed not found").
			UUID("jobID", jobID).
			Log()
		return nil
	}
	b.jobs[jobID] = j.Failed(simplequeue.UnixNow())
	return nil
}

func (b *Backend) GetStatus(ctx context.Context, queue string) (status *simplequeue.Status, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	status = &simplequeue.Status{Queue: queue}
	for _, j := range b.jobs {
		if j.Queue != queue {
			continue
		}
		switch {
		case j.IsReserved():
			status.NumReserved++
		case j.IsFailed():
			status.NumFailed++
		default:
			status.NumAvailable++
		}
	}
	return status, nil
}

func (b *Backend) PurgeAll(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	clear(b.jobs)
	return nil
}

// Jobs returns snapshots of all stored jobs.
func (b *Backend) Jobs() []*simplequeue.Job {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	jobs := make([]*simplequeue.Job, 0, len(b.jobs))
	for _, j := range b.jobs {
		jobs = append(jobs, j.Clone())
	}
	return jobs
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return simplequeue.ErrClosed
	}
	return nil
}
