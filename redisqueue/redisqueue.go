// Package redisqueue implements simplequeue.Backend with Redis.
//
// Every job is stored as JSON under a key combining its state, queue, and ID.
// A reservation renames the key from the available or failed state
// to the reserved state while holding a Redlock mutex for the job
// implemented by github.com/go-redsync/redsync.
// Candidates are found with SCAN, so selection order is arbitrary.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"
	"github.com/domonda/golog"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/domonda/go-simplequeue"
)

// ErrLockFailed is logged when the mutex of a job could not be acquired.
// The job is then treated as not available, the error is not returned.
const ErrLockFailed errs.Sentinel = "could not acquire job lock"

const (
	DefaultLockExpiry = 10 * time.Second
	// DefaultLockTries makes one retry after a failed lock attempt.
	DefaultLockTries = 2

	scanCount = 100
)

var _ simplequeue.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLockExpiry sets after which duration a job mutex expires
// if it was not unlocked.
func WithLockExpiry(expiry time.Duration) Option {
	return func(b *Backend) { b.lockExpiry = expiry }
}

// WithLockTries sets how often acquiring a job mutex is tried.
func WithLockTries(tries int) Option {
	return func(b *Backend) { b.lockTries = tries }
}

// WithLogger sets the logger of the backend
// instead of the package logger.
func WithLogger(logger *golog.Logger) Option {
	return func(b *Backend) { b.log = logger }
}

// Backend is a simplequeue.Backend using Redis.
type Backend struct {
	client     redis.UniversalClient
	locker     *redsync.Redsync
	lockExpiry time.Duration
	lockTries  int
	ownsClient bool
	log        *golog.Logger
	closed     atomic.Bool
}

// New returns a Backend using client.
// The caller owns the client, Close will not close it.
func New(client redis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{
		client:     client,
		locker:     redsync.New(goredis.NewPool(client)),
		lockExpiry: DefaultLockExpiry,
		lockTries:  DefaultLockTries,
		log:        log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open connects to the Redis server at url like "redis://localhost:6379/0"
// and returns a Backend owning the client.
func Open(ctx context.Context, url string, opts ...Option) (b *Backend, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, url)

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	err = client.Ping(ctx).Err()
	if err != nil {
		client.Close()
		return nil, err
	}
	b = New(client, opts...)
	b.ownsClient = true
	return b, nil
}

// Client returns the Redis client of the backend.
func (b *Backend) Client() redis.UniversalClient {
	return b.client
}

// CreateSchema is a no-op for Redis.
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

	existing, err := b.client.Exists(ctx, jobKeys(job.Queue, job.ID)...).Result()
	if err != nil {
		return err
	}
	if existing > 0 {
		return simplequeue.ErrDuplicateID
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := b.client.SetNX(ctx, jobKey(availablePrefix, job.Queue, job.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return simplequeue.ErrDuplicateID
	}
	return nil
}

func (b *Backend) ReserveNextJob(ctx context.Context, queue string) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}
	return b.reserveFirst(ctx, queuePattern(availablePrefix, queue))
}

func (b *Backend) ReserveJob(ctx context.Context, jobID uu.ID) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}
	for _, prefix := range []string{availablePrefix, failedPrefix} {
		job, err = b.reserveFirst(ctx, idPattern(prefix, jobID))
		if err != nil || job != nil {
			return job, err
		}
	}
	return nil, nil
}

func (b *Backend) ReserveNextFailedJob(ctx context.Context, queue string) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}
	return b.reserveFirst(ctx, queuePattern(failedPrefix, queue))
}

// reserveFirst walks the keys matching pattern
// until one of them could be moved to the reserved state.
func (b *Backend) reserveFirst(ctx context.Context, pattern string) (*simplequeue.Job, error) {
	iter := b.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		job, err := b.move(ctx, iter.Val(), reservedPrefix, func(job *simplequeue.Job) *simplequeue.Job {
			return job.Reserved(simplequeue.UnixNow())
		})
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, iter.Err()
}

// move renames the job stored under key to toPrefix while holding the job mutex
// and returns the job as changed by the update function.
// Returns nil without error if the mutex could not be acquired
// or if the key was renamed by another backend in the meantime.
func (b *Backend) move(ctx context.Context, key, toPrefix string, update func(*simplequeue.Job) *simplequeue.Job) (*simplequeue.Job, error) {
	_, queue, jobID, err := parseJobKey(key)
	if err != nil {
		return nil, err
	}

	mutex := b.locker.NewMutex(
		lockKey(queue, jobID),
		redsync.WithTries(b.lockTries),
		redsync.WithExpiry(b.lockExpiry),
	)
	err = mutex.LockContext(ctx)
	if err != nil {
		b.log.Debug("Job skipped").
			UUID("jobID", jobID).
			Str("queue", queue).
			Err(fmt.Errorf("%w: %s", ErrLockFailed, err)).
			Log()
		return nil, nil
	}
	defer func() {
		_, e := mutex.UnlockContext(context.WithoutCancel(ctx))
		if e != nil {
			b.log.Warn("Could not unlock job").
				UUID("jobID", jobID).
				Str("queue", queue).
				Err(e).
				Log()
		}
	}()

	data, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			b.log.Debug("Job taken by another worker").
				UUID("jobID", jobID).
				Str("queue", queue).
				Log()
			return nil, nil
		}
		return nil, err
	}
	var stored simplequeue.Job
	err = json.Unmarshal(data, &stored)
	if err != nil {
		return nil, errs.Errorf("can't unmarshal job from key %q: %w", key, err)
	}

	job := update(&stored)
	data, err = json.Marshal(job)
	if err != nil {
		return nil, err
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.Set(ctx, jobKey(toPrefix, queue, jobID), data, 0)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (b *Backend) DeleteJob(ctx context.Context, jobID uu.ID) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	keys, err := b.scanKeys(ctx, idPattern(reservedPrefix, jobID))
	if err != nil || len(keys) == 0 {
		return err
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *Backend) MarkJobFailed(ctx context.Context, jobID uu.ID) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	keys, err := b.scanKeys(ctx, idPattern(reservedPrefix, jobID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		job, err := b.move(ctx, key, failedPrefix, func(job *simplequeue.Job) *simplequeue.Job {
			return job.Failed(simplequeue.UnixNow())
		})
		if err != nil {
			return err
		}
		if job != nil {
			return nil
		}
	}
	b.log.Warn("Reserved job to mark as failed not found").
		UUID("jobID", jobID).
		Log()
	return nil
}

func (b *Backend) GetStatus(ctx context.Context, queue string) (status *simplequeue.Status, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}

	status = &simplequeue.Status{Queue: queue}
	counts := map[string]*int{
		availablePrefix: &status.NumAvailable,
		reservedPrefix:  &status.NumReserved,
		failedPrefix:    &status.NumFailed,
	}
	for prefix, count := range counts {
		keys, err := b.scanKeys(ctx, queuePattern(prefix, queue))
		if err != nil {
			return nil, err
		}
		*count = len(keys)
	}
	return status, nil
}

// PurgeAll deletes the job and job lock keys of all queues.
// Other keys of the Redis database are not touched.
func (b *Backend) PurgeAll(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	for _, pattern := range []string{purgePattern, lockPrefix + "*"} {
		keys, err := b.scanKeys(ctx, pattern)
		if err != nil {
			return err
		}
		for len(keys) > 0 {
			n := min(len(keys), scanCount)
			err = b.client.Del(ctx, keys[:n]...).Err()
			if err != nil {
				return err
			}
			keys = keys[n:]
		}
	}
	return nil
}

func (b *Backend) scanKeys(ctx context.Context, pattern string) (keys []string, err error) {
	iter := b.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (b *Backend) Close() (err error) {
	defer errs.WrapWithFuncParams(&err)

	if b.closed.Swap(true) {
		return simplequeue.ErrClosed
	}
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}
