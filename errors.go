package simplequeue

import (
	"context"
	"fmt"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"
)

const (
	ErrClosed           errs.Sentinel = "simplequeue backend is closed"
	ErrDuplicateID      errs.Sentinel = "job with same ID already exists"
	ErrInvalidQueueName errs.Sentinel = "invalid queue name"
	ErrNilHandler       errs.Sentinel = "nil job handler"

	// ErrJobFailed is matched by every *JobFailedError
	// using errors.Is.
	ErrJobFailed errs.Sentinel = "job failed"
)

// JobFailedError is returned by the Client.Handle methods
// when the handler returned an error or panicked
// and the ReturnJobFailed option was passed.
// The job has been marked as failed in the backend.
type JobFailedError struct {
	JobID uu.ID
	Err   error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Err)
}

func (e *JobFailedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrJobFailed) true.
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}

var _ Backend = errBackend{}

type errBackend struct {
	err error
}

// BackendWithError returns a Backend that returns
// the passed error from every method.
func BackendWithError(err error) Backend {
	return errBackend{err}
}

func (e errBackend) CreateSchema(context.Context) error                         { return e.err }
func (e errBackend) StoreJob(context.Context, *Job) error                       { return e.err }
func (e errBackend) ReserveNextJob(context.Context, string) (*Job, error)       { return nil, e.err }
func (e errBackend) ReserveJob(context.Context, uu.ID) (*Job, error)            { return nil, e.err }
func (e errBackend) ReserveNextFailedJob(context.Context, string) (*Job, error) { return nil, e.err }
func (e errBackend) DeleteJob(context.Context, uu.ID) error                     { return e.err }
func (e errBackend) MarkJobFailed(context.Context, uu.ID) error                 { return e.err }
func (e errBackend) GetStatus(context.Context, string) (*Status, error)         { return nil, e.err }
func (e errBackend) PurgeAll(context.Context) error                             { return e.err }
func (e errBackend) Close() error                                               { return e.err }
