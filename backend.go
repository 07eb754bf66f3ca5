package simplequeue

import (
	"context"

	"github.com/domonda/go-types/uu"
)

// Backend is the persistence contract implemented by the
// SQL and key-value adapters of this module.
//
// The Reserve methods atomically transition one job to the reserved state
// and return a snapshot of it, or nil without an error if no matching
// job could be reserved. Callers must not depend on any selection order.
// Concurrent reservations of the same job never both succeed.
type Backend interface {
	// CreateSchema creates the storage structure if it does not exist.
	// It is a no-op for backends without a schema.
	CreateSchema(ctx context.Context) error

	// StoreJob inserts a new available job.
	// Returns ErrDuplicateID if a job with the same ID exists.
	StoreJob(ctx context.Context, job *Job) error

	// ReserveNextJob reserves any available job of the queue.
	ReserveNextJob(ctx context.Context, queue string) (*Job, error)

	// ReserveJob reserves the available or failed job with jobID.
	ReserveJob(ctx context.Context, jobID uu.ID) (*Job, error)

	// ReserveNextFailedJob reserves any failed job of the queue.
	ReserveNextFailedJob(ctx context.Context, queue string) (*Job, error)

	// DeleteJob permanently removes a reserved job.
	// It is a no-op if the job is not reserved.
	DeleteJob(ctx context.Context, jobID uu.ID) error

	// MarkJobFailed transitions a reserved job to the failed state.
	// A job that can't be found is logged and no error is returned.
	MarkJobFailed(ctx context.Context, jobID uu.ID) error

	// GetStatus counts the jobs of a queue per state.
	GetStatus(ctx context.Context, queue string) (*Status, error)

	// PurgeAll removes every job of every queue.
	PurgeAll(ctx context.Context) error

	Close() error
}
