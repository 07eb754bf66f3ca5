package simplequeue

import (
	"context"
	"strings"
	"sync"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"
)

// Option configures a single Client operation.
type Option func(*options)

type options struct {
	queue           string
	returnJobFailed bool
}

func applyOptions(opts []Option) (o options, err error) {
	for _, opt := range opts {
		opt(&o)
	}
	o.queue, err = QueueName(o.queue)
	return o, err
}

// InQueue selects the queue of an operation.
// DefaultQueue is used without this option.
func InQueue(queue string) Option {
	return func(o *options) { o.queue = queue }
}

// ReturnJobFailed makes the Client.Handle methods return a *JobFailedError
// when the handler fails instead of only marking the job as failed.
func ReturnJobFailed() Option {
	return func(o *options) { o.returnJobFailed = true }
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithIDGenerator replaces uu.IDv4 as generator of new job IDs.
func WithIDGenerator(newID func() uu.ID) ClientOption {
	return func(c *Client) { c.newID = newID }
}

// Client pushes and handles jobs using a Backend.
// It owns no state beyond the backend
// and a cooperative shutdown signal shared by all workers using it.
type Client struct {
	backend Backend
	newID   func() uu.ID

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New returns a Client for the backend.
// Closing the Client closes the backend.
func New(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:  backend,
		newID:    uu.IDv4,
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the Backend of the client.
func (c *Client) Backend() Backend {
	return c.backend
}

// CreateSchema creates the storage structure of the backend if needed.
func (c *Client) CreateSchema(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	return c.backend.CreateSchema(ctx)
}

// Push stores a new job with the payload marshalled as JSON
// and returns its generated ID.
// See ContextWithIgnoreJob for discarding jobs.
func (c *Client) Push(ctx context.Context, payload any, opts ...Option) (jobID uu.ID, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, payload)

	o, err := applyOptions(opts)
	if err != nil {
		return uu.IDNil, err
	}
	job, err := NewJobWithID(c.newID(), o.queue, payload)
	if err != nil {
		return uu.IDNil, err
	}
	if IgnoreJob(ctx, job) {
		log.Debug("Ignoring job").
			UUID("jobID", job.ID).
			Str("queue", job.Queue).
			Log()
		return job.ID, nil
	}
	err = c.backend.StoreJob(ctx, job)
	if err != nil {
		return uu.IDNil, err
	}

	log.Debug("Pushed job").
		UUID("jobID", job.ID).
		Str("queue", job.Queue).
		Log()

	return job.ID, nil
}

// Handle reserves an available job of the queue and passes it to the handler.
// If no job could be reserved then nil is returned without calling the handler.
// If the handler succeeds, the job is deleted and the handler result returned.
// If the handler fails, the job is marked as failed and nil is returned,
// or a *JobFailedError if the ReturnJobFailed option was passed.
func (c *Client) Handle(ctx context.Context, handler Handler, opts ...Option) (result any, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, handler)

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	job, err := c.backend.ReserveNextJob(ctx, o.queue)
	if err != nil {
		return nil, err
	}
	return c.handleJob(ctx, job, handler, o)
}

// HandleByID reserves the available or failed job with jobID
// and handles it like Handle.
// The queue option is ignored.
func (c *Client) HandleByID(ctx context.Context, handler Handler, jobID uu.ID, opts ...Option) (result any, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, handler, jobID)

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	job, err := c.backend.ReserveJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return c.handleJob(ctx, job, handler, o)
}

// HandleFailed reserves a failed job of the queue
// and handles it like Handle.
// A job can fail and be handled again any number of times.
func (c *Client) HandleFailed(ctx context.Context, handler Handler, opts ...Option) (result any, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, handler)

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	job, err := c.backend.ReserveNextFailedJob(ctx, o.queue)
	if err != nil {
		return nil, err
	}
	return c.handleJob(ctx, job, handler, o)
}

func (c *Client) handleJob(ctx context.Context, job *Job, handler Handler, o options) (result any, err error) {
	if job == nil {
		log.Debug("No job to handle").
			Str("queue", o.queue).
			Log()
		return nil, nil
	}

	result, jobErr := callHandler(ctx, handler, job)

	// The reserved job must be retired even if ctx
	// was canceled while the handler was running
	retireCtx := context.WithoutCancel(ctx)

	if jobErr != nil {
		errorTitle := errs.Root(jobErr).Error()
		if nl := strings.IndexByte(errorTitle, '\n'); nl > 0 {
			// Only use first line of error message as errorTitle
			errorTitle = errorTitle[:nl]
		}
		errorTitle = strings.TrimSpace(errorTitle)

		OnError(jobErr)
		log.ErrorfCtx(ctx, "Job error: %s", errorTitle).
			UUID("jobID", job.ID).
			Str("queue", job.Queue).
			Err(jobErr).
			Log()

		err = c.backend.MarkJobFailed(retireCtx, job.ID)
		if err != nil {
			OnError(err)
			log.ErrorCtx(ctx, "Error while marking job as failed").
				UUID("jobID", job.ID).
				Err(err).
				Log()
			return nil, err
		}
		notifyJobStopped(ctx, job, jobErr)
		if o.returnJobFailed {
			return nil, &JobFailedError{JobID: job.ID, Err: jobErr}
		}
		return nil, nil
	}

	err = c.backend.DeleteJob(retireCtx, job.ID)
	if err != nil {
		OnError(err)
		log.ErrorCtx(ctx, "Error while deleting handled job").
			UUID("jobID", job.ID).
			Err(err).
			Log()
		return nil, err
	}
	notifyJobStopped(ctx, job, nil)
	return result, nil
}

// GetStatus counts the jobs of the queue per state.
func (c *Client) GetStatus(ctx context.Context, opts ...Option) (status *Status, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return c.backend.GetStatus(ctx, o.queue)
}

// PurgeAll removes every job of every queue.
// Meant for administration and tests.
func (c *Client) PurgeAll(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	return c.backend.PurgeAll(ctx)
}

// Shutdown signals all workers using the client
// to stop before their next job.
// Safe to call multiple times and concurrently.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		log.Debug("Shutdown requested").Log()
		close(c.shutdown)
	})
}

// ShutdownRequested returns true after Shutdown was called.
func (c *Client) ShutdownRequested() bool {
	select {
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

// ShutdownSignal returns a channel that is closed by Shutdown.
func (c *Client) ShutdownSignal() <-chan struct{} {
	return c.shutdown
}

// Close closes the backend of the client.
func (c *Client) Close() (err error) {
	defer errs.WrapWithFuncParams(&err)

	return c.backend.Close()
}
