package simplequeue

import (
	"context"
	"fmt"

	"github.com/domonda/go-errs"
	"github.com/domonda/golog"
)

// Handler does the work for a reserved job.
// Returning an error marks the job as failed,
// returning normally deletes the job.
type Handler interface {
	HandleJob(ctx context.Context, job *Job) (result any, err error)
}

type HandlerFunc func(ctx context.Context, job *Job) (result any, err error)

func (f HandlerFunc) HandleJob(ctx context.Context, job *Job) (result any, err error) {
	return f(ctx, job)
}

// PayloadHandler returns a Handler that unmarshals the JSON payload
// of a job to a value of type T and passes it to handlerFunc.
// A payload that can't be unmarshalled to T fails the job.
func PayloadHandler[T any](handlerFunc func(ctx context.Context, payload T) (result any, err error)) HandlerFunc {
	return func(ctx context.Context, job *Job) (result any, err error) {
		var payload T
		err = job.UnmarshalPayload(&payload)
		if err != nil {
			return nil, fmt.Errorf("error while unmarshalling job payload '%s': %w", job.Payload, err)
		}
		return handlerFunc(ctx, payload)
	}
}

// callHandler calls the handler with a copy of the job
// and converts a panic into an error.
// The job ID is added to the context as golog attribute with the key "jobID".
func callHandler(ctx context.Context, handler Handler, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Errorf("job handler panic: %w", errs.AsErrorWithDebugStack(r))
		}
	}()

	jobCtx := golog.ContextWithAttribs(ctx, golog.UUID{Key: "jobID", Val: job.ID})
	return handler.HandleJob(jobCtx, job.Clone())
}
