package simplequeue_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/domonda/go-types/uu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domonda/go-simplequeue"
	"github.com/domonda/go-simplequeue/memqueue"
	"github.com/domonda/go-simplequeue/sqlitequeue"
)

type namePayload struct {
	Name string `json:"name"`
}

func newClient(t *testing.T) (*simplequeue.Client, *memqueue.Backend) {
	t.Helper()
	backend := memqueue.New()
	client := simplequeue.New(backend)
	t.Cleanup(func() { client.Close() })
	return client, backend
}

func TestPushAndHandle(t *testing.T) {
	ctx := context.Background()
	client, backend := newClient(t)

	// given
	jobID, err := client.Push(ctx, namePayload{Name: "A"})
	require.NoError(t, err)
	require.True(t, jobID.Valid())

	var handledJob *simplequeue.Job
	handler := simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		handledJob = job
		return "done", nil
	})

	// when
	result, err := client.Handle(ctx, handler)

	// then
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	require.NotNil(t, handledJob)
	assert.Equal(t, jobID, handledJob.ID)
	assert.True(t, handledJob.IsReserved())
	assert.JSONEq(t, `{"name":"A"}`, string(handledJob.Payload))
	assert.Empty(t, backend.Jobs(), "handled job is deleted")
}

func TestHandleEmptyQueue(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	called := false
	handler := simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		called = true
		return nil, nil
	})

	for range 3 {
		result, err := client.Handle(ctx, handler)
		require.NoError(t, err)
		assert.Nil(t, result)
	}
	assert.False(t, called)
}

func TestHandleFailure(t *testing.T) {
	ctx := context.Background()
	jobErr := errors.New("Something went wrong")
	failing := simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		return nil, jobErr
	})

	t.Run("marks job as failed", func(t *testing.T) {
		client, backend := newClient(t)
		_, err := client.Push(ctx, 1)
		require.NoError(t, err)

		// when
		result, err := client.Handle(ctx, failing)

		// then
		require.NoError(t, err)
		assert.Nil(t, result)
		jobs := backend.Jobs()
		require.Len(t, jobs, 1)
		assert.True(t, jobs[0].IsFailed())
	})

	t.Run("returns JobFailedError", func(t *testing.T) {
		client, backend := newClient(t)
		jobID, err := client.Push(ctx, 1)
		require.NoError(t, err)

		// when
		result, err := client.Handle(ctx, failing, simplequeue.ReturnJobFailed())

		// then
		assert.Nil(t, result)
		require.ErrorIs(t, err, simplequeue.ErrJobFailed)
		require.ErrorIs(t, err, jobErr)
		var failed *simplequeue.JobFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, jobID, failed.JobID)
		assert.True(t, backend.Jobs()[0].IsFailed())
	})

	t.Run("panic fails the job", func(t *testing.T) {
		client, backend := newClient(t)
		_, err := client.Push(ctx, 1)
		require.NoError(t, err)

		// when
		_, err = client.Handle(ctx,
			simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
				panic("boom")
			}),
			simplequeue.ReturnJobFailed(),
		)

		// then
		require.ErrorIs(t, err, simplequeue.ErrJobFailed)
		assert.Contains(t, err.Error(), "boom")
		assert.True(t, backend.Jobs()[0].IsFailed())
	})
}

func TestHandleFailedRetries(t *testing.T) {
	ctx := context.Background()
	client, backend := newClient(t)

	// given a failed job
	_, err := client.Push(ctx, 1, simplequeue.InQueue("q"))
	require.NoError(t, err)
	attempts := 0
	handler := simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("not yet")
		}
		return attempts, nil
	})
	_, err = client.Handle(ctx, handler, simplequeue.InQueue("q"))
	require.NoError(t, err)

	// when retried twice
	result, err := client.HandleFailed(ctx, handler, simplequeue.InQueue("q"))
	require.NoError(t, err)
	assert.Nil(t, result)
	result, err = client.HandleFailed(ctx, handler, simplequeue.InQueue("q"))
	require.NoError(t, err)

	// then
	assert.Equal(t, 3, result)
	assert.Empty(t, backend.Jobs())

	// and no failed job is left
	result, err = client.HandleFailed(ctx, handler, simplequeue.InQueue("q"))
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 3, attempts)
}

func TestHandleByID(t *testing.T) {
	ctx := context.Background()
	client, backend := newClient(t)

	// given
	_, err := client.Push(ctx, namePayload{Name: "A"})
	require.NoError(t, err)
	jobID, err := client.Push(ctx, namePayload{Name: "B"})
	require.NoError(t, err)

	handler := simplequeue.PayloadHandler(func(ctx context.Context, payload namePayload) (any, error) {
		return payload.Name, nil
	})

	// when
	result, err := client.HandleByID(ctx, handler, jobID)

	// then
	require.NoError(t, err)
	assert.Equal(t, "B", result)
	require.Len(t, backend.Jobs(), 1)

	// unknown ID
	result, err = client.HandleByID(ctx, handler, uu.IDv4())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestPayloadHandlerFailsOnInvalidPayload(t *testing.T) {
	ctx := context.Background()
	client, backend := newClient(t)

	// given
	_, err := client.Push(ctx, `"not an object"`)
	require.NoError(t, err)
	handler := simplequeue.PayloadHandler(func(ctx context.Context, payload namePayload) (any, error) {
		return payload.Name, nil
	})

	// when
	_, err = client.Handle(ctx, handler, simplequeue.ReturnJobFailed())

	// then
	assert.ErrorIs(t, err, simplequeue.ErrJobFailed)
	assert.True(t, backend.Jobs()[0].IsFailed())
}

func TestClientValidation(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	_, err := client.Push(ctx, nil)
	assert.Error(t, err)

	_, err = client.Push(ctx, 1, simplequeue.InQueue("a/b"))
	assert.ErrorIs(t, err, simplequeue.ErrInvalidQueueName)

	_, err = client.Handle(ctx, nil)
	assert.ErrorIs(t, err, simplequeue.ErrNilHandler)
}

func TestWithIDGenerator(t *testing.T) {
	ctx := context.Background()
	id := uu.IDFrom("fd2ddce4-5d0b-4fca-aae7-30044ce8868d")
	client := simplequeue.New(memqueue.New(), simplequeue.WithIDGenerator(func() uu.ID { return id }))

	// when
	jobID, err := client.Push(ctx, 1)
	require.NoError(t, err)
	_, err = client.Push(ctx, 2)

	// then
	assert.Equal(t, id, jobID)
	assert.ErrorIs(t, err, simplequeue.ErrDuplicateID)
}

func TestGetStatusAndPurgeAll(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	// given
	for range 3 {
		_, err := client.Push(ctx, 1, simplequeue.InQueue("q"))
		require.NoError(t, err)
	}

	// when
	status, err := client.GetStatus(ctx, simplequeue.InQueue("q"))

	// then
	require.NoError(t, err)
	assert.Equal(t, 3, status.NumAvailable)

	// when
	require.NoError(t, client.PurgeAll(ctx))
	status, err = client.GetStatus(ctx, simplequeue.InQueue("q"))

	// then
	require.NoError(t, err)
	assert.True(t, status.NumJobs() == 0)
}

func TestShutdown(t *testing.T) {
	client, _ := newClient(t)
	assert.False(t, client.ShutdownRequested())

	client.Shutdown()
	client.Shutdown()

	assert.True(t, client.ShutdownRequested())
	select {
	case <-client.ShutdownSignal():
	default:
		t.Fatal("shutdown signal not closed")
	}
}

func TestBackendFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	backendErr := errors.New("connection refused")
	client := simplequeue.New(simplequeue.BackendWithError(backendErr))

	_, err := client.Handle(ctx, simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		return nil, nil
	}))
	assert.ErrorIs(t, err, backendErr)

	_, err = client.Push(ctx, 1)
	assert.ErrorIs(t, err, backendErr)
}

func TestNopBackend(t *testing.T) {
	ctx := context.Background()
	client := simplequeue.New(simplequeue.NopBackend{})

	_, err := client.Push(ctx, 1)
	require.NoError(t, err)
	result, err := client.Handle(ctx, simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		t.Fatal("no job expected")
		return nil, nil
	}))
	require.NoError(t, err)
	assert.Nil(t, result)
}

type recordingListener struct {
	jobs []*simplequeue.Job
	errs []error
}

func (l *recordingListener) OnJobStopped(ctx context.Context, job *simplequeue.Job, jobErr error) {
	l.jobs = append(l.jobs, job)
	l.errs = append(l.errs, jobErr)
}

func TestJobStoppedListener(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	// given
	listener := &recordingListener{}
	simplequeue.AddJobStoppedListener(listener)
	t.Cleanup(func() { simplequeue.RemoveJobStoppedListener(listener) })

	okID, err := client.Push(ctx, "true", simplequeue.InQueue("listened"))
	require.NoError(t, err)
	jobErr := errors.New("fail")

	// when
	_, err = client.HandleByID(ctx, simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		return nil, nil
	}), okID)
	require.NoError(t, err)
	failID, err := client.Push(ctx, "false", simplequeue.InQueue("listened"))
	require.NoError(t, err)
	_, err = client.HandleByID(ctx, simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		return nil, jobErr
	}), failID)
	require.NoError(t, err)

	// then
	require.Len(t, listener.jobs, 2)
	assert.Equal(t, okID, listener.jobs[0].ID)
	assert.NoError(t, listener.errs[0])
	assert.Equal(t, failID, listener.jobs[1].ID)
	assert.ErrorIs(t, listener.errs[1], jobErr)

	// when removed
	simplequeue.RemoveJobStoppedListener(listener)
	_, err = client.HandleFailed(ctx, simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
		return nil, nil
	}), simplequeue.InQueue("listened"))
	require.NoError(t, err)

	// then
	assert.Len(t, listener.jobs, 2)
}

func TestContextWithIgnoreJob(t *testing.T) {
	client, backend := newClient(t)
	ctx := simplequeue.ContextWithIgnoreJob(context.Background(), func(job *simplequeue.Job) bool {
		return job.Queue == "ignored"
	})

	// when
	ignoredID, err := client.Push(ctx, 1, simplequeue.InQueue("ignored"))
	require.NoError(t, err)
	_, err = client.Push(ctx, 2, simplequeue.InQueue("stored"))
	require.NoError(t, err)

	// then
	assert.True(t, ignoredID.Valid())
	jobs := backend.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "stored", jobs[0].Queue)

	_, err = client.Push(simplequeue.ContextWithIgnoreJob(context.Background(), simplequeue.IgnoreAllJobs), 3)
	require.NoError(t, err)
	assert.Len(t, backend.Jobs(), 1)
}

func TestHandleRetiresJobAfterContextCanceled(t *testing.T) {
	for _, jobErr := range []error{nil, errors.New("failed")} {
		t.Run(fmt.Sprint(jobErr), func(t *testing.T) {
			// given a job in a SQLite queue
			backend, err := sqlitequeue.New(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
			require.NoError(t, err)
			client := simplequeue.New(backend)
			t.Cleanup(func() { client.Close() })
			require.NoError(t, client.CreateSchema(context.Background()))
			_, err = client.Push(context.Background(), 1)
			require.NoError(t, err)

			// when ctx is canceled while the handler runs
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_, err = client.Handle(ctx, simplequeue.HandlerFunc(func(ctx context.Context, job *simplequeue.Job) (any, error) {
				cancel()
				return nil, jobErr
			}))

			// then the job is not left reserved
			require.NoError(t, err)
			status, err := client.GetStatus(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, status.NumReserved)
			assert.Equal(t, 0, status.NumAvailable)
			if jobErr != nil {
				assert.Equal(t, 1, status.NumFailed)
			} else {
				assert.Equal(t, 0, status.NumFailed)
			}
		})
	}
}
