// Package queuetest provides a conformance test suite
// that every simplequeue.Backend implementation runs in its tests.
package queuetest

import (
	"context"
	"sync"
	"testing"

	"github.com/domonda/go-types/uu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domonda/go-simplequeue"
)

// NewBackendFunc returns an empty backend with created schema.
// The test suite closes the backend itself.
type NewBackendFunc func(t *testing.T) simplequeue.Backend

// NumConcurrentReservations is the number of goroutines
// racing to reserve the same job in TestMutualExclusion.
var NumConcurrentReservations = 8

// RunBackendTests runs all conformance tests as subtests of t.
func RunBackendTests(t *testing.T, newBackend NewBackendFunc) {
	t.Run("RoundTrip", func(t *testing.T) { TestRoundTrip(t, newBackend(t)) })
	t.Run("FailureCycle", func(t *testing.T) { TestFailureCycle(t, newBackend(t)) })
	t.Run("EmptyQueue", func(t *testing.T) { TestEmptyQueue(t, newBackend(t)) })
	t.Run("QueueIsolation", func(t *testing.T) { TestQueueIsolation(t, newBackend(t)) })
	t.Run("ReserveJob", func(t *testing.T) { TestReserveJob(t, newBackend(t)) })
	t.Run("MutualExclusion", func(t *testing.T) { TestMutualExclusion(t, newBackend(t)) })
	t.Run("DeleteNotReserved", func(t *testing.T) { TestDeleteNotReserved(t, newBackend(t)) })
	t.Run("MarkFailedNotFound", func(t *testing.T) { TestMarkFailedNotFound(t, newBackend(t)) })
	t.Run("DuplicateID", func(t *testing.T) { TestDuplicateID(t, newBackend(t)) })
	t.Run("Status", func(t *testing.T) { TestStatus(t, newBackend(t)) })
	t.Run("PurgeAll", func(t *testing.T) { TestPurgeAll(t, newBackend(t)) })
	t.Run("Closed", func(t *testing.T) { TestClosed(t, newBackend(t)) })
}

func newJob(t *testing.T, queue string, payload any) *simplequeue.Job {
	t.Helper()
	job, err := simplequeue.NewJob(queue, payload)
	require.NoError(t, err)
	return job
}

func closeBackend(t *testing.T, backend simplequeue.Backend) {
	t.Cleanup(func() { _ = backend.Close() })
}

func TestRoundTrip(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	job := newJob(t, "", map[string]any{"name": "A"})
	err := backend.StoreJob(ctx, job)
	require.NoError(t, err)

	// when
	reserved, err := backend.ReserveNextJob(ctx, simplequeue.DefaultQueue)
	require.NoError(t, err)

	// then
	require.NotNil(t, reserved)
	assert.Equal(t, job.ID, reserved.ID)
	assert.Equal(t, simplequeue.DefaultQueue, reserved.Queue)
	assert.JSONEq(t, `{"name":"A"}`, string(reserved.Payload))
	assert.Equal(t, job.CreatedAt, reserved.CreatedAt)
	assert.True(t, reserved.IsReserved())
	assert.Nil(t, reserved.FailedAt)

	// when
	err = backend.DeleteJob(ctx, reserved.ID)
	require.NoError(t, err)

	// then
	status, err := backend.GetStatus(ctx, simplequeue.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, 0, status.NumJobs())
	again, err := backend.ReserveJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestFailureCycle(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	job := newJob(t, "q", `{"fail":true}`)
	require.NoError(t, backend.StoreJob(ctx, job))
	reserved, err := backend.ReserveNextJob(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, reserved)

	// when
	err = backend.MarkJobFailed(ctx, reserved.ID)
	require.NoError(t, err)

	// then a failed job is not available
	next, err := backend.ReserveNextJob(ctx, "q")
	require.NoError(t, err)
	assert.Nil(t, next)
	status, err := backend.GetStatus(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, status.NumFailed)

	// when reserving failed jobs
	failed, err := backend.ReserveNextFailedJob(ctx, "q")
	require.NoError(t, err)

	// then
	require.NotNil(t, failed)
	assert.Equal(t, job.ID, failed.ID)
	assert.True(t, failed.IsReserved())
	assert.Nil(t, failed.FailedAt, "reservation clears failed_at")
	none, err := backend.ReserveNextFailedJob(ctx, "q")
	require.NoError(t, err)
	assert.Nil(t, none)

	// when failing a second time
	require.NoError(t, backend.MarkJobFailed(ctx, failed.ID))
	failed, err = backend.ReserveNextFailedJob(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, failed)

	// then it can finally succeed
	require.NoError(t, backend.DeleteJob(ctx, failed.ID))
	status, err = backend.GetStatus(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 0, status.NumJobs())
}

func TestEmptyQueue(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	for range 3 {
		job, err := backend.ReserveNextJob(ctx, "empty")
		require.NoError(t, err)
		assert.Nil(t, job)

		job, err = backend.ReserveNextFailedJob(ctx, "empty")
		require.NoError(t, err)
		assert.Nil(t, job)
	}
}

func TestQueueIsolation(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	job := newJob(t, "a", 1)
	require.NoError(t, backend.StoreJob(ctx, job))

	// when
	other, err := backend.ReserveNextJob(ctx, "b")
	require.NoError(t, err)
	same, err := backend.ReserveNextJob(ctx, "a")
	require.NoError(t, err)

	// then
	assert.Nil(t, other)
	require.NotNil(t, same)
	assert.Equal(t, job.ID, same.ID)
}

func TestReserveJob(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	job1 := newJob(t, "q", 1)
	job2 := newJob(t, "q", 2)
	require.NoError(t, backend.StoreJob(ctx, job1))
	require.NoError(t, backend.StoreJob(ctx, job2))

	// when
	reserved, err := backend.ReserveJob(ctx, job2.ID)
	require.NoError(t, err)

	// then
	require.NotNil(t, reserved)
	assert.Equal(t, job2.ID, reserved.ID)
	assert.JSONEq(t, `2`, string(reserved.Payload))

	// already reserved
	again, err := backend.ReserveJob(ctx, job2.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	// unknown
	unknown, err := backend.ReserveJob(ctx, uu.IDv4())
	require.NoError(t, err)
	assert.Nil(t, unknown)

	// failed jobs can be reserved by ID
	require.NoError(t, backend.MarkJobFailed(ctx, job2.ID))
	retried, err := backend.ReserveJob(ctx, job2.ID)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, job2.ID, retried.ID)
}

func TestMutualExclusion(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	job := newJob(t, "q", "{}")
	require.NoError(t, backend.StoreJob(ctx, job))

	// when
	var (
		wg       sync.WaitGroup
		mtx      sync.Mutex
		reserved []*simplequeue.Job
		errors   []error
	)
	for range NumConcurrentReservations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := backend.ReserveJob(ctx, job.ID)
			mtx.Lock()
			defer mtx.Unlock()
			if err != nil {
				errors = append(errors, err)
			}
			if j != nil {
				reserved = append(reserved, j)
			}
		}()
	}
	wg.Wait()

	// then
	assert.Empty(t, errors)
	require.Len(t, reserved, 1, "exactly one reservation must succeed")
	assert.Equal(t, job.ID, reserved[0].ID)
}

func TestDeleteNotReserved(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	job := newJob(t, "q", true)
	require.NoError(t, backend.StoreJob(ctx, job))

	// when
	err := backend.DeleteJob(ctx, job.ID)
	require.NoError(t, err)
	err = backend.DeleteJob(ctx, uu.IDv4())
	require.NoError(t, err)

	// then the available job was not deleted
	status, err := backend.GetStatus(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, status.NumAvailable)
}

func TestMarkFailedNotFound(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	job := newJob(t, "q", true)
	require.NoError(t, backend.StoreJob(ctx, job))

	// when
	err := backend.MarkJobFailed(ctx, uu.IDv4())
	require.NoError(t, err)
	err = backend.MarkJobFailed(ctx, job.ID)
	require.NoError(t, err)

	// then the available job did not change
	status, err := backend.GetStatus(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, status.NumAvailable)
	assert.Equal(t, 0, status.NumFailed)
}

func TestDuplicateID(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	job := newJob(t, "q", "{}")
	require.NoError(t, backend.StoreJob(ctx, job))

	// when
	err := backend.StoreJob(ctx, job)

	// then
	require.ErrorIs(t, err, simplequeue.ErrDuplicateID)

	// also while reserved
	reserved, err := backend.ReserveJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, reserved)
	err = backend.StoreJob(ctx, job)
	require.ErrorIs(t, err, simplequeue.ErrDuplicateID)
}

func TestStatus(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	for i := range 4 {
		require.NoError(t, backend.StoreJob(ctx, newJob(t, "q", i)))
	}
	require.NoError(t, backend.StoreJob(ctx, newJob(t, "other", 0)))
	reserved, err := backend.ReserveNextJob(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, reserved)
	failed, err := backend.ReserveNextJob(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, failed)
	require.NoError(t, backend.MarkJobFailed(ctx, failed.ID))

	// when
	status, err := backend.GetStatus(ctx, "q")

	// then
	require.NoError(t, err)
	assert.Equal(t, "q", status.Queue)
	assert.Equal(t, 2, status.NumAvailable)
	assert.Equal(t, 1, status.NumReserved)
	assert.Equal(t, 1, status.NumFailed)
	assert.Equal(t, 4, status.NumJobs())
}

func TestPurgeAll(t *testing.T, backend simplequeue.Backend) {
	closeBackend(t, backend)
	ctx := context.Background()

	// given
	require.NoError(t, backend.StoreJob(ctx, newJob(t, "a", 1)))
	require.NoError(t, backend.StoreJob(ctx, newJob(t, "b", 2)))
	reserved, err := backend.ReserveNextJob(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, reserved)

	// when
	err = backend.PurgeAll(ctx)
	require.NoError(t, err)

	// then
	for _, queue := range []string{"a", "b"} {
		status, err := backend.GetStatus(ctx, queue)
		require.NoError(t, err)
		assert.Equal(t, 0, status.NumJobs(), queue)
	}
}

func TestClosed(t *testing.T, backend simplequeue.Backend) {
	ctx := context.Background()

	// when
	err := backend.Close()
	require.NoError(t, err)

	// then
	err = backend.StoreJob(ctx, newJob(t, "q", 1))
	assert.ErrorIs(t, err, simplequeue.ErrClosed)
	_, err = backend.ReserveNextJob(ctx, "q")
	assert.ErrorIs(t, err, simplequeue.ErrClosed)
	_, err = backend.ReserveJob(ctx, uu.IDv4())
	assert.ErrorIs(t, err, simplequeue.ErrClosed)
	err = backend.MarkJobFailed(ctx, uu.IDv4())
	assert.ErrorIs(t, err, simplequeue.ErrClosed)
	err = backend.Close()
	assert.ErrorIs(t, err, simplequeue.ErrClosed)
}
