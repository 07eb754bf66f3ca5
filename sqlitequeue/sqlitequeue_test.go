package sqlitequeue_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domonda/go-simplequeue"
	"github.com/domonda/go-simplequeue/queuetest"
	"github.com/domonda/go-simplequeue/sqlitequeue"
)

func newBackend(t *testing.T) simplequeue.Backend {
	t.Helper()
	ctx := context.Background()
	backend, err := sqlitequeue.New(ctx, filepath.Join(t.TempDir(), "jobs.sqlite3"))
	require.NoError(t, err)
	err = backend.CreateSchema(ctx)
	require.NoError(t, err)
	return backend
}

func TestBackend(t *testing.T) {
	queuetest.RunBackendTests(t, newBackend)
}

func TestNewRejectsMemoryDatabase(t *testing.T) {
	for _, file := range []string{"", ":memory:", "file::memory:?cache=shared", "file:jobs?mode=memory"} {
		t.Run(file, func(t *testing.T) {
			backend, err := sqlitequeue.New(context.Background(), file)
			assert.ErrorIs(t, err, sqlitequeue.ErrMemoryDatabase)
			assert.Nil(t, backend)
		})
	}
}

func TestCreateSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	t.Cleanup(func() { backend.Close() })

	// given
	job, err := simplequeue.NewJob("q", `{"x":1}`)
	require.NoError(t, err)
	require.NoError(t, backend.StoreJob(ctx, job))

	// when
	err = backend.CreateSchema(ctx)

	// then
	require.NoError(t, err)
	status, err := backend.GetStatus(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, status.NumAvailable)
}

func TestBackendsShareFile(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "shared.sqlite3")

	// given two processes using the same database file
	producer, err := sqlitequeue.New(ctx, file)
	require.NoError(t, err)
	t.Cleanup(func() { producer.Close() })
	require.NoError(t, producer.CreateSchema(ctx))

	consumer, err := sqlitequeue.New(ctx, file)
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	job, err := simplequeue.NewJob("q", `"hello"`)
	require.NoError(t, err)
	require.NoError(t, producer.StoreJob(ctx, job))

	// when
	reserved, err := consumer.ReserveNextJob(ctx, "q")
	require.NoError(t, err)
	again, err := producer.ReserveNextJob(ctx, "q")
	require.NoError(t, err)

	// then
	require.NotNil(t, reserved)
	assert.Equal(t, job.ID, reserved.ID)
	assert.Equal(t, `"hello"`, string(reserved.Payload))
	assert.Nil(t, again)
}
