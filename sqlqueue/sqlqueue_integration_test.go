//go:build integration

package sqlqueue_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/domonda/go-sqldb/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/domonda/go-simplequeue"
	"github.com/domonda/go-simplequeue/queuetest"
	"github.com/domonda/go-simplequeue/sqlqueue"
)

// startPostgres starts a Postgres container
// and returns its connection URL.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("simplequeue_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connURL
}

func TestPostgresBackend(t *testing.T) {
	ctx := context.Background()
	connURL := startPostgres(t)

	config, err := sqlqueue.ConfigFromURL(connURL)
	require.NoError(t, err)

	queuetest.RunBackendTests(t, func(t *testing.T) simplequeue.Backend {
		backend, err := sqlqueue.Open(ctx, config)
		require.NoError(t, err)
		require.NoError(t, backend.CreateSchema(ctx))
		// Subtests share the database
		require.NoError(t, backend.PurgeAll(ctx))
		return backend
	})
}

func TestPostgresSkipLocked(t *testing.T) {
	ctx := context.Background()
	config, err := sqlqueue.ConfigFromURL(startPostgres(t))
	require.NoError(t, err)
	backend, err := sqlqueue.Open(ctx, config)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	require.NoError(t, backend.CreateSchema(ctx))

	// given two available jobs
	job1, err := simplequeue.NewJob("q", 1)
	require.NoError(t, err)
	job2, err := simplequeue.NewJob("q", 2)
	require.NoError(t, err)
	require.NoError(t, backend.StoreJob(ctx, job1))
	require.NoError(t, backend.StoreJob(ctx, job2))

	// when job1 is row-locked by an open transaction
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- db.Transaction(db.ContextWithConn(ctx, backend.Conn()), func(ctx context.Context) error {
			var id string
			err := db.Conn(ctx).QueryRow(`select uuid from jobs where uuid = $1 for update`, job1.ID.String()).Scan(&id)
			if err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	reserved, err := backend.ReserveNextJob(ctx, "q")
	close(release)
	require.NoError(t, <-done)

	// then the locked row is skipped
	require.NoError(t, err)
	require.NotNil(t, reserved)
	assert.Equal(t, job2.ID, reserved.ID)
}

// startMySQL starts a MySQL 8 container
// and returns its connection URL.
func startMySQL(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx,
		"mysql:8.0.36",
		tcmysql.WithDatabase("simplequeue_test"),
		tcmysql.WithUsername("test"),
		tcmysql.WithPassword("test"),
	)
	require.NoError(t, err, "start mysql container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate mysql container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("mysql://test:test@%s:%s/simplequeue_test", host, port.Port())
}

func TestMySQLBackend(t *testing.T) {
	ctx := context.Background()

	config, err := sqlqueue.ConfigFromURL(startMySQL(t))
	require.NoError(t, err)

	queuetest.RunBackendTests(t, func(t *testing.T) simplequeue.Backend {
		backend, err := sqlqueue.Open(ctx, config)
		require.NoError(t, err)
		assert.Same(t, sqlqueue.MySQL, backend.Dialect())
		require.NoError(t, backend.CreateSchema(ctx))
		// Subtests share the database
		require.NoError(t, backend.PurgeAll(ctx))
		return backend
	})
}
