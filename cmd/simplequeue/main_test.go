package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domonda/go-simplequeue/simplequeuedb"
)

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var stdout bytes.Buffer
	err := run(context.Background(), args, &stdout)
	require.NoError(t, err, "simplequeue %s", strings.Join(args, " "))
	return stdout.String()
}

func TestCommands(t *testing.T) {
	// given an environment without configuration
	t.Chdir(t.TempDir())
	for _, key := range []string{simplequeuedb.EnvDriver, simplequeuedb.EnvDSN, simplequeuedb.EnvLockExpiry} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	dsn := filepath.Join(t.TempDir(), "queue.db")
	global := []string{"-driver", "sqlite", "-dsn", dsn}

	output := runCommand(t, append(global, "schema")...)
	assert.Equal(t, "schema created\n", output)

	// when pushing two jobs
	output = runCommand(t, append(global, "push", "-queue", "emails", `{"to":"a"}`, `{"to":"b"}`)...)

	// then their IDs are printed
	assert.Len(t, strings.Fields(output), 2)
	output = runCommand(t, append(global, "status", "-queue", "emails")...)
	assert.Contains(t, output, "available: 2\n")

	// when working off the queue
	runCommand(t, append(global, "work", "-queue", "emails", "-limit", "3", "-rest", "0s", "-log-results")...)

	// then
	output = runCommand(t, append(global, "status", "-queue", "emails")...)
	assert.Contains(t, output, "available: 0\n")
	assert.Contains(t, output, "failed:    0\n")

	output = runCommand(t, append(global, "retry", "-queue", "emails")...)
	assert.Equal(t, "no failed job\n", output)

	runCommand(t, append(global, "push", `1`)...)
	output = runCommand(t, append(global, "purge")...)
	assert.Equal(t, "all jobs deleted\n", output)
	output = runCommand(t, append(global, "status")...)
	assert.Contains(t, output, "queue:     default\navailable: 0\n")
}

func TestDefaultSQLiteFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{simplequeuedb.EnvDriver, simplequeuedb.EnvDSN, simplequeuedb.EnvLockExpiry} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	runCommand(t, "schema")

	assert.FileExists(t, filepath.Join(dir, simplequeuedb.DefaultSQLiteFile))
}

func TestInvalidArguments(t *testing.T) {
	t.Chdir(t.TempDir())
	dsn := filepath.Join(t.TempDir(), "queue.db")
	t.Setenv(simplequeuedb.EnvDriver, "sqlite")
	t.Setenv(simplequeuedb.EnvDSN, dsn)

	var stdout bytes.Buffer
	ctx := context.Background()

	assert.Error(t, run(ctx, nil, &stdout))
	assert.Error(t, run(ctx, []string{"unknown"}, &stdout))
	assert.ErrorIs(t, run(ctx, []string{"-driver", "mongo", "status"}, &stdout), simplequeuedb.ErrUnsupportedDriver)
	assert.Error(t, run(ctx, []string{"push"}, &stdout))
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	// given an environment selecting redis without DSN
	t.Chdir(t.TempDir())
	t.Setenv(simplequeuedb.EnvDriver, "redis")
	t.Setenv(simplequeuedb.EnvDSN, "")
	os.Unsetenv(simplequeuedb.EnvDSN)
	dsn := filepath.Join(t.TempDir(), "queue.db")

	// when the flags select sqlite with a DSN
	output := runCommand(t, "-driver", "sqlite", "-dsn", dsn, "schema")

	// then the flags win
	assert.Equal(t, "schema created\n", output)
	assert.FileExists(t, dsn)

	// when only the driver flag switches to redis
	t.Setenv(simplequeuedb.EnvDriver, "sqlite")
	err := run(context.Background(), []string{"-driver", "redis", "status"}, &bytes.Buffer{})

	// then redis does not inherit the SQLite file
	assert.ErrorContains(t, err, "missing DSN for driver redis")
	assert.NoFileExists(t, simplequeuedb.DefaultSQLiteFile)
}
