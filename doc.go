/*
Package simplequeue provides a minimal job queue client with
interchangeable SQL and key-value backends.

# Overview

Producers push JSON payloads onto named queues.
Workers reserve a job, pass it to a handler, and then either delete it
when the handler succeeded or mark it as failed when the handler returned
an error or panicked. Failed jobs can be reserved again with HandleFailed
any number of times.

At most one worker can hold a job at any time. How this is guaranteed
depends on the backend:

  - sqlqueue: a transaction selecting one row with "for update skip locked"
    and stamping reserved_at (PostgreSQL, MySQL via github.com/domonda/go-sqldb)
  - sqlitequeue: an exclusive SQLite transaction per reservation
  - redisqueue: a Redlock mutex around renaming the job key from the
    available or failed namespace to the reserved namespace
  - memqueue: an in-process mutex, for tests and embedded use

Selection order within a queue is undefined for all backends.

# Basic Usage

	backend, err := sqlitequeue.New(ctx, "jobs.sqlite3")
	if err != nil {
		return err
	}
	client := simplequeue.New(backend)
	defer client.Close()

	err = client.CreateSchema(ctx)
	if err != nil {
		return err
	}

	jobID, err := client.Push(ctx, map[string]any{"name": "A"})
	if err != nil {
		return err
	}

	result, err := client.Handle(ctx, simplequeue.HandlerFunc(
		func(ctx context.Context, job *simplequeue.Job) (any, error) {
			return doWork(job.Payload)
		},
	))

Handle returns nil without calling the handler if no job was available.

# Job Lifecycle

	available --reserve--> reserved --handler ok--> deleted
	                       reserved --handler error--> failed
	failed    --reserve--> reserved --> ...

Package simplequeuedb opens a Client for a backend
selected by the SIMPLEQUEUE_DRIVER and SIMPLEQUEUE_DSN environment variables.

# Listeners

A JobStoppedListener registered with AddJobStoppedListener is called
after every handled job was deleted or marked as failed.

# Workers

See package worker for a polling loop that stops
after Client.Shutdown was called.

# Error Handling

All errors are wrapped using github.com/domonda/go-errs for stack traces.
Reservation contention and lock failures are not errors,
they are reported as no job being available.
Backend transport errors are returned as errors.
*/
package simplequeue
