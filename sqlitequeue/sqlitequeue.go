// Package sqlitequeue implements simplequeue.Backend with a SQLite database file
// using the pure Go driver modernc.org/sqlite.
//
// Every reservation runs in an exclusive transaction
// on its own connection taken from the pool of the backend.
// A database that stays locked longer than the busy timeout
// is treated as contention and no job is reserved.
package sqlitequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"
	"github.com/domonda/golog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/domonda/go-simplequeue"
)

// ErrMemoryDatabase is returned by New for in-memory databases
// because reservations need multiple connections to the same database.
const ErrMemoryDatabase errs.Sentinel = "in-memory SQLite databases are not supported"

// DefaultBusyTimeout is how long a connection waits for a locked database.
const DefaultBusyTimeout = 5 * time.Second

var _ simplequeue.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithBusyTimeout sets how long a connection waits
// for the database lock before giving up.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(b *Backend) { b.busyTimeout = timeout }
}

// WithLogger sets the logger of the backend
// instead of the package logger.
func WithLogger(logger *golog.Logger) Option {
	return func(b *Backend) { b.log = logger }
}

// Backend is a simplequeue.Backend using a SQLite database file.
type Backend struct {
	db          *sql.DB
	file        string
	busyTimeout time.Duration
	log         *golog.Logger
	closed      atomic.Bool
}

// New opens or creates the SQLite database file.
// The schema is not created, call CreateSchema for that.
func New(ctx context.Context, file string, opts ...Option) (b *Backend, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, file)

	if isMemoryDatabase(file) {
		return nil, ErrMemoryDatabase
	}

	b = &Backend{
		file:        file,
		busyTimeout: DefaultBusyTimeout,
		log:         log,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.db, err = sql.Open("sqlite", dataSourceName(file, b.busyTimeout))
	if err != nil {
		return nil, err
	}
	err = b.db.PingContext(ctx)
	if err != nil {
		b.db.Close()
		return nil, err
	}
	return b, nil
}

func isMemoryDatabase(file string) bool {
	return file == "" ||
		file == ":memory:" ||
		strings.HasPrefix(file, "file::memory:") ||
		strings.Contains(file, "mode=memory")
}

// dataSourceName appends the connection pragmas to file.
// Pragmas are applied to every new connection of the pool.
func dataSourceName(file string, busyTimeout time.Duration) string {
	sep := "?"
	if strings.Contains(file, "?") {
		sep = "&"
	}
	return fmt.Sprintf(
		"%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		file,
		sep,
		busyTimeout.Milliseconds(),
	)
}

// File returns the database file name passed to New.
func (b *Backend) File() string {
	return b.file
}

func (b *Backend) CreateSchema(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	_, err = b.db.ExecContext(ctx,
		/*sql*/ `
			create table if not exists jobs (
				uuid        text    primary key,
				queue       text    not null,
				payload     text    not null,
				created_at  integer not null,
				reserved_at integer,
				failed_at   integer
			);
			create index if not exists jobs_queue_idx on jobs (queue);
		`,
	)
	return err
}

func (b *Backend) StoreJob(ctx context.Context, job *simplequeue.Job) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	return b.exclusiveTransaction(ctx, func(conn *sql.Conn) error {
		var count int
		err := conn.QueryRowContext(ctx,
			`select count(*) from jobs where uuid = ?`,
			job.ID.String(),
		).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return simplequeue.ErrDuplicateID
		}

		_, err = conn.ExecContext(ctx,
			/*sql*/ `
				insert into jobs
					(uuid, queue, payload, created_at, reserved_at, failed_at)
				values
					(?, ?, ?, ?, ?, ?)
			`,
			job.ID.String(),     // 1
			job.Queue,           // 2
			string(job.Payload), // 3
			job.CreatedAt,       // 4
			job.ReservedAt,      // 5
			job.FailedAt,        // 6
		)
		return err
	})
}

func (b *Backend) ReserveNextJob(ctx context.Context, queue string) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	return b.reserve(ctx,
		`queue = ? and reserved_at is null and failed_at is null`,
		queue,
	)
}

func (b *Backend) ReserveJob(ctx context.Context, jobID uu.ID) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	return b.reserve(ctx,
		`uuid = ? and reserved_at is null`,
		jobID.String(),
	)
}

func (b *Backend) ReserveNextFailedJob(ctx context.Context, queue string) (job *simplequeue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	return b.reserve(ctx,
		`queue = ? and failed_at is not null and reserved_at is null`,
		queue,
	)
}

// reserve selects one job matching the where condition
// and stamps it as reserved within an exclusive transaction.
func (b *Backend) reserve(ctx context.Context, where string, args ...any) (job *simplequeue.Job, err error) {
	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}

	err = b.exclusiveTransaction(ctx, func(conn *sql.Conn) error {
		job, err = scanJob(conn.QueryRowContext(ctx,
			`select uuid, queue, payload, created_at, reserved_at, failed_at from jobs where `+where+` limit 1`,
			args...,
		))
		if err != nil || job == nil {
			return err
		}

		job = job.Reserved(simplequeue.UnixNow())
		_, err = conn.ExecContext(ctx,
			`update jobs set reserved_at = ?, failed_at = null where uuid = ?`,
			*job.ReservedAt,
			job.ID.String(),
		)
		return err
	})
	if isBusy(err) {
		b.log.Debug("Database busy, no job reserved").
			Str("file", b.file).
			Err(err).
			Log()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanJob(row *sql.Row) (*simplequeue.Job, error) {
	var (
		job     simplequeue.Job
		id      string
		payload string
	)
	err := row.Scan(
		&id,
		&job.Queue,
		&payload,
		&job.CreatedAt,
		&job.ReservedAt,
		&job.FailedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	job.ID, err = uu.IDFromString(id)
	if err != nil {
		return nil, err
	}
	job.Payload = []byte(payload)
	return &job, nil
}

func (b *Backend) DeleteJob(ctx context.Context, jobID uu.ID) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	_, err = b.db.ExecContext(ctx,
		`delete from jobs where reserved_at is not null and uuid = ?`,
		jobID.String(),
	)
	return err
}

func (b *Backend) MarkJobFailed(ctx context.Context, jobID uu.ID) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	result, err := b.db.ExecContext(ctx,
		`update jobs set failed_at = ?, reserved_at = null where uuid = ? and reserved_at is not null`,
		simplequeue.UnixNow(),
		jobID.String(),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		b.log.Warn("Reserved job to mark as failed not found").
			UUID("jobID", jobID).
			Log()
	}
	return nil
}

func (b *Backend) GetStatus(ctx context.Context, queue string) (status *simplequeue.Status, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}

	status = &simplequeue.Status{Queue: queue}
	err = b.db.QueryRowContext(ctx,
		/*sql*/ `
			select
				(select count(*) from jobs where queue = ? and reserved_at is null and failed_at is null)     as num_available,
				(select count(*) from jobs where queue = ? and reserved_at is not null)                       as num_reserved,
				(select count(*) from jobs where queue = ? and failed_at is not null and reserved_at is null) as num_failed
		`,
		queue,
		queue,
		queue,
	).Scan(
		&status.NumAvailable,
		&status.NumReserved,
		&status.NumFailed,
	)
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (b *Backend) PurgeAll(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	_, err = b.db.ExecContext(ctx, `delete from jobs`)
	return err
}

func (b *Backend) Close() (err error) {
	defer errs.WrapWithFuncParams(&err)

	if b.closed.Swap(true) {
		return simplequeue.ErrClosed
	}
	return b.db.Close()
}

// exclusiveTransaction runs txFunc on a dedicated connection
// between "begin exclusive" and "commit".
// The transaction is rolled back if txFunc returns an error.
func (b *Backend) exclusiveTransaction(ctx context.Context, txFunc func(conn *sql.Conn) error) (err error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `begin exclusive`)
	if err != nil {
		return err
	}

	err = txFunc(conn)
	if err != nil {
		// Roll back even if ctx was canceled
		_, e := conn.ExecContext(context.WithoutCancel(ctx), `rollback`)
		if e != nil {
			b.log.Error("Rollback failed").
				Err(e).
				Log()
		}
		return err
	}

	_, err = conn.ExecContext(ctx, `commit`)
	if err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `rollback`)
		return err
	}
	return nil
}

// isBusy returns true if err was caused by
// another connection holding the database lock.
func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
