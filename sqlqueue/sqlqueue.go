// Package sqlqueue implements simplequeue.Backend for PostgreSQL and MySQL
// using github.com/domonda/go-sqldb.
//
// Jobs are reserved in a transaction selecting one matching row
// with "for update skip locked", so a row locked by a concurrent
// reservation is skipped instead of waited for.
package sqlqueue

import (
	"context"
	"sync/atomic"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-sqldb"
	"github.com/domonda/go-sqldb/db"
	"github.com/domonda/go-sqldb/pqconn"
	"github.com/domonda/go-types/uu"

	"github.com/domonda/go-simplequeue"
)

const ErrUnsupportedDialect errs.Sentinel = "unsupported SQL dialect"

var _ simplequeue.Backend = (*Backend)(nil)

// Backend is a simplequeue.Backend using a go-sqldb connection.
type Backend struct {
	conn     sqldb.Connection
	dialect  *Dialect
	ownsConn bool
	closed   atomic.Bool
}

// New returns a Backend using conn with the SQL dialect.
// The caller owns conn, Close will not close it.
func New(conn sqldb.Connection, dialect *Dialect) *Backend {
	return &Backend{
		conn:    conn,
		dialect: dialect,
	}
}

// Open connects to the database described by config
// and returns a Backend owning the connection.
// The "postgres" and "mysql" drivers are supported.
func Open(ctx context.Context, config *sqldb.Config) (b *Backend, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, config)

	var conn sqldb.Connection
	dialect := DialectByName(config.Driver)
	switch dialect {
	case Postgres:
		conn, err = pqconn.New(ctx, config)
	case MySQL:
		conn, err = openMySQL(ctx, config)
	default:
		return nil, errs.Errorf("%w: %s", ErrUnsupportedDialect, config.Driver)
	}
	if err != nil {
		return nil, err
	}
	b = New(conn, dialect)
	b.ownsConn = true
	return b, nil
}

// Conn returns the connection used by the backend.
func (b *Backend) Conn() sqldb.Connection {
	return b.conn
}

// Dialect returns the SQL dialect of the backend.
func (b *Backend) Dialect() *Dialect {
	return b.dialect
}

// withConn returns ctx with the connection of the backend
// so that the go-sqldb/db functions use it.
func (b *Backend) withConn(ctx context.Context) context.Context {
	return db.ContextWithConn(ctx, b.conn)
}

func (b *Backend) CreateSchema(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	conn := db.Conn(b.withConn(ctx))
	for _, query := range b.dialect.schema {
		err = conn.Exec(query)
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) StoreJob(ctx context.Context, job *simplequeue.Job) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	return db.Transaction(b.withConn(ctx), func(ctx context.Context) error {
		tx := db.Conn(ctx)

		var count int
		err := tx.QueryRow(
			b.dialect.Rebind(`select count(*) from jobs where uuid = ?`),
			job.ID.String(),
		).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return simplequeue.ErrDuplicateID
		}

		return tx.Exec(
			b.dialect.Rebind(
				/*sql*/ `
					insert into jobs
						(uuid, queue, payload, created_at, reserved_at, failed_at)
					values
						(?, ?, ?, ?, ?, ?)
				`,
			),
			job.ID.String(),     // 1
			job.Queue,           // 2
			string(job.Payload), // 3
			job.CreatedAt,       // 4
			job.ReservedAt,      // 5
			job.FailedAt,        // 6
		)
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

func (b *Backend) reserve(ctx context.Context, where string, args ...any) (job *simplequeue.Job, err error) {
	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}

	err = db.Transaction(b.withConn(ctx), func(ctx context.Context) error {
		tx := db.Conn(ctx)

		var (
			id      string
			payload string
			found   simplequeue.Job
		)
		err := tx.QueryRow(
			b.dialect.Rebind(
				`select uuid, queue, payload, created_at, reserved_at, failed_at
					from jobs
					where `+where+`
					limit 1
					for update skip locked`,
			),
			args...,
		).Scan(
			&id,
			&found.Queue,
			&payload,
			&found.CreatedAt,
			&found.ReservedAt,
			&found.FailedAt,
		)
		if err != nil {
			// No row or all matching rows locked by other transactions
			return sqldb.ReplaceErrNoRows(err, nil)
		}
		found.ID, err = uu.IDFromString(id)
		if err != nil {
			return err
		}
		found.Payload = []byte(payload)

		reserved := found.Reserved(simplequeue.UnixNow())
		err = tx.Exec(
			b.dialect.Rebind(`update jobs set reserved_at = ?, failed_at = null where uuid = ?`),
			*reserved.ReservedAt,
			id,
		)
		if err != nil {
			return err
		}
		job = reserved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (b *Backend) DeleteJob(ctx context.Context, jobID uu.ID) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	return db.Conn(b.withConn(ctx)).Exec(
		b.dialect.Rebind(`delete from jobs where reserved_at is not null and uuid = ?`),
		jobID.String(),
	)
}

func (b *Backend) MarkJobFailed(ctx context.Context, jobID uu.ID) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, jobID)

	if b.closed.Load() {
		return simplequeue.ErrClosed
	}

	return db.Transaction(b.withConn(ctx), func(ctx context.Context) error {
		tx := db.Conn(ctx)

		var id string
		err := tx.QueryRow(
			b.dialect.Rebind(
				`select uuid from jobs
					where uuid = ? and reserved_at is not null
					for update`,
			),
			jobID.String(),
		).Scan(&id)
		if err != nil {
			if sqldb.ReplaceErrNoRows(err, nil) == nil {
				log.Warn("Reserved job to mark as failed not found").
					UUID("jobID", jobID).
					Log()
				return nil
			}
			return err
		}

		return tx.Exec(
			b.dialect.Rebind(`update jobs set failed_at = ?, reserved_at = null where uuid = ? and reserved_at is not null`),
			simplequeue.UnixNow(),
			id,
		)
	})
}

func (b *Backend) GetStatus(ctx context.Context, queue string) (status *simplequeue.Status, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue)

	if b.closed.Load() {
		return nil, simplequeue.ErrClosed
	}

	status = &simplequeue.Status{Queue: queue}
	err = db.Conn(b.withConn(ctx)).QueryRow(
		b.dialect.Rebind(
			/*sql*/ `
				select
					(select count(*) from jobs where queue = ? and reserved_at is null and failed_at is null)     as num_available,
					(select count(*) from jobs where queue = ? and reserved_at is not null)                       as num_reserved,
					(select count(*) from jobs where queue = ? and failed_at is not null and reserved_at is null) as num_failed
			`,
		),
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

	return db.Conn(b.withConn(ctx)).Exec(`delete from jobs`)
}

func (b *Backend) Close() (err error) {
	defer errs.WrapWithFuncParams(&err)

	if b.closed.Swap(true) {
		return simplequeue.ErrClosed
	}
	if b.ownsConn {
		return b.conn.Close()
	}
	return nil
}
