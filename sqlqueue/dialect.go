package sqlqueue

import (
	"strconv"
	"strings"
)

// Dialect holds the database specific SQL of the backend.
// Queries are written with "?" placeholders
// and rewritten for the dialect.
type Dialect struct {
	Name string

	schema      []string
	numberedArg bool
}

var (
	// Postgres uses $1, $2, ... placeholders and a native uuid column.
	Postgres = &Dialect{
		Name:        "postgres",
		numberedArg: true,
		schema: []string{
			/*sql*/ `
				create table if not exists jobs (
					uuid        uuid   primary key,
					queue       text   not null,
					payload     text   not null,
					created_at  bigint not null,
					reserved_at bigint,
					failed_at   bigint
				)
			`,
			/*sql*/ `create index if not exists jobs_queue_idx on jobs (queue)`,
		},
	}

	// MySQL needs version 8.0 or later for "for update skip locked".
	MySQL = &Dialect{
		Name: "mysql",
		schema: []string{
			/*sql*/ `
				create table if not exists jobs (
					uuid        char(36)     not null primary key,
					queue       varchar(255) not null,
					payload     longtext     not null,
					created_at  bigint       not null,
					reserved_at bigint       null,
					failed_at   bigint       null,
					index jobs_queue_idx (queue)
				)
			`,
		},
	}
)

// DialectByName returns the Dialect for a go-sqldb driver name
// or nil if the driver is not supported.
func DialectByName(driver string) *Dialect {
	switch driver {
	case "postgres", "pgx":
		return Postgres
	case "mysql":
		return MySQL
	}
	return nil
}

// Rebind rewrites the "?" placeholders of query for the dialect.
func (d *Dialect) Rebind(query string) string {
	if !d.numberedArg {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (d *Dialect) String() string {
	return d.Name
}
