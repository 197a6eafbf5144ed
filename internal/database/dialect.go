package database

import (
	"strconv"
	"time"
)

// Dialect identifies the SQL flavour of a connection.
type Dialect string

const (
	// DialectSQLite - embedded store, the default for single-node deployments
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres - shared store for multiple consumer processes
	DialectPostgres Dialect = "postgres"
)

// DriverName returns the database/sql driver name registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// SchemaFile returns the embedded schema file for the dialect.
func (d Dialect) SchemaFile() string {
	if d == DialectPostgres {
		return "fund_data_postgres.sql"
	}
	return "fund_data_sqlite.sql"
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// DateArg converts a calendar date into a bind argument. SQLite stores dates
// as ISO-8601 text so that they sort and compare lexically.
func (d Dialect) DateArg(t time.Time) any {
	if d == DialectPostgres {
		return t
	}
	return t.Format("2006-01-02")
}

// TimeArg converts a timestamp into a bind argument.
func (d Dialect) TimeArg(t time.Time) any {
	if d == DialectPostgres {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// SupportsWAL reports whether WAL maintenance applies.
func (d Dialect) SupportsWAL() bool {
	return d == DialectSQLite
}
