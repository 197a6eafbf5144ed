// Package database provides database connection and initialization functionality.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver ("pgx")
	_ "modernc.org/sqlite"             // Pure Go SQLite driver
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// DB wraps the database connection with production-grade configuration
type DB struct {
	conn    *sql.DB
	dialect Dialect
	dsn     string
	name    string // Database name for logging
}

// Config holds database configuration
type Config struct {
	Driver Dialect
	// DSN is a file path (or file: URI) for sqlite, a connection URL for postgres.
	DSN  string
	Name string
}

// New creates a new database connection with production-grade configuration
func New(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DialectSQLite
	}
	if cfg.Name == "" {
		cfg.Name = "fundsync"
	}

	var connStr string
	switch cfg.Driver {
	case DialectSQLite:
		path, err := prepareSQLitePath(cfg.DSN)
		if err != nil {
			return nil, err
		}
		cfg.DSN = path
		connStr = buildSQLiteConnectionString(path)
	case DialectPostgres:
		connStr = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	conn, err := sql.Open(cfg.Driver.DriverName(), connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	configureConnectionPool(conn, cfg.Driver)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		dialect: cfg.Driver,
		dsn:     cfg.DSN,
		name:    cfg.Name,
	}, nil
}

// prepareSQLitePath resolves a file path and makes sure its directory exists.
// file: URIs are used as-is.
func prepareSQLitePath(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}

	absPath, err := filepath.Abs(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path to absolute: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return absPath, nil
}

// buildSQLiteConnectionString creates the SQLite connection string with PRAGMAs.
// Transactions start IMMEDIATE so concurrent writers queue on busy_timeout
// instead of failing on lock upgrade.
func buildSQLiteConnectionString(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	connStr := path + sep + "_pragma=journal_mode(WAL)"
	connStr += "&_pragma=synchronous(NORMAL)"
	connStr += "&_pragma=busy_timeout(10000)"
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=temp_store(MEMORY)"
	connStr += "&_txlock=immediate"

	return connStr
}

// configureConnectionPool sets up the connection pool
func configureConnectionPool(conn *sql.DB, dialect Dialect) {
	switch dialect {
	case DialectSQLite:
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(4)
		conn.SetConnMaxLifetime(24 * time.Hour)
		conn.SetConnMaxIdleTime(30 * time.Minute)
	default:
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(30 * time.Minute)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Dialect returns the SQL dialect of the connection
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Name returns the database name for logging
func (db *DB) Name() string {
	return db.name
}

// Migrate applies the embedded schema for the connection's dialect.
// Every statement is idempotent, so Migrate can run on every start.
func (db *DB) Migrate(ctx context.Context) error {
	schemaFile := "schemas/" + db.dialect.SchemaFile()
	content, err := schemaFS.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", schemaFile, err)
	}

	return WithTransaction(ctx, db.conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute schema %s for %s: %w", schemaFile, db.name, err)
		}
		return nil
	})
}

// WithTransaction executes a function within a database transaction.
// If the function returns an error or panics, the transaction is rolled back;
// otherwise it is committed.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	err = fn(tx)
	return err
}

// HealthCheck pings the database and, for SQLite, runs an integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	if db.dialect != DialectSQLite {
		return nil
	}

	var integrityResult string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&integrityResult); err != nil {
		return fmt.Errorf("integrity check query failed for %s: %w", db.name, err)
	}
	if integrityResult != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, integrityResult)
	}

	return nil
}

// QuickCheck performs a quick health check (just ping, no integrity check)
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint forces a WAL checkpoint to prevent bloat. It is a no-op for
// non-SQLite dialects.
func (db *DB) WALCheckpoint(ctx context.Context, mode string) error {
	if !db.dialect.SupportsWAL() {
		return nil
	}

	// Modes: PASSIVE, FULL, RESTART, TRUNCATE
	switch mode {
	case "PASSIVE", "FULL", "RESTART", "TRUNCATE":
	case "":
		mode = "TRUNCATE"
	default:
		return fmt.Errorf("invalid WAL checkpoint mode: %s", mode)
	}

	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}

	return nil
}
