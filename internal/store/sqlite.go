package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	apperrors "tradeflow/internal/errors"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Options configures how the store connects.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore implements DataStore on SQLite or PostgreSQL.
type SQLStore struct {
	*Repo
	db *sql.DB
}

// Repo implements Tx against a database handle or a transaction.
type Repo struct {
	q      querier
	driver string
}

// Open connects to the configured database. It does not run migrations.
func Open(opts Options) (*SQLStore, error) {
	driver := opts.Driver
	if driver == "" || driver == "sqlite" {
		driver = DriverSQLite
	}

	dsn := opts.DSN
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			// Immediate transactions serialize writers instead of failing
			// with SQLITE_BUSY on lock upgrade.
			dsn += "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(time.Hour)

	return newSQLStore(db, driver), nil
}

// OpenSQLite opens a SQLite database file and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	s, err := Open(Options{Driver: DriverSQLite, DSN: path})
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{
		Repo: &Repo{q: db, driver: driver},
		db:   db,
	}
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewStoreError("ping", err)
	}
	return nil
}

// WithTx runs fn inside a transaction.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError("begin", err)
	}
	defer tx.Rollback()

	if err := fn(&Repo{q: tx, driver: s.driver}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError("commit", err)
	}
	return nil
}

// LockWorkspace takes a transaction-scoped advisory lock on PostgreSQL.
// SQLite transactions already begin with a write lock (_txlock=immediate).
func (r *Repo) LockWorkspace(ctx context.Context, workspaceID string) error {
	if r.driver != DriverPostgres {
		return nil
	}
	_, err := r.exec(ctx, "lock workspace", `SELECT pg_advisory_xact_lock(hashtext(?))`, workspaceID)
	return err
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *Repo) exec(ctx context.Context, op, query string, args ...interface{}) (sql.Result, error) {
	res, err := r.q.ExecContext(ctx, rebind(r.driver, query), args...)
	if err != nil {
		return nil, apperrors.NewStoreError(op, err)
	}
	return res, nil
}

func (r *Repo) query(ctx context.Context, op, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := r.q.QueryContext(ctx, rebind(r.driver, query), args...)
	if err != nil {
		return nil, apperrors.NewStoreError(op, err)
	}
	return rows, nil
}

func (r *Repo) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.q.QueryRowContext(ctx, rebind(r.driver, query), args...)
}

// ============================================================================
// Column helpers
// ============================================================================

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// jsonText encodes v for a TEXT column; nil values stay NULL.
func jsonText(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(s sql.NullString, dest interface{}) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dest); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func limitOr(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
