/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Embedded persistence for single-node deployments and tests.
  Implements every interface the core needs; PostgreSQL (store/postgres)
  implements the same set for multi-writer deployments.

INTERFACES IMPLEMENTED:
  generic.TxRecordStore:  Effective-dated records, one unit of work per subject
  generic.AsOfStore:      Indexed point-in-time lookup
  equity.TxStore:         Grants and the vesting ledger, one unit of work per grant
  timeline.StatusWriter:  Denormalized current employment status

KEY TABLES:
  temporal_records:  Every effective-dated version (employment, salary, local data)
  employees:         Employee directory + denormalized current status
  equity_grants:     Grant balances and vesting parameters
  vesting_events:    The vesting ledger

INDEXES:
  - idx_records_subject_date: history and as-of queries (hot path)
  - idx_records_one_open:     at most one open version per (kind, subject)
  - idx_events_due:           the vesting job's due scan
  - idx_events_grant_date:    a grant's ledger in date order

CONCURRENCY:
  The pool holds a single connection and every unit of work starts with
  BEGIN IMMEDIATE (_txlock=immediate), so a unit of work holds the write
  lock from its first read to commit. Busy/locked errors surface as
  generic.ErrConcurrencyConflict for the caller's retry loop.

  Inside WithSubjectTx / WithGrantTx, fn must only use the store it is
  handed. Calling back into the parent Store would wait for the one
  connection the unit of work is holding.

DATES:
  Dates are stored as TEXT "YYYY-MM-DD" so lexical order is date order;
  NULL end_date is the open tail.

USAGE:
  store, err := sqlite.New("./data/people.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  temporal := generic.NewTemporalStore(store, generic.SystemClock{})

SEE ALSO:
  - generic/store.go: Record interfaces
  - equity/store.go:  Grant interfaces
  - generic/store/memory.go, equity/memory.go: In-memory implementations
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/people-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per-connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Effective-dated versions
	CREATE TABLE IF NOT EXISTS temporal_records (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		end_date TEXT,
		payload_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		CHECK (end_date IS NULL OR end_date > effective_date)
	);

	CREATE INDEX IF NOT EXISTS idx_records_subject_date
		ON temporal_records(kind, subject_id, effective_date);

	-- At most one open tail per subject
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_one_open
		ON temporal_records(kind, subject_id) WHERE end_date IS NULL;

	-- Employees (directory + denormalized status)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT,
		hire_date TEXT,
		current_status TEXT,
		status_as_of TEXT,
		created_at TEXT NOT NULL
	);

	-- Equity grants
	CREATE TABLE IF NOT EXISTS equity_grants (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		grant_date TEXT NOT NULL,
		shares_granted INTEGER NOT NULL CHECK (shares_granted > 0),
		shares_vested INTEGER NOT NULL DEFAULT 0 CHECK (shares_vested >= 0),
		shares_exercised INTEGER NOT NULL DEFAULT 0 CHECK (shares_exercised >= 0),
		shares_forfeited INTEGER NOT NULL DEFAULT 0 CHECK (shares_forfeited >= 0),
		strike_price TEXT NOT NULL DEFAULT '0',
		vesting_type TEXT NOT NULL,
		vesting_start_date TEXT NOT NULL,
		cliff_months INTEGER,
		total_vesting_months INTEGER NOT NULL,
		milestones_json TEXT,
		status TEXT NOT NULL,
		termination_date TEXT,
		exercise_deadline TEXT,
		created_at TEXT NOT NULL,
		CHECK (shares_vested + shares_forfeited <= shares_granted)
	);

	CREATE INDEX IF NOT EXISTS idx_grants_employee
		ON equity_grants(employee_id, grant_date);

	-- Vesting ledger
	CREATE TABLE IF NOT EXISTS vesting_events (
		id TEXT PRIMARY KEY,
		grant_id TEXT NOT NULL REFERENCES equity_grants(id),
		vesting_date TEXT NOT NULL,
		shares_vested INTEGER NOT NULL CHECK (shares_vested > 0),
		is_scheduled INTEGER NOT NULL DEFAULT 1,
		processed_at TEXT,
		is_milestone INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_events_grant_date
		ON vesting_events(grant_id, vesting_date);
	CREATE INDEX IF NOT EXISTS idx_events_due
		ON vesting_events(vesting_date) WHERE is_scheduled = 1;
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data (for demos and tests).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM vesting_events;
		DELETE FROM equity_grants;
		DELETE FROM temporal_records;
		DELETE FROM employees;
	`)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil || tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func parseDate(s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, nil
	}
	return generic.ParseDate(s)
}

func parseNullDate(ns sql.NullString) (*generic.TimePoint, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	tp, err := generic.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// mapRecordError turns driver errors on temporal_records into the engine's
// taxonomy. A unique violation means another writer opened a tail first.
func mapRecordError(err error, subject string) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
		return &generic.ConcurrencyConflictError{SubjectID: generic.SubjectID(subject), Cause: err}
	case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return &generic.ConcurrencyConflictError{SubjectID: generic.SubjectID(subject), Cause: err}
	case se.ExtendedCode == sqlite3.ErrConstraintCheck:
		return &generic.TemporalIntegrityError{SubjectID: generic.SubjectID(subject), Reason: se.Error()}
	}
	return err
}

// mapGrantError is mapRecordError for grants and vesting events.
func mapGrantError(err error, grantID string) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
		return &generic.ConcurrencyConflictError{SubjectID: generic.SubjectID(grantID), Cause: err}
	case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return &generic.ValidationError{Field: "id", Message: "already exists"}
	case se.ExtendedCode == sqlite3.ErrConstraintCheck:
		return &generic.ValidationError{Field: "shares", Message: "share balances violate grant constraints"}
	case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %s", generic.ErrGrantNotFound, grantID)
	}
	return err
}
