/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Persistence for deployments with more than one writer. Implements the same
  interfaces as store/sqlite, so services are wired identically.

INTERFACES IMPLEMENTED:
  generic.TxRecordStore, generic.AsOfStore
  equity.TxStore
  timeline.Directory (includes timeline.StatusWriter)

CONCURRENCY:
  Every unit of work runs at SERIALIZABLE isolation. Serialization failures
  (40001), deadlocks (40P01) and exclusion violations (23P01) surface as
  generic.ErrConcurrencyConflict, which the temporal store and equity
  processor retry. The temporal_records_no_overlap exclusion constraint
  enforces the partition invariant in the database itself.

MIGRATIONS:
  Embedded SQL under migrations/, applied with golang-migrate (iofs source,
  pgx/v5 driver). Run Migrate before New in cmd/server.

USAGE:
  if err := postgres.Migrate(ctx, url); err != nil { ... }
  store, err := postgres.New(ctx, url)
  defer store.Close()
*/
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/warp/people-engine/generic"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// New connects a pool and pings it.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Reset deletes all data (for demos and tests).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE vesting_events, equity_grants, temporal_records, employees`)
	return err
}

// Migrate applies the embedded migrations. ErrNoChange is not an error.
func Migrate(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database for migrations: %w", err)
	}

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	upErr := m.Up()
	sourceErr, dbErr := m.Close()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", upErr)
	}
	return errors.Join(sourceErr, dbErr)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// inTx runs fn in a SERIALIZABLE transaction. mapErr translates begin and
// commit failures.
func (s *Store) inTx(ctx context.Context, mapErr func(error) error, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, serializable)
	if err != nil {
		return mapErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// SQLSTATE codes the stores translate.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeExclusionViolation   = "23P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeForeignKeyViolation  = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isTransient(code string) bool {
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// mapRecordError turns driver errors on temporal_records into the engine's
// taxonomy. An exclusion or unique violation means a concurrent writer
// changed the subject's partition first.
func mapRecordError(err error, subject string) error {
	if err == nil {
		return nil
	}
	switch code := pgCode(err); {
	case isTransient(code), code == codeExclusionViolation, code == codeUniqueViolation:
		return &generic.ConcurrencyConflictError{SubjectID: generic.SubjectID(subject), Cause: err}
	case code == codeCheckViolation:
		return &generic.TemporalIntegrityError{SubjectID: generic.SubjectID(subject), Reason: err.Error()}
	}
	return err
}

// mapGrantError is mapRecordError for grants and vesting events.
func mapGrantError(err error, grantID string) error {
	if err == nil {
		return nil
	}
	switch code := pgCode(err); {
	case isTransient(code):
		return &generic.ConcurrencyConflictError{SubjectID: generic.SubjectID(grantID), Cause: err}
	case code == codeUniqueViolation:
		return &generic.ValidationError{Field: "id", Message: "already exists"}
	case code == codeCheckViolation:
		return &generic.ValidationError{Field: "shares", Message: "share balances violate grant constraints"}
	case code == codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", generic.ErrGrantNotFound, grantID)
	}
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func dateArg(tp *generic.TimePoint) any {
	if tp == nil || tp.IsZero() {
		return nil
	}
	return tp.Time
}

func fromNullDate(t *time.Time) *generic.TimePoint {
	if t == nil {
		return nil
	}
	tp := generic.DateOf(*t)
	return &tp
}
