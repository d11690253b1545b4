/*
store.go - Persistence interface for temporal records

PURPOSE:
  Defines the interface between the effective-dating engine and the
  database. Stores are dumb: they load a subject's rows, insert a row,
  move an end date, delete a row. Every decision about WHICH rows to touch
  is made by the planner in temporal.go.

KEY INTERFACES:
  RecordStore:   Row-level operations for one (kind, subject)
  TxRecordStore: Serializable unit of work scoped to one (kind, subject)
  AsOfStore:     Optional indexed point-in-time lookup

ATOMICITY:
  Insert is read-then-write: read the history, close the predecessor,
  insert the new row. Two writers racing on the same subject could both
  close the same predecessor and both insert. WithSubjectTx exists so the
  whole sequence runs as one serializable unit; implementations either lock
  the subject (memory, SQLite) or run SERIALIZABLE and report
  ErrConcurrencyConflict (PostgreSQL) for the caller to retry.

  Different subjects never share a unit of work and may proceed in parallel.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go:  Embedded SQLite
  - store/postgres:          PostgreSQL with SERIALIZABLE transactions

SEE ALSO:
  - temporal.go: Uses these interfaces
*/
package generic

import "context"

// =============================================================================
// RECORD STORE - Row-level persistence
// =============================================================================

type RecordStore interface {
	// LoadHistory returns all records for kind+subject, ordered by EffectiveDate.
	LoadHistory(ctx context.Context, kind RecordKind, subjectID SubjectID) ([]Record, error)

	// InsertRecord persists a new record.
	InsertRecord(ctx context.Context, rec Record) error

	// SetEndDate moves a record's end date (nil re-opens it).
	SetEndDate(ctx context.Context, kind RecordKind, id RecordID, end *TimePoint) error

	// DeleteRecord removes a record. Only used for cancelling future-dated tails.
	DeleteRecord(ctx context.Context, kind RecordKind, id RecordID) error
}

// =============================================================================
// TRANSACTIONAL STORE - One serializable unit per subject
// =============================================================================

// TxRecordStore wraps RecordStore with a per-subject unit of work.
type TxRecordStore interface {
	RecordStore

	// WithSubjectTx executes fn within a serializable transaction covering
	// kind+subject. If fn returns error, every write is rolled back.
	// A serialization failure is reported as ErrConcurrencyConflict.
	WithSubjectTx(ctx context.Context, kind RecordKind, subjectID SubjectID, fn func(RecordStore) error) error
}

// AsOfStore is implemented by stores that can answer point-in-time queries
// from an index instead of loading the full history.
type AsOfStore interface {
	// LoadAsOf returns the record active on asOf, or nil if none.
	LoadAsOf(ctx context.Context, kind RecordKind, subjectID SubjectID, asOf TimePoint) (*Record, error)
}
