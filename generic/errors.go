/*
errors.go - Centralized error types for the people engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (timeline, equity) return these directly or wrap them
  with additional context.

ERROR CATEGORIES:
  1. Validation errors   - Bad input, rejected before any mutation
  2. Concurrency errors  - Serialization failure, retry the whole operation
  3. Temporal integrity  - History is immutable, request can never succeed
  4. Vesting processing  - Permanent per-event rejections from the processor
  5. Lookup errors       - Missing records, grants, events

USAGE:
  if errors.Is(err, generic.ErrConcurrencyConflict) {
      // re-run the unit of work
  }

  var integrity *generic.TemporalIntegrityError
  if errors.As(err, &integrity) {
      log.Printf("cannot cancel %s: %s", integrity.RecordID, integrity.Reason)
  }

SEE ALSO:
  - temporal.go: Insert / CancelFutureRecord produce most of these
  - equity/processor.go: FutureEventError, AlreadyProcessedError, InsufficientSharesError
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad input. Nothing was persisted.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict is returned when a serializable unit of work lost
	// a race with another writer on the same subject. Safe to retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrTemporalIntegrity is returned when a mutation would rewrite history
	// or leave a hole in a subject's timeline.
	ErrTemporalIntegrity = errors.New("temporal integrity violation")

	// ErrRecordNotFound is returned when a temporal record doesn't exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrGrantNotFound is returned when an equity grant doesn't exist.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrEventNotFound is returned when a vesting event doesn't exist.
	ErrEventNotFound = errors.New("vesting event not found")

	// ErrFutureEvent is returned when a vesting event is processed before its date.
	ErrFutureEvent = errors.New("vesting event is in the future")

	// ErrAlreadyProcessed is returned when a vesting event was already processed.
	ErrAlreadyProcessed = errors.New("vesting event already processed")

	// ErrInsufficientShares is returned when an event would vest more than the
	// grant's unvested balance.
	ErrInsufficientShares = errors.New("insufficient unvested shares")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TemporalIntegrityError explains why a timeline mutation was refused.
type TemporalIntegrityError struct {
	SubjectID SubjectID
	RecordID  RecordID
	Reason    string
}

func (e *TemporalIntegrityError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("temporal integrity: subject %s: %s", e.SubjectID, e.Reason)
	}
	return fmt.Sprintf("temporal integrity: subject %s record %s: %s", e.SubjectID, e.RecordID, e.Reason)
}

func (e *TemporalIntegrityError) Unwrap() error { return ErrTemporalIntegrity }

// ConcurrencyConflictError wraps the driver error that signalled the conflict.
type ConcurrencyConflictError struct {
	SubjectID SubjectID
	Attempts  int
	Cause     error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on subject %s after %d attempt(s): %v", e.SubjectID, e.Attempts, e.Cause)
}

func (e *ConcurrencyConflictError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConcurrencyConflict}
	}
	return []error{ErrConcurrencyConflict, e.Cause}
}

// FutureEventError is returned when processing a vesting event early.
type FutureEventError struct {
	EventID     string
	VestingDate TimePoint
	Today       TimePoint
}

func (e *FutureEventError) Error() string {
	return fmt.Sprintf("vesting event %s is due %s, today is %s", e.EventID, e.VestingDate, e.Today)
}

func (e *FutureEventError) Unwrap() error { return ErrFutureEvent }

// AlreadyProcessedError is returned on a second Process of the same event.
type AlreadyProcessedError struct {
	EventID     string
	ProcessedAt string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("vesting event %s already processed at %s", e.EventID, e.ProcessedAt)
}

func (e *AlreadyProcessedError) Unwrap() error { return ErrAlreadyProcessed }

// InsufficientSharesError provides details about an unvested balance shortage.
type InsufficientSharesError struct {
	GrantID   string
	EventID   string
	Requested int64
	Unvested  int64
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("grant %s: event %s vests %d shares, only %d unvested",
		e.GrantID, e.EventID, e.Requested, e.Unvested)
}

func (e *InsufficientSharesError) Unwrap() error { return ErrInsufficientShares }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrTemporalIntegrity) ||
		IsPermanent(err)
}

// IsPermanent returns true for processor rejections that will fail the same
// way on every retry. Schedulers record these instead of retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrFutureEvent) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrInsufficientShares)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrGrantNotFound) ||
		errors.Is(err, ErrEventNotFound)
}
