/*
Package generic provides the domain-agnostic effective-dating engine.

PURPOSE:
  This package knows how to keep time-partitioned versions of "something"
  about a subject: a job, a salary, a set of country-specific fields. It has
  no idea what the payload means. Domain packages (timeline, equity) give
  payloads their shape, validation, and side effects.

KEY CONCEPTS IN THIS FILE (record.go):
  - Record: one version of a subject's data, valid over [EffectiveDate, EndDate)
  - RecordKind: which timeline the record belongs to ("employment", "salary", ...)
  - SubjectID / RecordID: type-safe identifiers

PARTITION INVARIANT:
  For a fixed (Kind, SubjectID):
  - No two records' [EffectiveDate, EndDate) intervals intersect
  - EndDate, when set, is strictly after EffectiveDate
  - At most one record has EndDate == nil (the open tail)

  The invariant is maintained by TemporalStore (temporal.go); stores only
  persist what the planner tells them to.

SEE ALSO:
  - temporal.go: Insert / PointInTime / History / CancelFutureRecord
  - store.go: Persistence interfaces
  - interval.go: Half-open interval math
*/
package generic

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SubjectID string
type RecordID string

// RecordKind partitions the record space. Each timeline owns one kind, and the
// partition invariant holds per (kind, subject).
type RecordKind string

// =============================================================================
// RECORD - One effective-dated version
// =============================================================================

type Record struct {
	ID            RecordID
	Kind          RecordKind
	SubjectID     SubjectID
	EffectiveDate TimePoint
	EndDate       *TimePoint // nil = open-ended, currently the latest version
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// Interval returns the record's validity window.
func (r Record) Interval() Interval {
	return Interval{Start: r.EffectiveDate, End: r.EndDate}
}

// Contains returns true if the record is the active version on asOf.
func (r Record) Contains(asOf TimePoint) bool {
	return r.Interval().Contains(asOf)
}

// IsOpen returns true for the tail record.
func (r Record) IsOpen() bool { return r.EndDate == nil }

// DecodePayload unmarshals the payload into v.
func (r Record) DecodePayload(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload of record %s: %w", r.Kind, r.ID, err)
	}
	return nil
}

// SortRecords orders records by effective date ascending, in place.
func SortRecords(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		return a.EffectiveDate.Compare(b.EffectiveDate)
	})
}

// ValidatePartition checks the partition invariant over one subject's records.
func ValidatePartition(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	sorted := slices.Clone(records)
	SortRecords(sorted)

	open := 0
	for i, r := range sorted {
		if r.EndDate != nil && !r.EndDate.After(r.EffectiveDate) {
			return &TemporalIntegrityError{
				SubjectID: r.SubjectID,
				RecordID:  r.ID,
				Reason:    fmt.Sprintf("end date %s is not after effective date %s", r.EndDate, r.EffectiveDate),
			}
		}
		if r.IsOpen() {
			open++
		}
		if i > 0 && sorted[i-1].Interval().Overlaps(r.Interval()) {
			return &TemporalIntegrityError{
				SubjectID: r.SubjectID,
				RecordID:  r.ID,
				Reason:    fmt.Sprintf("interval %s overlaps %s", r.Interval(), sorted[i-1].Interval()),
			}
		}
	}
	if open > 1 {
		return &TemporalIntegrityError{
			SubjectID: sorted[0].SubjectID,
			Reason:    fmt.Sprintf("%d open-ended records, at most one allowed", open),
		}
	}
	return nil
}
