/*
temporal.go - Effective-dating primitive

PURPOSE:
  TemporalStore maintains a non-overlapping, time-partitioned sequence of
  versions per subject and answers "what was true on date X".

OPERATIONS:
  Insert:             close the predecessor at D, insert the new open tail
  PointInTime:        the record whose [EffectiveDate, EndDate) contains asOf
  History:            every record, past / current / future, by EffectiveDate
  CancelFutureRecord: remove a not-yet-effective record, re-open its predecessor

EXAMPLE FLOW:
  1. Hire on 2024-01-01:       [2024-01-01, open)  Engineer
  2. Promote on 2025-03-01:    [2024-01-01, 2025-03-01) Engineer
                               [2025-03-01, open)       Senior Engineer
  3. Cancel the promotion (only while 2025-03-01 is still in the future):
                               [2024-01-01, open)  Engineer

FUNCTIONAL CORE:
  planInsert and planCancel are pure functions over a history slice. The
  TemporalStore shell re-reads the history inside the subject's unit of
  work, runs the planner, and applies the plan, so the read and the writes
  are a single serializable step.

RETRIES:
  A unit of work that fails with ErrConcurrencyConflict is re-run from the
  top (fresh read, fresh plan) up to MaxAttempts times.

SEE ALSO:
  - store.go: TxRecordStore
  - timeline/: Employment, Salary, Local-Data specializations
*/
package generic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const DefaultMaxAttempts = 3

// =============================================================================
// TEMPORAL STORE
// =============================================================================

type TemporalStore struct {
	Store       TxRecordStore
	Clock       Clock
	MaxAttempts int
}

func NewTemporalStore(store TxRecordStore, clock Clock) *TemporalStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TemporalStore{Store: store, Clock: clock, MaxAttempts: DefaultMaxAttempts}
}

// Insert adds a new version effective on effectiveDate and closes whatever
// version was open across that date. Returns the new record's ID.
func (s *TemporalStore) Insert(ctx context.Context, kind RecordKind, subjectID SubjectID, effectiveDate TimePoint, payload []byte) (RecordID, error) {
	if err := validateKey(kind, subjectID); err != nil {
		return "", err
	}
	if effectiveDate.IsZero() {
		return "", &ValidationError{Field: "effective_date", Message: "is required"}
	}

	rec := Record{
		ID:            RecordID(uuid.NewString()),
		Kind:          kind,
		SubjectID:     subjectID,
		EffectiveDate: effectiveDate,
		Payload:       payload,
		CreatedAt:     s.Clock.Now(),
	}

	err := s.withRetry(ctx, kind, subjectID, func(tx RecordStore) error {
		history, err := tx.LoadHistory(ctx, kind, subjectID)
		if err != nil {
			return err
		}
		plan, err := planInsert(history, rec)
		if err != nil {
			return err
		}
		for _, c := range plan.endDates {
			if err := tx.SetEndDate(ctx, kind, c.id, c.end); err != nil {
				return err
			}
		}
		return tx.InsertRecord(ctx, plan.record)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// PointInTime returns the record active on asOf. ok is false when the
// subject had no version on that date.
func (s *TemporalStore) PointInTime(ctx context.Context, kind RecordKind, subjectID SubjectID, asOf TimePoint) (rec Record, ok bool, err error) {
	if err := validateKey(kind, subjectID); err != nil {
		return Record{}, false, err
	}
	if as, isAsOf := s.Store.(AsOfStore); isAsOf {
		found, err := as.LoadAsOf(ctx, kind, subjectID, asOf)
		if err != nil || found == nil {
			return Record{}, false, err
		}
		return *found, true, nil
	}

	history, err := s.Store.LoadHistory(ctx, kind, subjectID)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range history {
		if r.Contains(asOf) {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// History returns every record for the subject ordered by EffectiveDate.
func (s *TemporalStore) History(ctx context.Context, kind RecordKind, subjectID SubjectID) ([]Record, error) {
	if err := validateKey(kind, subjectID); err != nil {
		return nil, err
	}
	history, err := s.Store.LoadHistory(ctx, kind, subjectID)
	if err != nil {
		return nil, err
	}
	SortRecords(history)
	return history, nil
}

// CancelFutureRecord removes a record that has not taken effect yet and
// re-opens its predecessor. Current and past records are immutable.
func (s *TemporalStore) CancelFutureRecord(ctx context.Context, kind RecordKind, subjectID SubjectID, id RecordID) error {
	if err := validateKey(kind, subjectID); err != nil {
		return err
	}
	today := Today(s.Clock)

	return s.withRetry(ctx, kind, subjectID, func(tx RecordStore) error {
		history, err := tx.LoadHistory(ctx, kind, subjectID)
		if err != nil {
			return err
		}
		plan, err := planCancel(history, id, today)
		if err != nil {
			return err
		}
		if err := tx.DeleteRecord(ctx, kind, id); err != nil {
			return err
		}
		for _, c := range plan.endDates {
			if err := tx.SetEndDate(ctx, kind, c.id, c.end); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *TemporalStore) withRetry(ctx context.Context, kind RecordKind, subjectID SubjectID, fn func(RecordStore) error) error {
	return RetryOnConflict(ctx, s.MaxAttempts, subjectID, func() error {
		return s.Store.WithSubjectTx(ctx, kind, subjectID, fn)
	})
}

func validateKey(kind RecordKind, subjectID SubjectID) error {
	if kind == "" {
		return &ValidationError{Field: "kind", Message: "is required"}
	}
	if subjectID == "" {
		return &ValidationError{Field: "subject_id", Message: "is required"}
	}
	return nil
}

// =============================================================================
// PLANNER - Pure functions over a subject's history
// =============================================================================

type endDateChange struct {
	id  RecordID
	end *TimePoint
}

type insertPlan struct {
	endDates []endDateChange
	record   Record
}

type cancelPlan struct {
	endDates []endDateChange
}

// planInsert decides which records to close for a new version. The new
// record always becomes the open tail, so nothing may start on or after it.
func planInsert(history []Record, rec Record) (insertPlan, error) {
	plan := insertPlan{record: rec}
	plan.record.EndDate = nil

	var latest *Record
	for i := range history {
		h := history[i]
		if !h.EffectiveDate.Before(rec.EffectiveDate) {
			return insertPlan{}, &ValidationError{
				Field:   "effective_date",
				Message: fmt.Sprintf("record %s is already effective on %s; cancel it before inserting on %s", h.ID, h.EffectiveDate, rec.EffectiveDate),
			}
		}
		if latest == nil || h.EffectiveDate.After(latest.EffectiveDate) {
			latest = &history[i]
		}
		if h.EndDate == nil || h.EndDate.After(rec.EffectiveDate) {
			end := rec.EffectiveDate
			plan.endDates = append(plan.endDates, endDateChange{id: h.ID, end: &end})
		}
	}

	if latest != nil && latest.EndDate != nil && latest.EndDate.Before(rec.EffectiveDate) {
		return insertPlan{}, &TemporalIntegrityError{
			SubjectID: rec.SubjectID,
			RecordID:  latest.ID,
			Reason:    fmt.Sprintf("insert on %s would leave a gap after %s", rec.EffectiveDate, latest.EndDate),
		}
	}

	if err := ValidatePartition(applyPlan(history, plan.endDates, &plan.record, "")); err != nil {
		return insertPlan{}, err
	}
	return plan, nil
}

// planCancel removes a future-dated record and stitches its neighbours: the
// predecessor ends where the successor starts, or re-opens if none remains.
func planCancel(history []Record, id RecordID, today TimePoint) (cancelPlan, error) {
	sorted := append([]Record(nil), history...)
	SortRecords(sorted)

	idx := -1
	for i, r := range sorted {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return cancelPlan{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	target := sorted[idx]
	if !target.EffectiveDate.After(today) {
		return cancelPlan{}, &TemporalIntegrityError{
			SubjectID: target.SubjectID,
			RecordID:  target.ID,
			Reason:    fmt.Sprintf("record took effect on %s; only future-dated records can be cancelled", target.EffectiveDate),
		}
	}

	var plan cancelPlan
	if idx > 0 {
		var end *TimePoint
		if idx+1 < len(sorted) {
			next := sorted[idx+1].EffectiveDate
			end = &next
		}
		plan.endDates = append(plan.endDates, endDateChange{id: sorted[idx-1].ID, end: end})
	}

	if err := ValidatePartition(applyPlan(history, plan.endDates, nil, id)); err != nil {
		return cancelPlan{}, err
	}
	return plan, nil
}

// applyPlan returns the history as it would look after the plan.
func applyPlan(history []Record, changes []endDateChange, added *Record, removed RecordID) []Record {
	out := make([]Record, 0, len(history)+1)
	for _, r := range history {
		if r.ID == removed {
			continue
		}
		for _, c := range changes {
			if c.id == r.ID {
				r.EndDate = c.end
			}
		}
		out = append(out, r)
	}
	if added != nil {
		out = append(out, *added)
	}
	return out
}
