package generic_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const kindJob generic.RecordKind = "job"

var today = generic.NewTimePoint(2025, time.June, 15)

func newTestStore() (*generic.TemporalStore, *store.Memory) {
	mem := store.NewMemory()
	return generic.NewTemporalStore(mem, generic.FixedClockOn(today)), mem
}

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

func payload(title string) []byte { return []byte(fmt.Sprintf(`{"title":%q}`, title)) }

func mustInsert(t *testing.T, ts *generic.TemporalStore, subject, day, title string) generic.RecordID {
	t.Helper()
	id, err := ts.Insert(context.Background(), kindJob, generic.SubjectID(subject), date(day), payload(title))
	require.NoError(t, err)
	return id
}

// =============================================================================
// INSERT
// =============================================================================

func TestInsert_FirstRecordIsOpen(t *testing.T) {
	ts, _ := newTestStore()
	ctx := context.Background()

	id := mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")

	history, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ID)
	assert.Nil(t, history[0].EndDate)
}

func TestInsert_ClosesPredecessorAtNewEffectiveDate(t *testing.T) {
	// GIVEN: An open record from 2024-01-01
	// WHEN: A new version is inserted effective 2025-03-01
	// THEN: The predecessor ends on 2025-03-01 and the new record is open

	ts, _ := newTestStore()
	ctx := context.Background()

	first := mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	second := mustInsert(t, ts, "emp-1", "2025-03-01", "Senior Engineer")

	history, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, first, history[0].ID)
	require.NotNil(t, history[0].EndDate)
	assert.True(t, history[0].EndDate.Equal(date("2025-03-01")))

	assert.Equal(t, second, history[1].ID)
	assert.Nil(t, history[1].EndDate)
	assert.NoError(t, generic.ValidatePartition(history))
}

func TestInsert_FutureDatedRecordsStayOpenUntilSuperseded(t *testing.T) {
	ts, _ := newTestStore()
	ctx := context.Background()

	mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	mustInsert(t, ts, "emp-1", "2025-09-01", "Senior Engineer")
	mustInsert(t, ts, "emp-1", "2026-01-01", "Staff Engineer")

	history, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[1].EndDate.Equal(date("2026-01-01")))
	assert.Nil(t, history[2].EndDate)
	assert.NoError(t, generic.ValidatePartition(history))
}

func TestInsert_OnOrBeforeExistingRecordRejected(t *testing.T) {
	ts, _ := newTestStore()
	ctx := context.Background()

	mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	mustInsert(t, ts, "emp-1", "2025-09-01", "Senior Engineer")

	for _, day := range []string{"2025-09-01", "2025-01-01", "2023-12-31"} {
		_, err := ts.Insert(ctx, kindJob, "emp-1", date(day), payload("Manager"))
		assert.ErrorIs(t, err, generic.ErrValidation, "insert on %s", day)
	}

	history, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	assert.Len(t, history, 2, "rejected inserts must not persist anything")
}

func TestInsert_MissingEffectiveDateRejected(t *testing.T) {
	ts, _ := newTestStore()

	_, err := ts.Insert(context.Background(), kindJob, "emp-1", generic.TimePoint{}, payload("Engineer"))

	var vErr *generic.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "effective_date", vErr.Field)
}

func TestInsert_GapAfterClosedTailRejected(t *testing.T) {
	// GIVEN: A subject whose only record was closed without a successor
	// WHEN: Inserting after the close date
	// THEN: TemporalIntegrityError (the timeline would have a hole)

	ts, mem := newTestStore()
	ctx := context.Background()

	id := mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	end := date("2024-06-01")
	require.NoError(t, mem.SetEndDate(ctx, kindJob, id, &end))

	_, err := ts.Insert(ctx, kindJob, "emp-1", date("2024-09-01"), payload("Engineer"))
	assert.ErrorIs(t, err, generic.ErrTemporalIntegrity)
}

func TestInsert_SubjectsAndKindsAreIndependent(t *testing.T) {
	ts, _ := newTestStore()
	ctx := context.Background()

	mustInsert(t, ts, "emp-1", "2025-01-01", "Engineer")
	mustInsert(t, ts, "emp-2", "2024-01-01", "Designer")
	_, err := ts.Insert(ctx, "salary", "emp-1", date("2024-01-01"), []byte(`{}`))
	require.NoError(t, err)

	emp1, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	assert.Len(t, emp1, 1)
	assert.Nil(t, emp1[0].EndDate)
}

// =============================================================================
// POINT IN TIME
// =============================================================================

func TestPointInTime_ReturnsContainingRecord(t *testing.T) {
	ts, _ := newTestStore()
	ctx := context.Background()

	first := mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	second := mustInsert(t, ts, "emp-1", "2025-03-01", "Senior Engineer")

	cases := []struct {
		asOf   string
		wantID generic.RecordID
		wantOK bool
	}{
		{"2023-12-31", "", false},
		{"2024-01-01", first, true},
		{"2025-02-28", first, true},
		{"2025-03-01", second, true}, // end date is exclusive
		{"2030-01-01", second, true},
	}
	for _, tc := range cases {
		rec, ok, err := ts.PointInTime(ctx, kindJob, "emp-1", date(tc.asOf))
		require.NoError(t, err)
		assert.Equal(t, tc.wantOK, ok, tc.asOf)
		assert.Equal(t, tc.wantID, rec.ID, tc.asOf)
	}
}

func TestPointInTime_IsPure(t *testing.T) {
	ts, _ := newTestStore()
	ctx := context.Background()

	mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	mustInsert(t, ts, "emp-1", "2025-03-01", "Senior Engineer")

	a, okA, errA := ts.PointInTime(ctx, kindJob, "emp-1", date("2024-07-01"))
	b, okB, errB := ts.PointInTime(ctx, kindJob, "emp-1", date("2024-07-01"))

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, okA, okB)
	assert.Equal(t, a, b)
}

// =============================================================================
// CANCEL FUTURE RECORD
// =============================================================================

func TestCancelFutureRecord_ReopensPredecessor(t *testing.T) {
	ts, _ := newTestStore()
	ctx := context.Background()

	current := mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	future := mustInsert(t, ts, "emp-1", "2025-09-01", "Senior Engineer")

	require.NoError(t, ts.CancelFutureRecord(ctx, kindJob, "emp-1", future))

	history, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, current, history[0].ID)
	assert.Nil(t, history[0].EndDate)
}

func TestCancelFutureRecord_MiddleRecordStitchesToNextFuture(t *testing.T) {
	// GIVEN: current -> future A (2025-09-01) -> future B (2026-01-01)
	// WHEN: A is cancelled
	// THEN: current ends on 2026-01-01, where B starts

	ts, _ := newTestStore()
	ctx := context.Background()

	current := mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	futureA := mustInsert(t, ts, "emp-1", "2025-09-01", "Senior Engineer")
	mustInsert(t, ts, "emp-1", "2026-01-01", "Staff Engineer")

	require.NoError(t, ts.CancelFutureRecord(ctx, kindJob, "emp-1", futureA))

	history, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, current, history[0].ID)
	require.NotNil(t, history[0].EndDate)
	assert.True(t, history[0].EndDate.Equal(date("2026-01-01")))
	assert.NoError(t, generic.ValidatePartition(history))
}

func TestCancelFutureRecord_CurrentOrPastRejected(t *testing.T) {
	ts, _ := newTestStore()
	ctx := context.Background()

	past := mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")
	current := mustInsert(t, ts, "emp-1", "2025-06-15", "Senior Engineer") // effective today

	for _, id := range []generic.RecordID{past, current} {
		err := ts.CancelFutureRecord(ctx, kindJob, "emp-1", id)
		assert.ErrorIs(t, err, generic.ErrTemporalIntegrity)
	}

	history, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCancelFutureRecord_UnknownRecord(t *testing.T) {
	ts, _ := newTestStore()
	mustInsert(t, ts, "emp-1", "2024-01-01", "Engineer")

	err := ts.CancelFutureRecord(context.Background(), kindJob, "emp-1", "nope")
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestInsert_ConcurrentWritersKeepPartition(t *testing.T) {
	// GIVEN: Many writers racing on the same subject with distinct dates
	// THEN: Whatever interleaving happens, the history is a valid partition

	ts, _ := newTestStore()
	ctx := context.Background()
	mustInsert(t, ts, "emp-1", "2020-01-01", "Engineer")

	var wg sync.WaitGroup
	for i := 1; i <= 24; i++ {
		wg.Add(1)
		go func(month int) {
			defer wg.Done()
			day := generic.NewTimePoint(2021, time.Month(1), 1).AddMonthsClamped(month)
			_, err := ts.Insert(ctx, kindJob, "emp-1", day, payload("v"))
			if err != nil {
				assert.ErrorIs(t, err, generic.ErrValidation)
			}
		}(i)
	}
	wg.Wait()

	history, err := ts.History(ctx, kindJob, "emp-1")
	require.NoError(t, err)
	assert.NoError(t, generic.ValidatePartition(history))

	open := 0
	for _, r := range history {
		if r.IsOpen() {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

// conflictingStore fails the first N units of work with a serialization error.
type conflictingStore struct {
	*store.Memory
	failures int
	calls    int
}

func (c *conflictingStore) WithSubjectTx(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID, fn func(generic.RecordStore) error) error {
	c.calls++
	if c.calls <= c.failures {
		return &generic.ConcurrencyConflictError{SubjectID: subjectID, Cause: errors.New("could not serialize access")}
	}
	return c.Memory.WithSubjectTx(ctx, kind, subjectID, fn)
}

func TestInsert_RetriesConcurrencyConflicts(t *testing.T) {
	cs := &conflictingStore{Memory: store.NewMemory(), failures: 2}
	ts := generic.NewTemporalStore(cs, generic.FixedClockOn(today))

	_, err := ts.Insert(context.Background(), kindJob, "emp-1", date("2024-01-01"), payload("Engineer"))

	require.NoError(t, err)
	assert.Equal(t, 3, cs.calls)
}

func TestInsert_GivesUpAfterMaxAttempts(t *testing.T) {
	cs := &conflictingStore{Memory: store.NewMemory(), failures: 10}
	ts := generic.NewTemporalStore(cs, generic.FixedClockOn(today))

	_, err := ts.Insert(context.Background(), kindJob, "emp-1", date("2024-01-01"), payload("Engineer"))

	assert.True(t, generic.IsRetryable(err))
	var conflict *generic.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, generic.DefaultMaxAttempts, conflict.Attempts)
	assert.Equal(t, generic.DefaultMaxAttempts, cs.calls)
}

// =============================================================================
// DATES
// =============================================================================

func TestAddMonthsClamped(t *testing.T) {
	assert.Equal(t, "2025-02-28", date("2025-01-31").AddMonthsClamped(1).String())
	assert.Equal(t, "2024-02-29", date("2024-01-31").AddMonthsClamped(1).String())
	assert.Equal(t, "2025-03-31", date("2025-01-31").AddMonthsClamped(2).String())
	assert.Equal(t, "2026-01-15", date("2025-01-15").AddMonthsClamped(12).String())
}

func TestParseDate_RejectsInvalidCalendarDates(t *testing.T) {
	_, err := generic.ParseDate("2025-02-30")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
