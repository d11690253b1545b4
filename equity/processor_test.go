package equity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
)

func newService(t *testing.T, today string) (*equity.Service, *equity.Memory) {
	t.Helper()
	store := equity.NewMemory()
	svc := equity.NewService(store, generic.FixedClockOn(date(today)), zerolog.Nop())
	return svc, store
}

// =============================================================================
// PURE TRANSITION
// =============================================================================

func TestApplyVesting_Success(t *testing.T) {
	g := linearGrant(1200, 12, "2024-01-01")
	e := equity.VestingEvent{ID: "ev-1", GrantID: g.ID, VestingDate: date("2024-02-01"), SharesVested: 100, IsScheduled: true}
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	e2, g2, err := equity.ApplyVesting(e, g, now)
	require.NoError(t, err)

	assert.Equal(t, int64(100), g2.SharesVested)
	assert.False(t, e2.IsScheduled)
	require.NotNil(t, e2.ProcessedAt)
	assert.Equal(t, now, *e2.ProcessedAt)

	// AND: Inputs are untouched
	assert.Equal(t, int64(0), g.SharesVested)
	assert.True(t, e.IsScheduled)
}

func TestApplyVesting_Rejections(t *testing.T) {
	g := linearGrant(1200, 12, "2024-01-01")
	processedAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		event  equity.VestingEvent
		grant  func(equity.Grant) equity.Grant
		target error
	}{
		{
			name:   "future event",
			event:  equity.VestingEvent{ID: "ev", VestingDate: date("2024-03-02"), SharesVested: 100, IsScheduled: true},
			target: generic.ErrFutureEvent,
		},
		{
			name:   "already processed",
			event:  equity.VestingEvent{ID: "ev", VestingDate: date("2024-02-01"), SharesVested: 100, ProcessedAt: &processedAt},
			target: generic.ErrAlreadyProcessed,
		},
		{
			name:  "insufficient shares",
			event: equity.VestingEvent{ID: "ev", VestingDate: date("2024-02-01"), SharesVested: 300, IsScheduled: true},
			grant: func(g equity.Grant) equity.Grant {
				g.SharesVested = 1000
				return g
			},
			target: generic.ErrInsufficientShares,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := g
			if tt.grant != nil {
				in = tt.grant(in)
			}
			e2, g2, err := equity.ApplyVesting(tt.event, in, now)
			require.ErrorIs(t, err, tt.target)
			assert.True(t, generic.IsPermanent(err))
			assert.Equal(t, in, g2)
			assert.Equal(t, tt.event, e2)
		})
	}
}

func TestApplyVesting_DueTodayIsAllowed(t *testing.T) {
	g := linearGrant(1200, 12, "2024-01-01")
	e := equity.VestingEvent{ID: "ev", VestingDate: date("2024-02-01"), SharesVested: 100, IsScheduled: true}

	_, _, err := equity.ApplyVesting(e, g, time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC))
	assert.NoError(t, err)
}

// =============================================================================
// PROCESSOR SHELL
// =============================================================================

func TestProcess_TwiceReportsAlreadyProcessed(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, "2024-03-15")

	// GIVEN: A grant whose first two events are due
	g, events, err := svc.CreateGrant(ctx, linearGrant(1200, 12, "2024-01-01"))
	require.NoError(t, err)
	first := events[0]

	// WHEN: Processing the first event
	ev, updated, err := svc.ProcessEvent(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, ev.IsScheduled)
	assert.Equal(t, int64(100), updated.SharesVested)

	// AND: Processing it again
	_, _, err = svc.ProcessEvent(ctx, first.ID)

	// THEN: Second call is rejected and the balance does not move
	require.ErrorIs(t, err, generic.ErrAlreadyProcessed)
	stored, err := store.GetGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.SharesVested)
}

func TestProcess_FutureEventRejected(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, "2024-03-15")

	_, events, err := svc.CreateGrant(ctx, linearGrant(1200, 12, "2024-01-01"))
	require.NoError(t, err)
	future := events[5] // 2024-07-01

	_, _, err = svc.ProcessEvent(ctx, future.ID)

	var fe *generic.FutureEventError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, date("2024-07-01"), fe.VestingDate)

	stored, err := store.GetEvent(ctx, future.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsScheduled)
}

func TestProcess_UnknownEvent(t *testing.T) {
	svc, _ := newService(t, "2024-03-15")
	_, _, err := svc.ProcessEvent(context.Background(), "nope")
	assert.ErrorIs(t, err, generic.ErrEventNotFound)
}

// failingStore fails the event write after the grant write succeeded.
type failingStore struct {
	*equity.Memory
}

type failingTx struct {
	equity.Tx
}

func (f failingStore) WithGrantTx(ctx context.Context, grantID string, fn func(equity.Tx) error) error {
	return f.Memory.WithGrantTx(ctx, grantID, func(tx equity.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

func (failingTx) UpdateEvent(context.Context, equity.VestingEvent) error {
	return errors.New("disk full")
}

func TestProcess_PartialFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := equity.NewMemory()
	clock := generic.FixedClockOn(date("2024-03-15"))

	setup := equity.NewService(mem, clock, zerolog.Nop())
	g, events, err := setup.CreateGrant(ctx, linearGrant(1200, 12, "2024-01-01"))
	require.NoError(t, err)

	// WHEN: The event write fails after the grant was updated
	proc := equity.NewProcessor(failingStore{Memory: mem}, clock, zerolog.Nop())
	_, _, err = proc.Process(ctx, events[0].ID)
	require.Error(t, err)

	// THEN: Neither mutation is visible
	stored, err := mem.GetGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.SharesVested)
	ev, err := mem.GetEvent(ctx, events[0].ID)
	require.NoError(t, err)
	assert.True(t, ev.IsScheduled)
}

func TestProcess_ConcurrentSameEventCountsOnce(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, "2024-03-15")
	g, events, err := svc.CreateGrant(ctx, linearGrant(1200, 12, "2024-01-01"))
	require.NoError(t, err)

	const workers = 16
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, _, err := svc.ProcessEvent(ctx, events[0].ID)
			errs <- err
		}()
	}

	var ok, already int
	for i := 0; i < workers; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, generic.ErrAlreadyProcessed):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, already)

	stored, err := store.GetGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.SharesVested)
}
