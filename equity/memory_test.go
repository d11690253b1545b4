package equity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
)

func TestMemory_UncommittedWritesStayPrivate(t *testing.T) {
	ctx := context.Background()
	svc, mem := newService(t, "2024-03-15")
	g, events, err := svc.CreateGrant(ctx, linearGrant(1200, 12, "2024-01-01"))
	require.NoError(t, err)

	// WHEN: A unit of work vests a tranche, drops an event, then fails
	boom := errors.New("boom")
	err = mem.WithGrantTx(ctx, g.ID, func(tx equity.Tx) error {
		staged := g
		staged.SharesVested = 100
		require.NoError(t, tx.UpdateGrant(ctx, staged))
		require.NoError(t, tx.DeleteEvents(ctx, []string{events[11].ID}))

		// THEN: The unit sees its own writes
		inside, err := tx.GetGrant(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), inside.SharesVested)
		_, err = tx.GetEvent(ctx, events[11].ID)
		assert.ErrorIs(t, err, generic.ErrEventNotFound)

		// AND: Readers outside the unit do not
		outside, err := mem.GetGrant(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), outside.SharesVested)
		ledger, err := mem.ListEvents(ctx, g.ID)
		require.NoError(t, err)
		assert.Len(t, ledger, 12)
		return boom
	})
	require.ErrorIs(t, err, boom)

	// AND: Nothing was published
	stored, err := mem.GetGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.SharesVested)
	ledger, err := mem.ListEvents(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 12)
}

func TestMemory_WritesAreScopedToGrant(t *testing.T) {
	ctx := context.Background()
	svc, mem := newService(t, "2024-03-15")
	first := linearGrant(1200, 12, "2024-01-01")
	first.ID = "g-a"
	a, _, err := svc.CreateGrant(ctx, first)
	require.NoError(t, err)
	second := linearGrant(600, 6, "2024-01-01")
	second.ID = "g-b"
	b, _, err := svc.CreateGrant(ctx, second)
	require.NoError(t, err)

	err = mem.WithGrantTx(ctx, a.ID, func(tx equity.Tx) error {
		other := b
		other.SharesVested = 100
		return tx.UpdateGrant(ctx, other)
	})

	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "grant_id", ve.Field)
	stored, err := mem.GetGrant(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.SharesVested)
}
