package equity_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

func intPtr(n int) *int { return &n }

func linearGrant(shares int64, months int, start string) equity.Grant {
	return equity.Grant{
		ID:                 "g-linear",
		EmployeeID:         "emp-1",
		SharesGranted:      shares,
		VestingType:        equity.VestingLinear,
		VestingStartDate:   date(start),
		TotalVestingMonths: months,
		Status:             equity.GrantActive,
	}
}

func cliffGrant(shares int64, cliff, months int, start string) equity.Grant {
	return equity.Grant{
		ID:                 "g-cliff",
		EmployeeID:         "emp-1",
		SharesGranted:      shares,
		VestingType:        equity.VestingCliffThenLinear,
		VestingStartDate:   date(start),
		CliffMonths:        intPtr(cliff),
		TotalVestingMonths: months,
		Status:             equity.GrantActive,
	}
}

func milestone(desc, pct string, state equity.MilestoneState) equity.Milestone {
	return equity.Milestone{Description: desc, SharesPercent: decimal.RequireFromString(pct), State: state}
}

// =============================================================================
// LINEAR
// =============================================================================

func TestGenerate_Linear_EvenSplit(t *testing.T) {
	// GIVEN: 1,500,000 shares over 48 months
	g := linearGrant(1_500_000, 48, "2022-01-01")

	// WHEN: Generating the schedule
	items, err := equity.Generate(g, date("2021-12-01"))
	require.NoError(t, err)

	// THEN: 48 items of 31250 summing to the grant
	require.Len(t, items, 48)
	for i, it := range items {
		assert.Equal(t, int64(31250), it.Shares, "item %d", i+1)
	}
	assert.Equal(t, date("2022-02-01"), items[0].Date)
	assert.Equal(t, date("2026-01-01"), items[47].Date)
	assert.Equal(t, int64(1_500_000), items[47].CumulativeShares)
	assert.Equal(t, int64(1_500_000), equity.TotalShares(items))
}

func TestGenerate_Linear_LastMonthAbsorbsRemainder(t *testing.T) {
	// GIVEN: 1000 shares over 7 months (1000 / 7 = 142 r 6)
	g := linearGrant(1000, 7, "2024-01-15")

	items, err := equity.Generate(g, date("2024-01-15"))
	require.NoError(t, err)

	// THEN: 6 x 142 then 148
	require.Len(t, items, 7)
	for _, it := range items[:6] {
		assert.Equal(t, int64(142), it.Shares)
	}
	assert.Equal(t, int64(1000-6*142), items[6].Shares)
	assert.Equal(t, int64(1000), items[6].CumulativeShares)
}

func TestGenerate_Linear_ClampsToMonthEnd(t *testing.T) {
	// GIVEN: Vesting starts on January 31
	g := linearGrant(400, 4, "2024-01-31")

	items, err := equity.Generate(g, date("2024-01-31"))
	require.NoError(t, err)

	// THEN: Each date is offset from the start, clamped, never drifting
	got := make([]string, len(items))
	for i, it := range items {
		got[i] = it.Date.String()
	}
	assert.Equal(t, []string{"2024-02-29", "2024-03-31", "2024-04-30", "2024-05-31"}, got)
}

// =============================================================================
// CLIFF THEN LINEAR
// =============================================================================

func TestGenerate_CliffThenLinear_StandardFourYear(t *testing.T) {
	// GIVEN: 48000 shares, 12 month cliff, 48 months, start 2022-01-01
	g := cliffGrant(48000, 12, 48, "2022-01-01")

	items, err := equity.Generate(g, date("2022-01-01"))
	require.NoError(t, err)

	// THEN: Cliff item at 2023-01-01 for 12000, flagged as milestone
	require.Len(t, items, 37)
	assert.Equal(t, date("2023-01-01"), items[0].Date)
	assert.Equal(t, int64(12000), items[0].Shares)
	assert.True(t, items[0].IsMilestone)
	assert.True(t, items[0].PercentOfGrant.Equal(decimal.NewFromInt(25)))

	// AND: 36 monthly items of 1000
	for i, it := range items[1:] {
		assert.Equal(t, int64(1000), it.Shares, "month %d", i+13)
		assert.False(t, it.IsMilestone)
	}
	assert.Equal(t, date("2023-02-01"), items[1].Date)
	assert.Equal(t, date("2026-01-01"), items[36].Date)
	assert.Equal(t, int64(48000), items[36].CumulativeShares)
}

func TestGenerate_CliffThenLinear_RemainderOnLastMonth(t *testing.T) {
	// GIVEN: 1001 shares, 12/48 (cliff floor(1001*12/48) = 250)
	g := cliffGrant(1001, 12, 48, "2022-01-01")

	items, err := equity.Generate(g, date("2022-01-01"))
	require.NoError(t, err)

	// THEN: remaining 751 over 36 months = 20 each, last gets 751 - 35*20
	assert.Equal(t, int64(250), items[0].Shares)
	assert.Equal(t, int64(20), items[1].Shares)
	assert.Equal(t, int64(751-35*20), items[36].Shares)
	assert.Equal(t, int64(1001), equity.TotalShares(items))
}

func TestGenerate_CliffThenLinear_CliffEqualsTotal(t *testing.T) {
	g := cliffGrant(999, 12, 12, "2024-03-01")

	items, err := equity.Generate(g, date("2024-03-01"))
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, int64(999), items[0].Shares)
	assert.Equal(t, date("2025-03-01"), items[0].Date)
}

func TestGenerate_CliffThenLinear_MissingCliffRejected(t *testing.T) {
	g := cliffGrant(1000, 12, 48, "2024-01-01")
	g.CliffMonths = nil

	_, err := equity.Generate(g, date("2024-01-01"))
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// MILESTONE / CUSTOM
// =============================================================================

func TestGenerate_Milestone_DatesFromState(t *testing.T) {
	// GIVEN: One completed, one pending with a target, one undated
	g := equity.Grant{
		ID: "g-ms", EmployeeID: "emp-1", SharesGranted: 1000,
		VestingType: equity.VestingMilestone, VestingStartDate: date("2024-01-01"), TotalVestingMonths: 24,
		Milestones: []equity.Milestone{
			milestone("Series B", "50", equity.MilestonePending{Target: date("2025-06-01")}),
			milestone("Launch", "25", equity.MilestoneCompleted{On: date("2024-09-15")}),
			milestone("IPO", "25", equity.MilestonePending{}),
		},
	}

	items, err := equity.Generate(g, date("2024-12-01"))
	require.NoError(t, err)

	// THEN: Undated milestone skipped, the rest sorted by date
	require.Len(t, items, 2)
	assert.Equal(t, "Launch", items[0].MilestoneDescription)
	assert.Equal(t, date("2024-09-15"), items[0].Date)
	assert.Equal(t, int64(250), items[0].Shares)
	assert.Equal(t, equity.ItemVested, items[0].Status)

	assert.Equal(t, "Series B", items[1].MilestoneDescription)
	assert.Equal(t, int64(500), items[1].Shares)
	assert.Equal(t, equity.ItemScheduled, items[1].Status)

	// AND: The undated share is not invented
	assert.Equal(t, int64(750), equity.TotalShares(items))
}

func TestGenerate_Custom_LastItemAbsorbsRounding(t *testing.T) {
	// GIVEN: Thirds that floor to 333 each
	g := equity.Grant{
		ID: "g-custom", EmployeeID: "emp-1", SharesGranted: 1000,
		VestingType: equity.VestingCustom, VestingStartDate: date("2024-01-01"), TotalVestingMonths: 36,
		Milestones: []equity.Milestone{
			milestone("Year 1", "33.33", equity.MilestonePending{Target: date("2025-01-01")}),
			milestone("Year 2", "33.33", equity.MilestonePending{Target: date("2026-01-01")}),
			milestone("Year 3", "33.34", equity.MilestonePending{Target: date("2027-01-01")}),
		},
	}

	items, err := equity.Generate(g, date("2024-01-01"))
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, int64(333), items[0].Shares)
	assert.Equal(t, int64(333), items[1].Shares)
	assert.Equal(t, int64(334), items[2].Shares)
	assert.Equal(t, int64(1000), items[2].CumulativeShares)
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestGenerate_SumEqualsGranted(t *testing.T) {
	shares := []int64{1, 7, 47, 48, 1000, 12345, 1_500_000, 99_999_999}
	months := []int{1, 3, 12, 36, 48, 60}

	for _, n := range shares {
		for _, m := range months {
			t.Run(fmt.Sprintf("linear/%d/%d", n, m), func(t *testing.T) {
				items, err := equity.Generate(linearGrant(n, m, "2023-05-31"), date("2023-05-31"))
				require.NoError(t, err)
				assert.Equal(t, n, equity.TotalShares(items))
				for _, it := range items {
					assert.GreaterOrEqual(t, it.Shares, int64(0))
				}
			})
			for _, cliff := range []int{1, m / 4, m} {
				if cliff < 1 {
					continue
				}
				t.Run(fmt.Sprintf("cliff/%d/%d/%d", n, cliff, m), func(t *testing.T) {
					items, err := equity.Generate(cliffGrant(n, cliff, m, "2023-05-31"), date("2023-05-31"))
					require.NoError(t, err)
					assert.Equal(t, n, equity.TotalShares(items))
				})
			}
		}
	}
}

// =============================================================================
// STATUS ASSIGNMENT
// =============================================================================

func TestGenerate_Status_ByDate(t *testing.T) {
	g := linearGrant(1200, 12, "2024-01-01")

	// WHEN: Today is the 3rd vesting date
	items, err := equity.Generate(g, date("2024-04-01"))
	require.NoError(t, err)

	// THEN: On-or-before today is vested, later is scheduled
	for i, it := range items {
		if i < 3 {
			assert.Equal(t, equity.ItemVested, it.Status, "item %d", i)
		} else {
			assert.Equal(t, equity.ItemScheduled, it.Status, "item %d", i)
		}
	}
}

func TestGenerate_Status_TerminatedGrantForfeitsOnlyLaterItems(t *testing.T) {
	g := linearGrant(1200, 12, "2024-01-01")
	term := date("2024-06-15")
	g.TerminationDate = &term
	g.SharesForfeited = 600
	g.Status = equity.GrantTerminated

	items, err := equity.Generate(g, date("2024-10-01"))
	require.NoError(t, err)

	// THEN: Feb..Jun vested, Jul onward forfeited
	for _, it := range items {
		if it.Date.After(term) {
			assert.Equal(t, equity.ItemForfeited, it.Status, it.Date.String())
		} else {
			assert.Equal(t, equity.ItemVested, it.Status, it.Date.String())
		}
	}
}

func TestGenerate_Status_ForfeitAllOption(t *testing.T) {
	g := linearGrant(1200, 12, "2024-01-01")
	term := date("2024-06-15")
	g.TerminationDate = &term
	g.SharesForfeited = 600

	items, err := equity.Generate(g, date("2024-10-01"), equity.WithForfeitAll())
	require.NoError(t, err)

	for _, it := range items {
		assert.Equal(t, equity.ItemForfeited, it.Status)
	}
}

func TestGenerate_Status_ForfeitedWithoutTerminationDate(t *testing.T) {
	// GIVEN: Forfeited shares recorded with no termination date
	g := linearGrant(1200, 12, "2024-01-01")
	g.SharesForfeited = 100

	items, err := equity.Generate(g, date("2024-10-01"))
	require.NoError(t, err)

	for _, it := range items {
		assert.Equal(t, equity.ItemForfeited, it.Status)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	g := cliffGrant(48000, 12, 48, "2022-01-01")
	a, err := equity.Generate(g, date("2024-02-10"))
	require.NoError(t, err)
	b, err := equity.Generate(g, date("2024-02-10"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_UnknownTypeRejected(t *testing.T) {
	g := linearGrant(100, 10, "2024-01-01")
	g.VestingType = "quarterly"

	_, err := equity.Generate(g, date("2024-01-01"))
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "vesting_type", ve.Field)
}
