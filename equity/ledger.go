package equity

import (
	"sort"

	"github.com/google/uuid"
	"github.com/warp/people-engine/generic"
)

// =============================================================================
// MATERIALIZE - Schedule to ledger
// =============================================================================

// Materialize turns the grant's schedule into ledger events, one per item
// with a positive share count. Every event starts scheduled, including
// ones already due; the vesting job processes those on its next run.
func Materialize(g Grant) ([]VestingEvent, error) {
	items, err := buildItems(g)
	if err != nil {
		return nil, err
	}
	events := make([]VestingEvent, 0, len(items))
	for _, it := range items {
		if it.Shares <= 0 {
			continue
		}
		events = append(events, VestingEvent{
			ID:           uuid.NewString(),
			GrantID:      g.ID,
			VestingDate:  it.Date,
			SharesVested: it.Shares,
			IsScheduled:  true,
			IsMilestone:  it.IsMilestone,
		})
	}
	return events, nil
}

// SortEvents orders events by vesting date, ID breaking ties.
func SortEvents(events []VestingEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if c := events[i].VestingDate.Compare(events[j].VestingDate); c != 0 {
			return c < 0
		}
		return events[i].ID < events[j].ID
	})
}

// =============================================================================
// NEXT VESTING RESOLVER
// =============================================================================

// NextVesting returns the grant's next vesting after today. A non-nil
// events slice is the ledger and wins over recomputation; a nil slice
// falls back to the generated schedule.
func NextVesting(g Grant, events []VestingEvent, today generic.TimePoint) (NextVest, bool) {
	if g.Unvested() <= 0 {
		return NextVest{}, false
	}

	if events != nil {
		var best *VestingEvent
		for i := range events {
			e := &events[i]
			if !e.IsScheduled || !e.VestingDate.After(today) {
				continue
			}
			if best == nil || e.VestingDate.Before(best.VestingDate) {
				best = e
			}
		}
		if best == nil {
			return NextVest{}, false
		}
		return NextVest{GrantID: g.ID, Date: best.VestingDate, Shares: best.SharesVested}, true
	}

	items, err := Generate(g, today)
	if err != nil {
		return NextVest{}, false
	}
	for _, it := range items {
		if it.Status == ItemScheduled && it.Date.After(today) {
			return NextVest{GrantID: g.ID, Date: it.Date, Shares: it.Shares}, true
		}
	}
	return NextVest{}, false
}

// NextVestingForEmployee is the earliest NextVesting across the employee's
// grants. eventsByGrant may omit grants; those fall back to the schedule.
func NextVestingForEmployee(grants []Grant, eventsByGrant map[string][]VestingEvent, today generic.TimePoint) (NextVest, bool) {
	var best NextVest
	found := false
	for _, g := range grants {
		next, ok := NextVesting(g, eventsByGrant[g.ID], today)
		if !ok {
			continue
		}
		if !found || next.Date.Before(best.Date) || (next.Date.Equal(best.Date) && next.GrantID < best.GrantID) {
			best = next
			found = true
		}
	}
	return best, found
}
