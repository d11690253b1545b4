/*
schedule.go - Vesting schedule generator

PURPOSE:
  Maps a grant's parameters to an ordered list of vesting line items. Pure
  and deterministic: no persistence, "today" is an argument.

VESTING TYPES:
  Linear:
    floor(granted / N) shares on each of months 1..N; month N takes the
    remainder so the items sum to exactly granted.

  CliffThenLinear:
    One milestone item at start + cliff months sized
    floor(granted * cliff / N), then floor(remaining / (N - cliff)) on each
    of months cliff+1..N, the last month taking the remainder.

      48000 shares, 12 month cliff, 48 months, start 2022-01-01
        2023-01-01  12000  (cliff)
        2023-02-01   1000
        ...
        2026-01-01   1000  -> cumulative 48000

  Milestone / Custom:
    One item per dated milestone sized floor(granted * percent / 100),
    dated on completion if completed, else on its target. Undated
    milestones are skipped. When every milestone is dated and the
    percentages total 100, the last item takes the rounding remainder.

STATUS:
  Items after the grant's termination date are forfeited. Otherwise an item
  dated on or before today is vested and a later one is scheduled. A grant
  with forfeited shares but no recorded termination date is treated as
  forfeited in full, as is any forfeited grant under WithForfeitAll.

DATES:
  Month offsets are always taken from the vesting start date and clamped to
  month end, so a Jan 31 start vests on Feb 28, Mar 31, Apr 30, ...
*/
package equity

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/generic"
)

var hundred = decimal.NewFromInt(100)

type generateOptions struct {
	forfeitAll bool
}

// GenerateOption tunes status assignment.
type GenerateOption func(*generateOptions)

// WithForfeitAll marks every item forfeited once the grant has any
// forfeited shares, regardless of the item's date.
func WithForfeitAll() GenerateOption {
	return func(o *generateOptions) { o.forfeitAll = true }
}

// Generate builds the grant's full vesting schedule with statuses as of today.
func Generate(g Grant, today generic.TimePoint, opts ...GenerateOption) ([]ScheduleItem, error) {
	var o generateOptions
	for _, opt := range opts {
		opt(&o)
	}

	items, err := buildItems(g)
	if err != nil {
		return nil, err
	}
	finishItems(g, items)
	assignStatus(g, items, today, o)
	return items, nil
}

// buildItems dispatches on the vesting type; dates and shares only.
func buildItems(g Grant) ([]ScheduleItem, error) {
	if g.SharesGranted <= 0 {
		return nil, &generic.ValidationError{Field: "shares_granted", Message: "must be positive"}
	}
	if g.TotalVestingMonths <= 0 && !g.VestingType.usesMilestones() {
		return nil, &generic.ValidationError{Field: "total_vesting_months", Message: "must be positive"}
	}

	switch g.VestingType {
	case VestingLinear:
		return linearItems(g.VestingStartDate, g.SharesGranted, 1, g.TotalVestingMonths), nil
	case VestingCliffThenLinear:
		return cliffItems(g)
	case VestingMilestone, VestingCustom:
		return milestoneItems(g), nil
	default:
		return nil, &generic.ValidationError{Field: "vesting_type", Message: fmt.Sprintf("unknown vesting type %q", g.VestingType)}
	}
}

// linearItems spreads shares evenly over months first..last (inclusive),
// the last month absorbing the remainder.
func linearItems(start generic.TimePoint, shares int64, first, last int) []ScheduleItem {
	months := last - first + 1
	if months <= 0 {
		return nil
	}
	per := shares / int64(months)
	items := make([]ScheduleItem, 0, months)
	var allocated int64
	for m := first; m <= last; m++ {
		n := per
		if m == last {
			n = shares - allocated
		}
		allocated += n
		items = append(items, ScheduleItem{Date: start.AddMonthsClamped(m), Shares: n})
	}
	return items
}

func cliffItems(g Grant) ([]ScheduleItem, error) {
	if g.CliffMonths == nil {
		return nil, &generic.ValidationError{Field: "cliff_months", Message: "is required for cliff vesting"}
	}
	cliff := *g.CliffMonths
	if cliff < 1 || cliff > g.TotalVestingMonths {
		return nil, &generic.ValidationError{Field: "cliff_months", Message: "must be between 1 and total_vesting_months"}
	}

	cliffShares := g.SharesGranted * int64(cliff) / int64(g.TotalVestingMonths)
	if cliff == g.TotalVestingMonths {
		cliffShares = g.SharesGranted
	}
	items := []ScheduleItem{{
		Date:                 g.VestingStartDate.AddMonthsClamped(cliff),
		Shares:               cliffShares,
		IsMilestone:          true,
		MilestoneDescription: fmt.Sprintf("%d month cliff", cliff),
	}}
	return append(items, linearItems(g.VestingStartDate, g.SharesGranted-cliffShares, cliff+1, g.TotalVestingMonths)...), nil
}

func milestoneItems(g Grant) []ScheduleItem {
	type dated struct {
		m    Milestone
		date generic.TimePoint
	}
	var ms []dated
	allDated := true
	totalPct := decimal.Zero
	for _, m := range g.Milestones {
		totalPct = totalPct.Add(m.SharesPercent)
		if m.State == nil {
			allDated = false
			continue
		}
		d, ok := m.State.VestDate()
		if !ok {
			allDated = false
			continue
		}
		ms = append(ms, dated{m: m, date: d})
	}
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].date.Before(ms[j].date) })

	granted := decimal.NewFromInt(g.SharesGranted)
	items := make([]ScheduleItem, 0, len(ms))
	var allocated int64
	for _, d := range ms {
		n := granted.Mul(d.m.SharesPercent).Div(hundred).Floor().IntPart()
		allocated += n
		items = append(items, ScheduleItem{
			Date:                 d.date,
			Shares:               n,
			IsMilestone:          true,
			MilestoneDescription: d.m.Description,
		})
	}
	if allDated && len(items) > 0 && totalPct.Equal(hundred) {
		last := &items[len(items)-1]
		last.Shares += g.SharesGranted - allocated
	}
	return items
}

// finishItems fills the running totals and percentages.
func finishItems(g Grant, items []ScheduleItem) {
	granted := decimal.NewFromInt(g.SharesGranted)
	var cumulative int64
	for i := range items {
		cumulative += items[i].Shares
		items[i].CumulativeShares = cumulative
		items[i].PercentOfGrant = decimal.NewFromInt(items[i].Shares).Mul(hundred).DivRound(granted, 4)
	}
}

func assignStatus(g Grant, items []ScheduleItem, today generic.TimePoint, o generateOptions) {
	allForfeited := g.SharesForfeited > 0 && (o.forfeitAll || g.TerminationDate == nil)
	for i := range items {
		switch {
		case allForfeited:
			items[i].Status = ItemForfeited
		case g.TerminationDate != nil && items[i].Date.After(*g.TerminationDate):
			items[i].Status = ItemForfeited
		case items[i].Date.BeforeOrEqual(today):
			items[i].Status = ItemVested
		default:
			items[i].Status = ItemScheduled
		}
	}
}

// TotalShares sums the shares of a schedule.
func TotalShares(items []ScheduleItem) int64 {
	var n int64
	for _, it := range items {
		n += it.Shares
	}
	return n
}
