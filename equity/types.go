// Package equity implements equity grant administration: vesting schedule
// generation, the vesting event ledger, next-vesting resolution, forfeiture
// on termination, and the processor that moves ledger events from
// scheduled to processed.
//
// Generate, NextVesting, Forfeit and ApplyVesting are pure. Service and
// Processor are the persistence shell around them.
package equity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/generic"
)

// MaxSharesGranted keeps share arithmetic (shares * months) inside int64.
const MaxSharesGranted int64 = 1_000_000_000_000

// =============================================================================
// GRANT
// =============================================================================

type VestingType string

const (
	VestingLinear          VestingType = "linear"
	VestingCliffThenLinear VestingType = "cliff_then_linear"
	VestingMilestone       VestingType = "milestone"
	VestingCustom          VestingType = "custom"
)

func (v VestingType) usesMilestones() bool {
	return v == VestingMilestone || v == VestingCustom
}

type GrantStatus string

const (
	GrantActive     GrantStatus = "active"
	GrantTerminated GrantStatus = "terminated"
)

type Grant struct {
	ID                 string             `json:"id"`
	EmployeeID         string             `json:"employee_id" validate:"required"`
	GrantDate          generic.TimePoint  `json:"grant_date"`
	SharesGranted      int64              `json:"shares_granted" validate:"gt=0"`
	SharesVested       int64              `json:"shares_vested" validate:"gte=0"`
	SharesExercised    int64              `json:"shares_exercised" validate:"gte=0"`
	SharesForfeited    int64              `json:"shares_forfeited" validate:"gte=0"`
	StrikePrice        decimal.Decimal    `json:"strike_price"`
	VestingType        VestingType        `json:"vesting_type" validate:"required,oneof=linear cliff_then_linear milestone custom"`
	VestingStartDate   generic.TimePoint  `json:"vesting_start_date"`
	CliffMonths        *int               `json:"cliff_months,omitempty"`
	TotalVestingMonths int                `json:"total_vesting_months" validate:"gt=0,lte=600"`
	Milestones         []Milestone        `json:"milestones,omitempty"`
	Status             GrantStatus        `json:"status"`
	TerminationDate    *generic.TimePoint `json:"termination_date,omitempty"`
	ExerciseDeadline   *generic.TimePoint `json:"exercise_deadline,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Unvested is the balance still able to vest.
func (g Grant) Unvested() int64 {
	return g.SharesGranted - g.SharesVested - g.SharesForfeited
}

// Validate checks the grant's shape and its share conservation.
func (g Grant) Validate() error {
	if err := generic.ValidateStruct(g); err != nil {
		return err
	}
	if g.SharesGranted > MaxSharesGranted {
		return &generic.ValidationError{Field: "shares_granted", Message: fmt.Sprintf("must not exceed %d", MaxSharesGranted)}
	}
	if g.VestingStartDate.IsZero() {
		return &generic.ValidationError{Field: "vesting_start_date", Message: "is required"}
	}
	if g.SharesVested+g.SharesForfeited > g.SharesGranted {
		return &generic.ValidationError{Field: "shares_vested", Message: "vested plus forfeited exceeds granted"}
	}
	if g.SharesExercised > g.SharesVested {
		return &generic.ValidationError{Field: "shares_exercised", Message: "cannot exceed vested shares"}
	}

	switch g.VestingType {
	case VestingCliffThenLinear:
		if g.CliffMonths == nil || *g.CliffMonths < 1 || *g.CliffMonths > g.TotalVestingMonths {
			return &generic.ValidationError{Field: "cliff_months", Message: "must be between 1 and total_vesting_months"}
		}
	case VestingLinear:
		if g.CliffMonths != nil && *g.CliffMonths != 0 {
			return &generic.ValidationError{Field: "cliff_months", Message: "not allowed for linear vesting"}
		}
	}

	if !g.VestingType.usesMilestones() {
		if len(g.Milestones) > 0 {
			return &generic.ValidationError{Field: "milestones", Message: fmt.Sprintf("not allowed for %s vesting", g.VestingType)}
		}
		return nil
	}
	if len(g.Milestones) == 0 {
		return &generic.ValidationError{Field: "milestones", Message: "at least one milestone is required"}
	}
	total := decimal.Zero
	for i, m := range g.Milestones {
		if !m.SharesPercent.IsPositive() {
			return &generic.ValidationError{Field: fmt.Sprintf("milestones[%d].shares_percent", i), Message: "must be positive"}
		}
		if m.State == nil {
			return &generic.ValidationError{Field: fmt.Sprintf("milestones[%d].state", i), Message: "is required"}
		}
		total = total.Add(m.SharesPercent)
	}
	if !total.Equal(decimal.NewFromInt(100)) {
		return &generic.ValidationError{Field: "milestones", Message: fmt.Sprintf("percentages must total 100, got %s", total)}
	}
	return nil
}

// =============================================================================
// MILESTONE - Tagged state: pending with an optional target, or completed
// =============================================================================

type Milestone struct {
	Description   string          `json:"description"`
	SharesPercent decimal.Decimal `json:"shares_percent"`
	State         MilestoneState  `json:"-"`
}

// MilestoneState is either MilestonePending or MilestoneCompleted.
type MilestoneState interface {
	// VestDate is the date the milestone vests on, ok=false when undated.
	VestDate() (generic.TimePoint, bool)
	stateName() string
}

// MilestonePending has not been reached. A zero Target means no date has
// been set yet and the milestone does not appear in the schedule.
type MilestonePending struct {
	Target generic.TimePoint
}

func (p MilestonePending) VestDate() (generic.TimePoint, bool) { return p.Target, !p.Target.IsZero() }
func (MilestonePending) stateName() string                      { return "pending" }

// MilestoneCompleted was reached on a known date.
type MilestoneCompleted struct {
	On generic.TimePoint
}

func (c MilestoneCompleted) VestDate() (generic.TimePoint, bool) { return c.On, true }
func (MilestoneCompleted) stateName() string                      { return "completed" }

type milestoneJSON struct {
	Description   string             `json:"description"`
	SharesPercent decimal.Decimal    `json:"shares_percent"`
	State         string             `json:"state"`
	TargetDate    *generic.TimePoint `json:"target_date,omitempty"`
	CompletedDate *generic.TimePoint `json:"completed_date,omitempty"`
}

func (m Milestone) MarshalJSON() ([]byte, error) {
	out := milestoneJSON{Description: m.Description, SharesPercent: m.SharesPercent}
	switch s := m.State.(type) {
	case MilestoneCompleted:
		out.State = s.stateName()
		on := s.On
		out.CompletedDate = &on
	case MilestonePending:
		out.State = s.stateName()
		if !s.Target.IsZero() {
			t := s.Target
			out.TargetDate = &t
		}
	case nil:
		out.State = MilestonePending{}.stateName()
	default:
		return nil, fmt.Errorf("unknown milestone state %T", m.State)
	}
	return json.Marshal(out)
}

func (m *Milestone) UnmarshalJSON(data []byte) error {
	var in milestoneJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Description = in.Description
	m.SharesPercent = in.SharesPercent

	switch in.State {
	case "completed":
		if in.CompletedDate == nil {
			return &generic.ValidationError{Field: "completed_date", Message: "is required for a completed milestone"}
		}
		m.State = MilestoneCompleted{On: *in.CompletedDate}
	case "pending", "":
		var target generic.TimePoint
		if in.TargetDate != nil {
			target = *in.TargetDate
		}
		m.State = MilestonePending{Target: target}
	default:
		return &generic.ValidationError{Field: "state", Message: fmt.Sprintf("unknown milestone state %q", in.State)}
	}
	return nil
}

// =============================================================================
// SCHEDULE ITEM - Generator output, never persisted on its own
// =============================================================================

type ItemStatus string

const (
	ItemVested    ItemStatus = "vested"
	ItemScheduled ItemStatus = "scheduled"
	ItemForfeited ItemStatus = "forfeited"
)

type ScheduleItem struct {
	Date                 generic.TimePoint `json:"date"`
	Shares               int64             `json:"shares"`
	CumulativeShares     int64             `json:"cumulative_shares"`
	PercentOfGrant       decimal.Decimal   `json:"percent_of_grant"`
	Status               ItemStatus        `json:"status"`
	IsMilestone          bool              `json:"is_milestone"`
	MilestoneDescription string            `json:"milestone_description,omitempty"`
}

// =============================================================================
// VESTING EVENT - Persisted ledger entry
// =============================================================================

type VestingEvent struct {
	ID           string            `json:"id"`
	GrantID      string            `json:"grant_id"`
	VestingDate  generic.TimePoint `json:"vesting_date"`
	SharesVested int64             `json:"shares_vested"`
	IsScheduled  bool              `json:"is_scheduled"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
	IsMilestone  bool              `json:"is_milestone"`
}

// NextVest is the resolver's answer.
type NextVest struct {
	GrantID string            `json:"grant_id"`
	Date    generic.TimePoint `json:"date"`
	Shares  int64             `json:"shares"`
}

// Forfeiture is the result of terminating a grant on a date.
type Forfeiture struct {
	GrantID             string            `json:"grant_id"`
	TerminationDate     generic.TimePoint `json:"termination_date"`
	VestedAtTermination int64             `json:"vested_at_termination"`
	SharesToForfeit     int64             `json:"shares_to_forfeit"`
	ExerciseDeadline    generic.TimePoint `json:"exercise_deadline"`
}
