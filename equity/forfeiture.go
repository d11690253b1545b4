package equity

import (
	"fmt"

	"github.com/warp/people-engine/generic"
)

// DefaultExerciseMonths is the post-termination exercise window.
const DefaultExerciseMonths = 3

// Forfeit computes what a termination on terminationDate does to the grant.
// Everything scheduled on or before the date is kept, the rest is
// forfeited, so VestedAtTermination + SharesToForfeit == SharesGranted.
func Forfeit(g Grant, terminationDate generic.TimePoint, exerciseMonths int) (Forfeiture, error) {
	if terminationDate.IsZero() {
		return Forfeiture{}, &generic.ValidationError{Field: "termination_date", Message: "is required"}
	}
	items, err := buildItems(g)
	if err != nil {
		return Forfeiture{}, err
	}

	var vested int64
	for _, it := range items {
		if it.Date.BeforeOrEqual(terminationDate) {
			vested += it.Shares
		}
	}
	return Forfeiture{
		GrantID:             g.ID,
		TerminationDate:     terminationDate,
		VestedAtTermination: vested,
		SharesToForfeit:     g.SharesGranted - vested,
		ExerciseDeadline:    terminationDate.AddMonthsClamped(exerciseMonths),
	}, nil
}

// ApplyForfeiture is the state transition for a termination. It returns the
// updated grant and the IDs of unprocessed events dated after the
// termination, which must be removed from the ledger in the same unit of
// work. Shares already processed past the termination date stay vested.
func ApplyForfeiture(g Grant, f Forfeiture, events []VestingEvent) (Grant, []string, error) {
	if g.Status == GrantTerminated {
		return Grant{}, nil, &generic.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("grant %s was already terminated on %s", g.ID, g.TerminationDate),
		}
	}

	kept := max(g.SharesVested, f.VestedAtTermination)
	if kept > g.SharesGranted {
		kept = g.SharesGranted
	}
	g.SharesForfeited = g.SharesGranted - kept
	g.Status = GrantTerminated
	term := f.TerminationDate
	deadline := f.ExerciseDeadline
	g.TerminationDate = &term
	g.ExerciseDeadline = &deadline

	var drop []string
	for _, e := range events {
		if e.IsScheduled && e.VestingDate.After(term) {
			drop = append(drop, e.ID)
		}
	}
	return g, drop, nil
}
