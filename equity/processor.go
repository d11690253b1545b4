/*
processor.go - Vesting event state machine

STATES:
  Scheduled -> Processed (terminal)

TRANSITION (ApplyVesting, pure):
  reject FutureEventError       vesting date after today
  reject AlreadyProcessedError  event no longer scheduled
  reject InsufficientSharesError event shares > grant's unvested balance
  otherwise grant.SharesVested += event.SharesVested,
            event.IsScheduled = false, event.ProcessedAt = now

SHELL (Processor.Process):
  Re-reads the event and grant inside the grant's unit of work, applies the
  transition, and writes both rows before commit. A retry after a crash
  either succeeds once or reports AlreadyProcessed; it never double counts.
*/
package equity

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/people-engine/generic"
)

// ApplyVesting moves one event from scheduled to processed.
func ApplyVesting(e VestingEvent, g Grant, now time.Time) (VestingEvent, Grant, error) {
	today := generic.DateOf(now)
	if e.VestingDate.After(today) {
		return e, g, &generic.FutureEventError{EventID: e.ID, VestingDate: e.VestingDate, Today: today}
	}
	if !e.IsScheduled {
		at := ""
		if e.ProcessedAt != nil {
			at = e.ProcessedAt.Format(time.RFC3339)
		}
		return e, g, &generic.AlreadyProcessedError{EventID: e.ID, ProcessedAt: at}
	}
	if e.SharesVested > g.Unvested() {
		return e, g, &generic.InsufficientSharesError{
			GrantID:   g.ID,
			EventID:   e.ID,
			Requested: e.SharesVested,
			Unvested:  g.Unvested(),
		}
	}

	g.SharesVested += e.SharesVested
	e.IsScheduled = false
	processed := now
	e.ProcessedAt = &processed
	return e, g, nil
}

// =============================================================================
// PROCESSOR - Transactional shell
// =============================================================================

type Processor struct {
	store       TxStore
	clock       generic.Clock
	maxAttempts int
	log         zerolog.Logger
}

func NewProcessor(store TxStore, clock generic.Clock, log zerolog.Logger) *Processor {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Processor{
		store:       store,
		clock:       clock,
		maxAttempts: generic.DefaultMaxAttempts,
		log:         log.With().Str("component", "vesting_processor").Logger(),
	}
}

// Process applies one vesting event and returns the updated event and grant.
func (p *Processor) Process(ctx context.Context, eventID string) (VestingEvent, Grant, error) {
	ev, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		return VestingEvent{}, Grant{}, err
	}

	var outEvent VestingEvent
	var outGrant Grant
	err = generic.RetryOnConflict(ctx, p.maxAttempts, generic.SubjectID(ev.GrantID), func() error {
		return p.store.WithGrantTx(ctx, ev.GrantID, func(tx Tx) error {
			e, err := tx.GetEvent(ctx, eventID)
			if err != nil {
				return err
			}
			g, err := tx.GetGrant(ctx, e.GrantID)
			if err != nil {
				return err
			}
			e, g, err = ApplyVesting(e, g, p.clock.Now())
			if err != nil {
				return err
			}
			if err := tx.UpdateGrant(ctx, g); err != nil {
				return fmt.Errorf("update grant %s: %w", g.ID, err)
			}
			if err := tx.UpdateEvent(ctx, e); err != nil {
				return fmt.Errorf("update event %s: %w", e.ID, err)
			}
			outEvent, outGrant = e, g
			return nil
		})
	})
	if err != nil {
		return VestingEvent{}, Grant{}, err
	}

	p.log.Debug().
		Str("grant_id", outGrant.ID).
		Str("event_id", outEvent.ID).
		Int64("shares", outEvent.SharesVested).
		Int64("shares_vested", outGrant.SharesVested).
		Msg("vesting event processed")
	return outEvent, outGrant, nil
}
