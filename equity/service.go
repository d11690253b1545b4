package equity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/people-engine/generic"
)

// =============================================================================
// SERVICE - Grant lifecycle over a TxStore
// =============================================================================

type Service struct {
	store          TxStore
	clock          generic.Clock
	processor      *Processor
	exerciseMonths int
	maxAttempts    int
	log            zerolog.Logger
}

type ServiceOption func(*Service)

// WithExerciseMonths sets the post-termination exercise window.
func WithExerciseMonths(months int) ServiceOption {
	return func(s *Service) { s.exerciseMonths = months }
}

// WithMaxAttempts sets how often a conflicting unit of work is re-run.
func WithMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		s.maxAttempts = n
		s.processor.maxAttempts = n
	}
}

func NewService(store TxStore, clock generic.Clock, log zerolog.Logger, opts ...ServiceOption) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	s := &Service{
		store:          store,
		clock:          clock,
		processor:      NewProcessor(store, clock, log),
		exerciseMonths: DefaultExerciseMonths,
		maxAttempts:    generic.DefaultMaxAttempts,
		log:            log.With().Str("component", "equity").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Processor() *Processor { return s.processor }

func (s *Service) today() generic.TimePoint { return generic.Today(s.clock) }

// CreateGrant validates the grant, materializes its ledger and persists both
// in one unit of work. Balances start at zero.
func (s *Service) CreateGrant(ctx context.Context, g Grant) (Grant, []VestingEvent, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.SharesVested, g.SharesForfeited, g.SharesExercised = 0, 0, 0
	g.Status = GrantActive
	g.TerminationDate, g.ExerciseDeadline = nil, nil
	if g.GrantDate.IsZero() {
		g.GrantDate = s.today()
	}
	g.CreatedAt = s.clock.Now()
	if err := g.Validate(); err != nil {
		return Grant{}, nil, err
	}

	events, err := Materialize(g)
	if err != nil {
		return Grant{}, nil, err
	}
	err = s.store.WithGrantTx(ctx, g.ID, func(tx Tx) error {
		if err := tx.InsertGrant(ctx, g); err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		if err := tx.InsertEvents(ctx, events); err != nil {
			return fmt.Errorf("insert vesting events: %w", err)
		}
		return nil
	})
	if err != nil {
		return Grant{}, nil, err
	}

	s.log.Info().
		Str("grant_id", g.ID).
		Str("employee_id", g.EmployeeID).
		Str("vesting_type", string(g.VestingType)).
		Int64("shares_granted", g.SharesGranted).
		Int("events", len(events)).
		Msg("grant created")
	return g, events, nil
}

func (s *Service) Grant(ctx context.Context, id string) (Grant, error) {
	return s.store.GetGrant(ctx, id)
}

func (s *Service) GrantsForEmployee(ctx context.Context, employeeID string) ([]Grant, error) {
	return s.store.ListGrantsByEmployee(ctx, employeeID)
}

// Schedule returns the grant's generated schedule with statuses as of today.
func (s *Service) Schedule(ctx context.Context, grantID string, opts ...GenerateOption) ([]ScheduleItem, error) {
	g, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	return Generate(g, s.today(), opts...)
}

func (s *Service) Events(ctx context.Context, grantID string) ([]VestingEvent, error) {
	if _, err := s.store.GetGrant(ctx, grantID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, grantID)
}

// NextVesting resolves from the ledger.
func (s *Service) NextVesting(ctx context.Context, grantID string) (NextVest, bool, error) {
	g, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return NextVest{}, false, err
	}
	events, err := s.store.ListEvents(ctx, grantID)
	if err != nil {
		return NextVest{}, false, err
	}
	if events == nil {
		events = []VestingEvent{}
	}
	next, ok := NextVesting(g, events, s.today())
	return next, ok, nil
}

func (s *Service) NextVestingForEmployee(ctx context.Context, employeeID string) (NextVest, bool, error) {
	grants, events, err := s.EmployeeEquity(ctx, employeeID)
	if err != nil {
		return NextVest{}, false, err
	}
	byGrant := make(map[string][]VestingEvent, len(grants))
	for _, g := range grants {
		byGrant[g.ID] = []VestingEvent{}
	}
	for _, e := range events {
		byGrant[e.GrantID] = append(byGrant[e.GrantID], e)
	}
	next, ok := NextVestingForEmployee(grants, byGrant, s.today())
	return next, ok, nil
}

// EmployeeEquity returns all of an employee's grants and their ledgers.
func (s *Service) EmployeeEquity(ctx context.Context, employeeID string) ([]Grant, []VestingEvent, error) {
	grants, err := s.store.ListGrantsByEmployee(ctx, employeeID)
	if err != nil {
		return nil, nil, err
	}
	var events []VestingEvent
	for _, g := range grants {
		ev, err := s.store.ListEvents(ctx, g.ID)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, ev...)
	}
	return grants, events, nil
}

// Terminate forfeits the grant's unvested shares as of terminationDate.
func (s *Service) Terminate(ctx context.Context, grantID string, terminationDate generic.TimePoint) (Forfeiture, Grant, error) {
	var f Forfeiture
	var out Grant
	err := generic.RetryOnConflict(ctx, s.maxAttempts, generic.SubjectID(grantID), func() error {
		return s.store.WithGrantTx(ctx, grantID, func(tx Tx) error {
			g, err := tx.GetGrant(ctx, grantID)
			if err != nil {
				return err
			}
			events, err := tx.ListEvents(ctx, grantID)
			if err != nil {
				return err
			}
			f, err = Forfeit(g, terminationDate, s.exerciseMonths)
			if err != nil {
				return err
			}
			updated, drop, err := ApplyForfeiture(g, f, events)
			if err != nil {
				return err
			}
			if err := tx.UpdateGrant(ctx, updated); err != nil {
				return fmt.Errorf("update grant %s: %w", grantID, err)
			}
			if err := tx.DeleteEvents(ctx, drop); err != nil {
				return fmt.Errorf("drop forfeited events: %w", err)
			}
			out = updated
			return nil
		})
	})
	if err != nil {
		return Forfeiture{}, Grant{}, err
	}

	s.log.Info().
		Str("grant_id", grantID).
		Str("termination_date", terminationDate.String()).
		Int64("vested_at_termination", f.VestedAtTermination).
		Int64("shares_forfeited", out.SharesForfeited).
		Msg("grant terminated")
	return f, out, nil
}

// TerminateEmployee terminates every active grant the employee holds.
func (s *Service) TerminateEmployee(ctx context.Context, employeeID string, terminationDate generic.TimePoint) ([]Forfeiture, error) {
	grants, err := s.store.ListGrantsByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	var out []Forfeiture
	for _, g := range grants {
		if g.Status != GrantActive {
			continue
		}
		f, _, err := s.Terminate(ctx, g.ID, terminationDate)
		if err != nil {
			return out, fmt.Errorf("terminate grant %s: %w", g.ID, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// ProcessEvent runs the processor for one event.
func (s *Service) ProcessEvent(ctx context.Context, eventID string) (VestingEvent, Grant, error) {
	return s.processor.Process(ctx, eventID)
}
