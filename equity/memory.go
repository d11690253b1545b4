package equity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/people-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory grant store (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	grants map[string]Grant
	events map[string]VestingEvent

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		grants: make(map[string]Grant),
		events: make(map[string]VestingEvent),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Memory) GetGrant(_ context.Context, id string) (Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grants[id]
	if !ok {
		return Grant{}, fmt.Errorf("%w: %s", generic.ErrGrantNotFound, id)
	}
	return cloneGrant(g), nil
}

func (m *Memory) ListGrantsByEmployee(_ context.Context, employeeID string) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Grant
	for _, g := range m.grants {
		if g.EmployeeID == employeeID {
			out = append(out, cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].GrantDate.Compare(out[j].GrantDate); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (VestingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return VestingEvent{}, fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	return cloneEvent(e), nil
}

func (m *Memory) ListEvents(_ context.Context, grantID string) ([]VestingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []VestingEvent
	for _, e := range m.events {
		if e.GrantID == grantID {
			out = append(out, cloneEvent(e))
		}
	}
	SortEvents(out)
	return out, nil
}

func (m *Memory) DueEvents(_ context.Context, asOf generic.TimePoint, limit int) ([]VestingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []VestingEvent
	for _, e := range m.events {
		if e.IsScheduled && e.VestingDate.BeforeOrEqual(asOf) {
			out = append(out, cloneEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GrantID != out[j].GrantID {
			return out[i].GrantID < out[j].GrantID
		}
		if c := out[i].VestingDate.Compare(out[j].VestingDate); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS - Per-grant lock + staged writes
// =============================================================================

// WithGrantTx stages the grant and its ledger in a private copy; readers
// outside the unit see the committed state until fn succeeds.
func (m *Memory) WithGrantTx(ctx context.Context, grantID string, fn func(Tx) error) error {
	lock := m.grantLock(grantID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memoryTx{Memory: m, grantID: grantID, events: make(map[string]VestingEvent)}
	m.mu.RLock()
	if g, ok := m.grants[grantID]; ok {
		c := cloneGrant(g)
		tx.grant = &c
	}
	for id, e := range m.events {
		if e.GrantID == grantID {
			tx.events[id] = cloneEvent(e)
		}
	}
	m.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

func (m *Memory) commit(tx *memoryTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.grant != nil {
		m.grants[tx.grantID] = *tx.grant
	}
	for id, e := range m.events {
		if e.GrantID == tx.grantID {
			delete(m.events, id)
		}
	}
	for id, e := range tx.events {
		m.events[id] = e
	}
}

func (m *Memory) grantLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// memoryTx reads the staged grant and ledger for grantID and the
// committed state for everything else. Writes are limited to grantID.
type memoryTx struct {
	*Memory
	grantID string
	grant   *Grant
	events  map[string]VestingEvent
}

func (tx *memoryTx) GetGrant(ctx context.Context, id string) (Grant, error) {
	if id != tx.grantID {
		return tx.Memory.GetGrant(ctx, id)
	}
	if tx.grant == nil {
		return Grant{}, fmt.Errorf("%w: %s", generic.ErrGrantNotFound, id)
	}
	return cloneGrant(*tx.grant), nil
}

func (tx *memoryTx) GetEvent(ctx context.Context, id string) (VestingEvent, error) {
	if e, ok := tx.events[id]; ok {
		return cloneEvent(e), nil
	}
	e, err := tx.Memory.GetEvent(ctx, id)
	if err != nil {
		return VestingEvent{}, err
	}
	if e.GrantID == tx.grantID {
		// Deleted inside this unit.
		return VestingEvent{}, fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	return e, nil
}

func (tx *memoryTx) ListEvents(ctx context.Context, grantID string) ([]VestingEvent, error) {
	if grantID != tx.grantID {
		return tx.Memory.ListEvents(ctx, grantID)
	}
	var out []VestingEvent
	for _, e := range tx.events {
		out = append(out, cloneEvent(e))
	}
	SortEvents(out)
	return out, nil
}

func (tx *memoryTx) InsertGrant(_ context.Context, g Grant) error {
	if err := tx.owns(g.ID); err != nil {
		return err
	}
	if tx.grant != nil {
		return &generic.ValidationError{Field: "id", Message: fmt.Sprintf("grant %s already exists", g.ID)}
	}
	c := cloneGrant(g)
	tx.grant = &c
	return nil
}

func (tx *memoryTx) UpdateGrant(_ context.Context, g Grant) error {
	if err := tx.owns(g.ID); err != nil {
		return err
	}
	if tx.grant == nil {
		return fmt.Errorf("%w: %s", generic.ErrGrantNotFound, g.ID)
	}
	c := cloneGrant(g)
	tx.grant = &c
	return nil
}

func (tx *memoryTx) InsertEvents(_ context.Context, events []VestingEvent) error {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	for _, e := range events {
		if err := tx.owns(e.GrantID); err != nil {
			return err
		}
		_, staged := tx.events[e.ID]
		committed, exists := tx.Memory.events[e.ID]
		if staged || (exists && committed.GrantID != tx.grantID) {
			return &generic.ValidationError{Field: "id", Message: fmt.Sprintf("vesting event %s already exists", e.ID)}
		}
		tx.events[e.ID] = cloneEvent(e)
	}
	return nil
}

func (tx *memoryTx) UpdateEvent(_ context.Context, e VestingEvent) error {
	if _, exists := tx.events[e.ID]; !exists {
		return fmt.Errorf("%w: %s", generic.ErrEventNotFound, e.ID)
	}
	tx.events[e.ID] = cloneEvent(e)
	return nil
}

func (tx *memoryTx) DeleteEvents(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(tx.events, id)
	}
	return nil
}

func (tx *memoryTx) owns(grantID string) error {
	if grantID != tx.grantID {
		return &generic.ValidationError{Field: "grant_id", Message: fmt.Sprintf("grant %s is outside this unit of work (%s)", grantID, tx.grantID)}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneGrant(g Grant) Grant {
	if g.CliffMonths != nil {
		c := *g.CliffMonths
		g.CliffMonths = &c
	}
	if g.TerminationDate != nil {
		t := *g.TerminationDate
		g.TerminationDate = &t
	}
	if g.ExerciseDeadline != nil {
		d := *g.ExerciseDeadline
		g.ExerciseDeadline = &d
	}
	g.Milestones = append([]Milestone(nil), g.Milestones...)
	return g
}

func cloneEvent(e VestingEvent) VestingEvent {
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		e.ProcessedAt = &t
	}
	return e
}
