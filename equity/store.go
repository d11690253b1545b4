package equity

import (
	"context"

	"github.com/warp/people-engine/generic"
)

// Store is the read side of grant persistence.
type Store interface {
	// GetGrant returns ErrGrantNotFound (wrapped) when absent.
	GetGrant(ctx context.Context, id string) (Grant, error)
	ListGrantsByEmployee(ctx context.Context, employeeID string) ([]Grant, error)

	// GetEvent returns ErrEventNotFound (wrapped) when absent.
	GetEvent(ctx context.Context, id string) (VestingEvent, error)
	// ListEvents returns the grant's ledger ordered by vesting date.
	ListEvents(ctx context.Context, grantID string) ([]VestingEvent, error)
	// DueEvents returns scheduled events with vesting date on or before
	// asOf, ordered by grant then vesting date. limit <= 0 means no limit.
	DueEvents(ctx context.Context, asOf generic.TimePoint, limit int) ([]VestingEvent, error)
}

// Tx is the view handed to a unit of work: reads plus writes.
type Tx interface {
	Store
	InsertGrant(ctx context.Context, g Grant) error
	UpdateGrant(ctx context.Context, g Grant) error
	InsertEvents(ctx context.Context, events []VestingEvent) error
	UpdateEvent(ctx context.Context, e VestingEvent) error
	DeleteEvents(ctx context.Context, ids []string) error
}

// TxStore runs a unit of work scoped to one grant. Grant balance and
// ledger changes inside fn commit together or not at all; a serialization
// failure is reported as generic.ErrConcurrencyConflict.
type TxStore interface {
	Store
	WithGrantTx(ctx context.Context, grantID string, fn func(Tx) error) error
}
