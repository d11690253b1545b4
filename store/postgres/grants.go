package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
)

var _ equity.TxStore = (*Store)(nil)

// =============================================================================
// GRANT STORE (equity.Store interface)
// =============================================================================

const grantColumns = `id, employee_id, grant_date, shares_granted, shares_vested, shares_exercised,
	shares_forfeited, strike_price::text, vesting_type, vesting_start_date, cliff_months,
	total_vesting_months, milestones, status, termination_date, exercise_deadline, created_at`

const eventColumns = `id, grant_id, vesting_date, shares_vested, is_scheduled, processed_at, is_milestone`

func (s *Store) GetGrant(ctx context.Context, id string) (equity.Grant, error) {
	return getGrant(ctx, s.pool, id)
}

func (s *Store) ListGrantsByEmployee(ctx context.Context, employeeID string) ([]equity.Grant, error) {
	return listGrantsByEmployee(ctx, s.pool, employeeID)
}

func (s *Store) GetEvent(ctx context.Context, id string) (equity.VestingEvent, error) {
	return getEvent(ctx, s.pool, id)
}

func (s *Store) ListEvents(ctx context.Context, grantID string) ([]equity.VestingEvent, error) {
	return listEvents(ctx, s.pool, grantID)
}

func (s *Store) DueEvents(ctx context.Context, asOf generic.TimePoint, limit int) ([]equity.VestingEvent, error) {
	return dueEvents(ctx, s.pool, asOf, limit)
}

// WithGrantTx runs fn in one SERIALIZABLE transaction.
func (s *Store) WithGrantTx(ctx context.Context, grantID string, fn func(equity.Tx) error) error {
	mapErr := func(err error) error { return mapGrantError(err, grantID) }
	return s.inTx(ctx, mapErr, func(tx pgx.Tx) error {
		return fn(&grantTx{tx: tx})
	})
}

type grantTx struct {
	tx pgx.Tx
}

func (gt *grantTx) GetGrant(ctx context.Context, id string) (equity.Grant, error) {
	return getGrant(ctx, gt.tx, id)
}

func (gt *grantTx) ListGrantsByEmployee(ctx context.Context, employeeID string) ([]equity.Grant, error) {
	return listGrantsByEmployee(ctx, gt.tx, employeeID)
}

func (gt *grantTx) GetEvent(ctx context.Context, id string) (equity.VestingEvent, error) {
	return getEvent(ctx, gt.tx, id)
}

func (gt *grantTx) ListEvents(ctx context.Context, grantID string) ([]equity.VestingEvent, error) {
	return listEvents(ctx, gt.tx, grantID)
}

func (gt *grantTx) DueEvents(ctx context.Context, asOf generic.TimePoint, limit int) ([]equity.VestingEvent, error) {
	return dueEvents(ctx, gt.tx, asOf, limit)
}

func (gt *grantTx) InsertGrant(ctx context.Context, g equity.Grant) error {
	milestones, err := encodeMilestones(g.Milestones)
	if err != nil {
		return err
	}
	_, err = gt.tx.Exec(ctx, `
		INSERT INTO equity_grants (
			id, employee_id, grant_date, shares_granted, shares_vested, shares_exercised,
			shares_forfeited, strike_price, vesting_type, vesting_start_date, cliff_months,
			total_vesting_months, milestones, status, termination_date, exercise_deadline, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		g.ID, g.EmployeeID, g.GrantDate.Time,
		g.SharesGranted, g.SharesVested, g.SharesExercised, g.SharesForfeited,
		g.StrikePrice.String(), string(g.VestingType), g.VestingStartDate.Time, g.CliffMonths,
		g.TotalVestingMonths, milestones, string(g.Status),
		dateArg(g.TerminationDate), dateArg(g.ExerciseDeadline), g.CreatedAt,
	)
	if err != nil {
		return mapGrantError(fmt.Errorf("failed to insert grant: %w", err), g.ID)
	}
	return nil
}

func (gt *grantTx) UpdateGrant(ctx context.Context, g equity.Grant) error {
	milestones, err := encodeMilestones(g.Milestones)
	if err != nil {
		return err
	}
	tag, err := gt.tx.Exec(ctx, `
		UPDATE equity_grants SET
			shares_vested = $1, shares_exercised = $2, shares_forfeited = $3,
			cliff_months = $4, milestones = $5, status = $6,
			termination_date = $7, exercise_deadline = $8
		WHERE id = $9
	`,
		g.SharesVested, g.SharesExercised, g.SharesForfeited,
		g.CliffMonths, milestones, string(g.Status),
		dateArg(g.TerminationDate), dateArg(g.ExerciseDeadline),
		g.ID,
	)
	if err != nil {
		return mapGrantError(fmt.Errorf("failed to update grant: %w", err), g.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", generic.ErrGrantNotFound, g.ID)
	}
	return nil
}

// InsertEvents sends the whole ledger in one batch.
func (gt *grantTx) InsertEvents(ctx context.Context, events []equity.VestingEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO vesting_events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.GrantID, e.VestingDate.Time, e.SharesVested, e.IsScheduled, e.ProcessedAt, e.IsMilestone)
	}
	if err := gt.tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapGrantError(fmt.Errorf("failed to insert vesting events: %w", err), events[0].GrantID)
	}
	return nil
}

func (gt *grantTx) UpdateEvent(ctx context.Context, e equity.VestingEvent) error {
	tag, err := gt.tx.Exec(ctx,
		"UPDATE vesting_events SET is_scheduled = $1, processed_at = $2 WHERE id = $3",
		e.IsScheduled, e.ProcessedAt, e.ID,
	)
	if err != nil {
		return mapGrantError(fmt.Errorf("failed to update vesting event: %w", err), e.GrantID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", generic.ErrEventNotFound, e.ID)
	}
	return nil
}

func (gt *grantTx) DeleteEvents(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := gt.tx.Exec(ctx, "DELETE FROM vesting_events WHERE id = ANY($1)", ids); err != nil {
		return fmt.Errorf("failed to delete vesting events: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func getGrant(ctx context.Context, q querier, id string) (equity.Grant, error) {
	g, err := scanGrant(q.QueryRow(ctx, "SELECT "+grantColumns+" FROM equity_grants WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return equity.Grant{}, fmt.Errorf("%w: %s", generic.ErrGrantNotFound, id)
	}
	if err != nil {
		return equity.Grant{}, mapGrantError(err, id)
	}
	return g, nil
}

func listGrantsByEmployee(ctx context.Context, q querier, employeeID string) ([]equity.Grant, error) {
	rows, err := q.Query(ctx,
		"SELECT "+grantColumns+" FROM equity_grants WHERE employee_id = $1 ORDER BY grant_date, id",
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []equity.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func getEvent(ctx context.Context, q querier, id string) (equity.VestingEvent, error) {
	e, err := scanEvent(q.QueryRow(ctx, "SELECT "+eventColumns+" FROM vesting_events WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return equity.VestingEvent{}, fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	if err != nil {
		return equity.VestingEvent{}, mapGrantError(err, id)
	}
	return e, nil
}

func listEvents(ctx context.Context, q querier, grantID string) ([]equity.VestingEvent, error) {
	return queryEvents(ctx, q,
		"SELECT "+eventColumns+" FROM vesting_events WHERE grant_id = $1 ORDER BY vesting_date, id",
		grantID,
	)
}

// dueEvents passes a NULL limit when unbounded; LIMIT NULL means no limit.
func dueEvents(ctx context.Context, q querier, asOf generic.TimePoint, limit int) ([]equity.VestingEvent, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	return queryEvents(ctx, q, `
		SELECT `+eventColumns+`
		FROM vesting_events
		WHERE is_scheduled AND vesting_date <= $1
		ORDER BY grant_id, vesting_date, id
		LIMIT $2
	`, asOf.Time, lim)
}

func queryEvents(ctx context.Context, q querier, query string, args ...any) ([]equity.VestingEvent, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vesting events: %w", err)
	}
	defer rows.Close()

	var events []equity.VestingEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

func scanGrant(row pgx.Row) (equity.Grant, error) {
	var (
		g                     equity.Grant
		grantDate, startDate  time.Time
		strike                string
		vestingType, status   string
		milestones            []byte
		termination, deadline *time.Time
	)
	err := row.Scan(
		&g.ID, &g.EmployeeID, &grantDate,
		&g.SharesGranted, &g.SharesVested, &g.SharesExercised, &g.SharesForfeited,
		&strike, &vestingType, &startDate, &g.CliffMonths,
		&g.TotalVestingMonths, &milestones, &status,
		&termination, &deadline, &g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return g, err
		}
		return g, fmt.Errorf("failed to scan grant: %w", err)
	}

	g.GrantDate = generic.DateOf(grantDate)
	g.VestingStartDate = generic.DateOf(startDate)
	g.VestingType = equity.VestingType(vestingType)
	g.Status = equity.GrantStatus(status)
	g.TerminationDate = fromNullDate(termination)
	g.ExerciseDeadline = fromNullDate(deadline)
	if g.StrikePrice, err = decimal.NewFromString(strike); err != nil {
		return g, fmt.Errorf("failed to parse strike price of grant %s: %w", g.ID, err)
	}
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &g.Milestones); err != nil {
			return g, fmt.Errorf("failed to decode milestones of grant %s: %w", g.ID, err)
		}
	}
	return g, nil
}

func scanEvent(row pgx.Row) (equity.VestingEvent, error) {
	var (
		e           equity.VestingEvent
		vestingDate time.Time
	)
	err := row.Scan(&e.ID, &e.GrantID, &vestingDate, &e.SharesVested, &e.IsScheduled, &e.ProcessedAt, &e.IsMilestone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan vesting event: %w", err)
	}
	e.VestingDate = generic.DateOf(vestingDate)
	return e, nil
}

// encodeMilestones returns nil for grants without milestones so the column
// stays NULL.
func encodeMilestones(ms []equity.Milestone) ([]byte, error) {
	if len(ms) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ms)
	if err != nil {
		return nil, fmt.Errorf("encode milestones: %w", err)
	}
	return data, nil
}
