package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
)

var _ equity.TxStore = (*Store)(nil)

// =============================================================================
// GRANT STORE (equity.Store interface)
// =============================================================================

const grantColumns = `id, employee_id, grant_date, shares_granted, shares_vested, shares_exercised,
	shares_forfeited, strike_price, vesting_type, vesting_start_date, cliff_months,
	total_vesting_months, milestones_json, status, termination_date, exercise_deadline, created_at`

const eventColumns = `id, grant_id, vesting_date, shares_vested, is_scheduled, processed_at, is_milestone`

func (s *Store) GetGrant(ctx context.Context, id string) (equity.Grant, error) {
	return getGrant(ctx, s.db, id)
}

func (s *Store) ListGrantsByEmployee(ctx context.Context, employeeID string) ([]equity.Grant, error) {
	return listGrantsByEmployee(ctx, s.db, employeeID)
}

func (s *Store) GetEvent(ctx context.Context, id string) (equity.VestingEvent, error) {
	return getEvent(ctx, s.db, id)
}

func (s *Store) ListEvents(ctx context.Context, grantID string) ([]equity.VestingEvent, error) {
	return listEvents(ctx, s.db, grantID)
}

func (s *Store) DueEvents(ctx context.Context, asOf generic.TimePoint, limit int) ([]equity.VestingEvent, error) {
	return dueEvents(ctx, s.db, asOf, limit)
}

func getGrant(ctx context.Context, q querier, id string) (equity.Grant, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+grantColumns+" FROM equity_grants WHERE id = ?", id)
	if err != nil {
		return equity.Grant{}, fmt.Errorf("failed to query grant: %w", err)
	}
	grants, err := scanGrants(rows)
	if err != nil {
		return equity.Grant{}, err
	}
	if len(grants) == 0 {
		return equity.Grant{}, fmt.Errorf("%w: %s", generic.ErrGrantNotFound, id)
	}
	return grants[0], nil
}

func listGrantsByEmployee(ctx context.Context, q querier, employeeID string) ([]equity.Grant, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+grantColumns+" FROM equity_grants WHERE employee_id = ? ORDER BY grant_date, id",
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	return scanGrants(rows)
}

func getEvent(ctx context.Context, q querier, id string) (equity.VestingEvent, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+eventColumns+" FROM vesting_events WHERE id = ?", id)
	if err != nil {
		return equity.VestingEvent{}, fmt.Errorf("failed to query event: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return equity.VestingEvent{}, err
	}
	if len(events) == 0 {
		return equity.VestingEvent{}, fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	return events[0], nil
}

func listEvents(ctx context.Context, q querier, grantID string) ([]equity.VestingEvent, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM vesting_events WHERE grant_id = ? ORDER BY vesting_date, id",
		grantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

func dueEvents(ctx context.Context, q querier, asOf generic.TimePoint, limit int) ([]equity.VestingEvent, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM vesting_events
		WHERE is_scheduled = 1 AND vesting_date <= ?
		ORDER BY grant_id, vesting_date, id
		LIMIT ?
	`, asOf.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}
	return scanEvents(rows)
}

// =============================================================================
// WRITES (equity.Tx interface)
// =============================================================================

func insertGrant(ctx context.Context, q querier, g equity.Grant) error {
	milestones, err := encodeMilestones(g.Milestones)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO equity_grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		g.ID, g.EmployeeID, g.GrantDate.String(),
		g.SharesGranted, g.SharesVested, g.SharesExercised, g.SharesForfeited,
		g.StrikePrice.String(), string(g.VestingType), g.VestingStartDate.String(),
		nullInt(g.CliffMonths), g.TotalVestingMonths, milestones, string(g.Status),
		nullDate(g.TerminationDate), nullDate(g.ExerciseDeadline), formatTime(g.CreatedAt),
	)
	if err != nil {
		return mapGrantError(fmt.Errorf("failed to insert grant: %w", err), g.ID)
	}
	return nil
}

func updateGrant(ctx context.Context, q querier, g equity.Grant) error {
	milestones, err := encodeMilestones(g.Milestones)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE equity_grants SET
			shares_vested = ?, shares_exercised = ?, shares_forfeited = ?,
			cliff_months = ?, milestones_json = ?, status = ?,
			termination_date = ?, exercise_deadline = ?
		WHERE id = ?
	`,
		g.SharesVested, g.SharesExercised, g.SharesForfeited,
		nullInt(g.CliffMonths), milestones, string(g.Status),
		nullDate(g.TerminationDate), nullDate(g.ExerciseDeadline),
		g.ID,
	)
	if err != nil {
		return mapGrantError(fmt.Errorf("failed to update grant: %w", err), g.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrGrantNotFound, g.ID)
	}
	return nil
}

func insertEvents(ctx context.Context, q querier, events []equity.VestingEvent) error {
	for _, e := range events {
		_, err := q.ExecContext(ctx, `
			INSERT INTO vesting_events (`+eventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID, e.GrantID, e.VestingDate.String(), e.SharesVested,
			e.IsScheduled, nullTime(e.ProcessedAt), e.IsMilestone,
		)
		if err != nil {
			return mapGrantError(fmt.Errorf("failed to insert vesting event: %w", err), e.GrantID)
		}
	}
	return nil
}

func updateEvent(ctx context.Context, q querier, e equity.VestingEvent) error {
	res, err := q.ExecContext(ctx, `
		UPDATE vesting_events SET is_scheduled = ?, processed_at = ?
		WHERE id = ?
	`, e.IsScheduled, nullTime(e.ProcessedAt), e.ID)
	if err != nil {
		return mapGrantError(fmt.Errorf("failed to update vesting event: %w", err), e.GrantID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrEventNotFound, e.ID)
	}
	return nil
}

func deleteEvents(ctx context.Context, q querier, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := q.ExecContext(ctx, "DELETE FROM vesting_events WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete vesting events: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (equity.TxStore interface)
// =============================================================================

// WithGrantTx runs fn inside one BEGIN IMMEDIATE transaction.
func (s *Store) WithGrantTx(ctx context.Context, grantID string, fn func(equity.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapGrantError(fmt.Errorf("failed to begin transaction: %w", err), grantID)
	}
	defer sqlTx.Rollback()

	if err := fn(&grantTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapGrantError(fmt.Errorf("failed to commit: %w", err), grantID)
	}
	return nil
}

type grantTx struct {
	tx *sql.Tx
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
	return insertGrant(ctx, gt.tx, g)
}

func (gt *grantTx) UpdateGrant(ctx context.Context, g equity.Grant) error {
	return updateGrant(ctx, gt.tx, g)
}

func (gt *grantTx) InsertEvents(ctx context.Context, events []equity.VestingEvent) error {
	return insertEvents(ctx, gt.tx, events)
}

func (gt *grantTx) UpdateEvent(ctx context.Context, e equity.VestingEvent) error {
	return updateEvent(ctx, gt.tx, e)
}

func (gt *grantTx) DeleteEvents(ctx context.Context, ids []string) error {
	return deleteEvents(ctx, gt.tx, ids)
}

// =============================================================================
// SCANNING
// =============================================================================

func scanGrants(rows *sql.Rows) ([]equity.Grant, error) {
	defer rows.Close()

	var grants []equity.Grant
	for rows.Next() {
		var (
			g                                     equity.Grant
			grantDate, startDate, strike, created string
			vestingType, status                   string
			cliff                                 sql.NullInt64
			milestones, termination, deadline     sql.NullString
		)
		err := rows.Scan(
			&g.ID, &g.EmployeeID, &grantDate,
			&g.SharesGranted, &g.SharesVested, &g.SharesExercised, &g.SharesForfeited,
			&strike, &vestingType, &startDate, &cliff,
			&g.TotalVestingMonths, &milestones, &status,
			&termination, &deadline, &created,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}

		g.VestingType = equity.VestingType(vestingType)
		g.Status = equity.GrantStatus(status)
		if g.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("grant %s created_at: %w", g.ID, err)
		}
		if g.GrantDate, err = parseDate(grantDate); err != nil {
			return nil, err
		}
		if g.VestingStartDate, err = parseDate(startDate); err != nil {
			return nil, err
		}
		if g.TerminationDate, err = parseNullDate(termination); err != nil {
			return nil, err
		}
		if g.ExerciseDeadline, err = parseNullDate(deadline); err != nil {
			return nil, err
		}
		if g.StrikePrice, err = decimal.NewFromString(strike); err != nil {
			return nil, fmt.Errorf("failed to parse strike price of grant %s: %w", g.ID, err)
		}
		if cliff.Valid {
			c := int(cliff.Int64)
			g.CliffMonths = &c
		}
		if milestones.Valid && milestones.String != "" {
			if err := json.Unmarshal([]byte(milestones.String), &g.Milestones); err != nil {
				return nil, fmt.Errorf("failed to decode milestones of grant %s: %w", g.ID, err)
			}
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]equity.VestingEvent, error) {
	defer rows.Close()

	var events []equity.VestingEvent
	for rows.Next() {
		var (
			e           equity.VestingEvent
			vestingDate string
			processedAt sql.NullString
		)
		err := rows.Scan(&e.ID, &e.GrantID, &vestingDate, &e.SharesVested,
			&e.IsScheduled, &processedAt, &e.IsMilestone)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vesting event: %w", err)
		}
		if e.VestingDate, err = parseDate(vestingDate); err != nil {
			return nil, err
		}
		if processedAt.Valid {
			t, err := parseTime(processedAt.String)
			if err != nil {
				return nil, fmt.Errorf("vesting event %s processed_at: %w", e.ID, err)
			}
			e.ProcessedAt = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func encodeMilestones(ms []equity.Milestone) (sql.NullString, error) {
	if len(ms) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ms)
	if err != nil {
		return sql.NullString{}, errors.Join(&generic.ValidationError{Field: "milestones", Message: "cannot be encoded"}, err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
