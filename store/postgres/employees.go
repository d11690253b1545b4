package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/timeline"
)

var _ timeline.Directory = (*Store)(nil)

// =============================================================================
// EMPLOYEE STORE (timeline.Directory interface)
// =============================================================================

const employeeColumns = `id, name, email, hire_date, current_status, status_as_of, created_at`

func (s *Store) SaveEmployee(ctx context.Context, emp timeline.Employee) error {
	created := emp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	hire := emp.HireDate
	var email any
	if emp.Email != "" {
		email = emp.Email
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, email, hire_date, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			hire_date = EXCLUDED.hire_date
	`, emp.ID, emp.Name, email, dateArg(&hire), created)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee returns nil, nil when the employee does not exist.
func (s *Store) GetEmployee(ctx context.Context, id string) (*timeline.Employee, error) {
	emp, err := scanEmployee(s.pool.QueryRow(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]timeline.Employee, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []timeline.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func (s *Store) ListEmployeeIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM employees ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query employee ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpdateEmploymentStatus upserts the denormalized status. An older asOf
// never overwrites a newer one.
func (s *Store) UpdateEmploymentStatus(ctx context.Context, employeeID string, status timeline.EmploymentStatus, asOf generic.TimePoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, current_status, status_as_of)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			current_status = EXCLUDED.current_status,
			status_as_of = EXCLUDED.status_as_of
		WHERE employees.status_as_of IS NULL OR employees.status_as_of <= EXCLUDED.status_as_of
	`, employeeID, string(status), asOf.Time)
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to update employment status: %w", err), employeeID)
	}
	return nil
}

func scanEmployee(row pgx.Row) (timeline.Employee, error) {
	var (
		emp              timeline.Employee
		email, status    *string
		hire, statusAsOf *time.Time
	)
	if err := row.Scan(&emp.ID, &emp.Name, &email, &hire, &status, &statusAsOf, &emp.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return emp, err
		}
		return emp, fmt.Errorf("failed to scan employee: %w", err)
	}
	if email != nil {
		emp.Email = *email
	}
	if status != nil {
		emp.CurrentStatus = timeline.EmploymentStatus(*status)
	}
	if hire != nil {
		emp.HireDate = generic.DateOf(*hire)
	}
	emp.StatusAsOf = fromNullDate(statusAsOf)
	return emp, nil
}
