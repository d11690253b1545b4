package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/timeline"
)

var _ timeline.Directory = (*Store)(nil)

// =============================================================================
// EMPLOYEE STORE (timeline.Directory interface)
// =============================================================================

const employeeColumns = `id, name, email, hire_date, current_status, status_as_of, created_at`

// SaveEmployee upserts the directory fields. The denormalized status is
// left alone; only UpdateEmploymentStatus writes it.
func (s *Store) SaveEmployee(ctx context.Context, emp timeline.Employee) error {
	created := emp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	query := `
		INSERT INTO employees (id, name, email, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date
	`
	hire := emp.HireDate
	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Email), nullDate(&hire), formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id string) (*timeline.Employee, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query employee: %w", err)
	}
	employees, err := scanEmployees(rows)
	if err != nil || len(employees) == 0 {
		return nil, err
	}
	return &employees[0], nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]timeline.Employee, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	return scanEmployees(rows)
}

func (s *Store) ListEmployeeIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM employees ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query employee ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateEmploymentStatus writes the denormalized status, creating a bare
// directory row if the employee was never saved. An older asOf never
// overwrites a newer one.
func (s *Store) UpdateEmploymentStatus(ctx context.Context, employeeID string, status timeline.EmploymentStatus, asOf generic.TimePoint) error {
	query := `
		INSERT INTO employees (id, name, current_status, status_as_of, created_at)
		VALUES (?, '', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_status = excluded.current_status,
			status_as_of = excluded.status_as_of
		WHERE employees.status_as_of IS NULL OR employees.status_as_of <= excluded.status_as_of
	`
	_, err := s.db.ExecContext(ctx, query,
		employeeID, string(status), asOf.String(), formatTime(time.Now()),
	)
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to update employment status: %w", err), employeeID)
	}
	return nil
}

func scanEmployees(rows *sql.Rows) ([]timeline.Employee, error) {
	defer rows.Close()

	var employees []timeline.Employee
	for rows.Next() {
		var (
			emp                     timeline.Employee
			email, hireDate, status sql.NullString
			statusAsOf              sql.NullString
			createdAt               string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &email, &hireDate, &status, &statusAsOf, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		emp.Email = email.String
		emp.CurrentStatus = timeline.EmploymentStatus(status.String)
		created, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("employee %s created_at: %w", emp.ID, err)
		}
		emp.CreatedAt = created

		hire, err := parseNullDate(hireDate)
		if err != nil {
			return nil, err
		}
		if hire != nil {
			emp.HireDate = *hire
		}
		if emp.StatusAsOf, err = parseNullDate(statusAsOf); err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}
