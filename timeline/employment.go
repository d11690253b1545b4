/*
employment.go - Employment timeline (job, department, manager, status)

PURPOSE:
  Effective-dated job history for an employee. A promotion, transfer or
  termination is a new version effective on some date; the previous
  version is closed at that date by the temporal store.

SIDE EFFECT:
  Employees carry a denormalized "current status" used by list views and
  the equity termination flow. When a version takes effect today or
  earlier, Insert writes its status through the StatusWriter. Future-dated
  versions are picked up later by RefreshStatus, which the scheduled
  status job runs for every employee.

  The status write happens after the record commits. A failed status
  write is returned to the caller; the record itself stays, and the next
  RefreshStatus repairs the denormalized field.

EXAMPLE:
  emp := timeline.NewEmploymentTimeline(temporal, statusWriter)
  id, err := emp.Insert(ctx, "emp-1", generic.MustParseDate("2025-03-01"),
      timeline.EmploymentPayload{JobTitle: "Senior Engineer", ...})
*/
package timeline

import (
	"context"
	"fmt"

	"github.com/warp/people-engine/generic"
)

// StatusWriter persists the denormalized current employment status.
type StatusWriter interface {
	UpdateEmploymentStatus(ctx context.Context, employeeID string, status EmploymentStatus, asOf generic.TimePoint) error
}

type EmploymentTimeline struct {
	*Instance[EmploymentPayload]
	status StatusWriter
}

// NewEmploymentTimeline creates the employment timeline. status may be nil
// when no denormalized field is kept.
func NewEmploymentTimeline(temporal *generic.TemporalStore, status StatusWriter) *EmploymentTimeline {
	return &EmploymentTimeline{
		Instance: &Instance[EmploymentPayload]{Kind: KindEmployment, Temporal: temporal},
		status:   status,
	}
}

// Insert validates the payload, writes the version and, if it is already
// in effect, updates the employee's current status.
func (t *EmploymentTimeline) Insert(ctx context.Context, employeeID string, effective generic.TimePoint, p EmploymentPayload) (generic.RecordID, error) {
	if err := validateStruct(p); err != nil {
		return "", err
	}
	if p.ManagerID != "" && p.ManagerID == employeeID {
		return "", &generic.ValidationError{Field: "manager_id", Message: "an employee cannot manage themselves"}
	}

	id, err := t.insert(ctx, employeeID, effective, p)
	if err != nil {
		return "", err
	}

	today := generic.Today(t.Temporal.Clock)
	if t.status != nil && effective.BeforeOrEqual(today) {
		if err := t.status.UpdateEmploymentStatus(ctx, employeeID, p.Status, effective); err != nil {
			return id, fmt.Errorf("update current status for %s: %w", employeeID, err)
		}
	}
	return id, nil
}

// RefreshStatus re-derives the current status from today's version. Used
// when a future-dated version has since taken effect.
func (t *EmploymentTimeline) RefreshStatus(ctx context.Context, employeeID string) (EmploymentStatus, error) {
	v, ok, err := t.Current(ctx, employeeID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	if t.status != nil {
		if err := t.status.UpdateEmploymentStatus(ctx, employeeID, v.Payload.Status, v.EffectiveDate); err != nil {
			return "", fmt.Errorf("update current status for %s: %w", employeeID, err)
		}
	}
	return v.Payload.Status, nil
}

// TerminationDate returns the effective date of the first version with a
// terminated status, if any.
func (t *EmploymentTimeline) TerminationDate(ctx context.Context, employeeID string) (generic.TimePoint, bool, error) {
	history, err := t.History(ctx, employeeID)
	if err != nil {
		return generic.TimePoint{}, false, err
	}
	for _, v := range history {
		if v.Payload.Status == StatusTerminated {
			return v.EffectiveDate, true, nil
		}
	}
	return generic.TimePoint{}, false, nil
}
