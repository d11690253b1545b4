/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Payload shapes that
  already carry JSON tags (timeline payloads, schedule items, vesting
  events) are embedded rather than copied, so the wire format and the
  stored payload never drift apart.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DATES:
  Every date is a YYYY-MM-DD string (generic.TimePoint marshals itself).
  Timestamps are RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - timeline/types.go: Employment / salary / local-data payloads
  - equity/types.go: Grant, ScheduleItem, VestingEvent
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/timeline"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Email         string             `json:"email,omitempty"`
	HireDate      generic.TimePoint  `json:"hire_date"`
	CurrentStatus string             `json:"current_status,omitempty"`
	StatusAsOf    *generic.TimePoint `json:"status_as_of,omitempty"`
	CreatedAt     string             `json:"created_at,omitempty"`
}

func toEmployeeDTO(e timeline.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:            e.ID,
		Name:          e.Name,
		Email:         e.Email,
		HireDate:      e.HireDate,
		CurrentStatus: string(e.CurrentStatus),
		StatusAsOf:    e.StatusAsOf,
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// CreateEmployeeRequest is the request to create or update an employee.
type CreateEmployeeRequest struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	HireDate generic.TimePoint `json:"hire_date"`
}

// =============================================================================
// TIMELINES
// =============================================================================

// EmploymentRequest inserts an employment version.
type EmploymentRequest struct {
	EffectiveDate generic.TimePoint `json:"effective_date"`
	timeline.EmploymentPayload
}

// SalaryRequest inserts a salary version. The annualized amount is
// computed by the server.
type SalaryRequest struct {
	EffectiveDate generic.TimePoint `json:"effective_date"`
	timeline.SalaryInput
}

// LocalDataRequest inserts a country-specific data version.
type LocalDataRequest struct {
	EffectiveDate generic.TimePoint `json:"effective_date"`
	timeline.LocalDataPayload
}

// InsertResponse is returned after any timeline insert.
type InsertResponse struct {
	ID            generic.RecordID  `json:"id"`
	EmployeeID    string            `json:"employee_id"`
	EffectiveDate generic.TimePoint `json:"effective_date"`
}

// AsOfResponse wraps a point-in-time lookup. Version is null when nothing
// was in effect on that date.
type AsOfResponse[P any] struct {
	AsOf    generic.TimePoint    `json:"as_of"`
	Version *timeline.Version[P] `json:"version"`
}

// =============================================================================
// EQUITY
// =============================================================================

// CreateGrantRequest is the request to approve a new grant. Balances are
// always zero on creation and are not accepted from clients.
type CreateGrantRequest struct {
	ID                 string             `json:"id,omitempty"`
	EmployeeID         string             `json:"employee_id"`
	GrantDate          generic.TimePoint  `json:"grant_date"`
	SharesGranted      int64              `json:"shares_granted"`
	StrikePrice        decimal.Decimal    `json:"strike_price"`
	VestingType        equity.VestingType `json:"vesting_type"`
	VestingStartDate   generic.TimePoint  `json:"vesting_start_date"`
	CliffMonths        *int               `json:"cliff_months,omitempty"`
	TotalVestingMonths int                `json:"total_vesting_months"`
	Milestones         []equity.Milestone `json:"milestones,omitempty"`
}

func (r CreateGrantRequest) toGrant() equity.Grant {
	return equity.Grant{
		ID:                 r.ID,
		EmployeeID:         r.EmployeeID,
		GrantDate:          r.GrantDate,
		SharesGranted:      r.SharesGranted,
		StrikePrice:        r.StrikePrice,
		VestingType:        r.VestingType,
		VestingStartDate:   r.VestingStartDate,
		CliffMonths:        r.CliffMonths,
		TotalVestingMonths: r.TotalVestingMonths,
		Milestones:         r.Milestones,
	}
}

// GrantResponse is a grant with its ledger.
type GrantResponse struct {
	Grant  equity.Grant          `json:"grant"`
	Events []equity.VestingEvent `json:"events"`
}

// ScheduleResponse is the generated schedule as of today.
type ScheduleResponse struct {
	GrantID string                `json:"grant_id"`
	AsOf    generic.TimePoint     `json:"as_of"`
	Total   int64                 `json:"total_shares"`
	Items   []equity.ScheduleItem `json:"items"`
}

// NextVestingResponse wraps the resolver. Next is null when nothing is
// left to vest.
type NextVestingResponse struct {
	Next *equity.NextVest `json:"next"`
}

// TerminateRequest forfeits unvested shares as of a date.
type TerminateRequest struct {
	TerminationDate generic.TimePoint `json:"termination_date"`
}

type TerminateResponse struct {
	Forfeiture equity.Forfeiture `json:"forfeiture"`
	Grant      equity.Grant      `json:"grant"`
}

// ProcessEventResponse is the event and grant after processing.
type ProcessEventResponse struct {
	Event equity.VestingEvent `json:"event"`
	Grant equity.Grant        `json:"grant"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
