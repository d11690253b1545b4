/*
handlers.go - HTTP API handlers for the people engine

PURPOSE:
  Exposes the timelines and the equity engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.
  Callers are assumed to be authorized already.

ENDPOINTS:
  Employees:
    GET    /api/employees                          List employees
    POST   /api/employees                          Create or update employee
    GET    /api/employees/{id}                     Get employee
    GET    /api/employees/{id}/timeline            Merged chronological view
    GET    /api/employees/{id}/grants              Employee's grants
    GET    /api/employees/{id}/next-vesting        Earliest upcoming vest
    POST   /api/employees/{id}/terminate-equity    Terminate every active grant

  Timelines ({kind} = employment | salary | local-data):
    GET    /api/employees/{id}/{kind}              Full history
    POST   /api/employees/{id}/{kind}              Insert a version
    GET    /api/employees/{id}/{kind}/as-of        Version on ?date= (default today)
    DELETE /api/employees/{id}/{kind}/{recordID}   Cancel a future version

  Grants:
    POST   /api/grants                             Create grant + ledger
    GET    /api/grants/{id}                        Grant with ledger
    GET    /api/grants/{id}/schedule               Generated schedule
    GET    /api/grants/{id}/events                 Ledger events
    GET    /api/grants/{id}/next-vesting           Next vest for one grant
    POST   /api/grants/{id}/terminate              Forfeit unvested shares

  Vesting:
    POST   /api/vesting-events/{id}/process        Process one due event
    POST   /api/vesting/run                        Run the vesting job now
    GET    /api/vesting/runs                       Recent job runs

  Imports (see imports.go)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: History is immutable, event cannot be processed, or a concurrent
         writer won (retryable=true, Retry-After set)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/scheduler"
	"github.com/warp/people-engine/timeline"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Directory  timeline.Directory
	Employment *timeline.EmploymentTimeline
	Salary     *timeline.SalaryTimeline
	LocalData  *timeline.LocalDataTimeline
	Equity     *equity.Service
	Aggregator *timeline.Aggregator
	Vesting    *scheduler.VestingJob
	Clock      generic.Clock

	// Resetter wipes all data. Nil disables the reset endpoint.
	Resetter interface {
		Reset(ctx context.Context) error
	}
}

func (h *Handler) today() generic.TimePoint { return generic.Today(h.Clock) }

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Directory.ListEmployees(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates an employee, or updates name, email and hire date
// of an existing one.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	emp := timeline.Employee{
		ID:       req.ID,
		Name:     req.Name,
		Email:    req.Email,
		HireDate: req.HireDate,
	}
	if err := emp.Validate(); err != nil {
		writeDomainError(w, r, "Invalid employee", err)
		return
	}
	if emp.HireDate.IsZero() {
		writeDomainError(w, r, "Invalid employee", &generic.ValidationError{Field: "hire_date", Message: "is required"})
		return
	}
	if err := h.Directory.SaveEmployee(r.Context(), emp); err != nil {
		writeDomainError(w, r, "Failed to save employee", err)
		return
	}

	saved, err := h.Directory.GetEmployee(r.Context(), emp.ID)
	if err != nil || saved == nil {
		writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*saved))
}

// GetEmployeeTimeline merges every timeline into one chronological view.
// Optional query: from, to (dates), kind (repeatable or comma separated).
func (h *Handler) GetEmployeeTimeline(w http.ResponseWriter, r *http.Request) {
	var filter timeline.Filter
	var err error
	if filter.From, err = queryDate(r, "from", generic.TimePoint{}); err != nil {
		writeDomainError(w, r, "Invalid from date", err)
		return
	}
	if filter.To, err = queryDate(r, "to", generic.TimePoint{}); err != nil {
		writeDomainError(w, r, "Invalid to date", err)
		return
	}
	for _, v := range r.URL.Query()["kind"] {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				filter.Kinds = append(filter.Kinds, timeline.EntryKind(k))
			}
		}
	}

	entries, err := h.Aggregator.Aggregate(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		writeDomainError(w, r, "Failed to build timeline", err)
		return
	}
	if entries == nil {
		entries = []timeline.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// TIMELINE HANDLERS
// =============================================================================

// InsertEmployment writes an employment version (promotion, transfer,
// termination).
func (h *Handler) InsertEmployment(w http.ResponseWriter, r *http.Request) {
	var req EmploymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	employeeID := chi.URLParam(r, "id")
	id, err := h.Employment.Insert(r.Context(), employeeID, req.EffectiveDate, req.EmploymentPayload)
	writeInsert(w, r, employeeID, req.EffectiveDate, id, err)
}

// InsertSalary writes a salary version with its annualized amount frozen
// at today's exchange rate.
func (h *Handler) InsertSalary(w http.ResponseWriter, r *http.Request) {
	var req SalaryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	employeeID := chi.URLParam(r, "id")
	id, err := h.Salary.Insert(r.Context(), employeeID, req.EffectiveDate, req.SalaryInput)
	writeInsert(w, r, employeeID, req.EffectiveDate, id, err)
}

func (h *Handler) InsertLocalData(w http.ResponseWriter, r *http.Request) {
	var req LocalDataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	employeeID := chi.URLParam(r, "id")
	id, err := h.LocalData.Insert(r.Context(), employeeID, req.EffectiveDate, req.LocalDataPayload)
	writeInsert(w, r, employeeID, req.EffectiveDate, id, err)
}

func writeInsert(w http.ResponseWriter, r *http.Request, employeeID string, effective generic.TimePoint, id generic.RecordID, err error) {
	if err != nil && id == "" {
		writeDomainError(w, r, "Failed to insert version", err)
		return
	}
	if err != nil {
		// The version committed; only a side effect failed.
		hlog.FromRequest(r).Warn().Err(err).Str("record_id", string(id)).Msg("version written, side effect failed")
	}
	writeJSON(w, http.StatusCreated, InsertResponse{ID: id, EmployeeID: employeeID, EffectiveDate: effective})
}

// historyHandler lists every version of one timeline.
func historyHandler[P any](in *timeline.Instance[P]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versions, err := in.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, "Failed to load history", err)
			return
		}
		writeJSON(w, http.StatusOK, versions)
	}
}

// asOfHandler answers "what was true on ?date=". No date means today.
func asOfHandler[P any](in *timeline.Instance[P], clock generic.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asOf, err := queryDate(r, "date", generic.Today(clock))
		if err != nil {
			writeDomainError(w, r, "Invalid date", err)
			return
		}
		v, ok, err := in.AsOf(r.Context(), chi.URLParam(r, "id"), asOf)
		if err != nil {
			writeDomainError(w, r, "Failed to load version", err)
			return
		}
		resp := AsOfResponse[P]{AsOf: asOf}
		if ok {
			resp.Version = &v
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// cancelHandler removes a version that has not taken effect yet.
func cancelHandler[P any](in *timeline.Instance[P]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := in.CancelFuture(r.Context(), chi.URLParam(r, "id"), generic.RecordID(chi.URLParam(r, "recordID")))
		if err != nil {
			writeDomainError(w, r, "Failed to cancel version", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// =============================================================================
// EQUITY HANDLERS
// =============================================================================

// CreateGrant validates the grant and materializes its vesting ledger.
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	g, events, err := h.Equity.CreateGrant(r.Context(), req.toGrant())
	if err != nil {
		writeDomainError(w, r, "Failed to create grant", err)
		return
	}
	writeJSON(w, http.StatusCreated, GrantResponse{Grant: g, Events: nonNilEvents(events)})
}

func (h *Handler) GetGrant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, err := h.Equity.Grant(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "Failed to get grant", err)
		return
	}
	events, err := h.Equity.Events(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "Failed to load vesting events", err)
		return
	}
	writeJSON(w, http.StatusOK, GrantResponse{Grant: g, Events: nonNilEvents(events)})
}

// GetSchedule returns the generated schedule. ?forfeit_all=true applies
// the coarse rule that marks every item forfeited once anything is.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var opts []equity.GenerateOption
	if r.URL.Query().Get("forfeit_all") == "true" {
		opts = append(opts, equity.WithForfeitAll())
	}
	items, err := h.Equity.Schedule(r.Context(), id, opts...)
	if err != nil {
		writeDomainError(w, r, "Failed to generate schedule", err)
		return
	}
	if items == nil {
		items = []equity.ScheduleItem{}
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{
		GrantID: id,
		AsOf:    h.today(),
		Total:   equity.TotalShares(items),
		Items:   items,
	})
}

func (h *Handler) GetGrantEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Equity.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Failed to load vesting events", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilEvents(events))
}

func (h *Handler) GetGrantNextVesting(w http.ResponseWriter, r *http.Request) {
	next, ok, err := h.Equity.NextVesting(r.Context(), chi.URLParam(r, "id"))
	writeNextVesting(w, r, next, ok, err)
}

func (h *Handler) GetEmployeeGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.Equity.GrantsForEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Failed to list grants", err)
		return
	}
	if grants == nil {
		grants = []equity.Grant{}
	}
	writeJSON(w, http.StatusOK, grants)
}

// GetEmployeeNextVesting is the earliest upcoming vest across all grants.
func (h *Handler) GetEmployeeNextVesting(w http.ResponseWriter, r *http.Request) {
	next, ok, err := h.Equity.NextVestingForEmployee(r.Context(), chi.URLParam(r, "id"))
	writeNextVesting(w, r, next, ok, err)
}

func writeNextVesting(w http.ResponseWriter, r *http.Request, next equity.NextVest, ok bool, err error) {
	if err != nil {
		writeDomainError(w, r, "Failed to resolve next vesting", err)
		return
	}
	resp := NextVestingResponse{}
	if ok {
		resp.Next = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// TerminateGrant forfeits the grant's unvested shares.
func (h *Handler) TerminateGrant(w http.ResponseWriter, r *http.Request) {
	var req TerminateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	f, g, err := h.Equity.Terminate(r.Context(), chi.URLParam(r, "id"), req.TerminationDate)
	if err != nil {
		writeDomainError(w, r, "Failed to terminate grant", err)
		return
	}
	writeJSON(w, http.StatusOK, TerminateResponse{Forfeiture: f, Grant: g})
}

// TerminateEmployeeEquity terminates every active grant of the employee.
func (h *Handler) TerminateEmployeeEquity(w http.ResponseWriter, r *http.Request) {
	var req TerminateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Equity.TerminateEmployee(r.Context(), chi.URLParam(r, "id"), req.TerminationDate)
	if err != nil {
		writeDomainError(w, r, "Failed to terminate equity", err)
		return
	}
	if out == nil {
		out = []equity.Forfeiture{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ProcessEvent moves one due event from scheduled to processed.
func (h *Handler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	e, g, err := h.Equity.ProcessEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Failed to process vesting event", err)
		return
	}
	writeJSON(w, http.StatusOK, ProcessEventResponse{Event: e, Grant: g})
}

// =============================================================================
// VESTING JOB HANDLERS
// =============================================================================

// RunVesting runs one vesting batch synchronously.
func (h *Handler) RunVesting(w http.ResponseWriter, r *http.Request) {
	report, err := h.Vesting.RunOnce(r.Context())
	if err != nil {
		writeDomainError(w, r, "Vesting run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListVestingRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.Vesting.Runs()
	if runs == nil {
		runs = []scheduler.RunReport{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Resetter == nil {
		writeError(w, http.StatusNotFound, "Reset is disabled", nil)
		return
	}
	if err := h.Resetter.Reset(r.Context()); err != nil {
		writeDomainError(w, r, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadEmployee(w http.ResponseWriter, r *http.Request) (*timeline.Employee, bool) {
	emp, err := h.Directory.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Failed to get employee", err)
		return nil, false
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return nil, false
	}
	return emp, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		resp := ErrorResponse{Error: "Invalid request body", Details: err.Error()}
		var ve *generic.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

func queryDate(r *http.Request, key string, fallback generic.TimePoint) (generic.TimePoint, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return fallback, nil
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, &generic.ValidationError{Field: key, Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", s)}
	}
	return tp, nil
}

func nonNilEvents(events []equity.VestingEvent) []equity.VestingEvent {
	if events == nil {
		return []equity.VestingEvent{}
	}
	return events
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the generic error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	var ve *generic.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		resp.Field = ve.Field
	case errors.Is(err, generic.ErrValidation):
		status = http.StatusBadRequest
	case generic.IsNotFound(err):
		status = http.StatusNotFound
	case generic.IsRetryable(err):
		status = http.StatusConflict
		resp.Retryable = true
		w.Header().Set("Retry-After", "1")
	case errors.Is(err, generic.ErrTemporalIntegrity), generic.IsPermanent(err):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	l := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Int("status", status).Msg(message)
		resp.Details = ""
	} else {
		l.Warn().Err(err).Int("status", status).Msg(message)
	}
	writeJSON(w, status, resp)
}
