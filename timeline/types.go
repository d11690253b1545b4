// Package timeline implements the HR timelines on top of the generic
// effective-dating engine: employment, salary and country-specific data.
// Each timeline owns one record kind, validates its payload shape, and runs
// its domain side effects (status denormalization, currency snapshots).
package timeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/generic"
)

// =============================================================================
// RECORD KINDS
// =============================================================================

const (
	KindEmployment generic.RecordKind = "employment"
	KindSalary     generic.RecordKind = "salary"
	KindLocalData  generic.RecordKind = "local_data"
)

// =============================================================================
// EMPLOYMENT PAYLOAD
// =============================================================================

type EmploymentType string

const (
	EmploymentFullTime   EmploymentType = "full_time"
	EmploymentPartTime   EmploymentType = "part_time"
	EmploymentContractor EmploymentType = "contractor"
	EmploymentIntern     EmploymentType = "intern"
)

type EmploymentStatus string

const (
	StatusActive     EmploymentStatus = "active"
	StatusOnLeave    EmploymentStatus = "on_leave"
	StatusTerminated EmploymentStatus = "terminated"
)

type EmploymentPayload struct {
	JobTitle       string           `json:"job_title" validate:"required,max=200"`
	Department     string           `json:"department" validate:"required,max=200"`
	ManagerID      string           `json:"manager_id,omitempty"`
	EmploymentType EmploymentType   `json:"employment_type" validate:"required,oneof=full_time part_time contractor intern"`
	Status         EmploymentStatus `json:"status" validate:"required,oneof=active on_leave terminated"`
	Location       string           `json:"location,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// =============================================================================
// SALARY PAYLOAD
// =============================================================================

type PayFrequency string

const (
	PayAnnual      PayFrequency = "annual"
	PayMonthly     PayFrequency = "monthly"
	PaySemiMonthly PayFrequency = "semi_monthly"
	PayBiweekly    PayFrequency = "biweekly"
	PayWeekly      PayFrequency = "weekly"
	PayHourly      PayFrequency = "hourly"
)

// periodsPerYear converts one pay period into a yearly figure.
var periodsPerYear = map[PayFrequency]int64{
	PayAnnual:      1,
	PayMonthly:     12,
	PaySemiMonthly: 24,
	PayBiweekly:    26,
	PayWeekly:      52,
	PayHourly:      2080,
}

// SalaryInput is what callers submit; the timeline fills in the normalized
// fields before the record is written.
type SalaryInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency" validate:"required,len=3,uppercase"`
	Frequency PayFrequency    `json:"frequency" validate:"required,oneof=annual monthly semi_monthly biweekly weekly hourly"`
	Reason    string          `json:"reason,omitempty"`
}

// SalaryPayload is the persisted salary version. AnnualizedAmount is frozen
// at write time with the exchange rate in force then.
type SalaryPayload struct {
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	Frequency        PayFrequency      `json:"frequency"`
	AnnualizedAmount decimal.Decimal   `json:"annualized_amount"`
	BaseCurrency     string            `json:"base_currency"`
	ExchangeRate     decimal.Decimal   `json:"exchange_rate"`
	RateDate         generic.TimePoint `json:"rate_date"`
	Reason           string            `json:"reason,omitempty"`
}

// =============================================================================
// LOCAL DATA PAYLOAD
// =============================================================================

// LocalDataPayload holds fields that only make sense in one country
// (tax codes, social security numbers, works-council flags).
type LocalDataPayload struct {
	CountryCode string            `json:"country_code" validate:"required,iso3166_1_alpha2"`
	Fields      map[string]string `json:"fields" validate:"dive,keys,required,endkeys,max=1000"`
}

// =============================================================================
// VERSION - Typed view of a generic.Record
// =============================================================================

type Version[P any] struct {
	ID            generic.RecordID   `json:"id"`
	SubjectID     generic.SubjectID  `json:"subject_id"`
	EffectiveDate generic.TimePoint  `json:"effective_date"`
	EndDate       *generic.TimePoint `json:"end_date"`
	Payload       P                  `json:"payload"`
}

func versionOf[P any](rec generic.Record) (Version[P], error) {
	v := Version[P]{
		ID:            rec.ID,
		SubjectID:     rec.SubjectID,
		EffectiveDate: rec.EffectiveDate,
		EndDate:       rec.EndDate,
	}
	if err := rec.DecodePayload(&v.Payload); err != nil {
		return Version[P]{}, err
	}
	return v, nil
}

// =============================================================================
// INSTANCE - Shared read/cancel operations for one record kind
// =============================================================================

// Instance binds a payload type to a record kind. Timelines embed it and add
// their own Insert with domain validation.
type Instance[P any] struct {
	Kind     generic.RecordKind
	Temporal *generic.TemporalStore
}

func (in *Instance[P]) insert(ctx context.Context, employeeID string, effective generic.TimePoint, payload P) (generic.RecordID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", in.Kind, err)
	}
	return in.Temporal.Insert(ctx, in.Kind, generic.SubjectID(employeeID), effective, raw)
}

// AsOf returns the version active on the given date.
func (in *Instance[P]) AsOf(ctx context.Context, employeeID string, asOf generic.TimePoint) (Version[P], bool, error) {
	rec, ok, err := in.Temporal.PointInTime(ctx, in.Kind, generic.SubjectID(employeeID), asOf)
	if err != nil || !ok {
		return Version[P]{}, false, err
	}
	v, err := versionOf[P](rec)
	return v, err == nil, err
}

// Current returns the version active today.
func (in *Instance[P]) Current(ctx context.Context, employeeID string) (Version[P], bool, error) {
	return in.AsOf(ctx, employeeID, generic.Today(in.Temporal.Clock))
}

// History returns every version, past, current and future.
func (in *Instance[P]) History(ctx context.Context, employeeID string) ([]Version[P], error) {
	recs, err := in.Temporal.History(ctx, in.Kind, generic.SubjectID(employeeID))
	if err != nil {
		return nil, err
	}
	out := make([]Version[P], 0, len(recs))
	for _, rec := range recs {
		v, err := versionOf[P](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// CancelFuture removes a version that has not taken effect yet.
func (in *Instance[P]) CancelFuture(ctx context.Context, employeeID string, id generic.RecordID) error {
	return in.Temporal.CancelFutureRecord(ctx, in.Kind, generic.SubjectID(employeeID), id)
}

// validateStruct applies the payload's struct tags.
func validateStruct(s any) error { return generic.ValidateStruct(s) }
