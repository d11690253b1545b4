package timeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/generic/store"
	"github.com/warp/people-engine/timeline"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

// movableClock lets a test advance "today".
type movableClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *movableClock) Set(tp generic.TimePoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = tp.Time.Add(9 * time.Hour)
}

func newClock(today string) *movableClock {
	c := &movableClock{}
	c.Set(date(today))
	return c
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses map[string]timeline.EmploymentStatus
	writes   int
}

func (r *statusRecorder) UpdateEmploymentStatus(_ context.Context, employeeID string, status timeline.EmploymentStatus, _ generic.TimePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = map[string]timeline.EmploymentStatus{}
	}
	r.statuses[employeeID] = status
	r.writes++
	return nil
}

func (r *statusRecorder) get(id string) timeline.EmploymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

func newTemporal(clock generic.Clock) *generic.TemporalStore {
	return generic.NewTemporalStore(store.NewMemory(), clock)
}

func job(title string, status timeline.EmploymentStatus) timeline.EmploymentPayload {
	return timeline.EmploymentPayload{
		JobTitle:       title,
		Department:     "Engineering",
		EmploymentType: timeline.EmploymentFullTime,
		Status:         status,
	}
}

// =============================================================================
// EMPLOYMENT
// =============================================================================

func TestEmployment_CurrentInsertUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	clock := newClock("2025-06-15")
	rec := &statusRecorder{}
	emp := timeline.NewEmploymentTimeline(newTemporal(clock), rec)

	// GIVEN: Hired last year
	_, err := emp.Insert(ctx, "emp-1", date("2024-01-01"), job("Engineer", timeline.StatusActive))
	require.NoError(t, err)
	assert.Equal(t, timeline.StatusActive, rec.get("emp-1"))

	// WHEN: A leave is scheduled for next month
	_, err = emp.Insert(ctx, "emp-1", date("2025-07-01"), job("Engineer", timeline.StatusOnLeave))
	require.NoError(t, err)

	// THEN: The denormalized status is untouched until it takes effect
	assert.Equal(t, timeline.StatusActive, rec.get("emp-1"))
	assert.Equal(t, 1, rec.writes)

	// WHEN: Time passes and the status is refreshed
	clock.Set(date("2025-07-02"))
	status, err := emp.RefreshStatus(ctx, "emp-1")
	require.NoError(t, err)

	assert.Equal(t, timeline.StatusOnLeave, status)
	assert.Equal(t, timeline.StatusOnLeave, rec.get("emp-1"))
}

func TestEmployment_AsOfAndHistory(t *testing.T) {
	ctx := context.Background()
	emp := timeline.NewEmploymentTimeline(newTemporal(newClock("2025-06-15")), nil)

	_, err := emp.Insert(ctx, "emp-1", date("2024-01-01"), job("Engineer", timeline.StatusActive))
	require.NoError(t, err)
	promo, err := emp.Insert(ctx, "emp-1", date("2025-03-01"), job("Senior Engineer", timeline.StatusActive))
	require.NoError(t, err)

	v, ok, err := emp.AsOf(ctx, "emp-1", date("2025-02-28"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Engineer", v.Payload.JobTitle)
	require.NotNil(t, v.EndDate)
	assert.Equal(t, date("2025-03-01"), *v.EndDate)

	cur, ok, err := emp.Current(ctx, "emp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, promo, cur.ID)
	assert.Nil(t, cur.EndDate)

	_, ok, err = emp.AsOf(ctx, "emp-1", date("2023-12-31"))
	require.NoError(t, err)
	assert.False(t, ok)

	h, err := emp.History(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "Senior Engineer", h[1].Payload.JobTitle)
}

func TestEmployment_CancelFuturePromotion(t *testing.T) {
	ctx := context.Background()
	emp := timeline.NewEmploymentTimeline(newTemporal(newClock("2025-06-15")), nil)

	first, err := emp.Insert(ctx, "emp-1", date("2024-01-01"), job("Engineer", timeline.StatusActive))
	require.NoError(t, err)
	future, err := emp.Insert(ctx, "emp-1", date("2025-09-01"), job("Staff Engineer", timeline.StatusActive))
	require.NoError(t, err)

	require.NoError(t, emp.CancelFuture(ctx, "emp-1", future))

	h, err := emp.History(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, first, h[0].ID)
	assert.Nil(t, h[0].EndDate)

	// AND: The current version cannot be cancelled
	err = emp.CancelFuture(ctx, "emp-1", first)
	assert.ErrorIs(t, err, generic.ErrTemporalIntegrity)
}

func TestEmployment_Validation(t *testing.T) {
	ctx := context.Background()
	emp := timeline.NewEmploymentTimeline(newTemporal(newClock("2025-06-15")), nil)

	tests := []struct {
		name    string
		payload timeline.EmploymentPayload
		field   string
	}{
		{"missing title", timeline.EmploymentPayload{Department: "Eng", EmploymentType: "full_time", Status: "active"}, "job_title"},
		{"bad type", timeline.EmploymentPayload{JobTitle: "x", Department: "Eng", EmploymentType: "gig", Status: "active"}, "employment_type"},
		{"bad status", timeline.EmploymentPayload{JobTitle: "x", Department: "Eng", EmploymentType: "full_time", Status: "retired"}, "status"},
		{"self manager", timeline.EmploymentPayload{JobTitle: "x", Department: "Eng", EmploymentType: "full_time", Status: "active", ManagerID: "emp-1"}, "manager_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := emp.Insert(ctx, "emp-1", date("2024-01-01"), tt.payload)
			var ve *generic.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	h, err := emp.History(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestEmployment_TerminationDate(t *testing.T) {
	ctx := context.Background()
	emp := timeline.NewEmploymentTimeline(newTemporal(newClock("2025-06-15")), nil)

	_, err := emp.Insert(ctx, "emp-1", date("2024-01-01"), job("Engineer", timeline.StatusActive))
	require.NoError(t, err)
	_, ok, err := emp.TerminationDate(ctx, "emp-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = emp.Insert(ctx, "emp-1", date("2025-05-31"), job("Engineer", timeline.StatusTerminated))
	require.NoError(t, err)
	d, ok, err := emp.TerminationDate(ctx, "emp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, date("2025-05-31"), d)
}

// =============================================================================
// SALARY
// =============================================================================

func TestSalary_AnnualizedAtWriteTime(t *testing.T) {
	ctx := context.Background()
	rates := timeline.NewStaticRates()
	rates.Set("EUR", "USD", decimal.RequireFromString("1.1"))
	sal := timeline.NewSalaryTimeline(newTemporal(newClock("2025-06-15")), rates, "USD")

	// GIVEN: 5000 EUR per month
	id, err := sal.Insert(ctx, "emp-1", date("2025-01-01"), timeline.SalaryInput{
		Amount: decimal.NewFromInt(5000), Currency: "EUR", Frequency: timeline.PayMonthly,
	})
	require.NoError(t, err)

	// WHEN: The EUR rate changes afterwards
	rates.Set("EUR", "USD", decimal.RequireFromString("1.3"))

	// THEN: The stored version keeps the original snapshot
	v, ok, err := sal.Current(ctx, "emp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, v.ID)
	assert.Equal(t, "66000", v.Payload.AnnualizedAmount.String())
	assert.Equal(t, "1.1", v.Payload.ExchangeRate.String())
	assert.Equal(t, "USD", v.Payload.BaseCurrency)
	assert.Equal(t, date("2025-06-15"), v.Payload.RateDate)
}

func TestAnnualize_Frequencies(t *testing.T) {
	one := decimal.NewFromInt(1)
	tests := []struct {
		freq   timeline.PayFrequency
		amount string
		want   string
	}{
		{timeline.PayAnnual, "120000", "120000"},
		{timeline.PayMonthly, "10000", "120000"},
		{timeline.PaySemiMonthly, "5000", "120000"},
		{timeline.PayBiweekly, "4000", "104000"},
		{timeline.PayWeekly, "2000", "104000"},
		{timeline.PayHourly, "50.125", "104260"},
	}
	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			got := timeline.Annualize(decimal.RequireFromString(tt.amount), tt.freq, one)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestSalary_Validation(t *testing.T) {
	ctx := context.Background()
	sal := timeline.NewSalaryTimeline(newTemporal(newClock("2025-06-15")), timeline.NewStaticRates(), "USD")

	_, err := sal.Insert(ctx, "emp-1", date("2025-01-01"), timeline.SalaryInput{
		Amount: decimal.Zero, Currency: "USD", Frequency: timeline.PayAnnual,
	})
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "amount", ve.Field)

	_, err = sal.Insert(ctx, "emp-1", date("2025-01-01"), timeline.SalaryInput{
		Amount: decimal.NewFromInt(10), Currency: "usd", Frequency: timeline.PayAnnual,
	})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "currency", ve.Field)

	// Unknown pair: no rate configured for GBP
	_, err = sal.Insert(ctx, "emp-1", date("2025-01-01"), timeline.SalaryInput{
		Amount: decimal.NewFromInt(10), Currency: "GBP", Frequency: timeline.PayAnnual,
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestStaticRates_InverseAndIdentity(t *testing.T) {
	ctx := context.Background()
	rates := timeline.NewStaticRates()
	rates.Set("USD", "JPY", decimal.NewFromInt(150))

	r, _, err := rates.Rate(ctx, "JPY", "USD", date("2025-01-01"))
	require.NoError(t, err)
	assert.True(t, r.Mul(decimal.NewFromInt(150)).Round(6).Equal(decimal.NewFromInt(1)))

	r, _, err = rates.Rate(ctx, "usd", "USD", date("2025-01-01"))
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.NewFromInt(1)))
}

// =============================================================================
// LOCAL DATA
// =============================================================================

func TestLocalData_CountryValidation(t *testing.T) {
	ctx := context.Background()
	ld := timeline.NewLocalDataTimeline(newTemporal(newClock("2025-06-15")))

	_, err := ld.Insert(ctx, "emp-1", date("2025-01-01"), timeline.LocalDataPayload{
		CountryCode: "de", Fields: map[string]string{"tax_class": "1"},
	})
	require.NoError(t, err)

	v, ok, err := ld.Current(ctx, "emp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "DE", v.Payload.CountryCode)
	assert.Equal(t, "1", v.Payload.Fields["tax_class"])

	_, err = ld.Insert(ctx, "emp-1", date("2025-02-01"), timeline.LocalDataPayload{CountryCode: "XX"})
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "country_code", ve.Field)
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type fakeDocuments []timeline.Document

func (f fakeDocuments) DocumentsForEmployee(context.Context, string) ([]timeline.Document, error) {
	return f, nil
}

func TestAggregator_MergesChronologically(t *testing.T) {
	ctx := context.Background()
	clock := newClock("2025-06-15")
	temporal := newTemporal(clock)
	rates := timeline.NewStaticRates()

	emp := timeline.NewEmploymentTimeline(temporal, nil)
	sal := timeline.NewSalaryTimeline(temporal, rates, "USD")
	equitySvc := equity.NewService(equity.NewMemory(), clock, zerolog.Nop())

	_, err := emp.Insert(ctx, "emp-1", date("2024-01-01"), job("Engineer", timeline.StatusActive))
	require.NoError(t, err)
	_, err = sal.Insert(ctx, "emp-1", date("2024-01-01"), timeline.SalaryInput{
		Amount: decimal.NewFromInt(100000), Currency: "USD", Frequency: timeline.PayAnnual,
	})
	require.NoError(t, err)
	_, err = emp.Insert(ctx, "emp-1", date("2025-09-01"), job("Senior Engineer", timeline.StatusActive))
	require.NoError(t, err)
	_, _, err = equitySvc.CreateGrant(ctx, equity.Grant{
		EmployeeID: "emp-1", GrantDate: date("2024-02-01"), SharesGranted: 300,
		VestingType: equity.VestingLinear, VestingStartDate: date("2025-04-01"), TotalVestingMonths: 3,
	})
	require.NoError(t, err)

	agg := &timeline.Aggregator{
		Employment: emp,
		Salary:     sal,
		Equity:     equitySvc,
		Documents:  fakeDocuments{{ID: "doc-1", Title: "Offer letter", Date: date("2023-12-15")}},
		Clock:      clock,
	}

	entries, err := agg.Aggregate(ctx, "emp-1", timeline.Filter{})
	require.NoError(t, err)

	kinds := make([]timeline.EntryKind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []timeline.EntryKind{
		timeline.EntryDocument,   // 2023-12-15
		timeline.EntryEmployment, // 2024-01-01
		timeline.EntrySalary,     // 2024-01-01
		timeline.EntryGrant,      // 2024-02-01
		timeline.EntryVesting,    // 2025-05-01
		timeline.EntryVesting,    // 2025-06-01
		timeline.EntryVesting,    // 2025-07-01
		timeline.EntryEmployment, // 2025-09-01
	}, kinds)
	assert.False(t, entries[5].Future)
	assert.True(t, entries[6].Future)

	// WHEN: Filtered to future employment changes
	entries, err = agg.Aggregate(ctx, "emp-1", timeline.Filter{
		From:  date("2025-06-16"),
		Kinds: []timeline.EntryKind{timeline.EntryEmployment},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Title, "Senior Engineer")
}
