package timeline

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/generic"
)

// =============================================================================
// SALARY TIMELINE
// =============================================================================

// SalaryTimeline stores compensation versions. Each version freezes its
// annualized amount in the base currency using the exchange rate in force
// when it was written; later rate changes never rewrite history.
type SalaryTimeline struct {
	*Instance[SalaryPayload]
	rates        RateProvider
	baseCurrency string
}

func NewSalaryTimeline(temporal *generic.TemporalStore, rates RateProvider, baseCurrency string) *SalaryTimeline {
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &SalaryTimeline{
		Instance:     &Instance[SalaryPayload]{Kind: KindSalary, Temporal: temporal},
		rates:        rates,
		baseCurrency: baseCurrency,
	}
}

func (t *SalaryTimeline) BaseCurrency() string { return t.baseCurrency }

// Insert validates the input, snapshots the exchange rate and writes the
// normalized version.
func (t *SalaryTimeline) Insert(ctx context.Context, employeeID string, effective generic.TimePoint, in SalaryInput) (generic.RecordID, error) {
	payload, err := t.Normalize(ctx, in)
	if err != nil {
		return "", err
	}
	return t.insert(ctx, employeeID, effective, payload)
}

// Normalize turns caller input into the persisted payload. The rate is
// quoted for the write date, not the effective date.
func (t *SalaryTimeline) Normalize(ctx context.Context, in SalaryInput) (SalaryPayload, error) {
	if err := validateStruct(in); err != nil {
		return SalaryPayload{}, err
	}
	if !in.Amount.IsPositive() {
		return SalaryPayload{}, &generic.ValidationError{Field: "amount", Message: "must be positive"}
	}

	rate, rateDate, err := t.rates.Rate(ctx, in.Currency, t.baseCurrency, generic.Today(t.Temporal.Clock))
	if err != nil {
		return SalaryPayload{}, fmt.Errorf("exchange rate %s/%s: %w", in.Currency, t.baseCurrency, err)
	}

	return SalaryPayload{
		Amount:           in.Amount,
		Currency:         in.Currency,
		Frequency:        in.Frequency,
		AnnualizedAmount: Annualize(in.Amount, in.Frequency, rate),
		BaseCurrency:     t.baseCurrency,
		ExchangeRate:     rate,
		RateDate:         rateDate,
		Reason:           in.Reason,
	}, nil
}

// Annualize converts one pay period into a yearly amount in the base
// currency, rounded to cents.
func Annualize(amount decimal.Decimal, freq PayFrequency, rate decimal.Decimal) decimal.Decimal {
	periods, ok := periodsPerYear[freq]
	if !ok {
		periods = 1
	}
	return amount.Mul(decimal.NewFromInt(periods)).Mul(rate).Round(2)
}
