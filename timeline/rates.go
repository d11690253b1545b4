package timeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/generic"
)

// RateProvider returns the exchange rate converting one unit of from into
// to, together with the date the rate was quoted for.
type RateProvider interface {
	Rate(ctx context.Context, from, to string, on generic.TimePoint) (decimal.Decimal, generic.TimePoint, error)
}

// StaticRates is a fixed rate table. Lookups try the direct pair, then the
// inverse pair. Every rate is quoted for the requested date.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewStaticRates() *StaticRates {
	return &StaticRates{rates: make(map[string]decimal.Decimal)}
}

// Set records how many units of to one unit of from buys.
func (s *StaticRates) Set(from, to string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairKey(from, to)] = rate
}

func (s *StaticRates) Rate(_ context.Context, from, to string, on generic.TimePoint) (decimal.Decimal, generic.TimePoint, error) {
	if strings.EqualFold(from, to) {
		return decimal.NewFromInt(1), on, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rates[pairKey(from, to)]; ok {
		return r, on, nil
	}
	if r, ok := s.rates[pairKey(to, from)]; ok && !r.IsZero() {
		return decimal.NewFromInt(1).DivRound(r, 10), on, nil
	}
	return decimal.Zero, generic.TimePoint{}, &generic.ValidationError{
		Field:   "currency",
		Message: fmt.Sprintf("no exchange rate from %s to %s", from, to),
	}
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}
