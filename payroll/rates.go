/*
rates.go - Exchange-rate lookup

PURPOSE:
  Employees may be paid in a currency other than the run's calculation
  currency. Conversion uses the rate valid for the calculation date, and
  the applied rate is recorded on the per-employee result. Absence of a
  rate is a hard error for that employee - caught and logged by the
  engine, never fatal to the run.
*/
package payroll

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource resolves exchange rates as of a date. Implementations may hit
// external services; the engine treats lookups as suspension points.
type RateSource interface {
	Rate(ctx context.Context, from, to Currency, asOf time.Time) (decimal.Decimal, error)
}

// Convert converts an amount between currencies, recording the rate used.
// Same-currency conversion applies a rate of 1 without a lookup.
func Convert(ctx context.Context, src RateSource, amount decimal.Decimal, from, to Currency, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if from == to {
		return amount, decimal.NewFromInt(1), nil
	}
	rate, err := src.Rate(ctx, from, to, asOf)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return amount.Mul(rate), rate, nil
}

// =============================================================================
// STATIC RATES - In-memory RateSource for tests and dev
// =============================================================================

type rateKey struct {
	From Currency
	To   Currency
}

// StaticRates is a fixed rate table. Dates are ignored; the same rate
// applies to every calculation date.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[rateKey]decimal.Decimal
}

func NewStaticRates() *StaticRates {
	return &StaticRates{rates: make(map[rateKey]decimal.Decimal)}
}

func (s *StaticRates) Set(from, to Currency, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[rateKey{From: from, To: to}] = rate
}

func (s *StaticRates) Rate(_ context.Context, from, to Currency, asOf time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[rateKey{From: from, To: to}]
	if !ok {
		return decimal.Zero, &MissingRateError{From: from, To: to, AsOf: asOf}
	}
	return rate, nil
}
