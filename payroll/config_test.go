package payroll

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

// fakeConfigStore is a minimal ConfigStore for resolver tests.
type fakeConfigStore struct {
	configs map[CompanyID]CalculationConfig
	saved   []CalculationConfig
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{configs: make(map[CompanyID]CalculationConfig)}
}

func (f *fakeConfigStore) ActiveConfig(_ context.Context, company CompanyID) (*CalculationConfig, error) {
	if cfg, ok := f.configs[company]; ok && cfg.Active {
		copied := cfg
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeConfigStore) SaveConfig(_ context.Context, cfg CalculationConfig) error {
	f.configs[cfg.CompanyID] = cfg
	f.saved = append(f.saved, cfg)
	return nil
}

// =============================================================================
// RESOLUTION TESTS
// =============================================================================

func TestConfigResolver_CompanyOverridesGlobal(t *testing.T) {
	// GIVEN: An active company config and an active global default
	// WHEN: Resolving for that company
	// THEN: The company config wins

	store := newFakeConfigStore()
	store.configs[""] = CalculationConfig{ID: "global", DayFactor: decimal.NewFromInt(30), Active: true}
	store.configs["co-1"] = CalculationConfig{ID: "company", CompanyID: "co-1", DayFactor: decimal.NewFromInt(28), Active: true}

	resolver := &ConfigResolver{Store: store}
	cfg, err := resolver.Resolve(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "company" {
		t.Errorf("expected company config, got %s", cfg.ID)
	}
}

func TestConfigResolver_GlobalFallback(t *testing.T) {
	// GIVEN: Only a global default
	// WHEN: Resolving for a company with no scoped config
	// THEN: The global default is returned

	store := newFakeConfigStore()
	store.configs[""] = CalculationConfig{ID: "global", DayFactor: decimal.NewFromInt(30), Active: true}

	resolver := &ConfigResolver{Store: store}
	cfg, err := resolver.Resolve(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "global" {
		t.Errorf("expected global config, got %s", cfg.ID)
	}
}

func TestConfigResolver_LazyDefaultCreation(t *testing.T) {
	// GIVEN: No configuration at all
	// WHEN: Resolving
	// THEN: The documented defaults are returned and persisted

	store := newFakeConfigStore()
	resolver := &ConfigResolver{Store: store}

	cfg, err := resolver.Resolve(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != ProrationCalendar {
		t.Errorf("expected calendar mode, got %s", cfg.Mode)
	}
	if !cfg.DayFactor.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected day factor 30, got %s", cfg.DayFactor)
	}
	if !cfg.ApplyLoans || !cfg.ApplyAdvances {
		t.Error("defaults should apply loans and advances")
	}
	if len(store.saved) != 1 {
		t.Errorf("expected the default to be persisted once, saved %d times", len(store.saved))
	}

	// Resolving again reuses the persisted default.
	if _, err := resolver.Resolve(context.Background(), "co-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.saved) != 1 {
		t.Errorf("expected no second save, saved %d times", len(store.saved))
	}
}

// =============================================================================
// PRORATION TESTS
// =============================================================================

func TestDailyRate_Factor30(t *testing.T) {
	// GIVEN: Salary 300 with day factor 30
	// WHEN: Computing the daily rate
	// THEN: Exactly 10.00

	cfg := CalculationConfig{DayFactor: decimal.NewFromInt(30)}
	rate, err := cfg.DailyRate(decimal.NewFromInt(300))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate.StringFixed(2) != "10.00" {
		t.Errorf("expected 10.00, got %s", rate.StringFixed(2))
	}
}

func TestDailyRate_Factor28RoundsAtBoundary(t *testing.T) {
	// GIVEN: Salary 300 with day factor 28
	// WHEN: Computing the daily rate and rounding to the cent
	// THEN: 10.71

	cfg := CalculationConfig{DayFactor: decimal.NewFromInt(28)}
	rate, err := cfg.DailyRate(decimal.NewFromInt(300))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate.Round(2).StringFixed(2) != "10.71" {
		t.Errorf("expected 10.71, got %s", rate.Round(2).StringFixed(2))
	}
}

func TestDailyRate_InvalidFactor(t *testing.T) {
	// GIVEN: A zero day factor
	// WHEN: Computing the daily rate
	// THEN: ErrInvalidDayFactor

	cfg := CalculationConfig{DayFactor: decimal.Zero}
	if _, err := cfg.DailyRate(decimal.NewFromInt(300)); err == nil {
		t.Fatal("expected an error for zero day factor")
	}
}

func TestNormalizedMode_UnknownFallsBackToCalendar(t *testing.T) {
	// GIVEN: An unrecognized proration mode
	// WHEN: Normalizing
	// THEN: Calendar mode with a warning

	cfg := CalculationConfig{Mode: "lunar"}
	mode, warn := cfg.NormalizedMode()
	if mode != ProrationCalendar {
		t.Errorf("expected calendar, got %s", mode)
	}
	if warn == nil {
		t.Fatal("expected a warning")
	}
	if warn.Level != LevelWarning {
		t.Errorf("expected warning level, got %s", warn.Level)
	}
}

func TestNormalizedMode_KnownModesPass(t *testing.T) {
	for _, mode := range []ProrationMode{ProrationCalendar, ProrationWorking} {
		cfg := CalculationConfig{Mode: mode}
		got, warn := cfg.NormalizedMode()
		if got != mode || warn != nil {
			t.Errorf("mode %s should pass through unchanged", mode)
		}
	}
}
