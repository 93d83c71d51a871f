/*
config.go - Calculation configuration and resolution

PURPOSE:
  Resolves the effective calculation configuration for a company: the
  proration mode and day factor used to convert a monthly salary into a
  daily rate, and whether loans/advances are applied automatically.

RESOLUTION ORDER:
  1. Active company-scoped configuration, if one exists
  2. Active global default (company unset)
  3. Lazily created global default with documented defaults

INVARIANT:
  At most one active global configuration, and at most one active
  configuration per company. The store enforces this on save.

DEFAULTS:
  Mode:       calendar
  DayFactor:  30
  Loans:      applied automatically
  Advances:   applied automatically

SEE ALSO:
  - engine.go: Uses the resolved config for loan application flags
  - settlement: Uses mode + day factor for pending-day proration
*/
package payroll

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type ProrationMode string

const (
	ProrationCalendar ProrationMode = "calendar" // Fixed calendar-day factor
	ProrationWorking  ProrationMode = "working"  // Working-day factor
)

// CalculationConfig holds the tunable calculation behavior for a company.
// A config with an empty CompanyID is the global default.
//
// Mode labels the regime the operator configured DayFactor under (30
// calendar days, 22-28 working days, and so on); the factor itself is
// always taken from DayFactor, never derived from the mode. An
// unrecognized mode normalizes to calendar with a warning and leaves the
// configured factor in force.
type CalculationConfig struct {
	ID            string
	CompanyID     CompanyID
	Mode          ProrationMode
	DayFactor     decimal.Decimal // Days per month used for daily-rate proration
	ApplyLoans    bool
	ApplyAdvances bool
	Active        bool
}

// DefaultConfig returns the documented global defaults.
func DefaultConfig() CalculationConfig {
	return CalculationConfig{
		ID:            "config-global",
		Mode:          ProrationCalendar,
		DayFactor:     decimal.NewFromInt(30),
		ApplyLoans:    true,
		ApplyAdvances: true,
		Active:        true,
	}
}

// NormalizedMode returns the effective proration mode, substituting calendar
// for unrecognized values. The returned warning is non-nil when a
// substitution happened.
func (c CalculationConfig) NormalizedMode() (ProrationMode, *LogEntry) {
	switch c.Mode {
	case ProrationCalendar, ProrationWorking:
		return c.Mode, nil
	default:
		w := Warning("", "unknown_proration_mode",
			fmt.Sprintf("proration mode %q not recognized, using calendar", c.Mode))
		return ProrationCalendar, &w
	}
}

// DailyRate converts a monthly salary into a daily rate using the configured
// day factor. A non-positive factor is fatal for the calculation that needs
// it (and only that calculation).
func (c CalculationConfig) DailyRate(monthlySalary decimal.Decimal) (decimal.Decimal, error) {
	if !c.DayFactor.IsPositive() {
		return decimal.Zero, fmt.Errorf("day factor %s: %w", c.DayFactor, ErrInvalidDayFactor)
	}
	return monthlySalary.Div(c.DayFactor), nil
}

// =============================================================================
// CONFIG STORE
// =============================================================================

// ConfigStore persists calculation configurations. Implementations must
// uphold the at-most-one-active invariant per scope.
type ConfigStore interface {
	// ActiveConfig returns the active config for the company scope, or nil
	// when none exists. An empty CompanyID queries the global default.
	ActiveConfig(ctx context.Context, company CompanyID) (*CalculationConfig, error)

	// SaveConfig persists a config, deactivating any previously active
	// config in the same scope.
	SaveConfig(ctx context.Context, cfg CalculationConfig) error
}

// =============================================================================
// CONFIG RESOLVER
// =============================================================================

// ConfigResolver resolves the effective configuration for a company,
// falling back to the global default and creating it lazily if absent.
type ConfigResolver struct {
	Store ConfigStore
}

// Resolve returns the single effective config for the company. The only
// side effect is lazy creation of the global default.
func (r *ConfigResolver) Resolve(ctx context.Context, company CompanyID) (CalculationConfig, error) {
	if company != "" {
		cfg, err := r.Store.ActiveConfig(ctx, company)
		if err != nil {
			return CalculationConfig{}, fmt.Errorf("%w: %v", ErrConfigurationFailed, err)
		}
		if cfg != nil {
			return *cfg, nil
		}
	}

	cfg, err := r.Store.ActiveConfig(ctx, "")
	if err != nil {
		return CalculationConfig{}, fmt.Errorf("%w: %v", ErrConfigurationFailed, err)
	}
	if cfg != nil {
		return *cfg, nil
	}

	// No global default yet: create one lazily.
	def := DefaultConfig()
	if err := r.Store.SaveConfig(ctx, def); err != nil {
		return CalculationConfig{}, fmt.Errorf("%w: creating global default: %v", ErrConfigurationFailed, err)
	}
	return def, nil
}
