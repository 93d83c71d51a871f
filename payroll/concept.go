/*
concept.go - Payroll concepts and the evaluator registry

PURPOSE:
  A Concept is a named earning, deduction, or benefit rule contributing an
  amount to a calculation. HOW a concept computes its amount is pluggable:
  each concept carries a FormulaKind tag, and a Registry maps that tag to a
  pure Evaluator resolved once per concept before the per-employee loop.

EVALUATOR CONTRACT:
  Evaluate(ctx, input) must be pure given its inputs - no hidden state - so
  that re-evaluation with the same accumulated tax-basis history is
  reproducible. Implementations are registered per jurisdiction/formula
  kind; country-specific tax formulas plug in through this interface
  without the engine knowing them.

TAX-BASIS HISTORY:
  Progressive tax rules need what the employee has already earned across
  prior periods. The engine loads the year's accumulated basis, hands it to
  every evaluator, and accumulates the run's results back after processing.

SEE ALSO:
  - engine.go: Resolves and invokes evaluators in configured order
  - concepts: Built-in evaluator strategies (fixed, percentage, events)
  - factory: JSON concept-catalog parsing
*/
package payroll

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONCEPT - A named calculation rule
// =============================================================================

// FormulaKind tags how a concept's amount is computed. The engine resolves
// the tag against a Registry; it never branches on formula kinds itself.
type FormulaKind string

// Concept is one rule in a company's concept catalog.
type Concept struct {
	Code      ConceptCode
	Name      string
	Kind      ConceptKind
	Formula   FormulaKind
	Priority  int  // Evaluation order within the kind (ascending)
	Mandatory bool // Mandatory deductions cannot be skipped on evaluator error

	// Formula parameters. Fixed-amount formulas read Amount; percentage
	// formulas read Rate as a fraction of the converted base salary.
	Amount decimal.Decimal
	Rate   decimal.Decimal
}

// =============================================================================
// TAX-BASIS HISTORY - Cross-period accumulation
// =============================================================================

// TaxBasisHistory is the accumulated taxable history for one employee and
// year, fed to evaluators so progressive rules see prior periods.
type TaxBasisHistory struct {
	EmployeeID   EmployeeID
	Year         int
	TaxableGross decimal.Decimal
	Withheld     decimal.Decimal
}

// Accumulate folds one run's results into the history.
func (h TaxBasisHistory) Accumulate(taxableGross, withheld decimal.Decimal) TaxBasisHistory {
	h.TaxableGross = h.TaxableGross.Add(taxableGross)
	h.Withheld = h.Withheld.Add(withheld)
	return h
}

// HistoryStore persists accumulated tax bases.
type HistoryStore interface {
	TaxBasis(ctx context.Context, employee EmployeeID, year int) (TaxBasisHistory, error)
	SaveTaxBasis(ctx context.Context, history TaxBasisHistory) error
}

// =============================================================================
// EVALUATOR - Pluggable formula strategy
// =============================================================================

// EvalInput carries everything an evaluator may read. Evaluators must not
// reach outside this input.
type EvalInput struct {
	Employee EmployeeSnapshot
	Concept  Concept
	Period   Period

	// BaseSalary is the employee's monthly salary already converted into
	// the calculation currency.
	BaseSalary Money

	// Events are the run's events referencing this concept for this
	// employee, already validated to fall within the period.
	Events []Event

	// History is the accumulated tax basis across prior periods this year.
	History TaxBasisHistory
}

// Evaluator computes one concept amount for one employee. The returned
// amount is in the calculation currency; the engine applies cent rounding.
type Evaluator interface {
	Evaluate(ctx context.Context, in EvalInput) (Money, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, in EvalInput) (Money, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, in EvalInput) (Money, error) {
	return f(ctx, in)
}

// =============================================================================
// REGISTRY - FormulaKind -> Evaluator
// =============================================================================

// Registry maps formula kinds to evaluators. Registration happens at
// startup (per jurisdiction); lookups are concurrent-safe.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[FormulaKind]Evaluator
}

func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[FormulaKind]Evaluator)}
}

func (r *Registry) Register(kind FormulaKind, ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[kind] = ev
}

// Resolve returns the evaluator for a formula kind.
func (r *Registry) Resolve(kind FormulaKind) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.evaluators[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFormulaUnknown, kind)
	}
	return ev, nil
}

// Bind resolves every concept's evaluator up front, so formula resolution
// happens once per concept rather than once per employee.
func (r *Registry) Bind(concepts []Concept) ([]BoundConcept, error) {
	bound := make([]BoundConcept, 0, len(concepts))
	for _, c := range concepts {
		ev, err := r.Resolve(c.Formula)
		if err != nil {
			return nil, fmt.Errorf("concept %s: %w", c.Code, err)
		}
		bound = append(bound, BoundConcept{Concept: c, Evaluator: ev})
	}
	return bound, nil
}

// BoundConcept pairs a concept with its resolved evaluator.
type BoundConcept struct {
	Concept   Concept
	Evaluator Evaluator
}
