/*
Package concepts provides the built-in concept evaluation strategies.

PURPOSE:
  The engine evaluates concepts through the payroll.Evaluator interface;
  this package supplies the stock formula kinds every installation gets.
  Jurisdiction-specific rules (progressive income tax, social security
  brackets) register additional evaluators alongside these.

BUILT-IN FORMULAS:
  fixed_amount:   The concept's configured Amount, as-is
  salary_percent: Concept.Rate as a fraction of the converted base salary
  event_units:    Sum of the period's events for the concept
                  (explicit amount, or units x rate per event)

All built-ins are pure: same input, same output, no hidden state.

SEE ALSO:
  - payroll/concept.go: Evaluator contract and registry
  - factory: JSON concept-catalog parsing
*/
package concepts

import (
	"context"
	"fmt"

	"github.com/warp/payroll-engine/payroll"
)

// Formula kinds handled by this package.
const (
	FormulaFixedAmount   payroll.FormulaKind = "fixed_amount"
	FormulaSalaryPercent payroll.FormulaKind = "salary_percent"
	FormulaEventUnits    payroll.FormulaKind = "event_units"
)

// FixedAmount returns the concept's configured amount.
func FixedAmount(_ context.Context, in payroll.EvalInput) (payroll.Money, error) {
	return payroll.NewMoneyFromDecimal(in.Concept.Amount, in.BaseSalary.Currency), nil
}

// SalaryPercent applies the concept's rate to the converted base salary.
func SalaryPercent(_ context.Context, in payroll.EvalInput) (payroll.Money, error) {
	if in.Concept.Rate.IsNegative() {
		return payroll.Money{}, fmt.Errorf("concept %s: negative rate %s", in.Concept.Code, in.Concept.Rate)
	}
	return in.BaseSalary.Mul(in.Concept.Rate), nil
}

// EventUnits sums the monetary value of the period's events for the
// concept. A concept with no events contributes nothing.
func EventUnits(_ context.Context, in payroll.EvalInput) (payroll.Money, error) {
	total := in.BaseSalary.Zero()
	for _, event := range in.Events {
		total = total.Add(payroll.NewMoneyFromDecimal(event.Value(), total.Currency))
	}
	return total, nil
}

// DefaultRegistry returns a registry with all built-in formulas registered.
func DefaultRegistry() *payroll.Registry {
	r := payroll.NewRegistry()
	r.Register(FormulaFixedAmount, payroll.EvaluatorFunc(FixedAmount))
	r.Register(FormulaSalaryPercent, payroll.EvaluatorFunc(SalaryPercent))
	r.Register(FormulaEventUnits, payroll.EvaluatorFunc(EventUnits))
	return r
}
