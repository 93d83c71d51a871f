/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (settlement, ledger) wrap these with additional context.

ERROR CATEGORIES:
  1. Per-employee calculation errors - recorded, non-fatal to the run
  2. Configuration errors - default with a warning where possible; an
     invalid day factor is fatal for the affected employee only
  3. Integrity errors - block a specific operation, never corrupt detail
  4. Concurrency errors - loan-balance lock conflicts, retryable

USAGE:
  if errors.Is(err, payroll.ErrMissingExchangeRate) {
      // record on the employee, continue the run
  }

SEE ALSO:
  - engine.go: Collects EmployeeCalcError into the run log
  - loan.go: Uses ErrLoanLocked for per-employee serialization conflicts
*/
package payroll

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingExchangeRate is returned when no rate exists for the
	// calculation date. Hard error for the affected employee; caught and
	// logged, never fatal to the run.
	ErrMissingExchangeRate = errors.New("no exchange rate for date")

	// ErrInvalidDayFactor is returned when the configured proration factor
	// is zero or negative. Fatal for the affected calculation only.
	ErrInvalidDayFactor = errors.New("invalid day factor: must be positive")

	// ErrConfigurationFailed is returned when no calculation configuration
	// can be resolved at all, including lazy creation of the global default.
	ErrConfigurationFailed = errors.New("configuration could not be resolved")

	// ErrFormulaUnknown is returned when a concept references a formula kind
	// with no registered evaluator.
	ErrFormulaUnknown = errors.New("no evaluator registered for formula kind")

	// ErrInvalidTransition is returned for a disallowed run state change.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRunNotRecalculable is returned when recalculation is requested for
	// a run that has been approved, applied, or paid.
	ErrRunNotRecalculable = errors.New("run can no longer be recalculated")

	// ErrRunHasErrors is returned when approving a run that finished in the
	// generated_with_errors state. It must be corrected and recalculated.
	ErrRunHasErrors = errors.New("run has employee errors; recalculate before approval")

	// ErrLoanLocked is returned when another calculation holds the loan
	// balance lock for an employee. Retryable.
	ErrLoanLocked = errors.New("loan balance locked by concurrent calculation")

	// ErrEventOutsidePeriod is returned when a payroll event's window does
	// not fall within the run's period.
	ErrEventOutsidePeriod = errors.New("event outside run period")

	// Not-found errors for the persistence layer.
	ErrRunNotFound      = errors.New("payroll run not found")
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrLoanNotFound     = errors.New("loan not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// EmployeeCalcError wraps a failure in one employee's calculation. The engine
// converts these into run-log entries and error counts rather than aborting;
// this is the explicit per-employee result the engine collects instead of
// using control-flow exceptions.
type EmployeeCalcError struct {
	EmployeeID EmployeeID
	Concept    ConceptCode
	Err        error
}

func (e *EmployeeCalcError) Error() string {
	if e.Concept != "" {
		return fmt.Sprintf("employee %s: concept %s: %v", e.EmployeeID, e.Concept, e.Err)
	}
	return fmt.Sprintf("employee %s: %v", e.EmployeeID, e.Err)
}

func (e *EmployeeCalcError) Unwrap() error { return e.Err }

// MissingRateError provides details about a failed exchange-rate lookup.
type MissingRateError struct {
	From Currency
	To   Currency
	AsOf time.Time
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("no exchange rate %s->%s as of %s", e.From, e.To, e.AsOf.Format("2006-01-02"))
}

func (e *MissingRateError) Unwrap() error { return ErrMissingExchangeRate }

// TransitionError provides details about a rejected state change.
type TransitionError struct {
	From RunState
	To   RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition run from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLoanLocked)
}

// IsEmployeeScoped returns true if the error poisons only one employee's
// calculation and the run should continue with the others.
func IsEmployeeScoped(err error) bool {
	return errors.Is(err, ErrMissingExchangeRate) ||
		errors.Is(err, ErrInvalidDayFactor) ||
		errors.Is(err, ErrEventOutsidePeriod)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrLoanNotFound)
}
