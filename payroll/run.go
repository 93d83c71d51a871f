/*
run.go - Payroll run entity and state machine

PURPOSE:
  A PayrollRun is one calculation for one payroll group over a period.
  This file defines the run record, its per-employee results, and the
  state machine guarding which operations are legal when.

STATE MACHINE:

  draft ──▶ generated ──────────▶ approved ──▶ applied ──▶ paid
    │           ▲
    │           │ (recalculate after corrections)
    └──▶ generated_with_errors ──▶ error (wholesale retry failure)

  - draft, generated, generated_with_errors: recalculable in place.
    Recalculation reverses loan payments tied to the run, clears detail,
    and recomputes (same contract as settlement recalculation).
  - generated_with_errors: blocks approval until corrected + recalculated.
  - approved, applied, paid: immutable except voucher regeneration.

SEE ALSO:
  - engine.go: Drives transitions during calculation
  - progress.go: Live counters decoupled from this record
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RUN STATES
// =============================================================================

type RunState string

const (
	RunDraft               RunState = "draft"
	RunGenerated           RunState = "generated"
	RunGeneratedWithErrors RunState = "generated_with_errors"
	RunApproved            RunState = "approved"
	RunApplied             RunState = "applied"
	RunPaid                RunState = "paid"
	RunError               RunState = "error"
)

var runTransitions = map[RunState][]RunState{
	RunDraft:               {RunGenerated, RunGeneratedWithErrors},
	RunGenerated:           {RunGenerated, RunGeneratedWithErrors, RunApproved},
	RunGeneratedWithErrors: {RunGenerated, RunGeneratedWithErrors, RunError},
	RunApproved:            {RunApplied},
	RunApplied:             {RunPaid},
	RunError:               {RunGenerated, RunGeneratedWithErrors},
}

// CanTransitionTo reports whether the state change is legal.
func (s RunState) CanTransitionTo(to RunState) bool {
	for _, t := range runTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Recalculable reports whether the run may be recalculated in place.
func (s RunState) Recalculable() bool {
	switch s {
	case RunDraft, RunGenerated, RunGeneratedWithErrors, RunError:
		return true
	}
	return false
}

// Terminal reports whether the run result is immutable (except voucher
// regeneration).
func (s RunState) Terminal() bool {
	return s == RunApplied || s == RunPaid
}

// =============================================================================
// PAYROLL RUN
// =============================================================================

// PayrollRun is one calculation cycle for a payroll group over a period.
type PayrollRun struct {
	ID        RunID
	GroupID   GroupID
	CompanyID CompanyID
	Currency  Currency // Calculation currency; all totals are in this

	Period       Period
	CalculatedAt time.Time
	State        RunState

	// Totals, cent-rounded. Gross includes base pay plus earnings.
	Gross      decimal.Decimal
	Deductions decimal.Decimal
	Net        decimal.Decimal

	// Counts over the run's assigned employees.
	TotalEmployees int
	Processed      int
	Errored        int

	// Background records, immutably, whether the run was handed to a
	// background worker. Chosen once, before any employee is processed.
	Background bool

	Log []LogEntry
}

// Transition moves the run to a new state, enforcing the state machine.
func (r *PayrollRun) Transition(to RunState) error {
	if !r.State.CanTransitionTo(to) {
		return &TransitionError{From: r.State, To: to}
	}
	r.State = to
	return nil
}

// Approvable reports whether the run can be approved: a clean generation
// with no per-employee errors. The voucher balance invariant is checked
// separately by the caller.
func (r *PayrollRun) Approvable() error {
	if r.State == RunGeneratedWithErrors {
		return ErrRunHasErrors
	}
	if !r.State.CanTransitionTo(RunApproved) {
		return &TransitionError{From: r.State, To: RunApproved}
	}
	return nil
}

// =============================================================================
// PER-EMPLOYEE RESULT
// =============================================================================

// RunEmployee is one employee's result within a run: a snapshot of inputs
// (salary, currency, exchange rate) plus computed totals and detail lines.
// Created once per employee per run; recalculation replaces it entirely.
type RunEmployee struct {
	RunID      RunID
	EmployeeID EmployeeID

	BaseSalary     decimal.Decimal // In SourceCurrency, as snapshotted
	SourceCurrency Currency
	ExchangeRate   decimal.Decimal // Rate applied for the calculation date

	// Totals in the run currency, cent-rounded.
	Gross      decimal.Decimal // Converted base pay
	Earnings   decimal.Decimal // Sum of earning concepts
	Deductions decimal.Decimal // Deduction concepts + loan/advance allocations
	Net        decimal.Decimal // Gross + Earnings - Deductions

	Lines []LineItem

	// EventIDs are the payroll events this result consumed. They are
	// marked executed only when the run is applied.
	EventIDs []string
}
