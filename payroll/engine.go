/*
engine.go - Payroll run orchestration

PURPOSE:
  Orchestrates one payroll run across all assigned employees: per-employee
  currency conversion, concept evaluation in configured order, loan/advance
  allocation, and result recording. A per-employee failure is recorded and
  counted; it never aborts the run.

PER-EMPLOYEE ALGORITHM:
  1. Snapshot base salary and currency
  2. Convert to the run currency using the rate for the calculation date,
     recording the applied rate
  3. Evaluate earning concepts in configured order, summing to gross pay
  4. Evaluate deduction concepts in priority order (mandatory deductions
     cannot be skipped)
  5. Allocate loans/advances against the remaining balance when enabled
  6. Evaluate benefit concepts (employer cost; excluded from net)
  7. net = gross + earnings - deductions

RECALCULATION:
  Before recomputing, every loan payment tied to the run is reversed under
  the owning employee's lock and all detail rows are cleared. Recalculating
  any number of times therefore yields the same final balances as
  calculating once from the original open-loan state. Tax bases are never
  touched during calculation; they accumulate exactly once, when the run
  is applied.

WHO DECIDES SYNC VS BACKGROUND:
  Not this engine. The scheduler owns when/where the engine runs; the
  engine owns only what it computes. They meet through the persisted run
  record and the progress snapshot.

SEE ALSO:
  - run.go: State machine
  - loan.go: Allocation and reversal
  - progress.go: Live counters
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes payroll runs. It is stateless; all state lives in the
// store, so the same engine value can serve concurrent runs.
type Engine struct {
	Store    Store
	Registry *Registry
	Rates    RateSource
}

// BalanceCheck verifies the accounting-voucher balance invariant for a run.
// Wired in by the caller to avoid a dependency on the ledger package; nil
// skips the check.
type BalanceCheck func(ctx context.Context, run *PayrollRun) error

// Calculate computes (or recomputes) the run against the given concept
// catalog. The run must be in a recalculable state. Returns the run's
// wholesale error, if any; per-employee errors land in the run log.
func (e *Engine) Calculate(ctx context.Context, run *PayrollRun, concepts []Concept) error {
	if !run.State.Recalculable() {
		return fmt.Errorf("run %s in state %s: %w", run.ID, run.State, ErrRunNotRecalculable)
	}
	if !run.Period.Valid() {
		return fmt.Errorf("run %s: period end before start", run.ID)
	}

	// Resolve formulas once per concept, before the per-employee loop.
	bound, err := e.Registry.Bind(concepts)
	if err != nil {
		return err
	}
	earnings, deductions, benefits := splitByKind(bound)

	resolver := &ConfigResolver{Store: e.Store}
	cfg, err := resolver.Resolve(ctx, run.CompanyID)
	if err != nil {
		return err
	}

	employees, err := e.Store.EmployeesInGroup(ctx, run.GroupID)
	if err != nil {
		return fmt.Errorf("loading group %s: %w", run.GroupID, err)
	}

	// Reverse-then-reapply: undo every loan payment tied to this run under
	// the owning employee's lock, then clear detail rows.
	if err := e.reverseRunPayments(ctx, run.ID); err != nil {
		return err
	}
	if err := e.Store.ClearResults(ctx, run.ID); err != nil {
		return fmt.Errorf("clearing results for run %s: %w", run.ID, err)
	}

	run.CalculatedAt = time.Now().UTC()
	run.TotalEmployees = len(employees)
	run.Processed = 0
	run.Errored = 0
	run.Log = nil
	run.Gross = decimal.Zero
	run.Deductions = decimal.Zero
	run.Net = decimal.Zero

	tracker := NewTracker(e.Store, run.ID, len(employees))

	for _, emp := range employees {
		if err := tracker.Begin(ctx, emp.ID); err != nil {
			run.Log = append(run.Log, Warning(emp.ID, "progress_write_failed", err.Error()))
		}

		result, entries := e.processEmployee(ctx, run, cfg, emp, earnings, deductions, benefits)

		run.Processed++
		if hasError(entries) {
			run.Errored++
		} else {
			run.Gross = run.Gross.Add(result.Gross).Add(result.Earnings)
			run.Deductions = run.Deductions.Add(result.Deductions)
			run.Net = run.Net.Add(result.Net)
		}
		run.Log = append(run.Log, entries...)

		if err := tracker.Advance(ctx, emp.ID, entries...); err != nil {
			run.Log = append(run.Log, Warning(emp.ID, "progress_write_failed", err.Error()))
		}
	}

	target := RunGenerated
	if run.Errored > 0 {
		target = RunGeneratedWithErrors
	}
	if err := run.Transition(target); err != nil {
		return err
	}

	if err := e.Store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	if err := tracker.Finish(ctx); err != nil {
		return fmt.Errorf("finishing progress for run %s: %w", run.ID, err)
	}
	return nil
}

// reverseRunPayments restores loan balances and deletes payment rows for
// every payment tied to the run, serialized per employee.
func (e *Engine) reverseRunPayments(ctx context.Context, run RunID) error {
	payments, err := e.Store.PaymentsBySource(ctx, SourcePayrollRun, string(run))
	if err != nil {
		return fmt.Errorf("loading payments for run %s: %w", run, err)
	}

	byEmployee := make(map[EmployeeID]bool)
	for _, p := range payments {
		byEmployee[p.EmployeeID] = true
	}

	for emp := range byEmployee {
		err := e.Store.WithEmployeeLock(ctx, emp, func(ctx context.Context) error {
			return reverseEmployeePayments(ctx, e.Store, SourcePayrollRun, string(run), emp)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func reverseEmployeePayments(ctx context.Context, store LoanStore, source SourceType, sourceID string, emp EmployeeID) error {
	payments, err := store.PaymentsBySource(ctx, source, sourceID)
	if err != nil {
		return err
	}
	for _, payment := range payments {
		if payment.EmployeeID != emp {
			continue
		}
		loan, err := store.Loan(ctx, payment.LoanID)
		if err != nil {
			return fmt.Errorf("loading loan %s: %w", payment.LoanID, err)
		}
		loan.Balance = loan.Balance.Add(payment.Amount)
		if loan.State == LoanPaid && loan.Balance.IsPositive() {
			loan.State = LoanApproved
		}
		if err := store.SaveLoan(ctx, loan); err != nil {
			return err
		}
		if err := store.DeletePayment(ctx, payment.ID); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PER-EMPLOYEE CALCULATION
// =============================================================================

// processEmployee computes one employee's result. It returns the result and
// the log entries describing it; an error-level entry marks the employee as
// failed without affecting the rest of the run.
func (e *Engine) processEmployee(
	ctx context.Context,
	run *PayrollRun,
	cfg CalculationConfig,
	emp EmployeeSnapshot,
	earnings, deductions, benefits []BoundConcept,
) (RunEmployee, []LogEntry) {

	var entries []LogEntry
	result := RunEmployee{
		RunID:          run.ID,
		EmployeeID:     emp.ID,
		BaseSalary:     emp.BaseSalary,
		SourceCurrency: emp.Currency,
	}

	err := e.Store.WithEmployeeLock(ctx, emp.ID, func(ctx context.Context) error {
		// (2) Currency conversion for the calculation date.
		converted, rate, err := Convert(ctx, e.Rates, emp.BaseSalary, emp.Currency, run.Currency, run.CalculatedAt)
		if err != nil {
			return &EmployeeCalcError{EmployeeID: emp.ID, Err: err}
		}
		result.ExchangeRate = rate
		result.Gross = converted.Round(2)
		base := NewMoneyFromDecimal(result.Gross, run.Currency)

		events, err := e.Store.EventsFor(ctx, emp.ID, run.Period)
		if err != nil {
			return &EmployeeCalcError{EmployeeID: emp.ID, Err: err}
		}
		for _, ev := range events {
			if err := ev.Validate(run.Period); err != nil {
				return &EmployeeCalcError{EmployeeID: emp.ID, Concept: ev.ConceptCode, Err: err}
			}
			result.EventIDs = append(result.EventIDs, ev.ID)
		}
		grouped := eventsByConcept(events)

		history, err := e.Store.TaxBasis(ctx, emp.ID, run.Period.End.Year())
		if err != nil {
			return &EmployeeCalcError{EmployeeID: emp.ID, Err: err}
		}

		position := 0
		evalGroup := func(group []BoundConcept, sink *decimal.Decimal) error {
			for _, bc := range group {
				amount, err := bc.Evaluator.Evaluate(ctx, EvalInput{
					Employee:   emp,
					Concept:    bc.Concept,
					Period:     run.Period,
					BaseSalary: base,
					Events:     grouped[bc.Concept.Code],
					History:    history,
				})
				if err != nil {
					if bc.Concept.Mandatory {
						return &EmployeeCalcError{EmployeeID: emp.ID, Concept: bc.Concept.Code, Err: err}
					}
					entries = append(entries, Warning(emp.ID, "concept_skipped",
						fmt.Sprintf("concept %s skipped: %v", bc.Concept.Code, err)))
					continue
				}
				amount = amount.RoundCents()
				if amount.IsZero() {
					continue
				}
				result.Lines = append(result.Lines, LineItem{
					Kind:        bc.Concept.Kind,
					Code:        bc.Concept.Code,
					Description: bc.Concept.Name,
					Amount:      amount,
					Position:    position,
				})
				position++
				if sink != nil {
					*sink = sink.Add(amount.Value)
				}
			}
			return nil
		}

		// (3) Earnings in configured order.
		if err := evalGroup(earnings, &result.Earnings); err != nil {
			return err
		}
		// (4) Deductions in priority order; mandatory ones cannot be skipped.
		if err := evalGroup(deductions, &result.Deductions); err != nil {
			return err
		}

		// (5) Loan/advance allocation against the remaining balance.
		if cfg.ApplyLoans || cfg.ApplyAdvances {
			available := result.Gross.Add(result.Earnings).Sub(result.Deductions)
			if available.IsNegative() {
				available = decimal.Zero
			}
			loans, err := e.Store.OpenLoans(ctx, emp.ID, LoanKindLoan)
			if err != nil {
				return &EmployeeCalcError{EmployeeID: emp.ID, Err: err}
			}
			advances, err := e.Store.OpenLoans(ctx, emp.ID, LoanKindAdvance)
			if err != nil {
				return &EmployeeCalcError{EmployeeID: emp.ID, Err: err}
			}

			allocator := &Allocator{}
			out := allocator.Allocate(AllocatorInput{
				EmployeeID:    emp.ID,
				Available:     NewMoneyFromDecimal(available, run.Currency),
				Loans:         loans,
				Advances:      advances,
				ApplyLoans:    cfg.ApplyLoans,
				ApplyAdvances: cfg.ApplyAdvances,
				Source:        SourcePayrollRun,
				SourceID:      string(run.ID),
				Position:      position,
			})
			if err := ApplyAllocations(ctx, e.Store, out); err != nil {
				return &EmployeeCalcError{EmployeeID: emp.ID, Err: err}
			}
			for _, alloc := range out.Allocations {
				result.Lines = append(result.Lines, alloc.Line)
				result.Deductions = result.Deductions.Add(alloc.Line.Amount.Value)
				position++
			}
		}

		// (6) Benefits: employer cost, excluded from net.
		if err := evalGroup(benefits, nil); err != nil {
			return err
		}

		// (7) Net, cent-rounded.
		result.Earnings = result.Earnings.Round(2)
		result.Deductions = result.Deductions.Round(2)
		result.Net = result.Gross.Add(result.Earnings).Sub(result.Deductions).Round(2)

		if err := e.Store.SaveEmployeeResult(ctx, result); err != nil {
			return &EmployeeCalcError{EmployeeID: emp.ID, Err: err}
		}
		return nil
	})

	if err != nil {
		entries = append(entries, Failure(emp.ID, "employee_failed", err.Error()))
		return result, entries
	}

	entries = append(entries, Info(emp.ID, "employee_processed",
		fmt.Sprintf("net %s %s", result.Net.StringFixed(2), run.Currency)))
	return result, entries
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

// Approve moves a cleanly generated run to approved. The voucher balance
// invariant must hold; raw per-employee detail stays readable for audit
// even when it does not.
func (e *Engine) Approve(ctx context.Context, runID RunID, check BalanceCheck) (*PayrollRun, error) {
	run, err := e.Store.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := run.Approvable(); err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(ctx, run); err != nil {
			return nil, err
		}
	}
	if err := run.Transition(RunApproved); err != nil {
		return nil, err
	}
	return run, e.Store.SaveRun(ctx, run)
}

// Apply moves an approved run to applied, marks the consumed events as
// executed, and folds each result into the employee's cross-period tax
// basis. Both side effects happen only here, never during calculation, so
// recalculating a run before approval leaves events and tax bases alone.
func (e *Engine) Apply(ctx context.Context, runID RunID, check BalanceCheck) (*PayrollRun, error) {
	run, err := e.Store.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(ctx, run); err != nil {
			return nil, err
		}
	}
	if err := run.Transition(RunApplied); err != nil {
		return nil, err
	}

	results, err := e.Store.EmployeeResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	var eventIDs []string
	for _, r := range results {
		eventIDs = append(eventIDs, r.EventIDs...)
	}
	if len(eventIDs) > 0 {
		if err := e.Store.MarkExecuted(ctx, eventIDs); err != nil {
			return nil, fmt.Errorf("marking events executed for run %s: %w", runID, err)
		}
	}

	// Cross-period accumulation for progressive tax rules. An applied run
	// is terminal for recalculation, so each run accumulates at most once.
	year := run.Period.End.Year()
	for _, r := range results {
		history, err := e.Store.TaxBasis(ctx, r.EmployeeID, year)
		if err != nil {
			return nil, fmt.Errorf("loading tax basis for %s: %w", r.EmployeeID, err)
		}
		history = history.Accumulate(r.Gross.Add(r.Earnings), r.Deductions)
		if err := e.Store.SaveTaxBasis(ctx, history); err != nil {
			return nil, fmt.Errorf("saving tax basis for %s: %w", r.EmployeeID, err)
		}
	}
	return run, e.Store.SaveRun(ctx, run)
}

// Pay moves an applied run to paid.
func (e *Engine) Pay(ctx context.Context, runID RunID) (*PayrollRun, error) {
	run, err := e.Store.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := run.Transition(RunPaid); err != nil {
		return nil, err
	}
	return run, e.Store.SaveRun(ctx, run)
}

// Retry recalculates a run that generated with errors (or failed
// wholesale). A retry is a whole new attempt, never an employee-by-employee
// resume. A wholesale failure during the retry parks the run in the error
// state for the next attempt.
func (e *Engine) Retry(ctx context.Context, runID RunID, concepts []Concept, actor string) (*PayrollRun, error) {
	run, err := e.Store.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != RunGeneratedWithErrors && run.State != RunError {
		return nil, &TransitionError{From: run.State, To: RunGenerated}
	}

	run.Log = append(run.Log, Info("", "retry", fmt.Sprintf("retry requested by %s", actor)))
	if err := e.Calculate(ctx, run, concepts); err != nil {
		if run.State.CanTransitionTo(RunError) {
			run.State = RunError
			run.Log = append(run.Log, Failure("", "retry_failed", err.Error()))
			if saveErr := e.Store.SaveRun(ctx, run); saveErr != nil {
				return nil, errors.Join(err, saveErr)
			}
		}
		return run, err
	}
	return run, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func splitByKind(bound []BoundConcept) (earnings, deductions, benefits []BoundConcept) {
	for _, bc := range bound {
		switch bc.Concept.Kind {
		case KindEarning:
			earnings = append(earnings, bc)
		case KindDeduction:
			deductions = append(deductions, bc)
		case KindBenefit:
			benefits = append(benefits, bc)
		}
	}
	sortByPriority(earnings)
	sortByPriority(deductions)
	sortByPriority(benefits)
	return earnings, deductions, benefits
}

func sortByPriority(group []BoundConcept) {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Concept.Priority < group[j].Concept.Priority
	})
}

func hasError(entries []LogEntry) bool {
	for _, e := range entries {
		if e.Level == LevelError {
			return true
		}
	}
	return false
}
