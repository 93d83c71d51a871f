/*
Package settlement computes termination settlements.

PURPOSE:
  A settlement is a one-off termination-pay calculation for a single
  employee, executed outside any payroll run: pending-day proration from
  the last paid day, loan/advance deduction against the pending amount,
  and totals. It reuses the calculation configuration and the loan
  allocator but owns its own lifecycle.

PENDING-DAY PRORATION:
  last paid day  = latest period end of an applied/paid run covering the
                   employee, else hire date minus one day (with a warning)
  pending days   = calculation date - last paid day (never negative;
                   zero or negative pending is a warning, not an error)
  daily rate     = monthly salary / configured day factor
  pending amount = daily rate x pending days, rounded to the cent

RECALCULATION CONTRACT:
  Before recomputing: reverse every loan payment tied to this settlement
  (restore balances, delete payment rows, revert "paid" loans back to
  "approved" when their balance becomes positive), clear existing line
  items, then re-run the full calculation. Recalculating any number of
  times yields the same final balances as calculating once from the
  original open-loan state.

SEE ALSO:
  - payroll/loan.go: Allocation and the reversal half of the contract
  - payroll/config.go: Proration mode and day factor
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSettlementFinal is returned when recalculation is requested for a
	// settlement that has been applied or paid.
	ErrSettlementFinal = errors.New("settlement is final and cannot be recalculated")

	// ErrSettlementNotFound is returned by stores for a missing settlement.
	ErrSettlementNotFound = errors.New("settlement not found")
)

// =============================================================================
// SETTLEMENT ENTITY
// =============================================================================

type State string

const (
	StateDraft      State = "draft"
	StateCalculated State = "calculated"
	StateApplied    State = "applied"
	StatePaid       State = "paid"
)

// Settlement is one employee's termination calculation.
type Settlement struct {
	ID         payroll.SettlementID
	EmployeeID payroll.EmployeeID
	CompanyID  payroll.CompanyID
	Currency   payroll.Currency

	CalculationDate time.Time
	LastPaidDay     time.Time
	PendingDays     int
	DailyRate       decimal.Decimal

	// Totals, cent-rounded. Gross is the pending amount; deductions are
	// the loan/advance allocations; net = gross - deductions.
	Gross      decimal.Decimal
	Deductions decimal.Decimal
	Net        decimal.Decimal

	State State
	Lines []payroll.LineItem
	Log   []payroll.LogEntry
}

// Final reports whether the settlement refuses recalculation.
func (s *Settlement) Final() bool {
	return s.State == StateApplied || s.State == StatePaid
}

// Store persists settlements.
type Store interface {
	SaveSettlement(ctx context.Context, s *Settlement) error
	Settlement(ctx context.Context, id payroll.SettlementID) (*Settlement, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes settlements. Configuration, runs, and loans come from the
// payroll stores; only the settlement record itself has a dedicated store.
type Engine struct {
	Settlements Store
	Runs        payroll.RunStore
	Loans       payroll.LoanStore
	Configs     payroll.ConfigStore
}

// Calculate computes (or recomputes) the settlement for the employee. The
// reversal contract runs first, so calling this repeatedly with the same
// calculation date reproduces identical payment rows and balances.
func (e *Engine) Calculate(ctx context.Context, s *Settlement, emp payroll.EmployeeSnapshot) error {
	if s.Final() {
		return fmt.Errorf("settlement %s in state %s: %w", s.ID, s.State, ErrSettlementFinal)
	}

	resolver := &payroll.ConfigResolver{Store: e.Configs}
	cfg, err := resolver.Resolve(ctx, s.CompanyID)
	if err != nil {
		return err
	}

	return e.Loans.WithEmployeeLock(ctx, emp.ID, func(ctx context.Context) error {
		// Reverse-then-reapply: undo this settlement's prior payments and
		// clear its lines before recomputing.
		if _, err := payroll.ReversePayments(ctx, e.Loans, payroll.SourceSettlement, string(s.ID)); err != nil {
			return err
		}
		s.Lines = nil
		s.Log = nil

		if err := e.compute(ctx, s, emp, cfg); err != nil {
			return err
		}

		s.State = StateCalculated
		return e.Settlements.SaveSettlement(ctx, s)
	})
}

func (e *Engine) compute(ctx context.Context, s *Settlement, emp payroll.EmployeeSnapshot, cfg payroll.CalculationConfig) error {
	// Last paid day: latest applied/paid period end, else hire date - 1.
	lastPaid, ok, err := e.Runs.LastPaidPeriodEnd(ctx, emp.ID)
	if err != nil {
		return fmt.Errorf("resolving last paid day for %s: %w", emp.ID, err)
	}
	if !ok {
		lastPaid = emp.HireDate.AddDate(0, 0, -1)
		s.Log = append(s.Log, payroll.Warning(emp.ID, "no_paid_runs",
			"no applied or paid run covers this employee; using hire date minus one day"))
	}
	s.LastPaidDay = lastPaid

	pendingDays := payroll.DaysBetween(lastPaid, s.CalculationDate)
	if pendingDays <= 0 {
		s.Log = append(s.Log, payroll.Warning(emp.ID, "no_pending_days",
			fmt.Sprintf("calculation date %s is not after last paid day %s",
				s.CalculationDate.Format("2006-01-02"), lastPaid.Format("2006-01-02"))))
		pendingDays = 0
	}
	s.PendingDays = pendingDays

	if _, warn := cfg.NormalizedMode(); warn != nil {
		entry := *warn
		entry.EmployeeID = emp.ID
		s.Log = append(s.Log, entry)
	}

	dailyRate, err := cfg.DailyRate(emp.BaseSalary)
	if err != nil {
		return &payroll.EmployeeCalcError{EmployeeID: emp.ID, Err: err}
	}
	s.DailyRate = dailyRate

	pending := dailyRate.Mul(decimal.NewFromInt(int64(pendingDays))).Round(2)
	s.Gross = pending

	position := 0
	if pending.IsPositive() {
		s.Lines = append(s.Lines, payroll.LineItem{
			Kind:        payroll.KindEarning,
			Code:        "PENDING_DAYS",
			Description: fmt.Sprintf("%d pending days", pendingDays),
			Amount:      payroll.NewMoneyFromDecimal(pending, s.Currency),
			Position:    position,
		})
		position++
	}

	// Loan/advance deduction against the pending amount, using the
	// settlement-scoped priorities the store returns.
	loans, err := e.Loans.OpenLoans(ctx, emp.ID, payroll.LoanKindLoan)
	if err != nil {
		return err
	}
	advances, err := e.Loans.OpenLoans(ctx, emp.ID, payroll.LoanKindAdvance)
	if err != nil {
		return err
	}

	allocator := &payroll.Allocator{}
	out := allocator.Allocate(payroll.AllocatorInput{
		EmployeeID:    emp.ID,
		Available:     payroll.NewMoneyFromDecimal(pending, s.Currency),
		Loans:         loans,
		Advances:      advances,
		ApplyLoans:    cfg.ApplyLoans,
		ApplyAdvances: cfg.ApplyAdvances,
		Source:        payroll.SourceSettlement,
		SourceID:      string(s.ID),
		Position:      position,
	})
	if err := payroll.ApplyAllocations(ctx, e.Loans, out); err != nil {
		return err
	}

	deductions := decimal.Zero
	for _, alloc := range out.Allocations {
		s.Lines = append(s.Lines, alloc.Line)
		deductions = deductions.Add(alloc.Line.Amount.Value)
	}

	s.Deductions = deductions.Round(2)
	s.Net = s.Gross.Sub(s.Deductions).Round(2)
	return nil
}

// Apply finalizes a calculated settlement.
func (e *Engine) Apply(ctx context.Context, id payroll.SettlementID) (*Settlement, error) {
	s, err := e.Settlements.Settlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateCalculated {
		return nil, fmt.Errorf("settlement %s in state %s cannot be applied", id, s.State)
	}
	s.State = StateApplied
	return s, e.Settlements.SaveSettlement(ctx, s)
}

// Pay marks an applied settlement as paid out.
func (e *Engine) Pay(ctx context.Context, id payroll.SettlementID) (*Settlement, error) {
	s, err := e.Settlements.Settlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateApplied {
		return nil, fmt.Errorf("settlement %s in state %s cannot be paid", id, s.State)
	}
	s.State = StatePaid
	return s, e.Settlements.SaveSettlement(ctx, s)
}
