/*
loan.go - Loan/advance allocation and payment reversal

PURPOSE:
  Allocates an available net balance against an employee's open loans and
  advances in priority order, emitting one deduction line and one payment
  record per allocation, and decrementing the item's balance. Also provides
  the reversal half of the idempotent-recalculation contract: restoring
  balances and deleting payment rows tied to a superseded calculation.

ALLOCATION RULES:
  - Loans are walked before advances, each in ascending priority
  - Each item receives min(balance remaining, installment due)
  - An item whose balance reaches zero transitions to "paid"
  - Zero or negative allocations are never emitted

IDEMPOTENCE:
  Allocate() itself is NOT idempotent - it consumes balance.
  Idempotence belongs to the orchestration layer: before recalculating,
  ReversePayments() restores every balance mutation tied to the superseded
  calculation and deletes its payment rows, so re-running the allocator
  starts from the original open-loan state.

CONCURRENCY:
  The loan balance for one employee must never be mutated by two concurrent
  calculations. LoanStore.WithEmployeeLock serializes run, settlement, and
  recalculation access per employee.

SEE ALSO:
  - engine.go: Invokes the allocator during per-employee calculation
  - settlement: Invokes the allocator against the pending settlement amount
*/
package payroll

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// LOANS AND ADVANCES
// =============================================================================

type LoanKind string

const (
	LoanKindLoan    LoanKind = "loan"
	LoanKindAdvance LoanKind = "advance"
)

type LoanState string

const (
	LoanApproved LoanState = "approved" // Open, balance outstanding
	LoanPaid     LoanState = "paid"     // Balance fully amortized
)

// Loan is a running balance owed by an employee. Never deleted while it has
// payment history; fully amortized loans transition to "paid" and reversals
// can move them back to "approved".
type Loan struct {
	ID          LoanID
	EmployeeID  EmployeeID
	Kind        LoanKind
	Description string
	Balance     Money
	Installment Money // Fixed per-calculation installment; zero means "whole balance"
	Priority    int   // Ascending: lower numbers are allocated first
	State       LoanState
}

// InstallmentDue returns the amount this item asks for in one calculation:
// the fixed installment capped by the remaining balance, or the whole
// balance when no installment is set.
func (l *Loan) InstallmentDue() Money {
	if l.Installment.IsZero() || l.Installment.GreaterThan(l.Balance) {
		return l.Balance
	}
	return l.Installment
}

// =============================================================================
// LOAN PAYMENTS - Immutable allocation records
// =============================================================================

// SourceType identifies which kind of calculation produced a payment.
type SourceType string

const (
	SourcePayrollRun SourceType = "payroll_run"
	SourceSettlement SourceType = "settlement"
)

// LoanPayment links one allocation event to one loan/advance. Payments are
// immutable: reversing a calculation deletes the row and restores the
// balance rather than editing it.
type LoanPayment struct {
	ID         string
	LoanID     LoanID
	EmployeeID EmployeeID
	Source     SourceType
	SourceID   string
	Amount     Money
	AppliedAt  time.Time
}

// =============================================================================
// LOAN STORE
// =============================================================================

// LoanStore persists loans and their payment ledger.
type LoanStore interface {
	// Loan returns one loan by ID.
	Loan(ctx context.Context, id LoanID) (*Loan, error)

	// OpenLoans returns an employee's approved items of the given kind,
	// ordered by ascending priority.
	OpenLoans(ctx context.Context, employee EmployeeID, kind LoanKind) ([]*Loan, error)

	// SaveLoan persists balance and state mutations.
	SaveLoan(ctx context.Context, loan *Loan) error

	// RecordPayment appends one payment row.
	RecordPayment(ctx context.Context, payment LoanPayment) error

	// PaymentsBySource returns all payments tied to one calculation.
	PaymentsBySource(ctx context.Context, source SourceType, sourceID string) ([]LoanPayment, error)

	// DeletePayment removes one payment row (reversal only).
	DeletePayment(ctx context.Context, id string) error

	// WithEmployeeLock serializes loan-balance access for one employee.
	// Returns ErrLoanLocked if the lock cannot be acquired.
	WithEmployeeLock(ctx context.Context, employee EmployeeID, fn func(ctx context.Context) error) error
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// AllocatorInput bundles everything one allocation pass needs. Loans and
// advances must already be filtered to open items for the employee.
type AllocatorInput struct {
	EmployeeID    EmployeeID
	Available     Money // Non-negative balance the allocator may consume
	Loans         []*Loan
	Advances      []*Loan
	ApplyLoans    bool
	ApplyAdvances bool
	Source        SourceType
	SourceID      string
	Position      int // Line-item position offset for emitted deductions
}

// AllocationResult is one applied installment: the deduction line for the
// calculation detail plus the payment record for the loan ledger.
type AllocationResult struct {
	Line    LineItem
	Payment LoanPayment
	Loan    *Loan // Mutated item (balance decremented, possibly paid)
}

// AllocatorOutput is the complete result of one allocation pass.
type AllocatorOutput struct {
	Allocations  []AllocationResult
	TotalApplied Money
	Remaining    Money
}

// Allocator walks open loans then advances in ascending priority, applying
// min(balance remaining, installment due) to each.
type Allocator struct{}

// Allocate consumes the available balance against the input items. It
// mutates the passed-in loans (balance, state) and emits one deduction line
// plus one payment per allocation. Calling it twice with the same inputs is
// not idempotent; reverse prior payments first.
func (a *Allocator) Allocate(in AllocatorInput) AllocatorOutput {
	remaining := in.Available
	out := AllocatorOutput{
		TotalApplied: in.Available.Zero(),
		Remaining:    remaining,
	}
	if remaining.IsNegative() || remaining.IsZero() {
		return out
	}

	position := in.Position
	apply := func(items []*Loan) {
		byPriority(items)
		for _, item := range items {
			if remaining.IsZero() {
				return
			}
			if item.State != LoanApproved || !item.Balance.IsPositive() {
				continue
			}
			applied := remaining.Min(item.InstallmentDue()).RoundCents()
			if !applied.IsPositive() {
				continue
			}

			item.Balance = item.Balance.Sub(applied)
			if item.Balance.IsZero() {
				item.State = LoanPaid
			}
			remaining = remaining.Sub(applied)
			out.TotalApplied = out.TotalApplied.Add(applied)

			now := time.Now().UTC()
			out.Allocations = append(out.Allocations, AllocationResult{
				Line: LineItem{
					Kind:        KindDeduction,
					Code:        allocationCode(item.Kind),
					Description: allocationDescription(item),
					Amount:      applied,
					Position:    position,
				},
				Payment: LoanPayment{
					ID:         fmt.Sprintf("pay-%s-%s-%d", in.SourceID, item.ID, now.UnixNano()),
					LoanID:     item.ID,
					EmployeeID: in.EmployeeID,
					Source:     in.Source,
					SourceID:   in.SourceID,
					Amount:     applied,
					AppliedAt:  now,
				},
				Loan: item,
			})
			position++
		}
	}

	if in.ApplyLoans {
		apply(in.Loans)
	}
	if in.ApplyAdvances {
		apply(in.Advances)
	}

	out.Remaining = remaining
	return out
}

func byPriority(items []*Loan) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority < items[j].Priority })
}

func allocationCode(kind LoanKind) ConceptCode {
	if kind == LoanKindAdvance {
		return "ADVANCE_PAYMENT"
	}
	return "LOAN_PAYMENT"
}

func allocationDescription(item *Loan) string {
	if item.Description != "" {
		return item.Description
	}
	if item.Kind == LoanKindAdvance {
		return "advance installment"
	}
	return "loan installment"
}

// =============================================================================
// APPLY AND REVERSE - Persistence halves of the allocation contract
// =============================================================================

// ApplyAllocations persists the mutations an allocation pass produced:
// updated loan balances and appended payment rows.
func ApplyAllocations(ctx context.Context, store LoanStore, out AllocatorOutput) error {
	for _, alloc := range out.Allocations {
		if err := store.SaveLoan(ctx, alloc.Loan); err != nil {
			return fmt.Errorf("saving loan %s: %w", alloc.Loan.ID, err)
		}
		if err := store.RecordPayment(ctx, alloc.Payment); err != nil {
			return fmt.Errorf("recording payment for loan %s: %w", alloc.Loan.ID, err)
		}
	}
	return nil
}

// ReversePayments undoes every payment tied to one calculation: the loan
// balance is restored, a "paid" loan whose balance becomes positive again
// reverts to "approved", and the payment row is deleted. Must run before
// the calculation is redone so repeated recalculation never double-applies
// or double-reverses. Returns the number of payments reversed.
func ReversePayments(ctx context.Context, store LoanStore, source SourceType, sourceID string) (int, error) {
	payments, err := store.PaymentsBySource(ctx, source, sourceID)
	if err != nil {
		return 0, fmt.Errorf("loading payments for %s %s: %w", source, sourceID, err)
	}

	for _, payment := range payments {
		loan, err := store.Loan(ctx, payment.LoanID)
		if err != nil {
			return 0, fmt.Errorf("loading loan %s: %w", payment.LoanID, err)
		}
		loan.Balance = loan.Balance.Add(payment.Amount)
		if loan.State == LoanPaid && loan.Balance.IsPositive() {
			loan.State = LoanApproved
		}
		if err := store.SaveLoan(ctx, loan); err != nil {
			return 0, fmt.Errorf("restoring loan %s: %w", loan.ID, err)
		}
		if err := store.DeletePayment(ctx, payment.ID); err != nil {
			return 0, fmt.Errorf("deleting payment %s: %w", payment.ID, err)
		}
	}
	return len(payments), nil
}
