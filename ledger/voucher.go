/*
Package ledger builds balanced accounting vouchers from payroll results.

PURPOSE:
  Maps each calculated concept line (and each loan/advance allocation) of
  an approved/applied run to debit/credit ledger lines using account-code
  configuration, validates the zero-balance invariant, and exposes both a
  summarized (per-account) and an exploded (per-employee) view.

MAPPING MODEL:
  earnings + base pay  -> debit of the mapped expense account
  benefits             -> debit expense + credit liability (same amount)
  deductions           -> credit of the mapped liability account
  net pay              -> credit of the net-payable account (code "NET")

  With every mapping present, total debits equal total credits to the
  cent because net = gross + earnings - deductions per employee.

DEGRADED MODE:
  A missing account mapping degrades to a warning: the voucher is still
  persisted with the gaps flagged, so full-detail export for audit remains
  possible. Summarized/balanced export is refused with an explicit
  incomplete-configuration error, distinct from the balance-mismatch
  error, until configuration is completed.

REGENERATION:
  Build() reads only persisted calculation results. Regenerating a voucher
  for an already-applied run (after fixing configuration) never re-runs
  concept evaluation.

SEE ALSO:
  - payroll/run.go: The per-employee results consumed here
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrIncompleteConfiguration is returned when account mappings are
	// missing. Blocks summarized export only; detail stays readable.
	ErrIncompleteConfiguration = errors.New("incomplete account configuration")

	// ErrVoucherImbalance is returned when total debits do not equal total
	// credits despite complete configuration.
	ErrVoucherImbalance = errors.New("voucher debits and credits do not balance")

	// ErrVoucherNotFound is returned by stores for a missing voucher.
	ErrVoucherNotFound = errors.New("voucher not found")
)

// ImbalanceError carries the residual difference of an unbalanced voucher.
type ImbalanceError struct {
	RunID      payroll.RunID
	Difference decimal.Decimal
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("voucher for run %s out of balance by %s", e.RunID, e.Difference.StringFixed(2))
}

func (e *ImbalanceError) Unwrap() error { return ErrVoucherImbalance }

// =============================================================================
// ACCOUNT MAPPING
// =============================================================================

// NetPayCode is the mapping scope key for the net-payable credit line.
const NetPayCode payroll.ConceptCode = "NET"

// AccountMapping is the ledger destination for one concept code.
type AccountMapping struct {
	DebitAccount  string
	CreditAccount string
	CostCenter    string
}

// Mapper resolves account mappings for a scope (payroll group or company).
// The second return is false when no mapping is configured for the code.
type Mapper interface {
	AccountFor(ctx context.Context, code payroll.ConceptCode, scope string) (AccountMapping, bool, error)
}

// =============================================================================
// VOUCHER
// =============================================================================

// Line is one debit or credit entry. Lines keep a back-reference to the
// originating employee and concept for audit.
type Line struct {
	Account     string
	CostCenter  string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	EmployeeID  payroll.EmployeeID
	ConceptCode payroll.ConceptCode
	Description string
}

// Voucher is the double-entry extract for one payroll run.
type Voucher struct {
	RunID       payroll.RunID
	GeneratedAt time.Time
	Lines       []Line
	Warnings    []payroll.LogEntry // Missing-mapping flags
}

// Complete reports whether every line found an account mapping.
func (v *Voucher) Complete() bool { return len(v.Warnings) == 0 }

// Balance returns total debits minus total credits over mapped lines.
func (v *Voucher) Balance() decimal.Decimal {
	diff := decimal.Zero
	for _, l := range v.Lines {
		diff = diff.Add(l.Debit).Sub(l.Credit)
	}
	return diff
}

// Validate enforces the voucher invariants: complete configuration first,
// then zero balance to the cent. The two failures are distinct errors.
func (v *Voucher) Validate() error {
	if !v.Complete() {
		return fmt.Errorf("%w: %d unmapped lines for run %s",
			ErrIncompleteConfiguration, len(v.Warnings), v.RunID)
	}
	if diff := v.Balance(); !diff.IsZero() {
		return &ImbalanceError{RunID: v.RunID, Difference: diff}
	}
	return nil
}

// Summarize groups lines by account, one aggregate debit/credit row each.
// Refused while configuration is incomplete.
func (v *Voucher) Summarize() ([]Line, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	type bucket struct {
		debit, credit decimal.Decimal
		costCenter    string
	}
	buckets := make(map[string]*bucket)
	for _, l := range v.Lines {
		b, ok := buckets[l.Account]
		if !ok {
			b = &bucket{debit: decimal.Zero, credit: decimal.Zero, costCenter: l.CostCenter}
			buckets[l.Account] = b
		}
		b.debit = b.debit.Add(l.Debit)
		b.credit = b.credit.Add(l.Credit)
	}

	accounts := make([]string, 0, len(buckets))
	for account := range buckets {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	out := make([]Line, 0, len(accounts))
	for _, account := range accounts {
		b := buckets[account]
		out = append(out, Line{
			Account:    account,
			CostCenter: b.costCenter,
			Debit:      b.debit,
			Credit:     b.credit,
		})
	}
	return out, nil
}

// Explode returns the raw per-employee lines. Always available, even with
// incomplete configuration, so audit export never blocks.
func (v *Voucher) Explode() []Line {
	out := make([]Line, len(v.Lines))
	copy(out, v.Lines)
	return out
}

// Store persists vouchers keyed by run.
type Store interface {
	SaveVoucher(ctx context.Context, v *Voucher) error
	Voucher(ctx context.Context, run payroll.RunID) (*Voucher, error)
}

// =============================================================================
// BUILDER
// =============================================================================

// Builder constructs vouchers purely from persisted calculation results.
type Builder struct {
	Mapper Mapper
}

// Build maps every detail line of the run's persisted results to ledger
// lines. Missing mappings become warnings, not errors; the caller decides
// whether to persist a degraded voucher.
func (b *Builder) Build(ctx context.Context, run *payroll.PayrollRun, results []payroll.RunEmployee) (*Voucher, error) {
	v := &Voucher{RunID: run.ID, GeneratedAt: time.Now().UTC()}
	scope := string(run.GroupID)

	for _, result := range results {
		// Base pay debit.
		if result.Gross.IsPositive() {
			b.addLine(ctx, v, scope, "BASE_SALARY", result.EmployeeID, "base salary",
				result.Gross, payroll.KindEarning)
		}
		for _, line := range result.Lines {
			b.addLine(ctx, v, scope, line.Code, result.EmployeeID, line.Description,
				line.Amount.Value, line.Kind)
		}
		// Net payable credit.
		if result.Net.IsPositive() {
			b.addLine(ctx, v, scope, NetPayCode, result.EmployeeID, "net pay",
				result.Net, payroll.KindDeduction)
		}
	}
	return v, nil
}

func (b *Builder) addLine(
	ctx context.Context,
	v *Voucher,
	scope string,
	code payroll.ConceptCode,
	employee payroll.EmployeeID,
	description string,
	amount decimal.Decimal,
	kind payroll.ConceptKind,
) {
	mapping, ok, err := b.Mapper.AccountFor(ctx, code, scope)
	if err != nil || !ok {
		message := fmt.Sprintf("no account mapping for concept %s in scope %s", code, scope)
		if err != nil {
			message = fmt.Sprintf("%s: %v", message, err)
		}
		v.Warnings = append(v.Warnings, payroll.Warning(employee, "missing_account_mapping", message))
		return
	}

	switch kind {
	case payroll.KindEarning:
		v.Lines = append(v.Lines, Line{
			Account: mapping.DebitAccount, CostCenter: mapping.CostCenter,
			Debit: amount, Credit: decimal.Zero,
			EmployeeID: employee, ConceptCode: code, Description: description,
		})
	case payroll.KindDeduction:
		v.Lines = append(v.Lines, Line{
			Account: mapping.CreditAccount, CostCenter: mapping.CostCenter,
			Debit: decimal.Zero, Credit: amount,
			EmployeeID: employee, ConceptCode: code, Description: description,
		})
	case payroll.KindBenefit:
		// Employer cost: expense debit offset by a liability credit.
		v.Lines = append(v.Lines,
			Line{
				Account: mapping.DebitAccount, CostCenter: mapping.CostCenter,
				Debit: amount, Credit: decimal.Zero,
				EmployeeID: employee, ConceptCode: code, Description: description,
			},
			Line{
				Account: mapping.CreditAccount, CostCenter: mapping.CostCenter,
				Debit: decimal.Zero, Credit: amount,
				EmployeeID: employee, ConceptCode: code, Description: description,
			},
		)
	}
}

// BalanceCheck adapts the builder into the engine's approval hook: build
// from persisted results and validate the invariants.
func (b *Builder) BalanceCheck(results payroll.RunStore) payroll.BalanceCheck {
	return func(ctx context.Context, run *payroll.PayrollRun) error {
		rows, err := results.EmployeeResults(ctx, run.ID)
		if err != nil {
			return err
		}
		v, err := b.Build(ctx, run, rows)
		if err != nil {
			return err
		}
		return v.Validate()
	}
}

// =============================================================================
// STATIC MAPPER - In-memory Mapper for tests and dev
// =============================================================================

type staticKey struct {
	Code  payroll.ConceptCode
	Scope string
}

// StaticMapper is a fixed account-mapping table.
type StaticMapper struct {
	mappings map[staticKey]AccountMapping
}

func NewStaticMapper() *StaticMapper {
	return &StaticMapper{mappings: make(map[staticKey]AccountMapping)}
}

func (m *StaticMapper) Set(code payroll.ConceptCode, scope string, mapping AccountMapping) {
	m.mappings[staticKey{Code: code, Scope: scope}] = mapping
}

func (m *StaticMapper) AccountFor(_ context.Context, code payroll.ConceptCode, scope string) (AccountMapping, bool, error) {
	if mapping, ok := m.mappings[staticKey{Code: code, Scope: scope}]; ok {
		return mapping, true, nil
	}
	// Scope-less fallback mapping.
	mapping, ok := m.mappings[staticKey{Code: code}]
	return mapping, ok, nil
}
