/*
Package payroll provides the core payroll calculation engine.

PURPOSE:
  This package contains the domain types and algorithms for computing
  employee pay over a period: concept evaluation in priority order,
  loan/advance allocation against a bounded balance, currency conversion,
  cross-period tax-basis accumulation, and run orchestration with
  partial-failure tolerance.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary quantity with a currency, backed by decimal.Decimal
  - Currency: ISO-style currency code
  - ConceptKind: earning / deduction / benefit classification
  - LineItem: One concept contribution to an employee result
  - Period: The [start, end] window a run covers
  - EmployeeSnapshot: The employee facts captured at calculation time

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors;
     amounts are rounded to the cent only at defined boundaries
  2. Type Safety: Strong typing for IDs prevents mixing run/employee/loan IDs
  3. Isolation: Per-employee results are independent rows; a failure for
     one employee never corrupts another's result

SEE ALSO:
  - concept.go: Concept definitions and the evaluator registry
  - engine.go: The run engine orchestrating per-employee calculation
  - loan.go: Loan/advance allocation and payment reversal
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary quantity with currency
// =============================================================================

type Currency string

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromDecimal(value decimal.Decimal, currency Currency) Money {
	return Money{Value: value, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money                 { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money           { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money           { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money { return Money{Value: m.Value.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool    { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool       { return m.Value.LessThan(b.Value) }
func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

// RoundCents rounds to two decimal places. All persisted amounts and all
// invariant checks (net = gross + earnings - deductions) operate on
// cent-rounded values.
func (m Money) RoundCents() Money {
	return Money{Value: m.Value.Round(2), Currency: m.Currency}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RunID string
type SettlementID string
type LoanID string
type CompanyID string
type GroupID string
type ConceptCode string

// =============================================================================
// CONCEPT KINDS AND LINE ITEMS
// =============================================================================

type ConceptKind string

const (
	KindEarning   ConceptKind = "earning"   // Adds to pay (overtime, bonus)
	KindDeduction ConceptKind = "deduction" // Subtracts from pay (tax, loan installment)
	KindBenefit   ConceptKind = "benefit"   // Employer cost; never reduces net pay
)

// LineItem is one concept contribution to a calculation result. Lines are
// owned exclusively by their parent result and are fully replaced on
// recalculation; they are never edited in place.
type LineItem struct {
	Kind        ConceptKind
	Code        ConceptCode
	Description string
	Amount      Money
	Position    int
}

// =============================================================================
// PERIOD - Calculation window
// =============================================================================

type Period struct {
	Start time.Time
	End   time.Time
}

func NewPeriod(start, end time.Time) Period {
	return Period{Start: dateOnly(start), End: dateOnly(end)}
}

func (p Period) Valid() bool { return !p.End.Before(p.Start) }

func (p Period) Contains(day time.Time) bool {
	d := dateOnly(day)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns the inclusive number of calendar days in the period.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole days from one date to another (to - from).
func DaysBetween(from, to time.Time) int {
	return int(dateOnly(to).Sub(dateOnly(from)).Hours() / 24)
}

// =============================================================================
// EMPLOYEE SNAPSHOT - Facts captured at calculation time
// =============================================================================

// EmployeeSnapshot carries the employee attributes the engine reads. The
// engine never mutates master data; it snapshots salary and currency onto
// the per-run result so later master-data edits cannot change history.
type EmployeeSnapshot struct {
	ID         EmployeeID
	Name       string
	CompanyID  CompanyID
	GroupID    GroupID
	BaseSalary decimal.Decimal // Monthly salary in Currency
	Currency   Currency
	HireDate   time.Time
}

// =============================================================================
// PROCESSING LOG
// =============================================================================

type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogEntry is one structured line in a run or settlement processing log.
// Entries carry employee identity so per-employee failures can be traced
// without aborting the batch.
type LogEntry struct {
	At         time.Time
	Level      LogLevel
	EmployeeID EmployeeID
	Code       string
	Message    string
}

func Info(employee EmployeeID, code, message string) LogEntry {
	return LogEntry{At: time.Now().UTC(), Level: LevelInfo, EmployeeID: employee, Code: code, Message: message}
}

func Warning(employee EmployeeID, code, message string) LogEntry {
	return LogEntry{At: time.Now().UTC(), Level: LevelWarning, EmployeeID: employee, Code: code, Message: message}
}

func Failure(employee EmployeeID, code, message string) LogEntry {
	return LogEntry{At: time.Now().UTC(), Level: LevelError, EmployeeID: employee, Code: code, Message: message}
}
