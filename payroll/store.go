/*
store.go - Persistence interfaces for runs and master data

PURPOSE:
  Defines the interfaces between the engine and the database. Repositories
  are explicit, passed-in objects - there is no ambient session. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  RunStore:      Run headers, per-employee results, last-paid-day lookup
  EmployeeStore: Group membership and employee snapshots
  ConfigStore:   (config.go) calculation configuration
  LoanStore:     (loan.go) loans, payments, per-employee locks
  EventStore:    (events.go) payroll events
  HistoryStore:  (concept.go) accumulated tax bases
  ProgressStore: (progress.go) live progress snapshots

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - payroll/store: In-memory for testing
*/
package payroll

import (
	"context"
	"time"
)

// =============================================================================
// RUN STORE
// =============================================================================

// RunStore persists run headers and their per-employee results.
type RunStore interface {
	// SaveRun upserts the run header (state, totals, counts, log).
	SaveRun(ctx context.Context, run *PayrollRun) error

	// Run loads one run. Returns ErrRunNotFound when absent.
	Run(ctx context.Context, id RunID) (*PayrollRun, error)

	// SaveEmployeeResult persists one employee's result with its lines.
	SaveEmployeeResult(ctx context.Context, result RunEmployee) error

	// EmployeeResults returns all results for a run.
	EmployeeResults(ctx context.Context, run RunID) ([]RunEmployee, error)

	// ClearResults deletes every per-employee result and line for a run.
	// Used by recalculation after loan payments have been reversed.
	ClearResults(ctx context.Context, run RunID) error

	// LastPaidPeriodEnd returns the latest period end among applied/paid
	// runs covering the employee. ok is false when no such run exists.
	LastPaidPeriodEnd(ctx context.Context, employee EmployeeID) (end time.Time, ok bool, err error)
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// EmployeeStore reads employee master data. The engine only reads; CRUD
// administration lives outside this module.
type EmployeeStore interface {
	// Employee returns one snapshot. Returns ErrEmployeeNotFound when absent.
	Employee(ctx context.Context, id EmployeeID) (EmployeeSnapshot, error)

	// EmployeesInGroup returns the snapshots of a payroll group's members,
	// in a stable order.
	EmployeesInGroup(ctx context.Context, group GroupID) ([]EmployeeSnapshot, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store aggregates everything the run engine needs. The sqlite and memory
// implementations satisfy the whole interface; tests may compose narrower
// fakes per field instead.
type Store interface {
	RunStore
	EmployeeStore
	ConfigStore
	LoanStore
	EventStore
	HistoryStore
	ProgressStore
}
