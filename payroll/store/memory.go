// Package store provides an in-memory payroll.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	runs      map[payroll.RunID]payroll.PayrollRun
	results   map[payroll.RunID][]payroll.RunEmployee
	employees map[payroll.EmployeeID]payroll.EmployeeSnapshot
	groups    map[payroll.GroupID][]payroll.EmployeeID
	configs   []payroll.CalculationConfig
	loans     map[payroll.LoanID]payroll.Loan
	payments  map[string]payroll.LoanPayment
	events    map[string]payroll.Event
	history   map[historyKey]payroll.TaxBasisHistory
	progress  map[payroll.RunID]payroll.Progress

	locks sync.Map // payroll.EmployeeID -> *sync.Mutex
}

var _ payroll.Store = (*Memory)(nil)

type historyKey struct {
	Employee payroll.EmployeeID
	Year     int
}

func NewMemory() *Memory {
	return &Memory{
		runs:      make(map[payroll.RunID]payroll.PayrollRun),
		results:   make(map[payroll.RunID][]payroll.RunEmployee),
		employees: make(map[payroll.EmployeeID]payroll.EmployeeSnapshot),
		groups:    make(map[payroll.GroupID][]payroll.EmployeeID),
		loans:     make(map[payroll.LoanID]payroll.Loan),
		payments:  make(map[string]payroll.LoanPayment),
		events:    make(map[string]payroll.Event),
		history:   make(map[historyKey]payroll.TaxBasisHistory),
		progress:  make(map[payroll.RunID]payroll.Progress),
	}
}

// =============================================================================
// RUN STORE
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run *payroll.PayrollRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	copied.Log = append([]payroll.LogEntry(nil), run.Log...)
	m.runs[run.ID] = copied
	return nil
}

func (m *Memory) Run(_ context.Context, id payroll.RunID) (*payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, payroll.ErrRunNotFound
	}
	copied := run
	copied.Log = append([]payroll.LogEntry(nil), run.Log...)
	return &copied, nil
}

func (m *Memory) SaveEmployeeResult(_ context.Context, result payroll.RunEmployee) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := m.results[result.RunID]
	for i, r := range results {
		if r.EmployeeID == result.EmployeeID {
			results[i] = result
			return nil
		}
	}
	m.results[result.RunID] = append(results, result)
	return nil
}

func (m *Memory) EmployeeResults(_ context.Context, run payroll.RunID) ([]payroll.RunEmployee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.RunEmployee, len(m.results[run]))
	copy(out, m.results[run])
	return out, nil
}

func (m *Memory) ClearResults(_ context.Context, run payroll.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, run)
	return nil
}

func (m *Memory) LastPaidPeriodEnd(_ context.Context, employee payroll.EmployeeID) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest time.Time
	found := false
	for _, run := range m.runs {
		if !run.State.Terminal() {
			continue
		}
		for _, r := range m.results[run.ID] {
			if r.EmployeeID == employee && run.Period.End.After(latest) {
				latest = run.Period.End
				found = true
			}
		}
	}
	return latest, found, nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// AddEmployee registers an employee and their group membership.
func (m *Memory) AddEmployee(snap payroll.EmployeeSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[snap.ID] = snap
	if snap.GroupID != "" {
		m.groups[snap.GroupID] = append(m.groups[snap.GroupID], snap.ID)
	}
}

func (m *Memory) Employee(_ context.Context, id payroll.EmployeeID) (payroll.EmployeeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.employees[id]
	if !ok {
		return payroll.EmployeeSnapshot{}, payroll.ErrEmployeeNotFound
	}
	return snap, nil
}

func (m *Memory) EmployeesInGroup(_ context.Context, group payroll.GroupID) ([]payroll.EmployeeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.EmployeeSnapshot
	for _, id := range m.groups[group] {
		out = append(out, m.employees[id])
	}
	return out, nil
}

// =============================================================================
// CONFIG STORE
// =============================================================================

func (m *Memory) ActiveConfig(_ context.Context, company payroll.CompanyID) (*payroll.CalculationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.configs {
		cfg := m.configs[i]
		if cfg.Active && cfg.CompanyID == company {
			return &cfg, nil
		}
	}
	return nil, nil
}

func (m *Memory) SaveConfig(_ context.Context, cfg payroll.CalculationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.Active {
		// At most one active config per scope.
		for i := range m.configs {
			if m.configs[i].CompanyID == cfg.CompanyID {
				m.configs[i].Active = false
			}
		}
	}
	m.configs = append(m.configs, cfg)
	return nil
}

// =============================================================================
// LOAN STORE
// =============================================================================

func (m *Memory) Loan(_ context.Context, id payroll.LoanID) (*payroll.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, payroll.ErrLoanNotFound
	}
	copied := loan
	return &copied, nil
}

func (m *Memory) OpenLoans(_ context.Context, employee payroll.EmployeeID, kind payroll.LoanKind) ([]*payroll.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*payroll.Loan
	for _, loan := range m.loans {
		if loan.EmployeeID == employee && loan.Kind == kind && loan.State == payroll.LoanApproved {
			copied := loan
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *Memory) SaveLoan(_ context.Context, loan *payroll.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = *loan
	return nil
}

func (m *Memory) RecordPayment(_ context.Context, payment payroll.LoanPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ID] = payment
	return nil
}

func (m *Memory) PaymentsBySource(_ context.Context, source payroll.SourceType, sourceID string) ([]payroll.LoanPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.LoanPayment
	for _, p := range m.payments {
		if p.Source == source && p.SourceID == sourceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	return out, nil
}

func (m *Memory) DeletePayment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payments, id)
	return nil
}

// PaymentCount reports the number of payment rows, for recalculation tests.
func (m *Memory) PaymentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.payments)
}

func (m *Memory) WithEmployeeLock(ctx context.Context, employee payroll.EmployeeID, fn func(ctx context.Context) error) error {
	v, _ := m.locks.LoadOrStore(employee, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return payroll.ErrLoanLocked
	}
	defer mu.Unlock()
	return fn(ctx)
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (m *Memory) SaveEvent(_ context.Context, event payroll.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event
	return nil
}

func (m *Memory) EventsFor(_ context.Context, employee payroll.EmployeeID, period payroll.Period) ([]payroll.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.Event
	for _, e := range m.events {
		if e.EmployeeID == employee && !e.Executed && period.Contains(e.From) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MarkExecuted(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e, ok := m.events[id]; ok {
			e.Executed = true
			m.events[id] = e
		}
	}
	return nil
}

// =============================================================================
// HISTORY STORE
// =============================================================================

func (m *Memory) TaxBasis(_ context.Context, employee payroll.EmployeeID, year int) (payroll.TaxBasisHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.history[historyKey{Employee: employee, Year: year}]; ok {
		return h, nil
	}
	return payroll.TaxBasisHistory{EmployeeID: employee, Year: year}, nil
}

func (m *Memory) SaveTaxBasis(_ context.Context, history payroll.TaxBasisHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[historyKey{Employee: history.EmployeeID, Year: history.Year}] = history
	return nil
}

// =============================================================================
// PROGRESS STORE
// =============================================================================

func (m *Memory) SaveProgress(_ context.Context, p payroll.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := p
	copied.Log = append([]payroll.LogEntry(nil), p.Log...)
	m.progress[p.RunID] = copied
	return nil
}

func (m *Memory) Progress(_ context.Context, run payroll.RunID) (*payroll.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[run]
	if !ok {
		return nil, nil
	}
	copied := p
	copied.Log = append([]payroll.LogEntry(nil), p.Log...)
	return &copied, nil
}
