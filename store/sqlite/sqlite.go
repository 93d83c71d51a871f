/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (payroll.Store, settlement.Store,
  ledger.Store, payroll.RateSource, ledger.Mapper) using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  payroll_runs:     Run headers with state, totals, counts, log
  run_results:      Per-employee results; detail lines stored as JSON
  employees:        Master-data snapshots read by the engine
  calc_configs:     Calculation configuration (one active row per scope)
  loans:            Loan/advance balances and state
  loan_payments:    Allocation ledger (deleted only on reversal)
  payroll_events:   Ad-hoc events/novelties
  tax_basis:        Accumulated cross-period tax bases
  run_progress:     Decoupled live progress snapshots
  settlements:      Termination settlements with JSON lines
  vouchers:         Accounting vouchers with JSON lines
  exchange_rates:   Dated currency rates
  account_mappings: Concept-code to ledger-account configuration

REVERSAL SEMANTICS:
  loan_payments is the one table rows are deleted from, and only as part
  of the reverse-then-reapply recalculation contract: each deletion is
  paired with restoring the owning loan's balance.

CONCURRENCY:
  Per-employee loan-balance access is serialized with in-process mutexes
  (TryLock -> ErrLoanLocked, retryable). With PostgreSQL, row-level locks
  on the loans table would take this role.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  a single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/settlement"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db    *sql.DB
	locks sync.Map // payroll.EmployeeID -> *sync.Mutex
}

var (
	_ payroll.Store      = (*Store)(nil)
	_ payroll.RateSource = (*Store)(nil)
	_ settlement.Store   = (*Store)(nil)
	_ ledger.Store       = (*Store)(nil)
	_ ledger.Mapper      = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS payroll_runs (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		calculated_at TEXT,
		state TEXT NOT NULL,
		gross TEXT NOT NULL DEFAULT '0',
		deductions TEXT NOT NULL DEFAULT '0',
		net TEXT NOT NULL DEFAULT '0',
		total_employees INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		background INTEGER NOT NULL DEFAULT 0,
		log_json TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_runs_state ON payroll_runs(state);

	CREATE TABLE IF NOT EXISTS run_results (
		run_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		source_currency TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		gross TEXT NOT NULL,
		earnings TEXT NOT NULL,
		deductions TEXT NOT NULL,
		net TEXT NOT NULL,
		lines_json TEXT NOT NULL DEFAULT '[]',
		event_ids_json TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (run_id, employee_id)
	);
	CREATE INDEX IF NOT EXISTS idx_results_employee ON run_results(employee_id);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		company_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		currency TEXT NOT NULL,
		hire_date TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_employees_group ON employees(group_id);

	CREATE TABLE IF NOT EXISTS calc_configs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		day_factor TEXT NOT NULL,
		apply_loans INTEGER NOT NULL DEFAULT 1,
		apply_advances INTEGER NOT NULL DEFAULT 1,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_configs_scope ON calc_configs(company_id, active);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		description TEXT,
		balance TEXT NOT NULL,
		installment TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		currency TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_employee ON loans(employee_id, kind, state);

	CREATE TABLE IF NOT EXISTS loan_payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		source TEXT NOT NULL,
		source_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		applied_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_source ON loan_payments(source, source_id);

	CREATE TABLE IF NOT EXISTS payroll_events (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		concept_code TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		units TEXT NOT NULL DEFAULT '0',
		rate TEXT NOT NULL DEFAULT '0',
		amount TEXT NOT NULL DEFAULT '0',
		executed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_employee ON payroll_events(employee_id, executed);

	CREATE TABLE IF NOT EXISTS tax_basis (
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		taxable_gross TEXT NOT NULL DEFAULT '0',
		withheld TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (employee_id, year)
	);

	CREATE TABLE IF NOT EXISTS run_progress (
		run_id TEXT PRIMARY KEY,
		total INTEGER NOT NULL,
		processed INTEGER NOT NULL,
		errored INTEGER NOT NULL,
		current_employee TEXT,
		started_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		log_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		calculation_date TEXT NOT NULL,
		last_paid_day TEXT,
		pending_days INTEGER NOT NULL DEFAULT 0,
		daily_rate TEXT NOT NULL DEFAULT '0',
		gross TEXT NOT NULL DEFAULT '0',
		deductions TEXT NOT NULL DEFAULT '0',
		net TEXT NOT NULL DEFAULT '0',
		state TEXT NOT NULL,
		lines_json TEXT NOT NULL DEFAULT '[]',
		log_json TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_settlements_employee ON settlements(employee_id);

	CREATE TABLE IF NOT EXISTS vouchers (
		run_id TEXT PRIMARY KEY,
		generated_at TEXT NOT NULL,
		lines_json TEXT NOT NULL DEFAULT '[]',
		warnings_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS exchange_rates (
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		rate TEXT NOT NULL,
		PRIMARY KEY (from_currency, to_currency, valid_from)
	);

	CREATE TABLE IF NOT EXISTS account_mappings (
		concept_code TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		debit_account TEXT,
		credit_account TEXT,
		cost_center TEXT,
		PRIMARY KEY (concept_code, scope)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all data (for demo scenarios and tests).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"payroll_runs", "run_results", "employees", "calc_configs",
		"loans", "loan_payments", "payroll_events", "tax_basis",
		"run_progress", "settlements", "vouchers", "exchange_rates",
		"account_mappings",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// JSON AND DATE HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// =============================================================================
// RUN STORE
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, run *payroll.PayrollRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_runs
			(id, group_id, company_id, currency, period_start, period_end, calculated_at,
			 state, gross, deductions, net, total_employees, processed, errored, background, log_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calculated_at = excluded.calculated_at,
			state = excluded.state,
			gross = excluded.gross,
			deductions = excluded.deductions,
			net = excluded.net,
			total_employees = excluded.total_employees,
			processed = excluded.processed,
			errored = excluded.errored,
			background = excluded.background,
			log_json = excluded.log_json`,
		string(run.ID), string(run.GroupID), string(run.CompanyID), string(run.Currency),
		run.Period.Start.Format(dateLayout), run.Period.End.Format(dateLayout),
		run.CalculatedAt.Format(time.RFC3339Nano),
		string(run.State), run.Gross.String(), run.Deductions.String(), run.Net.String(),
		run.TotalEmployees, run.Processed, run.Errored, boolToInt(run.Background),
		marshalJSON(run.Log))
	return err
}

func (s *Store) Run(ctx context.Context, id payroll.RunID) (*payroll.PayrollRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, company_id, currency, period_start, period_end, calculated_at,
		       state, gross, deductions, net, total_employees, processed, errored, background, log_json
		FROM payroll_runs WHERE id = ?`, string(id))

	var run payroll.PayrollRun
	var runID, groupID, companyID, currency, start, end, calculatedAt, state string
	var gross, deductions, net, logJSON string
	var background int
	err := row.Scan(&runID, &groupID, &companyID, &currency, &start, &end, &calculatedAt,
		&state, &gross, &deductions, &net,
		&run.TotalEmployees, &run.Processed, &run.Errored, &background, &logJSON)
	if err == sql.ErrNoRows {
		return nil, payroll.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	run.ID = payroll.RunID(runID)
	run.GroupID = payroll.GroupID(groupID)
	run.CompanyID = payroll.CompanyID(companyID)
	run.Currency = payroll.Currency(currency)
	run.Period = payroll.NewPeriod(parseDate(start), parseDate(end))
	run.CalculatedAt = parseTimestamp(calculatedAt)
	run.State = payroll.RunState(state)
	run.Gross = dec(gross)
	run.Deductions = dec(deductions)
	run.Net = dec(net)
	run.Background = background != 0
	if err := json.Unmarshal([]byte(logJSON), &run.Log); err != nil {
		return nil, fmt.Errorf("decoding run log: %w", err)
	}
	return &run, nil
}

func (s *Store) SaveEmployeeResult(ctx context.Context, result payroll.RunEmployee) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_results
			(run_id, employee_id, base_salary, source_currency, exchange_rate,
			 gross, earnings, deductions, net, lines_json, event_ids_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, employee_id) DO UPDATE SET
			base_salary = excluded.base_salary,
			source_currency = excluded.source_currency,
			exchange_rate = excluded.exchange_rate,
			gross = excluded.gross,
			earnings = excluded.earnings,
			deductions = excluded.deductions,
			net = excluded.net,
			lines_json = excluded.lines_json,
			event_ids_json = excluded.event_ids_json`,
		string(result.RunID), string(result.EmployeeID),
		result.BaseSalary.String(), string(result.SourceCurrency), result.ExchangeRate.String(),
		result.Gross.String(), result.Earnings.String(), result.Deductions.String(), result.Net.String(),
		marshalJSON(result.Lines), marshalJSON(result.EventIDs))
	return err
}

func (s *Store) EmployeeResults(ctx context.Context, run payroll.RunID) ([]payroll.RunEmployee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, employee_id, base_salary, source_currency, exchange_rate,
		       gross, earnings, deductions, net, lines_json, event_ids_json
		FROM run_results WHERE run_id = ? ORDER BY employee_id`, string(run))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []payroll.RunEmployee
	for rows.Next() {
		var r payroll.RunEmployee
		var runID, employeeID, baseSalary, sourceCurrency, rate string
		var gross, earnings, deductions, net, linesJSON, eventsJSON string
		if err := rows.Scan(&runID, &employeeID, &baseSalary, &sourceCurrency, &rate,
			&gross, &earnings, &deductions, &net, &linesJSON, &eventsJSON); err != nil {
			return nil, err
		}
		r.RunID = payroll.RunID(runID)
		r.EmployeeID = payroll.EmployeeID(employeeID)
		r.BaseSalary = dec(baseSalary)
		r.SourceCurrency = payroll.Currency(sourceCurrency)
		r.ExchangeRate = dec(rate)
		r.Gross = dec(gross)
		r.Earnings = dec(earnings)
		r.Deductions = dec(deductions)
		r.Net = dec(net)
		if err := json.Unmarshal([]byte(linesJSON), &r.Lines); err != nil {
			return nil, fmt.Errorf("decoding result lines: %w", err)
		}
		if err := json.Unmarshal([]byte(eventsJSON), &r.EventIDs); err != nil {
			return nil, fmt.Errorf("decoding result event ids: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) ClearResults(ctx context.Context, run payroll.RunID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_results WHERE run_id = ?`, string(run))
	return err
}

func (s *Store) LastPaidPeriodEnd(ctx context.Context, employee payroll.EmployeeID) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MAX(r.period_end)
		FROM payroll_runs r
		JOIN run_results rr ON rr.run_id = r.id
		WHERE rr.employee_id = ? AND r.state IN ('applied', 'paid')`, string(employee))

	var end sql.NullString
	if err := row.Scan(&end); err != nil {
		return time.Time{}, false, err
	}
	if !end.Valid || end.String == "" {
		return time.Time{}, false, nil
	}
	return parseDate(end.String), true, nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// SaveEmployee upserts one employee snapshot. Master-data CRUD lives
// outside this module; this exists for seeding and tests.
func (s *Store) SaveEmployee(ctx context.Context, snap payroll.EmployeeSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, company_id, group_id, base_salary, currency, hire_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			company_id = excluded.company_id,
			group_id = excluded.group_id,
			base_salary = excluded.base_salary,
			currency = excluded.currency,
			hire_date = excluded.hire_date`,
		string(snap.ID), snap.Name, string(snap.CompanyID), string(snap.GroupID),
		snap.BaseSalary.String(), string(snap.Currency), snap.HireDate.Format(dateLayout))
	return err
}

func (s *Store) Employee(ctx context.Context, id payroll.EmployeeID) (payroll.EmployeeSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, company_id, group_id, base_salary, currency, hire_date
		FROM employees WHERE id = ?`, string(id))
	snap, err := scanEmployee(row.Scan)
	if err == sql.ErrNoRows {
		return payroll.EmployeeSnapshot{}, payroll.ErrEmployeeNotFound
	}
	return snap, err
}

func (s *Store) EmployeesInGroup(ctx context.Context, group payroll.GroupID) ([]payroll.EmployeeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, company_id, group_id, base_salary, currency, hire_date
		FROM employees WHERE group_id = ? ORDER BY id`, string(group))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.EmployeeSnapshot
	for rows.Next() {
		snap, err := scanEmployee(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanEmployee(scan func(...any) error) (payroll.EmployeeSnapshot, error) {
	var id, name, companyID, groupID, baseSalary, currency, hireDate string
	if err := scan(&id, &name, &companyID, &groupID, &baseSalary, &currency, &hireDate); err != nil {
		return payroll.EmployeeSnapshot{}, err
	}
	return payroll.EmployeeSnapshot{
		ID:         payroll.EmployeeID(id),
		Name:       name,
		CompanyID:  payroll.CompanyID(companyID),
		GroupID:    payroll.GroupID(groupID),
		BaseSalary: dec(baseSalary),
		Currency:   payroll.Currency(currency),
		HireDate:   parseDate(hireDate),
	}, nil
}

// =============================================================================
// CONFIG STORE
// =============================================================================

func (s *Store) ActiveConfig(ctx context.Context, company payroll.CompanyID) (*payroll.CalculationConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, mode, day_factor, apply_loans, apply_advances, active
		FROM calc_configs WHERE company_id = ? AND active = 1 LIMIT 1`, string(company))

	var cfg payroll.CalculationConfig
	var id, companyID, mode, factor string
	var applyLoans, applyAdvances, active int
	err := row.Scan(&id, &companyID, &mode, &factor, &applyLoans, &applyAdvances, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.ID = id
	cfg.CompanyID = payroll.CompanyID(companyID)
	cfg.Mode = payroll.ProrationMode(mode)
	cfg.DayFactor = dec(factor)
	cfg.ApplyLoans = applyLoans != 0
	cfg.ApplyAdvances = applyAdvances != 0
	cfg.Active = active != 0
	return &cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg payroll.CalculationConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if cfg.Active {
		// At most one active config per scope.
		if _, err := tx.ExecContext(ctx,
			`UPDATE calc_configs SET active = 0 WHERE company_id = ?`, string(cfg.CompanyID)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calc_configs (id, company_id, mode, day_factor, apply_loans, apply_advances, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			mode = excluded.mode,
			day_factor = excluded.day_factor,
			apply_loans = excluded.apply_loans,
			apply_advances = excluded.apply_advances,
			active = excluded.active`,
		cfg.ID, string(cfg.CompanyID), string(cfg.Mode), cfg.DayFactor.String(),
		boolToInt(cfg.ApplyLoans), boolToInt(cfg.ApplyAdvances), boolToInt(cfg.Active)); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// LOAN STORE
// =============================================================================

func (s *Store) Loan(ctx context.Context, id payroll.LoanID) (*payroll.Loan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, kind, description, balance, installment, priority, state, currency
		FROM loans WHERE id = ?`, string(id))
	loan, err := scanLoan(row.Scan)
	if err == sql.ErrNoRows {
		return nil, payroll.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *Store) OpenLoans(ctx context.Context, employee payroll.EmployeeID, kind payroll.LoanKind) ([]*payroll.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, kind, description, balance, installment, priority, state, currency
		FROM loans
		WHERE employee_id = ? AND kind = ? AND state = 'approved'
		ORDER BY priority, id`, string(employee), string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*payroll.Loan
	for rows.Next() {
		loan, err := scanLoan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, rows.Err()
}

func scanLoan(scan func(...any) error) (*payroll.Loan, error) {
	var id, employeeID, kind, state, currency string
	var description sql.NullString
	var balance, installment string
	var priority int
	if err := scan(&id, &employeeID, &kind, &description, &balance, &installment, &priority, &state, &currency); err != nil {
		return nil, err
	}
	return &payroll.Loan{
		ID:          payroll.LoanID(id),
		EmployeeID:  payroll.EmployeeID(employeeID),
		Kind:        payroll.LoanKind(kind),
		Description: description.String,
		Balance:     payroll.NewMoneyFromDecimal(dec(balance), payroll.Currency(currency)),
		Installment: payroll.NewMoneyFromDecimal(dec(installment), payroll.Currency(currency)),
		Priority:    priority,
		State:       payroll.LoanState(state),
	}, nil
}

func (s *Store) SaveLoan(ctx context.Context, loan *payroll.Loan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (id, employee_id, kind, description, balance, installment, priority, state, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			installment = excluded.installment,
			priority = excluded.priority,
			state = excluded.state`,
		string(loan.ID), string(loan.EmployeeID), string(loan.Kind), loan.Description,
		loan.Balance.Value.String(), loan.Installment.Value.String(),
		loan.Priority, string(loan.State), string(loan.Balance.Currency))
	return err
}

func (s *Store) RecordPayment(ctx context.Context, payment payroll.LoanPayment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loan_payments (id, loan_id, employee_id, source, source_id, amount, currency, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID, string(payment.LoanID), string(payment.EmployeeID),
		string(payment.Source), payment.SourceID,
		payment.Amount.Value.String(), string(payment.Amount.Currency),
		payment.AppliedAt.Format(time.RFC3339Nano))
	return err
}

func (s *Store) PaymentsBySource(ctx context.Context, source payroll.SourceType, sourceID string) ([]payroll.LoanPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, employee_id, source, source_id, amount, currency, applied_at
		FROM loan_payments WHERE source = ? AND source_id = ? ORDER BY applied_at`,
		string(source), sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.LoanPayment
	for rows.Next() {
		var p payroll.LoanPayment
		var id, loanID, employeeID, src, srcID, amount, currency, appliedAt string
		if err := rows.Scan(&id, &loanID, &employeeID, &src, &srcID, &amount, &currency, &appliedAt); err != nil {
			return nil, err
		}
		p.ID = id
		p.LoanID = payroll.LoanID(loanID)
		p.EmployeeID = payroll.EmployeeID(employeeID)
		p.Source = payroll.SourceType(src)
		p.SourceID = srcID
		p.Amount = payroll.NewMoneyFromDecimal(dec(amount), payroll.Currency(currency))
		p.AppliedAt = parseTimestamp(appliedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM loan_payments WHERE id = ?`, id)
	return err
}

// PaymentCount reports the number of payment rows, for recalculation tests.
func (s *Store) PaymentCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loan_payments`).Scan(&n)
	return n, err
}

func (s *Store) WithEmployeeLock(ctx context.Context, employee payroll.EmployeeID, fn func(ctx context.Context) error) error {
	v, _ := s.locks.LoadOrStore(employee, &sync.Mutex{})
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

func (s *Store) SaveEvent(ctx context.Context, event payroll.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_events (id, employee_id, concept_code, from_date, to_date, units, rate, amount, executed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_date = excluded.from_date,
			to_date = excluded.to_date,
			units = excluded.units,
			rate = excluded.rate,
			amount = excluded.amount,
			executed = excluded.executed`,
		event.ID, string(event.EmployeeID), string(event.ConceptCode),
		event.From.Format(dateLayout), event.To.Format(dateLayout),
		event.Units.String(), event.Rate.String(), event.Amount.String(),
		boolToInt(event.Executed))
	return err
}

func (s *Store) EventsFor(ctx context.Context, employee payroll.EmployeeID, period payroll.Period) ([]payroll.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, concept_code, from_date, to_date, units, rate, amount, executed
		FROM payroll_events
		WHERE employee_id = ? AND executed = 0 AND from_date >= ? AND from_date <= ?
		ORDER BY id`,
		string(employee), period.Start.Format(dateLayout), period.End.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.Event
	for rows.Next() {
		var e payroll.Event
		var id, employeeID, conceptCode, from, to, units, rate, amount string
		var executed int
		if err := rows.Scan(&id, &employeeID, &conceptCode, &from, &to, &units, &rate, &amount, &executed); err != nil {
			return nil, err
		}
		e.ID = id
		e.EmployeeID = payroll.EmployeeID(employeeID)
		e.ConceptCode = payroll.ConceptCode(conceptCode)
		e.From = parseDate(from)
		e.To = parseDate(to)
		e.Units = dec(units)
		e.Rate = dec(rate)
		e.Amount = dec(amount)
		e.Executed = executed != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkExecuted(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE payroll_events SET executed = 1 WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// =============================================================================
// HISTORY STORE
// =============================================================================

func (s *Store) TaxBasis(ctx context.Context, employee payroll.EmployeeID, year int) (payroll.TaxBasisHistory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT taxable_gross, withheld FROM tax_basis WHERE employee_id = ? AND year = ?`,
		string(employee), year)

	history := payroll.TaxBasisHistory{EmployeeID: employee, Year: year}
	var gross, withheld string
	err := row.Scan(&gross, &withheld)
	if err == sql.ErrNoRows {
		return history, nil
	}
	if err != nil {
		return history, err
	}
	history.TaxableGross = dec(gross)
	history.Withheld = dec(withheld)
	return history, nil
}

func (s *Store) SaveTaxBasis(ctx context.Context, history payroll.TaxBasisHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tax_basis (employee_id, year, taxable_gross, withheld)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(employee_id, year) DO UPDATE SET
			taxable_gross = excluded.taxable_gross,
			withheld = excluded.withheld`,
		string(history.EmployeeID), history.Year,
		history.TaxableGross.String(), history.Withheld.String())
	return err
}

// =============================================================================
// PROGRESS STORE
// =============================================================================

func (s *Store) SaveProgress(ctx context.Context, p payroll.Progress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_progress (run_id, total, processed, errored, current_employee,
			started_at, updated_at, done, log_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			total = excluded.total,
			processed = excluded.processed,
			errored = excluded.errored,
			current_employee = excluded.current_employee,
			updated_at = excluded.updated_at,
			done = excluded.done,
			log_json = excluded.log_json`,
		string(p.RunID), p.Total, p.Processed, p.Errored, string(p.CurrentEmployee),
		p.StartedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano),
		boolToInt(p.Done), marshalJSON(p.Log))
	return err
}

func (s *Store) Progress(ctx context.Context, run payroll.RunID) (*payroll.Progress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, total, processed, errored, current_employee, started_at, updated_at, done, log_json
		FROM run_progress WHERE run_id = ?`, string(run))

	var p payroll.Progress
	var runID, currentEmployee, startedAt, updatedAt, logJSON string
	var done int
	err := row.Scan(&runID, &p.Total, &p.Processed, &p.Errored, &currentEmployee,
		&startedAt, &updatedAt, &done, &logJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.RunID = payroll.RunID(runID)
	p.CurrentEmployee = payroll.EmployeeID(currentEmployee)
	p.StartedAt = parseTimestamp(startedAt)
	p.UpdatedAt = parseTimestamp(updatedAt)
	p.Done = done != 0
	if err := json.Unmarshal([]byte(logJSON), &p.Log); err != nil {
		return nil, fmt.Errorf("decoding progress log: %w", err)
	}
	return &p, nil
}

// =============================================================================
// SETTLEMENT STORE
// =============================================================================

func (s *Store) SaveSettlement(ctx context.Context, st *settlement.Settlement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements
			(id, employee_id, company_id, currency, calculation_date, last_paid_day,
			 pending_days, daily_rate, gross, deductions, net, state, lines_json, log_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calculation_date = excluded.calculation_date,
			last_paid_day = excluded.last_paid_day,
			pending_days = excluded.pending_days,
			daily_rate = excluded.daily_rate,
			gross = excluded.gross,
			deductions = excluded.deductions,
			net = excluded.net,
			state = excluded.state,
			lines_json = excluded.lines_json,
			log_json = excluded.log_json`,
		string(st.ID), string(st.EmployeeID), string(st.CompanyID), string(st.Currency),
		st.CalculationDate.Format(dateLayout), st.LastPaidDay.Format(dateLayout),
		st.PendingDays, st.DailyRate.String(),
		st.Gross.String(), st.Deductions.String(), st.Net.String(),
		string(st.State), marshalJSON(st.Lines), marshalJSON(st.Log))
	return err
}

func (s *Store) Settlement(ctx context.Context, id payroll.SettlementID) (*settlement.Settlement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, company_id, currency, calculation_date, last_paid_day,
		       pending_days, daily_rate, gross, deductions, net, state, lines_json, log_json
		FROM settlements WHERE id = ?`, string(id))

	var st settlement.Settlement
	var sid, employeeID, companyID, currency, calcDate, lastPaid, state string
	var dailyRate, gross, deductions, net, linesJSON, logJSON string
	err := row.Scan(&sid, &employeeID, &companyID, &currency, &calcDate, &lastPaid,
		&st.PendingDays, &dailyRate, &gross, &deductions, &net, &state, &linesJSON, &logJSON)
	if err == sql.ErrNoRows {
		return nil, settlement.ErrSettlementNotFound
	}
	if err != nil {
		return nil, err
	}
	st.ID = payroll.SettlementID(sid)
	st.EmployeeID = payroll.EmployeeID(employeeID)
	st.CompanyID = payroll.CompanyID(companyID)
	st.Currency = payroll.Currency(currency)
	st.CalculationDate = parseDate(calcDate)
	st.LastPaidDay = parseDate(lastPaid)
	st.DailyRate = dec(dailyRate)
	st.Gross = dec(gross)
	st.Deductions = dec(deductions)
	st.Net = dec(net)
	st.State = settlement.State(state)
	if err := json.Unmarshal([]byte(linesJSON), &st.Lines); err != nil {
		return nil, fmt.Errorf("decoding settlement lines: %w", err)
	}
	if err := json.Unmarshal([]byte(logJSON), &st.Log); err != nil {
		return nil, fmt.Errorf("decoding settlement log: %w", err)
	}
	return &st, nil
}

// =============================================================================
// VOUCHER STORE
// =============================================================================

func (s *Store) SaveVoucher(ctx context.Context, v *ledger.Voucher) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vouchers (run_id, generated_at, lines_json, warnings_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			generated_at = excluded.generated_at,
			lines_json = excluded.lines_json,
			warnings_json = excluded.warnings_json`,
		string(v.RunID), v.GeneratedAt.Format(time.RFC3339Nano),
		marshalJSON(v.Lines), marshalJSON(v.Warnings))
	return err
}

func (s *Store) Voucher(ctx context.Context, run payroll.RunID) (*ledger.Voucher, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, generated_at, lines_json, warnings_json FROM vouchers WHERE run_id = ?`,
		string(run))

	var v ledger.Voucher
	var runID, generatedAt, linesJSON, warningsJSON string
	err := row.Scan(&runID, &generatedAt, &linesJSON, &warningsJSON)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	v.RunID = payroll.RunID(runID)
	v.GeneratedAt = parseTimestamp(generatedAt)
	if err := json.Unmarshal([]byte(linesJSON), &v.Lines); err != nil {
		return nil, fmt.Errorf("decoding voucher lines: %w", err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &v.Warnings); err != nil {
		return nil, fmt.Errorf("decoding voucher warnings: %w", err)
	}
	return &v, nil
}

// =============================================================================
// EXCHANGE RATES
// =============================================================================

// SaveRate records a rate valid from the given date onward.
func (s *Store) SaveRate(ctx context.Context, from, to payroll.Currency, validFrom time.Time, rate decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (from_currency, to_currency, valid_from, rate)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(from_currency, to_currency, valid_from) DO UPDATE SET rate = excluded.rate`,
		string(from), string(to), validFrom.Format(dateLayout), rate.String())
	return err
}

// Rate returns the latest rate valid on or before asOf.
func (s *Store) Rate(ctx context.Context, from, to payroll.Currency, asOf time.Time) (decimal.Decimal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND valid_from <= ?
		ORDER BY valid_from DESC LIMIT 1`,
		string(from), string(to), asOf.Format(dateLayout))

	var rate string
	err := row.Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Zero, &payroll.MissingRateError{From: from, To: to, AsOf: asOf}
	}
	if err != nil {
		return decimal.Zero, err
	}
	return dec(rate), nil
}

// =============================================================================
// ACCOUNT MAPPINGS
// =============================================================================

// SaveAccountMapping configures the ledger destination for a concept code.
func (s *Store) SaveAccountMapping(ctx context.Context, code payroll.ConceptCode, scope string, mapping ledger.AccountMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_mappings (concept_code, scope, debit_account, credit_account, cost_center)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(concept_code, scope) DO UPDATE SET
			debit_account = excluded.debit_account,
			credit_account = excluded.credit_account,
			cost_center = excluded.cost_center`,
		string(code), scope, mapping.DebitAccount, mapping.CreditAccount, mapping.CostCenter)
	return err
}

// AccountFor resolves a mapping for the scope, falling back to the
// scope-less default.
func (s *Store) AccountFor(ctx context.Context, code payroll.ConceptCode, scope string) (ledger.AccountMapping, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT debit_account, credit_account, cost_center
		FROM account_mappings
		WHERE concept_code = ? AND scope IN (?, '')
		ORDER BY scope DESC LIMIT 1`, string(code), scope)

	var debit, credit, costCenter sql.NullString
	err := row.Scan(&debit, &credit, &costCenter)
	if err == sql.ErrNoRows {
		return ledger.AccountMapping{}, false, nil
	}
	if err != nil {
		return ledger.AccountMapping{}, false, err
	}
	return ledger.AccountMapping{
		DebitAccount:  debit.String,
		CreditAccount: credit.String,
		CostCenter:    costCenter.String,
	}, true, nil
}
