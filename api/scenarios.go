/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates employees, a concept
	catalog, and the supporting configuration (rates, loans, mappings) that
	demonstrates a specific engine feature.

AVAILABLE SCENARIOS:

	simple-monthly:      One group, one currency, bonus + tax + benefit
	multi-currency:      Mixed currencies with one rate deliberately missing
	loans-and-advances:  Prioritized loans and a salary advance
	overtime-events:     Ad-hoc events consumed by an event-units concept
	termination:         Paid history ready for a settlement calculation

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Install the concept catalog
 3. Create employees and configuration
 4. Seed loans, rates, events, and account mappings as needed
 5. Create a draft run ready to calculate

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "multi-currency"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: The endpoints the seeded data feeds
  - factory/catalog.go: The catalog JSON the loaders install
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "simple-monthly",
		Name:        "Simple Monthly Payroll",
		Description: "One group, one currency: base salary, bonus, tax, health benefit",
		Category:    "runs",
	},
	{
		ID:          "multi-currency",
		Name:        "Multi-Currency Group",
		Description: "EUR and COP salaries converted to a USD run; one rate missing to show error tolerance",
		Category:    "runs",
	},
	{
		ID:          "loans-and-advances",
		Name:        "Loans & Advances",
		Description: "Prioritized loans and a salary advance collected from net pay",
		Category:    "loans",
	},
	{
		ID:          "overtime-events",
		Name:        "Overtime Events",
		Description: "Ad-hoc overtime events consumed once by an event-units concept",
		Category:    "events",
	},
	{
		ID:          "termination",
		Name:        "Termination Settlement",
		Description: "Employee with paid history ready for a pending-days settlement",
		Category:    "settlements",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "simple-monthly":
		err = h.loadSimpleMonthly(ctx)
	case "multi-currency":
		err = h.loadMultiCurrency(ctx)
	case "loans-and-advances":
		err = h.loadLoansAndAdvances(ctx)
	case "overtime-events":
		err = h.loadOvertimeEvents(ctx)
	case "termination":
		err = h.loadTermination(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown scenario %q", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"scenario_id": req.ScenarioID,
		"status":      "loaded",
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var demoPeriod = payroll.NewPeriod(
	time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
)

func (h *Handler) seedEmployee(ctx context.Context, id, name, group string, salary int64, currency payroll.Currency) error {
	return h.Store.SaveEmployee(ctx, payroll.EmployeeSnapshot{
		ID:         payroll.EmployeeID(id),
		Name:       name,
		CompanyID:  "acme",
		GroupID:    payroll.GroupID(group),
		BaseSalary: decimal.NewFromInt(salary),
		Currency:   currency,
		HireDate:   time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	})
}

func (h *Handler) seedDraftRun(ctx context.Context, id, group string) error {
	return h.Store.SaveRun(ctx, &payroll.PayrollRun{
		ID:        payroll.RunID(id),
		GroupID:   payroll.GroupID(group),
		CompanyID: "acme",
		Currency:  "USD",
		Period:    demoPeriod,
		State:     payroll.RunDraft,
	})
}

func (h *Handler) seedMappings(ctx context.Context, codes map[payroll.ConceptCode]ledger.AccountMapping) error {
	for code, mapping := range codes {
		if err := h.Store.SaveAccountMapping(ctx, code, "", mapping); err != nil {
			return err
		}
	}
	return nil
}

// loadSimpleMonthly: the happy path. Three salaried employees, a bonus,
// a mandatory tax, an employer-paid benefit, and a complete account
// mapping so the run can walk all the way to paid with a balanced voucher.
func (h *Handler) loadSimpleMonthly(ctx context.Context) error {
	catalog := `[
		{"code": "BONUS", "name": "Monthly bonus", "kind": "earning", "formula": "fixed_amount", "amount": "150.00"},
		{"code": "INCOME_TAX", "name": "Income tax", "kind": "deduction", "formula": "salary_percent", "mandatory": true, "rate": "0.10"},
		{"code": "HEALTH", "name": "Health insurance", "kind": "benefit", "formula": "salary_percent", "rate": "0.08"}
	]`
	if err := h.LoadCatalog(catalog); err != nil {
		return err
	}

	people := []struct {
		id, name string
		salary   int64
	}{
		{"emp-ana", "Ana Torres", 3000},
		{"emp-ben", "Ben Okafor", 2400},
		{"emp-carla", "Carla Mendez", 1800},
	}
	for _, p := range people {
		if err := h.seedEmployee(ctx, p.id, p.name, "engineering", p.salary, "USD"); err != nil {
			return err
		}
	}

	if err := h.seedMappings(ctx, map[payroll.ConceptCode]ledger.AccountMapping{
		"BASE_SALARY":     {DebitAccount: "5100", CostCenter: "ENG"},
		"BONUS":           {DebitAccount: "5200", CostCenter: "ENG"},
		"INCOME_TAX":      {CreditAccount: "2100"},
		"HEALTH":          {DebitAccount: "5300", CreditAccount: "2300"},
		ledger.NetPayCode: {CreditAccount: "2500"},
	}); err != nil {
		return err
	}

	return h.seedDraftRun(ctx, "run-june", "engineering")
}

// loadMultiCurrency: EUR and COP salaries in a USD run. The EUR rate is
// configured, the COP rate is deliberately left out so the run generates
// with errors and can be fixed via POST /api/admin/rates + retry.
func (h *Handler) loadMultiCurrency(ctx context.Context) error {
	if err := h.LoadCatalog("[]"); err != nil {
		return err
	}

	if err := h.seedEmployee(ctx, "emp-us", "Dana Fields", "global", 3000, "USD"); err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-eu", "Elena Rossi", "global", 2800, "EUR"); err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-co", "Felipe Rojas", "global", 9500000, "COP"); err != nil {
		return err
	}

	if err := h.Store.SaveRate(ctx, "EUR", "USD",
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), decimal.NewFromFloat(1.08)); err != nil {
		return err
	}
	// No COP rate on purpose.

	return h.seedDraftRun(ctx, "run-global", "global")
}

// loadLoansAndAdvances: one employee with two loans (priorities 1 and 2)
// and a salary advance, demonstrating collection order and the payment
// ledger that recalculation reverses.
func (h *Handler) loadLoansAndAdvances(ctx context.Context) error {
	if err := h.LoadCatalog("[]"); err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-gus", "Gus Liang", "ops", 2000, "USD"); err != nil {
		return err
	}

	loans := []*payroll.Loan{
		{
			ID: "loan-laptop", EmployeeID: "emp-gus", Kind: payroll.LoanKindLoan,
			Description: "Laptop purchase plan",
			Balance:     payroll.NewMoney(900, "USD"),
			Installment: payroll.NewMoney(150, "USD"),
			Priority:    1, State: payroll.LoanApproved,
		},
		{
			ID: "loan-education", EmployeeID: "emp-gus", Kind: payroll.LoanKindLoan,
			Description: "Course fee loan",
			Balance:     payroll.NewMoney(400, "USD"),
			Installment: payroll.NewMoney(80, "USD"),
			Priority:    2, State: payroll.LoanApproved,
		},
		{
			ID: "adv-may", EmployeeID: "emp-gus", Kind: payroll.LoanKindAdvance,
			Description: "May salary advance",
			Balance:     payroll.NewMoney(250, "USD"),
			Priority:    1, State: payroll.LoanApproved,
		},
	}
	for _, loan := range loans {
		if err := h.Store.SaveLoan(ctx, loan); err != nil {
			return err
		}
	}

	return h.seedDraftRun(ctx, "run-ops", "ops")
}

// loadOvertimeEvents: overtime and an on-call bonus registered as events,
// consumed by event-driven concepts and marked executed when the run is
// applied.
func (h *Handler) loadOvertimeEvents(ctx context.Context) error {
	catalog := `[
		{"code": "OVERTIME", "name": "Overtime hours", "kind": "earning", "formula": "event_units"},
		{"code": "ON_CALL", "name": "On-call shifts", "kind": "earning", "formula": "event_units"}
	]`
	if err := h.LoadCatalog(catalog); err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-hana", "Hana Sato", "support", 2200, "USD"); err != nil {
		return err
	}

	events := []payroll.Event{
		{
			ID: "ev-ot-1", EmployeeID: "emp-hana", ConceptCode: "OVERTIME",
			From:  time.Date(2025, time.June, 7, 0, 0, 0, 0, time.UTC),
			To:    time.Date(2025, time.June, 7, 0, 0, 0, 0, time.UTC),
			Units: decimal.NewFromInt(6), Rate: decimal.NewFromFloat(18.50),
		},
		{
			ID: "ev-ot-2", EmployeeID: "emp-hana", ConceptCode: "OVERTIME",
			From:  time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC),
			To:    time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC),
			Units: decimal.NewFromInt(4), Rate: decimal.NewFromFloat(18.50),
		},
		{
			ID: "ev-oncall", EmployeeID: "emp-hana", ConceptCode: "ON_CALL",
			From:   time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC),
			To:     time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC),
			Amount: decimal.NewFromInt(120),
		},
	}
	for _, event := range events {
		if err := h.Store.SaveEvent(ctx, event); err != nil {
			return err
		}
	}

	return h.seedDraftRun(ctx, "run-support", "support")
}

// loadTermination: an employee whose May run is already paid, plus an
// outstanding advance, so POST /api/settlements demonstrates pending-day
// proration and loan recovery in one call.
func (h *Handler) loadTermination(ctx context.Context) error {
	if err := h.LoadCatalog("[]"); err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-ivan", "Ivan Petrov", "sales", 3000, "USD"); err != nil {
		return err
	}

	mayRun := &payroll.PayrollRun{
		ID:        "run-may",
		GroupID:   "sales",
		CompanyID: "acme",
		Currency:  "USD",
		Period: payroll.NewPeriod(
			time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.May, 31, 0, 0, 0, 0, time.UTC),
		),
		CalculatedAt:   time.Date(2025, time.May, 31, 12, 0, 0, 0, time.UTC),
		State:          payroll.RunPaid,
		Gross:          decimal.NewFromInt(3000),
		Net:            decimal.NewFromInt(3000),
		TotalEmployees: 1,
		Processed:      1,
	}
	if err := h.Store.SaveRun(ctx, mayRun); err != nil {
		return err
	}
	if err := h.Store.SaveEmployeeResult(ctx, payroll.RunEmployee{
		RunID:          "run-may",
		EmployeeID:     "emp-ivan",
		BaseSalary:     decimal.NewFromInt(3000),
		SourceCurrency: "USD",
		ExchangeRate:   decimal.NewFromInt(1),
		Gross:          decimal.NewFromInt(3000),
		Net:            decimal.NewFromInt(3000),
	}); err != nil {
		return err
	}

	return h.Store.SaveLoan(ctx, &payroll.Loan{
		ID: "adv-ivan", EmployeeID: "emp-ivan", Kind: payroll.LoanKindAdvance,
		Description: "Relocation advance",
		Balance:     payroll.NewMoney(500, "USD"),
		Priority:    1, State: payroll.LoanApproved,
	})
}
