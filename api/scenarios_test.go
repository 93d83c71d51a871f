/*
scenarios_test.go - Tests for the demo scenario loaders

Each scenario must leave the database in a state where its headline
feature can be exercised through the API in one or two calls.
*/
package api

import (
	"net/http"
	"testing"
)

func loadScenario(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := do(t, router, "POST", "/api/scenarios/load", `{"scenario_id": "`+id+`"}`)
	mustStatus(t, rec, http.StatusOK)
}

func TestListScenarios(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, "GET", "/api/scenarios", "")
	mustStatus(t, rec, http.StatusOK)

	var list []ScenarioDTO
	decode(t, rec, &list)
	if len(list) != 5 {
		t.Errorf("Expected 5 scenarios, got %d", len(list))
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, "POST", "/api/scenarios/load", `{"scenario_id": "time-travel"}`)
	mustStatus(t, rec, http.StatusBadRequest)
}

func TestLoadScenario_SimpleMonthly(t *testing.T) {
	// GIVEN: The simple-monthly scenario
	router := newTestRouter(t)
	loadScenario(t, router, "simple-monthly")

	// WHEN: Calculating the seeded run
	rec := do(t, router, "POST", "/api/runs/run-june/calculate", "")
	mustStatus(t, rec, http.StatusOK)
	var calc CalculateResponse
	decode(t, rec, &calc)

	// THEN: All three employees generate cleanly
	if calc.Run.State != "generated" {
		t.Fatalf("Expected generated, got %s", calc.Run.State)
	}
	if calc.Run.Processed != 3 || calc.Run.Errored != 0 {
		t.Errorf("Expected 3 processed 0 errored, got %d/%d", calc.Run.Processed, calc.Run.Errored)
	}

	// And the seeded mappings produce a complete voucher
	rec = do(t, router, "POST", "/api/runs/run-june/voucher", "")
	mustStatus(t, rec, http.StatusOK)
	var voucher VoucherDTO
	decode(t, rec, &voucher)
	if !voucher.Complete {
		t.Errorf("Voucher should be complete, warnings: %+v", voucher.Warnings)
	}

	// Current-scenario endpoint reflects the load
	rec = do(t, router, "GET", "/api/scenarios/current", "")
	mustStatus(t, rec, http.StatusOK)
	var current ScenarioDTO
	decode(t, rec, &current)
	if current.ID != "simple-monthly" {
		t.Errorf("Expected simple-monthly, got %s", current.ID)
	}
}

func TestLoadScenario_MultiCurrency(t *testing.T) {
	// GIVEN: The multi-currency scenario, which ships without a COP rate
	router := newTestRouter(t)
	loadScenario(t, router, "multi-currency")

	// WHEN: Calculating
	rec := do(t, router, "POST", "/api/runs/run-global/calculate", "")
	mustStatus(t, rec, http.StatusOK)
	var calc CalculateResponse
	decode(t, rec, &calc)

	// THEN: The COP employee fails, the rest proceed
	if calc.Run.State != "generated_with_errors" {
		t.Fatalf("Expected generated_with_errors, got %s", calc.Run.State)
	}
	if calc.Run.Errored != 1 {
		t.Errorf("Expected 1 errored, got %d", calc.Run.Errored)
	}

	// Fixing the rate and retrying clears the run
	mustStatus(t, do(t, router, "POST", "/api/admin/rates", `{
		"from": "COP", "to": "USD", "valid_from": "2025-01-01", "rate": "0.00025"
	}`), http.StatusOK)

	rec = do(t, router, "POST", "/api/runs/run-global/retry", `{"actor": "demo"}`)
	mustStatus(t, rec, http.StatusOK)
	decode(t, rec, &calc)
	if calc.Run.State != "generated" {
		t.Errorf("Expected generated after retry, got %s", calc.Run.State)
	}
}

func TestLoadScenario_LoansAndAdvances(t *testing.T) {
	// GIVEN: The loans scenario
	router := newTestRouter(t)
	loadScenario(t, router, "loans-and-advances")

	// WHEN: Calculating
	rec := do(t, router, "POST", "/api/runs/run-ops/calculate", "")
	mustStatus(t, rec, http.StatusOK)
	var calc CalculateResponse
	decode(t, rec, &calc)
	if calc.Run.State != "generated" {
		t.Fatalf("Expected generated, got %s", calc.Run.State)
	}

	// THEN: Installments and the whole advance come out of net pay
	rec = do(t, router, "GET", "/api/runs/run-ops/results", "")
	mustStatus(t, rec, http.StatusOK)
	var results []RunEmployeeDTO
	decode(t, rec, &results)
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	// 2000 - 150 - 80 - 250
	if results[0].Net != "1520.00" {
		t.Errorf("Expected net 1520.00, got %s", results[0].Net)
	}

	rec = do(t, router, "GET", "/api/employees/emp-gus/loans", "")
	mustStatus(t, rec, http.StatusOK)
	var loans []LoanDTO
	decode(t, rec, &loans)
	// The advance is fully repaid; the two loans stay open
	if len(loans) != 2 {
		t.Errorf("Expected 2 open loans, got %d", len(loans))
	}
}

func TestLoadScenario_OvertimeEvents(t *testing.T) {
	// GIVEN: The overtime scenario
	router := newTestRouter(t)
	loadScenario(t, router, "overtime-events")

	// WHEN: Calculating
	rec := do(t, router, "POST", "/api/runs/run-support/calculate", "")
	mustStatus(t, rec, http.StatusOK)
	var calc CalculateResponse
	decode(t, rec, &calc)
	if calc.Run.State != "generated" {
		t.Fatalf("Expected generated, got %s", calc.Run.State)
	}

	// THEN: 10 overtime hours at 18.50 plus the 120 on-call amount
	rec = do(t, router, "GET", "/api/runs/run-support/results", "")
	mustStatus(t, rec, http.StatusOK)
	var results []RunEmployeeDTO
	decode(t, rec, &results)
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Earnings != "305.00" {
		t.Errorf("Expected earnings 305.00, got %s", results[0].Earnings)
	}
}

func TestLoadScenario_Termination(t *testing.T) {
	// GIVEN: The termination scenario with a run paid through May 31
	router := newTestRouter(t)
	loadScenario(t, router, "termination")

	// WHEN: Settling on June 15
	rec := do(t, router, "POST", "/api/settlements", `{
		"id": "set-ivan", "employee_id": "emp-ivan", "calculation_date": "2025-06-15"
	}`)
	mustStatus(t, rec, http.StatusCreated)
	var s SettlementDTO
	decode(t, rec, &s)

	// THEN: 15 pending days at the 100/day rate, minus the 500 advance
	if s.PendingDays != 15 {
		t.Errorf("Expected 15 pending days, got %d", s.PendingDays)
	}
	if s.Gross != "1500.00" {
		t.Errorf("Expected gross 1500.00, got %s", s.Gross)
	}
	if s.Deductions != "500.00" {
		t.Errorf("Expected deductions 500.00, got %s", s.Deductions)
	}
	if s.Net != "1000.00" {
		t.Errorf("Expected net 1000.00, got %s", s.Net)
	}
}

func TestLoadScenario_ResetsPreviousData(t *testing.T) {
	// GIVEN: One scenario loaded after another
	router := newTestRouter(t)
	loadScenario(t, router, "simple-monthly")
	loadScenario(t, router, "termination")

	// THEN: The first scenario's data is gone
	mustStatus(t, do(t, router, "GET", "/api/runs/run-june", ""), http.StatusNotFound)
	mustStatus(t, do(t, router, "GET", "/api/employees/emp-ivan", ""), http.StatusOK)
}
