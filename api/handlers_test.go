/*
handlers_test.go - HTTP-level tests for the API

Walks the payroll lifecycle through the router the way a client would:
seed master data, calculate, approve against the voucher invariant,
apply, pay, and export the voucher.
*/
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRouter(NewHandler(store))
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v (body %s)", err, rec.Body.String())
	}
}

func mustStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

const testCatalog = `[
	{"code": "INCOME_TAX", "name": "Income tax", "kind": "deduction",
	 "formula": "salary_percent", "mandatory": true, "rate": "0.10"}
]`

func seedLifecycleData(t *testing.T, router http.Handler) {
	t.Helper()
	mustStatus(t, do(t, router, "POST", "/api/employees", `{
		"id": "emp-1", "name": "Ana Torres", "company_id": "acme", "group_id": "g1",
		"base_salary": "3000", "currency": "USD", "hire_date": "2024-03-01"
	}`), http.StatusCreated)

	mustStatus(t, do(t, router, "PUT", "/api/concepts", testCatalog), http.StatusOK)

	mappings := []string{
		`{"concept_code": "BASE_SALARY", "debit_account": "5100"}`,
		`{"concept_code": "INCOME_TAX", "credit_account": "2100"}`,
		`{"concept_code": "NET", "credit_account": "2500"}`,
	}
	for _, m := range mappings {
		mustStatus(t, do(t, router, "POST", "/api/admin/mappings", m), http.StatusOK)
	}

	mustStatus(t, do(t, router, "POST", "/api/runs", `{
		"id": "run-1", "group_id": "g1", "company_id": "acme", "currency": "USD",
		"period_start": "2025-06-01", "period_end": "2025-06-30"
	}`), http.StatusCreated)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestRunLifecycle_EndToEnd(t *testing.T) {
	// GIVEN: One employee, a tax catalog, and full account mappings
	router := newTestRouter(t)
	seedLifecycleData(t, router)

	// WHEN: Calculating (small group, so synchronous)
	rec := do(t, router, "POST", "/api/runs/run-1/calculate", "")
	mustStatus(t, rec, http.StatusOK)
	var calc CalculateResponse
	decode(t, rec, &calc)
	if calc.Accepted {
		t.Error("Single-employee group should calculate inline")
	}
	if calc.Run.State != "generated" {
		t.Fatalf("Expected generated, got %s", calc.Run.State)
	}
	if calc.Run.Net != "2700.00" {
		t.Errorf("Expected net 2700.00, got %s", calc.Run.Net)
	}

	// THEN: Results carry the detail lines
	rec = do(t, router, "GET", "/api/runs/run-1/results", "")
	mustStatus(t, rec, http.StatusOK)
	var results []RunEmployeeDTO
	decode(t, rec, &results)
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Deductions != "300.00" {
		t.Errorf("Expected deductions 300.00, got %s", results[0].Deductions)
	}

	// Approve, apply, pay
	for _, step := range []struct{ path, want string }{
		{"/api/runs/run-1/approve", "approved"},
		{"/api/runs/run-1/apply", "applied"},
		{"/api/runs/run-1/pay", "paid"},
	} {
		rec = do(t, router, "POST", step.path, "")
		mustStatus(t, rec, http.StatusOK)
		var run RunDTO
		decode(t, rec, &run)
		if run.State != step.want {
			t.Fatalf("Expected %s, got %s", step.want, run.State)
		}
	}

	// Voucher generation and balanced summary export
	rec = do(t, router, "POST", "/api/runs/run-1/voucher", "")
	mustStatus(t, rec, http.StatusOK)
	var voucher VoucherDTO
	decode(t, rec, &voucher)
	if !voucher.Complete {
		t.Errorf("Voucher should be complete, warnings: %+v", voucher.Warnings)
	}

	rec = do(t, router, "GET", "/api/runs/run-1/voucher?view=summary", "")
	mustStatus(t, rec, http.StatusOK)
	decode(t, rec, &voucher)
	if len(voucher.Lines) != 3 {
		t.Errorf("Expected 3 summary rows, got %d", len(voucher.Lines))
	}
}

func TestApprove_RefusedWithIncompleteMappings(t *testing.T) {
	// GIVEN: A calculated run but no account mappings at all
	router := newTestRouter(t)
	mustStatus(t, do(t, router, "POST", "/api/employees", `{
		"id": "emp-1", "name": "Ana Torres", "company_id": "acme", "group_id": "g1",
		"base_salary": "3000", "currency": "USD", "hire_date": "2024-03-01"
	}`), http.StatusCreated)
	mustStatus(t, do(t, router, "POST", "/api/runs", `{
		"id": "run-1", "group_id": "g1", "company_id": "acme", "currency": "USD",
		"period_start": "2025-06-01", "period_end": "2025-06-30"
	}`), http.StatusCreated)
	mustStatus(t, do(t, router, "POST", "/api/runs/run-1/calculate", ""), http.StatusOK)

	// WHEN: Approving
	rec := do(t, router, "POST", "/api/runs/run-1/approve", "")

	// THEN: Blocked as a configuration problem, not a server error
	mustStatus(t, rec, http.StatusUnprocessableEntity)
}

func TestVoucher_DegradedDetailAlwaysReadable(t *testing.T) {
	// GIVEN: A calculated run with no mappings, vouchered anyway
	router := newTestRouter(t)
	mustStatus(t, do(t, router, "POST", "/api/employees", `{
		"id": "emp-1", "name": "Ana Torres", "company_id": "acme", "group_id": "g1",
		"base_salary": "3000", "currency": "USD", "hire_date": "2024-03-01"
	}`), http.StatusCreated)
	mustStatus(t, do(t, router, "POST", "/api/runs", `{
		"id": "run-1", "group_id": "g1", "company_id": "acme", "currency": "USD",
		"period_start": "2025-06-01", "period_end": "2025-06-30"
	}`), http.StatusCreated)
	mustStatus(t, do(t, router, "POST", "/api/runs/run-1/calculate", ""), http.StatusOK)

	rec := do(t, router, "POST", "/api/runs/run-1/voucher", "")
	mustStatus(t, rec, http.StatusOK)
	var voucher VoucherDTO
	decode(t, rec, &voucher)
	if voucher.Complete {
		t.Error("Voucher should be degraded without mappings")
	}
	if len(voucher.Warnings) == 0 {
		t.Error("Expected missing-mapping warnings")
	}

	// Detail view stays readable; summary is refused
	mustStatus(t, do(t, router, "GET", "/api/runs/run-1/voucher", ""), http.StatusOK)
	mustStatus(t, do(t, router, "GET", "/api/runs/run-1/voucher?view=summary", ""),
		http.StatusUnprocessableEntity)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestCreateRun_Validation(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		name, body string
	}{
		{"missing fields", `{"id": "run-1"}`},
		{"bad period order", `{
			"id": "run-1", "group_id": "g1", "currency": "USD",
			"period_start": "2025-06-30", "period_end": "2025-06-01"
		}`},
		{"bad date", `{
			"id": "run-1", "group_id": "g1", "currency": "USD",
			"period_start": "June first", "period_end": "2025-06-30"
		}`},
	}
	for _, c := range cases {
		if rec := do(t, router, "POST", "/api/runs", c.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", c.name, rec.Code)
		}
	}
}

func TestGetRun_NotFound(t *testing.T) {
	router := newTestRouter(t)
	mustStatus(t, do(t, router, "GET", "/api/runs/nope", ""), http.StatusNotFound)
}

func TestPutCatalog_RejectsWholesale(t *testing.T) {
	// GIVEN: An installed catalog
	router := newTestRouter(t)
	mustStatus(t, do(t, router, "PUT", "/api/concepts", testCatalog), http.StatusOK)

	// WHEN: Replacing it with a catalog containing one bad entry
	bad := `[
		{"code": "OK", "kind": "earning", "formula": "fixed_amount", "amount": "10"},
		{"code": "BAD", "kind": "earning", "formula": "astrology"}
	]`
	mustStatus(t, do(t, router, "PUT", "/api/concepts", bad), http.StatusBadRequest)

	// THEN: The previous catalog is still installed
	rec := do(t, router, "GET", "/api/concepts", "")
	mustStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "INCOME_TAX") {
		t.Error("Previous catalog should survive a rejected replacement")
	}
}

func TestCreateLoan_UnknownKind(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, "POST", "/api/loans", `{
		"id": "loan-1", "employee_id": "emp-1", "kind": "mortgage", "balance": "100", "currency": "USD"
	}`)
	mustStatus(t, rec, http.StatusBadRequest)
}
