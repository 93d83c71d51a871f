package payroll_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/concepts"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*payroll.Engine, *store.Memory, *payroll.StaticRates) {
	t.Helper()
	mem := store.NewMemory()
	rates := payroll.NewStaticRates()
	engine := &payroll.Engine{
		Store:    mem,
		Registry: concepts.DefaultRegistry(),
		Rates:    rates,
	}
	return engine, mem, rates
}

func seedEmployee(mem *store.Memory, id, group string, salary float64, currency payroll.Currency) {
	mem.AddEmployee(payroll.EmployeeSnapshot{
		ID:         payroll.EmployeeID(id),
		Name:       id,
		CompanyID:  "co-1",
		GroupID:    payroll.GroupID(group),
		BaseSalary: decimal.NewFromFloat(salary),
		Currency:   currency,
		HireDate:   time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
}

func juneRun(id, group string) *payroll.PayrollRun {
	return &payroll.PayrollRun{
		ID:        payroll.RunID(id),
		GroupID:   payroll.GroupID(group),
		CompanyID: "co-1",
		Currency:  "USD",
		Period: payroll.NewPeriod(
			time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
		),
		State: payroll.RunDraft,
	}
}

func fixedEarning(code string, amount float64, priority int) payroll.Concept {
	return payroll.Concept{
		Code:     payroll.ConceptCode(code),
		Name:     code,
		Kind:     payroll.KindEarning,
		Formula:  concepts.FormulaFixedAmount,
		Priority: priority,
		Amount:   decimal.NewFromFloat(amount),
	}
}

func percentDeduction(code string, rate float64, priority int, mandatory bool) payroll.Concept {
	return payroll.Concept{
		Code:      payroll.ConceptCode(code),
		Name:      code,
		Kind:      payroll.KindDeduction,
		Formula:   concepts.FormulaSalaryPercent,
		Priority:  priority,
		Mandatory: mandatory,
		Rate:      decimal.NewFromFloat(rate),
	}
}

// =============================================================================
// NET IDENTITY TESTS
// =============================================================================

func TestCalculate_NetIdentity(t *testing.T) {
	// GIVEN: Salary 1000, a 150.50 bonus, and a mandatory 10% tax
	// WHEN: Calculating the run
	// THEN: net = gross + earnings - deductions, cent-exact

	engine, mem, _ := newTestEngine(t)
	seedEmployee(mem, "emp-1", "g1", 1000, "USD")
	run := juneRun("run-1", "g1")
	ctx := context.Background()

	catalog := []payroll.Concept{
		fixedEarning("BONUS", 150.50, 1),
		percentDeduction("TAX", 0.10, 1, true),
	}
	if err := engine.Calculate(ctx, run, catalog); err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	if run.State != payroll.RunGenerated {
		t.Fatalf("expected generated, got %s", run.State)
	}
	results, err := mem.EmployeeResults(ctx, run.ID)
	if err != nil || len(results) != 1 {
		t.Fatalf("expected 1 result, got %d (err %v)", len(results), err)
	}

	res := results[0]
	if res.Gross.StringFixed(2) != "1000.00" {
		t.Errorf("gross: expected 1000.00, got %s", res.Gross.StringFixed(2))
	}
	if res.Earnings.StringFixed(2) != "150.50" {
		t.Errorf("earnings: expected 150.50, got %s", res.Earnings.StringFixed(2))
	}
	if res.Deductions.StringFixed(2) != "100.00" {
		t.Errorf("deductions: expected 100.00, got %s", res.Deductions.StringFixed(2))
	}
	if res.Net.StringFixed(2) != "1050.50" {
		t.Errorf("net: expected 1050.50, got %s", res.Net.StringFixed(2))
	}

	expected := res.Gross.Add(res.Earnings).Sub(res.Deductions).Round(2)
	if !res.Net.Equal(expected) {
		t.Errorf("net identity violated: %s != %s", res.Net, expected)
	}

	if run.Gross.StringFixed(2) != "1150.50" {
		t.Errorf("run gross: expected 1150.50, got %s", run.Gross.StringFixed(2))
	}
	if run.Net.StringFixed(2) != "1050.50" {
		t.Errorf("run net: expected 1050.50, got %s", run.Net.StringFixed(2))
	}
}

// =============================================================================
// ERROR TOLERANCE TESTS
// =============================================================================

func TestCalculate_MissingRateFailsOnlyThatEmployee(t *testing.T) {
	// GIVEN: Five employees, one paid in EUR with no EUR->USD rate
	// WHEN: Calculating
	// THEN: Run is generated_with_errors; the other four have results

	engine, mem, _ := newTestEngine(t)
	for i := 1; i <= 4; i++ {
		seedEmployee(mem, fmt.Sprintf("emp-%d", i), "g1", 1000, "USD")
	}
	seedEmployee(mem, "emp-eur", "g1", 1000, "EUR")

	run := juneRun("run-1", "g1")
	ctx := context.Background()
	if err := engine.Calculate(ctx, run, nil); err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	if run.State != payroll.RunGeneratedWithErrors {
		t.Fatalf("expected generated_with_errors, got %s", run.State)
	}
	if run.Processed != 5 || run.Errored != 1 {
		t.Errorf("expected processed 5 errored 1, got %d/%d", run.Processed, run.Errored)
	}

	results, _ := mem.EmployeeResults(ctx, run.ID)
	if len(results) != 4 {
		t.Errorf("expected 4 results, got %d", len(results))
	}
	// Run totals exclude the failed employee.
	if run.Gross.StringFixed(2) != "4000.00" {
		t.Errorf("expected run gross 4000.00, got %s", run.Gross.StringFixed(2))
	}

	var failed bool
	for _, entry := range run.Log {
		if entry.Level == payroll.LevelError && entry.EmployeeID == "emp-eur" {
			failed = true
		}
	}
	if !failed {
		t.Error("expected an error-level log entry for the EUR employee")
	}
}

func TestCalculate_OptionalConceptSkipsWithWarning(t *testing.T) {
	// GIVEN: An optional concept whose evaluator fails, and a mandatory one
	// WHEN: Calculating each
	// THEN: Optional -> warning and clean run; mandatory -> employee fails

	boom := payroll.EvaluatorFunc(func(_ context.Context, _ payroll.EvalInput) (payroll.Money, error) {
		return payroll.Money{}, errors.New("external service down")
	})

	for _, mandatory := range []bool{false, true} {
		engine, mem, _ := newTestEngine(t)
		engine.Registry.Register("explode", boom)
		seedEmployee(mem, "emp-1", "g1", 1000, "USD")

		run := juneRun("run-1", "g1")
		catalog := []payroll.Concept{{
			Code:      "FLAKY",
			Kind:      payroll.KindDeduction,
			Formula:   "explode",
			Mandatory: mandatory,
		}}
		if err := engine.Calculate(context.Background(), run, catalog); err != nil {
			t.Fatalf("calculate failed: %v", err)
		}

		if mandatory {
			if run.State != payroll.RunGeneratedWithErrors {
				t.Errorf("mandatory failure should give generated_with_errors, got %s", run.State)
			}
		} else {
			if run.State != payroll.RunGenerated {
				t.Errorf("optional failure should give generated, got %s", run.State)
			}
			var warned bool
			for _, entry := range run.Log {
				if entry.Level == payroll.LevelWarning && entry.Code == "concept_skipped" {
					warned = true
				}
			}
			if !warned {
				t.Error("expected a concept_skipped warning")
			}
		}
	}
}

// =============================================================================
// RECALCULATION TESTS
// =============================================================================

func TestCalculate_RecalculationIsIdempotent(t *testing.T) {
	// GIVEN: An employee with an open loan, already calculated once
	// WHEN: Recalculating the same run twice more
	// THEN: Payment rows and loan balance match a single calculation

	engine, mem, _ := newTestEngine(t)
	seedEmployee(mem, "emp-1", "g1", 1000, "USD")
	ctx := context.Background()

	loan := &payroll.Loan{
		ID:          "loan-1",
		EmployeeID:  "emp-1",
		Kind:        payroll.LoanKindLoan,
		Balance:     payroll.NewMoney(200, "USD"),
		Installment: payroll.NewMoney(50, "USD"),
		Priority:    1,
		State:       payroll.LoanApproved,
	}
	if err := mem.SaveLoan(ctx, loan); err != nil {
		t.Fatal(err)
	}

	run := juneRun("run-1", "g1")
	for i := 0; i < 3; i++ {
		if err := engine.Calculate(ctx, run, nil); err != nil {
			t.Fatalf("calculation %d failed: %v", i+1, err)
		}
	}

	if got := mem.PaymentCount(); got != 1 {
		t.Errorf("expected exactly 1 payment row after recalculations, got %d", got)
	}
	stored, err := mem.Loan(ctx, "loan-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Balance.Value.StringFixed(2) != "150.00" {
		t.Errorf("expected balance 150.00, got %s", stored.Balance.Value.StringFixed(2))
	}

	results, _ := mem.EmployeeResults(ctx, run.ID)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Net.StringFixed(2) != "950.00" {
		t.Errorf("expected net 950.00, got %s", results[0].Net.StringFixed(2))
	}
}

func TestCalculate_RecalculationLeavesTaxBasisUntouched(t *testing.T) {
	// GIVEN: A run with a 10% tax, recalculated several times
	// WHEN: Reading the employee's tax basis
	// THEN: Empty until the run is applied, then accumulated exactly once

	engine, mem, _ := newTestEngine(t)
	seedEmployee(mem, "emp-1", "g1", 1000, "USD")
	ctx := context.Background()

	catalog := []payroll.Concept{percentDeduction("TAX", 0.10, 1, true)}
	run := juneRun("run-1", "g1")
	for i := 0; i < 3; i++ {
		if err := engine.Calculate(ctx, run, catalog); err != nil {
			t.Fatalf("calculation %d failed: %v", i+1, err)
		}
	}

	history, err := mem.TaxBasis(ctx, "emp-1", 2025)
	if err != nil {
		t.Fatal(err)
	}
	if !history.TaxableGross.IsZero() || !history.Withheld.IsZero() {
		t.Fatalf("tax basis accumulated during calculation: gross %s withheld %s",
			history.TaxableGross, history.Withheld)
	}

	if _, err := engine.Approve(ctx, run.ID, nil); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := engine.Apply(ctx, run.ID, nil); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	history, err = mem.TaxBasis(ctx, "emp-1", 2025)
	if err != nil {
		t.Fatal(err)
	}
	if history.TaxableGross.StringFixed(2) != "1000.00" {
		t.Errorf("expected taxable gross 1000.00, got %s", history.TaxableGross.StringFixed(2))
	}
	if history.Withheld.StringFixed(2) != "100.00" {
		t.Errorf("expected withheld 100.00, got %s", history.Withheld.StringFixed(2))
	}
}

func TestCalculate_RefusedForTerminalRun(t *testing.T) {
	// GIVEN: An applied run
	// WHEN: Recalculating
	// THEN: ErrRunNotRecalculable

	engine, _, _ := newTestEngine(t)
	run := juneRun("run-1", "g1")
	run.State = payroll.RunApplied

	err := engine.Calculate(context.Background(), run, nil)
	if !errors.Is(err, payroll.ErrRunNotRecalculable) {
		t.Errorf("expected ErrRunNotRecalculable, got %v", err)
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestLifecycle_ApproveBlockedWithErrors(t *testing.T) {
	// GIVEN: A run generated with errors
	// WHEN: Approving
	// THEN: ErrRunHasErrors

	engine, mem, _ := newTestEngine(t)
	seedEmployee(mem, "emp-eur", "g1", 1000, "EUR") // no rate
	run := juneRun("run-1", "g1")
	ctx := context.Background()

	if err := engine.Calculate(ctx, run, nil); err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if _, err := engine.Approve(ctx, run.ID, nil); !errors.Is(err, payroll.ErrRunHasErrors) {
		t.Errorf("expected ErrRunHasErrors, got %v", err)
	}
}

func TestLifecycle_ApplyMarksEventsExecuted(t *testing.T) {
	// GIVEN: A run consuming an overtime event
	// WHEN: Walking generated -> approved -> applied -> paid
	// THEN: The event is executed only at apply, and the run ends paid

	engine, mem, _ := newTestEngine(t)
	seedEmployee(mem, "emp-1", "g1", 1000, "USD")
	ctx := context.Background()

	event := payroll.Event{
		ID:          "ev-1",
		EmployeeID:  "emp-1",
		ConceptCode: "OVERTIME",
		From:        time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC),
		Units:       decimal.NewFromInt(2),
		Rate:        decimal.NewFromInt(10),
	}
	if err := mem.SaveEvent(ctx, event); err != nil {
		t.Fatal(err)
	}

	catalog := []payroll.Concept{{
		Code:    "OVERTIME",
		Name:    "Overtime",
		Kind:    payroll.KindEarning,
		Formula: concepts.FormulaEventUnits,
	}}

	run := juneRun("run-1", "g1")
	if err := engine.Calculate(ctx, run, catalog); err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	results, _ := mem.EmployeeResults(ctx, run.ID)
	if results[0].Earnings.StringFixed(2) != "20.00" {
		t.Fatalf("expected overtime earnings 20.00, got %s", results[0].Earnings.StringFixed(2))
	}

	if _, err := engine.Approve(ctx, run.ID, nil); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	// Calculation never executes events; only apply does.
	pending, _ := mem.EventsFor(ctx, "emp-1", run.Period)
	if len(pending) != 1 {
		t.Fatalf("event should still be pending before apply, got %d", len(pending))
	}

	if _, err := engine.Apply(ctx, run.ID, nil); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	pending, _ = mem.EventsFor(ctx, "emp-1", run.Period)
	if len(pending) != 0 {
		t.Errorf("event should be executed after apply, got %d pending", len(pending))
	}

	paid, err := engine.Pay(ctx, run.ID)
	if err != nil {
		t.Fatalf("pay failed: %v", err)
	}
	if paid.State != payroll.RunPaid {
		t.Errorf("expected paid, got %s", paid.State)
	}
}

func TestLifecycle_RetryAfterFixingRate(t *testing.T) {
	// GIVEN: A run that generated with errors from a missing rate
	// WHEN: The rate is configured and the run retried
	// THEN: A clean generated run with the employee converted

	engine, mem, rates := newTestEngine(t)
	seedEmployee(mem, "emp-eur", "g1", 1000, "EUR")
	run := juneRun("run-1", "g1")
	ctx := context.Background()

	if err := engine.Calculate(ctx, run, nil); err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if run.State != payroll.RunGeneratedWithErrors {
		t.Fatalf("expected generated_with_errors, got %s", run.State)
	}

	rates.Set("EUR", "USD", decimal.NewFromFloat(1.10))

	fixed, err := engine.Retry(ctx, run.ID, nil, "admin")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if fixed.State != payroll.RunGenerated {
		t.Errorf("expected generated after retry, got %s", fixed.State)
	}
	if fixed.Errored != 0 {
		t.Errorf("expected no errors after retry, got %d", fixed.Errored)
	}

	results, _ := mem.EmployeeResults(ctx, run.ID)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Gross.StringFixed(2) != "1100.00" {
		t.Errorf("expected converted gross 1100.00, got %s", results[0].Gross.StringFixed(2))
	}
	if results[0].ExchangeRate.StringFixed(2) != "1.10" {
		t.Errorf("expected recorded rate 1.10, got %s", results[0].ExchangeRate.StringFixed(2))
	}
}

func TestLifecycle_RetryRefusedForCleanRun(t *testing.T) {
	// GIVEN: A cleanly generated run
	// WHEN: Retrying
	// THEN: Invalid transition

	engine, mem, _ := newTestEngine(t)
	seedEmployee(mem, "emp-1", "g1", 1000, "USD")
	run := juneRun("run-1", "g1")
	ctx := context.Background()

	if err := engine.Calculate(ctx, run, nil); err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if _, err := engine.Retry(ctx, run.ID, nil, "admin"); !errors.Is(err, payroll.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}
