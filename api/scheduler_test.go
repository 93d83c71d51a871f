package api_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/concepts"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestScheduler(t *testing.T) (*api.RunScheduler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := &payroll.Engine{
		Store:    mem,
		Registry: concepts.DefaultRegistry(),
		Rates:    payroll.NewStaticRates(),
	}
	scheduler := api.NewRunScheduler(engine)
	scheduler.SyncThreshold = 3
	return scheduler, mem
}

func seedGroup(mem *store.Memory, group string, size int) {
	for i := 0; i < size; i++ {
		mem.AddEmployee(payroll.EmployeeSnapshot{
			ID:         payroll.EmployeeID(string(rune('a' + i)) + "-emp"),
			Name:       "emp",
			CompanyID:  "co-1",
			GroupID:    payroll.GroupID(group),
			BaseSalary: decimal.NewFromInt(1000),
			Currency:   "USD",
			HireDate:   time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		})
	}
}

func newRun(id, group string) *payroll.PayrollRun {
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

func waitForProgress(t *testing.T, mem *store.Memory, runID payroll.RunID) *payroll.Progress {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := mem.Progress(context.Background(), runID)
		if err != nil {
			t.Fatalf("progress lookup failed: %v", err)
		}
		if p != nil && p.Done {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background run did not finish in time")
	return nil
}

// =============================================================================
// DECISION TESTS
// =============================================================================

func TestSubmit_SmallGroupRunsInline(t *testing.T) {
	// GIVEN: A group below the threshold
	// WHEN: Submitting a run
	// THEN: Calculated synchronously; no background handoff

	scheduler, mem := newTestScheduler(t)
	seedGroup(mem, "g1", 2)
	run := newRun("run-1", "g1")

	accepted, err := scheduler.Submit(context.Background(), run, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if accepted {
		t.Error("small group should not go background")
	}
	if run.Background {
		t.Error("background flag should stay false")
	}
	if run.State != payroll.RunGenerated {
		t.Errorf("expected generated, got %s", run.State)
	}
}

func TestSubmit_LargeGroupGoesBackground(t *testing.T) {
	// GIVEN: A group at the threshold and a running worker
	// WHEN: Submitting a run
	// THEN: Accepted for background; the flag is persisted before the work
	//       finishes, and polling progress eventually reports done

	scheduler, mem := newTestScheduler(t)
	seedGroup(mem, "g1", 3)
	scheduler.Start()
	defer scheduler.Stop()

	run := newRun("run-1", "g1")
	accepted, err := scheduler.Submit(context.Background(), run, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !accepted {
		t.Fatal("group at threshold should go background")
	}

	stored, err := mem.Run(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run lookup failed: %v", err)
	}
	if !stored.Background {
		t.Error("background decision should be persisted at submission")
	}

	progress := waitForProgress(t, mem, run.ID)
	if progress.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", progress.Processed)
	}

	final, err := mem.Run(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run lookup failed: %v", err)
	}
	if final.State != payroll.RunGenerated {
		t.Errorf("expected generated, got %s", final.State)
	}
}

func TestSubmit_RefusedForTerminalRun(t *testing.T) {
	scheduler, mem := newTestScheduler(t)
	seedGroup(mem, "g1", 1)
	run := newRun("run-1", "g1")
	run.State = payroll.RunPaid

	_, err := scheduler.Submit(context.Background(), run, nil)
	if !errors.Is(err, payroll.ErrRunNotRecalculable) {
		t.Errorf("expected ErrRunNotRecalculable, got %v", err)
	}
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestRetry_RefusedForWrongState(t *testing.T) {
	// GIVEN: A cleanly generated run
	// WHEN: Retrying through the scheduler
	// THEN: Invalid transition

	scheduler, mem := newTestScheduler(t)
	seedGroup(mem, "g1", 1)
	run := newRun("run-1", "g1")
	ctx := context.Background()

	if _, err := scheduler.Submit(ctx, run, nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, _, err := scheduler.Retry(ctx, run.ID, nil, "admin"); !errors.Is(err, payroll.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRetry_ReDecidesPlacement(t *testing.T) {
	// GIVEN: A run that generated with errors in a small group
	// WHEN: Retrying
	// THEN: The retry runs inline because the group is below the threshold

	scheduler, mem := newTestScheduler(t)
	mem.AddEmployee(payroll.EmployeeSnapshot{
		ID: "emp-eur", Name: "emp-eur", CompanyID: "co-1", GroupID: "g1",
		BaseSalary: decimal.NewFromInt(1000), Currency: "EUR",
		HireDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})

	run := newRun("run-1", "g1")
	ctx := context.Background()
	if _, err := scheduler.Submit(ctx, run, nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if run.State != payroll.RunGeneratedWithErrors {
		t.Fatalf("expected generated_with_errors, got %s", run.State)
	}

	scheduler.Engine.Rates.(*payroll.StaticRates).Set("EUR", "USD", decimal.NewFromFloat(1.10))

	retried, accepted, err := scheduler.Retry(ctx, run.ID, nil, "admin")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if accepted {
		t.Error("small group retry should run inline")
	}
	if retried.State != payroll.RunGenerated {
		t.Errorf("expected generated after retry, got %s", retried.State)
	}
}
