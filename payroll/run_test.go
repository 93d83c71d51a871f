package payroll

import (
	"errors"
	"testing"
)

// =============================================================================
// STATE MACHINE TESTS
// =============================================================================

func TestRunStateMachine_LegalTransitions(t *testing.T) {
	cases := []struct {
		from, to RunState
	}{
		{RunDraft, RunGenerated},
		{RunDraft, RunGeneratedWithErrors},
		{RunGenerated, RunGenerated},
		{RunGenerated, RunGeneratedWithErrors},
		{RunGenerated, RunApproved},
		{RunGeneratedWithErrors, RunGenerated},
		{RunGeneratedWithErrors, RunError},
		{RunApproved, RunApplied},
		{RunApplied, RunPaid},
		{RunError, RunGenerated},
	}
	for _, c := range cases {
		if !c.from.CanTransitionTo(c.to) {
			t.Errorf("%s -> %s should be legal", c.from, c.to)
		}
	}
}

func TestRunStateMachine_IllegalTransitions(t *testing.T) {
	cases := []struct {
		from, to RunState
	}{
		{RunDraft, RunApproved},
		{RunDraft, RunApplied},
		{RunGeneratedWithErrors, RunApproved},
		{RunApproved, RunGenerated},
		{RunApplied, RunGenerated},
		{RunPaid, RunApplied},
		{RunError, RunApproved},
	}
	for _, c := range cases {
		if c.from.CanTransitionTo(c.to) {
			t.Errorf("%s -> %s should be illegal", c.from, c.to)
		}
	}
}

func TestTransition_ReturnsTransitionError(t *testing.T) {
	// GIVEN: An approved run
	// WHEN: Attempting to move it back to generated
	// THEN: A TransitionError wrapping ErrInvalidTransition

	run := &PayrollRun{ID: "run-1", State: RunApproved}
	err := run.Transition(RunGenerated)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected a TransitionError, got %T", err)
	}
	if te.From != RunApproved || te.To != RunGenerated {
		t.Errorf("unexpected transition error: %+v", te)
	}
	if run.State != RunApproved {
		t.Errorf("state should be unchanged, got %s", run.State)
	}
}

func TestApprovable_BlockedWithErrors(t *testing.T) {
	// GIVEN: A run generated with per-employee errors
	// WHEN: Checking approvability
	// THEN: ErrRunHasErrors; correction and recalculation are required first

	run := &PayrollRun{ID: "run-1", State: RunGeneratedWithErrors}
	if err := run.Approvable(); !errors.Is(err, ErrRunHasErrors) {
		t.Errorf("expected ErrRunHasErrors, got %v", err)
	}

	run.State = RunGenerated
	if err := run.Approvable(); err != nil {
		t.Errorf("clean run should be approvable, got %v", err)
	}
}

func TestRunState_RecalculableAndTerminal(t *testing.T) {
	recalculable := []RunState{RunDraft, RunGenerated, RunGeneratedWithErrors, RunError}
	for _, s := range recalculable {
		if !s.Recalculable() {
			t.Errorf("%s should be recalculable", s)
		}
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []RunState{RunApproved, RunApplied, RunPaid} {
		if s.Recalculable() {
			t.Errorf("%s should not be recalculable", s)
		}
	}
	for _, s := range []RunState{RunApplied, RunPaid} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
