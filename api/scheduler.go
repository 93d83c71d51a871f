/*
scheduler.go - Sync-vs-background run scheduling

PURPOSE:
  Decides, once per submission and before any employee is processed,
  whether a payroll calculation runs inline in the HTTP request or on the
  background worker. The decision is recorded immutably on the run record;
  mid-calculation promotion never happens.

DECISION RULE:
  Group size >= SyncThreshold  -> background (202, poll progress)
  Group size <  SyncThreshold  -> synchronous (200 with final state)

  Retries follow the same rule: a run that originally went background can
  retry synchronously if the group shrank below the threshold, and vice
  versa. Each submission re-decides.

DESIGN:
  - Buffered job queue drained by a single worker goroutine
  - A full queue rejects the submission instead of blocking the request
  - Worker failures are parked on the run record (error state), not lost

USAGE:
  scheduler := NewRunScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CalculateRun/RetryRun endpoints
  - payroll/engine.go: The calculation the worker executes
  - payroll/progress.go: What clients poll while a job runs
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/warp/payroll-engine/payroll"
)

// DefaultSyncThreshold is the group size at which calculation moves to
// the background worker.
const DefaultSyncThreshold = 50

// ErrSchedulerBusy is returned when the background queue is full.
var ErrSchedulerBusy = errors.New("scheduler queue is full")

type runJob struct {
	runID    payroll.RunID
	concepts []payroll.Concept
	retry    bool
	actor    string
}

// RunScheduler owns the sync-vs-background decision and the background
// worker. The engine owns only what it computes.
type RunScheduler struct {
	Engine        *payroll.Engine
	SyncThreshold int

	queue chan runJob
	stop  chan struct{}
	wg    sync.WaitGroup
	mu    sync.Mutex
	on    bool
}

// NewRunScheduler creates a scheduler with the default threshold.
func NewRunScheduler(engine *payroll.Engine) *RunScheduler {
	return &RunScheduler{
		Engine:        engine,
		SyncThreshold: DefaultSyncThreshold,
		queue:         make(chan runJob, 64),
		stop:          make(chan struct{}),
	}
}

// Start launches the background worker.
func (rs *RunScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.on {
		return
	}
	rs.on = true
	rs.wg.Add(1)
	go rs.work()
	log.Printf("[Scheduler] Started with sync threshold %d", rs.SyncThreshold)
}

// Stop drains the worker and waits for the in-flight job to finish.
func (rs *RunScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.on {
		return
	}
	rs.on = false
	close(rs.stop)
	rs.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

// Submit decides sync vs background for the run and either calculates it
// inline or enqueues it. Returns accepted=true when the run went to the
// background worker.
func (rs *RunScheduler) Submit(ctx context.Context, run *payroll.PayrollRun, concepts []payroll.Concept) (bool, error) {
	if !run.State.Recalculable() {
		return false, fmt.Errorf("run %s in state %s: %w", run.ID, run.State, payroll.ErrRunNotRecalculable)
	}

	background, err := rs.decide(ctx, run)
	if err != nil {
		return false, err
	}
	run.Background = background

	if !background {
		return false, rs.Engine.Calculate(ctx, run, concepts)
	}

	// Persist the decision before handing off, so clients polling the run
	// see it immediately.
	if err := rs.Engine.Store.SaveRun(ctx, run); err != nil {
		return false, fmt.Errorf("saving run %s before enqueue: %w", run.ID, err)
	}
	return true, rs.enqueue(runJob{runID: run.ID, concepts: concepts})
}

// Retry re-submits a run that generated with errors or failed wholesale,
// with the same sync-vs-background decision as a fresh submission.
func (rs *RunScheduler) Retry(ctx context.Context, runID payroll.RunID, concepts []payroll.Concept, actor string) (*payroll.PayrollRun, bool, error) {
	run, err := rs.Engine.Store.Run(ctx, runID)
	if err != nil {
		return nil, false, err
	}
	if run.State != payroll.RunGeneratedWithErrors && run.State != payroll.RunError {
		return nil, false, &payroll.TransitionError{From: run.State, To: payroll.RunGenerated}
	}

	background, err := rs.decide(ctx, run)
	if err != nil {
		return nil, false, err
	}

	if !background {
		run, err = rs.Engine.Retry(ctx, runID, concepts, actor)
		return run, false, err
	}

	run.Background = true
	if err := rs.Engine.Store.SaveRun(ctx, run); err != nil {
		return nil, false, fmt.Errorf("saving run %s before enqueue: %w", run.ID, err)
	}
	return run, true, rs.enqueue(runJob{runID: run.ID, concepts: concepts, retry: true, actor: actor})
}

// decide returns true when the run's group is large enough for the
// background worker. Decided once per submission, never mid-calculation.
func (rs *RunScheduler) decide(ctx context.Context, run *payroll.PayrollRun) (bool, error) {
	employees, err := rs.Engine.Store.EmployeesInGroup(ctx, run.GroupID)
	if err != nil {
		return false, fmt.Errorf("sizing group %s: %w", run.GroupID, err)
	}
	return len(employees) >= rs.SyncThreshold, nil
}

func (rs *RunScheduler) enqueue(job runJob) error {
	select {
	case rs.queue <- job:
		return nil
	default:
		return ErrSchedulerBusy
	}
}

func (rs *RunScheduler) work() {
	defer rs.wg.Done()
	for {
		select {
		case job := <-rs.queue:
			rs.execute(job)
		case <-rs.stop:
			return
		}
	}
}

func (rs *RunScheduler) execute(job runJob) {
	ctx := context.Background()

	if job.retry {
		if _, err := rs.Engine.Retry(ctx, job.runID, job.concepts, job.actor); err != nil {
			log.Printf("[Scheduler] Retry of run %s failed: %v", job.runID, err)
		}
		return
	}

	run, err := rs.Engine.Store.Run(ctx, job.runID)
	if err != nil {
		log.Printf("[Scheduler] Loading run %s failed: %v", job.runID, err)
		return
	}
	if err := rs.Engine.Calculate(ctx, run, job.concepts); err != nil {
		// Park the wholesale failure on the run record for a retry.
		log.Printf("[Scheduler] Run %s failed: %v", job.runID, err)
		if run.State.CanTransitionTo(payroll.RunError) {
			run.State = payroll.RunError
			run.Log = append(run.Log, payroll.Failure("", "calculation_failed", err.Error()))
			if saveErr := rs.Engine.Store.SaveRun(ctx, run); saveErr != nil {
				log.Printf("[Scheduler] Saving failed run %s: %v", job.runID, saveErr)
			}
		}
		return
	}
	log.Printf("[Scheduler] Run %s completed: %d processed, %d errored",
		job.runID, run.Processed, run.Errored)
}
