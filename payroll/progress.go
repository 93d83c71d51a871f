/*
progress.go - Live run progress tracking

PURPOSE:
  A run may execute in a background worker while an observer polls its
  status. Progress lives in a side record decoupled from the run itself,
  so the worker updates counters without contending on the run's other
  fields. The Tracker serializes all counter updates behind one mutex;
  if employee processing is ever parallelized, the tracker remains the
  single writer for shared per-run state.

SEE ALSO:
  - engine.go: Advances the tracker per employee
  - api: Exposes the snapshot for polling
*/
package payroll

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// PROGRESS SNAPSHOT
// =============================================================================

// Progress is the externally queryable snapshot of a run in flight.
type Progress struct {
	RunID           RunID
	Total           int
	Processed       int
	Errored         int
	CurrentEmployee EmployeeID
	StartedAt       time.Time
	UpdatedAt       time.Time
	Done            bool
	Log             []LogEntry
}

// ProgressStore persists progress snapshots keyed by run ID.
type ProgressStore interface {
	SaveProgress(ctx context.Context, p Progress) error
	Progress(ctx context.Context, run RunID) (*Progress, error)
}

// =============================================================================
// TRACKER - Single writer for a run's progress
// =============================================================================

// Tracker incrementally updates one run's progress snapshot. All methods
// are safe for concurrent use; persistence failures are returned but the
// in-memory snapshot always advances, so a flaky store degrades polling
// freshness without corrupting counts.
type Tracker struct {
	mu    sync.Mutex
	store ProgressStore
	p     Progress
}

func NewTracker(store ProgressStore, run RunID, total int) *Tracker {
	now := time.Now().UTC()
	return &Tracker{
		store: store,
		p: Progress{
			RunID:     run,
			Total:     total,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

// Begin marks an employee as in flight.
func (t *Tracker) Begin(ctx context.Context, employee EmployeeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.CurrentEmployee = employee
	t.p.UpdatedAt = time.Now().UTC()
	return t.store.SaveProgress(ctx, t.p)
}

// Advance records one employee's completion. A non-empty entry list is
// appended to the log; an error-level entry increments the error count.
func (t *Tracker) Advance(ctx context.Context, employee EmployeeID, entries ...LogEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.p.Processed++
	for _, e := range entries {
		if e.Level == LevelError {
			t.p.Errored++
			break
		}
	}
	t.p.Log = append(t.p.Log, entries...)
	t.p.CurrentEmployee = ""
	t.p.UpdatedAt = time.Now().UTC()
	return t.store.SaveProgress(ctx, t.p)
}

// Finish marks the run complete.
func (t *Tracker) Finish(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Done = true
	t.p.CurrentEmployee = ""
	t.p.UpdatedAt = time.Now().UTC()
	return t.store.SaveProgress(ctx, t.p)
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.p
	snap.Log = append([]LogEntry(nil), t.p.Log...)
	return snap
}
