/*
events.go - Ad-hoc payroll events ("novelties")

PURPOSE:
  A payroll event is an ad-hoc adjustment (overtime, absence, manual
  correction) affecting one employee within a date window. Events reference
  a concept code; the event-driven evaluator turns them into amounts. An
  event becomes "executed" only when the run that consumed it is applied,
  so a discarded or recalculated run never burns events.

SEE ALSO:
  - concepts: EventUnits evaluator consuming these
  - engine.go: Marks events executed on run application
*/
package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event is one ad-hoc adjustment feeding a specific concept.
type Event struct {
	ID          string
	EmployeeID  EmployeeID
	ConceptCode ConceptCode
	From        time.Time
	To          time.Time
	Units       decimal.Decimal // e.g. overtime hours, absent days
	Rate        decimal.Decimal // Per-unit rate; used when Amount is unset
	Amount      decimal.Decimal // Explicit amount; takes precedence over Units*Rate
	Executed    bool
}

// Validate checks the event window against the run period.
func (e Event) Validate(period Period) error {
	if e.To.Before(e.From) {
		return fmt.Errorf("event %s: window end before start: %w", e.ID, ErrEventOutsidePeriod)
	}
	if !period.Contains(e.From) || !period.Contains(e.To) {
		return fmt.Errorf("event %s (%s..%s): %w", e.ID,
			e.From.Format("2006-01-02"), e.To.Format("2006-01-02"), ErrEventOutsidePeriod)
	}
	return nil
}

// Value returns the monetary contribution of the event: the explicit
// amount when set, otherwise units times rate.
func (e Event) Value() decimal.Decimal {
	if !e.Amount.IsZero() {
		return e.Amount
	}
	return e.Units.Mul(e.Rate)
}

// EventStore persists payroll events.
type EventStore interface {
	// EventsFor returns an employee's unexecuted events overlapping the period.
	EventsFor(ctx context.Context, employee EmployeeID, period Period) ([]Event, error)

	// MarkExecuted flags events as consumed by an applied run.
	MarkExecuted(ctx context.Context, ids []string) error

	// SaveEvent persists one event.
	SaveEvent(ctx context.Context, event Event) error
}

// eventsByConcept groups an employee's events by the concept they feed.
func eventsByConcept(events []Event) map[ConceptCode][]Event {
	grouped := make(map[ConceptCode][]Event)
	for _, e := range events {
		grouped[e.ConceptCode] = append(grouped[e.ConceptCode], e)
	}
	return grouped
}
