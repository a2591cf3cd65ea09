// Package reconcile merges fetched agenda events into the first-seen
// registry.
package reconcile

import (
	"time"

	"gv2cal/internal/model"
	"gv2cal/internal/registry"
)

// Result is the outcome of a single reconciliation.
type Result struct {
	// Events is the input list, in order, each paired with its first-seen time.
	Events []model.AnnotatedEvent
	// Registry holds every existing entry followed by the new ones.
	Registry registry.Document
	// Added is the number of entries appended to Registry.
	Added int
}

// Reconcile looks every event up in doc by id. Unknown ids get a new entry
// stamped with now; known ids keep their stored time. doc itself is not
// modified.
//
// Running Reconcile again with the same events and Result.Registry adds
// nothing.
func Reconcile(events []model.AgendaEvent, doc registry.Document, now time.Time) Result {
	out := Result{
		Events:   make([]model.AnnotatedEvent, 0, len(events)),
		Registry: doc.Clone(),
	}

	seen := doc.Index()
	for _, ev := range events {
		first, ok := seen[ev.ID]
		if !ok {
			first = now
			seen[ev.ID] = now
			out.Registry.Events = append(out.Registry.Events, registry.Entry{
				EventID:   ev.ID,
				FirstSeen: now,
			})
			out.Added++
		}
		out.Events = append(out.Events, model.AnnotatedEvent{
			AgendaEvent: ev,
			FirstSeen:   first,
		})
	}

	return out
}
