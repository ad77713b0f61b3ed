package proactive

import (
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// Scheduler is the EventScheduler of spec §4.11: a thin layer over
// store.ProactiveStore that also knows how to advance a recurring event's
// next trigger time from its cron expression.
type Scheduler struct {
	Store store.ProactiveStore
}

// NewScheduler builds a Scheduler backed by s.
func NewScheduler(s store.ProactiveStore) *Scheduler {
	return &Scheduler{Store: s}
}

// DueNow returns every event whose TriggerAtMs has passed and that has not
// yet been delivered.
func (s *Scheduler) DueNow(now int64) ([]store.ProactiveEvent, error) {
	return s.Store.DueEvents(now)
}

// Schedule registers a new event. Recurrence is either empty/"once" for a
// one-shot event or a 5-field cron expression.
func (s *Scheduler) Schedule(e store.ProactiveEvent) (string, error) {
	return s.Store.Schedule(e)
}

// NextOccurrence computes the next time expr fires strictly after after,
// for advancing a recurring event past a just-delivered trigger.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, after, false)
}

// isRecurring reports whether recurrence names a cron expression rather
// than a one-shot marker.
func isRecurring(recurrence string) bool {
	return recurrence != "" && recurrence != "once"
}
