package store

// ProactiveEventKind discriminates the kinds of scheduled proactive events.
type ProactiveEventKind string

const (
	ProactiveReminder ProactiveEventKind = "reminder"
	ProactiveBirthday ProactiveEventKind = "birthday"
	ProactiveCheckIn  ProactiveEventKind = "check_in"
)

// ProactiveEvent is scheduled externally (by a tool, a config file, or an
// operator command) and consumed exactly once by the proactive dispatcher.
type ProactiveEvent struct {
	ID          string             `json:"id"`
	Kind        ProactiveEventKind `json:"kind"`
	Subject     string             `json:"subject"`
	ChatID      string             `json:"chatId"`
	TriggerAtMs int64              `json:"triggerAtMs"`
	// Recurrence is empty for a one-shot event, "once" (equivalent to
	// empty), or a cron expression evaluated by the event scheduler for
	// recurring events.
	Recurrence  string `json:"recurrence,omitempty"`
	Delivered   bool   `json:"delivered"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// ProactiveStore persists scheduled events and hands due ones to the
// dispatcher. MarkDelivered must be atomic: two concurrent dispatcher ticks
// racing on the same event must not both succeed.
type ProactiveStore interface {
	Schedule(e ProactiveEvent) (string, error)
	DueEvents(now int64) ([]ProactiveEvent, error)
	// MarkDelivered sets delivered=true iff it is currently false,
	// returning ok=false if another caller already claimed the event.
	MarkDelivered(id string) (ok bool, err error)
	// RescheduleRecurring advances a recurring event's TriggerAtMs to its
	// next occurrence after delivery and clears Delivered.
	RescheduleRecurring(id string, nextTriggerAtMs int64) error
	Cancel(id string) error
}
