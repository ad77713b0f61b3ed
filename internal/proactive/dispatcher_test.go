package proactive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/friendbot/internal/backend"
	"github.com/nextlevelbuilder/friendbot/internal/bus"
	"github.com/nextlevelbuilder/friendbot/internal/store"
	"github.com/nextlevelbuilder/friendbot/internal/store/memstore"
)

type fakeEngine struct {
	action bus.OutgoingAction
	err    error
	calls  int
}

func (f *fakeEngine) HandleIncomingMessage(ctx context.Context, msg bus.IncomingMessage, observer backend.CompletionStreamObserver) (bus.OutgoingAction, error) {
	f.calls++
	return f.action, f.err
}

func newTestDispatcher(t *testing.T, engine TurnRunner, now int64) (*Dispatcher, *memstore.ProactiveStore, *memstore.MemoryStore, *memstore.FeedbackStore) {
	t.Helper()
	ps := memstore.NewProactiveStore()
	ms := memstore.NewMemoryStore(func() int64 { return now })
	fs := memstore.NewFeedbackStore()

	d := NewDispatcher(DispatcherConfig{
		Scheduler: NewScheduler(ps),
		Engine:    engine,
		Memory:    ms,
		Feedback:  fs,
		NowMs:     func() int64 { return now },
	})
	return d, ps, ms, fs
}

func TestDispatchOne_UnroutableChatIsSilenced(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, &fakeEngine{}, 1000)
	action, err := d.DispatchOne(context.Background(), store.ProactiveEvent{ID: "e1", ChatID: "garbage", Kind: store.ProactiveReminder})
	require.NoError(t, err)
	assert.Equal(t, bus.ActionSilence, action.Kind)
	assert.Equal(t, "proactive_unroutable", action.Reason)
}

func TestDispatchOne_NewContactCheckInIsGated(t *testing.T) {
	d, _, ms, _ := newTestDispatcher(t, &fakeEngine{}, 1000)
	_, err := ms.GetOrCreatePerson("signal", "+1", "+1")
	require.NoError(t, err)

	action, err := d.DispatchOne(context.Background(), store.ProactiveEvent{
		ID: "e1", ChatID: "signal:dm:+1", Kind: store.ProactiveCheckIn,
	})
	require.NoError(t, err)
	assert.Equal(t, bus.ActionSilence, action.Kind)
	assert.Equal(t, "proactive_relationship_too_new", action.Reason)
}

func TestDispatchOne_ReminderBypassesTrustGating(t *testing.T) {
	eng := &fakeEngine{action: bus.SendText("don't forget your dentist appointment")}
	d, _, ms, _ := newTestDispatcher(t, eng, 1000)
	_, err := ms.GetOrCreatePerson("signal", "+1", "+1")
	require.NoError(t, err)

	action, err := d.DispatchOne(context.Background(), store.ProactiveEvent{
		ID: "e1", ChatID: "signal:dm:+1", Kind: store.ProactiveReminder,
	})
	require.NoError(t, err)
	assert.Equal(t, bus.ActionSendText, action.Kind)
	assert.Equal(t, 1, eng.calls)
}

func TestDispatchOne_GettingToKnowThrottledAfterRecentSend(t *testing.T) {
	d, _, ms, fs := newTestDispatcher(t, &fakeEngine{action: bus.SendText("hey")}, 1000)
	person, err := ms.GetOrCreatePerson("signal", "+1", "+1")
	require.NoError(t, err)
	require.NoError(t, ms.BumpRelationshipScore(person.ID, 0.4))
	require.NoError(t, fs.RegisterOutgoing(store.OutgoingFeedbackRow{RefKey: "r1", ChatID: "signal:dm:+1", SentAtMs: 900}))

	action, err := d.DispatchOne(context.Background(), store.ProactiveEvent{
		ID: "e1", ChatID: "signal:dm:+1", Kind: store.ProactiveCheckIn,
	})
	require.NoError(t, err)
	assert.Equal(t, bus.ActionSilence, action.Kind)
	assert.Equal(t, "proactive_warming_throttle", action.Reason)
}

func TestDispatchOne_HeartbeatOkConvertsToSilence(t *testing.T) {
	eng := &fakeEngine{action: bus.SendText("HEARTBEAT_OK")}
	d, _, _, _ := newTestDispatcher(t, eng, 1000)
	action, err := d.DispatchOne(context.Background(), store.ProactiveEvent{
		ID: "e1", ChatID: "cli:operator", Kind: store.ProactiveReminder,
	})
	require.NoError(t, err)
	assert.Equal(t, bus.ActionSilence, action.Kind)
	assert.Equal(t, "proactive_heartbeat_ok", action.Reason)
}

func TestDispatchOne_MarksEventDelivered(t *testing.T) {
	d, ps, _, _ := newTestDispatcher(t, &fakeEngine{action: bus.SendText("hi")}, 1000)
	_, err := ps.Schedule(store.ProactiveEvent{ID: "e1", ChatID: "cli:operator", Kind: store.ProactiveReminder, TriggerAtMs: 500})
	require.NoError(t, err)

	_, err = d.DispatchOne(context.Background(), store.ProactiveEvent{ID: "e1", ChatID: "cli:operator", Kind: store.ProactiveReminder, TriggerAtMs: 500})
	require.NoError(t, err)

	due, err := ps.DueEvents(2000)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatchOne_RecurringEventReschedules(t *testing.T) {
	d, ps, _, _ := newTestDispatcher(t, &fakeEngine{action: bus.SendText("hi")}, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC).UnixMilli())
	triggerAt := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	_, err := ps.Schedule(store.ProactiveEvent{
		ID: "e1", ChatID: "cli:operator", Kind: store.ProactiveReminder,
		TriggerAtMs: triggerAt, Recurrence: "0 9 * * *",
	})
	require.NoError(t, err)

	_, err = d.DispatchOne(context.Background(), store.ProactiveEvent{
		ID: "e1", ChatID: "cli:operator", Kind: store.ProactiveReminder,
		TriggerAtMs: triggerAt, Recurrence: "0 9 * * *",
	})
	require.NoError(t, err)

	due, err := ps.DueEvents(time.Date(2026, 1, 2, 9, 1, 0, 0, time.UTC).UnixMilli())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.False(t, due[0].Delivered)
}
