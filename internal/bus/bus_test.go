package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBus_PublishConsumeInbound(t *testing.T) {
	b := NewMessageBus(4)
	msg := IncomingMessage{Channel: "cli", ChatID: "cli:local", Text: "hey"}

	b.PublishInbound(msg)

	got, ok := b.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, msg, got)
}

func TestMessageBus_ConsumeInboundCancelled(t *testing.T) {
	b := NewMessageBus(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := b.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestMessageBus_BroadcastReachesAllSubscribers(t *testing.T) {
	b := NewMessageBus(1)

	var gotA, gotB Event
	b.Subscribe("a", func(e Event) { gotA = e })
	b.Subscribe("b", func(e Event) { gotB = e })

	b.Broadcast(Event{Name: "turn_finished"})

	assert.Equal(t, "turn_finished", gotA.Name)
	assert.Equal(t, "turn_finished", gotB.Name)
}

func TestMessageBus_Unsubscribe(t *testing.T) {
	b := NewMessageBus(1)
	calls := 0
	b.Subscribe("a", func(e Event) { calls++ })
	b.Unsubscribe("a")

	b.Broadcast(Event{Name: "x"})

	assert.Equal(t, 0, calls)
}

func TestOutgoingAction_Constructors(t *testing.T) {
	assert.Equal(t, OutgoingAction{Kind: ActionSendText, Text: "hi"}, SendText("hi"))
	assert.Equal(t, OutgoingAction{
		Kind:              ActionReact,
		Emoji:             "💀",
		TargetAuthorID:    "alice",
		TargetTimestampMs: 123,
	}, React("💀", "alice", 123))
	assert.Equal(t, OutgoingAction{Kind: ActionSilence, Reason: "slop_detected"}, Silence("slop_detected"))
}
