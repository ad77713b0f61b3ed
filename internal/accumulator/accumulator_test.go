package accumulator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/friendbot/internal/bus"
)

type collector struct {
	mu      sync.Mutex
	batches []Batch
}

func (c *collector) flush(b Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) snapshot() []Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Batch, len(c.batches))
	copy(out, c.batches)
	return out
}

func TestAccumulator_ZeroDebounceConfigFlushesImmediately(t *testing.T) {
	c := &collector{}
	a := New(Config{}, c.flush)

	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "hi", TimestampMs: 1})
	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "there", TimestampMs: 2})

	batches := c.snapshot()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Messages, 1)
	assert.Len(t, batches[1].Messages, 1)
}

func TestAccumulator_CommandIsInstantAndIsolatedWithNoPriorBatch(t *testing.T) {
	c := &collector{}
	a := New(Config{DMWindowMs: 5000, MaxWaitMs: 20000}, c.flush)

	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "/status", TimestampMs: 1})

	batches := c.snapshot()
	require.Len(t, batches, 1)
	assert.True(t, batches[0].Isolated)
	assert.Len(t, batches[0].Messages, 1)
}

func TestAccumulator_CommandAfterPendingFlushesWholeBatch(t *testing.T) {
	c := &collector{}
	a := New(Config{DMWindowMs: 60000, MaxWaitMs: 120000}, c.flush)

	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "hey", TimestampMs: 1})
	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "/status", TimestampMs: 2})

	batches := c.snapshot()
	require.Len(t, batches, 1)
	assert.False(t, batches[0].Isolated)
	assert.Len(t, batches[0].Messages, 2)
}

func TestAccumulator_MentionTriggersInstantFlush(t *testing.T) {
	c := &collector{}
	a := New(Config{DMWindowMs: 60000, MaxWaitMs: 120000}, c.flush)

	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "hey", TimestampMs: 1})
	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "@bot help", TimestampMs: 2, Mentioned: true})

	batches := c.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Messages, 2)
}

func TestAccumulator_AttachmentTriggersInstantFlush(t *testing.T) {
	c := &collector{}
	a := New(Config{DMWindowMs: 60000, MaxWaitMs: 120000}, c.flush)

	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "look", TimestampMs: 1, Attachments: []string{"photo.jpg"}})

	batches := c.snapshot()
	require.Len(t, batches, 1)
}

func TestAccumulator_MaxMessagesFlushesWithoutWaiting(t *testing.T) {
	c := &collector{}
	a := New(Config{DMWindowMs: 60000, MaxWaitMs: 120000, MaxMessages: 2}, c.flush)

	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "one", TimestampMs: 1})
	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "two", TimestampMs: 2})

	batches := c.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Messages, 2)
}

func TestAccumulator_MaxWaitElapsedFlushesEvenMidWindow(t *testing.T) {
	c := &collector{}
	a := New(Config{DMWindowMs: 60000, MaxWaitMs: 100}, c.flush)

	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "one", TimestampMs: 1000})
	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "two", TimestampMs: 1100})

	batches := c.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Messages, 2)
}

func TestAccumulator_ContinuationSignalStretchesWindow(t *testing.T) {
	c := &collector{}
	a := New(Config{DMWindowMs: 1000, MaxWaitMs: 10000, ContinuationMultiplier: 3}, c.flush)

	d := a.debounceFor(bus.IncomingMessage{Text: "wait and..."}, 0)
	assert.Equal(t, int64(3000), d)
}

func TestAccumulator_IdleTimerFlushesEventually(t *testing.T) {
	c := &collector{}
	a := New(Config{DMWindowMs: 20, MaxWaitMs: 1000}, c.flush)
	defer a.Close()

	a.Add(bus.IncomingMessage{ChatID: "c1", Text: "hi", TimestampMs: time.Now().UnixMilli()})

	assert.Eventually(t, func() bool {
		return len(c.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHasContinuationSignal(t *testing.T) {
	assert.True(t, hasContinuationSignal("wait and…"))
	assert.True(t, hasContinuationSignal("so anyway,"))
	assert.False(t, hasContinuationSignal("That's the whole story."))
}
