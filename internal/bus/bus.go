package bus

import (
	"context"
	"sync"
)

// MessageBus is the in-process implementation of InboundRouter and
// EventPublisher. A single MessageBus instance is shared by every channel's
// TransportAdapter and the turn engine within one gateway process; there is
// no cross-process transport here, consistent with the engine running as a
// single Go binary.
type MessageBus struct {
	inbound chan IncomingMessage

	mu        sync.RWMutex
	listeners map[string]EventHandler
}

// NewMessageBus creates a bus with the given inbound queue depth. A depth of
// 0 makes PublishInbound block until a consumer is ready, which is usually
// wrong for a transport's read loop; callers typically want a few hundred
// slots of headroom.
func NewMessageBus(inboundCapacity int) *MessageBus {
	return &MessageBus{
		inbound:   make(chan IncomingMessage, inboundCapacity),
		listeners: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues msg for the turn engine's consumer loop. It
// blocks while the queue is full, until a consumer takes a message; there
// is no timeout or drop.
func (b *MessageBus) PublishInbound(msg IncomingMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks for the next IncomingMessage, or returns (zero,
// false) if ctx is cancelled first.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (IncomingMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return IncomingMessage{}, false
	}
}

// Subscribe registers handler under id, replacing any previous registration
// for that id. Handlers run synchronously on the Broadcast caller's
// goroutine, so a slow handler (e.g. a websocket write) should hand off to
// its own goroutine rather than block the broadcaster.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[id] = handler
}

// Unsubscribe removes the handler registered under id, if any.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

// Broadcast delivers event to every currently registered listener. A panic
// inside one handler is not isolated from the others; handlers are expected
// to be small and defensive (this mirrors the gateway's own websocket
// fan-out, which is the only consumer of broadcast events).
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.listeners))
	for _, h := range b.listeners {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

var (
	_ InboundRouter = (*MessageBus)(nil)
	_ EventPublisher = (*MessageBus)(nil)
)
