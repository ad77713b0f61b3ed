// Package cli implements the minimal in-process TransportAdapter used to
// exercise the Core end to end (scenarios S1-S6, `cmd doctor`): it reads
// lines from an input stream as operator messages on a single synthetic
// chat and writes the engine's decisions back to an output stream.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nextlevelbuilder/friendbot/internal/bus"
)

// OperatorChatID is the synthesized chat ID the adapter assigns to every
// line it reads, matching the "cli:operator" shape internal/proactive's
// chat-ID parser expects.
const OperatorChatID = "cli:operator"

// Adapter is a TransportAdapter backed by an io.Reader/io.Writer pair.
// Production use wires os.Stdin/os.Stdout; tests wire in-memory pipes.
type Adapter struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	nowMs func() int64
}

// NewAdapter builds a CLI adapter reading from in and writing to out.
func NewAdapter(in io.Reader, out io.Writer) *Adapter {
	return &Adapter{in: in, out: out, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

func (a *Adapter) Name() string { return "cli" }

func (a *Adapter) IsRunning() bool { return a.running.Load() }

func (a *Adapter) SupportsReactions() bool { return false }

// Start launches the reading goroutine. A scanner error (not EOF) restarts
// the reader with bounded exponential backoff, matching the reconnect
// pattern a real long-polling transport (Telegram, Discord) would use.
func (a *Adapter) Start(ctx context.Context, router bus.InboundRouter) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()
	a.running.Store(true)

	go a.run(ctx, router)
	return nil
}

func (a *Adapter) run(ctx context.Context, router bus.InboundRouter) {
	defer close(a.done)
	defer a.running.Store(false)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry indefinitely until ctx is cancelled
	bo.MaxInterval = 5 * time.Second

	for {
		err := a.readLoop(ctx, router)
		if ctx.Err() != nil || err == io.EOF {
			return
		}
		if err != nil {
			wait := bo.NextBackOff()
			slog.Warn("cli adapter: reader failed, retrying", "err", err, "wait", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		return
	}
}

func (a *Adapter) readLoop(ctx context.Context, router bus.InboundRouter) error {
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		router.PublishInbound(bus.IncomingMessage{
			Channel:     a.Name(),
			ChatID:      OperatorChatID,
			MessageID:   fmt.Sprintf("cli:%d", a.nowMs()),
			AuthorID:    "operator",
			Text:        line,
			IsOperator:  true,
			TimestampMs: a.nowMs(),
		})
	}
	return scanner.Err()
}

// Stop cancels the reader and waits for it to exit.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Deliver writes the engine's decision to the output stream. React actions
// are downgraded to silence since the CLI has no emoji-on-message
// mechanism.
func (a *Adapter) Deliver(ctx context.Context, chatID string, action bus.OutgoingAction) error {
	if action.Kind == bus.ActionReact {
		action = bus.Silence("reactions_unsupported")
	}
	switch action.Kind {
	case bus.ActionSendText:
		_, err := fmt.Fprintln(a.out, action.Text)
		return err
	case bus.ActionSilence:
		slog.Debug("cli adapter: silence", "chatId", chatID, "reason", action.Reason)
		return nil
	default:
		return nil
	}
}
