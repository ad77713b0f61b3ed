// Package accumulator groups a burst of inbound messages from the same
// chat into a single batch before the turn engine reacts, so a user typing
// three quick lines in a row gets one reply instead of three.
package accumulator

import (
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/friendbot/internal/bus"
)

// Config parameters the accumulator's debounce behavior. A zero-value
// Config (ZERO_DEBOUNCE_CONFIG) makes every message flush immediately,
// since every window and the max wait both evaluate to zero.
type Config struct {
	DMWindowMs             int64
	GroupWindowMs          int64
	MaxWaitMs              int64
	MaxMessages            int
	ContinuationMultiplier float64
}

// Batch is one group of messages released together for a single turn.
type Batch struct {
	ChatID   string
	Messages []bus.IncomingMessage
	// Isolated is true when this batch is a single "/"-prefixed command
	// flushed instantly with no prior pending messages folded in.
	Isolated bool
}

// FlushFunc receives a completed batch. It is called with the
// accumulator's internal lock held released, so it may safely call back
// into Add for a different chat.
type FlushFunc func(Batch)

type chatState struct {
	messages []bus.IncomingMessage
	firstMs  int64
	timer    *time.Timer
}

// Accumulator buffers inbound messages per chat and releases them as a
// Batch once the configured debounce window elapses, a hard cap is hit, or
// an instant-flush trigger fires.
type Accumulator struct {
	cfg   Config
	flush FlushFunc

	mu      sync.Mutex
	pending map[string]*chatState
}

// New creates an Accumulator with the given config, calling flush whenever
// a chat's batch is released.
func New(cfg Config, flush FlushFunc) *Accumulator {
	return &Accumulator{cfg: cfg, flush: flush, pending: make(map[string]*chatState)}
}

// Add feeds one inbound message into the accumulator. It may synchronously
// trigger a flush (for instant-flush triggers or a zero-debounce config) or
// schedule one for later.
func (a *Accumulator) Add(msg bus.IncomingMessage) {
	a.mu.Lock()

	trimmed := strings.TrimSpace(msg.Text)
	isCommand := strings.HasPrefix(trimmed, "/")
	st, exists := a.pending[msg.ChatID]

	if isCommand && !exists {
		a.clearLocked(msg.ChatID)
		a.mu.Unlock()
		a.flush(Batch{ChatID: msg.ChatID, Messages: []bus.IncomingMessage{msg}, Isolated: true})
		return
	}

	if !exists {
		st = &chatState{firstMs: msg.TimestampMs}
		a.pending[msg.ChatID] = st
	}
	st.messages = append(st.messages, msg)

	instant := msg.Mentioned || len(msg.Attachments) > 0 || isCommand
	hitMax := a.cfg.MaxMessages > 0 && len(st.messages) >= a.cfg.MaxMessages

	elapsed := msg.TimestampMs - st.firstMs
	if elapsed < 0 {
		elapsed = 0
	}
	timedOut := a.cfg.MaxWaitMs > 0 && elapsed >= a.cfg.MaxWaitMs

	if instant || hitMax || timedOut {
		batch := st.messages
		a.clearLocked(msg.ChatID)
		a.mu.Unlock()
		a.flush(Batch{ChatID: msg.ChatID, Messages: batch})
		return
	}

	debounce := a.debounceFor(msg, elapsed)
	if debounce <= 0 {
		batch := st.messages
		a.clearLocked(msg.ChatID)
		a.mu.Unlock()
		a.flush(Batch{ChatID: msg.ChatID, Messages: batch})
		return
	}

	a.resetTimerLocked(msg.ChatID, debounce)
	a.mu.Unlock()
}

// debounceFor computes the remaining wait for msg.ChatID's pending batch:
// the per-group/DM window (stretched by continuationMultiplier when the
// message looks unfinished), capped by whatever's left of maxWaitMs.
func (a *Accumulator) debounceFor(msg bus.IncomingMessage, elapsed int64) int64 {
	if a.cfg.MaxWaitMs <= 0 {
		return 0
	}

	window := a.cfg.DMWindowMs
	if msg.IsGroup {
		window = a.cfg.GroupWindowMs
	}
	if hasContinuationSignal(msg.Text) && a.cfg.ContinuationMultiplier > 0 {
		window = int64(float64(window) * a.cfg.ContinuationMultiplier)
	}

	remaining := a.cfg.MaxWaitMs - elapsed
	if remaining < 0 {
		remaining = 0
	}
	if window < remaining {
		return window
	}
	return remaining
}

// resetTimerLocked (re)schedules the idle-flush timer for chatID. Callers
// must hold a.mu.
func (a *Accumulator) resetTimerLocked(chatID string, after int64) {
	st := a.pending[chatID]
	if st == nil {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(time.Duration(after)*time.Millisecond, func() {
		a.mu.Lock()
		st, ok := a.pending[chatID]
		if !ok {
			a.mu.Unlock()
			return
		}
		batch := st.messages
		a.clearLocked(chatID)
		a.mu.Unlock()
		a.flush(Batch{ChatID: chatID, Messages: batch})
	})
}

// clearLocked removes chatID's pending state and stops its timer. Callers
// must hold a.mu.
func (a *Accumulator) clearLocked(chatID string) {
	if st, ok := a.pending[chatID]; ok && st.timer != nil {
		st.timer.Stop()
	}
	delete(a.pending, chatID)
}

// Close stops every outstanding timer without flushing pending batches,
// for use during shutdown.
func (a *Accumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for chatID := range a.pending {
		a.clearLocked(chatID)
	}
}

var trailingConnectives = []string{" and", " but", " or", " also", " like", " so"}

// hasContinuationSignal flags text that looks like the author is still
// typing: a trailing ellipsis, a trailing connective, a trailing comma, or
// a short fragment with no terminal punctuation. Mirrors
// internal/behavior's identical helper; kept separate so both packages
// stay leaves with no dependency on each other.
func hasContinuationSignal(text string) bool {
	trimmed := strings.TrimRight(text, " \t")
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		return true
	}
	if strings.HasSuffix(trimmed, ",") {
		return true
	}
	for _, c := range trailingConnectives {
		if strings.HasSuffix(lower, c) {
			return true
		}
	}
	if len([]rune(trimmed)) < 20 {
		last := trimmed[len(trimmed)-1]
		if last != '.' && last != '!' && last != '?' {
			return true
		}
	}
	return false
}
