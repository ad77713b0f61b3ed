// Package proactive implements the scheduled-outreach half of the runtime:
// an EventScheduler that surfaces due events and a Dispatcher that feeds
// them into the turn engine as synthesized incoming messages.
package proactive

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/friendbot/internal/backend"
	"github.com/nextlevelbuilder/friendbot/internal/behavior"
	"github.com/nextlevelbuilder/friendbot/internal/bus"
	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// TurnRunner is the subset of *turnengine.TurnEngine the dispatcher needs.
// Kept as an interface so dispatcher tests don't need a full engine.
type TurnRunner interface {
	HandleIncomingMessage(ctx context.Context, msg bus.IncomingMessage, observer backend.CompletionStreamObserver) (bus.OutgoingAction, error)
}

// DispatcherConfig wires the dispatcher's dependencies.
type DispatcherConfig struct {
	Scheduler *Scheduler
	Engine    TurnRunner
	Memory    store.MemoryStore
	Feedback  store.FeedbackStore

	SleepWindow behavior.SleepWindow

	// WarmingThrottle is the window within which a getting_to_know
	// contact may receive at most one proactive send. Defaults to 24h.
	WarmingThrottle time.Duration

	// Router delivers a non-silence action to the chat's transport
	// adapter. Optional: nil in tests that only care about the decision
	// an event produces, not delivery. The gateway wires this to its
	// adapter lookup keyed by routedChat.Channel.
	Router func(ctx context.Context, channel, chatID string, action bus.OutgoingAction) error

	NowMs func() int64
}

// Dispatcher implements spec §4.11's five-step proactive flow.
type Dispatcher struct {
	cfg DispatcherConfig
}

// NewDispatcher builds a Dispatcher from cfg, applying defaults.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.WarmingThrottle <= 0 {
		cfg.WarmingThrottle = 24 * time.Hour
	}
	if cfg.NowMs == nil {
		cfg.NowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Dispatcher{cfg: cfg}
}

// RunOnce processes every event currently due. Failures on individual
// events are logged and do not stop the sweep; this is the Fn an
// IntervalLoop wraps for periodic heartbeat ticks.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	events, err := d.cfg.Scheduler.DueNow(d.cfg.NowMs())
	if err != nil {
		return err
	}
	for _, ev := range events {
		action, err := d.DispatchOne(ctx, ev)
		if err != nil {
			slog.Error("proactive: dispatch failed", "eventId", ev.ID, "chatId", ev.ChatID, "err", err)
			continue
		}
		slog.Info("proactive: dispatched", "eventId", ev.ID, "chatId", ev.ChatID, "action", action.Kind, "reason", action.Reason)
	}
	return nil
}

// DispatchOne runs the full gate→route→turn→record pipeline for a single
// event and marks it delivered (rescheduling it if recurring) regardless
// of whether the turn actually sent anything, since the event itself has
// been consumed either way.
func (d *Dispatcher) DispatchOne(ctx context.Context, ev store.ProactiveEvent) (bus.OutgoingAction, error) {
	defer d.finalize(ev)

	// Step 1: route.
	routed, err := parseChatID(ev.ChatID)
	if err != nil {
		return bus.Silence("proactive_unroutable"), nil
	}

	// Step 2: trust-tier gating, reminders and birthdays exempt.
	if ev.Kind != store.ProactiveReminder && ev.Kind != store.ProactiveBirthday && d.cfg.Memory != nil {
		person, err := d.cfg.Memory.GetOrCreatePerson(routed.Channel, routed.AuthorID, routed.AuthorID)
		if err == nil {
			tier := behavior.TrustTier(person.RelationshipScore, person.TrustTierOverride)
			switch tier {
			case store.TrustNewContact:
				return bus.Silence("proactive_relationship_too_new"), nil
			case store.TrustGettingToKnow:
				if d.cfg.Feedback != nil {
					since := d.cfg.NowMs() - d.cfg.WarmingThrottle.Milliseconds()
					count, ferr := d.cfg.Feedback.RecentSendCount(ev.ChatID, since)
					if ferr == nil && count >= 1 {
						return bus.Silence("proactive_warming_throttle"), nil
					}
				}
			}
		}
	}

	// Step 3: sleep mode, operators exempt.
	if d.cfg.SleepWindow.InWindow(time.UnixMilli(d.cfg.NowMs())) && !routed.IsOperator {
		return bus.Silence("sleep_mode"), nil
	}

	// Step 4: run the turn pipeline.
	msg := bus.IncomingMessage{
		Channel:     routed.Channel,
		ChatID:      ev.ChatID,
		MessageID:   "proactive:" + ev.ID,
		AuthorID:    routed.AuthorID,
		Text:        "Send the proactive message now.",
		IsGroup:     routed.IsGroup,
		IsOperator:  routed.IsOperator,
		TimestampMs: d.cfg.NowMs(),
	}
	action, err := d.cfg.Engine.HandleIncomingMessage(ctx, msg, nil)
	if err != nil {
		return bus.OutgoingAction{}, err
	}

	// Heartbeat convention: an empty or literal "HEARTBEAT_OK" draft means
	// the model decided there's nothing worth proactively saying.
	if action.Kind == bus.ActionSendText {
		trimmed := strings.TrimSpace(action.Text)
		if trimmed == "" || trimmed == "HEARTBEAT_OK" {
			return bus.Silence("proactive_heartbeat_ok"), nil
		}
	}

	// Step 5: session/feedback persistence already happened inside
	// HandleIncomingMessage's own step 8 for send_text actions; routing the
	// action out to the transport is still this dispatcher's job.
	if d.cfg.Router != nil && (action.Kind == bus.ActionSendText || action.Kind == bus.ActionReact) {
		if err := d.cfg.Router(ctx, routed.Channel, ev.ChatID, action); err != nil {
			slog.Error("proactive: routing action failed", "eventId", ev.ID, "chatId", ev.ChatID, "err", err)
		}
	}
	return action, nil
}

func (d *Dispatcher) finalize(ev store.ProactiveEvent) {
	ok, err := d.cfg.Scheduler.Store.MarkDelivered(ev.ID)
	if err != nil {
		slog.Error("proactive: marking delivered failed", "eventId", ev.ID, "err", err)
		return
	}
	if !ok || !isRecurring(ev.Recurrence) {
		return
	}
	next, err := NextOccurrence(ev.Recurrence, time.UnixMilli(ev.TriggerAtMs))
	if err != nil {
		slog.Error("proactive: computing next occurrence failed", "eventId", ev.ID, "recurrence", ev.Recurrence, "err", err)
		return
	}
	if err := d.cfg.Scheduler.Store.RescheduleRecurring(ev.ID, next.UnixMilli()); err != nil {
		slog.Error("proactive: rescheduling failed", "eventId", ev.ID, "err", err)
	}
}
