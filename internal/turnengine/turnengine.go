// Package turnengine implements the single per-message pipeline every
// channel funnels through: person/session bookkeeping, context assembly,
// rate limiting, a slop-checked generation loop, and the final
// send/react/silence decision from the behavior engine.
package turnengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/friendbot/internal/backend"
	"github.com/nextlevelbuilder/friendbot/internal/behavior"
	"github.com/nextlevelbuilder/friendbot/internal/bus"
	"github.com/nextlevelbuilder/friendbot/internal/contextbuilder"
	"github.com/nextlevelbuilder/friendbot/internal/primitives"
	"github.com/nextlevelbuilder/friendbot/internal/store"
	"github.com/nextlevelbuilder/friendbot/internal/tools"
)

// MemoryExtractor runs after a send_text turn completes, best-effort, to
// pull durable facts/episodes out of the exchange. It is invoked on a
// detached context — a slow or failing extractor must never hold up or
// fail the turn that triggered it.
type MemoryExtractor func(ctx context.Context, personID, chatID, userText, assistantText string)

// Config wires a TurnEngine to its collaborators. Every field is required
// unless noted.
type Config struct {
	Sessions store.SessionStore
	Memory   store.MemoryStore
	Feedback store.FeedbackStore

	Backend       backend.LLMBackend
	Model         string
	FastModel     string // not read by the engine; the BehaviorModel caller closes over its own model
	MaxSteps      int
	MaxTokens     int
	Temperature   float64
	SleepWindow   behavior.SleepWindow
	BehaviorModel behavior.FastModelCaller

	Registry     *tools.Registry
	Policy       *tools.PolicyEngine
	ToolTimeout  time.Duration
	ToolBudget   int // total output tokens budgeted per turn across all tool calls
	PerToolLimit int // max tokens any single tool call may contribute

	IdentityDir         string
	IdentityMaxTokens    int
	DefaultMaxChars      int
	HistoryLimit         int
	RetrieveN            int
	LessonLimit          int
	MemoryBudgetTokens   int
	RetrievalWeights     store.RetrievalWeights
	CompactMaxTokens     int
	SessionPersonaReminder string

	GlobalLimiter *primitives.TokenBucket
	ChatLimiter   *primitives.PerKeyRateLimiter[string]

	MaxRegens int

	MemoryExtractor MemoryExtractor

	NowMs func() int64
}

// TurnEngine runs the full handleIncomingMessage pipeline, serialized per
// chat via an internal PerKeyLock.
type TurnEngine struct {
	cfg  Config
	lock *primitives.PerKeyLock[string]

	seqMu sync.Mutex
	seq   map[string]int64
}

// New builds a TurnEngine from cfg, filling in documented defaults for any
// zero-valued tunables.
func New(cfg Config) *TurnEngine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 6
	}
	if cfg.DefaultMaxChars <= 0 {
		cfg.DefaultMaxChars = 600
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 40
	}
	if cfg.RetrieveN <= 0 {
		cfg.RetrieveN = 8
	}
	if cfg.LessonLimit <= 0 {
		cfg.LessonLimit = 5
	}
	if cfg.CompactMaxTokens <= 0 {
		cfg.CompactMaxTokens = 6000
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 20 * time.Second
	}
	if cfg.NowMs == nil {
		cfg.NowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &TurnEngine{
		cfg:  cfg,
		lock: primitives.NewPerKeyLock[string](),
		seq:  make(map[string]int64),
	}
}

func (e *TurnEngine) nextSeq(chatID string) int64 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.seq[chatID]++
	return e.seq[chatID]
}

func (e *TurnEngine) currentSeq(chatID string) int64 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	return e.seq[chatID]
}

// HandleIncomingMessage runs the full pipeline for msg and returns the
// single action to take. observer may be nil. ctx's cancellation is the
// turn's signal; a cancelled ctx mid-generation returns silence{interrupted}.
func (e *TurnEngine) HandleIncomingMessage(ctx context.Context, msg bus.IncomingMessage, observer backend.CompletionStreamObserver) (bus.OutgoingAction, error) {
	var result bus.OutgoingAction
	err := e.lock.RunExclusive(msg.ChatID, func() error {
		result = e.handleLocked(ctx, msg, observer)
		return nil
	})
	return result, err
}

func (e *TurnEngine) handleLocked(ctx context.Context, msg bus.IncomingMessage, observer backend.CompletionStreamObserver) bus.OutgoingAction {
	mySeq := e.nextSeq(msg.ChatID)

	// Step 1: empty, non-proactive message.
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 {
		return bus.Silence("empty")
	}

	// Step 2: sleep window.
	if e.cfg.SleepWindow.InWindow(time.UnixMilli(e.cfg.NowMs())) && !msg.IsOperator {
		return bus.Silence("sleep_mode")
	}

	// Step 3: person tracking and trust tier.
	var person *store.PersonRecord
	if e.cfg.Memory != nil {
		p, err := e.cfg.Memory.GetOrCreatePerson(msg.Channel, msg.AuthorID, msg.AuthorID)
		if err != nil {
			slog.Error("turnengine: upserting person failed", "chatId", msg.ChatID, "err", err)
		} else {
			person = p
		}
	}
	tier := behavior.TrustTier(personScore(person), personOverride(person))
	_ = tier // not read further in this turn; context scope follows msg.IsGroup.

	// Step 4: append + compact.
	if e.cfg.Sessions != nil {
		if err := e.cfg.Sessions.AppendMessage(msg.ChatID, store.SessionMessage{
			ChatID: msg.ChatID, Role: store.RoleUser, Content: msg.Text,
			CreatedAtMs: msg.TimestampMs, AuthorID: msg.AuthorID, SourceMessageID: msg.MessageID,
		}); err != nil {
			slog.Error("turnengine: appending message failed", "chatId", msg.ChatID, "err", err)
		}
		if _, err := e.cfg.Sessions.CompactIfNeeded(e.compactOpts(ctx, msg.ChatID, false)); err != nil {
			slog.Error("turnengine: compaction failed", "chatId", msg.ChatID, "err", err)
		}
	}

	// Step 6: rate limits, ahead of the (expensive) context build so a
	// throttled turn doesn't pay for retrieval it won't use.
	if e.cfg.GlobalLimiter != nil {
		if err := e.cfg.GlobalLimiter.Take(ctx, 1); err != nil {
			return bus.Silence("rate_limited")
		}
	}
	if e.cfg.ChatLimiter != nil {
		if err := e.cfg.ChatLimiter.Take(ctx, msg.ChatID, 1); err != nil {
			return bus.Silence("rate_limited")
		}
	}

	// Step 5: build context.
	built, err := e.buildContext(msg, person)
	if err != nil {
		slog.Error("turnengine: context build failed", "chatId", msg.ChatID, "err", err)
		return bus.Silence("context_build_failed")
	}

	// Step 7: generation loop, with one forced-compaction retry on
	// context overflow.
	draft, genErr := e.runGenerationLoop(ctx, msg, built, observer)
	if genErr != nil {
		if errors.Is(genErr, context.Canceled) || errors.Is(genErr, backend.ErrAborted) {
			return bus.Silence("interrupted")
		}
		var berr *backend.Error
		if errors.As(genErr, &berr) && berr.Kind == backend.ErrContextOverflow {
			if e.cfg.Sessions != nil {
				if _, err := e.cfg.Sessions.CompactIfNeeded(e.compactOpts(ctx, msg.ChatID, true)); err != nil {
					slog.Error("turnengine: forced compaction failed", "chatId", msg.ChatID, "err", err)
				}
			}
			rebuilt, err := e.buildContext(msg, person)
			if err != nil {
				return bus.Silence("context_build_failed")
			}
			draft, genErr = e.runGenerationLoop(ctx, msg, rebuilt, observer)
			if genErr != nil {
				return bus.Silence("context_overflow")
			}
		} else {
			slog.Error("turnengine: generation failed", "chatId", msg.ChatID, "err", genErr)
			return bus.Silence("generation_failed")
		}
	}
	if draft.action.Kind != "" {
		// runGenerationLoop already produced a terminal silence (empty
		// draft or unrecoverable slop).
		return draft.action
	}

	// Step 8: behavior engine decides the final action.
	var action bus.OutgoingAction
	if e.cfg.BehaviorModel != nil {
		eng := behavior.NewEngine(e.cfg.BehaviorModel, e.cfg.SleepWindow)
		action = eng.Classify(ctx, msg, draft.text)
	} else {
		action = bus.SendText(draft.text)
	}

	if mySeq != e.currentSeq(msg.ChatID) {
		return bus.Silence("superseded")
	}

	switch action.Kind {
	case bus.ActionSendText:
		if e.cfg.Sessions != nil {
			if err := e.cfg.Sessions.AppendMessage(msg.ChatID, store.SessionMessage{
				ChatID: msg.ChatID, Role: store.RoleAssistant, Content: action.Text, CreatedAtMs: e.cfg.NowMs(),
			}); err != nil {
				slog.Error("turnengine: persisting assistant message failed", "chatId", msg.ChatID, "err", err)
			}
		}
		if e.cfg.Feedback != nil {
			_ = e.cfg.Feedback.RegisterOutgoing(store.OutgoingFeedbackRow{
				RefKey: fmt.Sprintf("%s:%d", msg.ChatID, e.cfg.NowMs()), ChatID: msg.ChatID,
				SentAtMs: e.cfg.NowMs(), Text: action.Text, EndsWithQuestion: strings.HasSuffix(strings.TrimSpace(action.Text), "?"),
			})
		}
		if e.cfg.MemoryExtractor != nil && person != nil {
			personID := person.ID
			chatID := msg.ChatID
			userText := msg.Text
			assistantText := action.Text
			go e.cfg.MemoryExtractor(context.Background(), personID, chatID, userText, assistantText)
		}
	case bus.ActionReact, bus.ActionSilence:
		// No text persisted.
	}

	return action
}

func (e *TurnEngine) compactOpts(ctx context.Context, chatID string, force bool) store.CompactOpts {
	return store.CompactOpts{
		ChatID:    chatID,
		MaxTokens: e.cfg.CompactMaxTokens,
		PersonaReminder: e.cfg.SessionPersonaReminder,
		Force:     force,
		Summarize: func(transcript string) (string, error) {
			res, err := e.cfg.Backend.Complete(ctx, backend.CompletionParams{
				Model:  e.cfg.Model,
				System: "Summarize the following conversation concisely, preserving names, facts, and commitments. Plain prose, no headers.",
				Messages: []backend.Message{{Role: backend.RoleUser, Content: transcript}},
				MaxSteps: 1,
			})
			if err != nil {
				return "", err
			}
			return res.Text, nil
		},
	}
}

func (e *TurnEngine) buildContext(msg bus.IncomingMessage, person *store.PersonRecord) (contextbuilder.Built, error) {
	var toolDefs []tools.ToolDef
	if e.cfg.Registry != nil && e.cfg.Policy != nil {
		toolDefs = e.cfg.Policy.SelectTools(e.cfg.Registry, msg.IsOperator)
	}

	return contextbuilder.Build(contextbuilder.Params{
		IdentityDir:       e.cfg.IdentityDir,
		IdentityMaxTokens: e.cfg.IdentityMaxTokens,
		IsGroup:           msg.IsGroup,
		MaxChars:          e.cfg.DefaultMaxChars,
		ChatID:            msg.ChatID,
		Person:            person,
		MemoryStore:       e.cfg.Memory,
		SessionStore:      e.cfg.Sessions,
		QueryText:         msg.Text,
		Weights:           e.cfg.RetrievalWeights,
		RetrieveN:         e.cfg.RetrieveN,
		LessonLimit:       e.cfg.LessonLimit,
		MemoryBudgetTokens: e.cfg.MemoryBudgetTokens,
		HistoryLimit:      e.cfg.HistoryLimit,
		Tools:             toolDefs,
	})
}

// generationOutcome carries either draft text to hand to the behavior
// engine, or a terminal action (non-empty Kind) that short-circuits
// straight to the turn's result.
type generationOutcome struct {
	text   string
	action bus.OutgoingAction
}

func (e *TurnEngine) runGenerationLoop(ctx context.Context, msg bus.IncomingMessage, built contextbuilder.Built, observer backend.CompletionStreamObserver) (generationOutcome, error) {
	maxRegens := e.cfg.MaxRegens
	if maxRegens < 0 {
		maxRegens = 0
	}

	budget := tools.NewOutputBudget(e.cfg.ToolBudget, e.cfg.PerToolLimit)
	executor := e.toolExecutor(budget)

	messages := append([]backend.Message{}, built.HistoryForModel...)
	messages = append(messages, built.DataMessagesForModel...)
	messages = append(messages, backend.Message{Role: backend.RoleUser, Content: msg.Text})

	for attempt := 0; attempt <= maxRegens; attempt++ {
		if err := ctx.Err(); err != nil {
			return generationOutcome{}, err
		}

		res, err := e.cfg.Backend.Complete(ctx, backend.CompletionParams{
			Model: e.cfg.Model, System: built.System, Messages: messages,
			Tools: built.ToolsForModel, MaxSteps: e.cfg.MaxSteps, MaxTokens: e.cfg.MaxTokens,
			Temperature: e.cfg.Temperature, Observer: observer, ToolExecutor: executor,
		})
		if err != nil {
			return generationOutcome{}, err
		}

		text := strings.TrimSpace(res.Text)
		if text == "" {
			return generationOutcome{action: bus.Silence("empty_draft")}, nil
		}
		if e.cfg.DefaultMaxChars > 0 && len(text) > e.cfg.DefaultMaxChars {
			text = strings.TrimRight(text[:e.cfg.DefaultMaxChars], " \t\n")
		}

		slopResult := behavior.CheckSlop(text)
		if !slopResult.IsSlop {
			return generationOutcome{text: text}, nil
		}
		if attempt == maxRegens {
			return generationOutcome{action: bus.Silence("slop_detected")}, nil
		}

		var categories []string
		for _, v := range slopResult.Violations {
			categories = append(categories, v.Category)
		}
		messages = append(messages,
			backend.Message{Role: backend.RoleAssistant, Content: text},
			backend.Message{Role: backend.RoleSystem, Content: "Rewrite to remove AI slop (" + strings.Join(categories, ", ") + "). Sound like a real person texting, not an assistant."},
		)
	}

	return generationOutcome{action: bus.Silence("slop_detected")}, nil
}

func (e *TurnEngine) toolExecutor(budget *tools.OutputBudget) backend.ToolExecutor {
	if e.cfg.Registry == nil {
		return nil
	}
	return func(ctx context.Context, call backend.ToolCallRequest) (string, error) {
		def, ok := e.cfg.Registry.Get(call.Name)
		if !ok {
			return "", fmt.Errorf("turnengine: unknown tool %q", call.Name)
		}
		var input map[string]any
		if call.ArgumentsJSON != "" {
			if err := json.Unmarshal([]byte(call.ArgumentsJSON), &input); err != nil {
				return "", fmt.Errorf("turnengine: invalid arguments for %q: %w", call.Name, err)
			}
		}
		toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
		defer cancel()
		res, err := tools.Execute(toolCtx, def, input, budget)
		if err != nil {
			slog.Warn("turnengine: tool execution error", "tool", call.Name, "err", err)
			return "error: " + err.Error(), nil
		}
		return res.ForLLM, nil
	}
}

func personScore(p *store.PersonRecord) float64 {
	if p == nil {
		return 0
	}
	return p.RelationshipScore
}

func personOverride(p *store.PersonRecord) string {
	if p == nil {
		return ""
	}
	return p.TrustTierOverride
}
