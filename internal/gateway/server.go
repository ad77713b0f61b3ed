// Package gateway wires every collaborator package (config, store, tools,
// backend, contextbuilder, behavior, turnengine, proactive, channels) into
// one running process and exposes the debug/health HTTP surface spec §5
// describes for operating the bot.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/nextlevelbuilder/friendbot/internal/backend"
	"github.com/nextlevelbuilder/friendbot/internal/behavior"
	"github.com/nextlevelbuilder/friendbot/internal/bus"
	"github.com/nextlevelbuilder/friendbot/internal/channels"
	"github.com/nextlevelbuilder/friendbot/internal/config"
	"github.com/nextlevelbuilder/friendbot/internal/primitives"
	"github.com/nextlevelbuilder/friendbot/internal/proactive"
	"github.com/nextlevelbuilder/friendbot/internal/store"
	"github.com/nextlevelbuilder/friendbot/internal/tools"
	"github.com/nextlevelbuilder/friendbot/internal/turnengine"
)

// Server owns the process's long-running loops: the inbound message
// consumer, the proactive heartbeat, and the HTTP debug/health surface.
// There is no RPC protocol here — unlike the teacher's multi-tenant
// WebSocket gateway, this runtime has exactly one engine and one operator,
// so the HTTP surface only needs health reporting and a debug event feed.
type Server struct {
	cfg      *config.Config
	busImpl  *bus.MessageBus
	engine   *turnengine.TurnEngine
	stores   store.Stores
	adapters map[string]channels.TransportAdapter

	dispatcher *proactive.Dispatcher
	heartbeat  *primitives.IntervalLoop

	httpServer *http.Server
	mux        *http.ServeMux
	addr       string

	startedAt time.Time

	shuttingDown         atomic.Bool
	lastSuccessfulTurnMs atomic.Int64
}

// Deps bundles the collaborators New needs. Adapters defaults to nil (a
// server with no transports is valid for tests exercising only the
// proactive dispatcher or the health route).
type Deps struct {
	Config   *config.Config
	Bus      *bus.MessageBus
	Engine   *turnengine.TurnEngine
	Stores   store.Stores
	Adapters map[string]channels.TransportAdapter
	Sleep    behavior.SleepWindow
	Addr     string
}

// New builds a Server from already-constructed collaborators. Use
// BuildFromConfig to construct those collaborators from a *config.Config
// in one step.
func New(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		busImpl:   d.Bus,
		engine:    d.Engine,
		stores:    d.Stores,
		adapters:  d.Adapters,
		startedAt: time.Now(),
		addr:      d.Addr,
	}
	if s.adapters == nil {
		s.adapters = make(map[string]channels.TransportAdapter)
	}
	if s.addr == "" {
		s.addr = "127.0.0.1:8089"
	}

	scheduler := proactive.NewScheduler(d.Stores.Proactive)
	s.dispatcher = proactive.NewDispatcher(proactive.DispatcherConfig{
		Scheduler:   scheduler,
		Engine:      s.engine,
		Memory:      d.Stores.Memory,
		Feedback:    d.Stores.Feedback,
		SleepWindow: d.Sleep,
		Router:      s.routeOutgoing,
	})

	interval := time.Duration(d.Config.Proactive.HeartbeatIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.heartbeat = proactive.NewHeartbeat(s.dispatcher, interval, interval*6)

	return s
}

// Start launches every registered transport adapter, the inbound consumer
// loop, the proactive heartbeat (if enabled), and the HTTP server. It
// blocks until ctx is cancelled or the HTTP server fails to start.
func (s *Server) Start(ctx context.Context) error {
	for name, adapter := range s.adapters {
		if err := adapter.Start(ctx, s.busImpl); err != nil {
			return fmt.Errorf("gateway: starting channel %q: %w", name, err)
		}
	}

	go s.consumeLoop(ctx)

	if s.cfg.Proactive.Enabled {
		s.heartbeat.Start(ctx)
	}

	mux := s.BuildMux()
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	slog.Info("gateway starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.shuttingDown.Store(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		if s.cfg.Proactive.Enabled {
			s.heartbeat.Stop()
		}
		for name, adapter := range s.adapters {
			if err := adapter.Stop(shutdownCtx); err != nil {
				slog.Error("gateway: stopping channel failed", "channel", name, "err", err)
			}
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// consumeLoop drains the bus's inbound queue and runs each message through
// the turn engine, delivering the resulting action back through the
// originating channel's adapter.
func (s *Server) consumeLoop(ctx context.Context) {
	for {
		msg, ok := s.busImpl.ConsumeInbound(ctx)
		if !ok {
			return
		}
		s.handleOne(ctx, msg)
	}
}

func (s *Server) handleOne(ctx context.Context, msg bus.IncomingMessage) {
	adapter := s.adapters[msg.Channel]
	turnCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	action, err := s.engine.HandleIncomingMessage(turnCtx, msg, nil)
	if err != nil {
		slog.Error("gateway: turn failed", "chatId", msg.ChatID, "err", err)
		s.broadcast("turn.error", map[string]any{"chatId": msg.ChatID, "error": err.Error()})
		return
	}

	s.lastSuccessfulTurnMs.Store(time.Now().UnixMilli())
	s.broadcast("turn.action", map[string]any{"chatId": msg.ChatID, "kind": action.Kind})

	if adapter == nil {
		return
	}
	if action.Kind == bus.ActionReact && !adapter.SupportsReactions() {
		action = channels.DowngradeReact(adapter, action)
	}
	if action.Kind == bus.ActionSilence {
		return
	}
	if err := adapter.Deliver(ctx, msg.ChatID, action); err != nil {
		slog.Error("gateway: delivery failed", "chatId", msg.ChatID, "channel", msg.Channel, "err", err)
	}
}

// routeOutgoing is internal/proactive's Dispatcher.Router: it resolves the
// adapter registered for channelName and delivers action to chatID.
func (s *Server) routeOutgoing(ctx context.Context, channelName, chatID string, action bus.OutgoingAction) error {
	adapter, ok := s.adapters[channelName]
	if !ok {
		return fmt.Errorf("gateway: no adapter registered for channel %q", channelName)
	}
	if action.Kind == bus.ActionReact && !adapter.SupportsReactions() {
		action = channels.DowngradeReact(adapter, action)
	}
	if action.Kind == bus.ActionSilence {
		return nil
	}
	return adapter.Deliver(ctx, chatID, action)
}

func (s *Server) broadcast(name string, payload any) {
	s.busImpl.Broadcast(bus.Event{Name: name, Payload: payload})
}

// BuildMux creates and caches the HTTP mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/debug/events", s.handleDebugEvents)
	s.mux = mux
	return mux
}

// healthResponse is the exact JSON shape spec §5's health contract
// describes for operators and the doctor command.
type healthResponse struct {
	Status               string `json:"status"`
	UptimeSec            int64  `json:"uptimeSec"`
	ShuttingDown         bool   `json:"shuttingDown"`
	LastSuccessfulTurnMs int64  `json:"lastSuccessfulTurnMs,omitempty"`
	LastTurnAgoSec       int64  `json:"lastTurnAgoSec,omitempty"`
	Detail               string `json:"detail,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		UptimeSec:    int64(time.Since(s.startedAt).Seconds()),
		ShuttingDown: s.shuttingDown.Load(),
	}
	if last := s.lastSuccessfulTurnMs.Load(); last > 0 {
		resp.LastSuccessfulTurnMs = last
		resp.LastTurnAgoSec = int64(time.Since(time.UnixMilli(last)).Seconds())
	}

	status := http.StatusOK
	resp.Status = "ok"
	switch {
	case resp.ShuttingDown:
		status = http.StatusServiceUnavailable
		resp.Status = "shutting_down"
		resp.Detail = "server is draining connections"
	case s.cfg.Proactive.Enabled && s.heartbeat.IsStale():
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
		resp.Detail = "proactive heartbeat has gone stale"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, resp)
}

// handleDebugEvents upgrades to a websocket and streams bus events until
// the client disconnects — an operator-facing "tail the log" surface, not
// a control-plane RPC channel like the teacher's /ws endpoint.
func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket accept failed", "err", err)
		return
	}
	id := fmt.Sprintf("debug-%d", time.Now().UnixNano())
	ctx := r.Context()

	s.busImpl.Subscribe(id, func(event bus.Event) {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		payload, err := jsonMarshal(event)
		if err != nil {
			return
		}
		_ = conn.Write(writeCtx, websocket.MessageText, payload)
	})
	defer s.busImpl.Unsubscribe(id)

	<-ctx.Done()
	conn.Close(websocket.StatusNormalClosure, "gateway shutting down")
}

// BuildFromConfig constructs the full collaborator graph (tool registry,
// policy engine, turn engine, proactive dispatcher) from cfg and returns a
// ready Server. It takes an already-built backend and store set so callers
// (cmd/gateway.go, tests) control which LLM provider and store backend
// (memstore or internal/store/sqlite) are used.
func BuildFromConfig(cfg *config.Config, backendImpl backend.LLMBackend, st store.Stores, adapters map[string]channels.TransportAdapter) *Server {
	registry := tools.NewRegistry()
	_ = registry.RegisterTool(tools.NewExecTool(tools.ExecConfig{Timeout: 30 * time.Second}))
	_ = registry.RegisterTool(tools.NewReadURLTool(tools.ReadURLConfig{}))
	_ = registry.RegisterTool(tools.NewTranscribeAudioTool(tools.TranscribeAudioConfig{}))

	policy := tools.NewPolicyEngine(tools.PolicyConfig{
		EnableRestricted:   cfg.Tools.Restricted.EnabledForOperator,
		EnableDangerous:    cfg.Tools.Dangerous.EnabledForOperator,
		DangerousAllowAll:  cfg.Tools.Dangerous.AllowAll,
		DangerousAllowlist: []string(cfg.Tools.Dangerous.Allowlist),
	})

	sleep := behavior.SleepWindow{
		Enabled:  cfg.Behavior.Sleep.Enabled,
		Timezone: cfg.Behavior.Sleep.Timezone,
		Start:    cfg.Behavior.Sleep.StartLocal,
		End:      cfg.Behavior.Sleep.EndLocal,
	}

	fastCaller := func(ctx context.Context, system, user string) (string, error) {
		res, err := backendImpl.Complete(ctx, backend.CompletionParams{
			Model:    cfg.Model.Models.Fast,
			System:   system,
			Messages: []backend.Message{{Role: backend.RoleUser, Content: user}},
			MaxSteps: 1,
		})
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}

	engine := turnengine.New(turnengine.Config{
		Sessions: st.Sessions,
		Memory:   st.Memory,
		Feedback: st.Feedback,

		Backend:       backendImpl,
		Model:         cfg.Model.Models.Default,
		FastModel:     cfg.Model.Models.Fast,
		MaxSteps:      cfg.Engine.Generation.ReactiveMaxSteps,
		MaxTokens:     4096,
		Temperature:   0.9,
		SleepWindow:   sleep,
		BehaviorModel: fastCaller,

		Registry:     registry,
		Policy:       policy,
		ToolTimeout:  30 * time.Second,
		ToolBudget:   4000,
		PerToolLimit: 1500,

		IdentityDir:        cfg.Paths.IdentityDir,
		IdentityMaxTokens:  cfg.Engine.Context.IdentityPromptMaxTokens,
		DefaultMaxChars:    cfg.Behavior.DMMaxChars,
		HistoryLimit:       cfg.Engine.Session.FetchLimit,
		RetrieveN:          8,
		LessonLimit:        4,
		MemoryBudgetTokens: cfg.Memory.ContextBudgetTokens,
		RetrievalWeights: store.RetrievalWeights{
			RRFK: cfg.Memory.Retrieval.RRFK, FTSWeight: cfg.Memory.Retrieval.FTSWeight,
			VecWeight: cfg.Memory.Retrieval.VecWeight, RecencyWeight: cfg.Memory.Retrieval.RecencyWeight,
			HalfLifeDays: cfg.Memory.Decay.HalfLifeDays,
		},

		GlobalLimiter: primitives.NewTokenBucket(primitives.TokenBucketConfig{
			Capacity: cfg.Engine.Limiter.Capacity, RefillPerSecond: cfg.Engine.Limiter.RefillPerSecond,
		}),
		ChatLimiter: primitives.NewPerKeyRateLimiter[string](primitives.PerKeyRateLimiterConfig{
			Capacity: cfg.Engine.PerChatLimiter.Capacity, RefillPerSecond: cfg.Engine.PerChatLimiter.RefillPerSecond,
			StaleAfter:    time.Duration(cfg.Engine.PerChatLimiter.StaleAfterMs) * time.Millisecond,
			SweepInterval: cfg.Engine.PerChatLimiter.SweepInterval,
		}),

		MaxRegens: cfg.Engine.Generation.MaxRegens,
	})

	return New(Deps{
		Config:   cfg,
		Bus:      bus.NewMessageBus(256),
		Engine:   engine,
		Stores:   st,
		Adapters: adapters,
		Sleep:    sleep,
	})
}
