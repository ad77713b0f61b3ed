// Package config loads and hot-reloads the friendbot runtime's
// configuration: model/provider selection, turn-engine limiter and context
// budgets, behavior knobs, proactive caps, memory retrieval weights, tool
// policy, and filesystem paths — the recognized key surface of spec §6's
// ConfigLoader collaborator contract.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123, 456] in JSON, matching
// the teacher's tolerance for numeric Telegram/Discord IDs written as bare
// numbers in a hand-edited config file.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the friendbot gateway.
type Config struct {
	Model     ModelConfig     `json:"model"`
	Engine    EngineConfig    `json:"engine"`
	Behavior  BehaviorConfig  `json:"behavior"`
	Proactive ProactiveConfig `json:"proactive"`
	Memory    MemoryConfig    `json:"memory"`
	Tools     ToolsConfig     `json:"tools"`
	Paths     PathsConfig     `json:"paths"`
	Channels  ChannelsConfig  `json:"channels"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// ModelConfig selects the LLM provider/model pair, per spec §6
// "model.provider.kind" / "model.models.{default,fast}".
type ModelConfig struct {
	Provider ModelProviderConfig `json:"provider"`
	Models   ModelNamesConfig    `json:"models"`
}

// ModelProviderConfig names the provider family. Kind is one of
// anthropic | openai-compatible | mpp | claude-code | codex-cli.
type ModelProviderConfig struct {
	Kind    string `json:"kind"`
	APIKey  string `json:"-"` // secret: env only, never persisted
	APIBase string `json:"apiBase,omitempty"`
}

// ModelNamesConfig names the default (careful, slower) and fast
// (classification, behavior engine) model identifiers.
type ModelNamesConfig struct {
	Default string `json:"default"`
	Fast    string `json:"fast"`
}

// EngineConfig configures the turn engine's rate limiting, context budgets,
// and generation step limits.
type EngineConfig struct {
	Limiter        TokenBucketConfig    `json:"limiter"`
	PerChatLimiter PerChatLimiterConfig `json:"perChatLimiter"`
	Session        SessionConfig        `json:"session"`
	Context        ContextConfig        `json:"context"`
	Generation     GenerationConfig     `json:"generation"`
}

// TokenBucketConfig mirrors internal/primitives.TokenBucketConfig's JSON
// shape so the config layer doesn't need to import primitives directly.
type TokenBucketConfig struct {
	Capacity        float64 `json:"capacity"`
	RefillPerSecond float64 `json:"refillPerSecond"`
}

// PerChatLimiterConfig mirrors internal/primitives.PerKeyRateLimiterConfig.
type PerChatLimiterConfig struct {
	Capacity        float64 `json:"capacity"`
	RefillPerSecond float64 `json:"refillPerSecond"`
	StaleAfterMs    int64   `json:"staleAfterMs"`
	SweepInterval   int     `json:"sweepInterval"`
}

// SessionConfig bounds how many messages a context build fetches.
type SessionConfig struct {
	FetchLimit int `json:"fetchLimit"`
}

// ContextConfig bounds the token budgets the context builder composes
// within.
type ContextConfig struct {
	MaxTokensDefault        int `json:"maxTokensDefault"`
	IdentityPromptMaxTokens int `json:"identityPromptMaxTokens"`
	PromptSkillsMaxTokens   int `json:"promptSkillsMaxTokens"`
}

// GenerationConfig bounds the turn engine's generation loop.
type GenerationConfig struct {
	ReactiveMaxSteps  int `json:"reactiveMaxSteps"`
	ProactiveMaxSteps int `json:"proactiveMaxSteps"`
	MaxRegens         int `json:"maxRegens"`
}

// BehaviorConfig configures the sleep window and reply-shape limits the
// behavior engine and turn engine enforce.
type BehaviorConfig struct {
	Sleep        SleepConfig `json:"sleep"`
	GroupMaxChars int        `json:"groupMaxChars"`
	DMMaxChars    int        `json:"dmMaxChars"`
	MinDelayMs    int        `json:"minDelayMs"`
	MaxDelayMs    int        `json:"maxDelayMs"`
	DebounceMs    int        `json:"debounceMs"`
}

// SleepConfig defines the local-time do-not-disturb window. Wrap-around
// windows (e.g. 23:00-07:00) are supported by behavior.SleepWindow.InWindow.
type SleepConfig struct {
	Enabled   bool   `json:"enabled"`
	Timezone  string `json:"timezone"`
	StartLocal string `json:"startLocal"`
	EndLocal   string `json:"endLocal"`
}

// ProactiveConfig configures the proactive dispatcher's heartbeat and
// per-surface caps.
type ProactiveConfig struct {
	Enabled             bool               `json:"enabled"`
	HeartbeatIntervalMs int64              `json:"heartbeatIntervalMs"`
	DM                  ProactiveCaps      `json:"dm"`
	Group               ProactiveCaps      `json:"group"`
}

// ProactiveCaps caps proactive sends per surface kind.
type ProactiveCaps struct {
	MaxPerDay int `json:"maxPerDay"`
}

// MemoryConfig configures the memory store's retrieval weights and
// feedback finalization thresholds.
type MemoryConfig struct {
	Enabled            bool                  `json:"enabled"`
	ContextBudgetTokens int                  `json:"contextBudgetTokens"`
	Capsule            CapsuleConfig         `json:"capsule"`
	Decay              DecayConfig           `json:"decay"`
	Retrieval          RetrievalConfig       `json:"retrieval"`
	Feedback           FeedbackConfig        `json:"feedback"`
	Consolidation      ConsolidationConfig   `json:"consolidation"`
}

// CapsuleConfig bounds the person-capsule text size the context builder
// injects.
type CapsuleConfig struct {
	MaxChars int `json:"maxChars"`
}

// DecayConfig configures relationship-score decay over inactivity.
type DecayConfig struct {
	HalfLifeDays float64 `json:"halfLifeDays"`
}

// RetrievalConfig mirrors internal/store.RetrievalWeights's JSON shape.
type RetrievalConfig struct {
	RRFK          float64 `json:"rrfK"`
	FTSWeight     float64 `json:"ftsWeight"`
	VecWeight     float64 `json:"vecWeight"`
	RecencyWeight float64 `json:"recencyWeight"`
}

// FeedbackConfig configures the feedback finalization pass.
type FeedbackConfig struct {
	FinalizeAfterMs  int64   `json:"finalizeAfterMs"`
	SuccessThreshold float64 `json:"successThreshold"`
	FailureThreshold float64 `json:"failureThreshold"`
}

// ConsolidationConfig configures periodic memory consolidation (fact/
// episode merge and pruning); off when Enabled is false.
type ConsolidationConfig struct {
	Enabled      bool  `json:"enabled"`
	IntervalMs   int64 `json:"intervalMs"`
}

// ToolsConfig configures tier gating for restricted/dangerous tools.
type ToolsConfig struct {
	Restricted ToolTierPolicy `json:"restricted"`
	Dangerous  ToolTierPolicy `json:"dangerous"`
}

// ToolTierPolicy gates a tool tier: operators may always use it when
// EnabledForOperator; AllowAll opens it to everyone; Allowlist scopes it
// to specific tool names when neither blanket flag is set.
type ToolTierPolicy struct {
	EnabledForOperator bool                `json:"enabledForOperator"`
	AllowAll           bool                `json:"allowAll,omitempty"`
	Allowlist          FlexibleStringSlice `json:"allowlist,omitempty"`
}

// PathsConfig names the filesystem locations the runtime reads from.
type PathsConfig struct {
	ProjectDir  string `json:"projectDir"`
	IdentityDir string `json:"identityDir"`
	SkillsDir   string `json:"skillsDir"`
	DataDir     string `json:"dataDir"`
}

// ChannelsConfig configures the one in-scope transport (the CLI adapter)
// plus the allowlist/policy shape any TransportAdapter implementation can
// reuse. Platform-specific transports (Telegram, Discord, Signal wire
// protocols) are the named Non-goal "channel transport I/O" from spec §1
// and are not configured here — a production deployment's own adapter
// carries its own config.
type ChannelsConfig struct {
	CLI CLIChannelConfig `json:"cli"`
}

// CLIChannelConfig configures the in-process operator console adapter.
type CLIChannelConfig struct {
	Enabled bool `json:"enabled"`
}

// TelemetryConfig configures OpenTelemetry span export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the fsnotify-driven hot-reload loop to atomically swap in a newly
// loaded config without replacing the *Config pointer callers hold.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Model = src.Model
	c.Engine = src.Engine
	c.Behavior = src.Behavior
	c.Proactive = src.Proactive
	c.Memory = src.Memory
	c.Tools = src.Tools
	c.Paths = src.Paths
	c.Channels = src.Channels
	c.Telemetry = src.Telemetry
}

// Snapshot returns a copy of c's data fields, safe to read without holding
// c's lock for the duration of a long operation.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Model:     c.Model,
		Engine:    c.Engine,
		Behavior:  c.Behavior,
		Proactive: c.Proactive,
		Memory:    c.Memory,
		Tools:     c.Tools,
		Paths:     c.Paths,
		Channels:  c.Channels,
		Telemetry: c.Telemetry,
	}
}
