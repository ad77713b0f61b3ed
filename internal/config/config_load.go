package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults for every recognized key
// in spec §6's ConfigLoader contract.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider: ModelProviderConfig{Kind: "anthropic"},
			Models:   ModelNamesConfig{Default: "claude-sonnet-4-5-20250929", Fast: "claude-3-5-haiku-20241022"},
		},
		Engine: EngineConfig{
			Limiter:        TokenBucketConfig{Capacity: 20, RefillPerSecond: 0.5},
			PerChatLimiter: PerChatLimiterConfig{Capacity: 5, RefillPerSecond: 0.1, StaleAfterMs: 30 * 60 * 1000, SweepInterval: 256},
			Session:        SessionConfig{FetchLimit: 40},
			Context: ContextConfig{
				MaxTokensDefault:        6000,
				IdentityPromptMaxTokens: 1600,
				PromptSkillsMaxTokens:   600,
			},
			Generation: GenerationConfig{ReactiveMaxSteps: 6, ProactiveMaxSteps: 3, MaxRegens: 1},
		},
		Behavior: BehaviorConfig{
			Sleep:         SleepConfig{Enabled: false, Timezone: "UTC", StartLocal: "23:00", EndLocal: "07:00"},
			GroupMaxChars: 300,
			DMMaxChars:    600,
			MinDelayMs:    400,
			MaxDelayMs:    2500,
			DebounceMs:    1500,
		},
		Proactive: ProactiveConfig{
			Enabled:             false,
			HeartbeatIntervalMs: 5 * 60 * 1000,
			DM:                  ProactiveCaps{MaxPerDay: 3},
			Group:               ProactiveCaps{MaxPerDay: 1},
		},
		Memory: MemoryConfig{
			Enabled:             true,
			ContextBudgetTokens: 900,
			Capsule:             CapsuleConfig{MaxChars: 600},
			Decay:               DecayConfig{HalfLifeDays: 30},
			Retrieval:           RetrievalConfig{RRFK: 60, FTSWeight: 0.6, VecWeight: 0, RecencyWeight: 0.2},
			Feedback:            FeedbackConfig{FinalizeAfterMs: 6 * 60 * 60 * 1000, SuccessThreshold: 0.3, FailureThreshold: -0.3},
			Consolidation:       ConsolidationConfig{Enabled: false, IntervalMs: 24 * 60 * 60 * 1000},
		},
		Tools: ToolsConfig{
			Restricted: ToolTierPolicy{EnabledForOperator: true},
			Dangerous:  ToolTierPolicy{EnabledForOperator: true},
		},
		Paths: PathsConfig{
			ProjectDir:  "~/.friendbot",
			IdentityDir: "~/.friendbot/identity",
			SkillsDir:   "~/.friendbot/skills",
			DataDir:     "~/.friendbot/data",
		},
		Channels: ChannelsConfig{CLI: CLIChannelConfig{Enabled: true}},
	}
}

// Load reads config from a JSON5 file, falling back to defaults if the file
// doesn't exist, then overlays secret env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secret/deploy-specific env vars. These never
// round-trip through the config file.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("FRIENDBOT_ANTHROPIC_API_KEY", &c.Model.Provider.APIKey)
	envStr("FRIENDBOT_ANTHROPIC_BASE_URL", &c.Model.Provider.APIBase)
	envStr("FRIENDBOT_MODEL_DEFAULT", &c.Model.Models.Default)
	envStr("FRIENDBOT_MODEL_FAST", &c.Model.Models.Fast)
	envStr("FRIENDBOT_IDENTITY_DIR", &c.Paths.IdentityDir)
	envStr("FRIENDBOT_DATA_DIR", &c.Paths.DataDir)

	if v := os.Getenv("FRIENDBOT_PROACTIVE_ENABLED"); v != "" {
		c.Proactive.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FRIENDBOT_HEARTBEAT_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Proactive.HeartbeatIntervalMs = n
		}
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	snap := cfg.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
