package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/friendbot/internal/backend"
	"github.com/nextlevelbuilder/friendbot/internal/channels"
	"github.com/nextlevelbuilder/friendbot/internal/channels/cli"
	"github.com/nextlevelbuilder/friendbot/internal/config"
	"github.com/nextlevelbuilder/friendbot/internal/gateway"
	"github.com/nextlevelbuilder/friendbot/internal/store"
	"github.com/nextlevelbuilder/friendbot/internal/store/sqlite"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the friendbot gateway (turn engine, proactive heartbeat, transport adapters)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Model.Provider.APIKey == "" {
		slog.Error("no model provider API key configured", "hint", "set FRIENDBOT_ANTHROPIC_API_KEY or add model.provider.apiKey to "+cfgPath)
		os.Exit(1)
	}

	backendImpl, err := buildBackend(cfg)
	if err != nil {
		slog.Error("failed to build model backend", "error", err)
		os.Exit(1)
	}

	dataDir := config.ExpandHome(cfg.Paths.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlite.Open(ctx, filepath.Join(dataDir, "friendbot.db"))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	stores := store.Stores{
		Sessions:  sqlite.NewSessionStore(db),
		Memory:    sqlite.NewMemoryStore(db),
		Feedback:  sqlite.NewFeedbackStore(db),
		Proactive: sqlite.NewProactiveStore(db),
	}

	adapters := map[string]channels.TransportAdapter{}
	if cfg.Channels.CLI.Enabled {
		adapters["cli"] = cli.NewAdapter(os.Stdin, os.Stdout)
	}

	srv := gateway.BuildFromConfig(cfg, backendImpl, stores, adapters)

	watcher, err := config.NewWatcher(cfgPath, cfg)
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	slog.Info("friendbot gateway starting",
		"version", Version,
		"provider", cfg.Model.Provider.Kind,
		"model", cfg.Model.Models.Default,
		"channels", adapterNames(adapters),
		"proactive", cfg.Proactive.Enabled,
	)

	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func adapterNames(adapters map[string]channels.TransportAdapter) []string {
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	return names
}

// buildBackend selects the LLMBackend implementation per model.provider.kind,
// per spec §6's ConfigLoader contract.
func buildBackend(cfg *config.Config) (backend.LLMBackend, error) {
	switch cfg.Model.Provider.Kind {
	case "", "anthropic":
		return backend.NewAnthropicBackend(cfg.Model.Provider.APIKey, cfg.Model.Models.Default, 3), nil
	case "openai-compatible", "mpp":
		return backend.NewOpenAIBackend(cfg.Model.Provider.APIKey, cfg.Model.Provider.APIBase, cfg.Model.Models.Default, 3), nil
	case "claude-code":
		return backend.NewClaudeCodeBackend(backend.DefaultTimeoutConfig(), cfg.Model.Models.Default), nil
	case "codex-cli":
		return backend.NewCodexBackend(backend.DefaultTimeoutConfig(), cfg.Model.Models.Default), nil
	default:
		return nil, fmt.Errorf("unknown model provider kind %q", cfg.Model.Provider.Kind)
	}
}
