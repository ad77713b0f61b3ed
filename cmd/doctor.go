package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/friendbot/internal/config"
	"github.com/nextlevelbuilder/friendbot/internal/store/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("friendbot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using built-in defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Model provider:")
	fmt.Printf("    %-12s %s\n", "Kind:", cfg.Model.Provider.Kind)
	fmt.Printf("    %-12s %s\n", "Default:", cfg.Model.Models.Default)
	fmt.Printf("    %-12s %s\n", "Fast:", cfg.Model.Models.Fast)
	checkProvider("API key", cfg.Model.Provider.APIKey)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("CLI", cfg.Channels.CLI.Enabled, true)

	fmt.Println()
	fmt.Println("  Proactive:")
	status := "disabled"
	if cfg.Proactive.Enabled {
		status = fmt.Sprintf("enabled (heartbeat every %dms)", cfg.Proactive.HeartbeatIntervalMs)
	}
	fmt.Printf("    %-12s %s\n", "Status:", status)

	fmt.Println()
	fmt.Println("  Data store:")
	dataDir := config.ExpandHome(cfg.Paths.DataDir)
	dbPath := filepath.Join(dataDir, "friendbot.db")
	db, dbErr := sqlite.Open(context.Background(), dbPath)
	if dbErr != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", dbErr)
	} else {
		fmt.Printf("    %-12s %s (migrations applied)\n", "Path:", dbPath)
		db.Close()
	}

	fmt.Println()
	fmt.Println("  External tools:")
	checkBinary("whisper")
	checkBinary("curl")

	fmt.Println()
	fmt.Println("  Workspace:")
	for _, dir := range []string{cfg.Paths.ProjectDir, cfg.Paths.IdentityDir, cfg.Paths.SkillsDir, cfg.Paths.DataDir} {
		expanded := config.ExpandHome(dir)
		status := "OK"
		if _, err := os.Stat(expanded); err != nil {
			status = "NOT FOUND"
		}
		fmt.Printf("    %-24s %s\n", expanded+":", status)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name, apiKey string) {
	if apiKey != "" {
		masked := apiKey
		if len(apiKey) > 8 {
			masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
		}
		fmt.Printf("    %-12s %s\n", name+":", masked)
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
