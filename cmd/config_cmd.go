// Package cmd implements the agentwatch CLI commands.
package cmd

import (
	"fmt"

	"agentwatch/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("Config file: %s\n", config.ConfigPath())
	if config.Exists() {
		fmt.Println("Status: loaded")
	} else {
		fmt.Println("Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("[General]")
	fmt.Printf("  Max age:           %dh\n", cfg.General.MaxAgeHours)
	fmt.Printf("  Max file size:     %dMB\n", cfg.General.MaxFileSizeMB)
	fmt.Printf("  Poll interval:     %ds\n", cfg.General.PollIntervalSecs)
	fmt.Printf("  Include subagents: %v\n", cfg.General.IncludeSubagents)
	fmt.Println()

	fmt.Println("[Sources]")
	fmt.Printf("  Claude: %s\n", cfg.Sources.ClaudeRoot())
	fmt.Printf("  Codex:  %s\n", cfg.Sources.CodexRoot())
	fmt.Printf("  Gemini: %s\n", cfg.Sources.GeminiRoot())
	fmt.Println()

	fmt.Println("[Status]")
	fmt.Printf("  Active window: %s\n", cfg.Status.ActiveWindow())
	fmt.Printf("  Crash window:  %s\n", cfg.Status.CrashWindow())
	fmt.Printf("  Orphan window: %s\n", cfg.Status.OrphanWindow())
	fmt.Println()

	fmt.Println("[Cache]")
	fmt.Printf("  Enabled: %v\n", cfg.Cache.Enabled)
	fmt.Printf("  Path:    %s\n", cfg.CachePath())

	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	if config.Exists() {
		return fmt.Errorf("config already exists at %s", config.ConfigPath())
	}
	if err := config.Save(config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", config.ConfigPath())
	return nil
}
