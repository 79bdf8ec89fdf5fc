package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"agentwatch/internal/cli"
	"agentwatch/internal/config"
	"agentwatch/internal/engine"
	"agentwatch/internal/event"
	"agentwatch/internal/store"

	"github.com/spf13/cobra"
)

var (
	flagMaxAgeHours int
	flagSource      string
	flagNoCache     bool
	flagNoSubagents bool
	flagNoProcs     bool
	flagJSON        bool
)

var rootCmd = &cobra.Command{
	Use:   "agentwatch",
	Short: "Monitor AI coding assistant sessions",
	Long:  "Discover, inspect, and live-follow Claude Code, Codex CLI, and Gemini CLI sessions on this machine.",
	RunE:  runSessions,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&flagMaxAgeHours, "max-age", "n", 0, "Ignore transcripts older than this many hours (0 = config default)")
	rootCmd.PersistentFlags().StringVarP(&flagSource, "source", "s", "", "Limit to one source: claude, codex, or gemini")
	rootCmd.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "Skip SQLite cache, reparse everything")
	rootCmd.PersistentFlags().BoolVar(&flagNoSubagents, "no-subagents", false, "Exclude subagent sessions")
	rootCmd.PersistentFlags().BoolVar(&flagNoProcs, "no-procs", false, "Skip live process detection")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit JSON instead of tables")
}

// newEngine builds the shared engine every command loads through.
func newEngine() (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flagNoSubagents {
		cfg.General.IncludeSubagents = false
	}

	opts := []engine.Option{}
	if !flagNoCache && cfg.Cache.Enabled {
		cache, err := store.Open(cfg.CachePath())
		if err == nil {
			opts = append(opts, engine.WithCache(cache))
		}
		// Cache open failure degrades to a full parse.
	}
	if cli.IsTerminal(os.Stderr) {
		opts = append(opts, engine.WithProgress(stderrProgress))
	}

	return engine.New(cfg, opts...), nil
}

// stderrProgress overwrites one status line while cold parses run and
// clears it when the batch completes.
func stderrProgress(done, total int) {
	if total < 10 {
		return
	}
	if done == total {
		fmt.Fprintf(os.Stderr, "\r%*s\r", 40, "")
		return
	}
	fmt.Fprintf(os.Stderr, "\rParsing transcripts... %d/%d", done, total)
}

// discoverOptions translates the shared flags into a discovery request.
func discoverOptions() (engine.DiscoverOptions, error) {
	opts := engine.DiscoverOptions{
		MaxAge:               time.Duration(flagMaxAgeHours) * time.Hour,
		SkipProcessDetection: flagNoProcs,
	}
	if flagSource != "" {
		src, ok := event.ParseSource(flagSource)
		if !ok {
			return opts, fmt.Errorf("unknown source %q (want claude, codex, or gemini)", flagSource)
		}
		opts.Sources = []event.Source{src}
	}
	return opts, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSessions(_ *cobra.Command, _ []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	opts, err := discoverOptions()
	if err != nil {
		return err
	}

	sessions := eng.Discover(opts)

	if flagJSON {
		return printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	cli.RenderSessions(os.Stdout, sessions, time.Now())
	return nil
}
