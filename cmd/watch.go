package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentwatch/internal/cli"
	"agentwatch/internal/engine"
	"agentwatch/internal/event"
	"agentwatch/internal/stream"

	"github.com/spf13/cobra"
)

var flagWatchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Follow live sessions, printing new events as they arrive",
	Long:  "Follow one session, or all active and open sessions when no id is given. Filesystem notifications trigger immediate polls; a ticker covers sources that don't emit them.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&flagWatchInterval, "interval", 2*time.Second, "Fallback poll interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	opts, err := discoverOptions()
	if err != nil {
		return err
	}
	eng.Discover(opts)

	var only string
	if len(args) == 1 {
		only = args[0]
		if _, ok := eng.Session(only); !ok {
			return fmt.Errorf("unknown session %q", only)
		}
	}

	cfg := eng.Config()
	watcher, werr := stream.NewWatcher([]string{
		cfg.Sources.ClaudeRoot(),
		cfg.Sources.CodexRoot(),
		cfg.Sources.GeminiRoot(),
	})
	if werr == nil {
		defer func() { _ = watcher.Close() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracker := stream.NewTracker(eng)
	ticker := time.NewTicker(flagWatchInterval)
	defer ticker.Stop()

	// Rediscover on a slower cadence so new sessions get picked up.
	rescan := time.NewTicker(10 * flagWatchInterval)
	defer rescan.Stop()

	fmt.Fprintln(os.Stderr, "Watching for session activity. Ctrl-C to stop.")

	var changeCh <-chan string
	if werr == nil {
		changeCh = watcher.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changeCh:
			pollLive(eng, tracker, only)
		case <-ticker.C:
			pollLive(eng, tracker, only)
		case <-rescan.C:
			eng.Discover(opts)
		}
	}
}

// pollLive polls the watched sessions and prints whatever arrived.
func pollLive(eng *engine.Engine, tracker *stream.Tracker, only string) {
	for _, s := range eng.Sessions() {
		if only != "" && s.ID != only {
			continue
		}
		if only == "" && s.Status != event.StatusActive && s.Status != event.StatusOpen {
			continue
		}
		events, err := tracker.Poll(s.ID)
		if err != nil {
			continue
		}
		for _, ev := range events {
			printLiveEvent(s, ev)
		}
	}
}

func printLiveEvent(s event.Session, ev event.NormalizedEvent) {
	ts := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Type {
	case event.TypeToolCall:
		fmt.Printf("%s  %s  %-10s %s (%s)\n", ts, cli.ShortID(s.ID), ev.Type, ev.ToolName, ev.Risk)
	case event.TypeError:
		fmt.Printf("%s  %s  %-10s %s\n", ts, cli.ShortID(s.ID), ev.Type, cli.Truncate(ev.Content, 80))
	default:
		fmt.Printf("%s  %s  %-10s %s\n", ts, cli.ShortID(s.ID), ev.Type, cli.Truncate(ev.Content, 80))
	}
}
