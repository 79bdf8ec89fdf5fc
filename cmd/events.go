package cmd

import (
	"fmt"
	"os"

	"agentwatch/internal/cli"
	"agentwatch/internal/event"

	"github.com/spf13/cobra"
)

var (
	flagEventType string
	flagRefresh   bool
	flagLimit     int
)

var eventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Show the normalized event timeline for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().StringVarP(&flagEventType, "type", "t", "", "Filter to one event type (e.g. tool_call, thinking)")
	eventsCmd.Flags().BoolVar(&flagRefresh, "refresh", false, "Force a reparse instead of serving the memoized timeline")
	eventsCmd.Flags().IntVarP(&flagLimit, "limit", "l", 0, "Show only the last N events")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(_ *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}

	events, err := eng.Events(args[0], flagRefresh)
	if err != nil {
		return err
	}

	if flagEventType != "" {
		want := event.Type(flagEventType)
		filtered := events[:0:0]
		for _, ev := range events {
			if ev.Type == want {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	if flagLimit > 0 && len(events) > flagLimit {
		events = events[len(events)-flagLimit:]
	}

	if flagJSON {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("No events.")
		return nil
	}

	cli.RenderEvents(os.Stdout, events)
	return nil
}
