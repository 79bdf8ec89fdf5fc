package cmd

import (
	"fmt"
	"os"

	"agentwatch/internal/cli"
	"agentwatch/internal/stream"

	"github.com/spf13/cobra"
)

var (
	flagHistoryOffset int
	flagHistoryBatch  int
)

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Page a session's history backwards from the newest event",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryOffset, "offset", 0, "Events already consumed from the tail")
	historyCmd.Flags().IntVar(&flagHistoryBatch, "batch", stream.DefaultBackfillBatch, "Events per page")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(_ *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}

	tracker := stream.NewTracker(eng)
	page, err := tracker.Backfill(args[0], flagHistoryOffset, flagHistoryBatch)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(page)
	}
	if len(page.Events) == 0 {
		fmt.Println("No more history.")
		return nil
	}

	cli.RenderEvents(os.Stdout, page.Events)
	if page.HasMore {
		fmt.Printf("\nMore history available: --offset %d\n", page.NextOffset)
	}
	return nil
}
