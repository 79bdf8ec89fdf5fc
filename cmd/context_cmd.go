package cmd

import (
	"fmt"
	"sort"

	"agentwatch/internal/cli"

	"github.com/spf13/cobra"
)

var contextCmd = &cobra.Command{
	Use:   "context <session-id>",
	Short: "Show a session's working context: files, tools, decisions",
	Args:  cobra.ExactArgs(1),
	RunE:  runContext,
}

var healthCmd = &cobra.Command{
	Use:   "health <session-id>",
	Short: "Show a session's activity counters",
	Args:  cobra.ExactArgs(1),
	RunE:  runHealth,
}

var (
	flagSnapshotDocs bool

	snapshotCmd = &cobra.Command{
		Use:   "snapshot <session-id>",
		Short: "Export a context-handoff snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshot,
	}
)

func init() {
	snapshotCmd.Flags().BoolVar(&flagSnapshotDocs, "docs", false, "Bundle planning doc excerpts from the project directory")
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runContext(_ *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	summary, err := eng.Context(args[0])
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(summary)
	}

	fmt.Printf("Session %s\n\n", cli.ShortID(summary.SessionID))

	fmt.Printf("Files read (%d):\n", len(summary.FilesRead))
	for _, f := range summary.FilesRead {
		fmt.Printf("  %s\n", f)
	}
	fmt.Printf("\nFiles modified (%d):\n", len(summary.FilesModified))
	for _, f := range summary.FilesModified {
		fmt.Printf("  %s\n", f)
	}

	if len(summary.ToolCounts) > 0 {
		fmt.Printf("\nTool usage:\n")
		tools := make([]string, 0, len(summary.ToolCounts))
		for t := range summary.ToolCounts {
			tools = append(tools, t)
		}
		sort.Strings(tools)
		for _, t := range tools {
			fmt.Printf("  %-14s %d\n", t, summary.ToolCounts[t])
		}
	}

	if len(summary.Decisions) > 0 {
		fmt.Printf("\nDecisions:\n")
		for _, d := range summary.Decisions {
			fmt.Printf("  - %s\n", cli.Truncate(d, 100))
		}
	}
	return nil
}

func runHealth(_ *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	summary, err := eng.Health(args[0])
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(summary)
	}

	fmt.Printf("Session %s (%s)\n\n", cli.ShortID(summary.SessionID), summary.Status)
	fmt.Printf("  Tool calls:           %d\n", summary.ToolCalls)
	fmt.Printf("  High-risk calls:      %d\n", summary.HighRiskCalls)
	fmt.Printf("  Errors:               %d\n", summary.ErrorCount)
	fmt.Printf("  Thinking blocks:      %d\n", summary.ThinkingBlocks)
	fmt.Printf("  User messages:        %d\n", summary.UserMessages)
	fmt.Printf("  Assistant responses:  %d\n", summary.AssistantResponses)
	if !summary.LastEventAt.IsZero() {
		fmt.Printf("  Last event:           %s\n", summary.LastEventAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSnapshot(_ *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	snap, err := eng.ExportSnapshot(args[0], flagSnapshotDocs)
	if err != nil {
		return err
	}
	return printJSON(snap)
}
