package cmd

import (
	"fmt"
	"os"

	"agentwatch/internal/config"

	"github.com/spf13/cobra"
)

var flagSyncReset bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rebuild the session cache from scratch",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&flagSyncReset, "reset", false, "Delete the cache database before reparsing")
	rootCmd.AddCommand(syncCmd)
}

func runSync(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if flagSyncReset {
		path := cfg.CachePath()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove cache: %w", err)
		}
		fmt.Printf("Removed %s\n", path)
	}

	// A fresh or emptied database has no tracked files, so discovery
	// reparses everything and write-back repopulates it.
	eng, err := newEngine()
	if err != nil {
		return err
	}
	eng.RefreshCache()

	opts, err := discoverOptions()
	if err != nil {
		return err
	}
	sessions := eng.Discover(opts)

	failed := 0
	for _, s := range sessions {
		if s.Error != "" {
			failed++
		}
	}

	fmt.Printf("Synced %d sessions", len(sessions))
	if failed > 0 {
		fmt.Printf(" (%d failed)", failed)
	}
	fmt.Println()
	return nil
}
