// feedwatch streams market ticks from a WebSocket feed, optionally recording
// them to TimescaleDB, and can run a local mock feed to test against.
//
// Usage:
//
//	feedwatch watch --config configs/feedwatch.yaml
//	feedwatch mock
//	feedwatch version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/marketfeed/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "feedwatch",
		Short: "Resilient market data feed client",
		Long: `feedwatch keeps a WebSocket connection to a market data feed alive,
resubscribes after every reconnect and prints or records the ticks it
receives.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (built-in defaults when empty)")

	rootCmd.AddCommand(
		watchCmd(&configPath),
		mockCmd(&configPath),
		versionCmd(),
	)

	return rootCmd
}

// loadConfig reads path, or starts from defaults when path is empty. The
// result is not validated so callers can apply flag overrides first.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadWithDefaults(path)
}
