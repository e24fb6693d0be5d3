package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/marketfeed/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedwatch %s\n", version.String())
		},
	}
}
