package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/extsandbox/internal/version"
)

// versionCmd implements the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of extsandbox",
	Run: func(cmd *cobra.Command, _ []string) {
		info := version.Get()
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "extsandbox version %s\n", info.Full())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
