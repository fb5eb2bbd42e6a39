// Package cli wires the simulator's commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X trading-sim/internal/cli.Version=...".
var Version = "dev"

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trading-sim",
		Short:         "Leveraged paper-trading engine for crypto futures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newReplayCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
