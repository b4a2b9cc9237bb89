// Package commands implements the OpenClaw CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "openclaw",
		Short: "OpenClaw - bridge chat messages to a coding agent",
		Long: `OpenClaw bridges inbound chat messages to a long-running coding-agent
subprocess: each message becomes a supervised, queued, streaming invocation
whose output is reassembled into reply payloads.

Examples:
  openclaw run "summarize the failing tests"
  openclaw serve
  openclaw schedule list
  openclaw schedule add --every 30m --message "check CI status"`,
		Version: version,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newScheduleCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
