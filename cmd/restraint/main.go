package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	blackoutFlags := &BlackoutFlags{}
	scheduleFlags := &ScheduleFlags{}
	blockFlags := &BlockFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(globalFlags),
		createBlackoutCommand(globalFlags, blackoutFlags),
		createBreakCommand(globalFlags, blackoutFlags),
		createAllowlistCommand(globalFlags),
		createScheduleCommand(globalFlags, scheduleFlags),
		createBlockCommand(globalFlags, blockFlags),
		createUninstallCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "restraint",
		Short: "Self-imposed blocking and time limits for distracting platforms",
		Long: `Restraint keeps distracting platforms blocked at the hosts-file and
firewall level, meters daily usage, and runs scheduled or on-demand
blackouts that survive restarts.

Examples:
  restraint serve                              # Start the enforcement daemon
  restraint status                             # Show budgets, blocks and blackout state
  restraint blackout --duration 60m --locked   # One hour, no way out
  restraint block add --preset reddit          # Permanently block a platform`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:8375)")
	return root
}
