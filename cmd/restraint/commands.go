package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/restraint/internal/config"
	"github.com/loykin/restraint/internal/daemon"
	"github.com/loykin/restraint/internal/logger"
	pkgclient "github.com/loykin/restraint/pkg/client"
)

func reachableClient(flags *GlobalFlags) (*APIClient, error) {
	client := NewAPIClient(flags.APIUrl)
	if !client.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'restraint serve'", client.BaseURL())
	}
	return client, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// createStatusCommand creates the status subcommand.
func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show budgets, blocks and blackout state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			st, err := client.Status()
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
}

// createBlackoutCommand creates the blackout subcommand.
func createBlackoutCommand(globalFlags *GlobalFlags, flags *BlackoutFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blackout",
		Short: "Start a blackout: every platform blocked for a fixed duration",
		Long: `Start a blackout session. All tracked platforms are blocked and their
processes are killed until the duration elapses. A locked blackout
cannot be stopped early, not even by restarting the machine.

Examples:
  restraint blackout --duration 90m
  restraint blackout --duration 2h --locked
  restraint blackout stop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			if err := client.StartBlackout(flags.Duration, flags.Locked, false); err != nil {
				return err
			}
			fmt.Printf("Blackout started for %s (locked: %v)\n", flags.Duration, flags.Locked)
			return nil
		},
	}
	cmd.Flags().DurationVar(&flags.Duration, "duration", 0, "blackout length, e.g. 90m or 2h (required)")
	cmd.Flags().BoolVar(&flags.Locked, "locked", false, "refuse early stop")
	if err := cmd.MarkFlagRequired("duration"); err != nil {
		panic(err)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the running blackout (refused when locked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			if err := client.StopBlackout(); err != nil {
				return err
			}
			fmt.Println("Blackout stopped")
			return nil
		},
	})
	return cmd
}

// createBreakCommand creates the break subcommand: a blackout that is
// always stoppable.
func createBreakCommand(globalFlags *GlobalFlags, flags *BlackoutFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "break",
		Short: "Take a short, always-stoppable blackout",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			if err := client.StartBlackout(flags.Duration, false, true); err != nil {
				return err
			}
			fmt.Printf("Break started for %s\n", flags.Duration)
			return nil
		},
	}
	cmd.Flags().DurationVar(&flags.Duration, "duration", 0, "break length, e.g. 15m (required)")
	if err := cmd.MarkFlagRequired("duration"); err != nil {
		panic(err)
	}
	return cmd
}

// createAllowlistCommand creates the allowlist on/off subcommands.
func createAllowlistCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Toggle allowlist-only networking",
		Long: `In allowlist mode all outbound traffic is blocked except the local
subnet and the domains listed under allowlist_domains in the config.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "on",
			Short: "Block everything except allowlisted domains",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := reachableClient(globalFlags)
				if err != nil {
					return err
				}
				return client.SetAllowlist(true)
			},
		},
		&cobra.Command{
			Use:   "off",
			Short: "Restore normal networking",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := reachableClient(globalFlags)
				if err != nil {
					return err
				}
				return client.SetAllowlist(false)
			},
		},
	)
	return cmd
}

// createScheduleCommand creates the schedule subcommand tree.
func createScheduleCommand(globalFlags *GlobalFlags, flags *ScheduleFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring blackout windows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			schedules, err := client.Schedules()
			if err != nil {
				return err
			}
			printJSON(schedules)
			return nil
		},
	})

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a recurring blackout window",
		Long: `Add a schedule. Days use 0=Sunday through 6=Saturday; times are 24h
HH:MM local time and must not cross midnight.

Examples:
  restraint schedule add --name evening --days 1,2,3,4,5 --start 20:00 --end 22:00
  restraint schedule add --name weekend --days 0,6 --start 09:00 --end 12:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			return client.AddSchedule(pkgclient.Schedule{
				Name:    flags.Name,
				Days:    flags.Days,
				Start:   flags.Start,
				End:     flags.End,
				Enabled: flags.Enabled,
			})
		},
	}
	add.Flags().StringVar(&flags.Name, "name", "", "schedule name (required)")
	add.Flags().IntSliceVar(&flags.Days, "days", nil, "weekdays, 0=Sunday..6=Saturday (required)")
	add.Flags().StringVar(&flags.Start, "start", "", "window start, HH:MM (required)")
	add.Flags().StringVar(&flags.End, "end", "", "window end, HH:MM (required)")
	add.Flags().BoolVar(&flags.Enabled, "enabled", true, "create enabled")
	for _, f := range []string{"name", "days", "start", "end"} {
		if err := add.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			return client.RemoveSchedule(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			return client.SetScheduleEnabled(args[0], true)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			return client.SetScheduleEnabled(args[0], false)
		},
	})
	return cmd
}

// createBlockCommand creates the block subcommand tree for the
// permanent block list.
func createBlockCommand(globalFlags *GlobalFlags, flags *BlockFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Manage the permanent block list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List blocked domains and available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			domains, presets, err := client.Blocks()
			if err != nil {
				return err
			}
			printJSON(map[string]any{"domains": domains, "presets": presets})
			return nil
		},
	})

	add := &cobra.Command{
		Use:   "add [domains...]",
		Short: "Add domains or a preset to the permanent block list",
		Long: `Add domains to the permanent block list. Takes effect immediately.

Examples:
  restraint block add news.example www.news.example
  restraint block add --preset tiktok`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && flags.Preset == "" {
				return fmt.Errorf("domains or --preset required")
			}
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			n, err := client.AddBlocks(args, flags.Preset)
			if err != nil {
				return err
			}
			fmt.Printf("Blocked %d new domain(s)\n", n)
			return nil
		},
	}
	add.Flags().StringVar(&flags.Preset, "preset", "", "preset name (twitter, tiktok, reddit, facebook)")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <domains...>",
		Short: "Remove domains from the permanent block list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reachableClient(globalFlags)
			if err != nil {
				return err
			}
			n, err := client.RemoveBlocks(args)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d domain(s)\n", n)
			return nil
		},
	})
	return cmd
}

// createUninstallCommand creates the uninstall subcommand. It operates
// directly on the system and requires the daemon to be stopped.
func createUninstallCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove all blocks, firewall rules and state",
		Long: `Remove every enforcement artifact from the system: hosts-file regions,
firewall rules, and persisted state. The daemon must be stopped first;
a running daemon would restore the blocks within seconds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(globalFlags.ConfigPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			log := logger.New(logger.Config{})
			return daemon.Uninstall(cfg, log)
		},
	}
}
