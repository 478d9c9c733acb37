package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/restraint/internal/config"
	"github.com/loykin/restraint/internal/daemon"
	"github.com/loykin/restraint/internal/logger"
	"github.com/loykin/restraint/internal/metrics"
	"github.com/loykin/restraint/internal/server"
)

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the restraint daemon",
		Long: `Start the enforcement daemon. It applies the permanent blocks and the
DNS firewall lock, meters platform usage, runs schedules, and serves
the control API. Must run elevated so the hosts file is writable.

Examples:
  restraint serve                   # built-in defaults (no platforms)
  restraint serve config.toml
  restraint serve --config config.toml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServeCommand(configPath, debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "log at debug level")
	return cmd
}

func runServeCommand(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logCfg := logger.Config{
		Dir:        cfg.Log.Dir,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Debug:      debug,
	}
	log := logger.New(logCfg)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	// API requests go to a rotating access log when a log dir is set.
	var accessLog io.Writer
	if logCfg.Dir != "" {
		w := logCfg.FileWriter("access.log")
		defer func() { _ = w.Close() }()
		accessLog = w
	}

	// NewServer serves in its own goroutine.
	srv, err := server.NewServer(cfg.ListenAddr, "", d, accessLog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := d.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api server shutdown", "error", err)
	}
	return runErr
}
