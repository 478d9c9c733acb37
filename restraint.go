package restraint

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/restraint/internal/config"
	"github.com/loykin/restraint/internal/daemon"
	"github.com/loykin/restraint/internal/history"
	"github.com/loykin/restraint/internal/logger"
	"github.com/loykin/restraint/internal/metrics"
	"github.com/loykin/restraint/internal/schedule"
	iapi "github.com/loykin/restraint/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Platform = cfg.Platform

type Schedule = schedule.Schedule

type Status = daemon.Status

type HistoryEvent = history.Event

type HistorySink = history.Sink

// Daemon is a thin facade over internal/daemon.Daemon.
// It provides a stable public API for embedding.

type Daemon struct{ inner *daemon.Daemon }

func New(c Config, log *slog.Logger) (*Daemon, error) {
	d, err := daemon.New(c, log)
	if err != nil {
		return nil, err
	}
	return &Daemon{inner: d}, nil
}

func (d *Daemon) Run(ctx context.Context) error { return d.inner.Run(ctx) }
func (d *Daemon) Status() Status                { return d.inner.Status() }

func (d *Daemon) StartBlackout(duration time.Duration, locked bool) error {
	return d.inner.StartBlackout(duration, locked)
}
func (d *Daemon) StartBreak(duration time.Duration) error { return d.inner.StartBreak(duration) }
func (d *Daemon) StopBlackout() error                     { return d.inner.StopBlackout() }

func (d *Daemon) EnableAllowlist() error  { return d.inner.EnableAllowlist() }
func (d *Daemon) DisableAllowlist() error { return d.inner.DisableAllowlist() }

func (d *Daemon) AddSchedule(s Schedule) error    { return d.inner.Scheduler().Add(s) }
func (d *Daemon) RemoveSchedule(name string) error { return d.inner.Scheduler().Remove(name) }
func (d *Daemon) Schedules() []Schedule            { return d.inner.Scheduler().List() }

func (d *Daemon) AddBlockedDomains(domains ...string) (int, error) {
	return d.inner.AddBlockedDomains(domains...)
}
func (d *Daemon) RemoveBlockedDomains(domains ...string) (int, error) {
	return d.inner.RemoveBlockedDomains(domains...)
}
func (d *Daemon) BlockedDomains() []string { return d.inner.BlockedDomains() }

func LoadConfig(path string) (Config, error) {
	return cfg.Load(path)
}

// NewLogger builds the daemon logger from a loaded config.
func NewLogger(c Config, debug bool) *slog.Logger {
	return logger.New(logger.Config{
		Dir:        c.Log.Dir,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
		Debug:      debug,
	})
}

// NewHTTPServer starts an HTTP server exposing the control API for the given daemon.
func NewHTTPServer(addr, basePath string, d *Daemon) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, d.inner, nil)
}

// Uninstall removes every enforcement artifact. The daemon must not be running.
func Uninstall(c Config, log *slog.Logger) error { return daemon.Uninstall(c, log) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
