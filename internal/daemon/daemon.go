package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/restraint/internal/blackout"
	"github.com/loykin/restraint/internal/config"
	"github.com/loykin/restraint/internal/fsatomic"
	"github.com/loykin/restraint/internal/history"
	"github.com/loykin/restraint/internal/history/factory"
	"github.com/loykin/restraint/internal/hostsblock"
	"github.com/loykin/restraint/internal/integrity"
	"github.com/loykin/restraint/internal/netlock"
	"github.com/loykin/restraint/internal/notify"
	"github.com/loykin/restraint/internal/proc"
	"github.com/loykin/restraint/internal/schedule"
	"github.com/loykin/restraint/internal/usage"
	"github.com/loykin/restraint/internal/winexec"
)

// PermanentTag is the marker for the always-blocked region: the
// config's permanent domains merged with the user's block list.
const PermanentTag = "PERMANENT"

// ErrAlreadyRunning is returned when another instance holds the
// single-instance port.
var ErrAlreadyRunning = errors.New("another instance is already running")

// ErrNotElevated is returned when the hosts file is not writable,
// which on Windows means the process lacks administrator rights.
var ErrNotElevated = errors.New("hosts file not writable: run as administrator")

// Daemon wires the enforcement pieces together and owns their
// lifecycles. One instance per machine, guarded by a localhost port.
type Daemon struct {
	cfg      config.Config
	logger   *slog.Logger
	notifier notify.Notifier

	engine    *hostsblock.Engine
	blocklist *hostsblock.Blocklist
	locker    *netlock.Locker
	allowlist *netlock.Allowlist
	tracker   *usage.Tracker
	warner    *usage.Warner
	scheduler *schedule.Manager
	blackout  *blackout.Controller
	monitor   *integrity.Monitor
	killer    *proc.Killer
	sink      history.Sink

	guard net.Listener

	usageQuit chan struct{}
	usageDone chan struct{}

	// Per-platform session bookkeeping, touched only by the usage loop.
	sessionActive map[string]bool
	limitNotified map[string]bool
}

// Deps substitutes the OS-facing pieces; zero values select the real
// implementations.
type Deps struct {
	Runner   winexec.Runner
	Notifier notify.Notifier
}

// New assembles a daemon from configuration. Nothing touches the
// system until Run.
func New(cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	return NewWith(cfg, logger, Deps{})
}

// NewWith is New with explicit dependencies, used by tests.
func NewWith(cfg config.Config, logger *slog.Logger, deps Deps) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	runner := deps.Runner
	if runner == nil {
		runner = &winexec.System{}
	}
	engine := hostsblock.New(cfg.HostsPath, filepath.Join(cfg.DataDir, "hosts.backup"), cfg.RedirectIP, runner, logger)
	blocklist, err := hostsblock.NewBlocklist(filepath.Join(cfg.DataDir, "permanent_blocks.json"))
	if err != nil {
		return nil, err
	}

	dsn := cfg.HistoryDSN
	if dsn == "" {
		dsn = filepath.Join(cfg.DataDir, "history.db")
	}
	sink, err := factory.NewSinkFromDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("history sink: %w", err)
	}

	locker := netlock.NewLocker(runner, logger)
	resolver := &netlock.Resolver{Server: cfg.ResolverAddr}
	allowlist := netlock.NewAllowlist(locker, resolver,
		filepath.Join(cfg.DataDir, "allowlist_active.flag"), cfg.AllowlistRefresh, logger)

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Toast{Logger: logger}
	}

	d := &Daemon{
		cfg:           cfg,
		logger:        logger,
		notifier:      notifier,
		engine:        engine,
		blocklist:     blocklist,
		locker:        locker,
		allowlist:     allowlist,
		tracker:       usage.NewTracker(cfg.DataDir, cfg.ResetHour),
		warner:        usage.NewWarner(cfg.WarningStepsMinutes, notifier),
		killer:        proc.NewKiller(runner, logger),
		sink:          sink,
		sessionActive: make(map[string]bool),
		limitNotified: make(map[string]bool),
	}

	d.blackout = blackout.NewController(
		filepath.Join(cfg.DataDir, "blackout_state.json"),
		blackout.Hooks{Activate: d.onBlackoutStart, Deactivate: d.onBlackoutEnd},
		logger,
	)
	d.scheduler, err = schedule.NewManager(
		filepath.Join(cfg.DataDir, "schedules.json"), cfg.ScheduleTick, d.onScheduleFire, logger)
	if err != nil {
		return nil, err
	}
	d.monitor = integrity.NewMonitor(engine, locker, d.desiredState, sink, cfg.IntegrityTick, logger)
	return d, nil
}

// Run performs the boot sequence and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	guard, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", d.cfg.SingleInstancePort))
	if err != nil {
		return fmt.Errorf("%w (port %d busy)", ErrAlreadyRunning, d.cfg.SingleInstancePort)
	}
	d.guard = guard
	defer func() { _ = guard.Close() }()

	if err := d.probeElevation(); err != nil {
		return err
	}

	// The revival lock stays behind on a crash so an external watchdog
	// knows the daemon should be running.
	if err := fsatomic.SetFlag(d.revivalPath(), true); err != nil {
		return fmt.Errorf("write revival lock: %w", err)
	}

	if err := d.applyBaseline(); err != nil {
		return err
	}
	if err := d.allowlist.Recover(); err != nil {
		d.logger.Warn("allowlist recovery failed", "error", err)
	}
	if err := d.blackout.Recover(); err != nil {
		d.logger.Warn("blackout recovery failed", "error", err)
	}

	if err := d.scheduler.Start(); err != nil {
		return err
	}
	if err := d.monitor.Start(); err != nil {
		return err
	}
	d.usageQuit = make(chan struct{})
	d.usageDone = make(chan struct{})
	go d.usageLoop()

	d.logger.Info("daemon running",
		"platforms", len(d.cfg.Platforms),
		"hosts", d.cfg.HostsPath,
		"data_dir", d.cfg.DataDir)

	<-ctx.Done()
	d.shutdown()
	return nil
}

// probeElevation verifies the hosts file is writable before anything
// is half-applied.
func (d *Daemon) probeElevation() error {
	f, err := os.OpenFile(d.cfg.HostsPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotElevated, err)
	}
	return f.Close()
}

// applyBaseline puts the always-on protections in place: the permanent
// hosts region and the DNS lock.
func (d *Daemon) applyBaseline() error {
	if err := d.engine.Apply(PermanentTag, d.permanentDomains()); err != nil {
		return fmt.Errorf("apply permanent blocks: %w", err)
	}
	if err := d.locker.EnableDNSLock(); err != nil {
		return fmt.Errorf("enable dns lock: %w", err)
	}
	d.record(history.EventBlockApplied, PermanentTag, "")
	return nil
}

// shutdown is the fail-safe path: blocks are re-asserted, not removed,
// so killing the daemon gains nothing. Only Uninstall lifts them.
func (d *Daemon) shutdown() {
	d.logger.Info("shutting down, re-asserting blocks")

	close(d.usageQuit)
	<-d.usageDone
	d.monitor.Stop()
	d.scheduler.Stop()

	if err := d.engine.Apply(PermanentTag, d.permanentDomains()); err != nil {
		d.logger.Error("final permanent re-block failed", "error", err)
	}
	for _, p := range d.cfg.Platforms {
		if err := d.engine.Apply(p.Tag(), p.Domains); err != nil {
			d.logger.Error("final platform re-block failed", "platform", p.ID, "error", err)
		}
	}
	// While a blackout still owes time the lock stays behind, so the
	// external watchdog relaunches the daemon to finish the session.
	if active, remaining, _ := d.blackout.Status(); active && remaining > 0 {
		d.logger.Info("blackout unfinished, keeping revival lock", "remaining", remaining)
	} else if err := fsatomic.SetFlag(d.revivalPath(), false); err != nil {
		d.logger.Warn("could not remove revival lock", "error", err)
	}
	if c, ok := d.sink.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func (d *Daemon) revivalPath() string {
	return filepath.Join(d.cfg.DataDir, "revival.lock")
}

func (d *Daemon) permanentDomains() []string {
	return d.blocklist.Merge(d.cfg.PermanentDomains)
}

// desiredState feeds the integrity monitor: the permanent region is
// always on, platform regions only while blocked, and the DNS lock is
// unconditional while the daemon lives.
func (d *Daemon) desiredState() integrity.State {
	regions := map[string][]string{PermanentTag: d.permanentDomains()}
	blackoutActive, _, _ := d.blackout.Status()
	for _, p := range d.cfg.Platforms {
		if blackoutActive || d.exhausted(p) {
			regions[p.Tag()] = p.Domains
		}
	}
	return integrity.State{Regions: regions, DNSLock: true}
}

func (d *Daemon) exhausted(p config.Platform) bool {
	return d.tracker.Remaining(p.ID, time.Duration(p.DailyLimit)*time.Minute) <= 0
}

// usageLoop is the enforcement heartbeat: it meters running platform
// processes against their budgets and blocks/kills when a budget runs
// out. The loop also lifts platform blocks again after the daily
// reset.
func (d *Daemon) usageLoop() {
	defer close(d.usageDone)
	tick := d.cfg.UsageTick
	if tick <= 0 {
		tick = 5 * time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-d.usageQuit:
			return
		case <-t.C:
			d.usageTick(tick)
		}
	}
}

func (d *Daemon) usageTick(elapsed time.Duration) {
	blackoutActive, _, _ := d.blackout.Status()
	for _, p := range d.cfg.Platforms {
		if blackoutActive {
			// The blackout hooks applied the regions; here we only
			// keep killing anything the user restarts.
			if running, _ := d.killer.AnyRunning(p.ProcessNames); running {
				d.killPlatform(p, "blackout active")
			}
			continue
		}
		d.meterPlatform(p, elapsed)
	}
}

func (d *Daemon) meterPlatform(p config.Platform, elapsed time.Duration) {
	limit := time.Duration(p.DailyLimit) * time.Minute

	running, err := d.killer.AnyRunning(p.ProcessNames)
	if err != nil {
		d.logger.Warn("process check failed", "platform", p.ID, "error", err)
		return
	}

	if running && !d.sessionActive[p.ID] {
		d.sessionActive[p.ID] = true
		if err := d.tracker.IncrementSession(p.ID); err != nil {
			d.logger.Warn("session count not persisted", "platform", p.ID, "error", err)
		}
	} else if !running && d.sessionActive[p.ID] {
		d.sessionActive[p.ID] = false
		d.warner.ResetSession(p.ID)
	}

	if running {
		if _, err := d.tracker.Add(p.ID, elapsed); err != nil {
			d.logger.Warn("usage not persisted", "platform", p.ID, "error", err)
		}
	}

	remaining := d.tracker.Remaining(p.ID, limit)
	if remaining > 0 {
		// Budget available (possibly again, after the daily reset):
		// make sure the platform region is lifted.
		d.limitNotified[p.ID] = false
		if err := d.engine.Remove(p.Tag()); err != nil {
			d.logger.Warn("could not lift platform block", "platform", p.ID, "error", err)
		}
		if running {
			d.warner.Check(p.ID, p.DisplayName, remaining)
		}
		return
	}

	// Budget exhausted: block the domains and kill the apps.
	if err := d.engine.Apply(p.Tag(), p.Domains); err != nil {
		d.logger.Error("could not apply platform block", "platform", p.ID, "error", err)
	}
	if running {
		d.killPlatform(p, "daily limit reached")
	}
	if !d.limitNotified[p.ID] {
		d.limitNotified[p.ID] = true
		d.notifier.Send(p.DisplayName+" blocked", "Daily limit reached. Resets at "+fmt.Sprintf("%02d:00.", d.cfg.ResetHour))
		d.record(history.EventLimitReached, p.ID, "")
	}
}

func (d *Daemon) killPlatform(p config.Platform, reason string) {
	if err := d.killer.KillAll(p.ProcessNames); err != nil {
		d.logger.Warn("process kill incomplete", "platform", p.ID, "error", err)
		return
	}
	d.record(history.EventProcessKilled, p.ID, reason)
}

// onBlackoutStart is the blackout Activate hook: every platform gets
// blocked and its processes killed, whatever its remaining budget.
func (d *Daemon) onBlackoutStart() {
	for _, p := range d.cfg.Platforms {
		if err := d.engine.Apply(p.Tag(), p.Domains); err != nil {
			d.logger.Error("blackout block failed", "platform", p.ID, "error", err)
		}
		if running, _ := d.killer.AnyRunning(p.ProcessNames); running {
			d.killPlatform(p, "blackout started")
		}
	}
	// The watchdog reads the lock's timestamp to decide whether a
	// vanished daemon still owes blackout time.
	if _, remaining, _ := d.blackout.Status(); remaining > 0 {
		end := time.Now().Add(remaining).Format(time.RFC3339)
		if err := fsatomic.WriteFile(d.revivalPath(), []byte(end), 0o644); err != nil {
			d.logger.Warn("revival lock not updated", "error", err)
		}
	}
	d.record(history.EventBlackoutStart, "blackout", "")
	d.notifier.Send("Blackout started", "All tracked platforms are blocked.")
}

// onBlackoutEnd lifts the blackout blocks for platforms that still
// have budget; exhausted ones stay blocked.
func (d *Daemon) onBlackoutEnd() {
	for _, p := range d.cfg.Platforms {
		if d.exhausted(p) {
			continue
		}
		if err := d.engine.Remove(p.Tag()); err != nil {
			d.logger.Warn("could not lift blackout block", "platform", p.ID, "error", err)
		}
	}
	// Back to a plain presence flag once no blackout time is owed.
	if err := fsatomic.SetFlag(d.revivalPath(), true); err != nil {
		d.logger.Warn("revival lock not reset", "error", err)
	}
	d.record(history.EventBlackoutEnd, "blackout", "")
	d.notifier.Send("Blackout ended", "Platforms with remaining time are unblocked.")
}

// onScheduleFire starts a locked blackout covering the rest of the
// window. A manual blackout already running simply keeps running if it
// is locked; otherwise the scheduled one replaces it.
func (d *Daemon) onScheduleFire(s schedule.Schedule, remaining time.Duration) {
	d.record(history.EventScheduleFire, s.Name, remaining.String())
	if err := d.blackout.Start(remaining, true); err != nil {
		if errors.Is(err, blackout.ErrSessionLocked) {
			d.logger.Info("scheduled blackout skipped, locked session running", "schedule", s.Name)
			return
		}
		d.logger.Error("scheduled blackout failed", "schedule", s.Name, "error", err)
	}
}

func (d *Daemon) record(t history.EventType, subject, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.sink.Send(ctx, history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Subject:    subject,
		Detail:     detail,
	}); err != nil {
		d.logger.Warn("history sink rejected event", "type", t, "error", err)
	}
}
