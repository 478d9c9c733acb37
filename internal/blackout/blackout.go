package blackout

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/restraint/internal/fsatomic"
	"github.com/loykin/restraint/internal/metrics"
)

// ErrSessionLocked is returned when a stop or replacement is attempted
// against a locked blackout session. Locked sessions run to their end
// time; that is the whole point of locking one.
var ErrSessionLocked = errors.New("blackout session is locked")

// minResume is the smallest remaining duration worth resuming after a
// crash. Re-blocking for a few seconds just produces flicker.
const minResume = time.Minute

// persisted is the on-disk session record. It is written on every
// start and removed on every clean stop or expiry, so its presence at
// boot means the previous process died mid-session.
type persisted struct {
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Locked          bool      `json:"locked"`
}

// Hooks are the enforcement callbacks. Activate puts the full block in
// place (all platforms, DNS lock); Deactivate restores the normal
// budget-driven state. Both are invoked outside the controller's lock.
type Hooks struct {
	Activate   func()
	Deactivate func()
}

// Controller is the blackout session state machine. At most one
// session exists at a time; an unlocked session can be replaced or
// stopped, a locked one can only expire (or be force-stopped by the
// uninstall path).
type Controller struct {
	path   string
	logger *slog.Logger
	hooks  Hooks

	// now is swappable in tests.
	now func() time.Time

	mu     sync.Mutex
	active bool
	end    time.Time
	locked bool
	timer  *time.Timer
}

func NewController(path string, hooks Hooks, logger *slog.Logger) *Controller {
	return &Controller{path: path, hooks: hooks, logger: logger, now: time.Now}
}

// Start begins a blackout of the given duration, replacing any running
// unlocked session. Starting over a locked session fails with
// ErrSessionLocked even if the new request is longer.
func (c *Controller) Start(d time.Duration, locked bool) error {
	if d <= 0 {
		return fmt.Errorf("blackout duration must be positive, got %v", d)
	}
	c.mu.Lock()
	if c.active && c.locked {
		c.mu.Unlock()
		return ErrSessionLocked
	}
	wasActive := c.active
	end := c.now().Add(d)
	rec := persisted{
		EndTime:         end,
		DurationMinutes: int(d.Minutes()),
		Locked:          locked,
	}
	if err := fsatomic.SaveJSON(c.path, rec); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("persist blackout state: %w", err)
	}
	c.active = true
	c.end = end
	c.locked = locked
	c.armTimerLocked(d)
	c.mu.Unlock()

	metrics.IncBlackoutStart(locked)
	metrics.SetBlackoutRemaining(d.Seconds())
	c.logger.Info("blackout started", "until", end, "locked", locked, "replaced", wasActive)
	if !wasActive && c.hooks.Activate != nil {
		c.hooks.Activate()
	}
	return nil
}

// StartBreak begins a short blackout that is never locked, whatever
// the caller passes elsewhere. Breaks are meant to be escapable.
func (c *Controller) StartBreak(d time.Duration) error {
	return c.Start(d, false)
}

// Stop ends the running session. A locked session refuses unless force
// is set; force exists for the uninstall path only.
func (c *Controller) Stop(force bool) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	if c.locked && !force {
		c.mu.Unlock()
		return ErrSessionLocked
	}
	c.clearLocked()
	c.mu.Unlock()

	metrics.SetBlackoutRemaining(0)
	c.logger.Info("blackout stopped", "forced", force)
	if c.hooks.Deactivate != nil {
		c.hooks.Deactivate()
	}
	return nil
}

// Status reports the current session. Remaining is zero when inactive.
func (c *Controller) Status() (active bool, remaining time.Duration, locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false, 0, false
	}
	remaining = c.end.Sub(c.now())
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, c.locked
}

// Recover resumes a session the previous process left behind. Sessions
// with less than a minute remaining are discarded instead of resumed.
// Call once at boot, before the integrity loop starts.
func (c *Controller) Recover() error {
	var rec persisted
	if err := fsatomic.LoadJSON(c.path, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		// A corrupt state file is dropped: failing open here only
		// means the session is not resumed, never that blocking
		// breaks.
		c.logger.Warn("discarding unreadable blackout state", "error", err)
		return fsatomic.SetFlag(c.path, false)
	}
	remaining := rec.EndTime.Sub(c.now())
	if remaining < minResume {
		c.logger.Info("expired blackout state found, not resuming", "end", rec.EndTime)
		return fsatomic.SetFlag(c.path, false)
	}

	c.mu.Lock()
	c.active = true
	c.end = rec.EndTime
	c.locked = rec.Locked
	c.armTimerLocked(remaining)
	c.mu.Unlock()

	metrics.SetBlackoutRemaining(remaining.Seconds())
	c.logger.Info("resumed blackout after restart", "remaining", remaining, "locked", rec.Locked)
	if c.hooks.Activate != nil {
		c.hooks.Activate()
	}
	return nil
}

// armTimerLocked (re)schedules expiry. Must be called with c.mu held.
func (c *Controller) armTimerLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, c.expire)
}

func (c *Controller) expire() {
	c.mu.Lock()
	if !c.active || c.now().Before(c.end) {
		// Replaced by a later Start; that Start re-armed the timer.
		c.mu.Unlock()
		return
	}
	c.clearLocked()
	c.mu.Unlock()

	metrics.SetBlackoutRemaining(0)
	c.logger.Info("blackout ended")
	if c.hooks.Deactivate != nil {
		c.hooks.Deactivate()
	}
}

// clearLocked resets state and removes the state file. Must be called
// with c.mu held.
func (c *Controller) clearLocked() {
	c.active = false
	c.locked = false
	c.end = time.Time{}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if err := fsatomic.SetFlag(c.path, false); err != nil {
		c.logger.Warn("could not remove blackout state file", "error", err)
	}
}
