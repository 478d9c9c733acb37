package blackout

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/restraint/internal/fsatomic"
)

type hookCounter struct {
	activated   atomic.Int32
	deactivated atomic.Int32
}

func (h *hookCounter) hooks() Hooks {
	return Hooks{
		Activate:   func() { h.activated.Add(1) },
		Deactivate: func() { h.deactivated.Add(1) },
	}
}

func newTestController(t *testing.T) (*Controller, *hookCounter, string) {
	t.Helper()
	h := &hookCounter{}
	path := filepath.Join(t.TempDir(), "blackout_state.json")
	return NewController(path, h.hooks(), slog.Default()), h, path
}

func TestStartActivatesAndPersists(t *testing.T) {
	c, h, path := newTestController(t)
	if err := c.Start(30*time.Minute, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.activated.Load() != 1 {
		t.Fatal("activate hook not called")
	}
	active, remaining, locked := c.Status()
	if !active || locked {
		t.Fatalf("status = active %v locked %v", active, locked)
	}
	if remaining <= 29*time.Minute || remaining > 30*time.Minute {
		t.Fatalf("remaining = %v", remaining)
	}
	var rec persisted
	if err := fsatomic.LoadJSON(path, &rec); err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	if rec.DurationMinutes != 30 || rec.Locked {
		t.Fatalf("persisted record = %+v", rec)
	}
}

func TestUnlockedSessionCanBeReplacedAndStopped(t *testing.T) {
	c, h, _ := newTestController(t)
	if err := c.Start(10*time.Minute, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(time.Hour, false); err != nil {
		t.Fatalf("replacing unlocked session: %v", err)
	}
	// Replacement extends the session; enforcement is already on.
	if h.activated.Load() != 1 {
		t.Fatalf("activate called %d times, want 1", h.activated.Load())
	}
	if err := c.Stop(false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.deactivated.Load() != 1 {
		t.Fatal("deactivate hook not called")
	}
	if active, _, _ := c.Status(); active {
		t.Fatal("still active after stop")
	}
}

func TestLockedSessionRefusesStopAndReplace(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.Start(time.Hour, true); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(false); !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("stop on locked session: %v", err)
	}
	if err := c.Start(time.Minute, false); !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("replace on locked session: %v", err)
	}
	if active, _, locked := c.Status(); !active || !locked {
		t.Fatal("locked session should survive stop attempts")
	}
	// Force is the uninstall escape hatch.
	if err := c.Stop(true); err != nil {
		t.Fatalf("forced stop: %v", err)
	}
}

func TestBreaksAreNeverLocked(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.StartBreak(15 * time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, _, locked := c.Status(); locked {
		t.Fatal("break session came up locked")
	}
	if err := c.Stop(false); err != nil {
		t.Fatalf("breaks must be stoppable: %v", err)
	}
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	c, h, _ := newTestController(t)
	if err := c.Stop(false); err != nil {
		t.Fatalf("stop with no session: %v", err)
	}
	if h.deactivated.Load() != 0 {
		t.Fatal("deactivate called with no session")
	}
}

func TestRecoverResumesInterruptedSession(t *testing.T) {
	c, h, path := newTestController(t)
	// A previous process wrote this and died.
	rec := persisted{EndTime: time.Now().Add(20 * time.Minute), DurationMinutes: 60, Locked: true}
	if err := fsatomic.SaveJSON(path, rec); err != nil {
		t.Fatal(err)
	}
	if err := c.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	active, remaining, locked := c.Status()
	if !active || !locked {
		t.Fatalf("resumed session: active %v locked %v", active, locked)
	}
	if remaining <= 19*time.Minute || remaining > 20*time.Minute {
		t.Fatalf("resumed remaining = %v", remaining)
	}
	if h.activated.Load() != 1 {
		t.Fatal("activate hook not called on resume")
	}
}

func TestRecoverSkipsNearlyExpiredSession(t *testing.T) {
	c, h, path := newTestController(t)
	rec := persisted{EndTime: time.Now().Add(30 * time.Second), DurationMinutes: 60, Locked: true}
	if err := fsatomic.SaveJSON(path, rec); err != nil {
		t.Fatal(err)
	}
	if err := c.Recover(); err != nil {
		t.Fatal(err)
	}
	if active, _, _ := c.Status(); active {
		t.Fatal("resumed a session with under a minute left")
	}
	if h.activated.Load() != 0 {
		t.Fatal("activate hook called for discarded session")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("stale state file not removed")
	}
}

func TestRecoverWithNoStateIsNoop(t *testing.T) {
	c, h, _ := newTestController(t)
	if err := c.Recover(); err != nil {
		t.Fatalf("recover with no state: %v", err)
	}
	if h.activated.Load() != 0 {
		t.Fatal("activate called with no state")
	}
}

func TestRecoverDropsCorruptState(t *testing.T) {
	c, _, path := newTestController(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Recover(); err != nil {
		t.Fatalf("recover with corrupt state: %v", err)
	}
	if active, _, _ := c.Status(); active {
		t.Fatal("corrupt state produced an active session")
	}
}

func TestExpiryDeactivates(t *testing.T) {
	c, h, path := newTestController(t)
	if err := c.Start(20*time.Millisecond, true); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.deactivated.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if active, _, _ := c.Status(); active {
		t.Fatal("still active after expiry")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("state file not removed on expiry")
	}
}
