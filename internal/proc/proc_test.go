package proc

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// scriptedRunner returns canned responses keyed by the executable name
// and records every invocation.
type scriptedRunner struct {
	responses map[string]struct {
		out string
		err error
	}
	calls [][]string
}

func (s *scriptedRunner) Run(name string, args ...string) (string, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	r := s.responses[name]
	return r.out, r.err
}

func (s *scriptedRunner) set(name, out string, err error) {
	if s.responses == nil {
		s.responses = map[string]struct {
			out string
			err error
		}{}
	}
	s.responses[name] = struct {
		out string
		err error
	}{out, err}
}

func (s *scriptedRunner) called(name string) bool {
	for _, c := range s.calls {
		if c[0] == name {
			return true
		}
	}
	return false
}

func TestRunningParsesTasklist(t *testing.T) {
	r := &scriptedRunner{}
	r.set("tasklist", `"Spotify.exe","4242","Console","1","210,000 K"`, nil)
	k := NewKiller(r, slog.Default())
	running, err := k.Running("Spotify.exe")
	if err != nil {
		t.Fatal(err)
	}
	if !running {
		t.Fatal("expected running=true for matching tasklist row")
	}
}

func TestRunningNoMatch(t *testing.T) {
	r := &scriptedRunner{}
	r.set("tasklist", "INFO: No tasks are running which match the specified criteria.", nil)
	k := NewKiller(r, slog.Default())
	running, err := k.Running("Spotify.exe")
	if err != nil {
		t.Fatal(err)
	}
	if running {
		t.Fatal("expected running=false when tasklist reports no tasks")
	}
}

func TestAnyRunningStopsAtFirstHit(t *testing.T) {
	r := &scriptedRunner{}
	r.set("tasklist", `"Discord.exe","100","Console","1","90,000 K"`, nil)
	k := NewKiller(r, slog.Default())
	running, err := k.AnyRunning([]string{"Discord.exe", "Update.exe"})
	if err != nil {
		t.Fatal(err)
	}
	if !running {
		t.Fatal("expected a hit")
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected short-circuit after first hit, got %d calls", len(r.calls))
	}
}

func TestKillUsesTaskkillFirst(t *testing.T) {
	r := &scriptedRunner{}
	r.set("taskkill", "SUCCESS: The process has been terminated.", nil)
	k := NewKiller(r, slog.Default())
	if err := k.Kill("Spotify.exe"); err != nil {
		t.Fatal(err)
	}
	if r.called("powershell") {
		t.Fatal("powershell fallback used although taskkill succeeded")
	}
	call := strings.Join(r.calls[0], " ")
	if !strings.Contains(call, "/T") || !strings.Contains(call, "/F") {
		t.Fatalf("taskkill missing tree/force flags: %s", call)
	}
}

func TestKillMissingProcessIsNoop(t *testing.T) {
	r := &scriptedRunner{}
	r.set("taskkill", `ERROR: The process "Spotify.exe" not found.`, errors.New("exit status 128"))
	k := NewKiller(r, slog.Default())
	if err := k.Kill("Spotify.exe"); err != nil {
		t.Fatalf("missing process should not be an error: %v", err)
	}
	if r.called("powershell") {
		t.Fatal("fallback used for a process that does not exist")
	}
}

func TestKillFallsBackToStopProcess(t *testing.T) {
	r := &scriptedRunner{}
	r.set("taskkill", "ERROR: Access is denied.", errors.New("exit status 1"))
	r.set("powershell", "", nil)
	k := NewKiller(r, slog.Default())
	if err := k.Kill("Spotify.exe"); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if !r.called("powershell") {
		t.Fatal("powershell fallback not used")
	}
	last := strings.Join(r.calls[len(r.calls)-1], " ")
	if !strings.Contains(last, "Stop-Process -Name 'Spotify'") {
		t.Fatalf("fallback used wrong process name: %s", last)
	}
}

func TestKillReportsBothFailures(t *testing.T) {
	r := &scriptedRunner{}
	r.set("taskkill", "ERROR: Access is denied.", errors.New("exit status 1"))
	r.set("powershell", "boom", errors.New("exit status 1"))
	k := NewKiller(r, slog.Default())
	if err := k.Kill("Spotify.exe"); err == nil {
		t.Fatal("expected an error when both paths fail")
	}
}

func TestKillAllContinuesPastFailures(t *testing.T) {
	r := &scriptedRunner{}
	r.set("taskkill", "ERROR: Access is denied.", errors.New("exit status 1"))
	r.set("powershell", "boom", errors.New("exit status 1"))
	k := NewKiller(r, slog.Default())
	err := k.KillAll([]string{"A.exe", "B.exe"})
	if err == nil {
		t.Fatal("expected first error to surface")
	}
	// Both images attempted despite the first failing.
	attempts := 0
	for _, c := range r.calls {
		if c[0] == "taskkill" {
			attempts++
		}
	}
	if attempts != 2 {
		t.Fatalf("taskkill attempts = %d, want 2", attempts)
	}
}
