package integrity

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/restraint/internal/history"
	"github.com/loykin/restraint/internal/hostsblock"
	"github.com/loykin/restraint/internal/netlock"
)

// ruleRunner keeps a netsh-like rule set so the DNS lock checks behave.
type ruleRunner struct {
	mu    sync.Mutex
	rules map[string]bool
}

func (r *ruleRunner) Run(name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rules == nil {
		r.rules = map[string]bool{}
	}
	if name != "netsh" || len(args) < 5 {
		return "", nil
	}
	verb := args[2]
	ruleName := strings.TrimPrefix(args[4], "name=")
	switch verb {
	case "add":
		r.rules[ruleName] = true
		return "Ok.", nil
	case "delete":
		if !r.rules[ruleName] {
			return "No rules match the specified criteria.", errors.New("exit status 1")
		}
		delete(r.rules, ruleName)
		return "Deleted 1 rule(s).", nil
	case "show":
		if !r.rules[ruleName] {
			return "No rules match the specified criteria.", errors.New("exit status 1")
		}
		return "Rule Name: " + ruleName, nil
	}
	return "", nil
}

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestMonitor(t *testing.T, state StateFunc) (*Monitor, *hostsblock.Engine, string, *memorySink) {
	t.Helper()
	dir := t.TempDir()
	hosts := filepath.Join(dir, "hosts")
	if err := os.WriteFile(hosts, []byte("127.0.0.1 localhost\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &ruleRunner{}
	engine := hostsblock.New(hosts, filepath.Join(dir, "hosts.backup"), "127.0.0.1", runner, slog.Default())
	locker := netlock.NewLocker(runner, slog.Default())
	sink := &memorySink{}
	m := NewMonitor(engine, locker, state, sink, DefaultInterval, slog.Default())
	return m, engine, hosts, sink
}

func TestRepairsTamperedHostsRegion(t *testing.T) {
	want := map[string][]string{"PERMANENT": {"blocked.example"}}
	m, engine, hosts, sink := newTestMonitor(t, func() State {
		return State{Regions: want}
	})

	if err := engine.Apply("PERMANENT", want["PERMANENT"]); err != nil {
		t.Fatal(err)
	}
	// User deletes the whole region by hand.
	if err := os.WriteFile(hosts, []byte("127.0.0.1 localhost\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m.checkOnce()

	b, err := os.ReadFile(hosts)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "127.0.0.1 blocked.example") {
		t.Fatalf("region not restored:\n%s", b)
	}
	if sink.count() != 1 {
		t.Fatalf("expected one repair event, got %d", sink.count())
	}
}

func TestNoRepairWhenStateMatches(t *testing.T) {
	want := map[string][]string{"PERMANENT": {"blocked.example"}}
	m, engine, hosts, sink := newTestMonitor(t, func() State {
		return State{Regions: want}
	})
	if err := engine.Apply("PERMANENT", want["PERMANENT"]); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(hosts)

	m.checkOnce()
	m.checkOnce()

	after, _ := os.ReadFile(hosts)
	if string(before) != string(after) {
		t.Fatal("clean state was rewritten")
	}
	if sink.count() != 0 {
		t.Fatalf("repair events for clean state: %d", sink.count())
	}
}

func TestRepairsDeletedFirewallRules(t *testing.T) {
	m, _, _, sink := newTestMonitor(t, func() State {
		return State{DNSLock: true}
	})
	// Lock was never installed (or was deleted); first tick installs it.
	m.checkOnce()
	if !m.locker.DNSLockActive() {
		t.Fatal("dns lock not restored")
	}
	if sink.count() != 1 {
		t.Fatalf("expected one repair event, got %d", sink.count())
	}
	// Second tick finds it intact.
	m.checkOnce()
	if sink.count() != 1 {
		t.Fatalf("repair repeated on intact lock: %d events", sink.count())
	}
}

func TestDNSLockIgnoredWhenNotDesired(t *testing.T) {
	m, _, _, sink := newTestMonitor(t, func() State {
		return State{DNSLock: false}
	})
	m.checkOnce()
	if m.locker.DNSLockActive() {
		t.Fatal("dns lock installed although not desired")
	}
	if sink.count() != 0 {
		t.Fatal("unexpected repair event")
	}
}

func TestLoopSurvivesFailingTicks(t *testing.T) {
	calls := 0
	m, _, _, _ := newTestMonitor(t, func() State {
		calls++
		// Point at a region whose hosts file read will fail.
		return State{Regions: map[string][]string{"X": {"a.example"}}}
	})
	m.interval = 5 * time.Millisecond
	// Make the hosts path unreadable by swapping the engine for one
	// with a bogus path.
	m.engine = hostsblock.New(filepath.Join(t.TempDir(), "missing", "hosts"), "", "127.0.0.1", &ruleRunner{}, slog.Default())

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)
	m.Stop()
	if calls < 2 {
		t.Fatalf("loop died after a failing tick: %d calls", calls)
	}
}
