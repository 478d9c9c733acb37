package netlock

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/restraint/internal/metrics"
	"github.com/loykin/restraint/internal/winexec"
)

// Package netlock owns the Windows Firewall rules that close the DNS
// escape hatch around the hosts file. Names in the hosts file only bind
// when the OS resolver is actually consulted; a user can sidestep it by
// pointing an application at a public resolver or at DNS-over-TLS. The
// lock blocks both paths with outbound deny rules.
//
// Every rule this package creates carries the "Restraint-" name prefix
// so it can be found and removed deterministically, including after a
// crash.

const rulePrefix = "Restraint-"

const (
	ruleDNSLock = rulePrefix + "DNS-Lock"
	ruleDoTLock = rulePrefix + "DoT-Lock"
)

// publicResolvers are the anycast addresses of the well-known public
// DNS services. Blocking them covers the overwhelming majority of
// manual resolver changes.
var publicResolvers = []string{
	"8.8.8.8", "8.8.4.4", // Google
	"1.1.1.1", "1.0.0.1", // Cloudflare
	"9.9.9.9", "149.112.112.112", // Quad9
	"208.67.222.222", "208.67.220.220", // OpenDNS
}

// Locker drives netsh advfirewall. All methods are idempotent: adding
// an existing rule first deletes it, deleting a missing rule is not an
// error.
type Locker struct {
	runner winexec.Runner
	logger *slog.Logger
}

func NewLocker(r winexec.Runner, logger *slog.Logger) *Locker {
	return &Locker{runner: r, logger: logger}
}

// EnableDNSLock installs the outbound deny rules for the public
// resolver IPs and for DNS-over-TLS (tcp/853) to any destination.
func (l *Locker) EnableDNSLock() error {
	if err := l.addRule(ruleDNSLock,
		"dir=out", "action=block",
		"remoteip="+strings.Join(publicResolvers, ",")); err != nil {
		return err
	}
	if err := l.addRule(ruleDoTLock,
		"dir=out", "action=block",
		"protocol=TCP", "remoteport=853"); err != nil {
		return err
	}
	l.logger.Info("dns lock enabled")
	return nil
}

// DisableDNSLock removes both lock rules. Missing rules are ignored.
func (l *Locker) DisableDNSLock() error {
	var first error
	for _, name := range []string{ruleDNSLock, ruleDoTLock} {
		if err := l.deleteRule(name); err != nil && first == nil {
			first = err
		}
	}
	if first == nil {
		l.logger.Info("dns lock disabled")
	}
	return first
}

// DNSLockActive reports whether both lock rules are currently present.
// Used by the integrity loop to detect manual rule deletion.
func (l *Locker) DNSLockActive() bool {
	return l.ruleExists(ruleDNSLock) && l.ruleExists(ruleDoTLock)
}

func (l *Locker) addRule(name string, spec ...string) error {
	// Re-adding under the same name would stack duplicate rules, so
	// clear any previous instance first.
	_ = l.deleteRule(name)
	args := append([]string{"advfirewall", "firewall", "add", "rule", "name=" + name}, spec...)
	out, err := l.runner.Run("netsh", args...)
	if err != nil {
		metrics.IncFirewallOp("add", false)
		return fmt.Errorf("add firewall rule %s: %w: %s", name, err, out)
	}
	metrics.IncFirewallOp("add", true)
	return nil
}

func (l *Locker) deleteRule(name string) error {
	out, err := l.runner.Run("netsh", "advfirewall", "firewall", "delete", "rule", "name="+name)
	if err != nil {
		// netsh exits non-zero when no rule matches; that is the
		// desired end state, not a failure.
		if strings.Contains(out, "No rules match") {
			return nil
		}
		metrics.IncFirewallOp("delete", false)
		return fmt.Errorf("delete firewall rule %s: %w: %s", name, err, out)
	}
	metrics.IncFirewallOp("delete", true)
	return nil
}

func (l *Locker) ruleExists(name string) bool {
	out, err := l.runner.Run("netsh", "advfirewall", "firewall", "show", "rule", "name="+name)
	if err != nil {
		return false
	}
	return !strings.Contains(out, "No rules match")
}
