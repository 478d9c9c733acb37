package netlock

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loykin/restraint/internal/fsatomic"
	"github.com/loykin/restraint/internal/metrics"
)

// Allowlist mode inverts the firewall posture: instead of denying a
// handful of resolvers, it denies all outbound traffic and punches
// holes for the local subnet, the configured resolver, and the IPs the
// allowlisted domains currently resolve to. Because those IPs rotate
// (CDNs especially), a background loop re-resolves and rewrites the
// allow rules while the mode is active.

const (
	ruleAllowlistBlock    = rulePrefix + "Allowlist-Block"
	ruleAllowlistSubnet   = rulePrefix + "Allowlist-LocalSubnet"
	ruleAllowlistResolver = rulePrefix + "Allowlist-Resolver"
	ruleAllowlistAllow    = rulePrefix + "Allowlist-Allow-"
)

const DefaultRefreshInterval = 5 * time.Minute

// allowlistState is persisted next to the other daemon state so a
// crashed process leaves enough behind to delete its own rules on the
// next boot.
type allowlistState struct {
	Domains []string `json:"domains"`
}

type Allowlist struct {
	locker   *Locker
	resolver *Resolver
	logger   *slog.Logger

	// lookup is swappable in tests; defaults to resolver.Lookup.
	lookup func(domain string) ([]string, error)

	statePath string
	refresh   time.Duration

	mu      sync.Mutex
	domains []string
	quit    chan struct{}
	done    chan struct{}
}

func NewAllowlist(l *Locker, r *Resolver, statePath string, refresh time.Duration, logger *slog.Logger) *Allowlist {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	return &Allowlist{locker: l, resolver: r, lookup: r.Lookup, logger: logger, statePath: statePath, refresh: refresh}
}

// Enable switches allowlist mode on for the given domains. Calling it
// while already active is allowed: the previous refresh loop is torn
// down and the rules rebuilt for the new set, so the caller never has
// to track prior state.
func (a *Allowlist) Enable(domains []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLoopLocked()
	// Drop the previous activation's rules first so a domain removed
	// from the set does not keep a stale allow rule.
	if err := a.removeRulesLocked(a.domains); err != nil {
		return err
	}
	if err := a.applyRulesLocked(domains); err != nil {
		return err
	}
	if err := fsatomic.SaveJSON(a.statePath, allowlistState{Domains: domains}); err != nil {
		return err
	}
	a.domains = append([]string(nil), domains...)

	// A fresh channel pair per activation; the old loop may still be
	// draining and must not observe this one's close.
	a.quit = make(chan struct{})
	a.done = make(chan struct{})
	go a.refreshLoop(a.domains, a.quit, a.done)

	metrics.SetAllowlistActive(true)
	a.logger.Info("allowlist mode enabled", "domains", len(domains))
	return nil
}

// Disable tears down the loop and removes every allowlist rule.
func (a *Allowlist) Disable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLoopLocked()
	err := a.removeRulesLocked(a.domains)
	if ferr := fsatomic.SetFlag(a.statePath, false); err == nil {
		err = ferr
	}
	a.domains = nil

	metrics.SetAllowlistActive(false)
	if err == nil {
		a.logger.Info("allowlist mode disabled")
	}
	return err
}

// Active reports whether allowlist mode is currently on.
func (a *Allowlist) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quit != nil
}

// Domains returns a copy of the active allowlist set.
func (a *Allowlist) Domains() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.domains...)
}

// CleanupOrphans removes rules left behind by a previous process that
// died while allowlist mode was active. It must run before any new
// Enable, directly after boot.
func (a *Allowlist) CleanupOrphans() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var st allowlistState
	if err := fsatomic.LoadJSON(a.statePath, &st); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		// Unreadable state still means rules may exist; fall through
		// with an empty domain list so at least the fixed rules go.
		a.logger.Warn("allowlist state unreadable, removing fixed rules only", "error", err)
	}
	a.logger.Info("removing orphaned allowlist rules", "domains", len(st.Domains))
	if err := a.removeRulesLocked(st.Domains); err != nil {
		return err
	}
	return fsatomic.SetFlag(a.statePath, false)
}

// Recover is the boot path: if a previous process died while allowlist
// mode was active, its orphaned rules are removed and the mode is
// re-applied with the persisted domain set. No-op when the mode was
// off.
func (a *Allowlist) Recover() error {
	var st allowlistState
	if err := fsatomic.LoadJSON(a.statePath, &st); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return a.CleanupOrphans()
	}
	if err := a.CleanupOrphans(); err != nil {
		return err
	}
	return a.Enable(st.Domains)
}

// applyRulesLocked builds the full rule set. Order matters: the allow
// rules go in before the blanket block so connectivity never drops to
// zero during activation. (Windows Firewall evaluates block-over-allow
// regardless of insertion order, but the resolver must stay reachable
// for the per-domain lookups below.)
func (a *Allowlist) applyRulesLocked(domains []string) error {
	if err := a.locker.addRule(ruleAllowlistSubnet,
		"dir=out", "action=allow", "remoteip=LocalSubnet"); err != nil {
		return err
	}
	if a.resolver.Server != "" {
		host := a.resolver.Server
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		if err := a.locker.addRule(ruleAllowlistResolver,
			"dir=out", "action=allow", "remoteip="+host, "remoteport=53"); err != nil {
			return err
		}
	}
	for _, d := range domains {
		a.refreshDomain(d)
	}
	return a.locker.addRule(ruleAllowlistBlock, "dir=out", "action=block")
}

func (a *Allowlist) removeRulesLocked(domains []string) error {
	var first error
	for _, d := range domains {
		if err := a.locker.deleteRule(allowRuleName(d)); err != nil && first == nil {
			first = err
		}
	}
	for _, name := range []string{ruleAllowlistBlock, ruleAllowlistSubnet, ruleAllowlistResolver} {
		if err := a.locker.deleteRule(name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// refreshDomain resolves one domain and rewrites its allow rule. A
// resolution failure keeps the previous rule in place rather than
// cutting the domain off.
func (a *Allowlist) refreshDomain(domain string) {
	addrs, err := a.lookup(domain)
	if err != nil {
		a.logger.Warn("allowlist resolve failed, keeping previous rule", "domain", domain, "error", err)
		return
	}
	if len(addrs) == 0 {
		a.logger.Warn("allowlist domain has no addresses", "domain", domain)
		return
	}
	if err := a.locker.addRule(allowRuleName(domain),
		"dir=out", "action=allow", "remoteip="+strings.Join(addrs, ",")); err != nil {
		a.logger.Warn("allowlist rule update failed", "domain", domain, "error", err)
	}
}

// refreshLoop receives its domain set up front: every Enable tears the
// loop down and starts a new one, so the set is immutable for the
// loop's lifetime and the loop never needs the mutex.
func (a *Allowlist) refreshLoop(domains []string, quit, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(a.refresh)
	defer t.Stop()
	for {
		select {
		case <-quit:
			return
		case <-t.C:
			for _, d := range domains {
				a.refreshDomain(d)
			}
		}
	}
}

func (a *Allowlist) stopLoopLocked() {
	if a.quit == nil {
		return
	}
	close(a.quit)
	<-a.done
	a.quit = nil
	a.done = nil
}

func allowRuleName(domain string) string {
	return ruleAllowlistAllow + domain
}
