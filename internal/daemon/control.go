package daemon

import (
	"time"

	"github.com/loykin/restraint/internal/history"
	"github.com/loykin/restraint/internal/hostsblock"
	"github.com/loykin/restraint/internal/schedule"
	"github.com/loykin/restraint/internal/usage"
)

// The control surface: everything the HTTP API (and through it the
// CLI) can ask the daemon to do. These methods are safe to call from
// any goroutine.

// PlatformStatus is one platform's view in a status report.
type PlatformStatus struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	UsedSeconds  int    `json:"used_seconds"`
	LimitSeconds int    `json:"limit_seconds"`
	Remaining    string `json:"remaining"` // MM:SS
	Sessions     int    `json:"sessions"`
	Blocked      bool   `json:"blocked"`
}

// BlackoutStatus reports the current session, if any.
type BlackoutStatus struct {
	Active           bool `json:"active"`
	RemainingSeconds int  `json:"remaining_seconds"`
	Locked           bool `json:"locked"`
}

// Status is the full daemon state snapshot.
type Status struct {
	Blackout         BlackoutStatus   `json:"blackout"`
	AllowlistActive  bool             `json:"allowlist_active"`
	Platforms        []PlatformStatus `json:"platforms"`
	PermanentDomains []string         `json:"permanent_domains"`
}

// Status assembles a snapshot of everything the daemon enforces.
func (d *Daemon) Status() Status {
	active, remaining, locked := d.blackout.Status()
	st := Status{
		Blackout: BlackoutStatus{
			Active:           active,
			RemainingSeconds: int(remaining.Seconds()),
			Locked:           locked,
		},
		AllowlistActive:  d.allowlist.Active(),
		PermanentDomains: d.permanentDomains(),
	}
	for _, p := range d.cfg.Platforms {
		limit := time.Duration(p.DailyLimit) * time.Minute
		rem := d.tracker.Remaining(p.ID, limit)
		st.Platforms = append(st.Platforms, PlatformStatus{
			ID:           p.ID,
			DisplayName:  p.DisplayName,
			UsedSeconds:  d.tracker.UsedSeconds(p.ID),
			LimitSeconds: int(limit.Seconds()),
			Remaining:    usage.FormatMMSS(rem),
			Sessions:     d.tracker.Sessions(p.ID),
			Blocked:      active || rem <= 0,
		})
	}
	return st
}

// StartBlackout begins a blackout session.
func (d *Daemon) StartBlackout(duration time.Duration, locked bool) error {
	return d.blackout.Start(duration, locked)
}

// StartBreak begins an unlocked short blackout.
func (d *Daemon) StartBreak(duration time.Duration) error {
	return d.blackout.StartBreak(duration)
}

// StopBlackout ends the running session; locked sessions refuse.
func (d *Daemon) StopBlackout() error {
	return d.blackout.Stop(false)
}

// EnableAllowlist switches to allowlist-only networking using the
// configured allowlist domains.
func (d *Daemon) EnableAllowlist() error {
	if err := d.allowlist.Enable(d.cfg.AllowlistDomains); err != nil {
		return err
	}
	d.record(history.EventAllowlistOn, "allowlist", "")
	return nil
}

// DisableAllowlist restores normal networking.
func (d *Daemon) DisableAllowlist() error {
	if err := d.allowlist.Disable(); err != nil {
		return err
	}
	d.record(history.EventAllowlistOff, "allowlist", "")
	return nil
}

// Scheduler exposes schedule CRUD to the API layer.
func (d *Daemon) Scheduler() *schedule.Manager { return d.scheduler }

// AddBlockedDomains grows the permanent block list and re-applies the
// region immediately.
func (d *Daemon) AddBlockedDomains(domains ...string) (int, error) {
	added, err := d.blocklist.Add(domains...)
	if err != nil || added == 0 {
		return added, err
	}
	return added, d.reapplyPermanent()
}

// AddBlockedPreset expands a preset into the permanent block list.
func (d *Daemon) AddBlockedPreset(name string) (int, error) {
	added, err := d.blocklist.AddPreset(name)
	if err != nil || added == 0 {
		return added, err
	}
	return added, d.reapplyPermanent()
}

// RemoveBlockedDomains shrinks the user block list. Domains from the
// config file cannot be removed this way.
func (d *Daemon) RemoveBlockedDomains(domains ...string) (int, error) {
	removed, err := d.blocklist.Remove(domains...)
	if err != nil || removed == 0 {
		return removed, err
	}
	return removed, d.reapplyPermanent()
}

// BlockedDomains lists the user block list (without config domains).
func (d *Daemon) BlockedDomains() []string { return d.blocklist.Domains() }

// BlockPresets lists the available preset names.
func (d *Daemon) BlockPresets() []string { return hostsblock.PresetNames() }

func (d *Daemon) reapplyPermanent() error {
	if err := d.engine.Apply(PermanentTag, d.permanentDomains()); err != nil {
		return err
	}
	d.record(history.EventBlockApplied, PermanentTag, "block list changed")
	return nil
}
