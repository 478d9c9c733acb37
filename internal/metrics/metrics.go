package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	hostsApplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "restraint",
			Subsystem: "hosts",
			Name:      "applies_total",
			Help:      "Number of hosts-file region writes (excludes idempotent no-ops).",
		}, []string{"marker"},
	)
	integrityRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "restraint",
			Subsystem: "integrity",
			Name:      "repairs_total",
			Help:      "Number of integrity ticks that detected and repaired drift.",
		},
	)
	firewallOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "restraint",
			Subsystem: "firewall",
			Name:      "rule_ops_total",
			Help:      "Firewall rule operations by kind and result.",
		}, []string{"op", "result"},
	)
	allowlistActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "restraint",
			Subsystem: "firewall",
			Name:      "allowlist_active",
			Help:      "1 while allow-list mode is active.",
		},
	)
	usageSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "restraint",
			Subsystem: "usage",
			Name:      "seconds_total",
			Help:      "Accumulated platform usage seconds.",
		}, []string{"platform"},
	)
	scheduleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "restraint",
			Subsystem: "schedule",
			Name:      "fires_total",
			Help:      "Schedule window triggers.",
		}, []string{"schedule"},
	)
	blackoutStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "restraint",
			Subsystem: "blackout",
			Name:      "starts_total",
			Help:      "Blackout sessions started, by locked flag.",
		}, []string{"locked"},
	)
	blackoutRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "restraint",
			Subsystem: "blackout",
			Name:      "remaining_seconds",
			Help:      "Seconds remaining in the active blackout (0 when inactive).",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		hostsApplies, integrityRepairs, firewallOps, allowlistActive,
		usageSeconds, scheduleFires, blackoutStarts, blackoutRemaining,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncHostsApply(marker string) {
	if regOK.Load() {
		hostsApplies.WithLabelValues(marker).Inc()
	}
}

func IncIntegrityRepair() {
	if regOK.Load() {
		integrityRepairs.Inc()
	}
}

func IncFirewallOp(op string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		firewallOps.WithLabelValues(op, result).Inc()
	}
}

func SetAllowlistActive(active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1
		}
		allowlistActive.Set(v)
	}
}

func AddUsageSeconds(platform string, secs float64) {
	if regOK.Load() {
		usageSeconds.WithLabelValues(platform).Add(secs)
	}
}

func IncScheduleFire(name string) {
	if regOK.Load() {
		scheduleFires.WithLabelValues(name).Inc()
	}
}

func IncBlackoutStart(locked bool) {
	if regOK.Load() {
		l := "false"
		if locked {
			l = "true"
		}
		blackoutStarts.WithLabelValues(l).Inc()
	}
}

func SetBlackoutRemaining(secs float64) {
	if regOK.Load() {
		blackoutRemaining.Set(secs)
	}
}
