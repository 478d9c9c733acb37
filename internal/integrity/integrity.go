package integrity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/restraint/internal/history"
	"github.com/loykin/restraint/internal/hostsblock"
	"github.com/loykin/restraint/internal/metrics"
	"github.com/loykin/restraint/internal/netlock"
)

// Package integrity holds the watchdog loop that undoes manual
// tampering. The hosts file and the firewall are world-editable by an
// administrator, and the user of this tool is the administrator; the
// loop's job is to make editing them pointless by re-asserting the
// desired state faster than it can be exploited.

const DefaultInterval = 30 * time.Second

// State is what should currently be enforced: the set of hosts-file
// regions (marker tag to domain list) and whether the DNS lock must be
// up. It is recomputed every tick because blackouts and exhausted
// budgets change it at runtime.
type State struct {
	Regions map[string][]string
	DNSLock bool
}

// StateFunc supplies the desired state for a tick.
type StateFunc func() State

type Monitor struct {
	engine   *hostsblock.Engine
	locker   *netlock.Locker
	state    StateFunc
	sink     history.Sink
	logger   *slog.Logger
	interval time.Duration

	quit chan struct{}
	done chan struct{}
}

func NewMonitor(engine *hostsblock.Engine, locker *netlock.Locker, state StateFunc,
	sink history.Sink, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		engine:   engine,
		locker:   locker,
		state:    state,
		sink:     sink,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the watchdog loop. Call Stop to cancel.
func (m *Monitor) Start() error {
	if m.quit != nil {
		return errors.New("integrity monitor already started")
	}
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	go m.run()
	return nil
}

func (m *Monitor) run() {
	defer close(m.done)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-t.C:
			// A failing tick must never kill the loop; the next tick
			// gets another chance.
			m.checkOnce()
		}
	}
}

// Stop cancels the watchdog loop.
func (m *Monitor) Stop() {
	if m.quit == nil {
		return
	}
	select {
	case <-m.quit:
	default:
		close(m.quit)
	}
	<-m.done
}

// checkOnce verifies every desired region and the DNS lock, repairing
// whatever drifted. Errors are logged per item and do not stop the
// remaining checks.
func (m *Monitor) checkOnce() {
	st := m.state()

	for tag, domains := range st.Regions {
		ok, err := m.engine.Applied(tag, domains)
		if err != nil {
			m.logger.Warn("integrity check failed", "region", tag, "error", err)
			continue
		}
		if ok {
			continue
		}
		m.logger.Warn("hosts region drifted, repairing", "region", tag)
		if err := m.engine.Apply(tag, domains); err != nil {
			m.logger.Error("hosts region repair failed", "region", tag, "error", err)
			continue
		}
		metrics.IncIntegrityRepair()
		m.record(history.Event{
			Type:       history.EventIntegrityRepair,
			OccurredAt: time.Now(),
			Subject:    tag,
			Detail:     "hosts region restored",
		})
	}

	if st.DNSLock && !m.locker.DNSLockActive() {
		m.logger.Warn("dns lock rules missing, repairing")
		if err := m.locker.EnableDNSLock(); err != nil {
			m.logger.Error("dns lock repair failed", "error", err)
			return
		}
		metrics.IncIntegrityRepair()
		m.record(history.Event{
			Type:       history.EventIntegrityRepair,
			OccurredAt: time.Now(),
			Subject:    "dns-lock",
			Detail:     "firewall rules restored",
		})
	}
}

func (m *Monitor) record(e history.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.sink.Send(ctx, e); err != nil {
		m.logger.Warn("history sink rejected event", "type", e.Type, "error", err)
	}
}
