package schedule

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

const (
	DefaultTick = time.Minute
	dateLayout  = "2006-01-02"
)

// FireFunc receives the schedule whose window the clock just entered
// and the time left until the window closes.
type FireFunc func(s Schedule, remaining time.Duration)

// Manager persists the schedule list and runs the tick loop that fires
// each window at most once per calendar day. The fired set lives only
// in memory: after a daemon restart inside a window the schedule fires
// again, which is the safe direction for an enforcement tool.
type Manager struct {
	path   string
	logger *slog.Logger
	fire   FireFunc
	tick   time.Duration

	// now is swappable in tests.
	now func() time.Time

	mu            sync.Mutex
	schedules     []Schedule
	triggered     map[string]bool
	triggeredDate string

	quit chan struct{}
	done chan struct{}
}

func NewManager(path string, tick time.Duration, fire FireFunc, logger *slog.Logger) (*Manager, error) {
	if tick <= 0 {
		tick = DefaultTick
	}
	m := &Manager{
		path:      path,
		logger:    logger,
		fire:      fire,
		tick:      tick,
		now:       time.Now,
		triggered: make(map[string]bool),
	}
	var f scheduleFile
	if err := fsatomic.LoadJSON(path, &f); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	m.schedules = f.Schedules
	return m, nil
}

// List returns a copy of all schedules.
func (m *Manager) List() []Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Schedule(nil), m.schedules...)
}

// Get returns the schedule with the given name.
func (m *Manager) Get(name string) (Schedule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schedules {
		if s.Name == name {
			return s, true
		}
	}
	return Schedule{}, false
}

// Add validates and appends a schedule, then persists. Names are
// unique.
func (m *Manager) Add(s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schedules {
		if existing.Name == s.Name {
			return fmt.Errorf("schedule %s already exists", s.Name)
		}
	}
	m.schedules = append(m.schedules, s)
	return m.saveLocked()
}

// Update replaces the schedule with the same name and persists.
func (m *Manager) Update(s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.schedules {
		if existing.Name == s.Name {
			m.schedules[i] = s
			return m.saveLocked()
		}
	}
	return fmt.Errorf("schedule %s not found", s.Name)
}

// Remove deletes the schedule by name and persists.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.schedules {
		if existing.Name == name {
			m.schedules = append(m.schedules[:i], m.schedules[i+1:]...)
			delete(m.triggered, name)
			return m.saveLocked()
		}
	}
	return fmt.Errorf("schedule %s not found", name)
}

// SetEnabled flips a schedule's enabled flag and persists.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.schedules {
		if existing.Name == name {
			m.schedules[i].Enabled = enabled
			return m.saveLocked()
		}
	}
	return fmt.Errorf("schedule %s not found", name)
}

// scheduleFile is the on-disk document wrapping the schedule list.
type scheduleFile struct {
	Schedules []Schedule `json:"schedules"`
}

// saveLocked persists the list. Only mutations write; ticks never do.
func (m *Manager) saveLocked() error {
	return fsatomic.SaveJSON(m.path, scheduleFile{Schedules: m.schedules})
}

// Start launches the tick loop. Call Stop to cancel.
func (m *Manager) Start() error {
	if m.quit != nil {
		return errors.New("schedule manager already started")
	}
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	go m.run()
	return nil
}

func (m *Manager) run() {
	defer close(m.done)
	t := time.NewTicker(m.tick)
	defer t.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-t.C:
			m.check(m.now())
		}
	}
}

// Stop cancels the tick loop.
func (m *Manager) Stop() {
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

// check fires every enabled schedule whose window contains t and that
// has not fired today. The fired set resets when the calendar date
// changes.
func (m *Manager) check(t time.Time) {
	type firing struct {
		s         Schedule
		remaining time.Duration
	}
	var due []firing

	m.mu.Lock()
	today := t.Format(dateLayout)
	if today != m.triggeredDate {
		m.triggered = make(map[string]bool)
		m.triggeredDate = today
	}
	for _, s := range m.schedules {
		if !s.Enabled || m.triggered[s.Name] {
			continue
		}
		if !s.Contains(t) {
			continue
		}
		m.triggered[s.Name] = true
		due = append(due, firing{s: s, remaining: s.Remaining(t)})
	}
	m.mu.Unlock()

	// Fire outside the lock: the callback starts a blackout, which
	// does its own locking and file IO.
	for _, f := range due {
		m.logger.Info("schedule window entered", "schedule", f.s.Name, "remaining", f.remaining)
		metrics.IncScheduleFire(f.s.Name)
		if m.fire != nil {
			m.fire(f.s, f.remaining)
		}
	}
}
