package usage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/restraint/internal/fsatomic"
	"github.com/loykin/restraint/internal/metrics"
)

// Package usage accounts time spent on each tracked platform against a
// daily budget. Days are logical, not calendar: the day boundary sits
// at the configured reset hour (default 04:00), so a session running
// past midnight keeps draining the same day's budget until the small
// hours.

const dateLayout = "2006-01-02"

// state is the per-platform on-disk record. One file per platform so a
// corrupt write can never take out another platform's counters.
type state struct {
	Date     string `json:"date"`
	Seconds  int    `json:"used_seconds"`
	Sessions int    `json:"sessions"`
}

type platformUsage struct {
	mu   sync.Mutex
	path string
	st   state
}

// Tracker owns the usage files for all platforms under a single data
// directory.
type Tracker struct {
	dir       string
	resetHour int

	// now is swappable in tests.
	now func() time.Time

	mu        sync.Mutex
	platforms map[string]*platformUsage
}

func NewTracker(dir string, resetHour int) *Tracker {
	return &Tracker{
		dir:       dir,
		resetHour: resetHour,
		now:       time.Now,
		platforms: make(map[string]*platformUsage),
	}
}

// FileName returns the usage file name for a platform id.
func FileName(platformID string) string {
	return "usage_" + platformID + ".json"
}

// LogicalDate maps a wall-clock instant to its logical day: instants
// before the reset hour belong to the previous calendar day.
func (t *Tracker) LogicalDate(at time.Time) string {
	if at.Hour() < t.resetHour {
		at = at.AddDate(0, 0, -1)
	}
	return at.Format(dateLayout)
}

func (t *Tracker) platform(id string) *platformUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.platforms[id]
	if !ok {
		p = &platformUsage{path: filepath.Join(t.dir, FileName(id))}
		if err := fsatomic.LoadJSON(p.path, &p.st); err != nil && !errors.Is(err, os.ErrNotExist) {
			// Unreadable counters start the day over rather than
			// blocking all tracking.
			p.st = state{}
		}
		t.platforms[id] = p
	}
	return p
}

// rollLocked resets the counters when the stored logical date is not
// today's. Must be called with p.mu held.
func (t *Tracker) rollLocked(p *platformUsage) {
	today := t.LogicalDate(t.now())
	if p.st.Date != today {
		p.st = state{Date: today}
	}
}

// Add credits elapsed time to the platform's current logical day and
// persists the new total. It returns the day's accumulated seconds.
func (t *Tracker) Add(platformID string, d time.Duration) (int, error) {
	p := t.platform(platformID)
	p.mu.Lock()
	defer p.mu.Unlock()
	t.rollLocked(p)
	secs := int(d.Seconds())
	if secs <= 0 {
		return p.st.Seconds, nil
	}
	p.st.Seconds += secs
	metrics.AddUsageSeconds(platformID, float64(secs))
	if err := fsatomic.SaveJSON(p.path, p.st); err != nil {
		return p.st.Seconds, fmt.Errorf("persist usage for %s: %w", platformID, err)
	}
	return p.st.Seconds, nil
}

// UsedSeconds returns today's accumulated seconds for the platform.
func (t *Tracker) UsedSeconds(platformID string) int {
	p := t.platform(platformID)
	p.mu.Lock()
	defer p.mu.Unlock()
	t.rollLocked(p)
	return p.st.Seconds
}

// Remaining derives the budget left today. It is the single source of
// truth for "time left": callers must never compute limit-used
// themselves, so the zero floor is applied in exactly one place.
func (t *Tracker) Remaining(platformID string, limit time.Duration) time.Duration {
	used := time.Duration(t.UsedSeconds(platformID)) * time.Second
	if used >= limit {
		return 0
	}
	return limit - used
}

// IncrementSession bumps the platform's session counter for today.
func (t *Tracker) IncrementSession(platformID string) error {
	p := t.platform(platformID)
	p.mu.Lock()
	defer p.mu.Unlock()
	t.rollLocked(p)
	p.st.Sessions++
	if err := fsatomic.SaveJSON(p.path, p.st); err != nil {
		return fmt.Errorf("persist usage for %s: %w", platformID, err)
	}
	return nil
}

// Sessions returns today's session count for the platform.
func (t *Tracker) Sessions(platformID string) int {
	p := t.platform(platformID)
	p.mu.Lock()
	defer p.mu.Unlock()
	t.rollLocked(p)
	return p.st.Sessions
}

// Reset zeroes the platform's counters for the current logical day.
func (t *Tracker) Reset(platformID string) error {
	p := t.platform(platformID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st = state{Date: t.LogicalDate(t.now())}
	if err := fsatomic.SaveJSON(p.path, p.st); err != nil {
		return fmt.Errorf("persist usage for %s: %w", platformID, err)
	}
	return nil
}

// FormatMMSS renders a duration as MM:SS for notifications and status
// output. Durations of an hour or more keep growing the minutes field.
func FormatMMSS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
