package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeRange is returned when a schedule's start time is not
// strictly before its end time. Windows never cross midnight; a block
// spanning midnight is expressed as two schedules.
var ErrInvalidTimeRange = errors.New("schedule start must be before end")

// Schedule is one recurring blackout window: on the listed weekdays,
// between Start and End (24h "HH:MM", local time), a blackout covering
// the rest of the window is triggered.
type Schedule struct {
	Name    string `json:"name" mapstructure:"name"`
	Days    []int  `json:"days" mapstructure:"days"` // time.Weekday values, Sunday = 0
	Start   string `json:"start" mapstructure:"start"`
	End     string `json:"end" mapstructure:"end"`
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
}

func (s *Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("schedule requires a name")
	}
	if len(s.Days) == 0 {
		return fmt.Errorf("schedule %s: at least one weekday required", s.Name)
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("schedule %s: weekday %d out of range 0..6", s.Name, d)
		}
	}
	start, err := parseHHMM(s.Start)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", s.Name, err)
	}
	end, err := parseHHMM(s.End)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", s.Name, err)
	}
	if start >= end {
		return fmt.Errorf("schedule %s (%s-%s): %w", s.Name, s.Start, s.End, ErrInvalidTimeRange)
	}
	return nil
}

// Contains reports whether t falls inside the window on one of the
// schedule's weekdays. The end minute is exclusive so back-to-back
// windows do not overlap.
func (s *Schedule) Contains(t time.Time) bool {
	day := int(t.Weekday())
	found := false
	for _, d := range s.Days {
		if d == day {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	start, err1 := parseHHMM(s.Start)
	end, err2 := parseHHMM(s.End)
	if err1 != nil || err2 != nil {
		return false
	}
	return m >= start && m < end
}

// Remaining returns the time left until the window's end, assuming t
// is inside the window.
func (s *Schedule) Remaining(t time.Time) time.Duration {
	end, err := parseHHMM(s.End)
	if err != nil {
		return 0
	}
	endAt := time.Date(t.Year(), t.Month(), t.Day(), end/60, end%60, 0, 0, t.Location())
	if !endAt.After(t) {
		return 0
	}
	return endAt.Sub(t)
}

// parseHHMM parses a 24h "HH:MM" string into minutes since midnight.
func parseHHMM(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h*60 + m, nil
}
