package usage

import (
	"fmt"
	"sync"
	"time"

	"github.com/loykin/restraint/internal/notify"
)

// Warner fires the countdown notifications as a platform's remaining
// budget crosses the configured thresholds (e.g. 5 minutes left, then
// 1). Each threshold fires once per session: when the platform's
// processes go away and come back, the session resets and the ladder
// re-arms.
type Warner struct {
	steps    []int // minutes, strictly descending
	notifier notify.Notifier

	mu    sync.Mutex
	fired map[string]map[int]bool // platform id -> fired step set
}

func NewWarner(stepsMinutes []int, n notify.Notifier) *Warner {
	return &Warner{
		steps:    stepsMinutes,
		notifier: n,
		fired:    make(map[string]map[int]bool),
	}
}

// Check fires every threshold the remaining budget has crossed that
// has not fired this session. Crossed thresholds fire even if a tick
// was missed (a 6m -> 40s drop fires both the 5m and 1m warnings, the
// most urgent last).
func (w *Warner) Check(platformID, displayName string, remaining time.Duration) {
	if remaining <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	set, ok := w.fired[platformID]
	if !ok {
		set = make(map[int]bool)
		w.fired[platformID] = set
	}
	for _, step := range w.steps {
		if set[step] {
			continue
		}
		if remaining <= time.Duration(step)*time.Minute {
			set[step] = true
			w.notifier.Send(
				fmt.Sprintf("%s: %d minute warning", displayName, step),
				fmt.Sprintf("Time remaining today: %s", FormatMMSS(remaining)),
			)
		}
	}
}

// ResetSession re-arms all thresholds for the platform. Called when
// the platform's processes exit and the session ends.
func (w *Warner) ResetSession(platformID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.fired, platformID)
}
