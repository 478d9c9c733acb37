package history

import (
	"context"
	"time"
)

// EventType defines the kind of enforcement event.
type EventType string

const (
	EventBlockApplied    EventType = "block_applied"
	EventBlockRemoved    EventType = "block_removed"
	EventIntegrityRepair EventType = "integrity_repair"
	EventBlackoutStart   EventType = "blackout_start"
	EventBlackoutEnd     EventType = "blackout_end"
	EventScheduleFire    EventType = "schedule_fire"
	EventAllowlistOn     EventType = "allowlist_on"
	EventAllowlistOff    EventType = "allowlist_off"
	EventLimitReached    EventType = "limit_reached"
	EventProcessKilled   EventType = "process_killed"
)

// Event represents one enforcement action to be exported to external
// systems. Subject names what was acted on (a platform id, schedule
// name, marker tag); Detail carries free-form context.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Subject    string    `json:"subject"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (audit/review systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards events; used when no history DSN is configured.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
