package client

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

// BlackoutStatus reports the current blackout session, if any.
type BlackoutStatus struct {
	Active           bool `json:"active"`
	RemainingSeconds int  `json:"remaining_seconds"`
	Locked           bool `json:"locked"`
}

// Status is the daemon's full state snapshot.
type Status struct {
	Blackout         BlackoutStatus   `json:"blackout"`
	AllowlistActive  bool             `json:"allowlist_active"`
	Platforms        []PlatformStatus `json:"platforms"`
	PermanentDomains []string         `json:"permanent_domains"`
}

// Schedule is a recurring blackout window. Days use 0=Sunday through
// 6=Saturday; times are 24h HH:MM local and must not cross midnight.
type Schedule struct {
	Name    string `json:"name"`
	Days    []int  `json:"days"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}
