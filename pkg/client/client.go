package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client provides HTTP client functionality to communicate with the
// restraint daemon. The control API binds to loopback only, so no TLS
// or auth layer is involved.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8375",
		Timeout: 10 * time.Second,
	}
}

// New creates a client from config; zero fields take defaults.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger,
	}
}

// BaseURL returns the daemon endpoint this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.logger.Debug("api request", "method", method, "path", path)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			return fmt.Errorf("API error: status %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errorResp.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Status fetches the daemon's full state snapshot.
func (c *Client) Status() (Status, error) {
	var st Status
	err := c.do(http.MethodGet, "/status", nil, &st)
	return st, err
}

// StartBlackout begins a blackout (or break) session.
func (c *Client) StartBlackout(d time.Duration, locked, isBreak bool) error {
	return c.do(http.MethodPost, "/blackout/start", map[string]any{
		"duration_minutes": int(d.Minutes()),
		"locked":           locked,
		"break":            isBreak,
	}, nil)
}

// StopBlackout ends the running session (refused when locked).
func (c *Client) StopBlackout() error {
	return c.do(http.MethodPost, "/blackout/stop", nil, nil)
}

// SetAllowlist toggles allowlist-only networking.
func (c *Client) SetAllowlist(on bool) error {
	path := "/allowlist/off"
	if on {
		path = "/allowlist/on"
	}
	return c.do(http.MethodPost, path, nil, nil)
}

// Schedules lists all configured schedules.
func (c *Client) Schedules() ([]Schedule, error) {
	var out []Schedule
	err := c.do(http.MethodGet, "/schedules", nil, &out)
	return out, err
}

// AddSchedule creates a schedule.
func (c *Client) AddSchedule(s Schedule) error {
	return c.do(http.MethodPost, "/schedules", s, nil)
}

// RemoveSchedule deletes a schedule by name.
func (c *Client) RemoveSchedule(name string) error {
	return c.do(http.MethodDelete, "/schedules/"+name, nil, nil)
}

// SetScheduleEnabled flips a schedule's enabled flag.
func (c *Client) SetScheduleEnabled(name string, enabled bool) error {
	return c.do(http.MethodPost, "/schedules/"+name+"/enabled", map[string]any{"enabled": enabled}, nil)
}

// Blocks lists the user block list and the available presets.
func (c *Client) Blocks() (domains, presets []string, err error) {
	var out struct {
		Domains []string `json:"domains"`
		Presets []string `json:"presets"`
	}
	err = c.do(http.MethodGet, "/blocks", nil, &out)
	return out.Domains, out.Presets, err
}

// AddBlocks grows the permanent block list, by explicit domains, a
// preset name, or both. It returns the number of domains added.
func (c *Client) AddBlocks(domains []string, preset string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.do(http.MethodPost, "/blocks", map[string]any{"domains": domains, "preset": preset}, &out)
	return out.Count, err
}

// RemoveBlocks shrinks the permanent block list.
func (c *Client) RemoveBlocks(domains []string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.do(http.MethodDelete, "/blocks", map[string]any{"domains": domains}, &out)
	return out.Count, err
}
