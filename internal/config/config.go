package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Platform is one time-limited web platform. Immutable after load.
type Platform struct {
	ID           string   `toml:"id" mapstructure:"id"`
	DisplayName  string   `toml:"display_name" mapstructure:"display_name"`
	DailyLimit   int      `toml:"daily_limit_minutes" mapstructure:"daily_limit_minutes"`
	Domains      []string `toml:"domains" mapstructure:"domains"`
	ProcessNames []string `toml:"process_names" mapstructure:"process_names"`
	MarkerTag    string   `toml:"marker_tag" mapstructure:"marker_tag"`
}

// DailyLimitSeconds returns the allowance in seconds.
func (p Platform) DailyLimitSeconds() float64 { return float64(p.DailyLimit) * 60 }

// UsageFileName is the per-platform usage record file under the data dir.
func (p Platform) UsageFileName() string { return fmt.Sprintf("usage_%s.json", p.ID) }

// Tag returns the hosts-file marker tag for a platform, defaulting to
// its id. Tags are uppercased so regions stand out in the hosts file.
func (p Platform) Tag() string {
	t := p.MarkerTag
	if t == "" {
		t = p.ID
	}
	return strings.ToUpper(t)
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Config is the top-level TOML structure.
type Config struct {
	DataDir   string `toml:"data_dir" mapstructure:"data_dir"`
	HostsPath string `toml:"hosts_path" mapstructure:"hosts_path"`

	// RedirectIP is the address blocked domains are mapped to.
	RedirectIP string `toml:"redirect_ip" mapstructure:"redirect_ip"`

	// ResetHour is the local hour (0-23) at which daily counters roll over.
	ResetHour int `toml:"reset_hour" mapstructure:"reset_hour"`

	// WarningStepsMinutes lists remaining-minutes thresholds, descending,
	// at which one warning each is emitted per session.
	WarningStepsMinutes []int `toml:"warning_steps_minutes" mapstructure:"warning_steps_minutes"`

	ListenAddr         string `toml:"listen_addr" mapstructure:"listen_addr"`
	SingleInstancePort int    `toml:"single_instance_port" mapstructure:"single_instance_port"`

	// HistoryDSN selects the audit sink (sqlite path or postgres URL).
	// Empty means <data_dir>/history.db.
	HistoryDSN string `toml:"history_dsn" mapstructure:"history_dsn"`

	AllowlistRefresh time.Duration `toml:"allowlist_refresh" mapstructure:"allowlist_refresh"`
	ScheduleTick     time.Duration `toml:"schedule_tick" mapstructure:"schedule_tick"`
	IntegrityTick    time.Duration `toml:"integrity_tick" mapstructure:"integrity_tick"`
	UsageTick        time.Duration `toml:"usage_tick" mapstructure:"usage_tick"`

	// ResolverAddr optionally pins allowlist resolution to one DNS
	// server ("host:port"). Empty uses the system resolver.
	ResolverAddr string `toml:"resolver_addr" mapstructure:"resolver_addr"`

	Platforms        []Platform `toml:"platforms" mapstructure:"platforms"`
	PermanentDomains []string   `toml:"permanent_domains" mapstructure:"permanent_domains"`
	AllowlistDomains []string   `toml:"allowlist_domains" mapstructure:"allowlist_domains"`

	Log LogConfig `toml:"log" mapstructure:"log"`
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:             defaultDataDir(),
		HostsPath:           defaultHostsPath(),
		RedirectIP:          "127.0.0.1",
		ResetHour:           4,
		WarningStepsMinutes: []int{5, 1},
		ListenAddr:          "127.0.0.1:8375",
		SingleInstancePort:  45678,
		AllowlistRefresh:    5 * time.Minute,
		ScheduleTick:        time.Minute,
		IntegrityTick:       30 * time.Second,
		UsageTick:           5 * time.Second,
	}
}

// Load reads a TOML config file and merges it over the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects configurations that would leave the daemon
// half-protected or unable to compute daily resets.
func (c Config) Validate() error {
	if c.ResetHour < 0 || c.ResetHour > 23 {
		return fmt.Errorf("reset_hour must be 0-23, got %d", c.ResetHour)
	}
	if c.RedirectIP == "" {
		return fmt.Errorf("redirect_ip must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Platforms))
	for _, p := range c.Platforms {
		if p.ID == "" {
			return fmt.Errorf("platform requires an id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate platform id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.DailyLimit <= 0 {
			return fmt.Errorf("platform %s: daily_limit_minutes must be > 0", p.ID)
		}
		if len(p.Domains) == 0 {
			return fmt.Errorf("platform %s: at least one domain required", p.ID)
		}
	}
	for i, m := range c.WarningStepsMinutes {
		if m <= 0 {
			return fmt.Errorf("warning step must be > 0, got %d", m)
		}
		if i > 0 && m >= c.WarningStepsMinutes[i-1] {
			return fmt.Errorf("warning steps must be strictly descending")
		}
	}
	return nil
}

// PlatformByID looks up a platform by its unique id.
func (c Config) PlatformByID(id string) (Platform, bool) {
	for _, p := range c.Platforms {
		if p.ID == id {
			return p, true
		}
	}
	return Platform{}, false
}

func defaultDataDir() string {
	if v := os.Getenv("APPDATA"); v != "" {
		return filepath.Join(v, "restraint")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "restraint-data"
	}
	return filepath.Join(home, ".restraint")
}

func defaultHostsPath() string {
	if root := os.Getenv("SystemRoot"); root != "" {
		return filepath.Join(root, "System32", "drivers", "etc", "hosts")
	}
	return "/etc/hosts"
}
