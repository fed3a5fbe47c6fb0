// Package config loads and validates the ticker's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/calticker/event"
)

const (
	projectConfigName = "calticker.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the full ticker configuration file shape.
type Config struct {
	// Listen is the host:port the HTTP server binds to.
	Listen string `yaml:"listen"`

	// Timezone is an IANA zone name used for all-day event anchoring and
	// clock-time labels. Empty means the process-local zone.
	Timezone string `yaml:"timezone"`

	// RefreshCron is an optional UTC 5-field cron schedule. When set it
	// takes precedence over RefreshIntervalSecs.
	RefreshCron string `yaml:"refresh_cron"`

	// RefreshIntervalSecs is the fixed refresh period in seconds.
	RefreshIntervalSecs int `yaml:"refresh_interval_secs"`

	CORSOrigin      string `yaml:"cors_origin"`
	NoEventsMessage string `yaml:"no_events_message"`

	// Calendars lists Google calendar IDs to fetch from.
	Calendars []string     `yaml:"calendars"`
	Google    GoogleConfig `yaml:"google"`

	// ICSFeeds lists ICS subscription feeds to merge in.
	ICSFeeds []ICSFeedConfig `yaml:"ics_feeds"`

	Filters FiltersConfig `yaml:"filters"`
	Display DisplayConfig `yaml:"display"`

	CalendarColours map[string]string `yaml:"calendar_colours"`
	DefaultColour   string            `yaml:"default_colour"`
}

// GoogleConfig holds Google Calendar credentials settings.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// ICSFeedConfig declares one ICS subscription feed.
type ICSFeedConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// FiltersConfig holds the event inclusion policy.
type FiltersConfig struct {
	HoursAhead        int      `yaml:"hours_ahead"`
	ExcludeKeywords   []string `yaml:"exclude_keywords"`
	ImportantKeywords []string `yaml:"important_keywords"`
	IncludeAllDay     *bool    `yaml:"include_all_day"`
	OnlyAccepted      *bool    `yaml:"only_accepted"`
}

// DisplayConfig holds the rendering settings echoed to clients.
type DisplayConfig struct {
	TimeFormat            string `yaml:"time_format"`
	RelativeThresholdMins int    `yaml:"relative_time_threshold_mins"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	var cfg Config
	cfg.normalize()
	return cfg
}

// Discover resolves the config file location with first-match semantics: the
// explicit path, then ./calticker.yaml, then ~/.calticker/config.yaml. An
// explicit path that does not exist is an error; otherwise not finding a
// file just means defaults apply.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".calticker", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads and validates a config file, filling unset fields from
// defaults.
func Load(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = "0.0.0.0:8000"
	}
	if c.RefreshIntervalSecs <= 0 {
		c.RefreshIntervalSecs = 300
	}
	if strings.TrimSpace(c.CORSOrigin) == "" {
		c.CORSOrigin = "*"
	}
	if strings.TrimSpace(c.NoEventsMessage) == "" {
		c.NoEventsMessage = "No upcoming events"
	}
	if c.Filters.HoursAhead <= 0 {
		c.Filters.HoursAhead = 24
	}
	if strings.TrimSpace(c.Display.TimeFormat) == "" {
		c.Display.TimeFormat = event.TimeFormat12h
	}
	if c.Display.RelativeThresholdMins <= 0 {
		c.Display.RelativeThresholdMins = 120
	}
	if strings.TrimSpace(c.DefaultColour) == "" {
		c.DefaultColour = "#9e9e9e"
	}
	// Fall back to the account's primary Google calendar only when the file
	// configures no source at all. An ICS-only file must not inherit a
	// Google source it never asked for, and an explicit empty calendars
	// list stays empty so validation can reject it.
	if c.Calendars == nil && len(c.ICSFeeds) == 0 {
		c.Calendars = []string{"primary"}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Display.TimeFormat != event.TimeFormat12h && c.Display.TimeFormat != event.TimeFormat24h {
		return fmt.Errorf("display.time_format must be %q or %q, got %q",
			event.TimeFormat12h, event.TimeFormat24h, c.Display.TimeFormat)
	}
	if len(c.Calendars) == 0 && len(c.ICSFeeds) == 0 {
		return errors.New("no calendar sources configured: set calendars or ics_feeds")
	}
	for i, feed := range c.ICSFeeds {
		if strings.TrimSpace(feed.ID) == "" {
			return fmt.Errorf("ics_feeds[%d]: id is required", i)
		}
		if strings.TrimSpace(feed.URL) == "" {
			return fmt.Errorf("ics_feeds[%d]: url is required", i)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

// Location resolves the configured timezone, defaulting to the local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// RefreshInterval returns the fixed refresh period.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSecs) * time.Second
}

// FilterPolicy converts the filters section into the pipeline policy.
// Unset booleans default to true, matching the file's documented defaults.
func (c Config) FilterPolicy() event.FilterPolicy {
	includeAllDay := true
	if c.Filters.IncludeAllDay != nil {
		includeAllDay = *c.Filters.IncludeAllDay
	}
	onlyAccepted := true
	if c.Filters.OnlyAccepted != nil {
		onlyAccepted = *c.Filters.OnlyAccepted
	}
	return event.FilterPolicy{
		ExcludeKeywords: c.Filters.ExcludeKeywords,
		IncludeAllDay:   includeAllDay,
		OnlyAccepted:    onlyAccepted,
	}
}

// PresentationConfig converts the display settings into the formatter
// configuration.
func (c Config) PresentationConfig() event.PresentationConfig {
	return event.PresentationConfig{
		TimeFormat:            c.Display.TimeFormat,
		RelativeThresholdMins: c.Display.RelativeThresholdMins,
		CalendarColours:       c.CalendarColours,
		DefaultColour:         c.DefaultColour,
		ImportantKeywords:     c.Filters.ImportantKeywords,
	}
}
