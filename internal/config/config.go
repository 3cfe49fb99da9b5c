// Package config loads service settings from a YAML file and the
// environment. Environment variables override the file; the file
// overrides the defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recruitflow/internal/audit"
)

// Modes select the channel sender.
const (
	ModeDemo = "demo"
	ModeLive = "live"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config holds every service setting.
type Config struct {
	// Mode is "demo" (mock channel provider) or "live" (HTTP connector).
	Mode          string  `yaml:"mode"`
	Listen        string  `yaml:"listen"`
	LogLevel      string  `yaml:"logLevel"`
	SigningSecret string  `yaml:"signingSecret"`
	Storage       Storage `yaml:"storage"`
	ATS           ATS     `yaml:"ats"`
	Channel       Channel `yaml:"channel"`
	Policy        Policy  `yaml:"policy"`
	Stream        Stream  `yaml:"stream"`
	Funnel        Funnel  `yaml:"funnel"`
}

// Storage selects where the audit chain lives.
type Storage struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ATS configures the applicant tracking system connector.
type ATS struct {
	BaseURL     string        `yaml:"baseURL"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"maxAttempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// Channel configures the live messaging connector.
type Channel struct {
	BaseURL string `yaml:"baseURL"`
}

// Policy configures outbound message policy.
type Policy struct {
	Path       string `yaml:"path"`
	Permissive bool   `yaml:"permissive"`
}

// Stream configures event subscriptions.
type Stream struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
}

// Funnel configures candidate transitions.
type Funnel struct {
	RequireHold bool `yaml:"requireHold"`

	// SlotDay (YYYY-MM-DD) anchors the default slot allocator so a
	// candidate keeps its slot across restarts. Empty means the day after
	// process start.
	SlotDay string `yaml:"slotDay"`
}

// SlotDayLayout is the format of Funnel.SlotDay.
const SlotDayLayout = "2006-01-02"

// SlotAnchor returns the parsed SlotDay, or false when it is unset.
func (f Funnel) SlotAnchor() (time.Time, bool) {
	if f.SlotDay == "" {
		return time.Time{}, false
	}
	day, err := time.Parse(SlotDayLayout, f.SlotDay)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Mode:          ModeDemo,
		Listen:        ":8000",
		LogLevel:      "info",
		SigningSecret: audit.DefaultSecret,
		Storage:       Storage{Driver: StorageMemory},
		ATS: ATS{
			BaseURL:     "http://localhost:8001",
			Timeout:     5 * time.Second,
			MaxAttempts: 3,
			Backoff:     500 * time.Millisecond,
		},
		Channel: Channel{BaseURL: "http://localhost:8002"},
		Policy:  Policy{Path: "policy.yaml"},
		Stream: Stream{
			PollInterval: time.Second,
			Heartbeat:    20 * time.Second,
		},
	}
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path (if non-empty) and applies the process environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv reads path (if non-empty) and applies overrides from lookup.
// Unknown YAML keys are rejected.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv applies RECRUITFLOW_* overrides. MODE, SIGNING_SECRET and
// ATS_BASE are honored without the prefix for existing deployments; the
// prefixed form wins when both are set.
func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
			}
		}
	}
	str(&c.Mode, "MODE", "RECRUITFLOW_MODE")
	str(&c.Listen, "RECRUITFLOW_LISTEN")
	str(&c.LogLevel, "RECRUITFLOW_LOG_LEVEL")
	str(&c.SigningSecret, "SIGNING_SECRET", "RECRUITFLOW_SIGNING_SECRET")
	str(&c.ATS.BaseURL, "ATS_BASE", "RECRUITFLOW_ATS_BASE")
	str(&c.Channel.BaseURL, "CHANNEL_BASE", "RECRUITFLOW_CHANNEL_BASE")
	str(&c.Policy.Path, "RECRUITFLOW_POLICY_PATH")
	str(&c.Storage.Driver, "RECRUITFLOW_STORAGE_DRIVER")
	str(&c.Funnel.SlotDay, "RECRUITFLOW_SLOT_DAY")

	if v, ok := lookup("RECRUITFLOW_STORAGE_PATH"); ok && v != "" {
		c.Storage.Path = v
		if _, set := lookup("RECRUITFLOW_STORAGE_DRIVER"); !set {
			c.Storage.Driver = StorageSQLite
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"RECRUITFLOW_POLICY_PERMISSIVE", &c.Policy.Permissive},
		{"RECRUITFLOW_REQUIRE_HOLD", &c.Funnel.RequireHold},
	}
	for _, b := range bools {
		if v, ok := lookup(b.key); ok && v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", b.key, err)
			}
			*b.dst = parsed
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RECRUITFLOW_ATS_TIMEOUT", &c.ATS.Timeout},
		{"RECRUITFLOW_ATS_BACKOFF", &c.ATS.Backoff},
		{"RECRUITFLOW_STREAM_POLL", &c.Stream.PollInterval},
	}
	for _, d := range durations {
		if v, ok := lookup(d.key); ok && v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	if v, ok := lookup("RECRUITFLOW_ATS_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECRUITFLOW_ATS_MAX_ATTEMPTS: %w", err)
		}
		c.ATS.MaxAttempts = n
	}
	return nil
}

// Validate checks that settings are usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeDemo, ModeLive:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeDemo, ModeLive, c.Mode))
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		errs = append(errs, errors.New("signingSecret must not be empty"))
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", StorageMemory, StorageSQLite, c.Storage.Driver))
	}
	if c.ATS.BaseURL == "" {
		errs = append(errs, errors.New("ats.baseURL is required"))
	}
	if c.ATS.Timeout <= 0 {
		errs = append(errs, errors.New("ats.timeout must be positive"))
	}
	if c.ATS.MaxAttempts < 1 {
		errs = append(errs, errors.New("ats.maxAttempts must be at least 1"))
	}
	if c.ATS.Backoff < 0 {
		errs = append(errs, errors.New("ats.backoff must not be negative"))
	}
	if c.Mode == ModeLive && c.Channel.BaseURL == "" {
		errs = append(errs, errors.New("channel.baseURL is required in live mode"))
	}
	if c.Stream.PollInterval <= 0 {
		errs = append(errs, errors.New("stream.pollInterval must be positive"))
	}
	if c.Stream.Heartbeat <= 0 {
		errs = append(errs, errors.New("stream.heartbeat must be positive"))
	}
	if c.Funnel.SlotDay != "" {
		if _, err := time.Parse(SlotDayLayout, c.Funnel.SlotDay); err != nil {
			errs = append(errs, fmt.Errorf("funnel.slotDay must be YYYY-MM-DD, got %q", c.Funnel.SlotDay))
		}
	}
	return errors.Join(errs...)
}
