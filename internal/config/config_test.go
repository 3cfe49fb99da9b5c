package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recruitflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithEnv("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, "dev-signing-secret", cfg.SigningSecret)
	assert.Equal(t, 3, cfg.ATS.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.ATS.Timeout)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
mode: live
listen: ":9000"
storage:
  driver: sqlite
  path: /var/lib/recruitflow/audit.db
ats:
  baseURL: https://ats.example.com
  timeout: 2s
  maxAttempts: 5
  backoff: 250ms
policy:
  path: /etc/recruitflow/policy.cue
  permissive: true
stream:
  pollInterval: 500ms
funnel:
  requireHold: true
`)
	cfg, err := LoadWithEnv(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, Storage{Driver: StorageSQLite, Path: "/var/lib/recruitflow/audit.db"}, cfg.Storage)
	assert.Equal(t, ATS{BaseURL: "https://ats.example.com", Timeout: 2 * time.Second, MaxAttempts: 5, Backoff: 250 * time.Millisecond}, cfg.ATS)
	assert.Equal(t, Policy{Path: "/etc/recruitflow/policy.cue", Permissive: true}, cfg.Policy)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.PollInterval)
	assert.Equal(t, 20*time.Second, cfg.Stream.Heartbeat, "unset keys keep defaults")
	assert.True(t, cfg.Funnel.RequireHold)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := LoadWithEnv(writeConfig(t, ""), env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := LoadWithEnv(writeConfig(t, "listne: \":9000\"\n"), env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listne")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "signingSecret: from-file\n")
	cfg, err := LoadWithEnv(path, env(map[string]string{
		"MODE":                          "live",
		"SIGNING_SECRET":                "legacy",
		"RECRUITFLOW_SIGNING_SECRET":    "prefixed",
		"ATS_BASE":                      "http://ats:8001",
		"RECRUITFLOW_STORAGE_PATH":      "/tmp/audit.db",
		"RECRUITFLOW_POLICY_PERMISSIVE": "true",
		"RECRUITFLOW_ATS_MAX_ATTEMPTS":  "7",
		"RECRUITFLOW_ATS_TIMEOUT":       "1500ms",
	}))
	require.NoError(t, err)
	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, "prefixed", cfg.SigningSecret)
	assert.Equal(t, "http://ats:8001", cfg.ATS.BaseURL)
	assert.Equal(t, Storage{Driver: StorageSQLite, Path: "/tmp/audit.db"}, cfg.Storage)
	assert.True(t, cfg.Policy.Permissive)
	assert.Equal(t, 7, cfg.ATS.MaxAttempts)
	assert.Equal(t, 1500*time.Millisecond, cfg.ATS.Timeout)
}

func TestLoad_BadEnv(t *testing.T) {
	tests := map[string]string{
		"RECRUITFLOW_POLICY_PERMISSIVE": "sometimes",
		"RECRUITFLOW_ATS_TIMEOUT":       "soon",
		"RECRUITFLOW_ATS_MAX_ATTEMPTS":  "many",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := LoadWithEnv("", env(map[string]string{key: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "staging" }, "mode"},
		{"secret", func(c *Config) { c.SigningSecret = " " }, "signingSecret"},
		{"sqlite path", func(c *Config) { c.Storage.Driver = StorageSQLite }, "storage.path"},
		{"driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"attempts", func(c *Config) { c.ATS.MaxAttempts = 0 }, "maxAttempts"},
		{"timeout", func(c *Config) { c.ATS.Timeout = 0 }, "ats.timeout"},
		{"live channel", func(c *Config) { c.Mode = ModeLive; c.Channel.BaseURL = "" }, "channel.baseURL"},
		{"poll", func(c *Config) { c.Stream.PollInterval = 0 }, "pollInterval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoad_SlotDay(t *testing.T) {
	cfg, err := LoadWithEnv(writeConfig(t, "funnel:\n  slotDay: 2025-08-29\n"), env(nil))
	require.NoError(t, err)
	day, ok := cfg.Funnel.SlotAnchor()
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 8, 29, 0, 0, 0, 0, time.UTC), day)

	cfg, err = LoadWithEnv("", env(map[string]string{"RECRUITFLOW_SLOT_DAY": "2026-01-05"}))
	require.NoError(t, err)
	assert.Equal(t, "2026-01-05", cfg.Funnel.SlotDay)

	_, ok = Default().Funnel.SlotAnchor()
	assert.False(t, ok)

	_, err = LoadWithEnv("", env(map[string]string{"RECRUITFLOW_SLOT_DAY": "29/08/2025"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "funnel.slotDay")
}
