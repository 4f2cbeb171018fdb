package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the proctord config dir inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "proctord")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 11, cfg.Proctor.MaxViolations)
	assert.Equal(t, 5, cfg.Proctor.MaxScreenViolations)
	assert.Equal(t, 5*time.Second, cfg.Proctor.GazeAwayThreshold.Duration())
	assert.Equal(t, "nats", cfg.Audit.Backend)
	assert.Equal(t, 5, cfg.Speech.MaxOpenFailures)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero max violations", func(c *Config) { c.Proctor.MaxViolations = 0 }, "max_violations"},
		{"zero screen violations", func(c *Config) { c.Proctor.MaxScreenViolations = -1 }, "max_screen_violations"},
		{"zero gaze threshold", func(c *Config) { c.Proctor.GazeAwayThreshold = 0 }, "gaze_away_threshold"},
		{"unknown audit backend", func(c *Config) { c.Audit.Backend = "kafka" }, "audit.backend"},
		{"retry max below base", func(c *Config) { c.Audit.RetryMax = 1 }, "retry_base"},
		{"negative open failures", func(c *Config) { c.Speech.MaxOpenFailures = -1 }, "max_open_failures"},
		{"bad sample rate", func(c *Config) { c.Observability.SampleRate = 2 }, "sample_rate"},
		{"missing platform", func(c *Config) { c.Platform.BaseURL = "" }, "platform.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithFile_YAMLAndEnvOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")

	yamlContent := `server:
  http_port: 9300
proctor:
  max_violations: 7
  gaze_away_threshold: 3s
platform:
  base_url: http://platform.internal
  api_key: super-secret
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	t.Setenv("PROCTORD_PROCTOR_MAX_SCREEN_VIOLATIONS", "2")
	t.Setenv("PROCTORD_SERVER_HTTP_PORT", "9400")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Proctor.MaxViolations)
	assert.Equal(t, 2, cfg.Proctor.MaxScreenViolations)
	assert.Equal(t, 3*time.Second, cfg.Proctor.GazeAwayThreshold.Duration())
	assert.Equal(t, "http://platform.internal", cfg.Platform.BaseURL)
	assert.Equal(t, "super-secret", cfg.Platform.APIKey.Value())
	// Untouched fields fall back to defaults.
	assert.Equal(t, time.Second, cfg.Proctor.SettleDelay.Duration())
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9300\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_InvalidValueFailsValidation(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("PROCTORD_AUDIT_BACKEND", "carrier-pigeon")

	_, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.backend")
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
