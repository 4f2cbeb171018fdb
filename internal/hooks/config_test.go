package hooks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hooks.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"hooks": {
			"continue_on_error": false,
			"timeout_seconds": 30,
			"webhook_url": "https://hooks.example.com/proctor"
		}
	}`)
	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, config.ContinueOnError)
	assert.Equal(t, 30, config.TimeoutSeconds)
	assert.Equal(t, "https://hooks.example.com/proctor", config.WebhookURL)
}

func TestLoadConfig_NotFound(t *testing.T) {
	config, err := LoadConfig("/nonexistent/hooks.json")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestLoadConfig_PartialKeepsDefaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, `{"hooks": {"webhook_url": "http://x"}}`))
	require.NoError(t, err)
	assert.True(t, config.ContinueOnError)
	assert.Equal(t, 10, config.TimeoutSeconds)
}

func TestLoadConfig_MissingHooksSection(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, 10, config.TimeoutSeconds)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "{invalid json}"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `{"hooks": {"timeout_seconds": 900}}`))
	assert.Error(t, err)
}

func TestLoadConfigWithEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"hooks": {"timeout_seconds": 10}}`)
	t.Setenv("PROCTORD_HOOKS_CONTINUE_ON_ERROR", "false")
	t.Setenv("PROCTORD_HOOKS_TIMEOUT_SECONDS", "20")
	t.Setenv("PROCTORD_HOOKS_WEBHOOK_URL", "http://env.example.com")

	config, err := LoadConfigWithEnvOverride(path)
	require.NoError(t, err)
	assert.False(t, config.ContinueOnError)
	assert.Equal(t, 20, config.TimeoutSeconds)
	assert.Equal(t, "http://env.example.com", config.WebhookURL)
}

func TestLoadConfigWithEnvOverride_InvalidValues(t *testing.T) {
	path := writeConfig(t, `{"hooks": {"continue_on_error": true, "timeout_seconds": 10}}`)
	t.Setenv("PROCTORD_HOOKS_CONTINUE_ON_ERROR", "maybe")
	t.Setenv("PROCTORD_HOOKS_TIMEOUT_SECONDS", "soon")

	config, err := LoadConfigWithEnvOverride(path)
	require.NoError(t, err)
	assert.True(t, config.ContinueOnError, "file value kept when env var is invalid")
	assert.Equal(t, 10, config.TimeoutSeconds)
}

func TestLoadConfigWithEnvOverride_OutOfRange(t *testing.T) {
	path := writeConfig(t, `{"hooks": {"timeout_seconds": 10}}`)
	t.Setenv("PROCTORD_HOOKS_TIMEOUT_SECONDS", "0")

	_, err := LoadConfigWithEnvOverride(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_seconds")
}
