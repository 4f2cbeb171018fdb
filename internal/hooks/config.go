package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ConfigFile represents the structure of the config file
type ConfigFile struct {
	Hooks *Config `json:"hooks"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ContinueOnError: true,
		TimeoutSeconds:  10,
	}
}

// LoadConfig loads configuration from a JSON file
// Returns default config if file doesn't exist
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	configFile := ConfigFile{Hooks: DefaultConfig()}
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Use default if hooks section missing
	if configFile.Hooks == nil {
		return DefaultConfig(), nil
	}

	if err := configFile.Hooks.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return configFile.Hooks, nil
}

// LoadConfigWithEnvOverride loads config from file and applies environment variable overrides
func LoadConfigWithEnvOverride(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if val := os.Getenv("PROCTORD_HOOKS_CONTINUE_ON_ERROR"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.ContinueOnError = b
		}
	}

	if val := os.Getenv("PROCTORD_HOOKS_TIMEOUT_SECONDS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.TimeoutSeconds = i
		}
	}

	if val := os.Getenv("PROCTORD_HOOKS_WEBHOOK_URL"); val != "" {
		config.WebhookURL = val
	}

	// Validate after env overrides
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config after env override: %w", err)
	}

	return config, nil
}
