// Package config provides configuration loading for proctord.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file and
// environment variables (highest precedence). See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete proctord configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Proctor       ProctorConfig       `koanf:"proctor"`
	Speech        SpeechConfig        `koanf:"speech"`
	Audit         AuditConfig         `koanf:"audit"`
	Platform      PlatformConfig      `koanf:"platform"`
	NATS          NATSConfig          `koanf:"nats"`
	QuestionBank  QuestionBankConfig  `koanf:"questionbank"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`

	// EnableMetrics exports HTTP request metrics over OTLP alongside traces.
	EnableMetrics   bool     `koanf:"enable_metrics"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// LoggingConfig holds the subset of logger settings exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ProctorConfig holds integrity policy thresholds and session timings.
type ProctorConfig struct {
	// MaxViolations is the general violation count that forces termination.
	MaxViolations int `koanf:"max_violations"`

	// MaxScreenViolations is the MULTI_SCREEN count that forces termination.
	MaxScreenViolations int `koanf:"max_screen_violations"`

	// GazeAwayThreshold is how long a gaze excursion may last before it is a violation.
	GazeAwayThreshold Duration `koanf:"gaze_away_threshold"`

	// GazeCheckInterval drives excursion timing when no frames arrive.
	GazeCheckInterval Duration `koanf:"gaze_check_interval"`

	// DisplayCheckInterval is how often attached displays are probed. Zero disables.
	DisplayCheckInterval Duration `koanf:"display_check_interval"`

	// SettleDelay separates stopping a recording from submitting the answer.
	SettleDelay Duration `koanf:"settle_delay"`

	// CallTimeout bounds every collaborator call made by the orchestrator.
	CallTimeout Duration `koanf:"call_timeout"`

	// InterviewLanguage is the default candidate language when a session does not set one.
	InterviewLanguage string `koanf:"interview_language"`

	// EventBuffer is the capacity of each session's caller-facing event stream.
	EventBuffer int `koanf:"event_buffer"`
}

// SpeechConfig controls capture restart pacing.
type SpeechConfig struct {
	RestartsPerSecond float64 `koanf:"restarts_per_second"`
	RestartBurst      int     `koanf:"restart_burst"`
	// MaxOpenFailures is how many consecutive stream opens may fail before
	// capture gives up.
	MaxOpenFailures   int     `koanf:"max_open_failures"`
}

// AuditConfig controls integrity event delivery.
type AuditConfig struct {
	Backend        string   `koanf:"backend"` // "nats" or "platform"
	RetryBase      Duration `koanf:"retry_base"`
	RetryMax       Duration `koanf:"retry_max"`
	FlushTimeout   Duration `koanf:"flush_timeout"`
	AttemptsPerSec float64  `koanf:"attempts_per_sec"`
}

// PlatformConfig points at the placement platform API (answers, grading, translation).
type PlatformConfig struct {
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	RateBurst int      `koanf:"rate_burst"`
}

// NATSConfig configures the device bridge and audit stream.
type NATSConfig struct {
	URL            string   `koanf:"url"`
	SubjectPrefix  string   `koanf:"subject_prefix"`
	AuditStream    string   `koanf:"audit_stream"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// QuestionBankConfig locates the default question bank.
type QuestionBankConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Service name is empty (when telemetry is enabled)
//   - A proctor threshold is not positive
//   - The audit backend is unknown
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1, got %f", c.Observability.SampleRate)
	}

	p := c.Proctor
	if p.MaxViolations < 1 {
		return fmt.Errorf("proctor.max_violations must be positive, got %d", p.MaxViolations)
	}
	if p.MaxScreenViolations < 1 {
		return fmt.Errorf("proctor.max_screen_violations must be positive, got %d", p.MaxScreenViolations)
	}
	if p.GazeAwayThreshold <= 0 {
		return errors.New("proctor.gaze_away_threshold must be positive")
	}
	if p.GazeCheckInterval <= 0 {
		return errors.New("proctor.gaze_check_interval must be positive")
	}
	if p.DisplayCheckInterval < 0 {
		return errors.New("proctor.display_check_interval cannot be negative")
	}
	if p.SettleDelay < 0 {
		return errors.New("proctor.settle_delay cannot be negative")
	}
	if p.CallTimeout <= 0 {
		return errors.New("proctor.call_timeout must be positive")
	}
	if p.EventBuffer < 1 {
		return fmt.Errorf("proctor.event_buffer must be positive, got %d", p.EventBuffer)
	}

	if c.Speech.RestartsPerSecond <= 0 || c.Speech.RestartBurst < 1 {
		return errors.New("speech restart rate and burst must be positive")
	}
	if c.Speech.MaxOpenFailures < 1 {
		return fmt.Errorf("speech.max_open_failures must be positive, got %d", c.Speech.MaxOpenFailures)
	}

	switch c.Audit.Backend {
	case "nats", "platform":
	default:
		return fmt.Errorf("audit.backend must be 'nats' or 'platform', got %q", c.Audit.Backend)
	}
	if c.Audit.RetryBase <= 0 || c.Audit.RetryMax < c.Audit.RetryBase {
		return errors.New("audit retry_base must be positive and not exceed retry_max")
	}

	if c.Platform.BaseURL == "" {
		return errors.New("platform.base_url is required")
	}
	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "proctord"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	p := &cfg.Proctor
	if p.MaxViolations == 0 {
		p.MaxViolations = 11
	}
	if p.MaxScreenViolations == 0 {
		p.MaxScreenViolations = 5
	}
	if p.GazeAwayThreshold == 0 {
		p.GazeAwayThreshold = Duration(5 * time.Second)
	}
	if p.GazeCheckInterval == 0 {
		p.GazeCheckInterval = Duration(250 * time.Millisecond)
	}
	if p.DisplayCheckInterval == 0 {
		p.DisplayCheckInterval = Duration(2 * time.Second)
	}
	if p.SettleDelay == 0 {
		p.SettleDelay = Duration(time.Second)
	}
	if p.CallTimeout == 0 {
		p.CallTimeout = Duration(15 * time.Second)
	}
	if p.InterviewLanguage == "" {
		p.InterviewLanguage = "English"
	}
	if p.EventBuffer == 0 {
		p.EventBuffer = 64
	}

	if cfg.Speech.RestartsPerSecond == 0 {
		cfg.Speech.RestartsPerSecond = 2
	}
	if cfg.Speech.RestartBurst == 0 {
		cfg.Speech.RestartBurst = 3
	}
	if cfg.Speech.MaxOpenFailures == 0 {
		cfg.Speech.MaxOpenFailures = 5
	}

	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = "nats"
	}
	if cfg.Audit.RetryBase == 0 {
		cfg.Audit.RetryBase = Duration(200 * time.Millisecond)
	}
	if cfg.Audit.RetryMax == 0 {
		cfg.Audit.RetryMax = Duration(10 * time.Second)
	}
	if cfg.Audit.FlushTimeout == 0 {
		cfg.Audit.FlushTimeout = Duration(5 * time.Second)
	}
	if cfg.Audit.AttemptsPerSec == 0 {
		cfg.Audit.AttemptsPerSec = 20
	}

	if cfg.Platform.BaseURL == "" {
		cfg.Platform.BaseURL = "http://localhost:8080"
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = Duration(10 * time.Second)
	}
	if cfg.Platform.RateLimit == 0 {
		cfg.Platform.RateLimit = 20
	}
	if cfg.Platform.RateBurst == 0 {
		cfg.Platform.RateBurst = 5
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "proctor"
	}
	if cfg.NATS.AuditStream == "" {
		cfg.NATS.AuditStream = "PROCTOR_AUDIT"
	}
	if cfg.NATS.RequestTimeout == 0 {
		cfg.NATS.RequestTimeout = Duration(5 * time.Second)
	}
}
