package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// HookType represents different lifecycle hooks
type HookType string

const (
	// HookSessionStart is called when a session is created
	HookSessionStart HookType = "session_start"

	// HookSessionCompleted is called when every question was answered
	HookSessionCompleted HookType = "session_completed"

	// HookSessionTerminated is called when integrity violations ended a session
	HookSessionTerminated HookType = "session_terminated"
)

// Valid reports whether t is a known hook type.
func (t HookType) Valid() bool {
	switch t {
	case HookSessionStart, HookSessionCompleted, HookSessionTerminated:
		return true
	}
	return false
}

// Config holds hook configuration
type Config struct {
	// ContinueOnError runs the remaining handlers after one fails
	ContinueOnError bool `json:"continue_on_error"`

	// TimeoutSeconds bounds each handler (1-300)
	TimeoutSeconds int `json:"timeout_seconds"`

	// WebhookURL receives every event as a JSON POST when set
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 300 {
		return fmt.Errorf("timeout_seconds must be between 1 and 300, got %d", c.TimeoutSeconds)
	}
	return nil
}

// Timeout returns the per-handler timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HookHandler is a function that handles a hook event
type HookHandler func(ctx context.Context, data map[string]any) error

// HookManager manages lifecycle hooks
type HookManager struct {
	config *Config

	mu       sync.RWMutex
	handlers map[HookType][]HookHandler
}

// NewHookManager creates a new hook manager
func NewHookManager(config *Config) *HookManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &HookManager{
		config:   config,
		handlers: make(map[HookType][]HookHandler),
	}
}

// RegisterHandler registers a handler for a hook type
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// RegisterAll registers handler for every hook type.
func (h *HookManager) RegisterAll(handler HookHandler) {
	for _, t := range []HookType{HookSessionStart, HookSessionCompleted, HookSessionTerminated} {
		h.RegisterHandler(t, handler)
	}
}

// Execute executes all handlers for the given hook type
func (h *HookManager) Execute(ctx context.Context, hookType HookType, data map[string]any) error {
	h.mu.RLock()
	handlers := append([]HookHandler(nil), h.handlers[hookType]...)
	h.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		hctx, cancel := context.WithTimeout(ctx, h.config.Timeout())
		err := handler(hctx, data)
		cancel()
		if err == nil {
			continue
		}
		err = fmt.Errorf("hook %s failed: %w", hookType, err)
		if !h.config.ContinueOnError {
			return err
		}
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Config returns the hook configuration
func (h *HookManager) Config() *Config {
	return h.config
}
