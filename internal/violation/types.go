package violation

import (
	"context"
	"time"
)

// Category classifies a violation.
type Category string

const (
	CategoryTabSwitch      Category = "TAB_SWITCH"
	CategoryWindowBlur     Category = "WINDOW_BLUR"
	CategoryFullScreenExit Category = "FULLSCREEN_EXIT"
	CategoryMultiScreen    Category = "MULTI_SCREEN"
	CategoryGaze           Category = "GAZE_DETECTED"
	CategoryCopyPaste      Category = "COPY_PASTE"
)

// AllCategories returns every known category.
func AllCategories() []Category {
	return []Category{
		CategoryTabSwitch,
		CategoryWindowBlur,
		CategoryFullScreenExit,
		CategoryMultiScreen,
		CategoryGaze,
		CategoryCopyPaste,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// focusLoss reports whether c is suppressed while a CODE question is active.
func (c Category) focusLoss() bool {
	return c == CategoryTabSwitch || c == CategoryWindowBlur
}

// Entry is one element of the violation log.
type Entry struct {
	Message   string            `json:"message"`
	Category  Category          `json:"category"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Counts is a snapshot of the tracker counters.
type Counts struct {
	General    int  `json:"general"`
	Screen     int  `json:"screen"`
	Suppressed int  `json:"suppressed"`
	Terminate  bool `json:"terminate"`
}

// Policy holds the termination thresholds.
type Policy struct {
	MaxViolations       int
	MaxScreenViolations int
}

// DefaultPolicy returns 11 general / 5 multi-screen.
func DefaultPolicy() Policy {
	return Policy{MaxViolations: 11, MaxScreenViolations: 5}
}

// Recorder is the write side of a Tracker, used by signal sources.
type Recorder interface {
	Record(ctx context.Context, message string, category Category, details map[string]string) int
}

// AuditEvent is the payload delivered to the audit sink.
type AuditEvent struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Category  Category          `json:"category"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuditSink durably stores integrity events. Implementations must tolerate
// duplicate delivery of the same event ID.
type AuditSink interface {
	LogIntegrityEvent(ctx context.Context, event AuditEvent) error
}
