package violation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tracker accumulates violations and decides termination.
type Tracker struct {
	sessionID string
	policy    Policy
	auditor   *Auditor
	logger    *logging.Logger
	metrics   *Metrics
	now       func() time.Time

	mu         sync.Mutex
	entries    []Entry
	general    int
	screen     int
	suppressed int
	codeActive bool
	terminate  bool
	reason     string
	terminated chan struct{}
	recorded   chan struct{}
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithAuditor forwards every recorded entry to a.
func WithAuditor(a *Auditor) TrackerOption {
	return func(t *Tracker) { t.auditor = a }
}

func WithLogger(l *logging.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker for one session.
func NewTracker(sessionID string, policy Policy, opts ...TrackerOption) *Tracker {
	if policy.MaxViolations <= 0 {
		policy.MaxViolations = DefaultPolicy().MaxViolations
	}
	if policy.MaxScreenViolations <= 0 {
		policy.MaxScreenViolations = DefaultPolicy().MaxScreenViolations
	}
	t := &Tracker{
		sessionID:  sessionID,
		policy:     policy,
		logger:     logging.Nop(),
		metrics:    NewMetrics(),
		now:        time.Now,
		terminated: make(chan struct{}),
		recorded:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends a violation and returns the general count. Focus-loss
// categories are dropped while a CODE question is active; the unchanged
// count is returned.
func (t *Tracker) Record(ctx context.Context, message string, category Category, details map[string]string) int {
	t.mu.Lock()
	if t.codeActive && category.focusLoss() {
		t.suppressed++
		count := t.general
		t.mu.Unlock()
		t.metrics.Suppressed.WithLabelValues(string(category)).Inc()
		t.logger.Debug(ctx, "violation suppressed during code question", zap.String("category", string(category)))
		return count
	}

	entry := Entry{
		Message:   message,
		Category:  category,
		Details:   copyDetails(details),
		Timestamp: t.now(),
	}
	t.entries = append(t.entries, entry)
	t.general++
	if category == CategoryMultiScreen {
		t.screen++
	}
	general, screen := t.general, t.screen
	flipped := t.evaluate()
	reason := t.reason
	t.mu.Unlock()

	select {
	case t.recorded <- struct{}{}:
	default:
	}

	t.metrics.Recorded.WithLabelValues(string(category)).Inc()
	t.logger.Info(ctx, "violation recorded",
		zap.String("category", string(category)),
		zap.Int("count", general),
		zap.Int("screen_count", screen),
	)

	if t.auditor != nil {
		t.auditor.Enqueue(AuditEvent{
			ID:        uuid.NewString(),
			SessionID: t.sessionID,
			Category:  category,
			Message:   message,
			Details:   entry.Details,
			Timestamp: entry.Timestamp,
		})
	}

	if flipped {
		t.metrics.Terminations.Inc()
		t.logger.Warn(ctx, "violation threshold reached", zap.String("reason", reason))
	}
	return general
}

// evaluate flips the sticky termination flag. Caller holds mu.
func (t *Tracker) evaluate() bool {
	if t.terminate {
		return false
	}
	switch {
	case t.screen >= t.policy.MaxScreenViolations:
		t.reason = fmt.Sprintf("multiple displays detected %d times", t.screen)
	case t.general >= t.policy.MaxViolations:
		t.reason = fmt.Sprintf("%d integrity violations recorded", t.general)
	default:
		return false
	}
	t.terminate = true
	close(t.terminated)
	return true
}

// ShouldTerminate reports whether a threshold has been reached. Sticky.
func (t *Tracker) ShouldTerminate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminate
}

// Terminated is closed exactly once, when ShouldTerminate becomes true.
func (t *Tracker) Terminated() <-chan struct{} {
	return t.terminated
}

// Recorded is signalled after entries are appended. Signals coalesce; read
// EntriesSince to see every new entry.
func (t *Tracker) Recorded() <-chan struct{} {
	return t.recorded
}

// Reason names the threshold that was crossed, or "".
func (t *Tracker) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// SetCodeQuestionActive toggles focus-loss suppression.
func (t *Tracker) SetCodeQuestionActive(active bool) {
	t.mu.Lock()
	t.codeActive = active
	t.mu.Unlock()
}

// Entries returns a copy of the violation log.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// EntriesSince returns a copy of the entries after the first n.
func (t *Tracker) EntriesSince(n int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n >= len(t.entries) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	out := make([]Entry, len(t.entries)-n)
	copy(out, t.entries[n:])
	return out
}

func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counts{
		General:    t.general,
		Screen:     t.screen,
		Suppressed: t.suppressed,
		Terminate:  t.terminate,
	}
}

// Flush waits until every recorded entry reached the audit sink.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.auditor == nil {
		return nil
	}
	return t.auditor.Flush(ctx)
}

func copyDetails(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
