package violation

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AuditorConfig tunes delivery retries.
type AuditorConfig struct {
	RetryBase      time.Duration
	RetryMax       time.Duration
	AttemptsPerSec float64
}

// DefaultAuditorConfig returns 200ms..10s backoff at 20 attempts/s.
func DefaultAuditorConfig() AuditorConfig {
	return AuditorConfig{
		RetryBase:      200 * time.Millisecond,
		RetryMax:       10 * time.Second,
		AttemptsPerSec: 20,
	}
}

// Auditor delivers audit events to a sink in FIFO order from a single
// worker goroutine. Each event is retried until the sink accepts it or the
// auditor is closed.
type Auditor struct {
	sink    AuditSink
	cfg     AuditorConfig
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *Metrics

	mu      sync.Mutex
	queue   []AuditEvent
	pending int
	drained chan struct{}
	closed  bool

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewAuditor starts the delivery worker.
func NewAuditor(sink AuditSink, cfg AuditorConfig, logger *logging.Logger) *Auditor {
	def := DefaultAuditorConfig()
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}
	if cfg.AttemptsPerSec <= 0 {
		cfg.AttemptsPerSec = def.AttemptsPerSec
	}
	if logger == nil {
		logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Auditor{
		sink:    sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.AttemptsPerSec), 1),
		logger:  logger,
		metrics: NewMetrics(),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Enqueue adds an event without blocking. Events enqueued after Close are dropped.
func (a *Auditor) Enqueue(ev AuditEvent) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.metrics.AuditDropped.Inc()
		return
	}
	a.queue = append(a.queue, ev)
	a.pending++
	if a.drained == nil {
		a.drained = make(chan struct{})
	}
	a.mu.Unlock()
	a.metrics.AuditQueueDepth.Inc()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of events not yet acknowledged.
func (a *Auditor) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Flush blocks until every enqueued event was delivered or ctx ends.
func (a *Auditor) Flush(ctx context.Context) error {
	a.mu.Lock()
	ch := a.drained
	a.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes within ctx, then stops the worker. Undelivered events are
// counted as dropped.
func (a *Auditor) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		err = a.Flush(ctx)
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		a.cancel()
		<-a.done

		a.mu.Lock()
		dropped := len(a.queue)
		a.queue = nil
		a.pending = 0
		if a.drained != nil {
			close(a.drained)
			a.drained = nil
		}
		a.mu.Unlock()
		if dropped > 0 {
			a.metrics.AuditDropped.Add(float64(dropped))
			a.metrics.AuditQueueDepth.Sub(float64(dropped))
			a.logger.Error(context.Background(), "audit events dropped on close", zap.Int("count", dropped))
		}
	})
	return err
}

func (a *Auditor) run() {
	defer close(a.done)
	for {
		ev, ok := a.next()
		if !ok {
			select {
			case <-a.wake:
				continue
			case <-a.ctx.Done():
				return
			}
		}
		if !a.deliver(ev) {
			// Put it back for the drop accounting in Close.
			a.mu.Lock()
			a.queue = append([]AuditEvent{ev}, a.queue...)
			a.mu.Unlock()
			return
		}
		a.ack()
	}
}

func (a *Auditor) next() (AuditEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return AuditEvent{}, false
	}
	ev := a.queue[0]
	a.queue = a.queue[1:]
	return ev, true
}

func (a *Auditor) ack() {
	a.metrics.AuditDelivered.Inc()
	a.metrics.AuditQueueDepth.Dec()
	a.mu.Lock()
	a.pending--
	if a.pending == 0 && a.drained != nil {
		close(a.drained)
		a.drained = nil
	}
	a.mu.Unlock()
}

// deliver retries ev with exponential backoff. Returns false only when the
// auditor is stopped first.
func (a *Auditor) deliver(ev AuditEvent) bool {
	ctx := logging.WithSessionID(a.ctx, sessionOrUnknown(ev.SessionID))
	backoff := a.cfg.RetryBase
	for attempt := 1; ; attempt++ {
		if err := a.limiter.Wait(a.ctx); err != nil {
			return false
		}
		err := a.sink.LogIntegrityEvent(a.ctx, ev)
		if err == nil {
			return true
		}
		if a.ctx.Err() != nil {
			return false
		}

		a.metrics.AuditRetries.Inc()
		a.logger.Warn(ctx, "audit delivery failed, retrying",
			zap.String("event_id", ev.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-a.ctx.Done():
			timer.Stop()
			return false
		}
		backoff *= 2
		if backoff > a.cfg.RetryMax {
			backoff = a.cfg.RetryMax
		}
	}
}

func sessionOrUnknown(id string) string {
	if logging.ValidateID(id, "sessionID") != nil {
		return "unknown"
	}
	return id
}
