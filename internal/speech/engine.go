package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/proctord/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrPermissionRevoked means the microphone permission was withdrawn.
	// Capture stops and is not restarted.
	ErrPermissionRevoked = errors.New("microphone permission revoked")

	// ErrAlreadyListening is returned by Start while capture is running.
	ErrAlreadyListening = errors.New("speech capture already running")

	// ErrAborted is returned by Start after Abort.
	ErrAborted = errors.New("speech engine aborted")

	// ErrUnavailable means the recognizer kept failing to open a stream.
	// Capture stops and is not restarted.
	ErrUnavailable = errors.New("speech recognizer unavailable")
)

// Recognition is one recognizer result.
type Recognition struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Stream is a single recognizer session. Results is closed when capture
// ends; Err then reports why (nil for a normal end such as a silence timeout).
type Stream interface {
	Results() <-chan Recognition
	Err() error
	Close() error
}

// Recognizer opens recognizer streams on the candidate device.
type Recognizer interface {
	Listen(ctx context.Context, locale string) (Stream, error)
}

// Result is the accumulated transcript.
type Result struct {
	FinalText   string `json:"final_text"`
	InterimText string `json:"interim_text"`
}

// Config tunes restart pacing.
type Config struct {
	RestartsPerSecond float64
	RestartBurst      int
	// MaxOpenFailures bounds consecutive failed stream opens.
	MaxOpenFailures   int
}

func DefaultConfig() Config {
	return Config{RestartsPerSecond: 2, RestartBurst: 3, MaxOpenFailures: 5}
}

// Engine manages one continuous capture at a time.
type Engine struct {
	recognizer Recognizer
	limiter    *rate.Limiter
	maxFails   int
	logger     *logging.Logger
	metrics    *Metrics

	results chan Result
	errs    chan error

	mu        sync.Mutex
	listening bool
	aborted   bool
	cancel    context.CancelFunc
	done      chan struct{}
	final     string
	interim   string
}

func NewEngine(recognizer Recognizer, cfg Config, logger *logging.Logger) *Engine {
	if cfg.RestartsPerSecond <= 0 {
		cfg.RestartsPerSecond = DefaultConfig().RestartsPerSecond
	}
	if cfg.RestartBurst <= 0 {
		cfg.RestartBurst = DefaultConfig().RestartBurst
	}
	if cfg.MaxOpenFailures <= 0 {
		cfg.MaxOpenFailures = DefaultConfig().MaxOpenFailures
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		recognizer: recognizer,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RestartsPerSecond), cfg.RestartBurst),
		maxFails:   cfg.MaxOpenFailures,
		logger:     logger,
		metrics:    NewMetrics(),
		results:    make(chan Result, 1),
		errs:       make(chan error, 4),
	}
}

// Results yields the accumulated transcript after every recognizer result.
// Only the latest value is buffered.
func (e *Engine) Results() <-chan Result { return e.results }

// Errors yields fatal capture errors: ErrPermissionRevoked or ErrUnavailable.
func (e *Engine) Errors() <-chan error { return e.errs }

// Listening reports whether capture is intended to be running.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// Transcript returns the accumulated transcript.
func (e *Engine) Transcript() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Result{FinalText: e.final, InterimText: e.interim}
}

// Reset clears the accumulated transcript.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.final, e.interim = "", ""
	e.mu.Unlock()
}

// Start begins continuous capture in locale. It does not wait for the
// recognizer; failures to open a stream are retried or reported on Errors.
func (e *Engine) Start(ctx context.Context, locale string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted {
		return ErrAborted
	}
	if e.listening {
		return ErrAlreadyListening
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.listening = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(runCtx, locale, e.done)

	e.logger.Debug(ctx, "speech capture started", zap.String("locale", locale))
	return nil
}

// Stop ends capture and waits for the capture goroutine to exit. Calling
// Stop when not listening is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return
	}
	done := e.halt()
	e.mu.Unlock()
	<-done
}

// Abort stops capture unconditionally and refuses later Starts. Idempotent.
func (e *Engine) Abort() {
	e.mu.Lock()
	e.aborted = true
	var done chan struct{}
	if e.listening {
		done = e.halt()
	}
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// halt cancels the capture goroutine. Caller holds mu.
func (e *Engine) halt() chan struct{} {
	e.listening = false
	e.cancel()
	e.cancel = nil
	return e.done
}

func (e *Engine) run(ctx context.Context, locale string, done chan struct{}) {
	defer close(done)

	first := true
	failures := 0
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
		if !first {
			e.metrics.Restarts.Inc()
			e.logger.Debug(ctx, "speech stream ended, restarting", zap.String("locale", locale))
		}
		first = false

		stream, err := e.recognizer.Listen(ctx, locale)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrPermissionRevoked) {
				e.fail(ctx, err)
				return
			}
			e.metrics.StreamErrors.Inc()
			e.logger.Warn(ctx, "speech stream failed to open", zap.Error(err))
			failures++
			if failures >= e.maxFails {
				e.fail(ctx, fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, failures, err))
				return
			}
			continue
		}
		failures = 0

		err = e.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrPermissionRevoked) {
			e.fail(ctx, err)
			return
		}
		if err != nil {
			e.metrics.StreamErrors.Inc()
			e.logger.Warn(ctx, "speech stream ended with error", zap.Error(err))
		}
	}
}

func (e *Engine) consume(ctx context.Context, stream Stream) error {
	results := stream.Results()
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-results:
			if !ok {
				return stream.Err()
			}
			e.apply(r)
		}
	}
}

func (e *Engine) apply(r Recognition) {
	e.mu.Lock()
	if r.Final {
		text := strings.TrimSpace(r.Text)
		switch {
		case text == "":
		case e.final == "":
			e.final = text
		default:
			e.final += " " + text
		}
		e.interim = ""
	} else {
		e.interim = r.Text
	}
	res := Result{FinalText: e.final, InterimText: e.interim}
	// Drop a stale unread value so the channel holds the latest transcript.
	select {
	case <-e.results:
	default:
	}
	e.results <- res
	e.mu.Unlock()
}

// fail stops capture after a fatal error and reports it.
func (e *Engine) fail(ctx context.Context, err error) {
	e.mu.Lock()
	if e.cancel != nil {
		e.listening = false
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()

	if errors.Is(err, ErrUnavailable) {
		e.metrics.Unavailable.Inc()
	} else {
		e.metrics.PermissionRevoked.Inc()
	}
	e.logger.Warn(ctx, "speech capture stopped", zap.Error(err))
	select {
	case e.errs <- err:
	default:
	}
}
