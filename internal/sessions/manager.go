// Package sessions creates, runs and reaps proctored interview sessions.
//
// A Manager assembles one orchestrator per session from configuration, a
// device provider (the candidate's browser capabilities) and the platform
// collaborators, then runs it until it completes, is terminated or the
// manager shuts down. Lifecycle hooks fire on start and on finish.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/config"
	"github.com/fyrsmithlabs/proctord/internal/fullscreen"
	"github.com/fyrsmithlabs/proctord/internal/gaze"
	"github.com/fyrsmithlabs/proctord/internal/hooks"
	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/narration"
	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/speech"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidRequest is returned for malformed create requests.
	ErrInvalidRequest = errors.New("invalid session request")

	// ErrShuttingDown is returned by Create after Shutdown.
	ErrShuttingDown = errors.New("session manager shutting down")
)

const (
	// DefaultRetention is how long a finished session stays queryable.
	DefaultRetention = 30 * time.Minute

	recentEvents = 128
)

// Device is the set of capabilities the candidate's browser exposes.
type Device interface {
	speech.Recognizer
	narration.Synthesizer
	fullscreen.Presenter
	fullscreen.DisplayProbe
	proctor.MediaSession
}

// DeviceProvider returns the device bound to a session.
type DeviceProvider interface {
	Device(sessionID string) Device
}

// DeviceProviderFunc adapts a function to DeviceProvider.
type DeviceProviderFunc func(sessionID string) Device

func (f DeviceProviderFunc) Device(sessionID string) Device { return f(sessionID) }

// Platform is the interview platform as seen by a session.
type Platform interface {
	proctor.Lifecycle
	proctor.AnswerSubmitter
	proctor.Grader
	proctor.CodeRunner
	narration.Translator
}

// Options configures a Manager. AuditSink and Hooks are optional.
type Options struct {
	Config    *config.Config
	Devices   DeviceProvider
	Platform  Platform
	AuditSink violation.AuditSink
	Hooks     *hooks.HookManager

	// Questions supplies the default question set for requests that carry none.
	Questions func() []proctor.Question

	Logger    *logging.Logger
	Retention time.Duration
}

// CreateRequest describes a new session.
type CreateRequest struct {
	CandidateID       string             `json:"candidate_id"`
	InterviewLanguage string             `json:"interview_language,omitempty"`
	Questions         []proctor.Question `json:"questions,omitempty"`
}

// Session is one running or finished interview.
type Session struct {
	ID           string
	CandidateID  string
	CreatedAt    time.Time
	Orchestrator *proctor.Orchestrator
	Gate         *fullscreen.Gate
	Tracker      *violation.Tracker

	auditor *violation.Auditor
	cancel  context.CancelFunc
	done    chan struct{}

	mu         sync.Mutex
	events     []proctor.Event
	finishedAt time.Time
	runErr     error
}

// Done is closed once the session loop has returned and its audit queue
// has been flushed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Events returns the most recent caller events, oldest first.
func (s *Session) Events() []proctor.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proctor.Event(nil), s.events...)
}

// FinishedAt reports when the session loop returned.
func (s *Session) FinishedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt, !s.finishedAt.IsZero()
}

// Err is the error Run returned, nil for completed or terminated sessions.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

func (s *Session) record(ev proctor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == recentEvents {
		copy(s.events, s.events[1:])
		s.events = s.events[:recentEvents-1]
	}
	s.events = append(s.events, ev)
}

// Manager owns every session of the process.
type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager validates opts and creates an empty manager.
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("config required")
	case opts.Devices == nil:
		return nil, errors.New("device provider required")
	case opts.Platform == nil:
		return nil, errors.New("platform required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        opts.Config,
		opts:       opts,
		logger:     opts.Logger.Named("sessions"),
		now:        time.Now,
		baseCtx:    ctx,
		baseCancel: cancel,
		sessions:   make(map[string]*Session),
	}, nil
}

// Create builds a session and starts its loop. The session waits for full
// screen before narrating the first question.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if err := logging.ValidateID(req.CandidateID, "candidate_id"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	questions := req.Questions
	if len(questions) == 0 && m.opts.Questions != nil {
		questions = m.opts.Questions()
	}
	language := req.InterviewLanguage
	if language == "" {
		language = m.cfg.Proctor.InterviewLanguage
	}

	id := uuid.NewString()
	s, err := m.build(id, req.CandidateID, language, questions)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.closeAuditor(ctx, s)
		return nil, ErrShuttingDown
	}
	runCtx, cancel := context.WithCancel(m.baseCtx)
	s.cancel = cancel
	m.sessions[id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info(logging.WithSessionID(ctx, id), "session created",
		zap.String("candidate_id", req.CandidateID),
		zap.String("language", language),
		zap.Int("questions", len(questions)))

	go m.run(runCtx, s)
	return s, nil
}

func (m *Manager) build(id, candidateID, language string, questions []proctor.Question) (*Session, error) {
	p := m.cfg.Proctor
	logger := m.opts.Logger.With(zap.String("session_id", id))
	device := m.opts.Devices.Device(id)

	var auditor *violation.Auditor
	trackerOpts := []violation.TrackerOption{violation.WithLogger(logger)}
	if m.opts.AuditSink != nil {
		auditor = violation.NewAuditor(m.opts.AuditSink, violation.AuditorConfig{
			RetryBase:      m.cfg.Audit.RetryBase.Duration(),
			RetryMax:       m.cfg.Audit.RetryMax.Duration(),
			AttemptsPerSec: m.cfg.Audit.AttemptsPerSec,
		}, logger)
		trackerOpts = append(trackerOpts, violation.WithAuditor(auditor))
	}

	tracker := violation.NewTracker(id, violation.Policy{
		MaxViolations:       p.MaxViolations,
		MaxScreenViolations: p.MaxScreenViolations,
	}, trackerOpts...)
	gate := fullscreen.NewGate(device, tracker, logger)

	var screens *fullscreen.ScreenWatcher
	if p.DisplayCheckInterval > 0 {
		screens = fullscreen.NewScreenWatcher(device, tracker, p.DisplayCheckInterval.Duration(), logger)
	}

	orch, err := proctor.New(proctor.Config{
		SessionID:         id,
		CandidateID:       candidateID,
		InterviewLanguage: language,
		SettleDelay:       p.SettleDelay.Duration(),
		GazeCheckInterval: p.GazeCheckInterval.Duration(),
		CallTimeout:       p.CallTimeout.Duration(),
		EventBuffer:       p.EventBuffer,
	}, questions, proctor.Deps{
		Tracker: tracker,
		Gate:    gate,
		Screens: screens,
		Gaze:    gaze.NewMonitor(tracker, p.GazeAwayThreshold.Duration(), logger),
		Speech: speech.NewEngine(device, speech.Config{
			RestartsPerSecond: m.cfg.Speech.RestartsPerSecond,
			RestartBurst:      m.cfg.Speech.RestartBurst,
			MaxOpenFailures:   m.cfg.Speech.MaxOpenFailures,
		}, logger),
		Narrator:  narration.NewNarrator(narration.NewController(device, logger), m.opts.Platform, logger),
		Lifecycle: m.opts.Platform,
		Submitter: m.opts.Platform,
		Grader:    m.opts.Platform,
		Runner:    m.opts.Platform,
		Media:     device,
		Logger:    logger,
	})
	if err != nil {
		if auditor != nil {
			_ = auditor.Close(context.Background())
		}
		return nil, err
	}

	return &Session{
		ID:           id,
		CandidateID:  candidateID,
		CreatedAt:    m.now(),
		Orchestrator: orch,
		Gate:         gate,
		Tracker:      tracker,
		auditor:      auditor,
		done:         make(chan struct{}),
	}, nil
}

func (m *Manager) run(ctx context.Context, s *Session) {
	defer m.wg.Done()
	defer close(s.done)
	ctx = logging.WithSessionID(ctx, s.ID)

	m.fire(ctx, hooks.HookSessionStart, s, nil)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range s.Orchestrator.Events() {
			s.record(ev)
		}
	}()

	runErr := s.Orchestrator.Run(ctx)
	<-drained

	finishCtx := context.WithoutCancel(ctx)
	state, err := s.Orchestrator.Snapshot(finishCtx)
	if err != nil {
		m.logger.Warn(ctx, "final session state unavailable", zap.Error(err))
	}
	switch state.Phase {
	case proctor.PhaseCompleted:
		m.fire(finishCtx, hooks.HookSessionCompleted, s, nil)
	case proctor.PhaseTerminated:
		m.fire(finishCtx, hooks.HookSessionTerminated, s, map[string]any{"reason": state.TerminationReason})
	}

	m.closeAuditor(finishCtx, s)

	s.mu.Lock()
	s.finishedAt = m.now()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		s.runErr = runErr
	}
	s.mu.Unlock()

	m.logger.Info(ctx, "session finished", zap.String("phase", string(state.Phase)))
}

func (m *Manager) closeAuditor(ctx context.Context, s *Session) {
	if s.auditor == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(ctx, m.cfg.Audit.FlushTimeout.Duration())
	defer cancel()
	if err := s.auditor.Close(flushCtx); err != nil {
		m.logger.Error(ctx, "audit queue not drained before flush timeout", zap.Error(err))
	}
}

func (m *Manager) fire(ctx context.Context, hook hooks.HookType, s *Session, extra map[string]any) {
	if m.opts.Hooks == nil {
		return
	}
	data := map[string]any{
		"session_id":   s.ID,
		"candidate_id": s.CandidateID,
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := m.opts.Hooks.Execute(ctx, hook, data); err != nil {
		m.logger.Warn(ctx, "lifecycle hook failed", zap.String("hook", string(hook)), zap.Error(err))
	}
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Cancel abandons a running session. The session is neither completed nor
// terminated; its loop returns and its capture is released.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.cancel()
	return nil
}

// List returns all known sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Reap forgets sessions that finished more than the retention period
// before now and returns how many were removed.
func (m *Manager) Reap(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if at, ok := s.FinishedAt(); ok && now.Sub(at) > m.opts.Retention {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run reaps finished sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.opts.Retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Reap(m.now()); n > 0 {
				m.logger.Debug(ctx, "reaped finished sessions", zap.Int("count", n))
			}
		}
	}
}

// Shutdown stops accepting sessions, cancels running ones and waits for
// their loops to return and their audit queues to flush.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.baseCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}
