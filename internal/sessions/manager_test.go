package sessions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/config"
	"github.com/fyrsmithlabs/proctord/internal/hooks"
	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/speech"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	results chan speech.Recognition
	once    sync.Once
}

func (s *fakeStream) Results() <-chan speech.Recognition { return s.results }
func (s *fakeStream) Err() error                         { return nil }

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.results) })
	return nil
}

type fakeDevice struct {
	mu       sync.Mutex
	displays int
	stopped  int
	spoken   []string
}

func (d *fakeDevice) Listen(context.Context, string) (speech.Stream, error) {
	return &fakeStream{results: make(chan speech.Recognition, 4)}, nil
}

func (d *fakeDevice) Speak(_ context.Context, text, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spoken = append(d.spoken, text)
	return nil
}

func (d *fakeDevice) EnterFullScreen(context.Context) error { return nil }

func (d *fakeDevice) DisplayCount(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displays, nil
}

func (d *fakeDevice) StopTracks(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
	return nil
}

func (d *fakeDevice) Stopped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

type fakePlatform struct {
	mu        sync.Mutex
	started   []string
	completed []string
	answers   []proctor.Answer
}

func (p *fakePlatform) StartSession(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, id)
	return nil
}

func (p *fakePlatform) CompleteSession(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, id)
	return nil
}

func (p *fakePlatform) SubmitAnswer(_ context.Context, a proctor.Answer) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = append(p.answers, a)
	return fmt.Sprintf("ans-%d", len(p.answers)), nil
}

func (p *fakePlatform) GradeAnswer(context.Context, string) (proctor.GradeResult, error) {
	return proctor.GradeResult{OK: true}, nil
}

func (p *fakePlatform) RunCode(_ context.Context, language, source string) (proctor.RunResult, error) {
	return proctor.RunResult{Stdout: language + ":" + source}, nil
}

func (p *fakePlatform) Translate(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

func (p *fakePlatform) Answers() []proctor.Answer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]proctor.Answer(nil), p.answers...)
}

type memorySink struct {
	mu     sync.Mutex
	events []violation.AuditEvent
}

func (s *memorySink) LogIntegrityEvent(_ context.Context, ev violation.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type hookRecorder struct {
	mu    sync.Mutex
	fired []hooks.HookType
	data  []map[string]any
}

func (r *hookRecorder) register(m *hooks.HookManager) {
	for _, ht := range []hooks.HookType{hooks.HookSessionStart, hooks.HookSessionCompleted, hooks.HookSessionTerminated} {
		m.RegisterHandler(ht, func(_ context.Context, data map[string]any) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fired = append(r.fired, ht)
			r.data = append(r.data, data)
			return nil
		})
	}
}

func (r *hookRecorder) Fired() []hooks.HookType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.HookType(nil), r.fired...)
}

type fixture struct {
	manager  *Manager
	device   *fakeDevice
	platform *fakePlatform
	sink     *memorySink
	hooks    *hookRecorder
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Proctor.SettleDelay = config.Duration(5 * time.Millisecond)
	cfg.Proctor.GazeCheckInterval = config.Duration(10 * time.Millisecond)
	cfg.Proctor.DisplayCheckInterval = 0
	cfg.Proctor.CallTimeout = config.Duration(time.Second)
	cfg.Audit.RetryBase = config.Duration(time.Millisecond)
	cfg.Audit.RetryMax = config.Duration(5 * time.Millisecond)
	cfg.Audit.AttemptsPerSec = 1000
	cfg.Audit.FlushTimeout = config.Duration(2 * time.Second)
	return cfg
}

func newFixture(t *testing.T, defaults []proctor.Question) *fixture {
	t.Helper()
	f := &fixture{
		device:   &fakeDevice{displays: 1},
		platform: &fakePlatform{},
		sink:     &memorySink{},
		hooks:    &hookRecorder{},
	}
	hm := hooks.NewHookManager(nil)
	f.hooks.register(hm)

	m, err := NewManager(Options{
		Config:    testConfig(),
		Devices:   DeviceProviderFunc(func(string) Device { return f.device }),
		Platform:  f.platform,
		AuditSink: f.sink,
		Hooks:     hm,
		Questions: func() []proctor.Question { return defaults },
	})
	require.NoError(t, err)
	f.manager = m
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return f
}

func oneQuestion() []proctor.Question {
	return []proctor.Question{{ID: "q1", Text: "Why Go?", Kind: proctor.KindText}}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)

	_, err = NewManager(Options{Config: testConfig()})
	assert.Error(t, err)

	_, err = NewManager(Options{Config: testConfig(), Devices: DeviceProviderFunc(func(string) Device { return nil })})
	assert.Error(t, err)
}

func TestManager_CreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, CreateRequest{Questions: oneQuestion()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.manager.Create(ctx, CreateRequest{CandidateID: "bad id!", Questions: oneQuestion()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.manager.Create(ctx, CreateRequest{CandidateID: "cand-1"})
	assert.ErrorIs(t, err, proctor.ErrNoQuestions)

	_, err = f.manager.Create(ctx, CreateRequest{CandidateID: "cand-1", InterviewLanguage: "not a language", Questions: oneQuestion()})
	assert.ErrorIs(t, err, proctor.ErrUnknownLanguage)

	assert.Empty(t, f.manager.List())
}

func TestManager_CompleteFiresHooks(t *testing.T) {
	f := newFixture(t, oneQuestion())
	ctx := context.Background()

	s, err := f.manager.Create(ctx, CreateRequest{CandidateID: "cand-1"})
	require.NoError(t, err)

	got, err := f.manager.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, s.Gate.Request(ctx))
	require.Eventually(t, func() bool {
		st, err := s.Orchestrator.Snapshot(ctx)
		return err == nil && st.Phase == proctor.PhaseActive
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, s.Orchestrator.Advance(ctx))
	waitDone(t, s)

	st, err := s.Orchestrator.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, proctor.PhaseCompleted, st.Phase)
	assert.NoError(t, s.Err())

	answers := f.platform.Answers()
	require.Len(t, answers, 1)
	assert.Equal(t, proctor.NoAnswerSentinel, answers[0].Text)
	assert.Equal(t, 1, f.device.Stopped())

	assert.Equal(t, []hooks.HookType{hooks.HookSessionStart, hooks.HookSessionCompleted}, f.hooks.Fired())

	_, finished := s.FinishedAt()
	assert.True(t, finished)
	assert.NotEmpty(t, s.Events())
}

func TestManager_TerminationDeliversAuditEvents(t *testing.T) {
	f := newFixture(t, oneQuestion())
	ctx := context.Background()

	s, err := f.manager.Create(ctx, CreateRequest{CandidateID: "cand-2"})
	require.NoError(t, err)

	for i := 0; i < 11; i++ {
		_, err := s.Orchestrator.ReportViolation(ctx, "tab hidden", violation.CategoryTabSwitch, nil)
		if err != nil {
			require.ErrorIs(t, err, proctor.ErrSessionFinished)
		}
	}
	waitDone(t, s)

	st, err := s.Orchestrator.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, proctor.PhaseTerminated, st.Phase)
	assert.Equal(t, 11, f.sink.Len())

	fired := f.hooks.Fired()
	require.Len(t, fired, 2)
	assert.Equal(t, hooks.HookSessionTerminated, fired[1])
	f.hooks.mu.Lock()
	assert.NotEmpty(t, f.hooks.data[1]["reason"])
	assert.Equal(t, s.ID, f.hooks.data[1]["session_id"])
	f.hooks.mu.Unlock()
}

func TestManager_GetUnknown(t *testing.T) {
	f := newFixture(t, oneQuestion())
	_, err := f.manager.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.manager.Cancel("missing"), ErrNotFound)
}

func TestManager_CancelAbandonsWithoutCompleting(t *testing.T) {
	f := newFixture(t, oneQuestion())
	ctx := context.Background()

	s, err := f.manager.Create(ctx, CreateRequest{CandidateID: "cand-3"})
	require.NoError(t, err)
	require.NoError(t, f.manager.Cancel(s.ID))
	waitDone(t, s)

	st, err := s.Orchestrator.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, proctor.PhaseAwaitingFullScreen, st.Phase)
	assert.NoError(t, s.Err())
	assert.Equal(t, 0, f.device.Stopped())
	assert.Equal(t, []hooks.HookType{hooks.HookSessionStart}, f.hooks.Fired())
}

func TestManager_Reap(t *testing.T) {
	f := newFixture(t, oneQuestion())
	ctx := context.Background()

	running, err := f.manager.Create(ctx, CreateRequest{CandidateID: "cand-4"})
	require.NoError(t, err)
	finished, err := f.manager.Create(ctx, CreateRequest{CandidateID: "cand-5"})
	require.NoError(t, err)
	require.NoError(t, f.manager.Cancel(finished.ID))
	waitDone(t, finished)

	assert.Len(t, f.manager.List(), 2)
	assert.Equal(t, 0, f.manager.Reap(time.Now()))
	assert.Equal(t, 1, f.manager.Reap(time.Now().Add(DefaultRetention+time.Minute)))

	list := f.manager.List()
	require.Len(t, list, 1)
	assert.Equal(t, running.ID, list[0].ID)
}

func TestManager_ShutdownStopsSessions(t *testing.T) {
	f := newFixture(t, oneQuestion())
	ctx := context.Background()

	s, err := f.manager.Create(ctx, CreateRequest{CandidateID: "cand-6"})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(shutdownCtx))

	select {
	case <-s.Done():
	default:
		t.Fatal("session still running after shutdown")
	}

	_, err = f.manager.Create(ctx, CreateRequest{CandidateID: "cand-7"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestManager_RequestQuestionsOverrideDefaults(t *testing.T) {
	f := newFixture(t, oneQuestion())
	ctx := context.Background()

	custom := []proctor.Question{
		{ID: "a", Text: "First", Kind: proctor.KindText},
		{ID: "b", Text: "Second", Kind: proctor.KindCode, CodeLanguage: "go"},
	}
	s, err := f.manager.Create(ctx, CreateRequest{CandidateID: "cand-8", Questions: custom})
	require.NoError(t, err)

	st, err := s.Orchestrator.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, st.Questions, 2)
	assert.Equal(t, "a", st.Questions[0].ID)
}
