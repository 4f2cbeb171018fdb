package proctor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/fullscreen"
	"github.com/fyrsmithlabs/proctord/internal/gaze"
	"github.com/fyrsmithlabs/proctord/internal/narration"
	"github.com/fyrsmithlabs/proctord/internal/speech"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) StartSession(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLifecycle) CompleteSession(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockMedia struct {
	mock.Mock
}

func (m *MockMedia) StopTracks(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// fakePlatform implements AnswerSubmitter, Grader and CodeRunner.
type fakePlatform struct {
	mu          sync.Mutex
	answers     []Answer
	graded      []string
	submitErr   error
	grade       GradeResult
	gradeErr    error
	blockSubmit chan struct{}
}

func (f *fakePlatform) SubmitAnswer(ctx context.Context, a Answer) (string, error) {
	if f.blockSubmit != nil {
		select {
		case <-f.blockSubmit:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.answers = append(f.answers, a)
	return fmt.Sprintf("ans-%d", len(f.answers)), nil
}

func (f *fakePlatform) GradeAnswer(_ context.Context, id string) (GradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graded = append(f.graded, id)
	if f.gradeErr != nil {
		return GradeResult{}, f.gradeErr
	}
	if !f.grade.RateLimited {
		return GradeResult{OK: true}, nil
	}
	return f.grade, nil
}

func (f *fakePlatform) RunCode(_ context.Context, language, source string) (RunResult, error) {
	return RunResult{Stdout: language + ":" + source}, nil
}

func (f *fakePlatform) Answers() []Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Answer(nil), f.answers...)
}

func (f *fakePlatform) Graded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.graded...)
}

type fakePresenter struct{}

func (fakePresenter) EnterFullScreen(context.Context) error { return nil }

type fakeSynth struct {
	mu     sync.Mutex
	spoken []string
}

func (f *fakeSynth) Speak(_ context.Context, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeSynth) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type fakeStream struct {
	results chan speech.Recognition
	once    sync.Once
	mu      sync.Mutex
	err     error
}

func (s *fakeStream) Results() <-chan speech.Recognition { return s.results }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error { return nil }

func (s *fakeStream) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.results)
	})
}

type fakeRecognizer struct {
	mu      sync.Mutex
	streams []*fakeStream
	openErr error
}

func (r *fakeRecognizer) Listen(context.Context, string) (speech.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	s := &fakeStream{results: make(chan speech.Recognition, 8)}
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *fakeRecognizer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (r *fakeRecognizer) latest() *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[len(r.streams)-1]
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeProbe struct {
	displays int
}

func (p fakeProbe) DisplayCount(context.Context) (int, error) { return p.displays, nil }

type harness struct {
	o          *Orchestrator
	clock      *testClock
	tracker    *violation.Tracker
	gate       *fullscreen.Gate
	recognizer *fakeRecognizer
	synth      *fakeSynth
	platform   *fakePlatform
	lifecycle  *MockLifecycle
	media      *MockMedia

	cancel   context.CancelFunc
	runErr   chan error
	stopOnce sync.Once
	stopErr  error

	eventsMu sync.Mutex
	events   []Event
}

func textQuestions(n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = Question{ID: fmt.Sprintf("q%d", i), Text: fmt.Sprintf("Question %d?", i), Kind: KindText}
	}
	return qs
}

func newHarness(t *testing.T, questions []Question, opts ...func(*Deps)) *harness {
	t.Helper()

	h := &harness{
		clock:      &testClock{now: time.Now()},
		recognizer: &fakeRecognizer{},
		synth:      &fakeSynth{},
		platform:   &fakePlatform{},
		lifecycle:  new(MockLifecycle),
		media:      new(MockMedia),
		runErr:     make(chan error, 1),
	}
	h.lifecycle.On("StartSession", mock.Anything, "sess-1").Return(nil)
	h.lifecycle.On("CompleteSession", mock.Anything, "sess-1").Return(nil)
	h.media.On("StopTracks", mock.Anything).Return(nil)

	h.tracker = violation.NewTracker("sess-1", violation.DefaultPolicy())
	h.gate = fullscreen.NewGate(fakePresenter{}, h.tracker, nil)

	deps := Deps{
		Tracker:   h.tracker,
		Gate:      h.gate,
		Gaze:      gaze.NewMonitor(h.tracker, 5*time.Second, nil),
		Speech:    speech.NewEngine(h.recognizer, speech.Config{RestartsPerSecond: 1000, RestartBurst: 10}, nil),
		Narrator:  narration.NewNarrator(narration.NewController(h.synth, nil), nil, nil),
		Lifecycle: h.lifecycle,
		Submitter: h.platform,
		Grader:    h.platform,
		Runner:    h.platform,
		Media:     h.media,
		Clock:     h.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	o, err := New(Config{
		SessionID:         "sess-1",
		CandidateID:       "cand-1",
		InterviewLanguage: "English",
		SettleDelay:       5 * time.Millisecond,
		GazeCheckInterval: 10 * time.Millisecond,
		CallTimeout:       time.Second,
		EventBuffer:       256,
	}, questions, deps)
	require.NoError(t, err)
	h.o = o
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		for ev := range h.o.Events() {
			h.eventsMu.Lock()
			h.events = append(h.events, ev)
			h.eventsMu.Unlock()
		}
	}()
	go func() { h.runErr <- h.o.Run(ctx) }()
}

// stop cancels Run and returns its error.
func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.stopOnce.Do(func() {
		if h.cancel == nil {
			return
		}
		h.cancel()
		select {
		case h.stopErr = <-h.runErr:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return")
		}
	})
	return h.stopErr
}

func (h *harness) enterFullScreen(t *testing.T) {
	t.Helper()
	require.NoError(t, h.gate.Request(context.Background()))
	h.waitState(t, func(s State) bool { return s.Phase == PhaseActive })
}

func (h *harness) waitState(t *testing.T, cond func(State) bool) State {
	t.Helper()
	var last State
	require.Eventually(t, func() bool {
		s, err := h.o.Snapshot(context.Background())
		if err != nil {
			return false
		}
		last = s
		return cond(s)
	}, 2*time.Second, 2*time.Millisecond, "state never matched")
	return last
}

func (h *harness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

// answer records text as the spoken answer to the current question.
func (h *harness) answer(t *testing.T, text string) {
	t.Helper()
	before := h.recognizer.count()
	require.NoError(t, h.o.StartRecording(context.Background()))
	require.Eventually(t, func() bool { return h.recognizer.count() > before }, time.Second, time.Millisecond)

	h.recognizer.latest().results <- speech.Recognition{Text: text, Final: true}
	h.waitState(t, func(s State) bool { return s.Transcript == text })
	require.NoError(t, h.o.StopRecording(context.Background()))
}

func (h *harness) eventTypes() []EventType {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	out := make([]EventType, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

// violationEvents returns the categories of violation_recorded events.
func (h *harness) violationEvents() []string {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	var out []string
	for _, ev := range h.events {
		if ev.Type == EventViolationRecorded {
			out = append(out, ev.Message)
		}
	}
	return out
}

func (h *harness) hasEvent(t EventType) func() bool {
	return func() bool {
		for _, et := range h.eventTypes() {
			if et == t {
				return true
			}
		}
		return false
	}
}
