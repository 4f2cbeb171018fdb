package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/bridge"
	"github.com/fyrsmithlabs/proctord/internal/config"
	"github.com/fyrsmithlabs/proctord/internal/fullscreen"
	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/sessions"
	"github.com/fyrsmithlabs/proctord/internal/speech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubStream struct {
	results chan speech.Recognition
	once    sync.Once
}

func (s *stubStream) Results() <-chan speech.Recognition { return s.results }
func (s *stubStream) Err() error                         { return nil }

func (s *stubStream) Close() error {
	s.once.Do(func() { close(s.results) })
	return nil
}

type stubDevice struct {
	denyFullScreen bool
	fullScreenErr  error
}

func (d *stubDevice) Listen(context.Context, string) (speech.Stream, error) {
	return &stubStream{results: make(chan speech.Recognition, 1)}, nil
}

func (d *stubDevice) Speak(context.Context, string, string) error { return nil }

func (d *stubDevice) EnterFullScreen(context.Context) error {
	if d.denyFullScreen {
		return fullscreen.ErrPermissionDenied
	}
	return d.fullScreenErr
}

func (d *stubDevice) DisplayCount(context.Context) (int, error) { return 1, nil }
func (d *stubDevice) StopTracks(context.Context) error          { return nil }

type stubPlatform struct {
	mu      sync.Mutex
	answers []proctor.Answer
}

func (p *stubPlatform) StartSession(context.Context, string) error    { return nil }
func (p *stubPlatform) CompleteSession(context.Context, string) error { return nil }

func (p *stubPlatform) SubmitAnswer(_ context.Context, a proctor.Answer) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = append(p.answers, a)
	return fmt.Sprintf("ans-%d", len(p.answers)), nil
}

func (p *stubPlatform) GradeAnswer(context.Context, string) (proctor.GradeResult, error) {
	return proctor.GradeResult{OK: true}, nil
}

func (p *stubPlatform) RunCode(_ context.Context, language, source string) (proctor.RunResult, error) {
	return proctor.RunResult{Stdout: language + ":" + source}, nil
}

func (p *stubPlatform) Translate(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

func (p *stubPlatform) Answers() []proctor.Answer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]proctor.Answer(nil), p.answers...)
}

type testAPI struct {
	server   *Server
	device   *stubDevice
	platform *stubPlatform
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.Proctor.SettleDelay = config.Duration(5 * time.Millisecond)
	cfg.Proctor.GazeCheckInterval = config.Duration(10 * time.Millisecond)
	cfg.Proctor.DisplayCheckInterval = 0
	cfg.Proctor.CallTimeout = config.Duration(time.Second)

	api := &testAPI{device: &stubDevice{}, platform: &stubPlatform{}}
	manager, err := sessions.NewManager(sessions.Options{
		Config:   cfg,
		Devices:  sessions.DeviceProviderFunc(func(string) sessions.Device { return api.device }),
		Platform: api.platform,
		Questions: func() []proctor.Question {
			return []proctor.Question{
				{ID: "q1", Text: "Tell me about yourself", Kind: proctor.KindText},
				{ID: "q2", Text: "Reverse a string", Kind: proctor.KindCode, CodeLanguage: "go"},
			}
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	api.server, err = NewServer(manager, zap.NewNop(), nil)
	require.NoError(t, err)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.server.echo.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) create(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{"candidate_id": "cand-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func (a *testAPI) snapshot(t *testing.T, id string) proctor.State {
	t.Helper()
	rec := a.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.State
}

func (a *testAPI) waitPhase(t *testing.T, id string, phase proctor.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return a.snapshot(t, id).Phase == phase
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewServer(t *testing.T) {
	t.Run("returns error when manager is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "session manager cannot be nil")
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		api := newTestAPI(t)
		assert.Equal(t, "localhost", api.server.config.Host)
		assert.Equal(t, 9191, api.server.config.Port)
		assert.NotNil(t, api.server.Handler())
	})
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHandleMetrics(t *testing.T) {
	api := newTestAPI(t)
	api.create(t)

	rec := api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "proctor_sessions_started_total")
}

func TestCreateSession_Validation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"candidate_id": "cand-1",
		"questions":    []map[string]string{{"id": "x", "kind": "TEXT"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	api.server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownSession(t *testing.T) {
	api := newTestAPI(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/sessions/nope"},
		{http.MethodDelete, "/api/v1/sessions/nope"},
		{http.MethodPost, "/api/v1/sessions/nope/advance"},
		{http.MethodGet, "/api/v1/sessions/nope/violations"},
	} {
		rec := api.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestAnswerRequiresFullScreen(t *testing.T) {
	api := newTestAPI(t)
	id := api.create(t)

	rec := api.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/recording/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/recording/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFullScreenDenied(t *testing.T) {
	api := newTestAPI(t)
	api.device.denyFullScreen = true
	id := api.create(t)

	rec := api.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/fullscreen", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFullScreenDeviceUnavailable(t *testing.T) {
	api := newTestAPI(t)
	api.device.fullScreenErr = fmt.Errorf("%w: fullscreen.enter", bridge.ErrDeviceUnavailable)
	id := api.create(t)

	rec := api.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/fullscreen", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, proctor.PhaseAwaitingFullScreen, api.snapshot(t, id).Phase)
}

func TestHTTPError_DeviceUnavailableBeforePermission(t *testing.T) {
	err := fmt.Errorf("%w: %w", fullscreen.ErrPermissionDenied, bridge.ErrDeviceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, httpError(err).Code)
	assert.Equal(t, http.StatusForbidden, httpError(fullscreen.ErrPermissionDenied).Code)
}

func TestSessionFlow(t *testing.T) {
	api := newTestAPI(t)
	id := api.create(t)
	base := "/api/v1/sessions/" + id

	rec := api.do(t, http.MethodPost, base+"/fullscreen", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	api.waitPhase(t, id, proctor.PhaseActive)

	rec = api.do(t, http.MethodPut, base+"/code", UpdateCodeRequest{Code: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code, "code update on a text question")

	rec = api.do(t, http.MethodPost, base+"/narration/repeat", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = api.do(t, http.MethodPost, base+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool {
		st := api.snapshot(t, id)
		return st.CurrentIndex == 1 && !st.Processing
	}, 2*time.Second, 5*time.Millisecond)

	rec = api.do(t, http.MethodPut, base+"/code", UpdateCodeRequest{Code: "func r() {}"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, base+"/code/run", RunCodeRequest{Source: "fmt.Println(1)"})
	require.Equal(t, http.StatusOK, rec.Code)
	var run proctor.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "go:fmt.Println(1)", run.Stdout)

	rec = api.do(t, http.MethodPost, base+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	api.waitPhase(t, id, proctor.PhaseCompleted)

	answers := api.platform.Answers()
	require.Len(t, answers, 2)
	assert.Equal(t, "```go\nfunc r() {}\n```", answers[1].Text)

	rec = api.do(t, http.MethodPost, base+"/advance", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestViolationsTerminateSession(t *testing.T) {
	api := newTestAPI(t)
	id := api.create(t)
	base := "/api/v1/sessions/" + id

	rec := api.do(t, http.MethodPost, base+"/violations", ViolationRequest{Category: "NOT_A_CATEGORY"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 1; i <= 10; i++ {
		rec = api.do(t, http.MethodPost, base+"/violations", ViolationRequest{Message: "tab hidden", Category: "TAB_SWITCH"})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ViolationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, i, resp.Count)
	}

	rec = api.do(t, http.MethodPost, base+"/violations", ViolationRequest{Message: "window blur", Category: "WINDOW_BLUR"})
	require.Equal(t, http.StatusOK, rec.Code)

	st := api.snapshot(t, id)
	assert.Equal(t, proctor.PhaseTerminated, st.Phase)
	assert.NotEmpty(t, st.TerminationReason)

	rec = api.do(t, http.MethodGet, base+"/violations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ViolationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 11, list.Counts.General)
	assert.Len(t, list.Entries, 11)

	rec = api.do(t, http.MethodPost, base+"/violations", ViolationRequest{Category: "TAB_SWITCH"})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestExitFullScreenPauses(t *testing.T) {
	api := newTestAPI(t)
	id := api.create(t)
	base := "/api/v1/sessions/" + id

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodPost, base+"/fullscreen", nil).Code)
	api.waitPhase(t, id, proctor.PhaseActive)

	rec := api.do(t, http.MethodPost, base+"/fullscreen/exit", ExitFullScreenRequest{Reason: "escape pressed"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	api.waitPhase(t, id, proctor.PhaseAwaitingFullScreen)

	st := api.snapshot(t, id)
	assert.Equal(t, 1, st.Violations.General)

	rec = api.do(t, http.MethodPost, base+"/fullscreen/entered", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	api.waitPhase(t, id, proctor.PhaseActive)
}

func TestGazeAndFollowUp(t *testing.T) {
	api := newTestAPI(t)
	id := api.create(t)
	base := "/api/v1/sessions/" + id

	rec := api.do(t, http.MethodPost, base+"/gaze", GazeRequest{Direction: "UP"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, base+"/gaze", GazeRequest{Direction: "left"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, base+"/questions", FollowUpRequest{Question: proctor.Question{ID: "f1", Text: "Why?"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var st proctor.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Len(t, st.Questions, 3)
	assert.Equal(t, "f1", st.Questions[1].ID)
	assert.Equal(t, proctor.KindText, st.Questions[1].Kind)

	rec = api.do(t, http.MethodPost, base+"/questions", FollowUpRequest{Question: proctor.Question{ID: "f1", Text: "Again"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGazeTimedOnReceipt(t *testing.T) {
	api := newTestAPI(t)
	id := api.create(t)
	base := "/api/v1/sessions/" + id

	rec := api.do(t, http.MethodPost, base+"/fullscreen", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	api.waitPhase(t, id, proctor.PhaseActive)
	rec = api.do(t, http.MethodPost, base+"/recording/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A device clock an hour behind must not turn a glance into a violation.
	stale := time.Now().Add(-time.Hour)
	rec = api.do(t, http.MethodPost, base+"/gaze", map[string]any{"direction": "LEFT", "at": stale})
	require.Equal(t, http.StatusNoContent, rec.Code)
	time.Sleep(50 * time.Millisecond)
	rec = api.do(t, http.MethodPost, base+"/gaze", map[string]any{"direction": "CENTER", "at": stale.Add(time.Minute)})
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 0, api.snapshot(t, id).Violations.General)
}

func TestCancelSession(t *testing.T) {
	api := newTestAPI(t)
	id := api.create(t)

	rec := api.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, "/api/v1/sessions", nil)
		var list []SessionSummary
		if json.Unmarshal(rec.Body.Bytes(), &list) != nil || len(list) != 1 {
			return false
		}
		return list[0].Finished
	}, 2*time.Second, 5*time.Millisecond)
}
