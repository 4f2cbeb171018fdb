package http

import (
	"net/http"

	"github.com/fyrsmithlabs/proctord/internal/gaze"
	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/sessions"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Sessions: len(s.sessions.List())})
}

// session resolves the :id path parameter.
func (s *Server) session(c echo.Context) (*sessions.Session, error) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return nil, httpError(err)
	}
	return sess, nil
}

// state replies with the current snapshot.
func (s *Server) state(c echo.Context, sess *sessions.Session) error {
	st, err := sess.Orchestrator.Snapshot(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req sessions.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()

	sess, err := s.sessions.Create(ctx, req)
	if err != nil {
		s.logger.Warn("session create rejected", zap.Error(err))
		return httpError(err)
	}
	st, err := sess.Orchestrator.Snapshot(ctx)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID,
		Locale:    sess.Orchestrator.Locale(),
		State:     st,
	})
}

func (s *Server) handleListSessions(c echo.Context) error {
	list := s.sessions.List()
	out := make([]SessionSummary, 0, len(list))
	for _, sess := range list {
		_, finished := sess.FinishedAt()
		out = append(out, SessionSummary{
			SessionID:   sess.ID,
			CandidateID: sess.CandidateID,
			CreatedAt:   sess.CreatedAt,
			Finished:    finished,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	st, err := sess.Orchestrator.Snapshot(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	resp := SessionResponse{
		SessionID:   sess.ID,
		CandidateID: sess.CandidateID,
		CreatedAt:   sess.CreatedAt,
		FullScreen:  sess.Gate.Status().String(),
		State:       st,
		Events:      sess.Events(),
	}
	if at, ok := sess.FinishedAt(); ok {
		resp.FinishedAt = &at
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelSession(c echo.Context) error {
	if err := s.sessions.Cancel(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRequestFullScreen(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Gate.Request(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleEnteredFullScreen records an entry the device made without a request.
func (s *Server) handleEnteredFullScreen(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	sess.Gate.Entered(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleExitFullScreen(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req ExitFullScreenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		req.Reason = "full screen exited"
	}
	sess.Gate.Exited(c.Request().Context(), req.Reason)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStartRecording(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Orchestrator.StartRecording(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return s.state(c, sess)
}

func (s *Server) handleStopRecording(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Orchestrator.StopRecording(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return s.state(c, sess)
}

func (s *Server) handleUpdateCode(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req UpdateCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := sess.Orchestrator.UpdateCode(c.Request().Context(), req.Code); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRunCode(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req RunCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source field is required")
	}
	res, err := sess.Orchestrator.RunCode(c.Request().Context(), req.Language, req.Source)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleAdvance(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Orchestrator.Advance(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return s.state(c, sess)
}

func (s *Server) handleRepeatNarration(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Orchestrator.ReadAgain(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleReportViolation(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req ViolationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown violation category")
	}
	if req.Message == "" {
		req.Message = string(req.Category)
	}
	count, err := sess.Orchestrator.ReportViolation(c.Request().Context(), req.Message, req.Category, req.Details)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ViolationResponse{Count: count})
}

func (s *Server) handleListViolations(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ViolationsResponse{
		Counts:  sess.Tracker.Counts(),
		Entries: sess.Tracker.Entries(),
	})
}

func (s *Server) handleGaze(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req GazeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	dir, err := gaze.ParseDirection(req.Direction)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := sess.Orchestrator.ObserveGaze(c.Request().Context(), dir); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleFollowUp(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req FollowUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question.Kind == "" {
		req.Question.Kind = proctor.KindText
	}
	if err := sess.Orchestrator.InsertFollowUp(c.Request().Context(), req.Question); err != nil {
		return httpError(err)
	}
	return s.state(c, sess)
}
