// Package http exposes proctored interview sessions over a JSON API.
//
// The candidate UI creates a session, relays device signals (full-screen
// exits, focus changes, gaze frames) and drives the question flow. Every
// command is forwarded to the session's orchestrator.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/bridge"
	"github.com/fyrsmithlabs/proctord/internal/fullscreen"
	"github.com/fyrsmithlabs/proctord/internal/platform"
	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/sessions"
	"github.com/fyrsmithlabs/proctord/internal/speech"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides HTTP endpoints for proctord.
type Server struct {
	echo     *echo.Echo
	sessions *sessions.Manager
	logger   *zap.Logger
	config   *Config
	metrics  *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(manager *sessions.Manager, logger *zap.Logger, cfg *Config) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("session manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		sessions: manager,
		logger:   logger,
		config:   cfg,
		metrics:  NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions", s.handleListSessions)

	sess := v1.Group("/sessions/:id")
	sess.GET("", s.handleGetSession)
	sess.DELETE("", s.handleCancelSession)
	sess.POST("/fullscreen", s.handleRequestFullScreen)
	sess.POST("/fullscreen/entered", s.handleEnteredFullScreen)
	sess.POST("/fullscreen/exit", s.handleExitFullScreen)
	sess.POST("/recording/start", s.handleStartRecording)
	sess.POST("/recording/stop", s.handleStopRecording)
	sess.PUT("/code", s.handleUpdateCode)
	sess.POST("/code/run", s.handleRunCode)
	sess.POST("/advance", s.handleAdvance)
	sess.POST("/narration/repeat", s.handleRepeatNarration)
	sess.POST("/violations", s.handleReportViolation)
	sess.GET("/violations", s.handleListViolations)
	sess.POST("/gaze", s.handleGaze)
	sess.POST("/questions", s.handleFollowUp)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	var code int
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, sessions.ErrShuttingDown),
		errors.Is(err, bridge.ErrDeviceUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, fullscreen.ErrPermissionDenied),
		errors.Is(err, speech.ErrPermissionRevoked):
		code = http.StatusForbidden
	case errors.Is(err, proctor.ErrFullScreenRequired),
		errors.Is(err, proctor.ErrNotRecording),
		errors.Is(err, proctor.ErrProcessing),
		errors.Is(err, proctor.ErrNotCodeQuestion),
		errors.Is(err, speech.ErrAlreadyListening):
		code = http.StatusConflict
	case errors.Is(err, proctor.ErrSessionFinished):
		code = http.StatusGone
	case errors.Is(err, sessions.ErrInvalidRequest),
		errors.Is(err, proctor.ErrNoQuestions),
		errors.Is(err, proctor.ErrInvalidQuestion),
		errors.Is(err, proctor.ErrUnknownLanguage):
		code = http.StatusBadRequest
	case errors.Is(err, platform.ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.Is(err, proctor.ErrNoCodeRunner):
		code = http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
