// Package fullscreen tracks whether the candidate device is in full-screen
// presentation mode and watches for additional displays.
package fullscreen

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"go.uber.org/zap"
)

// ErrPermissionDenied is returned when the presentation environment rejects
// a full-screen request.
var ErrPermissionDenied = errors.New("full-screen permission denied")

// Status is the full-screen state of the candidate device.
type Status int

const (
	StatusInactive Status = iota
	StatusActive
)

func (s Status) String() string {
	if s == StatusActive {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// Presenter asks the candidate device to enter full-screen mode.
type Presenter interface {
	EnterFullScreen(ctx context.Context) error
}

// Gate holds the full-screen status and notifies subscribers of changes.
// Subscribers always observe the latest status; intermediate values may be
// coalesced.
type Gate struct {
	presenter Presenter
	recorder  violation.Recorder
	logger    *logging.Logger

	mu     sync.Mutex
	status Status
	subs   map[int]chan Status
	nextID int
}

// NewGate creates an inactive gate.
func NewGate(presenter Presenter, recorder violation.Recorder, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		presenter: presenter,
		recorder:  recorder,
		logger:    logger,
		subs:      make(map[int]chan Status),
	}
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Active reports whether the status is StatusActive.
func (g *Gate) Active() bool {
	return g.Status() == StatusActive
}

// Request asks the presenter to enter full screen. On failure the status is
// left unchanged and the presenter error is returned as is; a rejection by
// the candidate wraps ErrPermissionDenied.
func (g *Gate) Request(ctx context.Context) error {
	if err := g.presenter.EnterFullScreen(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			g.logger.Warn(ctx, "full-screen request rejected", zap.Error(err))
		} else {
			g.logger.Warn(ctx, "full-screen request failed", zap.Error(err))
		}
		return err
	}
	g.set(ctx, StatusActive)
	return nil
}

// Entered marks the gate active after an entry the device reported on its own.
func (g *Gate) Entered(ctx context.Context) {
	g.set(ctx, StatusActive)
}

// Exited handles an externally detected exit. Leaving ACTIVE records a
// FULLSCREEN_EXIT violation before subscribers are notified.
func (g *Gate) Exited(ctx context.Context, reason string) {
	g.mu.Lock()
	if g.status != StatusActive {
		g.mu.Unlock()
		return
	}
	g.status = StatusInactive
	g.mu.Unlock()

	g.logger.Info(ctx, "full screen exited", zap.String("reason", reason))
	if g.recorder != nil {
		var details map[string]string
		if reason != "" {
			details = map[string]string{"reason": reason}
		}
		g.recorder.Record(ctx, "Exited full screen", violation.CategoryFullScreenExit, details)
	}

	g.mu.Lock()
	g.broadcast()
	g.mu.Unlock()
}

func (g *Gate) set(ctx context.Context, s Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == s {
		return
	}
	g.status = s
	g.logger.Info(ctx, "full-screen status changed", zap.Stringer("status", s))
	g.broadcast()
}

// broadcast replaces each subscriber's pending value with the current
// status. Caller holds mu.
func (g *Gate) broadcast() {
	for _, ch := range g.subs {
		select {
		case <-ch:
		default:
		}
		ch <- g.status
	}
}

// Subscribe returns a channel that receives the current status immediately
// and every later change. cancel closes the channel.
func (g *Gate) Subscribe() (<-chan Status, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID++
	ch := make(chan Status, 1)
	ch <- g.status
	g.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
