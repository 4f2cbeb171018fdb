// Package gaze debounces per-frame gaze classifications into at most one
// GAZE_DETECTED violation per continuous look-away excursion.
//
// A Monitor is not safe for concurrent use; the session loop owns it.
package gaze

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"go.uber.org/zap"
)

// DefaultThreshold is how long an excursion lasts before it is reported.
const DefaultThreshold = 5 * time.Second

// Direction is a per-frame gaze classification.
type Direction int

const (
	Center Direction = iota
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	default:
		return "CENTER"
	}
}

// ParseDirection accepts CENTER, LEFT or RIGHT in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CENTER":
		return Center, nil
	case "LEFT":
		return Left, nil
	case "RIGHT":
		return Right, nil
	}
	return Center, fmt.Errorf("unknown gaze direction %q", s)
}

// State is the excursion state. AwayStart is zero while looking at center.
type State struct {
	Direction    Direction `json:"direction"`
	AwayStart    time.Time `json:"away_start,omitempty"`
	WarningFired bool      `json:"warning_fired"`
}

// Monitor tracks one excursion at a time.
type Monitor struct {
	recorder  violation.Recorder
	threshold time.Duration
	logger    *logging.Logger

	active bool
	state  State
}

func NewMonitor(recorder violation.Recorder, threshold time.Duration, logger *logging.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{recorder: recorder, threshold: threshold, logger: logger}
}

// SetActive enables or disables monitoring. Disabling clears the excursion.
func (m *Monitor) SetActive(active bool) {
	m.active = active
	if !active {
		m.state = State{}
	}
}

func (m *Monitor) Active() bool { return m.active }

func (m *Monitor) State() State { return m.state }

// Threshold returns the excursion duration that triggers a violation.
func (m *Monitor) Threshold() time.Duration { return m.threshold }

// Observe consumes one frame. It returns true if this frame raised the
// violation for the current excursion.
func (m *Monitor) Observe(ctx context.Context, dir Direction, at time.Time) bool {
	if !m.active {
		return false
	}
	if dir == Center {
		if !m.state.AwayStart.IsZero() {
			m.logger.Trace(ctx, "gaze returned to center",
				zap.Duration("away", at.Sub(m.state.AwayStart)))
		}
		m.state = State{}
		return false
	}
	if m.state.AwayStart.IsZero() {
		m.state = State{Direction: dir, AwayStart: at}
		return false
	}
	// LEFT to RIGHT without passing center continues the same excursion.
	m.state.Direction = dir
	return m.Tick(ctx, at)
}

// Tick checks the open excursion against the threshold.
func (m *Monitor) Tick(ctx context.Context, now time.Time) bool {
	if !m.active || m.state.AwayStart.IsZero() || m.state.WarningFired {
		return false
	}
	away := now.Sub(m.state.AwayStart)
	if away < m.threshold {
		return false
	}
	m.state.WarningFired = true
	m.recorder.Record(ctx, "Looking away detected", violation.CategoryGaze, map[string]string{
		"direction": m.state.Direction.String(),
		"away_ms":   strconv.FormatInt(away.Milliseconds(), 10),
	})
	return true
}
