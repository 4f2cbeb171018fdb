package http

import (
	"time"

	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/violation"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// CreateSessionResponse is the response body for POST /api/v1/sessions.
type CreateSessionResponse struct {
	SessionID string        `json:"session_id"`
	Locale    string        `json:"locale"`
	State     proctor.State `json:"state"`
}

// SessionResponse is the response body for GET /api/v1/sessions/:id.
type SessionResponse struct {
	SessionID   string          `json:"session_id"`
	CandidateID string          `json:"candidate_id"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	FullScreen  string          `json:"fullscreen"`
	State       proctor.State   `json:"state"`
	Events      []proctor.Event `json:"events"`
}

// SessionSummary is one element of GET /api/v1/sessions.
type SessionSummary struct {
	SessionID   string    `json:"session_id"`
	CandidateID string    `json:"candidate_id"`
	CreatedAt   time.Time `json:"created_at"`
	Finished    bool      `json:"finished"`
}

// ExitFullScreenRequest is the request body for POST .../fullscreen/exit.
type ExitFullScreenRequest struct {
	Reason string `json:"reason"`
}

// UpdateCodeRequest is the request body for PUT .../code.
type UpdateCodeRequest struct {
	Code string `json:"code"`
}

// RunCodeRequest is the request body for POST .../code/run.
type RunCodeRequest struct {
	Language string `json:"language,omitempty"`
	Source   string `json:"source"`
}

// ViolationRequest is the request body for POST .../violations.
type ViolationRequest struct {
	Message  string             `json:"message"`
	Category violation.Category `json:"category"`
	Details  map[string]string  `json:"details,omitempty"`
}

// ViolationResponse reports the general count after recording.
type ViolationResponse struct {
	Count int `json:"count"`
}

// ViolationsResponse is the response body for GET .../violations.
type ViolationsResponse struct {
	Counts  violation.Counts  `json:"counts"`
	Entries []violation.Entry `json:"entries"`
}

// GazeRequest is the request body for POST .../gaze. Frames are timed on
// receipt; device timestamps are not trusted.
type GazeRequest struct {
	Direction string `json:"direction"`
}

// FollowUpRequest is the request body for POST .../questions.
type FollowUpRequest struct {
	Question proctor.Question `json:"question"`
}
