package proctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/violation"
)

var (
	// ErrNoQuestions is a configuration error: a session needs at least one question.
	ErrNoQuestions = errors.New("session has no questions")

	// ErrInvalidQuestion is returned for questions with a missing id or text or an unknown kind.
	ErrInvalidQuestion = errors.New("invalid question")

	// ErrUnknownLanguage is returned when the interview language has no locale mapping.
	ErrUnknownLanguage = errors.New("no locale mapping for interview language")

	// ErrSessionFinished is returned by commands issued after completion or termination.
	ErrSessionFinished = errors.New("session already finished")

	// ErrFullScreenRequired is returned by answer commands while full screen is inactive.
	ErrFullScreenRequired = errors.New("full screen required")

	// ErrNotRecording is returned by StopRecording when nothing is being recorded.
	ErrNotRecording = errors.New("not recording")

	// ErrProcessing is returned while the current answer is being submitted.
	ErrProcessing = errors.New("answer is being processed")

	// ErrNotCodeQuestion is returned by code commands on a TEXT question.
	ErrNotCodeQuestion = errors.New("current question is not a code question")

	// ErrNoCodeRunner is returned by RunCode when no runner is configured.
	ErrNoCodeRunner = errors.New("code execution not available")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("orchestrator already running")
)

// Kind is the answer format of a question.
type Kind string

const (
	KindText Kind = "TEXT"
	KindCode Kind = "CODE"
)

// Question is immutable once loaded.
type Question struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Text string `json:"text" yaml:"text" toml:"text"`
	Kind Kind   `json:"kind" yaml:"kind" toml:"kind"`

	// Language is the language Text is written in. Empty means the
	// interview language.
	Language string `json:"language,omitempty" yaml:"language,omitempty" toml:"language,omitempty"`

	// CodeLanguage names the programming language of a CODE question.
	CodeLanguage string `json:"code_language,omitempty" yaml:"code_language,omitempty" toml:"code_language,omitempty"`
}

// Validate checks a single question.
func (q Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidQuestion)
	}
	if q.Text == "" {
		return fmt.Errorf("%w: question %q has no text", ErrInvalidQuestion, q.ID)
	}
	if q.Kind != KindText && q.Kind != KindCode {
		return fmt.Errorf("%w: question %q has kind %q", ErrInvalidQuestion, q.ID, q.Kind)
	}
	return nil
}

// ValidateQuestions checks a question set for emptiness, bad entries and duplicate ids.
func ValidateQuestions(questions []Question) error {
	if len(questions) == 0 {
		return ErrNoQuestions
	}
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return err
		}
		if seen[q.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidQuestion, q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

// Phase is the orchestrator state.
type Phase string

const (
	PhaseAwaitingFullScreen Phase = "AWAITING_FULLSCREEN"
	PhaseActive             Phase = "ACTIVE"
	PhaseCompleted          Phase = "COMPLETED"
	PhaseTerminated         Phase = "TERMINATED"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseTerminated
}

// transitions lists the allowed successor phases. A paused session may still
// complete when the last answer's submission returns while full screen is off.
var transitions = map[Phase][]Phase{
	PhaseAwaitingFullScreen: {PhaseActive, PhaseCompleted, PhaseTerminated},
	PhaseActive:             {PhaseAwaitingFullScreen, PhaseCompleted, PhaseTerminated},
	PhaseCompleted:          nil,
	PhaseTerminated:         nil,
}

// CanTransition returns an error if from -> to is not allowed.
func CanTransition(from, to Phase) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid phase transition %s -> %s", from, to)
}

// State is a snapshot of the session.
type State struct {
	SessionID         string           `json:"session_id"`
	Phase             Phase            `json:"phase"`
	Questions         []Question       `json:"questions"`
	CurrentIndex      int              `json:"current_index"`
	Transcript        string           `json:"transcript"`
	Interim           string           `json:"interim"`
	CodeAnswer        string           `json:"code_answer"`
	Recording         bool             `json:"recording"`
	Speaking          bool             `json:"speaking"`
	Processing        bool             `json:"processing"`
	Completed         bool             `json:"completed"`
	TerminationReason string           `json:"termination_reason,omitempty"`
	GradingThrottled  bool             `json:"grading_throttled"`
	Violations        violation.Counts `json:"violations"`
}

// CurrentQuestion returns the question at CurrentIndex.
func (s State) CurrentQuestion() Question {
	return s.Questions[s.CurrentIndex]
}

func (s State) clone() State {
	s.Questions = append([]Question(nil), s.Questions...)
	return s
}

// EventType names a caller-visible event.
type EventType string

const (
	EventQuestionStarted     EventType = "question_started"
	EventNarrationFinished   EventType = "narration_finished"
	EventTranslationFallback EventType = "translation_fallback"
	EventRecordingStarted    EventType = "recording_started"
	EventRecordingStopped    EventType = "recording_stopped"
	EventPermissionRevoked   EventType = "permission_revoked"
	EventSpeechUnavailable   EventType = "speech_unavailable"
	EventTranscriptUpdated   EventType = "transcript_updated"
	EventViolationRecorded   EventType = "violation_recorded"
	EventFullScreenRequired  EventType = "fullscreen_required"
	EventFullScreenRestored  EventType = "fullscreen_restored"
	EventFollowUpInserted    EventType = "follow_up_inserted"
	EventAnswerSubmitted     EventType = "answer_submitted"
	EventSubmissionFailed    EventType = "submission_failed"
	EventGradingRateLimited  EventType = "grading_rate_limited"
	EventGradingFailed       EventType = "grading_failed"
	EventLifecycleFailed     EventType = "lifecycle_failed"
	EventCompleted           EventType = "completed"
	EventTerminated          EventType = "terminated"
)

// Event is emitted to the caller for UI feedback.
type Event struct {
	Type          EventType `json:"type"`
	SessionID     string    `json:"session_id"`
	QuestionIndex int       `json:"question_index"`
	QuestionID    string    `json:"question_id,omitempty"`
	AnswerID      string    `json:"answer_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// Lifecycle persists session start and completion.
type Lifecycle interface {
	StartSession(ctx context.Context, sessionID string) error
	CompleteSession(ctx context.Context, sessionID string) error
}

// Answer is a submitted answer payload.
type Answer struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

// AnswerSubmitter stores answers. One attempt per answer.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, answer Answer) (answerID string, err error)
}

// GradeResult is the outcome of a grading request. RateLimited is a
// distinguished, non-fatal outcome.
type GradeResult struct {
	OK          bool `json:"ok"`
	RateLimited bool `json:"rate_limited"`
}

type Grader interface {
	GradeAnswer(ctx context.Context, answerID string) (GradeResult, error)
}

// RunResult is the output of a manual code run.
type RunResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

type CodeRunner interface {
	RunCode(ctx context.Context, language, source string) (RunResult, error)
}

// MediaSession is the candidate's capture stream. The orchestrator stops its
// tracks exactly once, when the session finishes.
type MediaSession interface {
	StopTracks(ctx context.Context) error
}
