package proctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/gaze"
	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// StartRecording starts speech capture for the current question. Starting
// while already recording is a no-op.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context) error {
		if err := o.checkAnswerable(); err != nil {
			return err
		}
		if o.state.Processing {
			return ErrProcessing
		}
		if o.state.Recording {
			return nil
		}
		if err := o.deps.Speech.Start(ctx, o.locale); err != nil {
			return fmt.Errorf("start speech capture: %w", err)
		}
		o.state.Recording = true
		if o.current().Kind == KindText {
			o.deps.Gaze.SetActive(true)
		}
		o.emit(Event{Type: EventRecordingStarted})
		return nil
	})
}

// StopRecording stops capture and advances after the settle delay.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context) error {
		if o.finalized {
			return ErrSessionFinished
		}
		if !o.state.Recording {
			return ErrNotRecording
		}
		o.haltRecording()
		o.state.Processing = true
		o.stopSettle()
		o.settle = time.NewTimer(o.cfg.SettleDelay)
		o.settleC = o.settle.C
		o.emit(Event{Type: EventRecordingStopped})
		return nil
	})
}

// UpdateCode replaces the code answer of the current CODE question.
func (o *Orchestrator) UpdateCode(ctx context.Context, code string) error {
	return o.do(ctx, func(context.Context) error {
		if err := o.checkAnswerable(); err != nil {
			return err
		}
		if o.current().Kind != KindCode {
			return ErrNotCodeQuestion
		}
		if o.state.Processing {
			return ErrProcessing
		}
		o.state.CodeAnswer = code
		return nil
	})
}

// Advance submits the current answer now, stopping any recording first.
// Calling it while a submission is in flight is a no-op.
func (o *Orchestrator) Advance(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context) error {
		if err := o.checkAnswerable(); err != nil {
			return err
		}
		if o.advancing {
			return nil
		}
		if o.state.Recording {
			o.haltRecording()
			o.emit(Event{Type: EventRecordingStopped})
		}
		o.advance(ctx)
		return nil
	})
}

// ReadAgain narrates the current question again.
func (o *Orchestrator) ReadAgain(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context) error {
		if err := o.checkAnswerable(); err != nil {
			return err
		}
		o.narrate(ctx)
		return nil
	})
}

// ReportViolation records a client-observed violation and returns the
// general count. A threshold crossing terminates the session before this
// call returns.
func (o *Orchestrator) ReportViolation(ctx context.Context, message string, category violation.Category, details map[string]string) (int, error) {
	if !category.Valid() {
		return 0, fmt.Errorf("unknown violation category %q", category)
	}
	var count int
	err := o.do(ctx, func(ctx context.Context) error {
		if o.finalized {
			return ErrSessionFinished
		}
		count = o.deps.Tracker.Record(ctx, message, category, details)
		o.reportViolations()
		if o.deps.Tracker.ShouldTerminate() {
			o.terminate(ctx)
		}
		return nil
	})
	return count, err
}

// ObserveGaze feeds one gaze frame. Frames are stamped with the
// orchestrator clock, the same clock the excursion timer ticks on.
func (o *Orchestrator) ObserveGaze(ctx context.Context, dir gaze.Direction) error {
	return o.do(ctx, func(ctx context.Context) error {
		if o.finalized {
			return ErrSessionFinished
		}
		if o.deps.Gaze.Observe(ctx, dir, o.now()) {
			o.reportViolations()
		}
		if o.deps.Tracker.ShouldTerminate() {
			o.terminate(ctx)
		}
		return nil
	})
}

// InsertFollowUp adds q directly after the current question.
func (o *Orchestrator) InsertFollowUp(ctx context.Context, q Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	return o.do(ctx, func(ctx context.Context) error {
		if o.finalized {
			return ErrSessionFinished
		}
		for _, existing := range o.state.Questions {
			if existing.ID == q.ID {
				return fmt.Errorf("%w: duplicate id %q", ErrInvalidQuestion, q.ID)
			}
		}
		at := o.state.CurrentIndex + 1
		qs := make([]Question, 0, len(o.state.Questions)+1)
		qs = append(qs, o.state.Questions[:at]...)
		qs = append(qs, q)
		qs = append(qs, o.state.Questions[at:]...)
		o.state.Questions = qs

		o.logger.Info(ctx, "follow-up question inserted", zap.String("question_id", q.ID), zap.Int("position", at))
		o.emit(Event{Type: EventFollowUpInserted, QuestionIndex: at, QuestionID: q.ID})
		return nil
	})
}

// RunCode executes source for the current CODE question. language defaults
// to the question's code language. The call runs on the caller's goroutine.
func (o *Orchestrator) RunCode(ctx context.Context, language, source string) (RunResult, error) {
	if o.deps.Runner == nil {
		return RunResult{}, ErrNoCodeRunner
	}
	var index int
	err := o.do(ctx, func(context.Context) error {
		if err := o.checkAnswerable(); err != nil {
			return err
		}
		q := o.current()
		if q.Kind != KindCode {
			return ErrNotCodeQuestion
		}
		if language == "" {
			language = q.CodeLanguage
		}
		index = o.state.CurrentIndex
		return nil
	})
	if err != nil {
		return RunResult{}, err
	}

	ctx, span := o.tracer.Start(logging.WithQuestionIndex(o.logContext(ctx), index), "proctor.run_code")
	defer span.End()
	span.SetAttributes(attribute.String("code.language", language))

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	res, err := o.deps.Runner.RunCode(callCtx, language, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run code failed")
		return RunResult{}, fmt.Errorf("run code: %w", err)
	}
	return res, nil
}

// Snapshot returns a copy of the session state. After Run returns it
// reports the final state.
func (o *Orchestrator) Snapshot(ctx context.Context) (State, error) {
	if s, ok := o.finalState(); ok {
		return s, nil
	}
	var s State
	err := o.do(ctx, func(context.Context) error {
		s = o.snapshot()
		return nil
	})
	if errors.Is(err, ErrSessionFinished) {
		if fs, ok := o.finalState(); ok {
			return fs, nil
		}
	}
	return s, err
}

func (o *Orchestrator) finalState() (State, bool) {
	o.finalMu.Lock()
	defer o.finalMu.Unlock()
	if o.final == nil {
		return State{}, false
	}
	return o.final.clone(), true
}
