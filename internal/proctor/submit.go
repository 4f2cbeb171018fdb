package proctor

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// submitAndGrade makes one submission attempt and, when it succeeds, one
// grading request. It runs off the loop and must not touch State.
func (o *Orchestrator) submitAndGrade(ctx context.Context, index int, kind Kind, answer Answer) advanceResult {
	ctx = logging.WithQuestionIndex(ctx, index)
	res := advanceResult{index: index}
	start := time.Now()
	defer func() {
		o.metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	}()

	res.answerID, res.submitErr = o.submit(ctx, answer)
	if res.submitErr != nil {
		o.metrics.AnswersSubmitted.WithLabelValues(string(kind), "error").Inc()
		return res
	}
	o.metrics.AnswersSubmitted.WithLabelValues(string(kind), "ok").Inc()

	res.grade, res.gradeErr = o.grade(ctx, res.answerID)
	switch {
	case res.gradeErr != nil:
		o.metrics.GradingOutcomes.WithLabelValues("error").Inc()
	case res.grade.RateLimited:
		o.metrics.GradingOutcomes.WithLabelValues("rate_limited").Inc()
	default:
		o.metrics.GradingOutcomes.WithLabelValues("ok").Inc()
	}
	return res
}

func (o *Orchestrator) submit(ctx context.Context, answer Answer) (string, error) {
	ctx, span := o.tracer.Start(ctx, "proctor.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("question.id", answer.QuestionID),
		attribute.Int("answer.length", len(answer.Text)),
	)

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	id, err := o.deps.Submitter.SubmitAnswer(callCtx, answer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return "", err
	}
	span.SetAttributes(attribute.String("answer.id", id))
	o.logger.Debug(ctx, "answer submitted",
		zap.String("answer_id", id),
		logging.RedactedString("answer_text", answer.Text))
	return id, nil
}

func (o *Orchestrator) grade(ctx context.Context, answerID string) (GradeResult, error) {
	ctx, span := o.tracer.Start(ctx, "proctor.grade")
	defer span.End()
	span.SetAttributes(attribute.String("answer.id", answerID))

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	res, err := o.deps.Grader.GradeAnswer(callCtx, answerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade failed")
		return GradeResult{}, err
	}
	span.SetAttributes(attribute.Bool("grade.rate_limited", res.RateLimited))
	return res, nil
}
