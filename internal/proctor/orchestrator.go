package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/fullscreen"
	"github.com/fyrsmithlabs/proctord/internal/gaze"
	"github.com/fyrsmithlabs/proctord/internal/locale"
	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/narration"
	"github.com/fyrsmithlabs/proctord/internal/speech"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/proctord/internal/proctor"

// Config holds per-session settings.
type Config struct {
	SessionID         string
	CandidateID       string
	InterviewLanguage string

	// SettleDelay is the pause between stopping a recording and advancing.
	SettleDelay time.Duration

	// GazeCheckInterval is how often an open gaze excursion is re-checked
	// when no frames arrive.
	GazeCheckInterval time.Duration

	// CallTimeout bounds each collaborator call.
	CallTimeout time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

func (c *Config) applyDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.GazeCheckInterval <= 0 {
		c.GazeCheckInterval = 250 * time.Millisecond
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// Deps are the components and collaborators a session is built from.
// Screens and Runner are optional.
type Deps struct {
	Tracker  *violation.Tracker
	Gate     *fullscreen.Gate
	Screens  *fullscreen.ScreenWatcher
	Gaze     *gaze.Monitor
	Speech   *speech.Engine
	Narrator *narration.Narrator

	Lifecycle Lifecycle
	Submitter AnswerSubmitter
	Grader    Grader
	Runner    CodeRunner
	Media     MediaSession

	Logger *logging.Logger
	Clock  func() time.Time
}

func (d *Deps) validate() error {
	switch {
	case d.Tracker == nil:
		return errors.New("violation tracker required")
	case d.Gate == nil:
		return errors.New("full-screen gate required")
	case d.Gaze == nil:
		return errors.New("gaze monitor required")
	case d.Speech == nil:
		return errors.New("speech engine required")
	case d.Narrator == nil:
		return errors.New("narrator required")
	case d.Lifecycle == nil:
		return errors.New("lifecycle collaborator required")
	case d.Submitter == nil:
		return errors.New("answer submitter required")
	case d.Grader == nil:
		return errors.New("grader required")
	case d.Media == nil:
		return errors.New("media session required")
	}
	return nil
}

// command runs fn on the loop goroutine.
type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// narrationDone reports that utterance seq ended.
type narrationDone struct {
	seq       int
	utterance *narration.Utterance
}

// advanceResult reports the outcome of one submit+grade cycle.
type advanceResult struct {
	index     int
	answerID  string
	grade     GradeResult
	submitErr error
	gradeErr  error
}

// Orchestrator is the session state machine.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	locale  string
	logger  *logging.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time

	cmds     chan command
	internal chan any
	events   chan Event
	done     chan struct{}
	running  atomic.Bool

	// Loop-owned.
	state          State
	started        bool
	finalized      bool
	advancing      bool
	pendingAdvance bool
	lastNarrated   int
	narrationSeq   int
	reported       int
	settle         *time.Timer
	settleC        <-chan time.Time
	workCtx        context.Context
	workCancel     context.CancelFunc
	watchCtx       context.Context
	workers        sync.WaitGroup

	mediaOnce sync.Once

	finalMu sync.Mutex
	final   *State
}

// New validates the question set and builds an orchestrator. No state
// exists until New returns successfully.
func New(cfg Config, questions []Question, deps Deps) (*Orchestrator, error) {
	if err := ValidateQuestions(questions); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	tag := locale.DefaultLocale
	if cfg.InterviewLanguage != "" {
		var ok bool
		if tag, ok = locale.Lookup(cfg.InterviewLanguage); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, cfg.InterviewLanguage)
		}
	}
	cfg.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		locale:       tag,
		logger:       logger.Named("proctor"),
		metrics:      NewMetrics(),
		tracer:       otel.Tracer(tracerName),
		now:          now,
		cmds:         make(chan command),
		internal:     make(chan any, 8),
		events:       make(chan Event, cfg.EventBuffer),
		done:         make(chan struct{}),
		lastNarrated: -1,
		state: State{
			SessionID: cfg.SessionID,
			Phase:     PhaseAwaitingFullScreen,
			Questions: append([]Question(nil), questions...),
		},
	}, nil
}

// Events yields caller-visible events. The channel is closed when Run
// returns. Events are dropped when the buffer is full.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Locale is the resolved speech locale of the interview language.
func (o *Orchestrator) Locale() string { return o.locale }

// Run drives the session until it completes, is terminated, or ctx is
// cancelled. Cancelling ctx aborts capture and narration but neither
// completes the session nor stops media tracks.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx = o.logContext(ctx)
	o.workCtx, o.workCancel = context.WithCancel(context.WithoutCancel(ctx))
	watchCtx, watchCancel := context.WithCancel(ctx)
	o.watchCtx = watchCtx

	o.metrics.SessionsStarted.Inc()
	o.metrics.ActiveSessions.Inc()
	defer func() {
		o.storeFinal()
		close(o.done)
		watchCancel()
		o.workCancel()
		o.workers.Wait()
		close(o.events)
		o.metrics.ActiveSessions.Dec()
	}()

	o.logger.Info(ctx, "session loop started",
		zap.Int("questions", len(o.state.Questions)),
		zap.String("locale", o.locale))

	if err := o.callLifecycle(ctx, "start", o.deps.Lifecycle.StartSession); err != nil {
		o.emit(Event{Type: EventLifecycleFailed, Message: "start", Error: err.Error()})
	}

	gateCh, unsubscribe := o.deps.Gate.Subscribe()
	defer unsubscribe()

	gazeTicker := time.NewTicker(o.cfg.GazeCheckInterval)
	defer gazeTicker.Stop()

	for {
		if o.deps.Tracker.ShouldTerminate() {
			o.terminate(ctx)
		}
		if o.finalized {
			return nil
		}

		select {
		case <-ctx.Done():
			o.abandon(ctx)
			return ctx.Err()

		case cmd := <-o.cmds:
			cmd.reply <- cmd.fn(ctx)

		case status := <-gateCh:
			o.onGate(ctx, status)

		case <-o.deps.Tracker.Terminated():
			o.terminate(ctx)

		case <-o.deps.Tracker.Recorded():
			o.reportViolations()

		case ev := <-o.internal:
			switch ev := ev.(type) {
			case narrationDone:
				o.onNarrationDone(ctx, ev)
			case advanceResult:
				o.onAdvanceResult(ctx, ev)
			}

		case res := <-o.deps.Speech.Results():
			o.onTranscript(ctx, res)

		case err := <-o.deps.Speech.Errors():
			o.onSpeechError(ctx, err)

		case <-o.settleC:
			o.onSettle(ctx)

		case <-gazeTicker.C:
			if o.deps.Gaze.Tick(ctx, o.now()) {
				o.reportViolations()
			}
		}
	}
}

func (o *Orchestrator) logContext(ctx context.Context) context.Context {
	if logging.ValidateID(o.cfg.SessionID, "sessionID") == nil {
		ctx = logging.WithSessionID(ctx, o.cfg.SessionID)
	}
	return logging.WithCandidateID(ctx, o.cfg.CandidateID)
}

// do runs fn on the loop and returns its error.
func (o *Orchestrator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case o.cmds <- cmd:
	case <-o.done:
		return ErrSessionFinished
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-o.done:
		// The command may have finished the session.
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrSessionFinished
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) emit(ev Event) {
	ev.SessionID = o.cfg.SessionID
	if ev.QuestionIndex == 0 && ev.QuestionID == "" {
		ev.QuestionIndex = o.state.CurrentIndex
		ev.QuestionID = o.state.Questions[o.state.CurrentIndex].ID
	}
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	select {
	case o.events <- ev:
	default:
		o.metrics.EventsDropped.Inc()
	}
}

// reportViolations emits one event per tracker entry not yet reported,
// whichever component recorded it.
func (o *Orchestrator) reportViolations() {
	for _, e := range o.deps.Tracker.EntriesSince(o.reported) {
		o.reported++
		o.emit(Event{Type: EventViolationRecorded, Message: string(e.Category), At: e.Timestamp})
	}
}

func (o *Orchestrator) transition(ctx context.Context, to Phase) {
	from := o.state.Phase
	if err := CanTransition(from, to); err != nil {
		o.logger.Error(ctx, "phase transition rejected", zap.Error(err))
		return
	}
	o.state.Phase = to
	o.logger.Debug(ctx, "phase changed", zap.String("from", string(from)), zap.String("to", string(to)))
}

// checkAnswerable rejects answer commands outside ACTIVE.
func (o *Orchestrator) checkAnswerable() error {
	switch {
	case o.finalized || o.state.Phase.Terminal():
		return ErrSessionFinished
	case o.state.Phase != PhaseActive:
		return ErrFullScreenRequired
	}
	return nil
}

func (o *Orchestrator) current() Question {
	return o.state.Questions[o.state.CurrentIndex]
}

// onGate reacts to full-screen status. It is level-triggered: only the
// latest status matters.
func (o *Orchestrator) onGate(ctx context.Context, status fullscreen.Status) {
	if o.finalized {
		return
	}
	// A FULLSCREEN_EXIT is recorded before the status is published.
	o.reportViolations()
	switch {
	case status == fullscreen.StatusActive && o.state.Phase == PhaseAwaitingFullScreen:
		o.transition(ctx, PhaseActive)
		if !o.started {
			o.started = true
			o.watchScreens()
			o.enterQuestion(ctx, 0)
			return
		}
		o.emit(Event{Type: EventFullScreenRestored})
		if o.lastNarrated != o.state.CurrentIndex {
			o.narrate(ctx)
		}
		if o.pendingAdvance {
			o.pendingAdvance = false
			o.advance(ctx)
		}

	case status == fullscreen.StatusInactive && o.state.Phase == PhaseActive:
		o.transition(ctx, PhaseAwaitingFullScreen)
		if o.state.Recording {
			o.haltRecording()
		}
		o.deps.Narrator.Cancel()
		o.state.Speaking = false
		o.emit(Event{Type: EventFullScreenRequired})
		o.logger.Info(ctx, "session paused until full screen is restored")
	}
}

// watchScreens starts display probing. Probing begins with the first
// question, so a second display on the permission screen is not counted.
func (o *Orchestrator) watchScreens() {
	if o.deps.Screens == nil {
		return
	}
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		o.deps.Screens.Run(o.watchCtx)
	}()
}

// enterQuestion resets the answer fields and narrates question i.
// Narration waits while paused.
func (o *Orchestrator) enterQuestion(ctx context.Context, i int) {
	o.state.CurrentIndex = i
	o.state.Transcript = ""
	o.state.Interim = ""
	o.state.CodeAnswer = ""
	o.state.Processing = false
	o.deps.Speech.Reset()

	q := o.current()
	o.deps.Tracker.SetCodeQuestionActive(q.Kind == KindCode)
	o.deps.Gaze.SetActive(false)

	o.logger.Info(logging.WithQuestionIndex(ctx, i), "question started",
		zap.String("question_id", q.ID), zap.String("kind", string(q.Kind)))
	o.emit(Event{Type: EventQuestionStarted, QuestionIndex: i, QuestionID: q.ID})

	if o.state.Phase == PhaseActive {
		o.narrate(ctx)
	}
}

// narrate speaks the current question, superseding any utterance in flight.
func (o *Orchestrator) narrate(ctx context.Context) {
	q := o.current()
	u := o.deps.Narrator.Narrate(ctx, q.Text, q.Language, o.cfg.InterviewLanguage)
	o.lastNarrated = o.state.CurrentIndex
	o.narrationSeq++
	o.state.Speaking = true

	seq := o.narrationSeq
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		select {
		case <-u.Done():
		case <-o.done:
			return
		}
		select {
		case o.internal <- narrationDone{seq: seq, utterance: u}:
		case <-o.done:
		}
	}()
}

func (o *Orchestrator) onNarrationDone(ctx context.Context, ev narrationDone) {
	if ev.seq != o.narrationSeq || o.finalized {
		return
	}
	o.state.Speaking = false
	if err := ev.utterance.TranslationErr(); err != nil {
		o.emit(Event{Type: EventTranslationFallback, Error: err.Error()})
	}
	if ev.utterance.Cancelled() {
		return
	}
	if err := ev.utterance.Err(); err != nil {
		o.logger.Warn(ctx, "narration ended with error", zap.Error(err))
	}
	o.emit(Event{Type: EventNarrationFinished})
}

func (o *Orchestrator) onTranscript(ctx context.Context, res speech.Result) {
	if !o.state.Recording {
		return
	}
	o.state.Transcript = res.FinalText
	o.state.Interim = res.InterimText
	o.logger.Trace(ctx, "transcript updated", logging.RedactedString("transcript", res.FinalText))
	o.emit(Event{Type: EventTranscriptUpdated})
}

// onSpeechError handles a fatal capture error: recording is forcibly
// stopped and the caller may retry.
func (o *Orchestrator) onSpeechError(ctx context.Context, err error) {
	if o.finalized || !o.state.Recording {
		return
	}
	o.haltRecording()
	o.logger.Warn(ctx, "recording forcibly stopped", zap.Error(err))
	typ := EventPermissionRevoked
	if errors.Is(err, speech.ErrUnavailable) {
		typ = EventSpeechUnavailable
	}
	o.emit(Event{Type: typ, Error: err.Error()})
}

// haltRecording stops capture without advancing.
func (o *Orchestrator) haltRecording() {
	o.deps.Speech.Stop()
	o.syncTranscript()
	o.state.Recording = false
	o.deps.Gaze.SetActive(false)
}

func (o *Orchestrator) syncTranscript() {
	t := o.deps.Speech.Transcript()
	o.state.Transcript = t.FinalText
	o.state.Interim = t.InterimText
}

func (o *Orchestrator) onSettle(ctx context.Context) {
	o.settle = nil
	o.settleC = nil
	if o.finalized {
		return
	}
	if o.state.Phase != PhaseActive {
		o.pendingAdvance = true
		return
	}
	o.advance(ctx)
}

func (o *Orchestrator) stopSettle() {
	if o.settle != nil {
		o.settle.Stop()
	}
	o.settle = nil
	o.settleC = nil
}

// advance submits the current answer. A second call while a submission is
// in flight is ignored.
func (o *Orchestrator) advance(ctx context.Context) {
	if o.finalized || o.advancing {
		return
	}
	o.stopSettle()
	o.pendingAdvance = false
	o.advancing = true
	o.state.Processing = true

	q := o.current()
	if o.state.Interim != "" && o.state.Transcript == "" {
		// Unconfirmed speech is better than nothing.
		o.state.Transcript = o.state.Interim
	}
	answer := Answer{
		SessionID:  o.cfg.SessionID,
		QuestionID: q.ID,
		Text:       ComposeAnswer(q, o.state.Transcript, o.state.CodeAnswer),
	}
	index := o.state.CurrentIndex

	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		res := o.submitAndGrade(o.workCtx, index, q.Kind, answer)
		select {
		case o.internal <- res:
		case <-o.done:
		}
	}()
}

func (o *Orchestrator) onAdvanceResult(ctx context.Context, r advanceResult) {
	if o.finalized || r.index != o.state.CurrentIndex {
		return
	}
	o.advancing = false
	o.state.Processing = false
	qctx := logging.WithQuestionIndex(ctx, r.index)

	if r.submitErr != nil {
		o.logger.Warn(qctx, "answer submission failed, continuing", zap.Error(r.submitErr))
		o.emit(Event{Type: EventSubmissionFailed, Error: r.submitErr.Error()})
	} else {
		o.emit(Event{Type: EventAnswerSubmitted, AnswerID: r.answerID})
		switch {
		case r.gradeErr != nil:
			o.logger.Warn(qctx, "grading failed", zap.Error(r.gradeErr))
			o.emit(Event{Type: EventGradingFailed, AnswerID: r.answerID, Error: r.gradeErr.Error()})
		case r.grade.RateLimited:
			o.state.GradingThrottled = true
			o.emit(Event{Type: EventGradingRateLimited, AnswerID: r.answerID})
		}
	}

	if o.state.CurrentIndex == len(o.state.Questions)-1 {
		o.finalize(ctx, PhaseCompleted, "")
		return
	}
	o.enterQuestion(ctx, o.state.CurrentIndex+1)
}

// terminate ends the session after a violation threshold was reached.
func (o *Orchestrator) terminate(ctx context.Context) {
	if !o.finalized {
		o.reportViolations()
	}
	reason := o.deps.Tracker.Reason()
	if reason == "" {
		reason = "integrity violations"
	}
	o.finalize(ctx, PhaseTerminated, reason)
}

// finalize runs once. It bypasses any in-flight submission.
func (o *Orchestrator) finalize(ctx context.Context, to Phase, reason string) {
	if o.finalized {
		return
	}
	o.finalized = true

	ctx, span := o.tracer.Start(ctx, "proctor.finalize")
	defer span.End()

	o.stopSettle()
	o.pendingAdvance = false
	o.workCancel()
	o.deps.Speech.Abort()
	o.deps.Narrator.Cancel()
	o.deps.Gaze.SetActive(false)
	o.state.Recording = false
	o.state.Speaking = false
	o.state.Processing = false
	o.advancing = false

	if err := o.callLifecycle(ctx, "complete", o.deps.Lifecycle.CompleteSession); err != nil {
		span.RecordError(err)
		o.emit(Event{Type: EventLifecycleFailed, Message: "complete", Error: err.Error()})
	}
	o.stopMedia(ctx)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	if err := o.deps.Tracker.Flush(flushCtx); err != nil {
		o.logger.Error(ctx, "integrity events not yet delivered at session end", zap.Error(err))
	}
	cancel()

	o.transition(ctx, to)
	o.state.Completed = true
	o.state.TerminationReason = reason

	if to == PhaseTerminated {
		o.metrics.SessionsFinished.WithLabelValues("terminated").Inc()
		o.logger.Warn(ctx, "session terminated", zap.String("reason", reason))
		o.emit(Event{Type: EventTerminated, Message: reason})
		return
	}
	o.metrics.SessionsFinished.WithLabelValues("completed").Inc()
	o.logger.Info(ctx, "session completed")
	o.emit(Event{Type: EventCompleted})
}

// abandon releases capture and narration when Run's context ends first.
func (o *Orchestrator) abandon(ctx context.Context) {
	o.stopSettle()
	o.deps.Speech.Abort()
	o.deps.Narrator.Cancel()
	o.state.Recording = false
	o.state.Speaking = false
	o.metrics.SessionsFinished.WithLabelValues("abandoned").Inc()
	o.logger.Info(ctx, "session loop cancelled before completion")
}

func (o *Orchestrator) stopMedia(ctx context.Context) {
	o.mediaOnce.Do(func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
		defer cancel()
		if err := o.deps.Media.StopTracks(callCtx); err != nil {
			o.logger.Warn(ctx, "stopping media tracks failed", zap.Error(err))
		}
	})
}

func (o *Orchestrator) callLifecycle(ctx context.Context, op string, fn func(context.Context, string) error) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()
	if err := fn(callCtx, o.cfg.SessionID); err != nil {
		o.logger.Warn(ctx, "session lifecycle call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s session: %w", op, err)
	}
	return nil
}

func (o *Orchestrator) storeFinal() {
	s := o.snapshot()
	o.finalMu.Lock()
	o.final = &s
	o.finalMu.Unlock()
}

// snapshot copies the loop-owned state. Loop goroutine only.
func (o *Orchestrator) snapshot() State {
	s := o.state.clone()
	s.Violations = o.deps.Tracker.Counts()
	return s
}
