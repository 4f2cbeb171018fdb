// Package narration plays question text through text-to-speech, one
// utterance at a time, translating it first when the question's language
// differs from the interview language.
package narration

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/proctord/internal/logging"
	"go.uber.org/zap"
)

// Synthesizer speaks text on the candidate device. Speak blocks until
// playback finishes or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text, locale string) error
}

// Utterance is one narration. Fields are only readable after Done is closed.
type Utterance struct {
	locale         string
	text           string
	err            error
	translationErr error
	cancel         context.CancelFunc
	done           chan struct{}
}

// Done is closed when playback ended, failed or was cancelled.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Err reports how playback ended: nil when it completed, context.Canceled
// when it was superseded or cancelled.
func (u *Utterance) Err() error {
	<-u.done
	return u.err
}

// Text is the text that was spoken, after any translation.
func (u *Utterance) Text() string {
	<-u.done
	return u.text
}

func (u *Utterance) Locale() string { return u.locale }

// TranslationErr is non-nil when translation failed and the original text
// was spoken instead.
func (u *Utterance) TranslationErr() error {
	<-u.done
	return u.translationErr
}

// Cancelled reports whether the utterance was cut short.
func (u *Utterance) Cancelled() bool {
	<-u.done
	return errors.Is(u.err, context.Canceled)
}

func (u *Utterance) finished() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

// prepareFunc produces the text to speak. A non-nil error is a degraded
// translation, not a failure.
type prepareFunc func(ctx context.Context) (string, error)

// Controller guarantees at most one active utterance.
type Controller struct {
	synth  Synthesizer
	logger *logging.Logger

	mu      sync.Mutex
	current *Utterance
}

func NewController(synth Synthesizer, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Controller{synth: synth, logger: logger}
}

// Speak cancels any in-flight utterance, waits for it to stop, then starts
// speaking text. It returns immediately.
func (c *Controller) Speak(ctx context.Context, text, locale string) *Utterance {
	return c.start(ctx, locale, func(context.Context) (string, error) { return text, nil })
}

func (c *Controller) start(ctx context.Context, locale string, prepare prepareFunc) *Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopCurrent()

	uctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	u := &Utterance{
		locale: locale,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.current = u

	go func() {
		defer close(u.done)
		defer cancel()

		text, terr := prepare(uctx)
		u.text = text
		u.translationErr = terr
		if err := uctx.Err(); err != nil {
			u.err = err
			return
		}
		u.err = c.synth.Speak(uctx, text, locale)
		if u.err != nil && uctx.Err() != nil {
			u.err = uctx.Err()
		}
		if u.err != nil && !errors.Is(u.err, context.Canceled) {
			c.logger.Warn(ctx, "narration failed", zap.String("locale", locale), zap.Error(u.err))
		}
	}()
	return u
}

// stopCurrent cancels and waits out the active utterance. Caller holds mu.
func (c *Controller) stopCurrent() {
	if c.current == nil {
		return
	}
	c.current.cancel()
	<-c.current.done
	c.current = nil
}

// Speaking reports whether an utterance is playing.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.finished()
}

// Cancel stops the active utterance, if any, and waits for it to end.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCurrent()
}
