package narration

import (
	"context"
	"errors"
	"strings"

	"github.com/fyrsmithlabs/proctord/internal/locale"
	"github.com/fyrsmithlabs/proctord/internal/logging"
	"go.uber.org/zap"
)

var errEmptyTranslation = errors.New("translator returned empty text")

// Translator translates text into targetLocale.
type Translator interface {
	Translate(ctx context.Context, text, targetLocale string) (string, error)
}

// Narrator speaks question text in the interview language.
type Narrator struct {
	controller *Controller
	translator Translator
	logger     *logging.Logger
}

// NewNarrator creates a narrator. translator may be nil, in which case text
// is always spoken as written.
func NewNarrator(controller *Controller, translator Translator, logger *logging.Logger) *Narrator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Narrator{controller: controller, translator: translator, logger: logger}
}

func (n *Narrator) Controller() *Controller { return n.controller }

// Narrate speaks text in targetLang. When sourceLang names a different
// language the text is translated first; a failed translation falls back to
// the original text and is reported by Utterance.TranslationErr.
func (n *Narrator) Narrate(ctx context.Context, text, sourceLang, targetLang string) *Utterance {
	target := locale.Resolve(targetLang)
	translate := n.translator != nil && sourceLang != "" && !locale.SameLanguage(sourceLang, targetLang)

	return n.controller.start(ctx, target, func(uctx context.Context) (string, error) {
		if !translate {
			return text, nil
		}
		out, err := n.translator.Translate(uctx, text, target)
		if err == nil && strings.TrimSpace(out) == "" {
			err = errEmptyTranslation
		}
		if err != nil {
			if uctx.Err() == nil {
				n.logger.Warn(ctx, "translation failed, narrating original text",
					zap.String("target", target), zap.Error(err))
			}
			return text, err
		}
		return out, nil
	})
}

// Speaking reports whether narration is playing.
func (n *Narrator) Speaking() bool { return n.controller.Speaking() }

// Cancel stops narration.
func (n *Narrator) Cancel() { n.controller.Cancel() }
