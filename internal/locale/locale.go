// Package locale maps human-readable language names and BCP-47 codes to the
// narrow speech locale tags used for narration and speech capture.
package locale

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is returned when input cannot be resolved.
const DefaultLocale = "en-US"

// names maps lower-cased language names to speech locales.
var names = map[string]string{
	"english":    "en-US",
	"hindi":      "hi-IN",
	"tamil":      "ta-IN",
	"telugu":     "te-IN",
	"kannada":    "kn-IN",
	"malayalam":  "ml-IN",
	"marathi":    "mr-IN",
	"bengali":    "bn-IN",
	"bangla":     "bn-IN",
	"gujarati":   "gu-IN",
	"punjabi":    "pa-IN",
	"urdu":       "ur-IN",
	"odia":       "or-IN",
	"spanish":    "es-ES",
	"french":     "fr-FR",
	"german":     "de-DE",
	"italian":    "it-IT",
	"portuguese": "pt-BR",
	"japanese":   "ja-JP",
	"korean":     "ko-KR",
	"chinese":    "zh-CN",
	"mandarin":   "zh-CN",
	"arabic":     "ar-SA",
	"russian":    "ru-RU",
}

// Resolve returns the speech locale for a language name or code, or
// DefaultLocale when nothing matches.
func Resolve(input string) string {
	if tag, ok := Lookup(input); ok {
		return tag
	}
	return DefaultLocale
}

// Lookup resolves input and reports whether a mapping was found.
func Lookup(input string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", false
	}
	if tag, ok := names[s]; ok {
		return tag, true
	}

	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil || tag == language.Und {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", false
	}
	region, _ := tag.Region()
	if region.String() == "ZZ" {
		return "", false
	}
	return base.String() + "-" + region.String(), true
}

// SameLanguage reports whether a and b resolve to the same base language.
func SameLanguage(a, b string) bool {
	return baseOf(Resolve(a)) == baseOf(Resolve(b))
}

func baseOf(tag string) string {
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		return tag[:i]
	}
	return tag
}
