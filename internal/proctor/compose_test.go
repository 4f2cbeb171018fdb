package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeAnswer(t *testing.T) {
	text := Question{ID: "t", Text: "Tell me", Kind: KindText}
	code := Question{ID: "c", Text: "Write", Kind: KindCode, CodeLanguage: "python"}

	tests := []struct {
		name       string
		q          Question
		transcript string
		code       string
		want       string
	}{
		{"text with transcript", text, "I like Go", "", "I like Go"},
		{"text trims whitespace", text, "  I like Go \n", "", "I like Go"},
		{"text empty transcript", text, "", "", NoAnswerSentinel},
		{"text whitespace transcript", text, "   ", "", NoAnswerSentinel},
		{"text ignores code", text, "spoken", "x=1", "spoken"},
		{"code only", code, "", "x=1", "```python\nx=1\n```"},
		{"code with explanation", code, "It assigns", "x=1", "It assigns\n\n```python\nx=1\n```"},
		{"code trailing newline", code, "", "x=1\n\n", "```python\nx=1\n```"},
		{"code empty", code, "", "", "```python\n\n```"},
		{"code without language", Question{ID: "c", Text: "w", Kind: KindCode}, "", "y", "```\ny\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComposeAnswer(tt.q, tt.transcript, tt.code))
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Phase{
		{PhaseAwaitingFullScreen, PhaseActive},
		{PhaseAwaitingFullScreen, PhaseTerminated},
		{PhaseAwaitingFullScreen, PhaseCompleted},
		{PhaseActive, PhaseAwaitingFullScreen},
		{PhaseActive, PhaseCompleted},
		{PhaseActive, PhaseTerminated},
	}
	for _, p := range allowed {
		assert.NoError(t, CanTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}

	for _, from := range []Phase{PhaseCompleted, PhaseTerminated} {
		for _, to := range []Phase{PhaseAwaitingFullScreen, PhaseActive, PhaseCompleted, PhaseTerminated} {
			assert.Error(t, CanTransition(from, to), "%s -> %s", from, to)
		}
		assert.True(t, from.Terminal())
	}
	assert.False(t, PhaseActive.Terminal())
}

func TestValidateQuestions(t *testing.T) {
	assert.ErrorIs(t, ValidateQuestions(nil), ErrNoQuestions)
	assert.ErrorIs(t, ValidateQuestions([]Question{{Text: "x", Kind: KindText}}), ErrInvalidQuestion)
	assert.ErrorIs(t, ValidateQuestions([]Question{{ID: "a", Kind: KindText}}), ErrInvalidQuestion)
	assert.ErrorIs(t, ValidateQuestions([]Question{{ID: "a", Text: "x", Kind: "text"}}), ErrInvalidQuestion)
	assert.NoError(t, ValidateQuestions(textQuestions(3)))
}
