package proctor

import "strings"

// NoAnswerSentinel replaces an empty transcript for TEXT questions.
const NoAnswerSentinel = "No answer provided"

// ComposeAnswer builds the submitted payload. CODE answers carry the code in
// a fenced block, preceded by the spoken explanation when there is one.
func ComposeAnswer(q Question, transcript, code string) string {
	transcript = strings.TrimSpace(transcript)

	if q.Kind != KindCode {
		if transcript == "" {
			return NoAnswerSentinel
		}
		return transcript
	}

	block := codeBlock(q.CodeLanguage, code)
	if transcript == "" {
		return block
	}
	return transcript + "\n\n" + block
}

func codeBlock(lang, code string) string {
	var b strings.Builder
	b.WriteString("```")
	b.WriteString(lang)
	b.WriteByte('\n')
	b.WriteString(strings.TrimRight(code, "\n"))
	b.WriteString("\n```")
	return b.String()
}
