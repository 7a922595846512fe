package domain

import "unicode/utf8"

// MaxQuestionRunes bounds the question length accepted at the boundary.
const MaxQuestionRunes = 2000

// previewRunes limits how much of an offending value is echoed back.
const previewRunes = 64

// ValidateQuestion checks a question before it reaches the index. Empty and
// whitespace-only questions are accepted and simply rarely match.
func ValidateQuestion(q string) error {
	if utf8.RuneCountInString(q) > MaxQuestionRunes {
		return NewValidationError("question", preview(q), ErrQuestionTooLong)
	}
	if !utf8.ValidString(q) {
		return NewValidationError("question", preview(q), ErrMalformedQuery)
	}
	return nil
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "..."
}
