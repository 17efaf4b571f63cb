package chat

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxContentChars is the maximum message length in characters, measured
// after trimming surrounding whitespace.
const MaxContentChars = 500

// ErrInvalidContent means the message content failed validation: empty after
// trimming, over the length bound, or not valid UTF-8.
var ErrInvalidContent = errors.New("chat: invalid message content")

// ValidateContent trims surrounding whitespace and checks the content
// bounds. Returns the trimmed content on success.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrInvalidContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentChars {
		return "", ErrInvalidContent
	}
	if !utf8.ValidString(trimmed) {
		return "", ErrInvalidContent
	}
	return trimmed, nil
}
