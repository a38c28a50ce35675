package text

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyText is returned when a prompt has no printable content.
var ErrEmptyText = errors.New("text is empty")

// NormalizePrompt prepares a music description for the T5 tokenizer. The
// text is composed to NFC, control characters are dropped and every
// whitespace run, line breaks included, becomes a single space.
func NormalizePrompt(s string) (string, error) {
	s = norm.NFC.String(s)

	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), r == unicode.ReplacementChar:
			return -1
		default:
			return r
		}
	}, s)

	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}
