package http

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/concierge/pkg/domain"
)

// DefaultMaxTextBytes bounds message text when no limit is configured.
const DefaultMaxTextBytes = 4096

var (
	// ErrTextTooLarge wraps domain.ErrInvalidTurn.
	ErrTextTooLarge = fmt.Errorf("%w: message text too large", domain.ErrInvalidTurn)
	// ErrTextEncoding wraps domain.ErrInvalidTurn.
	ErrTextEncoding = fmt.Errorf("%w: message text is not valid UTF-8", domain.ErrInvalidTurn)
)

// InputLimits bounds inbound message text in bytes, per vertical.
type InputLimits struct {
	Default   int
	Verticals map[string]int
}

// DefaultInputLimits applies DefaultMaxTextBytes to every vertical.
func DefaultInputLimits() InputLimits {
	return InputLimits{Default: DefaultMaxTextBytes}
}

// Limit returns the byte limit for vertical.
func (l InputLimits) Limit(vertical string) int {
	if n, ok := l.Verticals[vertical]; ok && n > 0 {
		return n
	}
	if l.Default > 0 {
		return l.Default
	}
	return DefaultMaxTextBytes
}

// Clean validates text for vertical and returns it with surrounding
// whitespace trimmed and control characters other than newline and tab
// removed. Carriage returns become newlines.
func (l InputLimits) Clean(vertical, text string) (string, error) {
	if limit := l.Limit(vertical); len(text) > limit {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTextTooLarge, len(text), limit)
	}
	if !utf8.ValidString(text) {
		return "", ErrTextEncoding
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\r':
			b.WriteRune('\n')
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
