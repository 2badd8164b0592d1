package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// PlainText strips every HTML element from user or staff supplied text and bounds its length.
type PlainText struct {
	policy *bluemonday.Policy
	limit  int
}

// NewPlainText returns a sanitizer that keeps at most limit runes. A limit of zero keeps everything.
func NewPlainText(limit int) *PlainText {
	return &PlainText{policy: bluemonday.StrictPolicy(), limit: limit}
}

// Sanitize removes markup and control characters and trims surrounding whitespace.
func (p *PlainText) Sanitize(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	cleaned := html.UnescapeString(p.policy.Sanitize(input))
	var builder strings.Builder
	count := 0
	for _, r := range cleaned {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if r == utf8.RuneError {
			continue
		}
		builder.WriteRune(r)
		count++
		if p.limit > 0 && count >= p.limit {
			break
		}
	}
	return strings.TrimSpace(builder.String())
}
