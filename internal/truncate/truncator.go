// Package truncate bounds tool response payloads to a configured
// character limit so an oversized listing cannot blow out a client's
// context window.
package truncate

import (
	"fmt"
	"strings"
)

// Truncator cuts tool responses that exceed a character limit.
type Truncator struct {
	limit int
}

// NewTruncator creates a truncator with the given character limit.
// A limit of 0 disables truncation.
func NewTruncator(limit int) *Truncator {
	return &Truncator{limit: limit}
}

// ShouldTruncate reports whether content exceeds the limit.
func (t *Truncator) ShouldTruncate(content string) bool {
	return t.limit > 0 && len(content) > t.limit
}

// Truncate returns content unchanged when it fits, otherwise cuts it
// to the limit and appends a notice naming the true size. The cut
// prefers the end of a JSON value so the visible part stays readable.
func (t *Truncator) Truncate(content string) string {
	if !t.ShouldTruncate(content) {
		return content
	}

	notice := fmt.Sprintf(`

... [truncated by taskmcp]

Response truncated (limit: %d chars, actual: %d chars)
Use limit/offset parameters or narrower filters to reduce the response size.`,
		t.limit, len(content))

	available := t.limit - len(notice)
	if available < 0 {
		available = 0
	}
	if available > len(content) {
		available = len(content)
	}

	truncated := content[:available]

	// Prefer breaking after a complete JSON object or array element
	if available > 0 && available < len(content) {
		if lastBrace := strings.LastIndex(truncated, "}"); lastBrace > available/2 {
			truncated = truncated[:lastBrace+1]
		} else if lastBracket := strings.LastIndex(truncated, "]"); lastBracket > available/2 {
			truncated = truncated[:lastBracket+1]
		}
	}

	return truncated + notice
}
