package secret

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches ${provider:key} with a word-shaped provider name.
var refPattern = regexp.MustCompile(`\$\{(\w+):([^}]+)\}`)

// IsRef reports whether s contains at least one secret reference.
func IsRef(s string) bool {
	return refPattern.MatchString(s)
}

// ParseRef parses the first secret reference in s.
func ParseRef(s string) (Ref, error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return Ref{}, fmt.Errorf("not a secret reference: %q", s)
	}
	return Ref{
		Provider: m[1],
		Key:      strings.TrimSpace(m[2]),
		Raw:      m[0],
	}, nil
}

// Expand replaces every secret reference in s with its resolved value.
// A string without references passes through untouched.
func (r *Resolver) Expand(ctx context.Context, s string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}

	var firstErr error
	out := refPattern.ReplaceAllStringFunc(s, func(raw string) string {
		ref, err := ParseRef(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return raw
		}
		value, err := r.Resolve(ctx, ref)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to resolve secret %s: %w", raw, err)
			}
			return raw
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Mask hides most of a secret value for terminal display.
func Mask(value string) string {
	switch {
	case len(value) <= 4:
		return "****"
	case len(value) <= 8:
		return value[:2] + "****"
	default:
		return value[:3] + "****" + value[len(value)-2:]
	}
}
