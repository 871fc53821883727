package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core to sanitize sensitive values from logs
type SecretSanitizer struct {
	zapcore.Core
	patterns      []*secretPattern
	resolvedCache *sync.Map // Resolved secret values to mask verbatim
}

// secretPattern defines a pattern for detecting and masking secrets
type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:          core,
		patterns:      defaultSecretPatterns(),
		resolvedCache: &sync.Map{},
	}
}

// defaultSecretPatterns covers the secret formats this service handles:
// Google OAuth material plus bearer and JWT tokens.
func defaultSecretPatterns() []*secretPattern {
	return []*secretPattern{
		{
			name:     "google_access_token",
			regex:    regexp.MustCompile(`\b(ya29\.[A-Za-z0-9\-_\.]{20,})\b`),
			maskFunc: maskTokenEnds,
		},
		{
			name:     "google_refresh_token",
			regex:    regexp.MustCompile(`\b(1//[A-Za-z0-9\-_]{20,})\b`),
			maskFunc: maskTokenEnds,
		},
		{
			name:  "google_client_secret",
			regex: regexp.MustCompile(`\b(GOCSPX-[A-Za-z0-9\-_]{10,})\b`),
			maskFunc: func(value string) string {
				return "GOCSPX-***" + value[len(value)-2:]
			},
		},
		{
			name:  "bearer_token",
			regex: regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)\b`),
			maskFunc: func(token string) string {
				_, credential, ok := strings.Cut(token, " ")
				if !ok || len(credential) <= 4 {
					return "Bearer ****"
				}
				return "Bearer " + credential[:4] + "***" + credential[len(credential)-2:]
			},
		},
		{
			// Covers Google ID tokens too.
			name:  "jwt",
			regex: regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
			maskFunc: func(jwt string) string {
				parts := strings.Split(jwt, ".")
				if len(parts) != 3 {
					return "****"
				}
				// Keep the header so the token type stays debuggable.
				return parts[0] + ".***." + parts[2][len(parts[2])-4:]
			},
		},
	}
}

// maskTokenEnds keeps the identifying prefix and last two characters.
func maskTokenEnds(token string) string {
	if len(token) <= 7 {
		return "****"
	}
	return token[:5] + "***" + token[len(token)-2:]
}

// RegisterResolvedSecret registers a secret value that was resolved from
// keyring/env so it can be masked in logs
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 4 {
		return
	}
	s.resolvedCache.Store(value, true)
}

// UnregisterResolvedSecret removes a secret from the mask cache
func (s *SecretSanitizer) UnregisterResolvedSecret(value string) {
	s.resolvedCache.Delete(value)
}

// sanitizeString applies all registered patterns to mask secrets
func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str

	// First, mask any explicitly registered resolved secrets
	s.resolvedCache.Range(func(key, _ interface{}) bool {
		secretValue, ok := key.(string)
		if !ok || secretValue == "" {
			return true
		}

		if len(secretValue) >= 8 {
			result = strings.ReplaceAll(result, secretValue, maskValue(secretValue))
		}
		return true
	})

	// Then apply pattern-based masking
	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllStringFunc(result, pattern.maskFunc)
	}

	return result
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)

	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}

	return s.Core.Write(entry, sanitizedFields)
}

// sanitizeField sanitizes a zap field
func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		if raw, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.sanitizeString(string(raw)))
		}
	case zapcore.ReflectType:
		// Best effort for complex types with a string form
		if stringer, ok := field.Interface.(interface{ String() string }); ok {
			original := stringer.String()
			sanitized := s.sanitizeString(original)
			if original != sanitized {
				field = zapcore.Field{
					Key:    field.Key,
					Type:   zapcore.StringType,
					String: sanitized,
				}
			}
		}
	}
	return field
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:          s.Core.With(sanitizedFields),
		patterns:      s.patterns,
		resolvedCache: s.resolvedCache,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue masks a secret value showing first 3 and last 2 characters
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
