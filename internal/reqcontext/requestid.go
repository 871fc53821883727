package reqcontext

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

// ContextKey is a private key type so reqcontext values cannot collide with
// keys planted by other packages.
type ContextKey string

const (
	// RequestIDKey carries the per-request correlation ID.
	RequestIDKey ContextKey = "request_id"

	// LoggerKey carries the request-scoped logger.
	LoggerKey ContextKey = "request_logger"

	// RequestIDHeader is the header the HTTP surface reads and echoes.
	RequestIDHeader = "X-Request-Id"

	// MaxRequestIDLength caps client-supplied IDs so they stay safe to log.
	MaxRequestIDLength = 256
)

// Client-supplied IDs are restricted to characters that need no escaping in
// logs, headers, or activity records.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,256}$`)

// IsValidRequestID reports whether id is acceptable as-is: 1 to 256
// characters drawn from [a-zA-Z0-9_-].
func IsValidRequestID(id string) bool {
	return len(id) <= MaxRequestIDLength && requestIDPattern.MatchString(id)
}

// GenerateRequestID returns a fresh UUID v4 string.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GetOrGenerateRequestID keeps a valid client-supplied ID and replaces
// anything else, including the empty string, with a generated one.
func GetOrGenerateRequestID(providedID string) string {
	if IsValidRequestID(providedID) {
		return providedID
	}
	return GenerateRequestID()
}

// WithRequestID stores the request ID on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID returns the request ID from ctx, or "" when none was set.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
