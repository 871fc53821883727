package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/reqcontext"
)

// RequestIDMiddleware extracts or generates a request ID for each request.
// A valid client-provided X-Request-Id header is honored, anything else is
// replaced with a fresh UUID. The id is set on the response header before
// the next handler runs so it is present even if the handler panics, and
// stored in the context for logging and audit records.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := reqcontext.GetOrGenerateRequestID(r.Header.Get(reqcontext.RequestIDHeader))

		w.Header().Set(reqcontext.RequestIDHeader, requestID)

		ctx := reqcontext.WithRequestID(r.Context(), requestID)
		ctx = reqcontext.WithRequestSource(ctx, reqcontext.SourceRESTAPI)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLoggerMiddleware creates a logger with the request_id field and
// stores it in the context. Register AFTER RequestIDMiddleware.
func RequestLoggerMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestLogger := logger.With("request_id", reqcontext.GetRequestID(ctx))

			next.ServeHTTP(w, r.WithContext(reqcontext.WithLogger(ctx, requestLogger)))
		})
	}
}

// requestLogging creates the HTTP access logging middleware
func (s *Server) requestLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the response writer to capture the status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			s.logger.Infow("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"status", ww.statusCode,
				"duration", time.Since(start),
				"request_id", reqcontext.GetRequestID(r.Context()),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher by delegating to the underlying ResponseWriter
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// requireSession authenticates the request from its bearer session id and
// stores the resolved actor in the context. Only the missing-header case
// advertises the scheme via WWW-Authenticate.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := r.Header.Get("Authorization")
		if authorization == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeDetail(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		if !strings.HasPrefix(authorization, "Bearer ") {
			s.writeDetail(w, http.StatusUnauthorized, "Invalid authorization header format (expected 'Bearer <session_id>')")
			return
		}

		sessionID := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
		if sessionID == "" {
			s.writeDetail(w, http.StatusUnauthorized, "Missing session ID in authorization header")
			return
		}

		valid, err := s.sessions.Validate(r.Context(), sessionID)
		if err != nil {
			s.writeAppError(w, r, apperr.Infrastructure(err, "session validation failed"))
			return
		}
		if !valid {
			s.writeDetail(w, http.StatusUnauthorized, "Invalid or expired session")
			return
		}

		// The session can be swept between Validate and Get
		sess, err := s.sessions.Get(r.Context(), sessionID)
		if err != nil {
			s.writeDetail(w, http.StatusUnauthorized, "Session not found")
			return
		}

		ctx := reqcontext.WithActor(r.Context(), reqcontext.Actor{
			UserID:    sess.UserID,
			SessionID: sess.ID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAPIKey creates middleware guarding the administrative endpoints.
// A request authenticates with the X-API-Key header or, for browser use,
// the apikey query parameter.
func (s *Server) requireAPIKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// An unset key must not expose the admin surface
			if s.cfg == nil || s.cfg.APIKey == "" {
				s.logger.Warnw("Admin request rejected, API key not configured",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				s.writeDetail(w, http.StatusUnauthorized, "API key authentication required but not configured. Set TASKMCP_API_KEY or configure api_key in the config file.")
				return
			}

			if !validAPIKey(r, s.cfg.APIKey) {
				s.logger.Warnw("Admin request with invalid API key",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				s.writeDetail(w, http.StatusUnauthorized, "Invalid or missing API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validAPIKey checks whether the request carries the expected API key
func validAPIKey(r *http.Request, expected string) bool {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key == expected
	}

	if key := r.URL.Query().Get("apikey"); key != "" {
		return key == expected
	}

	return false
}
