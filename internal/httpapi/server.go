// Package httpapi serves the public HTTP surface: protocol discovery,
// the OAuth authorization flow, dynamic client registration, REST tool
// dispatch and the API-keyed admin endpoints. Error bodies are
// `{"detail": message}`; auth failures carry WWW-Authenticate: Bearer.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/clients"
	"taskmcp-go/internal/config"
	"taskmcp-go/internal/oauth"
	"taskmcp-go/internal/observability"
	"taskmcp-go/internal/reqcontext"
	"taskmcp-go/internal/session"
	"taskmcp-go/internal/storage"
	"taskmcp-go/internal/tools"
)

const (
	// ServerName is the server identity reported on discovery endpoints.
	ServerName = "Task Manager MCP Server"

	// ProtocolVersion is the MCP protocol revision this server speaks.
	ProtocolVersion = "2025-06-18"

	// ProtocolVersionHeader carries the protocol version on HEAD /.
	ProtocolVersionHeader = "MCP-Protocol-Version"
)

// Deps carries everything the HTTP surface is wired to. MCP is the
// optional streamable MCP handler mounted at /mcp for protocol-native
// clients; States backs the cleanup report.
type Deps struct {
	Config        *config.Config
	Version       string
	Flow          *oauth.Flow
	Sessions      *session.Manager
	Registrar     *clients.Registrar
	Registry      *tools.Registry
	States        oauth.StateStore
	Store         *storage.Manager
	Observability *observability.Manager
	MCP           http.Handler
	Logger        *zap.SugaredLogger
}

// Server is the chi-routed HTTP API.
type Server struct {
	cfg       *config.Config
	version   string
	flow      *oauth.Flow
	sessions  *session.Manager
	registrar *clients.Registrar
	registry  *tools.Registry
	states    oauth.StateStore
	store     *storage.Manager
	obs       *observability.Manager
	mcp       http.Handler
	logger    *zap.SugaredLogger
	router    chi.Router
}

// NewServer assembles the router. All dependencies except Observability
// and MCP are required.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		cfg:       deps.Config,
		version:   deps.Version,
		flow:      deps.Flow,
		sessions:  deps.Sessions,
		registrar: deps.Registrar,
		registry:  deps.Registry,
		states:    deps.States,
		store:     deps.Store,
		obs:       deps.Observability,
		mcp:       deps.MCP,
		logger:    logger,
		router:    chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := s.router

	if s.obs != nil {
		r.Use(s.obs.HTTPMiddleware())
	}
	r.Use(RequestIDMiddleware)
	r.Use(RequestLoggerMiddleware(s.logger))
	r.Use(s.requestLogging())
	r.Use(middleware.Recoverer)

	// Protocol discovery and server card
	r.Head("/", s.handleProtocolDiscovery)
	r.Get("/", s.handleServerCard)
	r.Get("/health", s.handleHealth)

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", s.handleAuthorize)
		r.Get("/callback", s.handleCallback)
		r.Post("/refresh", s.handleRefresh)
		r.With(s.requireSession).Post("/logout", s.handleLogout)
	})

	r.Route("/clients", func(r chi.Router) {
		r.Post("/register", s.handleRegisterClient)
		r.Get("/", s.handleListClients)
		r.Get("/{clientID}", s.handleGetClient)
		r.Delete("/{clientID}", s.handleRevokeClient)
	})

	r.Route("/mcp", func(r chi.Router) {
		// Protocol-native clients speak streamable MCP on /mcp itself.
		if s.mcp != nil {
			r.With(s.requireSession).Handle("/", s.mcp)
		}
		r.Post("/initialize", s.handleInitialize)
		r.Post("/tools/list", s.handleToolsList)
		r.With(s.requireSession).Post("/tools/call", s.handleToolsCall)
	})

	if s.obs != nil && s.obs.Metrics() != nil {
		r.Method(http.MethodGet, "/metrics", s.obs.Metrics().Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey())
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/activity", s.handleActivity)
	})
}

// System handlers

func (s *Server) handleProtocolDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(ProtocolVersionHeader, ProtocolVersion)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleServerCard(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":     ServerName,
		"version":  s.version,
		"protocol": ProtocolVersion,
		"status":   "operational",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

// writeDetail writes the `{"detail": message}` error body.
func (s *Server) writeDetail(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"detail": message})
}

// writeAppError renders a typed application error. Infrastructure
// failures are logged with full context but surfaced generically.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInfrastructure {
		reqcontext.Logger(r.Context(), s.logger).Errorw("Request failed",
			"path", r.URL.Path,
			"error", err)
		s.writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeDetail(w, e.Status, e.Message)
}

// decodeBody decodes a JSON request body into dst.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("Invalid request body")
	}
	return nil
}
