// Package server is the composition root. It builds the storage, index,
// session, client, OAuth and tool layers from configuration, bridges the
// tool registry onto a protocol-native MCP server, and runs the HTTP
// front end plus the background maintenance loops.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"taskmcp-go/internal/calendar"
	"taskmcp-go/internal/clients"
	"taskmcp-go/internal/config"
	"taskmcp-go/internal/httpapi"
	"taskmcp-go/internal/index"
	"taskmcp-go/internal/oauth"
	"taskmcp-go/internal/observability"
	"taskmcp-go/internal/security"
	"taskmcp-go/internal/session"
	"taskmcp-go/internal/storage"
	"taskmcp-go/internal/tasks"
	"taskmcp-go/internal/tools"
)

const (
	serviceName = "taskmcp"

	shutdownTimeout = 30 * time.Second
	metricsInterval = 30 * time.Second
	sweepInterval   = 10 * time.Minute
)

// Server owns every long-lived component and their shutdown order.
type Server struct {
	config  *config.Config
	version string
	logger  *zap.SugaredLogger

	store     *storage.Manager
	index     *index.Manager
	sessions  *session.Manager
	registrar *clients.Registrar
	states    *oauth.MemoryStateStore
	registry  *tools.Registry
	obs       *observability.Manager
	api       *httpapi.Server

	// Server control
	httpServer *http.Server
	running    bool
	shutdown   bool
	mu         sync.RWMutex

	// Cancelled on shutdown only; background loops run on this context.
	appCtx    context.Context
	appCancel context.CancelFunc
}

// NewServer wires the full component graph. Construction opens storage
// and the search index but does not bind the listen address; Start does.
func NewServer(cfg *config.Config, version string, logger *zap.Logger) (*Server, error) {
	sugar := logger.Sugar()

	cipher, err := security.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	store, err := storage.NewManager(cfg.DataDir, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage manager: %w", err)
	}

	idx, err := index.NewManager(cfg.DataDir, sugar)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize index manager: %w", err)
	}

	sessions := session.NewManager(store, cipher, cfg.SessionTTL(), sugar)
	registrar := clients.NewRegistrar(store, cipher, sugar)
	states := oauth.NewMemoryStateStore(cfg.StateTTL())

	flow := oauth.NewFlow(oauth.FlowDeps{
		Provider:  oauth.NewGoogleProvider(cfg.Google),
		Verifier:  oauth.NewGoogleVerifier(cfg.Google),
		States:    states,
		Store:     store,
		Sessions:  sessions,
		Registrar: registrar,
		Logger:    sugar,
	})

	taskService := tasks.NewService(store, idx, calendar.NewGoogleClient(cfg.Google, sugar), sugar)

	registry, err := tools.NewRegistry(tools.Deps{
		Tasks:         taskService,
		Sessions:      sessions,
		ResponseLimit: cfg.ToolResponseLimit,
		Logger:        sugar,
	})
	if err != nil {
		states.Close()
		idx.Close()
		store.Close()
		return nil, fmt.Errorf("failed to assemble tool registry: %w", err)
	}

	obsConfig := observability.DefaultConfig(serviceName, version)
	if cfg.Tracing != nil {
		obsConfig.Tracing.Enabled = cfg.Tracing.Enabled
		obsConfig.Tracing.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
		if cfg.Tracing.SampleRate > 0 {
			obsConfig.Tracing.SampleRate = cfg.Tracing.SampleRate
		}
	}
	obs, err := observability.NewManager(sugar, obsConfig)
	if err != nil {
		states.Close()
		idx.Close()
		store.Close()
		return nil, fmt.Errorf("failed to initialize observability manager: %w", err)
	}

	mcpServer := newMCPServer(registry, obs, version, sugar)

	api := httpapi.NewServer(httpapi.Deps{
		Config:        cfg,
		Version:       version,
		Flow:          flow,
		Sessions:      sessions,
		Registrar:     registrar,
		Registry:      registry,
		States:        states,
		Store:         store,
		Observability: obs,
		MCP:           mcpserver.NewStreamableHTTPServer(mcpServer),
		Logger:        sugar,
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:    cfg,
		version:   version,
		logger:    sugar,
		store:     store,
		index:     idx,
		sessions:  sessions,
		registrar: registrar,
		states:    states,
		registry:  registry,
		obs:       obs,
		api:       api,
		appCtx:    ctx,
		appCancel: cancel,
	}, nil
}

// Handler returns the HTTP API handler. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.api
}

// Start rebuilds the search index from storage, launches the maintenance
// loop and serves HTTP until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.httpServer = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.api,
		ReadHeaderTimeout: 60 * time.Second,
		ReadTimeout:       120 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       180 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB max header size
	}
	httpServer := s.httpServer
	s.running = true
	s.mu.Unlock()

	// The index is derived state; storage is the source of truth. Search
	// falls back to storage scans if this fails, so a rebuild error is
	// not fatal.
	if n, err := s.index.Rebuild(s.appCtx, s.store); err != nil {
		s.logger.Errorw("Failed to rebuild task index", "error", err)
	} else if n > 0 {
		s.logger.Infow("Task index rebuilt from storage", "tasks", n)
	}

	if m := s.obs.Metrics(); m != nil {
		m.SetToolsTotal(len(s.registry.Tools()))
	}

	go s.maintenanceLoop(s.appCtx)

	go func() {
		<-ctx.Done()
		s.logger.Info("Context cancelled, shutting down server")
		if err := s.Shutdown(); err != nil {
			s.logger.Errorw("Error during shutdown", "error", err)
		}
	}()

	s.logger.Infow("Starting HTTP server",
		"listen", s.config.Listen,
		"version", s.version,
		"tools", len(s.registry.Tools()))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("HTTP server error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Shutdown stops the HTTP server, cancels the background loops and
// closes every manager. Safe to call more than once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.running = false
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Shutting down server")

	// Stop accepting new connections first so in-flight requests drain
	// against live managers.
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Warnw("HTTP server forced shutdown", "error", err)
			httpServer.Close()
		}
		cancel()
	}

	if s.appCancel != nil {
		s.appCancel()
	}

	s.states.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.obs.Close(closeCtx); err != nil {
		s.logger.Errorw("Failed to close observability manager", "error", err)
	}

	if err := s.index.Close(); err != nil {
		s.logger.Errorw("Failed to close index manager", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Errorw("Failed to close storage manager", "error", err)
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

// IsRunning reports whether the HTTP server is accepting requests.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// maintenanceLoop periodically sweeps expired sessions and client
// registrations and refreshes the gauge metrics.
func (s *Server) maintenanceLoop(ctx context.Context) {
	metricsTicker := time.NewTicker(metricsInterval)
	defer metricsTicker.Stop()
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-metricsTicker.C:
			s.refreshGauges(ctx)
		case <-sweepTicker.C:
			s.sweepExpired(ctx)
		}
	}
}

// refreshGauges pushes current counts into the gauge metrics.
func (s *Server) refreshGauges(ctx context.Context) {
	s.obs.UpdateMetrics()

	m := s.obs.Metrics()
	if m == nil {
		return
	}
	if n, err := s.store.CountSessions(ctx); err == nil {
		m.SetSessionsActive(n)
	}
	if docs, err := s.index.DocCount(); err == nil {
		m.SetIndexDocuments(docs)
	}
}

// sweepExpired removes expired sessions and client registrations. A
// sweep that removed something is recorded in the activity log; idle
// sweeps are not.
func (s *Server) sweepExpired(ctx context.Context) {
	removedSessions, err := s.sessions.CleanupExpired(ctx)
	s.obs.RecordStorageOperation("session_sweep", err)
	if err != nil {
		s.logger.Errorw("Session sweep failed", "error", err)
	}

	removedClients, err := s.registrar.CleanupExpired(ctx)
	s.obs.RecordStorageOperation("client_sweep", err)
	if err != nil {
		s.logger.Errorw("Client sweep failed", "error", err)
	}

	if removedSessions > 0 || removedClients > 0 {
		s.store.SaveActivityAsync(&storage.ActivityRecord{
			Type:   storage.ActivityTypeCleanup,
			Status: storage.ActivityStatusSuccess,
			Detail: fmt.Sprintf("sessions=%d clients=%d", removedSessions, removedClients),
		})
		s.logger.Infow("Expired records swept",
			"sessions", removedSessions,
			"clients", removedClients)
	}
}
