package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/reqcontext"
)

// toolCallRequest is the body of POST /mcp/tools/call
type toolCallRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// handleInitialize answers the protocol handshake. The handshake itself
// is unauthenticated; only tool execution requires a session.
func (s *Server) handleInitialize(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo": map[string]string{
			"name":    ServerName,
			"version": s.version,
		},
	})
}

// handleToolsList returns every tool schema the registry dispatches
func (s *Server) handleToolsList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Tools()})
}

// handleToolsCall executes one tool for the authenticated caller. Domain
// failures come back inside the content envelope; only an unknown or
// missing tool name and transport-level failures surface as HTTP errors.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	actor, ok := reqcontext.GetActor(r.Context())
	if !ok {
		s.writeDetail(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	start := time.Now()
	result, err := s.registry.Call(r.Context(), actor, req.Name, req.Params)
	if s.obs != nil {
		s.obs.RecordToolCall(r.Context(), req.Name, time.Since(start), err)
	}
	if err != nil {
		if e, ok := apperr.As(err); ok {
			s.writeDetail(w, e.Status, e.Message)
			return
		}
		s.writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Tool execution failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}
