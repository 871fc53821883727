package httpapi

import (
	"net/http"

	"taskmcp-go/internal/reqcontext"
)

// handleAuthorize starts the authorization-code flow and redirects the
// browser to the identity provider. Without query parameters this serves
// the plain web flow; dynamically registered clients pass their client_id
// and redirect_uri pair.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	redirectURI := r.URL.Query().Get("redirect_uri")

	authURL, err := s.flow.BeginAuthorization(r.Context(), clientID, redirectURI)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// handleCallback completes the provider round trip and returns the minted
// session with its tokens.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		s.writeDetail(w, http.StatusBadRequest, "Missing code or state parameter")
		return
	}

	grant, err := s.flow.CompleteAuthorization(r.Context(), code, state)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, grant)
}

// refreshRequest is the body of POST /oauth/refresh
type refreshRequest struct {
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token"`
}

// handleRefresh redeems the session's refresh token for a fresh access
// token. The presented refresh token must match the stored one.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if req.SessionID == "" || req.RefreshToken == "" {
		s.writeDetail(w, http.StatusBadRequest, "Both session_id and refresh_token are required")
		return
	}

	grant, err := s.flow.RefreshSession(r.Context(), req.SessionID, req.RefreshToken)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, grant)
}

// handleLogout deletes the authenticated caller's session. Logging out a
// session that just expired still succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	actor, ok := reqcontext.GetActor(r.Context())
	if !ok {
		s.writeDetail(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if _, err := s.flow.Logout(r.Context(), actor.SessionID); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
