package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"taskmcp-go/internal/clients"
)

// registerClientRequest is the body of POST /clients/register
type registerClientRequest struct {
	Platform     string   `json:"platform"`
	RedirectURIs []string `json:"redirect_uris"`
}

// clientRegistration is returned once at registration time. It is the only
// response that ever carries the plaintext client secret.
type clientRegistration struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Platform     string    `json:"platform"`
	RedirectURIs []string  `json:"redirect_uris"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// clientInfo is the secret-free view of a registration
type clientInfo struct {
	ClientID     string     `json:"client_id"`
	Platform     string     `json:"platform"`
	RedirectURIs []string   `json:"redirect_uris"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastUsed     *time.Time `json:"last_used"`
}

func newClientInfo(client *clients.Client) clientInfo {
	info := clientInfo{
		ClientID:     client.ID,
		Platform:     client.Platform,
		RedirectURIs: client.RedirectURIs,
		CreatedAt:    client.Created,
		ExpiresAt:    client.ExpiresAt,
	}
	if !client.LastUsed.IsZero() {
		lastUsed := client.LastUsed
		info.LastUsed = &lastUsed
	}
	return info
}

// handleRegisterClient registers a native or CLI application as an OAuth
// client without pre-registration.
func (s *Server) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	if err := clients.ValidateRequest(req.Platform, req.RedirectURIs); err != nil {
		s.writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	client, secret, err := s.registrar.Register(r.Context(), req.Platform, req.RedirectURIs, s.cfg.ClientExpiryDays)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, clientRegistration{
		ClientID:     client.ID,
		ClientSecret: secret,
		Platform:     client.Platform,
		RedirectURIs: client.RedirectURIs,
		ExpiresAt:    client.ExpiresAt,
	})
}

// handleGetClient returns a registration without its secret
func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.registrar.Get(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			s.writeDetail(w, http.StatusNotFound, "Client not found")
			return
		}
		s.writeAppError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, newClientInfo(client))
}

// handleRevokeClient deletes a registration outright
func (s *Server) handleRevokeClient(w http.ResponseWriter, r *http.Request) {
	err := s.registrar.Revoke(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			s.writeDetail(w, http.StatusNotFound, "Client not found")
			return
		}
		s.writeAppError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Client registration revoked"})
}

// handleListClients lists registrations, optionally filtered by platform
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	list, err := s.registrar.List(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	infos := make([]clientInfo, 0, len(list))
	for _, client := range list {
		infos = append(infos, newClientInfo(client))
	}

	s.writeJSON(w, http.StatusOK, map[string][]clientInfo{"clients": infos})
}
