// Package oauth implements the Google authorization-code flow fronting the
// service: minting authorization URLs guarded by single-use CSRF states,
// completing the provider callback into a bearer session, and refreshing
// the provider access token inside an existing session.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/clients"
	"taskmcp-go/internal/security"
	"taskmcp-go/internal/session"
	"taskmcp-go/internal/storage"
)

const (
	// TokenTypeBearer is the token_type reported on every grant.
	TokenTypeBearer = "Bearer"

	stateBytes = 32
)

// Grant is the token response handed to callers after a completed
// authorization or a refresh.
type Grant struct {
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// FlowDeps carries the collaborators a Flow needs.
type FlowDeps struct {
	Provider  Provider
	Verifier  IdentityVerifier
	States    StateStore
	Store     *storage.Manager
	Sessions  *session.Manager
	Registrar *clients.Registrar
	Logger    *zap.SugaredLogger
}

// Flow drives the authorization-code round trip end to end. It owns no
// state of its own; everything lives in the injected collaborators.
type Flow struct {
	provider  Provider
	verifier  IdentityVerifier
	states    StateStore
	store     *storage.Manager
	sessions  *session.Manager
	registrar *clients.Registrar
	logger    *zap.SugaredLogger
}

func NewFlow(deps FlowDeps) *Flow {
	return &Flow{
		provider:  deps.Provider,
		verifier:  deps.Verifier,
		states:    deps.States,
		store:     deps.Store,
		sessions:  deps.Sessions,
		registrar: deps.Registrar,
		logger:    deps.Logger,
	}
}

// BeginAuthorization validates an optional dynamic-client pair, mints a
// single-use state and returns the provider URL to redirect the user to.
// clientID and redirectURI must be given together or not at all.
func (f *Flow) BeginAuthorization(ctx context.Context, clientID, redirectURI string) (string, error) {
	if (clientID == "") != (redirectURI == "") {
		return "", apperr.Flow("invalid_request", "Both client_id and redirect_uri are required for dynamic clients")
	}
	if clientID != "" {
		ok, err := f.registrar.ValidateRedirectURI(ctx, clientID, redirectURI)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", apperr.Flow("invalid_client", "Invalid client_id or redirect_uri not registered for client")
		}
	}

	state, err := security.RandomToken(stateBytes)
	if err != nil {
		return "", apperr.Infrastructure(err, "failed to mint authorization state")
	}
	f.states.Put(state)

	f.logger.Debugw("Authorization started", "dynamic_client", clientID != "")
	return f.provider.AuthCodeURL(state, redirectURI), nil
}

// CompleteAuthorization handles the provider callback: the state must be
// one we minted and never saw before, the code must exchange, and the ID
// token must verify and carry a subject and an email. The user is
// upserted, a session minted, and the provider tokens returned.
func (f *Flow) CompleteAuthorization(ctx context.Context, code, state string) (*Grant, error) {
	// Consumed before the exchange: a state is spent even when the
	// exchange fails, so a replayed callback can never retry it.
	if !f.states.Consume(state) {
		return nil, apperr.Flow("invalid_state", "Invalid state parameter")
	}

	tok, err := f.provider.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.Flow("exchange_failed", fmt.Sprintf("Failed to exchange authorization code: %v", err))
	}
	if tok.IDToken == "" {
		return nil, apperr.Flow("missing_id_token", "No ID token in response")
	}

	ident, err := f.verifier.Verify(ctx, tok.IDToken)
	if err != nil {
		return nil, apperr.Flow("invalid_id_token", fmt.Sprintf("Invalid ID token: %v", err))
	}
	if ident.Subject == "" || ident.Email == "" {
		return nil, apperr.Flow("missing_claims", "Missing required user info in ID token")
	}

	user, err := f.upsertUser(ctx, ident)
	if err != nil {
		return nil, err
	}

	sess, err := f.sessions.Create(ctx, user.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	if err != nil {
		return nil, err
	}

	f.store.SaveActivityAsync(&storage.ActivityRecord{
		Type:   storage.ActivityTypeLogin,
		Status: storage.ActivityStatusSuccess,
		UserID: user.ID,
	})
	f.logger.Infow("Authorization completed", "user_id", user.ID)

	return &Grant{
		SessionID:    sess.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(sess.ExpiresAt),
		TokenType:    TokenTypeBearer,
	}, nil
}

// RefreshSession redeems the stored refresh token for a new access token
// and rotates it into the session. The presented refresh token must match
// the stored one; a session that never received a refresh token behaves
// as if it did not exist.
func (f *Flow) RefreshSession(ctx context.Context, sessionID, refreshToken string) (*Grant, error) {
	stored, err := f.sessions.RefreshToken(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, sessionNotFound()
		}
		return nil, err
	}
	if stored == "" {
		return nil, sessionNotFound()
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return nil, apperr.FlowStatus(http.StatusUnauthorized, "invalid_grant", "Invalid refresh token")
	}

	tok, err := f.provider.Refresh(ctx, stored)
	if err != nil {
		return nil, apperr.Flow("refresh_failed", fmt.Sprintf("Failed to refresh token: %v", err))
	}

	sess, err := f.sessions.Refresh(ctx, sessionID, tok.AccessToken, tok.Expiry)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, sessionNotFound()
		}
		return nil, err
	}

	f.store.SaveActivityAsync(&storage.ActivityRecord{
		Type:   storage.ActivityTypeRefresh,
		Status: storage.ActivityStatusSuccess,
		UserID: sess.UserID,
	})
	f.logger.Debugw("Session tokens refreshed", "user_id", sess.UserID)

	return &Grant{
		SessionID:    sessionID,
		AccessToken:  tok.AccessToken,
		RefreshToken: stored,
		ExpiresIn:    expiresIn(sess.ExpiresAt),
		TokenType:    TokenTypeBearer,
	}, nil
}

// Logout deletes the session and reports whether one existed. Deleting an
// already-deleted session is not an error.
func (f *Flow) Logout(ctx context.Context, sessionID string) (bool, error) {
	sess, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	removed, err := f.sessions.Delete(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if removed {
		f.store.SaveActivityAsync(&storage.ActivityRecord{
			Type:   storage.ActivityTypeLogout,
			Status: storage.ActivityStatusSuccess,
			UserID: sess.UserID,
		})
		f.logger.Debugw("Session logged out", "user_id", sess.UserID)
	}
	return removed, nil
}

// upsertUser creates the user on first login and refreshes the identity
// fields on every later one. The display name is only overwritten when
// the provider sent one.
func (f *Flow) upsertUser(ctx context.Context, ident *Identity) (*storage.UserRecord, error) {
	now := time.Now().UTC()

	user, err := f.store.GetUserByGoogleSub(ctx, ident.Subject)
	switch {
	case err == nil:
		user.Email = ident.Email
		if ident.Name != "" {
			user.Name = ident.Name
		}
		user.LastLogin = now
	case errors.Is(err, storage.ErrNotFound):
		user = &storage.UserRecord{
			ID:        ulid.Make().String(),
			GoogleSub: ident.Subject,
			Email:     ident.Email,
			Name:      ident.Name,
			LastLogin: now,
		}
	default:
		return nil, err
	}

	if err := f.store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func sessionNotFound() error {
	return apperr.FlowStatus(http.StatusNotFound, "session_not_found", "Session not found")
}

// expiresIn reports the whole seconds until expiry, clamped at zero.
func expiresIn(expiry time.Time) int64 {
	secs := int64(time.Until(expiry).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}
