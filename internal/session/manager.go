// Package session manages bearer sessions and the provider tokens sealed
// inside them. Plaintext tokens exist only in locals on their way to or
// from the cipher; the stored record carries ciphertext.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskmcp-go/internal/security"
	"taskmcp-go/internal/storage"
)

// ErrNotFound is returned when a session does not exist
var ErrNotFound = errors.New("session not found")

const sessionIDBytes = 32

// Session is the caller-facing view of a stored session. Provider tokens
// are deliberately absent; fetch them with AccessToken or RefreshToken.
type Session struct {
	ID           string
	UserID       string
	TokenExpiry  time.Time
	ExpiresAt    time.Time
	Created      time.Time
	LastActivity time.Time
}

// Manager mints, validates and refreshes sessions
type Manager struct {
	store  *storage.Manager
	cipher *security.Cipher
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewManager creates a session manager. A session stays valid exactly as
// long as the provider access token inside it; ttl is the fallback
// lifetime used when the provider did not report an expiry.
func NewManager(store *storage.Manager, cipher *security.Cipher, ttl time.Duration, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		store:  store,
		cipher: cipher,
		ttl:    ttl,
		logger: logger,
	}
}

// Create mints a new session for the user, sealing the provider tokens
// before they touch storage. refreshToken may be empty. A zero tokenExpiry
// falls back to the manager ttl.
func (m *Manager) Create(ctx context.Context, userID, accessToken, refreshToken string, tokenExpiry time.Time) (*Session, error) {
	id, err := security.RandomToken(sessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to mint session id: %w", err)
	}

	sealedAccess, err := m.cipher.Encrypt(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}

	var sealedRefresh []byte
	if refreshToken != "" {
		sealedRefresh, err = m.cipher.Encrypt(refreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to seal refresh token: %w", err)
		}
	}

	if tokenExpiry.IsZero() {
		tokenExpiry = time.Now().Add(m.ttl)
	}

	record := &storage.SessionRecord{
		ID:           id,
		UserID:       userID,
		AccessToken:  sealedAccess,
		RefreshToken: sealedRefresh,
		TokenExpiry:  tokenExpiry,
		ExpiresAt:    tokenExpiry,
	}
	if err := m.store.SaveSession(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	m.logger.Debugw("Session created",
		"user_id", userID,
		"expires_at", record.ExpiresAt)

	return view(record), nil
}

// Get returns the session view for an id
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	record, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return view(record), nil
}

// Validate reports whether the session exists and has not expired.
// Valid sessions get their last-activity timestamp touched. Unknown and
// expired sessions report false without error.
func (m *Manager) Validate(ctx context.Context, id string) (bool, error) {
	record, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := time.Now()
	if !now.Before(record.ExpiresAt) {
		return false, nil
	}

	// The session may be swept between the read and the touch
	if err := m.store.TouchSession(ctx, id, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	return true, nil
}

// AccessToken decrypts and returns the provider access token
func (m *Manager) AccessToken(ctx context.Context, id string) (string, error) {
	record, err := m.load(ctx, id)
	if err != nil {
		return "", err
	}

	token, err := m.cipher.Decrypt(record.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to open access token: %w", err)
	}
	return token, nil
}

// RefreshToken decrypts and returns the provider refresh token. Sessions
// minted without one return the empty string.
func (m *Manager) RefreshToken(ctx context.Context, id string) (string, error) {
	record, err := m.load(ctx, id)
	if err != nil {
		return "", err
	}
	if len(record.RefreshToken) == 0 {
		return "", nil
	}

	token, err := m.cipher.Decrypt(record.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to open refresh token: %w", err)
	}
	return token, nil
}

// Refresh seals the renewed access token and commits it together with its
// expiry in one storage transaction, extending the session's validity to
// the new expiry. The stored refresh token is untouched.
func (m *Manager) Refresh(ctx context.Context, id, accessToken string, tokenExpiry time.Time) (*Session, error) {
	sealed, err := m.cipher.Encrypt(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}

	if tokenExpiry.IsZero() {
		tokenExpiry = time.Now().Add(m.ttl)
	}

	if err := m.store.UpdateSessionTokens(ctx, id, sealed, tokenExpiry, time.Now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update session tokens: %w", err)
	}

	m.logger.Debugw("Session tokens refreshed", "token_expiry", tokenExpiry)

	return m.Get(ctx, id)
}

// Delete removes a session and reports whether one existed. Deleting an
// unknown session is not an error.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	return m.store.DeleteSession(ctx, id)
}

// CleanupExpired removes sessions past their expiry and returns the count
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpiredSessions(ctx, time.Now())
}

func (m *Manager) load(ctx context.Context, id string) (*storage.SessionRecord, error) {
	record, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func view(record *storage.SessionRecord) *Session {
	return &Session{
		ID:           record.ID,
		UserID:       record.UserID,
		TokenExpiry:  record.TokenExpiry,
		ExpiresAt:    record.ExpiresAt,
		Created:      record.Created,
		LastActivity: record.LastActivity,
	}
}
