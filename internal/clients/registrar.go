// Package clients implements dynamic client registration in the style of
// RFC 7591. Registered secrets are stored as keyed digests only; the
// plaintext secret leaves Register exactly once.
package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskmcp-go/internal/security"
	"taskmcp-go/internal/storage"
)

// Platforms a client may register as
var ValidPlatforms = []string{"ios", "android", "macos", "windows", "linux", "cli"}

// Accepted redirect URI prefixes. Custom schemes cover native app callbacks.
var allowedURIPrefixes = []string{"http://", "https://", "myapp://", "app://"}

const (
	clientIDBytes     = 24
	clientSecretBytes = 32

	// DefaultExpiryDays is how long a registration lives without renewal
	DefaultExpiryDays = 365
)

// ErrNotFound is returned when a client registration does not exist
var ErrNotFound = errors.New("client not found")

// Client is the caller-facing view of a registration, without the secret
type Client struct {
	ID           string
	Platform     string
	RedirectURIs []string
	LastUsed     time.Time
	Created      time.Time
	ExpiresAt    time.Time
}

// Registrar manages dynamic client registrations
type Registrar struct {
	store  *storage.Manager
	cipher *security.Cipher
	logger *zap.SugaredLogger
}

// NewRegistrar creates a client registrar
func NewRegistrar(store *storage.Manager, cipher *security.Cipher, logger *zap.SugaredLogger) *Registrar {
	return &Registrar{
		store:  store,
		cipher: cipher,
		logger: logger,
	}
}

// ValidateRequest checks a registration request before it reaches the
// registrar. The returned error message is safe to surface verbatim.
func ValidateRequest(platform string, redirectURIs []string) error {
	valid := false
	for _, p := range ValidPlatforms {
		if platform == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("Invalid platform. Must be one of: %s", strings.Join(ValidPlatforms, ", "))
	}

	if len(redirectURIs) == 0 {
		return errors.New("At least one redirect URI is required")
	}

	for _, uri := range redirectURIs {
		ok := false
		for _, prefix := range allowedURIPrefixes {
			if strings.HasPrefix(uri, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("Invalid redirect URI format: %s", uri)
		}
	}

	return nil
}

// Register creates a new client registration and returns it together with
// the plaintext secret. The secret is not retrievable afterwards; only its
// digest is stored.
func (r *Registrar) Register(ctx context.Context, platform string, redirectURIs []string, expiresInDays int) (*Client, string, error) {
	if expiresInDays <= 0 {
		expiresInDays = DefaultExpiryDays
	}

	idSuffix, err := security.RandomToken(clientIDBytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate client id: %w", err)
	}
	clientID := "client_" + idSuffix

	secret, err := security.RandomToken(clientSecretBytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate client secret: %w", err)
	}

	record := &storage.ClientRecord{
		ID:           clientID,
		SecretDigest: r.cipher.SecretDigest(secret),
		Platform:     platform,
		RedirectURIs: redirectURIs,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(expiresInDays) * 24 * time.Hour),
	}
	if err := r.store.SaveClient(ctx, record); err != nil {
		return nil, "", fmt.Errorf("failed to store client: %w", err)
	}

	r.store.SaveActivityAsync(&storage.ActivityRecord{
		Type:     storage.ActivityTypeClientRegistration,
		Status:   storage.ActivityStatusSuccess,
		ClientID: clientID,
	})
	r.logger.Infow("Client registered",
		"client_id", clientID,
		"platform", platform,
		"expires_at", record.ExpiresAt)

	return view(record), secret, nil
}

// Get returns a registration by id, without the secret digest
func (r *Registrar) Get(ctx context.Context, clientID string) (*Client, error) {
	record, err := r.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return view(record), nil
}

// ValidateCredentials reports whether the presented id/secret pair matches
// a live registration. The digest comparison runs in constant time, and an
// unknown client still pays for one comparison so timing does not reveal
// whether the id exists. Success updates the last-used timestamp.
func (r *Registrar) ValidateCredentials(ctx context.Context, clientID, clientSecret string) (bool, error) {
	record, err := r.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		r.cipher.VerifySecret(clientSecret, nil)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !r.cipher.VerifySecret(clientSecret, record.SecretDigest) {
		return false, nil
	}

	if !time.Now().Before(record.ExpiresAt) {
		return false, nil
	}

	if err := r.store.TouchClientUsage(ctx, clientID, time.Now().UTC()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	return true, nil
}

// ValidateRedirectURI reports whether the URI is an exact member of the
// client's registered set. No prefix or wildcard matching.
func (r *Registrar) ValidateRedirectURI(ctx context.Context, clientID, redirectURI string) (bool, error) {
	record, err := r.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, uri := range record.RedirectURIs {
		if uri == redirectURI {
			return true, nil
		}
	}
	return false, nil
}

// Revoke deletes a client registration outright
func (r *Registrar) Revoke(ctx context.Context, clientID string) error {
	err := r.store.DeleteClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	r.store.SaveActivityAsync(&storage.ActivityRecord{
		Type:     storage.ActivityTypeClientRevocation,
		Status:   storage.ActivityStatusSuccess,
		ClientID: clientID,
	})
	r.logger.Infow("Client registration revoked", "client_id", clientID)
	return nil
}

// List returns registrations, newest first, optionally filtered by platform
func (r *Registrar) List(ctx context.Context, platform string) ([]*Client, error) {
	records, err := r.store.ListClients(ctx, platform)
	if err != nil {
		return nil, err
	}

	clients := make([]*Client, 0, len(records))
	for _, record := range records {
		clients = append(clients, view(record))
	}
	return clients, nil
}

// CleanupExpired removes expired registrations and returns the count
func (r *Registrar) CleanupExpired(ctx context.Context) (int, error) {
	return r.store.DeleteExpiredClients(ctx, time.Now())
}

func (r *Registrar) load(ctx context.Context, clientID string) (*storage.ClientRecord, error) {
	record, err := r.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func view(record *storage.ClientRecord) *Client {
	return &Client{
		ID:           record.ID,
		Platform:     record.Platform,
		RedirectURIs: record.RedirectURIs,
		LastUsed:     record.LastUsed,
		Created:      record.Created,
		ExpiresAt:    record.ExpiresAt,
	}
}
