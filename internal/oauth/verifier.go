package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskmcp-go/internal/config"
)

// Identity is the subset of ID-token claims the service acts on.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// IdentityVerifier checks a raw ID token and extracts the caller identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*Identity, error)
}

// Google signs ID tokens under either issuer form.
var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// refetchInterval rate-limits JWKS fetches triggered by unknown key ids,
// so a stream of garbage tokens cannot hammer the certs endpoint.
const refetchInterval = time.Minute

// GoogleVerifier validates RS256 ID tokens against the provider's
// published JWKS. Keys are cached and refetched when an unknown key id
// shows up, which is how key rotation is picked up.
type GoogleVerifier struct {
	clientID string
	jwksURL  string
	client   *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func NewGoogleVerifier(cfg *config.GoogleConfig) *GoogleVerifier {
	return &GoogleVerifier{
		clientID: cfg.ClientID,
		jwksURL:  cfg.JWKSURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		keys:     make(map[string]*rsa.PublicKey),
	}
}

// Verify parses rawIDToken and enforces an RS256 signature from the JWKS,
// an audience equal to the OAuth client id, a Google issuer and an
// unexpired token. Claims come back as-is; the flow decides which ones
// are required.
func (v *GoogleVerifier) Verify(ctx context.Context, rawIDToken string) (*Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawIDToken, claims, v.keyFunc(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(10*time.Second),
	)
	if err != nil {
		return nil, err
	}

	issuer, err := claims.GetIssuer()
	if err != nil {
		return nil, fmt.Errorf("read issuer claim: %w", err)
	}
	if !slices.Contains(googleIssuers, issuer) {
		return nil, fmt.Errorf("unexpected issuer %q", issuer)
	}

	ident := &Identity{}
	if sub, ok := claims["sub"].(string); ok {
		ident.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		ident.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		ident.Name = name
	}
	return ident, nil
}

func (v *GoogleVerifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header carries no kid")
		}
		return v.publicKey(ctx, kid)
	}
}

func (v *GoogleVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if len(v.keys) > 0 && time.Since(v.fetched) < refetchInterval {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	if err := v.fetchLocked(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *GoogleVerifier) fetchLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAKey(k.N, k.E)
		if err != nil {
			return fmt.Errorf("parse jwks key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks document has no usable RSA keys")
	}

	v.keys = keys
	v.fetched = time.Now()
	return nil
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}
