package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskmcp-go/internal/clients"
	"taskmcp-go/internal/config"
	"taskmcp-go/internal/oauth"
	"taskmcp-go/internal/security"
	"taskmcp-go/internal/session"
	"taskmcp-go/internal/storage"
	"taskmcp-go/internal/tasks"
	"taskmcp-go/internal/tools"
)

const testAPIKey = "test-admin-key"

// fakeProvider stands in for the Google endpoints. Each func field can be
// overridden per test; nil fields fall back to a successful exchange.
type fakeProvider struct {
	exchange func(ctx context.Context, code string) (*oauth.Token, error)
	refresh  func(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

func (p *fakeProvider) AuthCodeURL(state, redirectURI string) string {
	u := "https://idp.example.com/auth?state=" + state
	if redirectURI != "" {
		u += "&redirect_uri=" + url.QueryEscape(redirectURI)
	}
	return u
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*oauth.Token, error) {
	if p.exchange != nil {
		return p.exchange(ctx, code)
	}
	return &oauth.Token{
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		IDToken:      "header.payload.signature",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	if p.refresh != nil {
		return p.refresh(ctx, refreshToken)
	}
	return &oauth.Token{
		AccessToken: "ya29.renewed",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

type fakeVerifier struct {
	verify func(ctx context.Context, rawIDToken string) (*oauth.Identity, error)
}

func (v *fakeVerifier) Verify(ctx context.Context, rawIDToken string) (*oauth.Identity, error) {
	if v.verify != nil {
		return v.verify(ctx, rawIDToken)
	}
	return &oauth.Identity{
		Subject: "google-sub-1",
		Email:   "dev@example.com",
		Name:    "Dev User",
	}, nil
}

// apiEnv wires a full server over temp-dir storage with the provider
// faked out. The search index and calendar client stay nil; task search
// falls back to scanning storage without an index.
type apiEnv struct {
	api       *Server
	cfg       *config.Config
	store     *storage.Manager
	sessions  *session.Manager
	registrar *clients.Registrar
	states    *oauth.MemoryStateStore
	provider  *fakeProvider
	verifier  *fakeVerifier
}

func setupAPITest(t *testing.T) *apiEnv {
	t.Helper()

	logger := zap.NewNop().Sugar()

	store, err := storage.NewManager(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	masterKey, err := security.GenerateMasterKey()
	require.NoError(t, err)
	cipher, err := security.NewCipher(masterKey)
	require.NoError(t, err)

	states := oauth.NewMemoryStateStore(10 * time.Minute)
	t.Cleanup(states.Close)

	sessions := session.NewManager(store, cipher, time.Hour, logger)
	registrar := clients.NewRegistrar(store, cipher, logger)

	provider := &fakeProvider{}
	verifier := &fakeVerifier{}
	flow := oauth.NewFlow(oauth.FlowDeps{
		Provider:  provider,
		Verifier:  verifier,
		States:    states,
		Store:     store,
		Sessions:  sessions,
		Registrar: registrar,
		Logger:    logger,
	})

	registry, err := tools.NewRegistry(tools.Deps{
		Tasks:    tasks.NewService(store, nil, nil, logger),
		Sessions: sessions,
		Logger:   logger,
	})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.APIKey = testAPIKey

	env := &apiEnv{
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		registrar: registrar,
		states:    states,
		provider:  provider,
		verifier:  verifier,
	}
	env.api = NewServer(Deps{
		Config:    cfg,
		Version:   "test",
		Flow:      flow,
		Sessions:  sessions,
		Registrar: registrar,
		Registry:  registry,
		States:    states,
		Store:     store,
		Logger:    logger,
	})
	return env
}

// serve runs one request through the router. A non-nil body is sent as
// JSON; extra headers go on the request verbatim.
func serve(t *testing.T, api *Server, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	return rec
}

func bearer(sessionID string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + sessionID}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// detailOf extracts the message from a `{"detail": ...}` error body
func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decodeJSON(t, rec, &body)
	return body.Detail
}

// login drives the full authorization-code round trip against the fake
// provider and returns the minted grant.
func login(t *testing.T, env *apiEnv) *oauth.Grant {
	t.Helper()

	rec := serve(t, env.api, http.MethodGet, "/oauth/authorize", nil, nil)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	rec = serve(t, env.api, http.MethodGet, "/oauth/callback?code=4%2Fauthcode&state="+state, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var grant oauth.Grant
	decodeJSON(t, rec, &grant)
	require.NotEmpty(t, grant.SessionID)
	return &grant
}

func TestProtocolDiscovery(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodHead, "/", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-06-18", rec.Header().Get(ProtocolVersionHeader))
}

func TestServerCard(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var card map[string]any
	decodeJSON(t, rec, &card)
	assert.Equal(t, ServerName, card["name"])
	assert.Equal(t, "test", card["version"])
	assert.Equal(t, ProtocolVersion, card["protocol"])
	assert.Equal(t, "operational", card["status"])
}

func TestHealthEndpoint(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "healthy"}`, rec.Body.String())
}

func TestRequestIDGenerated(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodGet, "/health", nil, nil)

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRequestIDHonored(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodGet, "/health", nil, map[string]string{
		"X-Request-Id": "my-trace-id_01",
	})

	assert.Equal(t, "my-trace-id_01", rec.Header().Get("X-Request-Id"))
}

func TestRequestIDReplacedWhenInvalid(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodGet, "/health", nil, map[string]string{
		"X-Request-Id": "bad id with spaces",
	})

	got := rec.Header().Get("X-Request-Id")
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "bad id with spaces", got)
}
