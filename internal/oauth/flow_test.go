package oauth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/clients"
	"taskmcp-go/internal/security"
	"taskmcp-go/internal/session"
	"taskmcp-go/internal/storage"
)

type fakeProvider struct {
	exchange func(ctx context.Context, code string) (*Token, error)
	refresh  func(ctx context.Context, refreshToken string) (*Token, error)
}

func (p *fakeProvider) AuthCodeURL(state, redirectURI string) string {
	u := "https://idp.example.com/auth?state=" + state
	if redirectURI != "" {
		u += "&redirect_uri=" + url.QueryEscape(redirectURI)
	}
	return u
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*Token, error) {
	if p.exchange != nil {
		return p.exchange(ctx, code)
	}
	return &Token{
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		IDToken:      "header.payload.signature",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if p.refresh != nil {
		return p.refresh(ctx, refreshToken)
	}
	return &Token{
		AccessToken: "ya29.renewed",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

type fakeVerifier struct {
	verify func(ctx context.Context, raw string) (*Identity, error)
}

func (v *fakeVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if v.verify != nil {
		return v.verify(ctx, raw)
	}
	return &Identity{Subject: "google-sub-1", Email: "dev@example.com", Name: "Dev User"}, nil
}

type flowEnv struct {
	flow      *Flow
	provider  *fakeProvider
	verifier  *fakeVerifier
	states    *MemoryStateStore
	store     *storage.Manager
	sessions  *session.Manager
	registrar *clients.Registrar
}

func setupFlowTest(t *testing.T) *flowEnv {
	t.Helper()

	logger := zap.NewNop().Sugar()
	store, err := storage.NewManager(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	key, err := security.GenerateMasterKey()
	require.NoError(t, err)
	cipher, err := security.NewCipher(key)
	require.NoError(t, err)

	env := &flowEnv{
		provider:  &fakeProvider{},
		verifier:  &fakeVerifier{},
		states:    NewMemoryStateStore(10 * time.Minute),
		store:     store,
		sessions:  session.NewManager(store, cipher, time.Hour, logger),
		registrar: clients.NewRegistrar(store, cipher, logger),
	}
	t.Cleanup(env.states.Close)

	env.flow = NewFlow(FlowDeps{
		Provider:  env.provider,
		Verifier:  env.verifier,
		States:    env.states,
		Store:     store,
		Sessions:  env.sessions,
		Registrar: env.registrar,
		Logger:    logger,
	})
	return env
}

// beginAndExtractState runs BeginAuthorization and pulls the state out of
// the returned URL, the way a browser round trip would carry it back.
func beginAndExtractState(t *testing.T, env *flowEnv) string {
	t.Helper()

	authURL, err := env.flow.BeginAuthorization(context.Background(), "", "")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestBeginAuthorization(t *testing.T) {
	env := setupFlowTest(t)

	state := beginAndExtractState(t, env)
	assert.Len(t, state, 43)
	assert.Equal(t, 1, env.states.Len())
}

func TestBeginAuthorization_RequiresFullClientPair(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	_, err := env.flow.BeginAuthorization(ctx, "client_abc", "")
	assert.EqualError(t, err, "Both client_id and redirect_uri are required for dynamic clients")

	_, err = env.flow.BeginAuthorization(ctx, "", "myapp://callback")
	assert.EqualError(t, err, "Both client_id and redirect_uri are required for dynamic clients")
	assert.Equal(t, 400, apperr.StatusOf(err))
}

func TestBeginAuthorization_UnknownClientRejected(t *testing.T) {
	env := setupFlowTest(t)

	_, err := env.flow.BeginAuthorization(context.Background(), "client_unknown", "myapp://callback")
	assert.EqualError(t, err, "Invalid client_id or redirect_uri not registered for client")
}

func TestBeginAuthorization_RegisteredClientOverridesRedirect(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	client, _, err := env.registrar.Register(ctx, "ios", []string{"myapp://callback"}, 0)
	require.NoError(t, err)

	authURL, err := env.flow.BeginAuthorization(ctx, client.ID, "myapp://callback")
	require.NoError(t, err)
	assert.Contains(t, authURL, "redirect_uri="+url.QueryEscape("myapp://callback"))

	// Registered client, but a redirect URI it never registered
	_, err = env.flow.BeginAuthorization(ctx, client.ID, "myapp://other")
	assert.EqualError(t, err, "Invalid client_id or redirect_uri not registered for client")
}

func TestCompleteAuthorization(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	state := beginAndExtractState(t, env)
	grant, err := env.flow.CompleteAuthorization(ctx, "auth-code", state)
	require.NoError(t, err)

	assert.Len(t, grant.SessionID, 43)
	assert.Equal(t, "ya29.access", grant.AccessToken)
	assert.Equal(t, "1//refresh", grant.RefreshToken)
	assert.Equal(t, "Bearer", grant.TokenType)
	assert.InDelta(t, 3600, grant.ExpiresIn, 10)

	// The user exists and the session is live
	user, err := env.store.GetUserByGoogleSub(ctx, "google-sub-1")
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", user.Email)
	assert.Equal(t, "Dev User", user.Name)
	assert.False(t, user.LastLogin.IsZero())

	ok, err := env.sessions.Validate(ctx, grant.SessionID)
	require.NoError(t, err)
	assert.True(t, ok)

	access, err := env.sessions.AccessToken(ctx, grant.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access", access)

	// The state is gone and a login lands in the activity log
	assert.Equal(t, 0, env.states.Len())
	assert.Eventually(t, func() bool {
		_, total, err := env.store.ListActivities(storage.ActivityFilter{Type: string(storage.ActivityTypeLogin)})
		return err == nil && total == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCompleteAuthorization_StateSingleUse(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	state := beginAndExtractState(t, env)
	_, err := env.flow.CompleteAuthorization(ctx, "auth-code", state)
	require.NoError(t, err)

	_, err = env.flow.CompleteAuthorization(ctx, "auth-code", state)
	assert.EqualError(t, err, "Invalid state parameter")
}

func TestCompleteAuthorization_UnknownState(t *testing.T) {
	env := setupFlowTest(t)

	_, err := env.flow.CompleteAuthorization(context.Background(), "auth-code", "never-issued")
	assert.EqualError(t, err, "Invalid state parameter")
}

func TestCompleteAuthorization_ExchangeFailureSpendsState(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	env.provider.exchange = func(context.Context, string) (*Token, error) {
		return nil, errors.New("idp unreachable")
	}

	state := beginAndExtractState(t, env)
	_, err := env.flow.CompleteAuthorization(ctx, "auth-code", state)
	assert.EqualError(t, err, "Failed to exchange authorization code: idp unreachable")

	// The state was spent by the failed attempt
	env.provider.exchange = nil
	_, err = env.flow.CompleteAuthorization(ctx, "auth-code", state)
	assert.EqualError(t, err, "Invalid state parameter")
}

func TestCompleteAuthorization_NoIDToken(t *testing.T) {
	env := setupFlowTest(t)

	env.provider.exchange = func(context.Context, string) (*Token, error) {
		return &Token{AccessToken: "ya29.access", Expiry: time.Now().Add(time.Hour)}, nil
	}

	state := beginAndExtractState(t, env)
	_, err := env.flow.CompleteAuthorization(context.Background(), "auth-code", state)
	assert.EqualError(t, err, "No ID token in response")
}

func TestCompleteAuthorization_BadIDToken(t *testing.T) {
	env := setupFlowTest(t)

	env.verifier.verify = func(context.Context, string) (*Identity, error) {
		return nil, errors.New("signature mismatch")
	}

	state := beginAndExtractState(t, env)
	_, err := env.flow.CompleteAuthorization(context.Background(), "auth-code", state)
	assert.EqualError(t, err, "Invalid ID token: signature mismatch")
}

func TestCompleteAuthorization_MissingClaims(t *testing.T) {
	env := setupFlowTest(t)

	env.verifier.verify = func(context.Context, string) (*Identity, error) {
		return &Identity{Subject: "google-sub-1"}, nil
	}

	state := beginAndExtractState(t, env)
	_, err := env.flow.CompleteAuthorization(context.Background(), "auth-code", state)
	assert.EqualError(t, err, "Missing required user info in ID token")

	// Nothing was created for the half-verified identity
	_, err = env.store.GetUserByGoogleSub(context.Background(), "google-sub-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompleteAuthorization_UpsertsExistingUser(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	state := beginAndExtractState(t, env)
	_, err := env.flow.CompleteAuthorization(ctx, "auth-code", state)
	require.NoError(t, err)

	first, err := env.store.GetUserByGoogleSub(ctx, "google-sub-1")
	require.NoError(t, err)

	// Same subject comes back with a new email and no display name
	env.verifier.verify = func(context.Context, string) (*Identity, error) {
		return &Identity{Subject: "google-sub-1", Email: "renamed@example.com"}, nil
	}

	state = beginAndExtractState(t, env)
	_, err = env.flow.CompleteAuthorization(ctx, "auth-code", state)
	require.NoError(t, err)

	second, err := env.store.GetUserByGoogleSub(ctx, "google-sub-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "renamed@example.com", second.Email)
	// An absent name never clears the stored one
	assert.Equal(t, "Dev User", second.Name)
	assert.False(t, second.LastLogin.Before(first.LastLogin))
}

func TestRefreshSession(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	state := beginAndExtractState(t, env)
	grant, err := env.flow.CompleteAuthorization(ctx, "auth-code", state)
	require.NoError(t, err)

	env.provider.refresh = func(_ context.Context, refreshToken string) (*Token, error) {
		assert.Equal(t, "1//refresh", refreshToken)
		return &Token{AccessToken: "ya29.next", Expiry: time.Now().Add(30 * time.Minute)}, nil
	}

	renewed, err := env.flow.RefreshSession(ctx, grant.SessionID, grant.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, grant.SessionID, renewed.SessionID)
	assert.Equal(t, "ya29.next", renewed.AccessToken)
	// The refresh token is returned unchanged
	assert.Equal(t, "1//refresh", renewed.RefreshToken)
	assert.InDelta(t, 1800, renewed.ExpiresIn, 10)

	access, err := env.sessions.AccessToken(ctx, grant.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "ya29.next", access)
}

func TestRefreshSession_WrongToken(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	state := beginAndExtractState(t, env)
	grant, err := env.flow.CompleteAuthorization(ctx, "auth-code", state)
	require.NoError(t, err)

	_, err = env.flow.RefreshSession(ctx, grant.SessionID, "1//stolen")
	assert.EqualError(t, err, "Invalid refresh token")
	assert.Equal(t, 401, apperr.StatusOf(err))
}

func TestRefreshSession_UnknownSession(t *testing.T) {
	env := setupFlowTest(t)

	_, err := env.flow.RefreshSession(context.Background(), "no-such-session", "1//refresh")
	assert.EqualError(t, err, "Session not found")
	assert.Equal(t, 404, apperr.StatusOf(err))
}

func TestRefreshSession_NoStoredRefreshToken(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	sess, err := env.sessions.Create(ctx, "user-1", "ya29.access", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = env.flow.RefreshSession(ctx, sess.ID, "1//anything")
	assert.EqualError(t, err, "Session not found")
	assert.Equal(t, 404, apperr.StatusOf(err))
}

func TestRefreshSession_ProviderFailure(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	state := beginAndExtractState(t, env)
	grant, err := env.flow.CompleteAuthorization(ctx, "auth-code", state)
	require.NoError(t, err)

	env.provider.refresh = func(context.Context, string) (*Token, error) {
		return nil, errors.New("invalid_grant")
	}

	_, err = env.flow.RefreshSession(ctx, grant.SessionID, grant.RefreshToken)
	assert.EqualError(t, err, "Failed to refresh token: invalid_grant")
	assert.Equal(t, 400, apperr.StatusOf(err))
}

func TestLogout(t *testing.T) {
	env := setupFlowTest(t)
	ctx := context.Background()

	state := beginAndExtractState(t, env)
	grant, err := env.flow.CompleteAuthorization(ctx, "auth-code", state)
	require.NoError(t, err)

	removed, err := env.flow.Logout(ctx, grant.SessionID)
	require.NoError(t, err)
	assert.True(t, removed)

	ok, err := env.sessions.Validate(ctx, grant.SessionID)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err = env.flow.Logout(ctx, grant.SessionID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryStateStore_SingleUseUnderConcurrency(t *testing.T) {
	store := NewMemoryStateStore(10 * time.Minute)
	defer store.Close()

	store.Put("contested-state")

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Consume("contested-state") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStateStore_ExpiredStateRejected(t *testing.T) {
	store := NewMemoryStateStore(10 * time.Millisecond)
	defer store.Close()

	store.Put("short-lived")
	time.Sleep(30 * time.Millisecond)

	assert.False(t, store.Consume("short-lived"))
}

func TestMemoryStateStore_SweepDropsExpired(t *testing.T) {
	store := NewMemoryStateStore(10 * time.Minute)
	defer store.Close()

	store.Put("a")
	store.Put("b")
	store.Put("c")
	require.Equal(t, 3, store.Len())

	store.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 0, store.Len())
}
