package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmcp-go/internal/config"
)

func providerConfig(tokenURL string) *config.GoogleConfig {
	return &config.GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://api.example.com/oauth/callback",
		Scopes:       []string{"openid", "email"},
		AuthURL:      "https://accounts.google.com/o/oauth2/auth",
		TokenURL:     tokenURL,
	}
}

func TestGoogleProvider_AuthCodeURL(t *testing.T) {
	provider := NewGoogleProvider(providerConfig("https://oauth2.googleapis.com/token"))

	parsed, err := url.Parse(provider.AuthCodeURL("the-state", ""))
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "the-state", query.Get("state"))
	assert.Equal(t, "offline", query.Get("access_type"))
	assert.Equal(t, "true", query.Get("include_granted_scopes"))
	assert.Equal(t, "consent", query.Get("prompt"))
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "https://api.example.com/oauth/callback", query.Get("redirect_uri"))
}

func TestGoogleProvider_AuthCodeURL_RedirectOverride(t *testing.T) {
	provider := NewGoogleProvider(providerConfig("https://oauth2.googleapis.com/token"))

	parsed, err := url.Parse(provider.AuthCodeURL("the-state", "myapp://callback"))
	require.NoError(t, err)
	assert.Equal(t, "myapp://callback", parsed.Query().Get("redirect_uri"))
}

func TestGoogleProvider_Exchange(t *testing.T) {
	var gotGrantType, gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrantType = r.FormValue("grant_type")
		gotCode = r.FormValue("code")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "ya29.access",
			"refresh_token": "1//refresh",
			"id_token":      "header.payload.signature",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	provider := NewGoogleProvider(providerConfig(srv.URL))
	tok, err := provider.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", gotGrantType)
	assert.Equal(t, "auth-code", gotCode)
	assert.Equal(t, "ya29.access", tok.AccessToken)
	assert.Equal(t, "1//refresh", tok.RefreshToken)
	assert.Equal(t, "header.payload.signature", tok.IDToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 10*time.Second)
}

func TestGoogleProvider_Exchange_ProviderRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	provider := NewGoogleProvider(providerConfig(srv.URL))
	_, err := provider.Exchange(context.Background(), "expired-code")
	assert.Error(t, err)
}

func TestGoogleProvider_Refresh(t *testing.T) {
	var gotGrantType, gotRefreshToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrantType = r.FormValue("grant_type")
		gotRefreshToken = r.FormValue("refresh_token")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "ya29.renewed",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	provider := NewGoogleProvider(providerConfig(srv.URL))
	tok, err := provider.Refresh(context.Background(), "1//refresh")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotGrantType)
	assert.Equal(t, "1//refresh", gotRefreshToken)
	assert.Equal(t, "ya29.renewed", tok.AccessToken)
}
