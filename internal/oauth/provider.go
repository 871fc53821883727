package oauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"taskmcp-go/internal/config"
)

// Token is the provider grant handed back from a code exchange or a
// refresh. IDToken is only present on the initial exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Provider abstracts the upstream identity provider so the flow can run
// against a fake in tests.
type Provider interface {
	// AuthCodeURL builds the user-facing authorization URL carrying the
	// given CSRF state. A non-empty redirectURI overrides the configured
	// callback, used when a registered client brings its own.
	AuthCodeURL(state, redirectURI string) string
	// Exchange redeems an authorization code for tokens.
	Exchange(ctx context.Context, code string) (*Token, error)
	// Refresh obtains a new access token for the given refresh token.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// GoogleProvider implements Provider on golang.org/x/oauth2. Endpoint
// URLs come from the config so tests can point them at a local server.
type GoogleProvider struct {
	conf *oauth2.Config
}

func NewGoogleProvider(cfg *config.GoogleConfig) *GoogleProvider {
	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
	}
}

// AuthCodeURL requests offline access with a forced consent screen so the
// provider issues a refresh token on every authorization, not just the
// first one.
func (p *GoogleProvider) AuthCodeURL(state, redirectURI string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	}
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	return p.conf.AuthCodeURL(state, opts...)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return fromOAuth2(tok), nil
}

// Refresh hits the token endpoint through a fresh TokenSource seeded with
// only the refresh token, so the provider's answer is never masked by a
// cached access token.
func (p *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	return fromOAuth2(tok), nil
}

func fromOAuth2(tok *oauth2.Token) *Token {
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = raw
	}
	return out
}
