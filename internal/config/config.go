package config

import (
	"fmt"
	"time"
)

const (
	defaultListen       = "127.0.0.1:8000"
	defaultSessionTTL   = 3600 // seconds, used when the provider omits expires_in
	defaultStateTTL     = 600  // seconds
	defaultClientExpiry = 365  // days
)

// Config represents the main configuration structure
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir" mapstructure:"data-dir"`

	// APIKey guards the administrative REST endpoints (/api/v1/...).
	// When empty those endpoints reject every request.
	APIKey string `json:"api_key,omitempty" mapstructure:"api-key"`

	// EncryptionKey is the base64-encoded 256-bit master key protecting
	// tokens at rest. Supports ${env:NAME} and ${keyring:name} references.
	EncryptionKey string `json:"encryption_key,omitempty" mapstructure:"encryption-key"`

	Google *GoogleConfig `json:"google" mapstructure:"google"`

	// SessionTTLSeconds is the session lifetime used when the identity
	// provider does not report expires_in for a grant.
	SessionTTLSeconds int `json:"session_ttl_seconds" mapstructure:"session-ttl-seconds"`

	// StateTTLSeconds bounds how long a pending authorization may sit
	// between /oauth/authorize and the provider callback.
	StateTTLSeconds int `json:"state_ttl_seconds" mapstructure:"state-ttl-seconds"`

	// ClientExpiryDays is the registration lifetime handed to dynamically
	// registered OAuth clients.
	ClientExpiryDays int `json:"client_expiry_days" mapstructure:"client-expiry-days"`

	// ToolResponseLimit truncates tool results larger than this many
	// characters. 0 disables truncation.
	ToolResponseLimit int `json:"tool_response_limit" mapstructure:"tool-response-limit"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	// Tracing configuration
	Tracing *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`
}

// GoogleConfig holds the upstream identity provider settings. The endpoint
// URLs default to Google's public endpoints and are only overridden in tests.
type GoogleConfig struct {
	ClientID     string   `json:"client_id" mapstructure:"client-id"`
	ClientSecret string   `json:"client_secret" mapstructure:"client-secret"`
	RedirectURI  string   `json:"redirect_uri" mapstructure:"redirect-uri"`
	Scopes       []string `json:"scopes,omitempty" mapstructure:"scopes"`
	AuthURL      string   `json:"auth_url,omitempty" mapstructure:"auth-url"`
	TokenURL     string   `json:"token_url,omitempty" mapstructure:"token-url"`
	JWKSURL      string   `json:"jwks_url,omitempty" mapstructure:"jwks-url"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// TracingConfig represents OTLP trace export configuration
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint,omitempty" mapstructure:"otlp-endpoint"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample-rate"`
}

// DefaultGoogleConfig returns provider settings pointing at Google's
// public OAuth 2.0 endpoints.
func DefaultGoogleConfig() *GoogleConfig {
	return &GoogleConfig{
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		AuthURL:  "https://accounts.google.com/o/oauth2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
		JWKSURL:  "https://www.googleapis.com/oauth2/v3/certs",
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:            defaultListen,
		DataDir:           "", // Will be set to ~/.taskmcp by loader
		Google:            DefaultGoogleConfig(),
		SessionTTLSeconds: defaultSessionTTL,
		StateTTLSeconds:   defaultStateTTL,
		ClientExpiryDays:  defaultClientExpiry,
		ToolResponseLimit: 20000, // Default 20000 characters

		// Default logging configuration
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10, // 10MB
			MaxBackups:    5,  // 5 backup files
			MaxAge:        30, // 30 days
			Compress:      true,
			JSONFormat:    false, // Use console format for readability
		},

		Tracing: &TracingConfig{
			Enabled:    false,
			SampleRate: 1.0,
		},
	}
}

// SessionTTL returns the fallback session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// StateTTL returns the pending-authorization lifetime as a duration.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSeconds) * time.Second
}

// ClientExpiry returns the client registration lifetime as a duration.
func (c *Config) ClientExpiry() time.Duration {
	return time.Duration(c.ClientExpiryDays) * 24 * time.Hour
}

// applyDefaults fills in zero values that have sensible defaults. It never
// touches credentials, those stay exactly as configured.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.SessionTTLSeconds <= 0 {
		c.SessionTTLSeconds = defaultSessionTTL
	}
	if c.StateTTLSeconds <= 0 {
		c.StateTTLSeconds = defaultStateTTL
	}
	if c.ClientExpiryDays <= 0 {
		c.ClientExpiryDays = defaultClientExpiry
	}
	if c.ToolResponseLimit < 0 {
		c.ToolResponseLimit = 0 // 0 means disabled
	}
	if c.Logging == nil {
		c.Logging = DefaultConfig().Logging
	}
	if c.Tracing == nil {
		c.Tracing = DefaultConfig().Tracing
	}
	if c.Google == nil {
		c.Google = DefaultGoogleConfig()
	}
	defaults := DefaultGoogleConfig()
	if len(c.Google.Scopes) == 0 {
		c.Google.Scopes = defaults.Scopes
	}
	if c.Google.AuthURL == "" {
		c.Google.AuthURL = defaults.AuthURL
	}
	if c.Google.TokenURL == "" {
		c.Google.TokenURL = defaults.TokenURL
	}
	if c.Google.JWKSURL == "" {
		c.Google.JWKSURL = defaults.JWKSURL
	}
}

// Validate checks that everything the server needs to come up is present.
// Utility commands (secret management, sweeps) skip this so they can run
// without provider credentials.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.EncryptionKey == "" {
		return fmt.Errorf("encryption_key is required (set ENCRYPTION_KEY)")
	}
	if c.Google.ClientID == "" {
		return fmt.Errorf("google client_id is required (set GOOGLE_CLIENT_ID)")
	}
	if c.Google.ClientSecret == "" {
		return fmt.Errorf("google client_secret is required (set GOOGLE_CLIENT_SECRET)")
	}
	if c.Google.RedirectURI == "" {
		return fmt.Errorf("google redirect_uri is required (set OAUTH_REDIRECT_URI)")
	}
	return nil
}
