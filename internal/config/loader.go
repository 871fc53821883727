package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"taskmcp-go/internal/secret"
)

const (
	DefaultDataDir = ".taskmcp"
	ConfigFileName = "taskmcp.json"
)

// Load loads configuration from file, environment, and defaults. The
// precedence is defaults < config file < environment; CLI flag overrides
// are applied by the command layer on top of the returned config.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up viper
	setupViper()

	fileLoaded := false
	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		fileLoaded = true
	} else if path, found := findConfigFile(); found {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		fileLoaded = true
	}

	if fileLoaded {
		// viper.Unmarshal would stomp file values with registered
		// defaults, so environment overrides are applied directly.
		applyEnvOverrides(cfg)
	} else {
		if err := viper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		applyEnvOverrides(cfg)
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := resolveSecretRefs(cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return cfg, nil
}

// setupViper configures viper with environment variable handling
func setupViper() {
	viper.SetEnvPrefix("TASKMCP")
	viper.AutomaticEnv()

	// Replace . and - with _ for environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// Set defaults
	viper.SetDefault("listen", defaultListen)
	viper.SetDefault("data-dir", "")
	viper.SetDefault("api-key", "")
	viper.SetDefault("encryption-key", "")
	viper.SetDefault("session-ttl-seconds", defaultSessionTTL)
	viper.SetDefault("state-ttl-seconds", defaultStateTTL)
	viper.SetDefault("client-expiry-days", defaultClientExpiry)
	viper.SetDefault("tool-response-limit", 20000)
	viper.SetDefault("google.client-id", "")
	viper.SetDefault("google.client-secret", "")
	viper.SetDefault("google.redirect-uri", "")

	// Bare variable names the service has always honored, in addition to
	// the TASKMCP_ prefixed forms.
	_ = viper.BindEnv("google.client-id", "TASKMCP_GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_ID")
	_ = viper.BindEnv("google.client-secret", "TASKMCP_GOOGLE_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")
	_ = viper.BindEnv("google.redirect-uri", "TASKMCP_GOOGLE_REDIRECT_URI", "OAUTH_REDIRECT_URI")
	_ = viper.BindEnv("encryption-key", "TASKMCP_ENCRYPTION_KEY", "ENCRYPTION_KEY")
	_ = viper.BindEnv("api-key", "TASKMCP_API_KEY", "API_KEY")
}

// findConfigFile tries to find a config file in common locations
func findConfigFile() (string, bool) {
	locations := []string{
		ConfigFileName,
		"taskmcp.yaml",
		"taskmcp.yml",
	}

	// Add home directory locations
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations,
			filepath.Join(homeDir, DefaultDataDir, ConfigFileName),
			filepath.Join(homeDir, DefaultDataDir, "taskmcp.yaml"),
		)
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location, true
		}
	}
	return "", false
}

// loadConfigFile loads configuration from a JSON or YAML file
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Empty file (including /dev/null) is treated as no configuration
	if len(data) == 0 {
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// Decode YAML into a generic map first so the struct keeps its
		// JSON field names as the single source of truth.
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		jsonData, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("failed to convert config file: %w", err)
		}
		if err := json.Unmarshal(jsonData, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return nil
}

// applyEnvOverrides applies environment variables on top of whatever the
// config file provided. Both the TASKMCP_ prefixed and the historical bare
// names are honored.
func applyEnvOverrides(cfg *Config) {
	setString := func(target *string, names ...string) {
		for _, name := range names {
			if value := os.Getenv(name); value != "" {
				*target = value
				return
			}
		}
	}

	setString(&cfg.Listen, "TASKMCP_LISTEN")
	setString(&cfg.DataDir, "TASKMCP_DATA_DIR")
	setString(&cfg.APIKey, "TASKMCP_API_KEY", "API_KEY")
	setString(&cfg.EncryptionKey, "TASKMCP_ENCRYPTION_KEY", "ENCRYPTION_KEY")
	if cfg.Google == nil {
		cfg.Google = DefaultGoogleConfig()
	}
	setString(&cfg.Google.ClientID, "TASKMCP_GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_ID")
	setString(&cfg.Google.ClientSecret, "TASKMCP_GOOGLE_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")
	setString(&cfg.Google.RedirectURI, "TASKMCP_GOOGLE_REDIRECT_URI", "OAUTH_REDIRECT_URI")
}

// resolveSecretRefs expands ${env:...} and ${keyring:...} references in
// every string field of the config.
func resolveSecretRefs(cfg *Config) error {
	resolver := secret.NewResolver()
	if err := resolver.ExpandStruct(context.Background(), cfg); err != nil {
		return fmt.Errorf("failed to resolve secret references: %w", err)
	}
	return nil
}

// DatabasePath returns the bbolt database location inside the data directory.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "taskmcp.db")
}
