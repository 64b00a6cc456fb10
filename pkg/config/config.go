package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kineviz/graphxr-console/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Admin auth configuration
	Admin AdminConfig

	// Settings / API key configuration
	Settings SettingsConfig

	// Shared KV store configuration
	KV KVConfig

	// Google OAuth2 configuration for the popup login flow
	Google GoogleConfig

	// Popup bridge configuration
	Bridge BridgeConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BaseURL is the externally visible console URL; the popup bridge
	// refuses interactive login unless its host is a loopback address.
	BaseURL string
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	// Password enables admin auth when non-empty
	Password string

	// SessionTTL bounds the lifetime of issued admin tokens
	SessionTTL time.Duration
}

// SettingsConfig holds API-key settings configuration
type SettingsConfig struct {
	// APIKey pins the data-plane API key from the environment. When set,
	// settings mutations are rejected with 403.
	APIKey string

	// APIKeyEnabled toggles API-key enforcement on data endpoints
	APIKeyEnabled bool
}

// KVConfig holds shared KV namespace configuration
type KVConfig struct {
	// Backend is "memory" or "redis"
	Backend string

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// GoogleConfig holds the OAuth2 client used by the popup login flow
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// BridgeConfig holds popup bridge tuning knobs
type BridgeConfig struct {
	// PollInterval between checks of the shared KV namespace
	PollInterval time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CONSOLE_HOST", "127.0.0.1"),
			Port:            getEnv("CONSOLE_PORT", "3002"),
			ReadTimeout:     getEnvDuration("CONSOLE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CONSOLE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("CONSOLE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CONSOLE_SHUTDOWN_TIMEOUT", 30*time.Second),
			BaseURL:         getEnv("CONSOLE_BASE_URL", "http://127.0.0.1:3002"),
		},
		Admin: AdminConfig{
			Password:   getEnv("CONSOLE_ADMIN_PASSWORD", ""),
			SessionTTL: getEnvDuration("CONSOLE_ADMIN_SESSION_TTL", 24*time.Hour),
		},
		Settings: SettingsConfig{
			APIKey:        getEnv("CONSOLE_API_KEY", ""),
			APIKeyEnabled: getEnvBool("CONSOLE_API_KEY_ENABLED", false),
		},
		KV: KVConfig{
			Backend:       getEnv("CONSOLE_KV_BACKEND", "memory"),
			RedisURL:      getEnv("CONSOLE_REDIS_URL", "localhost:6379"),
			RedisPassword: getEnv("CONSOLE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("CONSOLE_REDIS_DB", 0),
		},
		Google: GoogleConfig{
			ClientID:     getEnv("CONSOLE_GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("CONSOLE_GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("CONSOLE_GOOGLE_REDIRECT_URL", ""),
		},
		Bridge: BridgeConfig{
			PollInterval: getEnvDuration("CONSOLE_BRIDGE_POLL_INTERVAL", 500*time.Millisecond),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("CONSOLE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("CONSOLE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch c.KV.Backend {
	case "memory":
	case "redis":
		if c.KV.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis KV backend")
		}
	default:
		return fmt.Errorf("invalid KV backend: %s (must be memory or redis)", c.KV.Backend)
	}

	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("bridge poll interval must be positive")
	}

	// The popup flow needs a complete OAuth2 client or none at all
	g := c.Google
	if (g.ClientID != "" || g.ClientSecret != "") && (g.ClientID == "" || g.ClientSecret == "") {
		return fmt.Errorf("google client ID and secret must be set together")
	}

	return nil
}

// AdminAuthEnabled reports whether admin auth is configured
func (c *Config) AdminAuthEnabled() bool {
	return c.Admin.Password != ""
}

// APIKeyEnvConfigured reports whether the API key is pinned by environment
func (c *Config) APIKeyEnvConfigured() bool {
	return c.Settings.APIKey != ""
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool returns an environment variable as a bool or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// getEnvDuration returns an environment variable as a duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
