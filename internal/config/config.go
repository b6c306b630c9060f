// Package config loads chat core configuration from environment variables.
// A .env file is honored when present so local development does not need
// exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Waito3007/SHNGear-sub002/internal/constants"
)

// Config holds all chat core configuration
type Config struct {
	Client ClientConfig
	Server ServerConfig
}

// ClientConfig configures the visitor widget and the admin console.
type ClientConfig struct {
	// BackendURL is the base URL of the support backend, e.g. http://host:8080.
	// The realtime endpoint is derived from it (ws scheme, /chat/ws path).
	BackendURL string
	// PathPrefix is the HTTP path prefix the backend mounts its routes under.
	PathPrefix string
	// RequestTimeout bounds individual REST calls.
	RequestTimeout time.Duration
	// SessionFile is where the widget persists its session id across
	// restarts. Empty disables persistence.
	SessionFile string
	// RefreshInterval is the admin console's active-session poll interval.
	RefreshInterval time.Duration
}

// ServerConfig configures the reference support backend.
type ServerConfig struct {
	Port           int
	JWTSecret      string
	PathPrefix     string
	AllowedOrigins []string
	MaxMessageSize int64
	LogLevel       string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present (missing file is not an error).
func Load() (*Config, error) {
	// Ignore error: absence of a .env file is the normal production case
	_ = godotenv.Load()

	cfg := &Config{
		Client: ClientConfig{
			BackendURL:      getEnv("CHAT_BACKEND_URL", constants.DefaultBackendURL),
			PathPrefix:      getEnv("CHAT_PATH_PREFIX", constants.DefaultPathPrefix),
			RequestTimeout:  getEnvDuration("CHAT_REQUEST_TIMEOUT", constants.DefaultRequestTimeout),
			SessionFile:     getEnv("CHAT_SESSION_FILE", ""),
			RefreshInterval: getEnvDuration("CHAT_REFRESH_INTERVAL", constants.SessionRefreshInterval),
		},
		Server: ServerConfig{
			Port:           getEnvInt("CHAT_SERVER_PORT", constants.DefaultPort),
			JWTSecret:      os.Getenv("CHAT_JWT_SECRET"),
			PathPrefix:     getEnv("CHAT_PATH_PREFIX", constants.DefaultPathPrefix),
			AllowedOrigins: getEnvList("CHAT_ALLOWED_ORIGINS"),
			MaxMessageSize: int64(getEnvInt("CHAT_MAX_MESSAGE_SIZE", constants.DefaultMaxMessageSize)),
			LogLevel:       getEnv("CHAT_LOG_LEVEL", constants.DefaultLogLevel),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency. The JWT secret is only
// required when the backend is actually started, so it is validated by
// ValidateServer, not here.
func (c *Config) Validate() error {
	if c.Client.BackendURL == "" {
		return fmt.Errorf("backend URL cannot be empty")
	}
	if !strings.HasPrefix(c.Client.PathPrefix, "/") {
		return fmt.Errorf("path prefix must start with '/' (got: %s)", c.Client.PathPrefix)
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive (got: %s)", c.Client.RequestTimeout)
	}
	if c.Client.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive (got: %s)", c.Client.RefreshInterval)
	}
	return nil
}

// ValidateServer checks the configuration needed to start the reference
// backend, including JWT secret strength.
func (c *Config) ValidateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive (got: %d)", c.Server.MaxMessageSize)
	}
	return ValidateJWTSecret(c.Server.JWTSecret)
}

// ValidateJWTSecret validates the JWT secret strength.
// Returns error if the secret is empty, too short, or contains weak patterns.
func ValidateJWTSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("JWT secret is required (set CHAT_JWT_SECRET)")
	}

	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf(
			"JWT secret must be at least %d characters (got %d). "+
				"Generate a strong secret with: openssl rand -base64 32",
			constants.MinJWTSecretLength, len(secret))
	}

	lowerSecret := strings.ToLower(secret)
	for _, weak := range constants.WeakSecrets {
		if strings.Contains(lowerSecret, weak) {
			return fmt.Errorf(
				"JWT secret appears to be weak (contains '%s'). "+
					"Use a cryptographically random secret generated with: openssl rand -base64 32",
				weak)
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
