package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waito3007/SHNGear-sub002/internal/constants"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHAT_BACKEND_URL", "")
	t.Setenv("CHAT_JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultBackendURL, cfg.Client.BackendURL)
	assert.Equal(t, constants.DefaultPathPrefix, cfg.Client.PathPrefix)
	assert.Equal(t, constants.DefaultRequestTimeout, cfg.Client.RequestTimeout)
	assert.Equal(t, constants.SessionRefreshInterval, cfg.Client.RefreshInterval)
	assert.Equal(t, constants.DefaultPort, cfg.Server.Port)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHAT_BACKEND_URL", "https://support.example.com")
	t.Setenv("CHAT_REQUEST_TIMEOUT", "3s")
	t.Setenv("CHAT_REFRESH_INTERVAL", "45s")
	t.Setenv("CHAT_SERVER_PORT", "9090")
	t.Setenv("CHAT_ALLOWED_ORIGINS", "https://shop.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://support.example.com", cfg.Client.BackendURL)
	assert.Equal(t, 3*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, 45*time.Second, cfg.Client.RefreshInterval)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"},
		cfg.Server.AllowedOrigins)
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("CHAT_REQUEST_TIMEOUT", "soon")
	t.Setenv("CHAT_SERVER_PORT", "not-a-port")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultRequestTimeout, cfg.Client.RequestTimeout)
	assert.Equal(t, constants.DefaultPort, cfg.Server.Port)
}

func TestValidateRejectsBadPathPrefix(t *testing.T) {
	t.Setenv("CHAT_PATH_PREFIX", "chat")

	_, err := Load()
	assert.ErrorContains(t, err, "path prefix")
}

func TestValidateServer(t *testing.T) {
	cfg := &Config{Server: ServerConfig{
		Port:           8080,
		MaxMessageSize: constants.DefaultMaxMessageSize,
		JWTSecret:      "kU3xq9ZmPf2vR8wN4tYh6bJc1sLd5gQa0eVi7oXn",
	}}
	require.NoError(t, cfg.ValidateServer())

	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.ValidateServer(), "port")

	cfg.Server.Port = 8080
	cfg.Server.MaxMessageSize = 0
	assert.ErrorContains(t, cfg.ValidateServer(), "message size")
}

func TestValidateJWTSecret(t *testing.T) {
	assert.ErrorContains(t, ValidateJWTSecret(""), "required")
	assert.ErrorContains(t, ValidateJWTSecret("short"), "at least")
	assert.ErrorContains(t,
		ValidateJWTSecret("secret-secret-secret-secret-secret-secret"), "weak")
	assert.NoError(t,
		ValidateJWTSecret(strings.Repeat("x7Kq9mQ2", 5)))
}
