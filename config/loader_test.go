package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8787, cfg.Server.HTTPPort)
	assert.Equal(t, 100, cfg.Session.MaxSessions)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, time.Minute, cfg.Session.CleanupInterval)
	assert.Equal(t, 5, cfg.Batch.Concurrency)
	assert.Equal(t, 29*24*time.Hour, cfg.Batch.Retention)
	assert.Equal(t, "forward", cfg.Backend.MessageMode)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9999
session:
  max_sessions: 7
  ttl: 90s
backend:
  message_mode: ignore
  allowed_tools: [Read, Grep]
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 7, cfg.Session.MaxSessions)
	assert.Equal(t, 90*time.Second, cfg.Session.TTL)
	assert.Equal(t, "ignore", cfg.Backend.MessageMode)
	assert.Equal(t, []string{"Read", "Grep"}, cfg.Backend.AllowedTools)
	// Untouched sections keep defaults.
	assert.Equal(t, 5, cfg.Batch.Concurrency)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  max_sessions: 7\n"), 0o600))

	t.Setenv("AGENTGATE_SESSION_MAX_SESSIONS", "3")
	t.Setenv("AGENTGATE_SESSION_TTL", "2m")
	t.Setenv("AGENTGATE_SECURITY_AUTH_KEY", "sk-test")
	t.Setenv("AGENTGATE_SECURITY_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AGENTGATE_ACCESS_LOG_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Session.MaxSessions)
	assert.Equal(t, 2*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "sk-test", cfg.Security.AuthKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.CORSOrigins)
	assert.True(t, cfg.AccessLog.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Session.MaxSessions)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Session.MaxSessions = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_sessions")

	cfg = Default()
	cfg.Backend.MessageMode = "verbose"
	require.Error(t, cfg.Validate())

	require.NoError(t, Default().Validate())
}
