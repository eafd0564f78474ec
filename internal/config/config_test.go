package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "8181"
database:
  path: /var/lib/shelfsync/store.db
jwt:
  secret_key: file-secret
sync:
  base_url: https://backend.example.com/api/v1
  interval: 10s
  max_retries: 3
cors:
  allowed_origins:
    - http://localhost:3000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/var/lib/shelfsync/store.db", cfg.Database.Path)
	assert.Equal(t, "https://backend.example.com/api/v1", cfg.Sync.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "/health", cfg.Sync.HealthPath)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret_key: file-secret
sync:
  base_url: https://file.example.com
`)
	t.Setenv("SHELFSYNC_JWT__SECRET_KEY", "env-secret")
	t.Setenv("SHELFSYNC_SYNC__BASE_URL", "https://env.example.com")
	t.Setenv("SHELFSYNC_SYNC__REQUEST_TIMEOUT", "2s")
	t.Setenv("SHELFSYNC_LOG__LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.JWT.SecretKey)
	assert.Equal(t, "https://env.example.com", cfg.Sync.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_WithoutFile(t *testing.T) {
	t.Setenv("SHELFSYNC_JWT__SECRET_KEY", "secret")
	t.Setenv("SHELFSYNC_SYNC__ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, "shelfsync.db", cfg.Database.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.JWT.SecretKey = "secret"
		cfg.Sync.BaseURL = "http://backend"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"missing secret", func(c *Config) { c.JWT.SecretKey = "" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }},
		{"sync without base url", func(c *Config) { c.Sync.BaseURL = "" }},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }},
		{"zero max retries", func(c *Config) { c.Sync.MaxRetries = 0 }},
		{"negative rate limit", func(c *Config) { c.Sync.RateLimit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("disabled sync needs no base url", func(t *testing.T) {
		cfg := valid()
		cfg.Sync.Enabled = false
		cfg.Sync.BaseURL = ""
		assert.NoError(t, cfg.Validate())
	})
}
