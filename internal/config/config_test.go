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
	t.Chdir(t.TempDir())
	t.Setenv("DATABRICKS_HOST", "example.cloud.databricks.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.cloud.databricks.com", cfg.DatabricksHost)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, 2*time.Second, cfg.Trace.SettleDelay)
	assert.Equal(t, 10*time.Second, cfg.Trace.LookupTimeout)
	assert.Equal(t, time.Duration(0), cfg.Upstream.HeaderTimeout)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, DefaultMaxChatsPerUser, cfg.Storage.MaxChatsPerUser)
	assert.Equal(t, DefaultLocalUserID, cfg.LocalUserID)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRACE_SETTLE_DELAY=250ms\nPORT=9100\n"), 0o600))
	for _, k := range []string{"TRACE_SETTLE_DELAY", "PORT"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Trace.SettleDelay)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DeploymentMode: ModeAuto,
			Storage:        StorageConfig{Backend: StorageMemory, MaxChatsPerUser: 10},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.DeploymentMode = "cloud" }, "DEPLOYMENT_MODE"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "postgres" }, "STORAGE_BACKEND"},
		{"redis without url", func(c *Config) { c.Storage.Backend = StorageRedis }, "REDIS_URL"},
		{"zero max chats", func(c *Config) { c.Storage.MaxChatsPerUser = 0 }, "STORAGE_MAX_CHATS"},
		{"negative settle", func(c *Config) { c.Trace.SettleDelay = -time.Second }, "TRACE_SETTLE_DELAY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMode(t *testing.T) {
	assert.Equal(t, ModeLocal, (&Config{DeploymentMode: ModeAuto}).Mode())
	assert.Equal(t, ModeHosted, (&Config{DeploymentMode: ModeAuto, AppName: "chat"}).Mode())
	assert.Equal(t, ModeLocal, (&Config{DeploymentMode: ModeLocal, AppName: "chat"}).Mode())
	assert.Equal(t, ModeHosted, (&Config{DeploymentMode: ModeHosted}).Mode())
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "", NormalizeHost("  "))
	assert.Equal(t, "https://h.example", NormalizeHost("h.example"))
	assert.Equal(t, "http://localhost:5000", NormalizeHost("http://localhost:5000/"))
}

func TestExpandEnvWithDefaults(t *testing.T) {
	t.Setenv("AGENT_ENDPOINT", "mas-prod")
	t.Setenv("EMPTY_VAR", "")

	tests := []struct {
		input    string
		expected string
	}{
		{"${AGENT_ENDPOINT}", "mas-prod"},
		{"${AGENT_ENDPOINT:-fallback}", "mas-prod"},
		{"${MISSING_VAR_XYZ:-fallback}", "fallback"},
		{"${EMPTY_VAR:-fallback}", "fallback"},
		{"${MISSING_VAR_XYZ}", ""},
		{"price $5", "price $5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ExpandEnvWithDefaults(tt.input), tt.input)
	}
}
