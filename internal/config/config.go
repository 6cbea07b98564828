// Package config loads process configuration from the environment and the
// agents registry from disk.
//
// DESIGN: Environment variables are the single source of process settings.
// A .env.local (or .env) file is loaded first for local runs; values already
// set in the real environment win because godotenv never overrides them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Environment    string `envconfig:"APP_ENV" default:"development"`
	DeploymentMode string `envconfig:"DEPLOYMENT_MODE" default:"auto"`
	AppName        string `envconfig:"DATABRICKS_APP_NAME"`

	// Databricks workspace. Token is only used in local mode.
	DatabricksHost  string `envconfig:"DATABRICKS_HOST"`
	DatabricksToken string `envconfig:"DATABRICKS_TOKEN"`
	LocalUserID     string `envconfig:"LOCAL_USER_ID" default:"dev-user@localhost"`

	AgentsConfig string `envconfig:"AGENTS_CONFIG" default:"config/agents.yaml"`

	Server    ServerConfig
	Upstream  UpstreamConfig
	Trace     TraceConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"PORT" default:"8000"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	CORSOrigins     []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig holds agent endpoint client settings.
type UpstreamConfig struct {
	HeaderTimeout time.Duration `envconfig:"UPSTREAM_HEADER_TIMEOUT" default:"0s"`
}

// TraceConfig holds trace reconciliation settings.
type TraceConfig struct {
	SettleDelay   time.Duration `envconfig:"TRACE_SETTLE_DELAY" default:"2s"`
	LookupTimeout time.Duration `envconfig:"TRACE_LOOKUP_TIMEOUT" default:"10s"`
}

// StorageConfig selects and configures the chat store.
type StorageConfig struct {
	Backend           string `envconfig:"STORAGE_BACKEND" default:"memory"`
	MaxChatsPerUser   int    `envconfig:"STORAGE_MAX_CHATS" default:"10"`
	SQLitePath        string `envconfig:"SQLITE_PATH" default:"data/chats.db"`
	RedisURL          string `envconfig:"REDIS_URL"`
	RedisReadTimeout  int    `envconfig:"REDIS_READ_TIMEOUT" default:"3"`
	RedisWriteTimeout int    `envconfig:"REDIS_WRITE_TIMEOUT" default:"3"`
	RedisDialTimeout  int    `envconfig:"REDIS_DIAL_TIMEOUT" default:"5"`
}

// TelemetryConfig configures self-tracing and the stream telemetry log.
type TelemetryConfig struct {
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"agent-chat-gateway"`
	Insecure     bool   `envconfig:"OTEL_INSECURE" default:"false"`
	LogPath      string `envconfig:"TELEMETRY_LOG_PATH"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL"`
	Format string `envconfig:"LOG_FORMAT" default:"auto"`
}

// Load reads .env.local or .env when present, then the process environment.
func Load() (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("loading %s: %w", f, err)
			}
			break
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.DeploymentMode = strings.ToLower(strings.TrimSpace(c.DeploymentMode))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.DatabricksHost = NormalizeHost(c.DatabricksHost)
	if c.Log.Level == "" {
		if c.IsDevelopment() {
			c.Log.Level = "debug"
		} else {
			c.Log.Level = "info"
		}
	}
}

// Validate checks values that envconfig cannot.
func (c *Config) Validate() error {
	switch c.DeploymentMode {
	case ModeAuto, ModeLocal, ModeHosted:
	default:
		return fmt.Errorf("config: DEPLOYMENT_MODE must be auto, local or hosted, got %q", c.DeploymentMode)
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageSQLite:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("config: REDIS_URL is required for the redis storage backend")
		}
	default:
		return fmt.Errorf("config: STORAGE_BACKEND must be memory, sqlite or redis, got %q", c.Storage.Backend)
	}
	if c.Storage.MaxChatsPerUser <= 0 {
		return errors.New("config: STORAGE_MAX_CHATS must be positive")
	}
	if c.Trace.SettleDelay < 0 {
		return errors.New("config: TRACE_SETTLE_DELAY must not be negative")
	}
	return nil
}

// Mode resolves ModeAuto into local or hosted.
func (c *Config) Mode() string {
	if c.DeploymentMode == ModeAuto || c.DeploymentMode == "" {
		if c.AppName != "" {
			return ModeHosted
		}
		return ModeLocal
	}
	return c.DeploymentMode
}

// IsDevelopment reports whether APP_ENV is a development environment.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Environment) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// NormalizeHost trims trailing slashes and adds https:// when no scheme is given.
func NormalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return ""
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host
}
