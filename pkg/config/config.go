// Package config provides configuration handling for pipelinestudio.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Backend is the RAG pipeline backend used by live and stream runs
	Backend BackendConfig `json:"backend"`

	// Executor tunes the execution strategies
	Executor ExecutorConfig `json:"executor"`

	// Pipeline selects the graph loaded at startup
	Pipeline PipelineConfig `json:"pipeline"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Webhooks are notified of every finished run
	Webhooks WebhooksConfig `json:"webhooks"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`

	// TLS configuration
	TLS TLSConfig `json:"tls"`

	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// BackendConfig contains the pipeline backend settings
type BackendConfig struct {
	// URL is the base URL of the backend
	URL string `json:"url"`

	// APIKey is sent as a bearer token when set
	APIKey string `json:"api_key,omitempty"`

	// TimeoutSeconds bounds a single query request
	TimeoutSeconds int `json:"timeout_seconds"`

	// StreamBufferBytes is the largest stream frame accepted
	StreamBufferBytes int `json:"stream_buffer_bytes"`

	// HealthSchedule is the cron spec for health checks
	HealthSchedule string `json:"health_schedule"`

	// MetricsSchedule is the cron spec for metrics polls
	MetricsSchedule string `json:"metrics_schedule"`

	// StreamFallback synthesizes stream frames from the query endpoint
	// when the stream endpoint is unavailable
	StreamFallback bool `json:"stream_fallback"`
}

// Timeout returns the request timeout
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ExecutorConfig contains the execution strategy settings
type ExecutorConfig struct {
	// DefaultMode is used when a request names no mode
	DefaultMode string `json:"default_mode"`

	// LevelCapMs caps the simulated wait of one demo level
	LevelCapMs int `json:"level_cap_ms"`

	// JitterFraction is the relative spread of simulated latencies
	JitterFraction float64 `json:"jitter_fraction"`

	// MinLatencyMs is the smallest simulated node latency
	MinLatencyMs float64 `json:"min_latency_ms"`

	// DefaultLatencyMs is simulated for node types without an estimate
	DefaultLatencyMs float64 `json:"default_latency_ms"`

	// DemoPulseMs and StreamPulseMs are edge animation lengths
	DemoPulseMs   int `json:"demo_pulse_ms"`
	StreamPulseMs int `json:"stream_pulse_ms"`

	// HistoryLimit is the number of runs kept in memory
	HistoryLimit int `json:"history_limit"`

	// DefaultUserID and DefaultTenantID fill requests that carry none
	DefaultUserID   string `json:"default_user_id"`
	DefaultTenantID string `json:"default_tenant_id"`
}

// PipelineConfig selects the startup pipeline and registry
type PipelineConfig struct {
	// Path is a YAML or JSON pipeline file; empty loads the built-in pipeline
	Path string `json:"path,omitempty"`

	// RegistryOverrides is a YAML file adjusting node estimates
	RegistryOverrides string `json:"registry_overrides,omitempty"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "memory", "dynamodb", "postgres", "redis"

	DynamoDB DynamoDBConfig `json:"dynamodb"`
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	Region      string `json:"region"`
	Endpoint    string `json:"endpoint"`
	TablePrefix string `json:"table_prefix"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret enables bearer authentication on the API when set
	JWTSecret string `json:"jwt_secret,omitempty"`

	// TokenExpiration is the token expiration time in hours
	TokenExpiration int `json:"token_expiration"`

	// RequestsPerMinute limits each caller; zero disables limiting
	RequestsPerMinute int `json:"requests_per_minute"`
}

// WebhooksConfig contains run notification settings
type WebhooksConfig struct {
	// URLs receive a POST for every finished run; empty disables notifications
	URLs []string `json:"urls,omitempty"`

	// Secret signs payloads with HMAC-SHA256 when set
	Secret string `json:"secret,omitempty"`

	MaxRetries     int `json:"max_retries"`
	InitialDelayMs int `json:"initial_delay_ms"`
	MaxDelayMs     int `json:"max_delay_ms"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level"` // "debug", "info", "warn", "error"

	// Format is the log format
	Format string `json:"format"` // "json", "text"

	// Output is the log output
	Output string `json:"output"` // "stdout", "stderr", "file"

	// FilePath is the path to the log file
	FilePath string `json:"file_path,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Backend: BackendConfig{
			URL:               "http://localhost:8000",
			TimeoutSeconds:    60,
			StreamBufferBytes: 1 << 20,
			HealthSchedule:    "@every 30s",
			MetricsSchedule:   "@every 5s",
		},
		Executor: ExecutorConfig{
			DefaultMode:      "demo",
			LevelCapMs:       2000,
			JitterFraction:   0.3,
			MinLatencyMs:     10,
			DefaultLatencyMs: 50,
			DemoPulseMs:      600,
			StreamPulseMs:    500,
			HistoryLimit:     50,
			DefaultUserID:    "test-user",
			DefaultTenantID:  "default",
		},
		Storage: StorageConfig{
			Type: "memory",
			DynamoDB: DynamoDBConfig{
				Region:      "us-west-2",
				TablePrefix: "pipelinestudio_",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "pipelinestudio",
				User:     "pipelinestudio",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "pipelinestudio:",
			},
		},
		Auth: AuthConfig{
			TokenExpiration:   24,
			RequestsPerMinute: 120,
		},
		Webhooks: WebhooksConfig{
			MaxRetries:     3,
			InitialDelayMs: 500,
			MaxDelayMs:     10000,
			TimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadConfig loads the configuration from a file. Fields missing from the
// file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := mergo.Merge(&cfg, *DefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// OverrideFromEnv overrides configuration values from PIPELINESTUDIO_* environment variables
func OverrideFromEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	// Server configuration
	setString("PIPELINESTUDIO_SERVER_HOST", &cfg.Server.Host)
	setInt("PIPELINESTUDIO_SERVER_PORT", &cfg.Server.Port)

	// Backend configuration
	setString("PIPELINESTUDIO_BACKEND_URL", &cfg.Backend.URL)
	setString("PIPELINESTUDIO_BACKEND_API_KEY", &cfg.Backend.APIKey)
	setInt("PIPELINESTUDIO_BACKEND_TIMEOUT", &cfg.Backend.TimeoutSeconds)
	if v := os.Getenv("PIPELINESTUDIO_STREAM_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Backend.StreamFallback = b
		}
	}

	// Pipeline configuration
	setString("PIPELINESTUDIO_PIPELINE_PATH", &cfg.Pipeline.Path)
	setString("PIPELINESTUDIO_REGISTRY_OVERRIDES", &cfg.Pipeline.RegistryOverrides)

	// Storage configuration
	setString("PIPELINESTUDIO_STORAGE_TYPE", &cfg.Storage.Type)
	setString("PIPELINESTUDIO_DYNAMODB_REGION", &cfg.Storage.DynamoDB.Region)
	setString("PIPELINESTUDIO_DYNAMODB_ENDPOINT", &cfg.Storage.DynamoDB.Endpoint)
	setString("PIPELINESTUDIO_DYNAMODB_TABLE_PREFIX", &cfg.Storage.DynamoDB.TablePrefix)
	setString("PIPELINESTUDIO_POSTGRES_HOST", &cfg.Storage.Postgres.Host)
	setInt("PIPELINESTUDIO_POSTGRES_PORT", &cfg.Storage.Postgres.Port)
	setString("PIPELINESTUDIO_POSTGRES_DATABASE", &cfg.Storage.Postgres.Database)
	setString("PIPELINESTUDIO_POSTGRES_USER", &cfg.Storage.Postgres.User)
	setString("PIPELINESTUDIO_POSTGRES_PASSWORD", &cfg.Storage.Postgres.Password)
	setString("PIPELINESTUDIO_POSTGRES_SSL_MODE", &cfg.Storage.Postgres.SSLMode)
	setString("PIPELINESTUDIO_REDIS_ADDR", &cfg.Storage.Redis.Addr)
	setString("PIPELINESTUDIO_REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	setInt("PIPELINESTUDIO_REDIS_DB", &cfg.Storage.Redis.DB)

	// Auth configuration
	setString("PIPELINESTUDIO_JWT_SECRET", &cfg.Auth.JWTSecret)
	setInt("PIPELINESTUDIO_TOKEN_EXPIRATION", &cfg.Auth.TokenExpiration)

	// Webhook configuration
	if v := os.Getenv("PIPELINESTUDIO_WEBHOOK_URLS"); v != "" {
		cfg.Webhooks.URLs = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.Webhooks.URLs = append(cfg.Webhooks.URLs, u)
			}
		}
	}
	setString("PIPELINESTUDIO_WEBHOOK_SECRET", &cfg.Webhooks.Secret)

	// Logging configuration
	setString("PIPELINESTUDIO_LOG_LEVEL", &cfg.Logging.Level)
	setString("PIPELINESTUDIO_LOG_FORMAT", &cfg.Logging.Format)
}
