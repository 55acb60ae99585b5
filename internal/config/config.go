// Package config handles loading and validating Feedhive configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Feedhive.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.feedhive/data. Override: FEEDHIVE_DATA_DIR env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from data dir)
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Confirm       ConfirmConfig        `json:"confirm" yaml:"confirm"`
	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = schedule loop disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Log           LogConfig            `json:"log" yaml:"log"`
}

// ServerConfig configures the HTTP API gateway.
type ServerConfig struct {
	ListenAddr string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080"
	EnableDocs bool              `json:"enable_docs" yaml:"enable_docs"`
	APIKeys    map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // API key → user ID. Also settable via FEEDHIVE_API_KEYS.
	RateLimit  RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address, defaulting to ":8080".
func (s *ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// RateLimitConfig configures the per-user token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // 0 = requests_per_minute
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: FEEDHIVE_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ProvidersConfig configures LLM backends.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"` // "anthropic", "openai", "ollama". Empty = "anthropic".
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// ConfirmConfig tunes the confirmation state machine.
type ConfirmConfig struct {
	PendingTTLSeconds    int `json:"pending_ttl_seconds" yaml:"pending_ttl_seconds"`       // Default: 300 (5 min)
	GrantTTLSeconds      int `json:"grant_ttl_seconds" yaml:"grant_ttl_seconds"`           // Default: 60
	SweepIntervalSeconds int `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"` // Default: 60
}

// PendingTTL returns the pending confirmation TTL.
func (c *ConfirmConfig) PendingTTL() time.Duration {
	if c.PendingTTLSeconds > 0 {
		return time.Duration(c.PendingTTLSeconds) * time.Second
	}
	return 5 * time.Minute
}

// GrantTTL returns the one-time approval grant TTL.
func (c *ConfirmConfig) GrantTTL() time.Duration {
	if c.GrantTTLSeconds > 0 {
		return time.Duration(c.GrantTTLSeconds) * time.Second
	}
	return time.Minute
}

// SweepInterval returns the expiry sweep interval.
func (c *ConfirmConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds > 0 {
		return time.Duration(c.SweepIntervalSeconds) * time.Second
	}
	return time.Minute
}

// AgentConfig bounds agent runs.
type AgentConfig struct {
	MaxSteps          int `json:"max_steps" yaml:"max_steps"`                     // Default: 8
	MaxToolCalls      int `json:"max_tool_calls" yaml:"max_tool_calls"`           // Default: 12
	MaxRuntimeSeconds int `json:"max_runtime_seconds" yaml:"max_runtime_seconds"` // Default: 120
	RiskBudget        int `json:"risk_budget" yaml:"risk_budget"`                 // 0 = resolve from permission policy
}

// MaxRuntime returns the agent run wall-clock bound.
func (a *AgentConfig) MaxRuntime() time.Duration {
	if a.MaxRuntimeSeconds > 0 {
		return time.Duration(a.MaxRuntimeSeconds) * time.Second
	}
	return 2 * time.Minute
}

// ToolsConfig configures tool backends.
type ToolsConfig struct {
	Web      WebToolConfig      `json:"web" yaml:"web"`
	Database DatabaseToolConfig `json:"database" yaml:"database"`
}

// WebToolConfig configures the web fetch and RSS tools.
type WebToolConfig struct {
	MaxResponseBytes int64 `json:"max_response_bytes" yaml:"max_response_bytes"` // Default: 5 MB
	TimeoutSeconds   int   `json:"timeout_seconds" yaml:"timeout_seconds"`       // Default: 10
}

// DatabaseToolConfig configures the read-only SQL query tool.
// When DSN is empty the tool queries the primary PostgreSQL store; the tool is
// disabled entirely on SQLite deployments without an explicit DSN.
type DatabaseToolConfig struct {
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// SchedulerConfig configures the schedule loop.
type SchedulerConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`         // Default: 30
	MaxConcurrent       int  `json:"max_concurrent" yaml:"max_concurrent"`                       // Default: 4
	MissedJobWindowSecs int  `json:"missed_job_window_seconds" yaml:"missed_job_window_seconds"` // Default: 3600
}

// PollInterval returns the scheduler poll interval.
func (s *SchedulerConfig) PollInterval() time.Duration {
	if s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// MissedJobWindow returns the window beyond which overdue schedules are
// skipped instead of fired.
func (s *SchedulerConfig) MissedJobWindow() time.Duration {
	if s.MissedJobWindowSecs > 0 {
		return time.Duration(s.MissedJobWindowSecs) * time.Second
	}
	return time.Hour
}

// ObservabilityConfig configures metrics, tracing, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "feedhive"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info" (default), "warn", "error".
	Format string `json:"format" yaml:"format"` // "json" (default) or "text".
}

// DefaultConfigPath returns the default config file path (~/.feedhive/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/feedhive.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".feedhive", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys and gateway keys can be set in the config
// file or overridden by environment variables. Environment variables take
// precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv applies environment variable overrides; env vars take precedence
// over config file values.
func (c *Config) applyEnv() {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envDD := os.Getenv("FEEDHIVE_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envDSN := os.Getenv("FEEDHIVE_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	// FEEDHIVE_API_KEYS holds comma-separated "apikey:userID" pairs.
	if envKeys := os.Getenv("FEEDHIVE_API_KEYS"); envKeys != "" {
		if c.Server.APIKeys == nil {
			c.Server.APIKeys = make(map[string]string)
		}
		for _, pair := range strings.Split(envKeys, ",") {
			key, userID, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if ok && key != "" && userID != "" {
				c.Server.APIKeys[key] = userID
			}
		}
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".feedhive", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "feedhive.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set FEEDHIVE_DB_DSN env var)")
		}
	}
	if c.Agent.MaxSteps < 0 || c.Agent.MaxToolCalls < 0 || c.Agent.RiskBudget < 0 {
		return fmt.Errorf("agent limits must not be negative")
	}
	if c.Server.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("server.rate_limit.requests_per_minute must not be negative")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level %q is not supported (use debug, info, warn, or error)", c.Log.Level)
	}
	return nil
}

// validateProvider checks that the selected LLM provider has the required fields.
func (c *Config) validateProvider() error {
	switch c.Providers.Default {
	case "anthropic":
		if c.Providers.Anthropic.Model == "" {
			return fmt.Errorf("providers.anthropic.model is required")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use anthropic, openai, or ollama)", c.Providers.Default)
	}
	return nil
}
