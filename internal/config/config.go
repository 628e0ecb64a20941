// Package config handles loading and validating modelgate configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for modelgate.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.modelgate/data. Override: MODELGATE_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Defaults      DefaultsConfig       `json:"defaults" yaml:"defaults"`
	Probe         *ProbeConfig         `json:"probe,omitempty" yaml:"probe,omitempty"`                 // nil = scheduled probing disabled
	Gateway       HTTPGatewayConfig    `json:"gateway" yaml:"gateway"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	MCP           []MCPServerConfig    `json:"mcp,omitempty" yaml:"mcp,omitempty"`                     // External MCP tool servers.
}

// StorageConfig configures the request-history persistence backend.
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
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: MODELGATE_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ProvidersConfig controls provider selection behavior.
type ProvidersConfig struct {
	Fallback *bool         `json:"fallback,omitempty" yaml:"fallback,omitempty"` // nil = enabled. Override per request: MODELGATE_FALLBACK env var.
	Ollama   OllamaConfig  `json:"ollama" yaml:"ollama"`
	Bedrock  BedrockConfig `json:"bedrock" yaml:"bedrock"`
}

// FallbackEnabled reports whether fallback past the first candidate is allowed.
// Defaults to true when unset.
func (p *ProvidersConfig) FallbackEnabled() bool {
	if p == nil || p.Fallback == nil {
		return true
	}
	return *p.Fallback
}

// OllamaConfig configures the local Ollama endpoint.
type OllamaConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"` // Default: http://localhost:11434. Override: OLLAMA_BASE_URL env var.
}

// BedrockConfig configures the AWS Bedrock endpoint.
type BedrockConfig struct {
	Region string `json:"region" yaml:"region"` // Default: us-east-1. Override: AWS_REGION env var.
}

// DefaultsConfig holds generation parameters applied when a request omits them.
type DefaultsConfig struct {
	MaxTokens      int      `json:"max_tokens" yaml:"max_tokens"`           // Default: 1024.
	Temperature    *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"` // Default: 0.7. Pointer so 0 is representable.
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-attempt timeout. Default: 30.
}

// MaxTokensOrDefault returns the configured max tokens with a default of 1024.
func (d *DefaultsConfig) MaxTokensOrDefault() int {
	if d != nil && d.MaxTokens > 0 {
		return d.MaxTokens
	}
	return 1024
}

// TemperatureOrDefault returns the configured temperature with a default of 0.7.
func (d *DefaultsConfig) TemperatureOrDefault() float64 {
	if d != nil && d.Temperature != nil {
		return *d.Temperature
	}
	return 0.7
}

// AttemptTimeout returns the per-attempt timeout with a default of 30s.
func (d *DefaultsConfig) AttemptTimeout() time.Duration {
	if d != nil && d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// ProbeConfig configures scheduled availability re-probing.
type ProbeConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Schedule string `json:"schedule" yaml:"schedule"` // Cron expression. Default: "@every 5m".
	Live     bool   `json:"live" yaml:"live"`         // Perform live generation probes, not just configuration checks.
}

// CronSchedule returns the cron schedule with a default of "@every 5m".
func (p *ProbeConfig) CronSchedule() string {
	if p != nil && p.Schedule != "" {
		return p.Schedule
	}
	return "@every 5m"
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
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

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "modelgate"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based provider anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool            `json:"enabled" yaml:"enabled"`
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080". Override: MODELGATE_LISTEN_ADDR env var.
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeys             []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // Bearer tokens accepted on /v1. Override: MODELGATE_API_KEY env var (appended).
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// RateLimitConfig configures per-key rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// MCPServerConfig defines a single external MCP server connection.
// modelgate acts as an MCP client, connecting at startup, discovering tools,
// and exposing them through the tools endpoints.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`                           // Server ID used for tool namespacing (e.g., "github").
	Transport string            `json:"transport" yaml:"transport"`                 // "stdio", "sse", or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"` // Executable to launch (stdio only).
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`       // Command arguments (stdio only).
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`         // Subprocess env vars (stdio only). Values support ${VAR} expansion.
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`         // Server endpoint (sse/streamable_http only).
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"` // HTTP headers (sse/streamable_http). Values support ${VAR} expansion.
}

// DefaultConfigPath returns the default config file path (~/.modelgate/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/modelgate.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".modelgate", "config.json")
}

// Default returns a usable configuration without any config file: SQLite
// storage under the default data dir, gateway enabled on :8080, metrics on.
func Default() *Config {
	cfg := &Config{
		Gateway: HTTPGatewayConfig{Enabled: true},
		Probe:   &ProbeConfig{Enabled: true},
		Observability: &ObservabilityConfig{
			Metrics: &MetricsConfig{Enabled: true},
		},
	}
	applyEnvOverrides(cfg)
	resolveDataDir(cfg)
	return cfg
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over config file values.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
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

	applyEnvOverrides(&cfg)
	resolveDataDir(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides on top of the
// parsed config. Env vars take precedence over config file values.
func applyEnvOverrides(cfg *Config) {
	if envDD := os.Getenv("MODELGATE_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envAddr := os.Getenv("MODELGATE_LISTEN_ADDR"); envAddr != "" {
		cfg.Gateway.ListenAddr = envAddr
	}
	if envKey := os.Getenv("MODELGATE_API_KEY"); envKey != "" {
		cfg.Gateway.APIKeys = append(cfg.Gateway.APIKeys, envKey)
	}
	if envFB := os.Getenv("MODELGATE_FALLBACK"); envFB != "" {
		if v, err := strconv.ParseBool(envFB); err == nil {
			cfg.Providers.Fallback = &v
		}
	}
	if envURL := os.Getenv("OLLAMA_BASE_URL"); envURL != "" {
		cfg.Providers.Ollama.BaseURL = envURL
	}
	if envRegion := os.Getenv("AWS_REGION"); envRegion != "" {
		cfg.Providers.Bedrock.Region = envRegion
	}
	if envDSN := os.Getenv("MODELGATE_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
}

func resolveDataDir(cfg *Config) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".modelgate", "data")
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
		return filepath.Join(home, ".modelgate", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "modelgate.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Defaults.MaxTokens < 0 {
		return fmt.Errorf("defaults.max_tokens must not be negative")
	}
	if c.Defaults.TimeoutSeconds < 0 {
		return fmt.Errorf("defaults.timeout_seconds must not be negative")
	}
	if c.Gateway.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("gateway.rate_limit.requests_per_minute must not be negative")
	}
	// Storage driver validation.
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set MODELGATE_DB_DSN env var)")
		}
	}
	// MCP server config validation.
	mcpNames := make(map[string]bool, len(c.MCP))
	for i, srv := range c.MCP {
		if srv.Name == "" {
			return fmt.Errorf("mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}
