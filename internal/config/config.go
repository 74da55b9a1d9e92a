// Package config handles loading and validating Duka configuration.
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

// Config is the root configuration for Duka.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.duka/data. Override: DUKA_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Chat          *ChatConfig          `json:"chat,omitempty" yaml:"chat,omitempty"`                   // nil = built-in defaults
	RateLimit     *RateLimitConfig     `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`       // nil = 20 requests per 60s
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Maintenance   *MaintenanceConfig   `json:"maintenance,omitempty" yaml:"maintenance,omitempty"`     // nil = background maintenance disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
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
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: DUKA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ChatConfig tunes the conversation loop. When nil, built-in defaults apply.
type ChatConfig struct {
	MaxIterations    int     `json:"max_iterations" yaml:"max_iterations"`                             // Model round-trips per turn. Default: 5.
	HistoryWindow    int     `json:"history_window" yaml:"history_window"`                             // Prior messages loaded per turn. Default: 12.
	MaxTokens        int     `json:"max_tokens" yaml:"max_tokens"`                                     // Per-call completion budget. Default: 1024.
	Temperature      float64 `json:"temperature" yaml:"temperature"`                                   // Sampling temperature. Default: 0.3.
	MaxMessageBytes  int     `json:"max_message_bytes" yaml:"max_message_bytes"`                       // Inbound message size cap. Default: 8192.
	PolicyPrompt     string  `json:"policy_prompt,omitempty" yaml:"policy_prompt,omitempty"`           // Override the built-in assistant persona.
	PolicyPromptPath string  `json:"policy_prompt_path,omitempty" yaml:"policy_prompt_path,omitempty"` // Load the persona from a file instead.
}

// Iterations returns the max model round-trips with a default of 5.
func (c *ChatConfig) Iterations() int {
	if c != nil && c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return 5
}

// History returns the history window with a default of 12.
func (c *ChatConfig) History() int {
	if c != nil && c.HistoryWindow > 0 {
		return c.HistoryWindow
	}
	return 12
}

// Tokens returns the per-call completion budget with a default of 1024.
func (c *ChatConfig) Tokens() int {
	if c != nil && c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1024
}

// Sampling returns the temperature with a default of 0.3.
func (c *ChatConfig) Sampling() float64 {
	if c != nil && c.Temperature > 0 {
		return c.Temperature
	}
	return 0.3
}

// MessageBytes returns the inbound message size cap with a default of 8192.
func (c *ChatConfig) MessageBytes() int {
	if c != nil && c.MaxMessageBytes > 0 {
		return c.MaxMessageBytes
	}
	return 8192
}

// Prompt returns the configured persona prompt, reading PolicyPromptPath when set.
// Returns "" when neither is configured; callers fall back to the built-in persona.
func (c *ChatConfig) Prompt() (string, error) {
	if c == nil {
		return "", nil
	}
	if c.PolicyPromptPath != "" {
		data, err := os.ReadFile(c.PolicyPromptPath)
		if err != nil {
			return "", fmt.Errorf("reading policy prompt %s: %w", c.PolicyPromptPath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return c.PolicyPrompt, nil
}

// RateLimitConfig configures per-identity rate limiting for chat requests.
type RateLimitConfig struct {
	MaxRequests   int `json:"max_requests" yaml:"max_requests"`     // Default: 20. 0 or negative in an explicit section = unlimited.
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds"` // Default: 60.
}

// Requests returns the per-window quota with a default of 20.
func (r *RateLimitConfig) Requests() int {
	if r != nil {
		return r.MaxRequests
	}
	return 20
}

// Window returns the window length with a default of 60s.
func (r *RateLimitConfig) Window() time.Duration {
	if r != nil && r.WindowSeconds > 0 {
		return time.Duration(r.WindowSeconds) * time.Second
	}
	return 60 * time.Second
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured. If the entire section
// is absent, the HTTP gateway is enabled on its default address.
type GatewaysConfig struct {
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	ListenAddr          string `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool   `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64  `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 65536.
	APIKey              string `json:"api_key,omitempty" yaml:"api_key,omitempty"`           // Override: DUKA_API_KEY env var. Empty = no auth.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body cap with a default of 64 KiB.
func (h *HTTPGatewayConfig) MaxRequestSize() int64 {
	if h != nil && h.MaxRequestSizeBytes > 0 {
		return h.MaxRequestSizeBytes
	}
	return 65536
}

// WebSocketGatewayConfig configures the WebSocket chat endpoint, mounted on
// the HTTP gateway's server.
type WebSocketGatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/v1/ws".
}

// WSPath returns the WebSocket path with a default of "/v1/ws".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/v1/ws"
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
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
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "duka"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// MaintenanceConfig configures the background maintenance scheduler.
// When nil, no maintenance jobs run.
type MaintenanceConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Schedule       string `json:"schedule" yaml:"schedule"`                 // Cron expression. Default: "@hourly".
	IdleAfterHours int    `json:"idle_after_hours" yaml:"idle_after_hours"` // Deactivate conversations idle longer than this. Default: 24.
}

// CronSchedule returns the cron expression with a default of "@hourly".
func (m *MaintenanceConfig) CronSchedule() string {
	if m != nil && m.Schedule != "" {
		return m.Schedule
	}
	return "@hourly"
}

// IdleAfter returns the idle cutoff with a default of 24h.
func (m *MaintenanceConfig) IdleAfter() time.Duration {
	if m != nil && m.IdleAfterHours > 0 {
		return time.Duration(m.IdleAfterHours) * time.Hour
	}
	return 24 * time.Hour
}

// ProvidersConfig selects the primary model endpoint and optional fallbacks.
type ProvidersConfig struct {
	OpenAI   OpenAIConfig   `json:"openai" yaml:"openai"`
	Fallback []OpenAIConfig `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Tried in order when the primary fails.
}

// OpenAIConfig configures one OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"` // Display name for logs and metrics. Default: "openai".
	APIKey  string `json:"api_key" yaml:"api_key"`               // Override (primary only): OPENAI_API_KEY env var.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

// DefaultConfigPath returns the default config file path (~/.duka/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/duka.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".duka", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Provider API keys and gateway secrets can be set in the config file or overridden
// by environment variables. Environment variables take precedence.
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

	// Environment variable overrides — env vars take precedence over config values.
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		cfg.Providers.OpenAI.APIKey = envKey
	}
	if envDD := os.Getenv("DUKA_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envDSN := os.Getenv("DUKA_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
	if envKey := os.Getenv("DUKA_API_KEY"); envKey != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.APIKey = envKey
	}

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".duka", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
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
		return filepath.Join(home, ".duka", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "duka.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Providers.OpenAI.Model == "" {
		return fmt.Errorf("providers.openai.model is required")
	}
	if c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
	}
	for i, fb := range c.Providers.Fallback {
		if fb.Model == "" {
			return fmt.Errorf("providers.fallback[%d].model is required", i)
		}
		if fb.APIKey == "" {
			return fmt.Errorf("providers.fallback[%d].api_key is required", i)
		}
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required (set DUKA_DB_DSN env var)")
		}
	}
	if c.Chat != nil && c.Chat.PolicyPrompt != "" && c.Chat.PolicyPromptPath != "" {
		return fmt.Errorf("chat.policy_prompt and chat.policy_prompt_path are mutually exclusive")
	}
	if tr := c.tracing(); tr != nil && tr.Enabled {
		if tr.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch tr.Protocol {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", tr.Protocol)
		}
	}
	return nil
}

func (c *Config) tracing() *TracingConfig {
	if c.Observability == nil {
		return nil
	}
	return c.Observability.Tracing
}
