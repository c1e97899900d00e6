// Package config provides unified configuration for verlauf.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (VERLAUF_ prefix, plus the OpenAI
//     client variables OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL and
//     the DRY_RUN switch)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"time"

	"github.com/rhuss/verlauf/pkg/tools/mcp"
)

// Provider types.
const (
	ProviderOpenAI = "openai"
	ProviderDryRun = "dryrun"
)

// Storage types.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds all configuration for verlauf.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Provider      ProviderConfig      `yaml:"provider"`
	Storage       StorageConfig       `yaml:"storage"`
	Tools         ToolsConfig         `yaml:"tools"`
	MCP           MCPConfig           `yaml:"mcp"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 300s, turns stream
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 15s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MiB
}

// EngineConfig holds turn coordinator settings.
type EngineConfig struct {
	AgentName         string   `yaml:"agent_name"`           // default: "Assistant"
	Instructions      string   `yaml:"instructions"`         // system prompt
	Temperature       *float64 `yaml:"temperature"`          // optional
	MaxToolRoundTrips int      `yaml:"max_tool_round_trips"` // default: 8
	ParallelToolCalls bool     `yaml:"parallel_tool_calls"`
}

// ProviderConfig selects and configures the model backend.
type ProviderConfig struct {
	Type       string        `yaml:"type"`     // "openai" or "dryrun", default: "openai"
	BaseURL    string        `yaml:"base_url"` // default: https://api.openai.com/v1
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	Model      string        `yaml:"model"`        // default: gpt-5-mini
	Timeout    time.Duration `yaml:"timeout"`      // default: 120s
	SkipProbe  bool          `yaml:"skip_probe"`

	// DryRunDelay paces the dry-run model's word stream.
	DryRunDelay time.Duration `yaml:"dry_run_delay"`
}

// StorageConfig holds session store settings.
type StorageConfig struct {
	Type        string         `yaml:"type"`         // "memory", "sqlite" or "postgres", default: "memory"
	MaxSessions int            `yaml:"max_sessions"` // memory store only, 0 = unlimited (default)
	SQLite      SQLiteConfig   `yaml:"sqlite"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds the embedded store settings.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default: conversations.db
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// ToolsConfig selects the in-process tools.
type ToolsConfig struct {
	Builtin []string      `yaml:"builtin"` // default: ["add"]
	Timeout time.Duration `yaml:"timeout"` // per call, default: 30s
}

// MCPConfig holds MCP (Model Context Protocol) server settings.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// LoggingConfig selects the log handler and debug categories.
// VERLAUF_LOG_LEVEL and VERLAUF_DEBUG override it at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated categories
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    300 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodySize:     10 << 20,
		},
		Engine: EngineConfig{
			AgentName:         "Assistant",
			Instructions:      "You are a helpful assistant.",
			MaxToolRoundTrips: 8,
		},
		Provider: ProviderConfig{
			Type:    ProviderOpenAI,
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-5-mini",
			Timeout: 120 * time.Second,
		},
		Storage: StorageConfig{
			Type:        StorageMemory,
			MaxSessions: 0,
			SQLite: SQLiteConfig{
				Path: "conversations.db",
			},
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Tools: ToolsConfig{
			Builtin: []string{"add"},
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
