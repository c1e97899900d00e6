package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/verlauf/pkg/tools/mcp"
)

// isolateEnv clears every variable Load reads and moves into an empty
// directory so no config.yaml is discovered.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"VERLAUF_CONFIG", "VERLAUF_PROVIDER", "VERLAUF_MODEL", "VERLAUF_AGENT_NAME",
		"VERLAUF_INSTRUCTIONS", "VERLAUF_STORAGE", "VERLAUF_SQLITE_PATH", "VERLAUF_POSTGRES_DSN",
		"VERLAUF_TOOLS", "VERLAUF_PORT", "VERLAUF_MAX_TOOL_ROUND_TRIPS", "VERLAUF_MAX_SESSIONS",
		"VERLAUF_MCP_SERVERS", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "DRY_RUN",
	} {
		t.Setenv(name, "")
	}
	t.Chdir(t.TempDir())
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("default server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 300*time.Second {
		t.Errorf("default server.write_timeout = %v, want 300s", cfg.Server.WriteTimeout)
	}
	if cfg.Provider.Type != ProviderOpenAI || cfg.Provider.Model != "gpt-5-mini" {
		t.Errorf("default provider = %q/%q", cfg.Provider.Type, cfg.Provider.Model)
	}
	if cfg.Engine.MaxToolRoundTrips != 8 {
		t.Errorf("default engine.max_tool_round_trips = %d, want 8", cfg.Engine.MaxToolRoundTrips)
	}
	if cfg.Storage.Type != StorageMemory || cfg.Storage.MaxSessions != 0 {
		t.Errorf("default storage = %q/%d", cfg.Storage.Type, cfg.Storage.MaxSessions)
	}
	if len(cfg.Tools.Builtin) != 1 || cfg.Tools.Builtin[0] != "add" {
		t.Errorf("default tools.builtin = %v", cfg.Tools.Builtin)
	}
	if !cfg.Observability.Metrics.Enabled || cfg.Observability.Metrics.Path != "/metrics" {
		t.Errorf("default metrics = %+v", cfg.Observability.Metrics)
	}
}

func TestLoadFromYAML(t *testing.T) {
	isolateEnv(t)

	path := writeTemp(t, "config.yaml", `
server:
  port: 9090
  read_timeout: 60s
engine:
  agent_name: Concierge
  instructions: Answer in one sentence.
  temperature: 0.2
  max_tool_round_trips: 3
  parallel_tool_calls: true
provider:
  type: openai
  base_url: http://localhost:4000/v1
  api_key: sk-test-key
  model: gpt-4.1
  timeout: 45s
storage:
  type: sqlite
  sqlite:
    path: /tmp/sessions.db
tools:
  builtin: [add]
  timeout: 5s
mcp:
  servers:
    - name: docs
      transport: streamable-http
      url: http://localhost:3000/mcp
      headers:
        Authorization: "Bearer tok-123"
logging:
  level: DEBUG
  format: json
  debug: engine,tools
observability:
  metrics:
    enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	// Unset fields keep their defaults.
	if cfg.Server.WriteTimeout != 300*time.Second {
		t.Errorf("server.write_timeout = %v, want default", cfg.Server.WriteTimeout)
	}
	if cfg.Engine.AgentName != "Concierge" || cfg.Engine.MaxToolRoundTrips != 3 || !cfg.Engine.ParallelToolCalls {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.Temperature == nil || *cfg.Engine.Temperature != 0.2 {
		t.Errorf("engine.temperature = %v", cfg.Engine.Temperature)
	}
	if cfg.Provider.BaseURL != "http://localhost:4000/v1" || cfg.Provider.Model != "gpt-4.1" || cfg.Provider.Timeout != 45*time.Second {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Storage.Type != StorageSQLite || cfg.Storage.SQLite.Path != "/tmp/sessions.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Tools.Timeout != 5*time.Second {
		t.Errorf("tools.timeout = %v", cfg.Tools.Timeout)
	}
	if len(cfg.MCP.Servers) != 1 {
		t.Fatalf("mcp.servers = %d, want 1", len(cfg.MCP.Servers))
	}
	srv := cfg.MCP.Servers[0]
	if srv.Name != "docs" || srv.URL != "http://localhost:3000/mcp" || srv.Headers["Authorization"] != "Bearer tok-123" {
		t.Errorf("mcp server = %+v", srv)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Debug != "engine,tools" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Observability.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
}

func TestEnvOverride(t *testing.T) {
	isolateEnv(t)

	path := writeTemp(t, "config.yaml", `
provider:
  api_key: sk-from-file
  model: gpt-4.1
`)
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("OPENAI_MODEL", "openai:gpt-5-nano")
	t.Setenv("OPENAI_BASE_URL", "http://proxy:8000/v1")
	t.Setenv("VERLAUF_PORT", "7070")
	t.Setenv("VERLAUF_STORAGE", "postgres")
	t.Setenv("VERLAUF_POSTGRES_DSN", "postgres://u:p@db/verlauf")
	t.Setenv("VERLAUF_MAX_TOOL_ROUND_TRIPS", "2")
	t.Setenv("VERLAUF_TOOLS", " add , ")
	t.Setenv("VERLAUF_MCP_SERVERS", `[{"name":"fs","transport":"command","command":["mcp-fs","--root","/data"]}]`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, env should win", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "gpt-5-nano" {
		t.Errorf("model = %q, want prefix stripped", cfg.Provider.Model)
	}
	if cfg.Provider.BaseURL != "http://proxy:8000/v1" {
		t.Errorf("base url = %q", cfg.Provider.BaseURL)
	}
	if cfg.Server.Port != 7070 || cfg.Engine.MaxToolRoundTrips != 2 {
		t.Errorf("port = %d, round trips = %d", cfg.Server.Port, cfg.Engine.MaxToolRoundTrips)
	}
	if cfg.Storage.Type != StoragePostgres || cfg.Storage.Postgres.DSN != "postgres://u:p@db/verlauf" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Tools.Builtin) != 1 || cfg.Tools.Builtin[0] != "add" {
		t.Errorf("tools = %v", cfg.Tools.Builtin)
	}
	if len(cfg.MCP.Servers) != 1 || len(cfg.MCP.Servers[0].Command) != 3 {
		t.Errorf("mcp servers = %+v", cfg.MCP.Servers)
	}
}

func TestDryRunNeedsNoKey(t *testing.T) {
	isolateEnv(t)

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "provider.api_key") {
		t.Fatalf("Load without key: err = %v, want missing api key", err)
	}

	t.Setenv("DRY_RUN", "1")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with DRY_RUN failed: %v", err)
	}
	if cfg.Provider.Type != ProviderDryRun {
		t.Errorf("provider.type = %q, want dryrun", cfg.Provider.Type)
	}
}

func TestInvalidEnvNumber(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("VERLAUF_PORT", "eighty")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "VERLAUF_PORT") {
		t.Errorf("err = %v, want VERLAUF_PORT parse error", err)
	}
}

func TestFileReference(t *testing.T) {
	isolateEnv(t)

	keyFile := writeTemp(t, "api-key", "  sk-secret-from-file\n")
	dsnFile := writeTemp(t, "dsn", "postgres://secret@db/verlauf\n")
	path := writeTemp(t, "config.yaml", `
provider:
  api_key_file: `+keyFile+`
storage:
  type: postgres
  postgres:
    dsn_file: `+dsnFile+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider.APIKey != "sk-secret-from-file" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
	if cfg.Storage.Postgres.DSN != "postgres://secret@db/verlauf" {
		t.Errorf("dsn = %q", cfg.Storage.Postgres.DSN)
	}
}

func TestFileReferenceDoesNotOverrideExplicitValue(t *testing.T) {
	isolateEnv(t)

	keyFile := writeTemp(t, "api-key", "sk-from-file")
	path := writeTemp(t, "config.yaml", `
provider:
  api_key: sk-explicit
  api_key_file: `+keyFile+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider.APIKey != "sk-explicit" {
		t.Errorf("api key = %q, want explicit value", cfg.Provider.APIKey)
	}
}

func TestMissingSecretFile(t *testing.T) {
	isolateEnv(t)
	path := writeTemp(t, "config.yaml", "provider:\n  api_key_file: /nonexistent/key\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "provider.api_key_file") {
		t.Errorf("err = %v", err)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DRY_RUN", "1")
	path := writeTemp(t, "config.yaml", "engine:\n  max_tool_roundtrips: 3\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "max_tool_roundtrips") {
		t.Errorf("err = %v, want unknown field error", err)
	}
}

func TestEmptyConfigFile(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DRY_RUN", "1")
	path := writeTemp(t, "config.yaml", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}

func TestFileDiscovery(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DRY_RUN", "1")

	// ./config.yaml in the working directory.
	if err := os.WriteFile("config.yaml", []byte("server:\n  port: 6060\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("port = %d, want 6060 from ./config.yaml", cfg.Server.Port)
	}

	// VERLAUF_CONFIG wins over the working directory.
	envFile := writeTemp(t, "env.yaml", "server:\n  port: 5050\n")
	t.Setenv("VERLAUF_CONFIG", envFile)
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 5050 {
		t.Errorf("port = %d, want 5050 from VERLAUF_CONFIG", cfg.Server.Port)
	}

	// An explicit path wins over both.
	explicit := writeTemp(t, "explicit.yaml", "server:\n  port: 4040\n")
	cfg, err = Load(explicit)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 4040 {
		t.Errorf("port = %d, want 4040 from explicit path", cfg.Server.Port)
	}
}

func TestValidation(t *testing.T) {
	temp := 3.5

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid dry run", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative budget", func(c *Config) { c.Engine.MaxToolRoundTrips = -1 }, "engine.max_tool_round_trips"},
		{"temperature out of range", func(c *Config) { c.Engine.Temperature = &temp }, "engine.temperature"},
		{"unknown provider", func(c *Config) { c.Provider.Type = "vllm" }, "provider.type"},
		{"openai without key", func(c *Config) { c.Provider.Type = ProviderOpenAI }, "provider.api_key"},
		{"openai with key", func(c *Config) { c.Provider.Type = ProviderOpenAI; c.Provider.APIKey = "sk" }, ""},
		{"empty model", func(c *Config) { c.Provider.Model = "" }, "provider.model"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "redis" }, "storage.type"},
		{"sqlite without path", func(c *Config) { c.Storage.Type = StorageSQLite; c.Storage.SQLite.Path = "" }, "storage.sqlite.path"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = StoragePostgres }, "storage.postgres.dsn"},
		{"unknown builtin", func(c *Config) { c.Tools.Builtin = []string{"rm_rf"} }, "unknown tool \"rm_rf\""},
		{"mcp server without name", func(c *Config) {
			c.MCP.Servers = []mcp.ServerConfig{{URL: "http://localhost:3000/mcp"}}
		}, "mcp.servers[0]: name is required"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Provider.Type = ProviderDryRun
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidationReportsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Storage.Type = "redis"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.port", "storage.type", "provider.api_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
