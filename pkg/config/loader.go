package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/verlauf/pkg/debug"
)

// EnvConfig names the config file when no explicit path is given.
const EnvConfig = "VERLAUF_CONFIG"

// searchPath is tried in order when neither an explicit path nor
// VERLAUF_CONFIG names a file.
var searchPath = []string{"config.yaml", "/etc/verlauf/config.yaml"}

// Load builds the configuration: defaults, then the YAML file, then
// environment variables, then _file secret references. The result is
// validated before it is returned.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := findConfigFile(configPath); path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		debug.Log("config", "loaded config file", "path", path)
	}

	stages := []struct {
		name string
		fn   func(*Config) error
	}{
		{"environment", applyEnv},
		{"secret files", resolveSecretFiles},
		{"validation", (*Config).Validate},
	}
	for _, st := range stages {
		if err := st.fn(&cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", st.name, err)
		}
	}
	return &cfg, nil
}

// findConfigFile returns configPath, else $VERLAUF_CONFIG, else the first
// existing file on the search path, else "".
func findConfigFile(configPath string) string {
	for _, p := range []string{configPath, os.Getenv(EnvConfig)} {
		if p != "" {
			return p
		}
	}
	for _, p := range searchPath {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// decodeFile overlays the YAML document at path on cfg. Keys that match
// no field are rejected so typos do not silently fall back to defaults.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays environment variables. The OpenAI client variables
// come first so the VERLAUF_* ones win over them.
func applyEnv(cfg *Config) error {
	strs := []struct {
		env string
		set func(string)
	}{
		{"OPENAI_API_KEY", func(v string) { cfg.Provider.APIKey = v }},
		{"OPENAI_BASE_URL", func(v string) { cfg.Provider.BaseURL = v }},
		{"OPENAI_MODEL", func(v string) { cfg.Provider.Model = modelName(v) }},
		{"DRY_RUN", func(v string) {
			if isTrue(v) {
				cfg.Provider.Type = ProviderDryRun
			}
		}},
		{"VERLAUF_PROVIDER", func(v string) { cfg.Provider.Type = v }},
		{"VERLAUF_MODEL", func(v string) { cfg.Provider.Model = modelName(v) }},
		{"VERLAUF_AGENT_NAME", func(v string) { cfg.Engine.AgentName = v }},
		{"VERLAUF_INSTRUCTIONS", func(v string) { cfg.Engine.Instructions = v }},
		{"VERLAUF_STORAGE", func(v string) { cfg.Storage.Type = v }},
		{"VERLAUF_SQLITE_PATH", func(v string) { cfg.Storage.SQLite.Path = v }},
		{"VERLAUF_POSTGRES_DSN", func(v string) { cfg.Storage.Postgres.DSN = v }},
		{"VERLAUF_TOOLS", func(v string) { cfg.Tools.Builtin = splitList(v) }},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			s.set(v)
		}
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"VERLAUF_PORT", &cfg.Server.Port},
		{"VERLAUF_MAX_TOOL_ROUND_TRIPS", &cfg.Engine.MaxToolRoundTrips},
		{"VERLAUF_MAX_SESSIONS", &cfg.Storage.MaxSessions},
	}
	for _, e := range ints {
		v := os.Getenv(e.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.env, err)
		}
		*e.dst = n
	}

	// A JSON array, since MCP servers do not fit a flat variable.
	if v := os.Getenv("VERLAUF_MCP_SERVERS"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.MCP.Servers); err != nil {
			return fmt.Errorf("VERLAUF_MCP_SERVERS: %w", err)
		}
	}
	return nil
}

// modelName strips the provider prefix some tools put on model names
// ("openai:gpt-5-mini").
func modelName(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "openai:")
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for s := range strings.SplitSeq(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveSecretFiles fills each secret from its _file companion when the
// secret itself is empty. File content is trimmed.
func resolveSecretFiles(cfg *Config) error {
	refs := []struct {
		key  string
		file string
		dst  *string
	}{
		{"provider.api_key_file", cfg.Provider.APIKeyFile, &cfg.Provider.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}
	for _, r := range refs {
		if r.file == "" || *r.dst != "" {
			continue
		}
		data, err := os.ReadFile(r.file)
		if err != nil {
			return fmt.Errorf("%s: %w", r.key, err)
		}
		*r.dst = strings.TrimSpace(string(data))
	}
	return nil
}
