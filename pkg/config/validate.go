package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rhuss/verlauf/pkg/tools"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Engine.MaxToolRoundTrips < 0 {
		errs = append(errs, fmt.Errorf("engine.max_tool_round_trips must be >= 0, got %d", c.Engine.MaxToolRoundTrips))
	}
	if t := c.Engine.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("engine.temperature must be between 0 and 2, got %g", *t))
	}

	switch c.Provider.Type {
	case ProviderOpenAI:
		if c.Provider.APIKey == "" && c.Provider.APIKeyFile == "" {
			errs = append(errs, fmt.Errorf("provider.api_key (or OPENAI_API_KEY) is required when provider.type is %q; set DRY_RUN=1 to run offline", ProviderOpenAI))
		}
		if c.Provider.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider.base_url is required"))
		}
	case ProviderDryRun:
		// needs nothing
	default:
		errs = append(errs, fmt.Errorf("provider.type must be %q or %q, got %q", ProviderOpenAI, ProviderDryRun, c.Provider.Type))
	}
	if c.Provider.Model == "" {
		errs = append(errs, fmt.Errorf("provider.model is required"))
	}

	switch c.Storage.Type {
	case StorageMemory:
		// valid
	case StorageSQLite:
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite.path is required when storage.type is %q", StorageSQLite))
		}
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is %q", StoragePostgres))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be %q, %q or %q, got %q",
			StorageMemory, StorageSQLite, StoragePostgres, c.Storage.Type))
	}

	for _, name := range c.Tools.Builtin {
		if _, ok := tools.Builtin(name); !ok {
			errs = append(errs, fmt.Errorf("tools.builtin: unknown tool %q (known: %s)",
				name, strings.Join(tools.BuiltinNames(), ", ")))
		}
	}

	for i, s := range c.MCP.Servers {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: %w", i, err))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
