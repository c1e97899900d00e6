package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rhuss/verlauf/pkg/config"
	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/engine"
	"github.com/rhuss/verlauf/pkg/provider"
	"github.com/rhuss/verlauf/pkg/provider/dryrun"
	"github.com/rhuss/verlauf/pkg/provider/responses"
	"github.com/rhuss/verlauf/pkg/storage"
	"github.com/rhuss/verlauf/pkg/storage/memory"
	"github.com/rhuss/verlauf/pkg/storage/postgres"
	"github.com/rhuss/verlauf/pkg/storage/sqlite"
	"github.com/rhuss/verlauf/pkg/tools"
	"github.com/rhuss/verlauf/pkg/tools/mcp"
)

// app holds the wired components of one command invocation.
type app struct {
	cfg      *config.Config
	engine   *engine.Engine
	provider provider.Provider
	store    storage.SessionStore
	servers  *mcp.Servers
}

// setup loads configuration, installs logging and wires the engine.
func setup(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	debug.Init(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     logOut,
	})

	a := &app{cfg: cfg}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	var err error
	if a.provider, err = newProvider(a.cfg.Provider); err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	if a.store, err = newStore(ctx, a.cfg.Storage); err != nil {
		return fmt.Errorf("creating store: %w", err)
	}

	reg := tools.NewRegistry()
	for _, name := range a.cfg.Tools.Builtin {
		b, _ := tools.Builtin(name)
		reg.Register(b)
	}
	a.servers = mcp.Connect(ctx, a.cfg.MCP.Servers)
	a.servers.Register(ctx, reg)

	a.engine, err = engine.New(a.provider, a.store, tools.NewResolver(reg, a.cfg.Tools.Timeout), engine.Config{
		Model:             a.cfg.Provider.Model,
		Instructions:      a.cfg.Engine.Instructions,
		Temperature:       a.cfg.Engine.Temperature,
		AgentName:         a.cfg.Engine.AgentName,
		MaxToolRoundTrips: a.cfg.Engine.MaxToolRoundTrips,
		ParallelToolCalls: a.cfg.Engine.ParallelToolCalls,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	slog.Info("engine ready",
		"provider", a.provider.Name(),
		"model", a.cfg.Provider.Model,
		"storage", a.cfg.Storage.Type,
		"tools", reg.Len(),
	)
	return nil
}

// Close releases the provider, store and MCP sessions.
func (a *app) Close() error {
	var errs []error
	if a.servers != nil {
		errs = append(errs, a.servers.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.provider != nil {
		errs = append(errs, a.provider.Close())
	}
	return errors.Join(errs...)
}

func newProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Type {
	case config.ProviderDryRun:
		return dryrun.New(dryrun.Config{Delay: cfg.DryRunDelay}), nil
	default:
		return responses.New(responses.Config{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.Timeout,
			SkipProbe: cfg.SkipProbe,
		})
	}
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.SessionStore, error) {
	var store storage.SessionStore
	switch cfg.Type {
	case config.StorageSQLite:
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		store = s
	case config.StoragePostgres:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = memory.New(cfg.MaxSessions)
	}
	return storage.Instrument(store, cfg.Type), nil
}
