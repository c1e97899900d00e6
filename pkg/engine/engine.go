package engine

import (
	"context"
	"fmt"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/provider"
	"github.com/rhuss/verlauf/pkg/storage"
	"github.com/rhuss/verlauf/pkg/tools"
)

// Engine runs turns against a session store, a model provider, and a tool
// resolver. It is safe for concurrent use; turns on different sessions run
// independently.
type Engine struct {
	provider provider.Provider
	store    storage.SessionStore
	resolver *tools.Resolver
	cfg      Config
}

// New creates an Engine. The provider and store must not be nil. A nil
// resolver means no tools are declared and every tool call the model makes
// resolves to an unknown-tool output.
func New(p provider.Provider, store storage.SessionStore, resolver *tools.Resolver, cfg Config) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("engine: provider must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: store must not be nil")
	}
	if resolver == nil {
		resolver = tools.NewResolver(tools.NewRegistry(), 0)
	}
	return &Engine{
		provider: p,
		store:    store,
		resolver: resolver,
		cfg:      cfg,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Session returns the session, creating it on first reference.
func (e *Engine) Session(ctx context.Context, sessionID string) (*api.Session, error) {
	return e.store.GetOrCreate(ctx, sessionID)
}

// History returns the session log.
func (e *Engine) History(ctx context.Context, sessionID string) ([]api.Item, error) {
	return e.store.Snapshot(ctx, sessionID)
}

// Clear empties the session log. The session stays usable.
func (e *Engine) Clear(ctx context.Context, sessionID string) error {
	return e.store.Clear(ctx, sessionID)
}

// CloseSession ends the session; later turns on it fail with
// api.ErrSessionClosed.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	return e.store.CloseSession(ctx, sessionID)
}

// HealthCheck reports whether the session store is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.store.HealthCheck(ctx)
}
