package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rhuss/verlauf/pkg/tools"
)

// Servers is a set of connected MCP clients.
type Servers struct {
	clients []*Client
}

// NewServers wraps already connected clients.
func NewServers(clients ...*Client) *Servers {
	return &Servers{clients: clients}
}

// Connect connects to every configured server. A server that cannot be
// reached is logged and skipped so one bad entry does not block startup.
func Connect(ctx context.Context, cfgs []ServerConfig) *Servers {
	s := &Servers{}
	for _, cfg := range cfgs {
		c := NewClient(cfg)
		if err := c.Connect(ctx); err != nil {
			slog.Error("failed to connect MCP server", "server", cfg.Name, "error", err)
			continue
		}
		slog.Info("connected MCP server", "server", cfg.Name, "transport", cfg.transport())
		s.clients = append(s.clients, c)
	}
	return s
}

// Register discovers the tools of every server and adds them to reg. Tool
// names already taken (by builtins or an earlier server) keep their first
// binding. It returns the number of tools added.
func (s *Servers) Register(ctx context.Context, reg *tools.Registry) int {
	added := 0
	for _, c := range s.clients {
		bindings, err := c.Bindings(ctx)
		if err != nil {
			slog.Error("failed to discover tools from MCP server", "server", c.Name(), "error", err)
			continue
		}
		n := 0
		for _, b := range bindings {
			if reg.Register(b) {
				n++
			}
		}
		slog.Info("discovered MCP tools", "server", c.Name(), "count", len(bindings), "registered", n)
		added += n
	}
	return added
}

// Len returns the number of connected servers.
func (s *Servers) Len() int {
	return len(s.clients)
}

// Close closes all client connections.
func (s *Servers) Close() error {
	var errs []error
	for _, c := range s.clients {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close MCP client", "server", c.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
