package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rhuss/verlauf/pkg/transport"
)

// Server runs the session API on an http.Server.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	config     ServerConfig
}

// ServerConfig holds the listener and lifecycle settings of a Server.
type ServerConfig struct {
	Addr        string
	MaxBodySize int64
	MetricsPath string

	ReadTimeout time.Duration
	// WriteTimeout bounds a whole response, so a streamed turn must finish
	// within it.
	WriteTimeout time.Duration
	// ShutdownTimeout is how long running turns may take to finish once
	// shutdown starts. Turns still running afterwards are cancelled and
	// append nothing.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// DefaultServerConfig returns the configuration NewServer starts from.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		MaxBodySize:     DefaultConfig().MaxBodySize,
		MetricsPath:     DefaultConfig().MetricsPath,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// ServerOption configures a Server.
type ServerOption func(*ServerConfig)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(c *ServerConfig) { c.Addr = addr }
}

// WithMaxBodySize limits request bodies to n bytes.
func WithMaxBodySize(n int64) ServerOption {
	return func(c *ServerConfig) { c.MaxBodySize = n }
}

// WithMetricsPath sets where the Prometheus registry is served. An empty
// path disables it.
func WithMetricsPath(path string) ServerOption {
	return func(c *ServerConfig) { c.MetricsPath = path }
}

// WithTimeouts sets the read and write timeouts.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
	}
}

// WithShutdownTimeout sets how long running turns may drain on shutdown.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ShutdownTimeout = d }
}

// WithLogger sets the logger for server and per-turn logs.
func WithLogger(l *slog.Logger) ServerOption {
	return func(c *ServerConfig) { c.Logger = l }
}

// NewServer builds a server for sessions. Turns pass through recovery,
// request ID and logging middleware, in that order.
func NewServer(sessions transport.Sessions, opts ...ServerOption) *Server {
	cfg := DefaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	adapter := NewAdapter(sessions,
		Config{MaxBodySize: cfg.MaxBodySize, MetricsPath: cfg.MetricsPath},
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(cfg.Logger),
	)

	return &Server{
		adapter: adapter,
		config:  cfg,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           adapter.Handler(),
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			ErrorLog:          slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelWarn),
		},
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ctx, ln)
}

// ServeOn serves on ln until ctx is done, then shuts down.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	log := s.config.Logger

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and waits for running turns until ctx
// is done. Turns still running then are cancelled and their connections
// closed.
func (s *Server) Shutdown(ctx context.Context) error {
	log := s.config.Logger
	log.Info("shutting down", slog.Duration("timeout", s.config.ShutdownTimeout))

	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		n := s.adapter.CancelTurns()
		log.Warn("shutdown deadline reached, cancelling running turns", slog.Int("turns", n))
		return s.httpServer.Close()
	}
	if err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
