package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/observability"
)

// instrumented records operation counts and latency for a wrapped store.
type instrumented struct {
	next    SessionStore
	backend string
}

// Instrument wraps store so every operation is counted in
// verlauf_store_operations_total and timed in verlauf_store_latency_seconds
// under the given backend label.
func Instrument(store SessionStore, backend string) SessionStore {
	return &instrumented{next: store, backend: backend}
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, api.ErrSessionClosed):
		status = "closed"
	case errors.Is(err, api.ErrInvalidInput):
		status = "invalid"
	case err != nil:
		status = "error"
	}
	observability.StoreOperationsTotal.WithLabelValues(s.backend, op, status).Inc()
	observability.StoreLatency.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
}

func (s *instrumented) GetOrCreate(ctx context.Context, sessionID string) (*api.Session, error) {
	start := time.Now()
	sess, err := s.next.GetOrCreate(ctx, sessionID)
	s.observe("get_or_create", start, err)
	return sess, err
}

func (s *instrumented) Append(ctx context.Context, sessionID string, items []api.Item) ([]api.Item, error) {
	start := time.Now()
	stored, err := s.next.Append(ctx, sessionID, items)
	s.observe("append", start, err)
	return stored, err
}

func (s *instrumented) Snapshot(ctx context.Context, sessionID string) ([]api.Item, error) {
	start := time.Now()
	items, err := s.next.Snapshot(ctx, sessionID)
	s.observe("snapshot", start, err)
	return items, err
}

func (s *instrumented) Clear(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := s.next.Clear(ctx, sessionID)
	s.observe("clear", start, err)
	return err
}

func (s *instrumented) CloseSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := s.next.CloseSession(ctx, sessionID)
	s.observe("close", start, err)
	return err
}

func (s *instrumented) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}

func (s *instrumented) Close() error {
	return s.next.Close()
}
