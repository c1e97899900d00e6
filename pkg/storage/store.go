package storage

import (
	"context"

	"github.com/rhuss/verlauf/pkg/api"
)

// SessionStore persists per-session item logs.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type SessionStore interface {
	// GetOrCreate returns the session, creating it on first reference.
	// It fails only for a closed id or a storage failure.
	GetOrCreate(ctx context.Context, sessionID string) (*api.Session, error)

	// Append atomically extends the log with items, assigning sequence
	// numbers continuing from the tail. It returns the stored items.
	Append(ctx context.Context, sessionID string, items []api.Item) ([]api.Item, error)

	// Snapshot returns a copy of the full log as of the call. An unknown
	// session yields an empty log.
	Snapshot(ctx context.Context, sessionID string) ([]api.Item, error)

	// Clear empties the log and resets the sequence counter. The session
	// remains usable.
	Clear(ctx context.Context, sessionID string) error

	// CloseSession releases the session's log. Every later operation on
	// the id fails with api.ErrSessionClosed.
	CloseSession(ctx context.Context, sessionID string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
