// Package postgres provides a PostgreSQL implementation of storage.SessionStore.
// It uses pgx/v5 for connection pooling and stores one row per item with a
// JSONB payload. Writers of one session are serialized by a row lock on the
// session; different sessions never contend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/storage"
)

// Store is a PostgreSQL-backed SessionStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.SessionStore at compile time.
var _ storage.SessionStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// sessionRow is the locked state of one session inside a transaction.
type sessionRow struct {
	tail       int64
	createdAt  time.Time
	lastActive time.Time
}

// locked runs fn in a transaction holding the session row lock. The row is
// created when missing; a closed session fails before fn runs.
func (s *Store) locked(ctx context.Context, sessionID string, fn func(tx pgx.Tx, row *sessionRow) error) error {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, created_at, last_active_at)
			VALUES ($1, $2, $2)
			ON CONFLICT (id) DO NOTHING`,
			sessionID, now,
		); err != nil {
			return fmt.Errorf("creating session: %w", err)
		}

		var row sessionRow
		var closedAt *time.Time
		if err := tx.QueryRow(ctx, `
			SELECT tail_sequence, created_at, last_active_at, closed_at
			FROM sessions WHERE id = $1 FOR UPDATE`,
			sessionID,
		).Scan(&row.tail, &row.createdAt, &row.lastActive, &closedAt); err != nil {
			return fmt.Errorf("locking session: %w", err)
		}
		if closedAt != nil {
			return api.NewSessionClosedError(sessionID)
		}

		return fn(tx, &row)
	})
}

// GetOrCreate returns the session, creating it on first reference.
func (s *Store) GetOrCreate(ctx context.Context, sessionID string) (*api.Session, error) {
	var sess *api.Session
	err := s.locked(ctx, sessionID, func(tx pgx.Tx, row *sessionRow) error {
		items, err := queryItems(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		sess = &api.Session{
			ID:           sessionID,
			Log:          items,
			CreatedAt:    row.createdAt.UTC(),
			LastActiveAt: row.lastActive.UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, storage.Fail("get_or_create", err)
	}
	return sess, nil
}

// Append atomically extends the session log in one transaction.
func (s *Store) Append(ctx context.Context, sessionID string, items []api.Item) ([]api.Item, error) {
	var stored []api.Item
	err := s.locked(ctx, sessionID, func(tx pgx.Tx, row *sessionRow) error {
		stored = storage.Sequence(items, row.tail)

		batch := &pgx.Batch{}
		for _, item := range stored {
			payload, err := item.Payload()
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO items (session_id, sequence, id, kind, payload, created_at)
				VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
				sessionID, item.Sequence, item.ID, string(item.Kind), string(payload), item.CreatedAt,
			)
		}
		batch.Queue(`
			UPDATE sessions SET tail_sequence = $2, last_active_at = $3 WHERE id = $1`,
			sessionID, row.tail+int64(len(stored)), time.Now().UTC(),
		)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, storage.Fail("append", err)
	}
	return api.CloneItems(stored), nil
}

// Snapshot returns the session log ordered by sequence.
func (s *Store) Snapshot(ctx context.Context, sessionID string) ([]api.Item, error) {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	var closedAt *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT closed_at FROM sessions WHERE id = $1", sessionID,
	).Scan(&closedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return []api.Item{}, nil
	}
	if err != nil {
		return nil, storage.Fail("snapshot", err)
	}
	if closedAt != nil {
		return nil, api.NewSessionClosedError(sessionID)
	}

	items, err := queryItems(ctx, s.pool, sessionID)
	if err != nil {
		return nil, storage.Fail("snapshot", err)
	}
	return items, nil
}

// Clear deletes every item of the session and resets its sequence.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	err := s.locked(ctx, sessionID, func(tx pgx.Tx, _ *sessionRow) error {
		if _, err := tx.Exec(ctx, "DELETE FROM items WHERE session_id = $1", sessionID); err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		_, err := tx.Exec(ctx,
			"UPDATE sessions SET tail_sequence = 0, last_active_at = $2 WHERE id = $1",
			sessionID, time.Now().UTC())
		return err
	})
	return storage.Fail("clear", err)
}

// CloseSession deletes the session's items and marks the id closed.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	err := s.locked(ctx, sessionID, func(tx pgx.Tx, _ *sessionRow) error {
		if _, err := tx.Exec(ctx, "DELETE FROM items WHERE session_id = $1", sessionID); err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		_, err := tx.Exec(ctx,
			"UPDATE sessions SET tail_sequence = 0, closed_at = $2 WHERE id = $1",
			sessionID, time.Now().UTC())
		return err
	})
	return storage.Fail("close", err)
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, sessionID string) ([]api.Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, sequence, kind, payload, created_at
		FROM items WHERE session_id = $1
		ORDER BY sequence ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	items := []api.Item{}
	for rows.Next() {
		var (
			item    api.Item
			kind    string
			payload []byte
		)
		if err := rows.Scan(&item.ID, &item.Sequence, &kind, &payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		item.Kind = api.ItemKind(kind)
		item.CreatedAt = item.CreatedAt.UTC()
		if err := item.SetPayload(payload); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}
