// Package sqlite provides an embedded, file-backed storage.SessionStore
// built on mattn/go-sqlite3. Many session ids share one database file;
// SQLite admits a single writer, so writes are serialized store-wide while
// reads run concurrently under WAL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/storage"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		tail_sequence  INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL,
		closed_at      INTEGER
	);

	CREATE TABLE IF NOT EXISTS items (
		session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
		sequence   INTEGER NOT NULL,
		id         TEXT NOT NULL,
		kind       TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, sequence)
	);
`

// Store is a SQLite-backed SessionStore.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers
}

// Ensure Store implements storage.SessionStore at compile time.
var _ storage.SessionStore = (*Store)(nil)

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	slog.Debug("sqlite session store opened", "path", path)
	return &Store{db: db}, nil
}

type sessionRow struct {
	tail       int64
	createdAt  time.Time
	lastActive time.Time
}

// write runs fn in a transaction under the writer lock. The session row is
// created when missing; a closed session fails before fn runs.
func (s *Store) write(ctx context.Context, sessionID string, fn func(tx *sql.Tx, row *sessionRow) error) error {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixMicro()
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (id, created_at, last_active_at) VALUES (?, ?, ?)",
		sessionID, now, now,
	); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	var (
		row                   sessionRow
		createdAt, lastActive int64
		closedAt              sql.NullInt64
	)
	if err := tx.QueryRowContext(ctx,
		"SELECT tail_sequence, created_at, last_active_at, closed_at FROM sessions WHERE id = ?",
		sessionID,
	).Scan(&row.tail, &createdAt, &lastActive, &closedAt); err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	if closedAt.Valid {
		return api.NewSessionClosedError(sessionID)
	}
	row.createdAt = time.UnixMicro(createdAt).UTC()
	row.lastActive = time.UnixMicro(lastActive).UTC()

	if err := fn(tx, &row); err != nil {
		return err
	}
	return tx.Commit()
}

// GetOrCreate returns the session, creating it on first reference.
func (s *Store) GetOrCreate(ctx context.Context, sessionID string) (*api.Session, error) {
	var sess *api.Session
	err := s.write(ctx, sessionID, func(tx *sql.Tx, row *sessionRow) error {
		items, err := queryItems(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		sess = &api.Session{
			ID:           sessionID,
			Log:          items,
			CreatedAt:    row.createdAt,
			LastActiveAt: row.lastActive,
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
	err := s.write(ctx, sessionID, func(tx *sql.Tx, row *sessionRow) error {
		stored = storage.Sequence(items, row.tail)

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO items (session_id, sequence, id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for _, item := range stored {
			payload, err := item.Payload()
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				sessionID, item.Sequence, item.ID, string(item.Kind), string(payload), item.CreatedAt.UnixMicro(),
			); err != nil {
				return fmt.Errorf("inserting item %d: %w", item.Sequence, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE sessions SET tail_sequence = ?, last_active_at = ? WHERE id = ?",
			row.tail+int64(len(stored)), time.Now().UTC().UnixMicro(), sessionID)
		return err
	})
	if err != nil {
		return nil, storage.Fail("append", err)
	}
	return api.CloneItems(stored), nil
}

// Snapshot returns the session log ordered by sequence. Both reads run in
// one transaction so a concurrent append is seen entirely or not at all.
func (s *Store) Snapshot(ctx context.Context, sessionID string) ([]api.Item, error) {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Fail("snapshot", err)
	}
	defer tx.Rollback()

	var closedAt sql.NullInt64
	err = tx.QueryRowContext(ctx, "SELECT closed_at FROM sessions WHERE id = ?", sessionID).Scan(&closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return []api.Item{}, nil
	}
	if err != nil {
		return nil, storage.Fail("snapshot", err)
	}
	if closedAt.Valid {
		return nil, api.NewSessionClosedError(sessionID)
	}

	items, err := queryItems(ctx, tx, sessionID)
	if err != nil {
		return nil, storage.Fail("snapshot", err)
	}
	return items, nil
}

// Clear deletes every item of the session and resets its sequence.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	err := s.write(ctx, sessionID, func(tx *sql.Tx, _ *sessionRow) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE sessions SET tail_sequence = 0, last_active_at = ? WHERE id = ?",
			time.Now().UTC().UnixMicro(), sessionID)
		return err
	})
	return storage.Fail("clear", err)
}

// CloseSession deletes the session's items and marks the id closed.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	err := s.write(ctx, sessionID, func(tx *sql.Tx, _ *sessionRow) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE sessions SET tail_sequence = 0, closed_at = ? WHERE id = ?",
			time.Now().UTC().UnixMicro(), sessionID)
		return err
	})
	return storage.Fail("close", err)
}

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func queryItems(ctx context.Context, tx *sql.Tx, sessionID string) ([]api.Item, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, sequence, kind, payload, created_at FROM items WHERE session_id = ? ORDER BY sequence ASC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	items := []api.Item{}
	for rows.Next() {
		var (
			item      api.Item
			kind      string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&item.ID, &item.Sequence, &kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		item.Kind = api.ItemKind(kind)
		item.CreatedAt = time.UnixMicro(createdAt).UTC()
		if err := item.SetPayload([]byte(payload)); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}
