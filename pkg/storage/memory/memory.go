// Package memory provides an in-memory implementation of storage.SessionStore
// for tests, the CLI, and lightweight deployments. Logs are lost when the
// process exits. An optional limit bounds the number of live sessions; only
// sessions with an empty log are ever evicted to stay under it.
package memory

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/storage"
)

// session holds one log. Its mutex serializes writers of this session only.
type session struct {
	mu         sync.RWMutex
	id         string
	items      []api.Item
	createdAt  time.Time
	lastActive time.Time
	closed     bool
	evicted    bool
	lruElem    *list.Element
}

// Store is an in-memory SessionStore with an optional session limit.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*session
	closed      map[string]struct{}
	lruList     *list.List // front = most recently used
	maxSessions int        // 0 = unlimited
}

// Ensure Store implements storage.SessionStore at compile time.
var _ storage.SessionStore = (*Store)(nil)

// New creates a new in-memory store. If maxSessions is 0, the store grows
// without limit. Otherwise creating a session at the limit evicts the least
// recently used session whose log is empty, and fails with a storage error
// when every session holds items. Closed ids are remembered regardless.
func New(maxSessions int) *Store {
	return &Store{
		sessions:    make(map[string]*session),
		closed:      make(map[string]struct{}),
		lruList:     list.New(),
		maxSessions: maxSessions,
	}
}

// lookup finds the session for id, creating it when create is set.
// It returns nil without error for an unknown id when create is false.
func (s *Store) lookup(id string, create bool) (*session, error) {
	if err := storage.ValidateSessionID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.closed[id]; ok {
		return nil, api.NewSessionClosedError(id)
	}

	if sess, ok := s.sessions[id]; ok {
		s.lruList.MoveToFront(sess.lruElem)
		return sess, nil
	}
	if !create {
		return nil, nil
	}

	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions && !s.evictEmpty() {
		return nil, api.NewStorageError("create session",
			fmt.Errorf("limit of %d sessions with stored items reached", s.maxSessions))
	}

	now := time.Now().UTC()
	sess := &session{id: id, createdAt: now, lastActive: now}
	sess.lruElem = s.lruList.PushFront(sess)
	s.sessions[id] = sess
	return sess, nil
}

// GetOrCreate returns the session, creating it on first reference.
func (s *Store) GetOrCreate(_ context.Context, sessionID string) (*api.Session, error) {
	sess, err := s.lookup(sessionID, true)
	if err != nil {
		return nil, err
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()

	if sess.closed {
		return nil, api.NewSessionClosedError(sessionID)
	}
	return &api.Session{
		ID:           sess.id,
		Log:          api.CloneItems(sess.items),
		CreatedAt:    sess.createdAt,
		LastActiveAt: sess.lastActive,
	}, nil
}

// Append atomically extends the session log.
func (s *Store) Append(_ context.Context, sessionID string, items []api.Item) ([]api.Item, error) {
	sess, err := s.lockLive(sessionID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	stored := storage.Sequence(items, int64(len(sess.items)))
	sess.items = append(sess.items, stored...)
	sess.lastActive = time.Now().UTC()

	return api.CloneItems(stored), nil
}

// Snapshot returns a copy of the session log.
func (s *Store) Snapshot(_ context.Context, sessionID string) ([]api.Item, error) {
	sess, err := s.lookup(sessionID, false)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return []api.Item{}, nil
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()

	if sess.closed {
		return nil, api.NewSessionClosedError(sessionID)
	}
	return api.CloneItems(sess.items), nil
}

// Clear empties the session log.
func (s *Store) Clear(_ context.Context, sessionID string) error {
	sess, err := s.lockLive(sessionID)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	sess.items = nil
	sess.lastActive = time.Now().UTC()
	return nil
}

// CloseSession drops the session log and tombstones the id.
func (s *Store) CloseSession(_ context.Context, sessionID string) error {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.closed[sessionID]; ok {
		s.mu.Unlock()
		return api.NewSessionClosedError(sessionID)
	}
	s.closed[sessionID] = struct{}{}
	sess, ok := s.sessions[sessionID]
	if ok {
		s.lruList.Remove(sess.lruElem)
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if ok {
		// Writers that looked the session up before the tombstone observe
		// closed once they take the session lock.
		sess.mu.Lock()
		sess.closed = true
		sess.items = nil
		sess.mu.Unlock()
	}
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// lockLive returns the write-locked session for id, creating it on first
// reference. A session evicted between lookup and lock is looked up again,
// so writes never land on a session the store no longer holds.
func (s *Store) lockLive(id string) (*session, error) {
	for {
		sess, err := s.lookup(id, true)
		if err != nil {
			return nil, err
		}
		sess.mu.Lock()
		if sess.closed {
			sess.mu.Unlock()
			return nil, api.NewSessionClosedError(id)
		}
		if !sess.evicted {
			return sess, nil
		}
		sess.mu.Unlock()
	}
}

// evictEmpty removes the least recently used session with an empty log and
// reports whether one was found. Sessions busy with a writer are skipped.
// Must be called with s.mu held.
func (s *Store) evictEmpty() bool {
	for e := s.lruList.Back(); e != nil; e = e.Prev() {
		sess := e.Value.(*session)
		if !sess.mu.TryLock() {
			continue
		}
		if len(sess.items) > 0 {
			sess.mu.Unlock()
			continue
		}
		sess.evicted = true
		sess.mu.Unlock()

		s.lruList.Remove(e)
		delete(s.sessions, sess.id)
		return true
	}
	return false
}
