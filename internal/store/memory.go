package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CarelineLabs/CarePath/internal/models"
)

// MemoryCache is an in-process CacheStore. It is the default fast tier and
// the cache used throughout the tests. Writes are assumed infallible.
type MemoryCache struct {
	mu       sync.RWMutex
	sessions map[string]*models.ChatSession
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sessions: make(map[string]*models.ChatSession)}
}

// SaveSession stores a full session snapshot, replacing any prior copy.
func (c *MemoryCache) SaveSession(ctx context.Context, sess *models.ChatSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sess.ID] = sess.Clone()
	return nil
}

// GetSession retrieves a session snapshot, or nil if absent.
func (c *MemoryCache) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sess, ok := c.sessions[id]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

// DeleteSession removes a session from the cache.
func (c *MemoryCache) DeleteSession(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	return nil
}

// MemorySnapshotStore is an in-process SnapshotStore used by tests and by
// deployments that have not configured a durable backend. It applies the
// same highest-version-wins rule as the real backends.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*models.ChatSession
	turns     []models.TurnLog
}

// NewMemorySnapshotStore creates an empty in-process snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]*models.ChatSession)}
}

// SaveSnapshot stores a full snapshot unless a newer version is already held.
func (s *MemorySnapshotStore) SaveSnapshot(ctx context.Context, sess *models.ChatSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.snapshots[sess.ID]; ok && existing.Version > sess.Version {
		slog.Debug("MemorySnapshotStore ignoring stale snapshot", "id", sess.ID, "stored", existing.Version, "incoming", sess.Version)
		return nil
	}
	s.snapshots[sess.ID] = sess.Clone()
	return nil
}

// GetSnapshot retrieves a session snapshot, or nil if absent.
func (s *MemorySnapshotStore) GetSnapshot(ctx context.Context, id string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.snapshots[id]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

// DeleteSnapshot removes a session snapshot.
func (s *MemorySnapshotStore) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	return nil
}

// ListIdleSessions returns IDs of sessions not updated since the cutoff.
func (s *MemorySnapshotStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.snapshots {
		if sess.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AddTurn records an analytics entry.
func (s *MemorySnapshotStore) AddTurn(ctx context.Context, t models.TurnLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	return nil
}

// Turns returns all recorded analytics entries (for tests).
func (s *MemorySnapshotStore) Turns() []models.TurnLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TurnLog, len(s.turns))
	copy(out, s.turns)
	return out
}

// Close is a no-op for the in-process store.
func (s *MemorySnapshotStore) Close() error { return nil }
