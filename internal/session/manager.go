// Package session owns the canonical session mutator and the dual-write
// persistence contract: every transition updates in-memory state, writes the
// fast cache synchronously, and writes the durable snapshot store
// asynchronously. The cache is therefore never behind memory, while the
// snapshot store may lag and is reconciled by version on load.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CarelineLabs/CarePath/internal/models"
	"github.com/CarelineLabs/CarePath/internal/store"
	"github.com/google/uuid"
)

// Manager serializes access to sessions and performs the dual write. One
// user input is handled to completion before the next for the same session;
// distinct sessions proceed independently.
type Manager struct {
	cache     store.CacheStore
	snapshots store.SnapshotStore

	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	locks    map[string]*sync.Mutex

	// wg tracks in-flight async snapshot writes so tests and shutdown can
	// drain them.
	wg sync.WaitGroup
}

// NewManager creates a session manager over the two persistence tiers.
func NewManager(cache store.CacheStore, snapshots store.SnapshotStore) *Manager {
	slog.Debug("Creating session Manager")
	return &Manager{
		cache:     cache,
		snapshots: snapshots,
		sessions:  make(map[string]*models.ChatSession),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-session mutex, creating it on first use.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.New().String()
}

// Load returns a private copy of the session for id, restoring it from
// persistence if it is not in memory. Both tiers are consulted and the
// freshest snapshot wins, decided by version first and update time second,
// because the remote store may lag the cache by one or more transitions.
// Returns nil if no snapshot exists anywhere.
//
// The copy is taken under the session lock; callers may read it without
// synchronization but must route every write through Mutate.
func (m *Manager) Load(ctx context.Context, id string) (*models.ChatSession, error) {
	if id == "" {
		return nil, models.ErrEmptySessionID
	}

	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return sess.Clone(), nil
	}
	m.mu.Unlock()

	cached, err := m.cache.GetSession(ctx, id)
	if err != nil {
		// Cache reads are in-process and expected infallible; a failure here
		// still leaves the durable tier.
		slog.Warn("Manager.Load: cache read failed", "error", err, "id", id)
	}

	remote, err := m.snapshots.GetSnapshot(ctx, id)
	if err != nil {
		slog.Warn("Manager.Load: snapshot read failed, continuing with cache only", "error", err, "id", id)
	}

	freshest := freshestOf(cached, remote)
	if freshest == nil {
		slog.Debug("Manager.Load: no persisted session", "id", id)
		return nil, nil
	}

	// Re-prime the cache when the remote copy was fresher.
	if freshest == remote && (cached == nil || cached.Version < remote.Version) {
		if err := m.cache.SaveSession(ctx, freshest); err != nil {
			slog.Warn("Manager.Load: failed to re-prime cache", "error", err, "id", id)
		}
	}

	m.mu.Lock()
	m.sessions[id] = freshest
	m.mu.Unlock()

	slog.Info("Manager.Load: session restored", "id", id, "version", freshest.Version, "step", freshest.CurrentStep, "messages", len(freshest.Messages))
	return freshest.Clone(), nil
}

// freshestOf picks the newer of two snapshots by version, then update time.
func freshestOf(a, b *models.ChatSession) *models.ChatSession {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Version > a.Version:
		return b
	case b.Version == a.Version && b.UpdatedAt.After(a.UpdatedAt):
		return b
	default:
		return a
	}
}

// Create builds a fresh session at the language step, persists it, and
// returns a private copy.
func (m *Manager) Create(ctx context.Context, id string) (*models.ChatSession, error) {
	if id == "" {
		id = NewSessionID()
	}

	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sess := models.NewChatSession(id)
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}
	slog.Info("Manager.Create: new session", "id", id)
	return sess.Clone(), nil
}

// Mutate applies fn to the session under its lock, bumps the version,
// performs the dual write, and returns a private copy of the result. The
// live record never escapes the lock, so concurrent readers (API handlers,
// escalation goroutines) cannot observe a half-applied transition. Callers
// must not assume the snapshot-store write has completed when Mutate
// returns; only the cache write is synchronous.
func (m *Manager) Mutate(ctx context.Context, id string, fn func(*models.ChatSession)) (*models.ChatSession, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mutate %s: %w", id, models.ErrSessionNotFound)
	}

	before := len(sess.Messages)
	fn(sess)
	if len(sess.Messages) < before {
		// The message log is append-only; a shrink means a handler bug.
		slog.Error("Manager.Mutate: handler shrank message log, restoring length invariant", "id", id, "before", before, "after", len(sess.Messages))
		return nil, fmt.Errorf("mutate %s: message log shrank from %d to %d", id, before, len(sess.Messages))
	}

	sess.Version++
	sess.UpdatedAt = time.Now()

	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// persist performs the dual write: cache synchronously, snapshots async.
// Each write carries the full snapshot, never a field-level patch.
func (m *Manager) persist(ctx context.Context, sess *models.ChatSession) error {
	if err := m.cache.SaveSession(ctx, sess); err != nil {
		// The cache is the source of truth of last resort, so a failure here
		// is an error rather than a warning.
		slog.Error("Manager.persist: cache write failed", "error", err, "id", sess.ID)
		return fmt.Errorf("cache write for %s: %w", sess.ID, err)
	}

	snapshot := sess.Clone()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Detached from the request context: the write outlives the transition.
		if err := m.snapshots.SaveSnapshot(context.Background(), snapshot); err != nil {
			slog.Warn("Manager.persist: snapshot write failed", "error", err, "id", snapshot.ID, "version", snapshot.Version)
		}
	}()
	return nil
}

// Reset discards a session entirely, from memory and both tiers. Sessions
// are never expired automatically; this is the only deletion path.
func (m *Manager) Reset(ctx context.Context, id string) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if err := m.cache.DeleteSession(ctx, id); err != nil {
		slog.Warn("Manager.Reset: cache delete failed", "error", err, "id", id)
	}
	if err := m.snapshots.DeleteSnapshot(ctx, id); err != nil {
		slog.Warn("Manager.Reset: snapshot delete failed", "error", err, "id", id)
	}
	slog.Info("Manager.Reset: session discarded", "id", id)
	return nil
}

// Flush waits for all in-flight snapshot writes to finish.
func (m *Manager) Flush() {
	m.wg.Wait()
}
