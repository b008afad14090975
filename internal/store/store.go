// Package store provides storage backends for CarePath sessions.
//
// Persistence is two-tiered: a fast cache that is written synchronously on
// every transition, and a slower durable snapshot store written
// asynchronously. Both tiers use full-object semantics; there are no
// field-level patches.
package store

import (
	"context"
	"time"

	"github.com/CarelineLabs/CarePath/internal/models"
)

// CacheStore is the fast tier. Writes here complete before a transition
// returns, so the cache is never behind the in-memory session.
type CacheStore interface {
	// SaveSession stores a full session snapshot, replacing any prior copy.
	SaveSession(ctx context.Context, sess *models.ChatSession) error

	// GetSession retrieves a session snapshot, or nil if absent.
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)

	// DeleteSession removes a session from the cache.
	DeleteSession(ctx context.Context, id string) error
}

// SnapshotStore is the durable remote tier. Writes may complete out of
// order; implementations must keep the highest-versioned snapshot so a late
// older write can never regress the stored state.
type SnapshotStore interface {
	// SaveSnapshot stores a full session snapshot if its version is not
	// older than the stored one.
	SaveSnapshot(ctx context.Context, sess *models.ChatSession) error

	// GetSnapshot retrieves a session snapshot, or nil if absent.
	GetSnapshot(ctx context.Context, id string) (*models.ChatSession, error)

	// DeleteSnapshot removes a session snapshot.
	DeleteSnapshot(ctx context.Context, id string) error

	// ListIdleSessions returns IDs of sessions whose last update is older
	// than the cutoff. Used by the re-engagement scheduler.
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error)

	// AddTurn records a best-effort analytics entry for one turn.
	AddTurn(ctx context.Context, t models.TurnLog) error

	// Close releases the underlying connection.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the backend connection string: a file path for SQLite, a
	// postgres:// URL for Postgres, a mongodb:// URI for Mongo, or a
	// host:port address for Redis.
	DSN string
	// Database names the logical database for backends that need one (Mongo).
	Database string
	// TTL bounds cache entry lifetime; zero means no expiry.
	TTL time.Duration
	// MaxOpenConns caps the connection pool for SQL backends; zero means the
	// backend default.
	MaxOpenConns int
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the backend connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDatabase sets the logical database name.
func WithDatabase(name string) Option {
	return func(o *Opts) { o.Database = name }
}

// WithTTL sets the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithMaxOpenConns caps the SQL connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *Opts) { o.MaxOpenConns = n }
}
