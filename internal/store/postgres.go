// Package store provides storage backends for CarePath sessions.
//
// This file implements a PostgreSQL-backed snapshot store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/CarelineLabs/CarePath/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresSnapshotStore is a PostgreSQL-backed SnapshotStore.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore creates a new Postgres snapshot store based on provided options.
func NewPostgresSnapshotStore(opts ...Option) (*PostgresSnapshotStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresSnapshotStore: creating store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresSnapshotStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(min(maxConns, DefaultMaxIdleConns))
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresSnapshotStore{db: db}, nil
}

// SaveSnapshot stores a full session snapshot, keeping the highest version.
func (s *PostgresSnapshotStore) SaveSnapshot(ctx context.Context, sess *models.ChatSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		slog.Error("PostgresSnapshotStore SaveSnapshot marshal failed", "error", err, "id", sess.ID)
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}

	query := `
		INSERT INTO sessions (id, snapshot, version, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.version >= sessions.version`

	_, err = s.db.ExecContext(ctx, query, sess.ID, payload, sess.Version, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresSnapshotStore SaveSnapshot failed", "error", err, "id", sess.ID)
		return fmt.Errorf("failed to save snapshot for %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresSnapshotStore SaveSnapshot succeeded", "id", sess.ID, "version", sess.Version)
	return nil
}

// GetSnapshot retrieves a session snapshot, or nil if absent.
func (s *PostgresSnapshotStore) GetSnapshot(ctx context.Context, id string) (*models.ChatSession, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresSnapshotStore GetSnapshot not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresSnapshotStore GetSnapshot failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", id, err)
	}

	var sess models.ChatSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		slog.Error("PostgresSnapshotStore GetSnapshot unmarshal failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", id, err)
	}
	return &sess, nil
}

// DeleteSnapshot removes a session snapshot.
func (s *PostgresSnapshotStore) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresSnapshotStore DeleteSnapshot failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete snapshot for %s: %w", id, err)
	}
	return nil
}

// ListIdleSessions returns IDs of sessions not updated since the cutoff.
func (s *PostgresSnapshotStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresSnapshotStore ListIdleSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan idle session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate idle session rows: %w", err)
	}
	return ids, nil
}

// AddTurn records a best-effort analytics entry for one turn.
func (s *PostgresSnapshotStore) AddTurn(ctx context.Context, t models.TurnLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, step, text, widget_ref, delay_ms, intent, time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.SessionID, t.Seq, t.Role, t.Step, t.Text, nilIfEmpty(t.WidgetRef), t.DelayMS, nilIfEmpty(t.Intent), t.Time)
	if err != nil {
		slog.Error("PostgresSnapshotStore AddTurn failed", "error", err, "session", t.SessionID)
		return fmt.Errorf("failed to insert turn for %s: %w", t.SessionID, err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresSnapshotStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
