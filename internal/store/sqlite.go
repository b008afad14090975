// Package store provides storage backends for CarePath sessions.
//
// This file implements an SQLite-backed snapshot store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/CarelineLabs/CarePath/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteSnapshotStore is a file-backed SnapshotStore.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore creates a new SQLite snapshot store. The DSN is a
// file path; the containing directory is created if missing.
func NewSQLiteSnapshotStore(opts ...Option) (*SQLiteSnapshotStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteSnapshotStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteSnapshotStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteSnapshotStore{db: db}, nil
}

// SaveSnapshot stores a full session snapshot. The upsert keeps the
// highest-versioned row, so an async write completing late with an older
// snapshot is a no-op rather than a regression.
func (s *SQLiteSnapshotStore) SaveSnapshot(ctx context.Context, sess *models.ChatSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		slog.Error("SQLiteSnapshotStore SaveSnapshot marshal failed", "error", err, "id", sess.ID)
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}

	query := `
		INSERT INTO sessions (id, snapshot, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			snapshot = excluded.snapshot,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE excluded.version >= sessions.version`

	_, err = s.db.ExecContext(ctx, query, sess.ID, string(payload), sess.Version, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteSnapshotStore SaveSnapshot failed", "error", err, "id", sess.ID)
		return fmt.Errorf("failed to save snapshot for %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteSnapshotStore SaveSnapshot succeeded", "id", sess.ID, "version", sess.Version)
	return nil
}

// GetSnapshot retrieves a session snapshot, or nil if absent.
func (s *SQLiteSnapshotStore) GetSnapshot(ctx context.Context, id string) (*models.ChatSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteSnapshotStore GetSnapshot not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteSnapshotStore GetSnapshot failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", id, err)
	}

	var sess models.ChatSession
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		slog.Error("SQLiteSnapshotStore GetSnapshot unmarshal failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", id, err)
	}
	slog.Debug("SQLiteSnapshotStore GetSnapshot found", "id", id, "version", sess.Version, "step", sess.CurrentStep)
	return &sess, nil
}

// DeleteSnapshot removes a session snapshot.
func (s *SQLiteSnapshotStore) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteSnapshotStore DeleteSnapshot failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete snapshot for %s: %w", id, err)
	}
	slog.Debug("SQLiteSnapshotStore DeleteSnapshot succeeded", "id", id)
	return nil
}

// ListIdleSessions returns IDs of sessions not updated since the cutoff.
func (s *SQLiteSnapshotStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteSnapshotStore ListIdleSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Error("SQLiteSnapshotStore ListIdleSessions scan failed", "error", err)
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
func (s *SQLiteSnapshotStore) AddTurn(ctx context.Context, t models.TurnLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, step, text, widget_ref, delay_ms, intent, time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Seq, t.Role, t.Step, t.Text, nilIfEmpty(t.WidgetRef), t.DelayMS, nilIfEmpty(t.Intent), t.Time)
	if err != nil {
		slog.Error("SQLiteSnapshotStore AddTurn failed", "error", err, "session", t.SessionID)
		return fmt.Errorf("failed to insert turn for %s: %w", t.SessionID, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteSnapshotStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
