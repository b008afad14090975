// Package store provides storage backends for CarePath sessions.
//
// This file implements a MongoDB-backed snapshot store. Sessions map
// naturally onto documents since every write is a full-object replace.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CarelineLabs/CarePath/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoDatabase = "carepath"
	sessionsCollection   = "sessions"
	turnsCollection      = "turns"
)

// MongoSnapshotStore is a MongoDB-backed SnapshotStore.
type MongoSnapshotStore struct {
	client *mongo.Client
	dbName string
}

// NewMongoSnapshotStore creates a Mongo snapshot store. The DSN is a
// mongodb:// URI.
func NewMongoSnapshotStore(ctx context.Context, opts ...Option) (*MongoSnapshotStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("MongoSnapshotStore URI not set")
		return nil, fmt.Errorf("mongodb URI not set")
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = defaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		slog.Error("MongoDB ping failed", "error", err)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	slog.Debug("MongoSnapshotStore connected", "database", dbName)
	return &MongoSnapshotStore{client: client, dbName: dbName}, nil
}

func (s *MongoSnapshotStore) sessions() *mongo.Collection {
	return s.client.Database(s.dbName).Collection(sessionsCollection)
}

// SaveSnapshot replaces the stored document unless it already holds a newer
// version. The filter makes a late-arriving older write match nothing.
func (s *MongoSnapshotStore) SaveSnapshot(ctx context.Context, sess *models.ChatSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	filter := bson.M{
		"_id":     sess.ID,
		"version": bson.M{"$lte": sess.Version},
	}
	_, err := s.sessions().ReplaceOne(ctx, filter, sess, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Upsert raced a newer version; the stored copy wins.
			slog.Debug("MongoSnapshotStore ignoring stale snapshot", "id", sess.ID, "version", sess.Version)
			return nil
		}
		slog.Error("MongoSnapshotStore SaveSnapshot failed", "error", err, "id", sess.ID)
		return fmt.Errorf("failed to save snapshot for %s: %w", sess.ID, err)
	}
	slog.Debug("MongoSnapshotStore SaveSnapshot succeeded", "id", sess.ID, "version", sess.Version)
	return nil
}

// GetSnapshot retrieves a session snapshot, or nil if absent.
func (s *MongoSnapshotStore) GetSnapshot(ctx context.Context, id string) (*models.ChatSession, error) {
	var sess models.ChatSession
	err := s.sessions().FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	if err == mongo.ErrNoDocuments {
		slog.Debug("MongoSnapshotStore GetSnapshot not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("MongoSnapshotStore GetSnapshot failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", id, err)
	}
	return &sess, nil
}

// DeleteSnapshot removes a session snapshot.
func (s *MongoSnapshotStore) DeleteSnapshot(ctx context.Context, id string) error {
	if _, err := s.sessions().DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		slog.Error("MongoSnapshotStore DeleteSnapshot failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete snapshot for %s: %w", id, err)
	}
	return nil
}

// ListIdleSessions returns IDs of sessions not updated since the cutoff.
func (s *MongoSnapshotStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	cursor, err := s.sessions().Find(ctx, bson.M{"updated_at": bson.M{"$lt": cutoff}},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		slog.Error("MongoSnapshotStore ListIdleSessions failed", "error", err)
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode idle session id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate idle sessions: %w", err)
	}
	return ids, nil
}

// AddTurn records a best-effort analytics entry for one turn.
func (s *MongoSnapshotStore) AddTurn(ctx context.Context, t models.TurnLog) error {
	coll := s.client.Database(s.dbName).Collection(turnsCollection)
	if _, err := coll.InsertOne(ctx, t); err != nil {
		slog.Error("MongoSnapshotStore AddTurn failed", "error", err, "session", t.SessionID)
		return fmt.Errorf("failed to insert turn for %s: %w", t.SessionID, err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoSnapshotStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
