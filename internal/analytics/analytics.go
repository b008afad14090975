// Package analytics records per-turn conversation events for reporting.
// Recording is fire-and-forget: a failed write never blocks or fails the
// conversation turn that produced it.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CarelineLabs/CarePath/internal/models"
)

// Sink consumes turn events.
type Sink interface {
	LogTurn(ctx context.Context, turn models.TurnLog)
}

// TurnWriter is the subset of the snapshot store the sink needs.
type TurnWriter interface {
	AddTurn(ctx context.Context, turn models.TurnLog) error
}

// StoreSink persists turn events through the snapshot store.
type StoreSink struct {
	writer TurnWriter

	// wg tracks in-flight writes so tests and shutdown can drain them.
	wg sync.WaitGroup
}

// NewStoreSink creates a sink backed by the given turn writer.
func NewStoreSink(writer TurnWriter) *StoreSink {
	return &StoreSink{writer: writer}
}

// LogTurn dispatches a turn event without blocking the transition that
// produced it. Errors are logged and swallowed.
func (s *StoreSink) LogTurn(ctx context.Context, turn models.TurnLog) {
	if turn.Time == 0 {
		turn.Time = time.Now().UnixMilli()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Detached from the request context: the write outlives the transition.
		if err := s.writer.AddTurn(context.Background(), turn); err != nil {
			slog.Warn("analytics.LogTurn: write failed", "sessionID", turn.SessionID, "seq", turn.Seq, "error", err)
			return
		}
		slog.Debug("analytics.LogTurn: turn recorded", "sessionID", turn.SessionID, "seq", turn.Seq, "role", turn.Role, "step", turn.Step)
	}()
}

// Flush waits for all in-flight turn writes to finish.
func (s *StoreSink) Flush() {
	s.wg.Wait()
}

// NoopSink discards all events.
type NoopSink struct{}

// LogTurn implements Sink.
func (NoopSink) LogTurn(context.Context, models.TurnLog) {}
