package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CarelineLabs/CarePath/internal/models"
)

type recordingWriter struct {
	mu    sync.Mutex
	turns []models.TurnLog
	err   error
	block chan struct{}
}

func (w *recordingWriter) AddTurn(ctx context.Context, turn models.TurnLog) error {
	if w.block != nil {
		<-w.block
	}
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns, turn)
	return nil
}

func (w *recordingWriter) recorded() []models.TurnLog {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.TurnLog, len(w.turns))
	copy(out, w.turns)
	return out
}

func TestLogTurnFillsTimestamp(t *testing.T) {
	writer := &recordingWriter{}
	sink := NewStoreSink(writer)

	sink.LogTurn(context.Background(), models.TurnLog{
		SessionID: "user-1",
		Seq:       1,
		Role:      models.RoleUser,
		Text:      "English",
		Step:      models.StepLanguage,
	})
	sink.Flush()

	turns := writer.recorded()
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Time == 0 {
		t.Error("expected LogTurn to stamp the time")
	}
}

func TestLogTurnKeepsCallerTimestamp(t *testing.T) {
	writer := &recordingWriter{}
	sink := NewStoreSink(writer)

	sink.LogTurn(context.Background(), models.TurnLog{SessionID: "user-1", Role: models.RoleBot, Text: "hi", Step: models.StepLanguage, Time: 1234})
	sink.Flush()

	if writer.recorded()[0].Time != 1234 {
		t.Errorf("caller timestamp overwritten: %d", writer.recorded()[0].Time)
	}
}

func TestLogTurnSwallowsWriteFailure(t *testing.T) {
	writer := &recordingWriter{err: errors.New("db down")}
	sink := NewStoreSink(writer)

	// Must not panic or surface the failure in any way.
	sink.LogTurn(context.Background(), models.TurnLog{SessionID: "user-1", Role: models.RoleUser, Text: "hello", Step: models.StepQuestion})
	sink.Flush()

	if turns := writer.recorded(); len(turns) != 0 {
		t.Errorf("expected no recorded turns, got %d", len(turns))
	}
}

func TestLogTurnDoesNotBlockOnSlowWriter(t *testing.T) {
	writer := &recordingWriter{block: make(chan struct{})}
	sink := NewStoreSink(writer)

	done := make(chan struct{})
	go func() {
		sink.LogTurn(context.Background(), models.TurnLog{SessionID: "user-1", Role: models.RoleUser, Text: "hello", Step: models.StepQuestion})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("LogTurn blocked on the writer")
	}

	close(writer.block)
	sink.Flush()
	if turns := writer.recorded(); len(turns) != 1 {
		t.Errorf("expected the turn after Flush, got %d", len(turns))
	}
}
