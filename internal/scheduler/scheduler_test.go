package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CarelineLabs/CarePath/internal/messaging"
)

type fakeLister struct {
	ids []string
	err error
}

func (f *fakeLister) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	return f.ids, f.err
}

func TestNudgerSendsToReachableSessions(t *testing.T) {
	lister := &fakeLister{ids: []string{"+2348012345678", "web-session-abc", "+2347011122233"}}
	mock := messaging.NewMockService()
	n := NewNudger(lister, mock, time.Hour)

	n.Run(context.Background())

	if len(mock.Sent) != 2 {
		t.Fatalf("expected 2 nudges, got %d", len(mock.Sent))
	}
	if mock.Sent[0].To != "+2348012345678" {
		t.Errorf("unexpected recipient %q", mock.Sent[0].To)
	}
	if mock.Sent[0].Body == "" {
		t.Error("empty nudge body")
	}
}

func TestNudgerSwallowsListerFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	mock := messaging.NewMockService()
	n := NewNudger(lister, mock, time.Hour)

	n.Run(context.Background())
	if len(mock.Sent) != 0 {
		t.Errorf("expected no nudges after lister failure, got %d", len(mock.Sent))
	}
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("*/5 * * * *", func() {}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("invalid expression accepted")
	}
}
