// Package scheduler provides cron-based scheduling for CarePath background
// jobs, currently the re-engagement nudges for idle sessions.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/CarelineLabs/CarePath/internal/messaging"
)

// DefaultNudgeSchedule runs the idle-session sweep every hour.
const DefaultNudgeSchedule = "0 * * * *"

// DefaultIdleThreshold is how long a session may sit untouched before it is
// nudged.
const DefaultIdleThreshold = 24 * time.Hour

const nudgeBody = "Hi! You started exploring family planning options with us. Your progress is saved - " +
	"reply any time to pick up where you left off."

// IdleLister reports sessions whose last update is older than the cutoff.
type IdleLister interface {
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler with a standard 5-field
// parser and panic recovery.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Nudger sweeps idle sessions and sends a re-engagement message. Session
// IDs double as WhatsApp recipients when they canonicalize to a phone
// number; anything else is skipped.
type Nudger struct {
	lister    IdleLister
	messenger messaging.Service
	threshold time.Duration
}

// NewNudger creates the idle-session nudger.
func NewNudger(lister IdleLister, messenger messaging.Service, threshold time.Duration) *Nudger {
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	return &Nudger{lister: lister, messenger: messenger, threshold: threshold}
}

// Run performs one sweep. Failures are logged, never fatal: a missed nudge
// costs nothing.
func (n *Nudger) Run(ctx context.Context) {
	cutoff := time.Now().Add(-n.threshold)
	ids, err := n.lister.ListIdleSessions(ctx, cutoff)
	if err != nil {
		slog.Warn("Nudger.Run: idle session listing failed", "error", err)
		return
	}
	slog.Debug("Nudger.Run: sweep started", "idle", len(ids), "cutoff", cutoff)

	sent := 0
	for _, id := range ids {
		to, err := n.messenger.ValidateAndCanonicalizeRecipient(id)
		if err != nil {
			slog.Debug("Nudger.Run: session has no reachable number", "sessionID", id)
			continue
		}
		if err := n.messenger.SendMessage(ctx, to, nudgeBody); err != nil {
			slog.Warn("Nudger.Run: nudge failed", "sessionID", id, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		slog.Info("Nudger.Run: nudges sent", "sent", sent, "idle", len(ids))
	}
}
