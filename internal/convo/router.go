// Package convo routes user inputs to step handlers and owns the dialogue
// controller that drives onboarding and topic selection.
package convo

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/CarelineLabs/CarePath/internal/analytics"
	"github.com/CarelineLabs/CarePath/internal/confusion"
	"github.com/CarelineLabs/CarePath/internal/models"
)

// HandlerFunc handles one user input at one step. Handlers append replies
// and move CurrentStep; they never return an error for unrecognized input.
type HandlerFunc func(ctx context.Context, sess *models.ChatSession, input string) error

// Router dispatches each user input to the handler for the session's
// current step, after confusion interception at strict button steps.
type Router struct {
	handlers  map[models.Step]HandlerFunc
	fallback  HandlerFunc
	analytics analytics.Sink
}

// NewRouter creates a router over the controller's handler table.
func NewRouter(handlers map[models.Step]HandlerFunc, fallback HandlerFunc, sink analytics.Sink) *Router {
	return &Router{handlers: handlers, fallback: fallback, analytics: sink}
}

// Route processes one user input to completion: record the user turn,
// intercept confusion at strict button steps, then dispatch. The caller
// holds the session lock for the whole call.
func (r *Router) Route(ctx context.Context, sess *models.ChatSession, rawInput string) error {
	input := strings.TrimSpace(rawInput)
	step := sess.CurrentStep
	slog.Debug("Router.Route: input received", "sessionID", sess.ID, "step", step, "length", len(input))

	recent := sess.RecentUserInputs(models.RecentInputWindow)
	intent := classifyIntent(input)

	sess.Append(models.RoleUser, input, "")
	r.logTurn(ctx, sess, input, models.RoleUser, intent)

	if models.IsStrictButtonStep(step) {
		res := confusion.Detect(input, step, models.ExpectedInputFor(step), recent)
		if res.IsConfused {
			sess.ConfusionEvents++
			slog.Info("Router.Route: confusion detected", "sessionID", sess.ID, "step", step,
				"confidence", res.Confidence, "reason", res.Reason, "action", res.SuggestedAction,
				"events", sess.ConfusionEvents)
			if sess.ConfusionEvents >= confusion.InterventionEventCount {
				slog.Warn("Router.Route: repeated confusion, human help may be needed",
					"sessionID", sess.ID, "events", sess.ConfusionEvents)
			}
			help := confusion.HelpMessage(res, step)
			sess.Append(models.RoleBot, help, "")
			r.logTurn(ctx, sess, help, models.RoleBot, "confused")
			return nil
		}
	}

	handler, ok := r.handlers[step]
	if !ok {
		slog.Debug("Router.Route: no handler for step, using default", "sessionID", sess.ID, "step", step)
		handler = r.fallback
	}
	return handler(ctx, sess, input)
}

func (r *Router) logTurn(ctx context.Context, sess *models.ChatSession, text string, role models.Role, intent string) {
	if r.analytics == nil {
		return
	}
	r.analytics.LogTurn(ctx, models.TurnLog{
		SessionID: sess.ID,
		Text:      text,
		Role:      role,
		Step:      sess.CurrentStep,
		Seq:       sess.NextSeq(),
		Intent:    intent,
		Time:      time.Now().UnixMilli(),
	})
}

// classifyIntent tags the input with a lightweight intent for analytics.
// Classification never overrides step dispatch.
func classifyIntent(input string) string {
	n := strings.ToLower(input)
	switch {
	case strings.Contains(n, "menu"):
		return "menu"
	case strings.Contains(n, "clinic"):
		return "clinic"
	case strings.Contains(n, "human") || strings.Contains(n, "agent"):
		return "human"
	case strings.Contains(n, "language") || strings.Contains(n, "hausa") ||
		strings.Contains(n, "yoruba") || strings.Contains(n, "igbo"):
		return "language"
	default:
		return ""
	}
}
