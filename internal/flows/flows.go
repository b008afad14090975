// Package flows holds the topic sub-flow providers: prevention and
// emergency contraception, switching or stopping a method, trying to
// conceive, and the counselor flow (AI answers plus human handoff). Each
// provider is stateless between calls; everything it needs lives in the
// durable session passed to every handler.
package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CarelineLabs/CarePath/internal/analytics"
	"github.com/CarelineLabs/CarePath/internal/escalation"
	"github.com/CarelineLabs/CarePath/internal/genai"
	"github.com/CarelineLabs/CarePath/internal/models"
)

// Escalator is the human-handoff surface the counselor flow depends on.
type Escalator interface {
	Begin(ctx context.Context, sessionID, summary string) (escalation.Ticket, error)
	Relay(ctx context.Context, sessionID, text string) error
	Release(sessionID string)
}

// Deps carries the shared collaborators every flow provider uses.
type Deps struct {
	Analytics   analytics.Sink
	AI          genai.ClientInterface
	Escalations Escalator
}

// reply appends a bot turn and records it, best effort.
func (d Deps) reply(ctx context.Context, sess *models.ChatSession, text, widgetRef string) {
	sess.Append(models.RoleBot, text, widgetRef)
	if d.Analytics != nil {
		d.Analytics.LogTurn(ctx, models.TurnLog{
			SessionID: sess.ID,
			Text:      text,
			Role:      models.RoleBot,
			Step:      sess.CurrentStep,
			Seq:       sess.NextSeq(),
			WidgetRef: widgetRef,
			Time:      time.Now().UnixMilli(),
		})
	}
}

// normalize lowers and trims an input for button matching.
func normalize(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// summarize builds a short handoff summary for a human agent from the
// collected attributes and the most recent user turns.
func summarize(sess *models.ChatSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s.", orUnknown(sess.Language))
	if sess.Gender != "" {
		fmt.Fprintf(&b, " Gender: %s.", sess.Gender)
	}
	if sess.AgeBracket != "" {
		fmt.Fprintf(&b, " Age: %s.", sess.AgeBracket)
	}
	if sess.Region != "" {
		fmt.Fprintf(&b, " Location: %s", sess.Region)
		if sess.LGA != "" {
			fmt.Fprintf(&b, " (%s)", sess.LGA)
		}
		b.WriteString(".")
	}
	if sess.UserIntention != "" {
		fmt.Fprintf(&b, " Looking to: %s.", sess.UserIntention)
	}
	if sess.CurrentFPMMethod != "" {
		fmt.Fprintf(&b, " Current method: %s.", sess.CurrentFPMMethod)
	}
	if inputs := sess.RecentUserInputs(models.RecentInputWindow); len(inputs) > 0 {
		fmt.Fprintf(&b, " Recent messages: %s", strings.Join(inputs, " | "))
	}
	s := b.String()
	if len(s) > models.MaxSummaryLength {
		s = s[:models.MaxSummaryLength]
	}
	return s
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
