package flows

import (
	"context"
	"log/slog"

	"github.com/CarelineLabs/CarePath/internal/models"
)

const (
	widgetConceiveDuration   = "conceiveDurationOptions"
	widgetConceiveNextAction = "conceiveNextActionOptions"
)

// conceiveAdviceShort is for people trying less than a year.
const conceiveAdviceShort = "Most couples conceive within a year of regular unprotected sex. Your most " +
	"fertile days are roughly days 10 to 17 of your cycle, counting from the first day of your period. " +
	"Folic acid daily, a balanced diet, and cutting alcohol and smoking all improve your chances."

// conceiveAdviceLong is for people trying a year or more: clinic referral.
const conceiveAdviceLong = "After more than a year of trying, it's worth getting checked, and that's very " +
	"common, nothing to worry about. A fertility clinic can test both partners and most causes are " +
	"treatable. I'd recommend visiting one; type 'clinic' any time and I can help you find a nearby facility."

// Conceive guides users who are trying to get pregnant.
type Conceive struct {
	deps Deps
}

// NewConceive creates the conceive flow provider.
func NewConceive(deps Deps) *Conceive {
	return &Conceive{deps: deps}
}

// Start opens the flow by asking how long they've been trying.
func (c *Conceive) Start(ctx context.Context, sess *models.ChatSession) error {
	c.deps.reply(ctx, sess,
		"How long have you been trying to get pregnant? Less than 6 months, 6 to 12 months, or More than a year.",
		widgetConceiveDuration)
	sess.CurrentStep = models.StepConceiveDuration
	slog.Info("Conceive.Start: flow opened", "sessionID", sess.ID)
	return nil
}

// HandleDuration gives advice tuned to how long they've been trying. Beyond
// a year the advice is a fertility clinic referral.
func (c *Conceive) HandleDuration(ctx context.Context, sess *models.ChatSession, input string) error {
	var advice string
	switch {
	case containsAny(input, "more than a year", "over a year", "year or more", "years"):
		advice = conceiveAdviceLong
	case containsAny(input, "less than 6", "6 to 12", "months", "just started"):
		advice = conceiveAdviceShort
	default:
		slog.Debug("Conceive.HandleDuration: unmatched duration", "sessionID", sess.ID, "input", input)
		c.deps.reply(ctx, sess,
			"Please choose one: Less than 6 months, 6 to 12 months, or More than a year.",
			widgetConceiveDuration)
		return nil
	}

	c.deps.reply(ctx, sess, advice, "")
	c.deps.reply(ctx, sess, "Reply when you're ready and we'll go from there.", "")
	sess.CurrentStep = models.StepConceiveAdvice
	slog.Info("Conceive.HandleDuration: advice given", "sessionID", sess.ID,
		"referral", advice == conceiveAdviceLong)
	return nil
}

// HandleAdvice acknowledges the advice and offers next actions.
func (c *Conceive) HandleAdvice(ctx context.Context, sess *models.ChatSession, input string) error {
	c.deps.reply(ctx, sess,
		"Is there anything else? You can Ask a question, hear the advice again, or End chat.",
		widgetConceiveNextAction)
	sess.CurrentStep = models.StepConceiveNextAction
	return nil
}

// HandleNextAction routes the wrap-up choice of the conceive flow.
func (c *Conceive) HandleNextAction(ctx context.Context, sess *models.ChatSession, input string) error {
	switch {
	case containsAny(input, "again", "repeat", "advice"):
		return c.Start(ctx, sess)
	case containsAny(input, "question", "ask", "counselor"):
		beginQuestionPrompt(ctx, c.deps, sess)
		return nil
	case containsAny(input, "end", "done", "bye"):
		endSession(ctx, c.deps, sess)
		return nil
	default:
		c.deps.reply(ctx, sess,
			"Please choose one: Ask a question, hear the advice again, or End chat.",
			widgetConceiveNextAction)
		return nil
	}
}
