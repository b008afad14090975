package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CarelineLabs/CarePath/internal/models"
)

// Widget references the prevention flow attaches to its prompts.
const (
	widgetPreventionDuration   = "preventionDurationOptions"
	widgetPreventionMethods    = "preventionMethodOptions"
	widgetPreventionNextAction = "preventionNextActionOptions"
	widgetEmergencyProducts    = "emergencyProductOptions"
	widgetEmergencyNextAction  = "emergencyNextActionOptions"
)

// Prevention walks users from a protection-duration preference to a
// contraceptive method, including the emergency contraception path.
type Prevention struct {
	deps Deps
}

// NewPrevention creates the prevention flow provider.
func NewPrevention(deps Deps) *Prevention {
	return &Prevention{deps: deps}
}

// Start opens the prevention flow with the duration question.
func (p *Prevention) Start(ctx context.Context, sess *models.ChatSession) error {
	p.deps.reply(ctx, sess,
		fmt.Sprintf("How long would you like to prevent pregnancy? Choose one: %s.",
			strings.Join(bucketLabels(), ", ")),
		widgetPreventionDuration)
	sess.CurrentStep = models.StepPreventionDuration
	slog.Info("Prevention.Start: flow opened", "sessionID", sess.ID)
	return nil
}

// StartEmergency opens the emergency contraception path directly.
func (p *Prevention) StartEmergency(ctx context.Context, sess *models.ChatSession) error {
	p.deps.reply(ctx, sess,
		fmt.Sprintf("Emergency contraception works best as soon as possible after unprotected sex. "+
			"Which product would you like to know about? %s.", strings.Join(productNames(), " or ")),
		widgetEmergencyProducts)
	sess.CurrentStep = models.StepEmergencyProduct
	slog.Info("Prevention.StartEmergency: emergency path opened", "sessionID", sess.ID)
	return nil
}

// HandleDuration resolves the duration answer and lists matching methods.
func (p *Prevention) HandleDuration(ctx context.Context, sess *models.ChatSession, input string) error {
	if isEmergencyChoice(input) {
		return p.StartEmergency(ctx, sess)
	}
	bucket, ok := findBucket(input)
	if !ok {
		slog.Debug("Prevention.HandleDuration: unmatched duration", "sessionID", sess.ID, "input", input)
		p.deps.reply(ctx, sess,
			fmt.Sprintf("Please pick one of the options: %s.", strings.Join(bucketLabels(), ", ")),
			widgetPreventionDuration)
		return nil
	}

	p.deps.reply(ctx, sess,
		fmt.Sprintf("For protection %s, these methods fit: %s. Which one would you like to learn about?",
			strings.ToLower(bucket.Label), strings.Join(methodNames(bucket), ", ")),
		widgetPreventionMethods)
	sess.CurrentStep = models.StepPreventionMethods
	slog.Info("Prevention.HandleDuration: bucket selected", "sessionID", sess.ID, "bucket", bucket.Label)
	return nil
}

// HandleMethodSelection shows the detail copy for the chosen method.
func (p *Prevention) HandleMethodSelection(ctx context.Context, sess *models.ChatSession, input string) error {
	method, ok := findMethod(input)
	if !ok {
		slog.Debug("Prevention.HandleMethodSelection: unmatched method", "sessionID", sess.ID, "input", input)
		p.deps.reply(ctx, sess,
			"I don't know that one. Please pick a method from the list above.",
			widgetPreventionMethods)
		return nil
	}

	p.deps.reply(ctx, sess, method.Detail, "")
	p.deps.reply(ctx, sess,
		"Type another method name to compare, or 'continue' when you're ready.", "")
	sess.CurrentStep = models.StepPreventionMethodDetail
	slog.Info("Prevention.HandleMethodSelection: method detailed", "sessionID", sess.ID, "method", method.Name)
	return nil
}

// HandleMethodDetail lets the user compare methods or move on.
func (p *Prevention) HandleMethodDetail(ctx context.Context, sess *models.ChatSession, input string) error {
	if method, ok := findMethod(input); ok {
		p.deps.reply(ctx, sess, method.Detail, "")
		p.deps.reply(ctx, sess,
			"Type another method name to compare, or 'continue' when you're ready.", "")
		slog.Debug("Prevention.HandleMethodDetail: compared method", "sessionID", sess.ID, "method", method.Name)
		return nil
	}

	p.deps.reply(ctx, sess,
		"What would you like to do next? Choose another method, Ask a question, or End chat.",
		widgetPreventionNextAction)
	sess.CurrentStep = models.StepPreventionNextAction
	return nil
}

// HandleNextAction routes the wrap-up choice of the prevention flow.
func (p *Prevention) HandleNextAction(ctx context.Context, sess *models.ChatSession, input string) error {
	switch {
	case containsAny(input, "another", "other method", "choose"):
		return p.Start(ctx, sess)
	case containsAny(input, "question", "ask", "counselor"):
		beginQuestionPrompt(ctx, p.deps, sess)
		return nil
	case containsAny(input, "end", "done", "bye"):
		endSession(ctx, p.deps, sess)
		return nil
	default:
		p.deps.reply(ctx, sess,
			"Please choose one: Choose another method, Ask a question, or End chat.",
			widgetPreventionNextAction)
		return nil
	}
}

// HandleEmergencyProduct shows detail for the chosen emergency product.
func (p *Prevention) HandleEmergencyProduct(ctx context.Context, sess *models.ChatSession, input string) error {
	product, ok := findEmergencyProduct(input)
	if !ok {
		slog.Debug("Prevention.HandleEmergencyProduct: unmatched product", "sessionID", sess.ID, "input", input)
		p.deps.reply(ctx, sess,
			fmt.Sprintf("Please choose %s.", strings.Join(productNames(), " or ")),
			widgetEmergencyProducts)
		return nil
	}

	p.deps.reply(ctx, sess, product.Detail, "")
	p.deps.reply(ctx, sess,
		"Anything else? You can Learn about regular methods, Ask a question, or End chat.",
		widgetEmergencyNextAction)
	sess.CurrentStep = models.StepEmergencyNextAction
	slog.Info("Prevention.HandleEmergencyProduct: product detailed", "sessionID", sess.ID, "product", product.Name)
	return nil
}

// HandleEmergencyNextAction routes the wrap-up choice of the emergency path.
func (p *Prevention) HandleEmergencyNextAction(ctx context.Context, sess *models.ChatSession, input string) error {
	switch {
	case containsAny(input, "regular", "learn", "method"):
		return p.Start(ctx, sess)
	case containsAny(input, "question", "ask", "counselor"):
		beginQuestionPrompt(ctx, p.deps, sess)
		return nil
	case containsAny(input, "end", "done", "bye"):
		endSession(ctx, p.deps, sess)
		return nil
	default:
		p.deps.reply(ctx, sess,
			"Please choose one: Learn about regular methods, Ask a question, or End chat.",
			widgetEmergencyNextAction)
		return nil
	}
}

// containsAny reports whether the normalized input contains any keyword.
func containsAny(input string, keywords ...string) bool {
	n := normalize(input)
	for _, k := range keywords {
		if strings.Contains(n, k) {
			return true
		}
	}
	return false
}

// endSession closes the conversation politely.
func endSession(ctx context.Context, d Deps, sess *models.ChatSession) {
	d.reply(ctx, sess,
		"Thank you for chatting with us. Your progress is saved, so you can come back any time. Take care!", "")
	sess.CurrentStep = models.StepSessionEnd
	slog.Info("flows.endSession: session ended", "sessionID", sess.ID)
}
