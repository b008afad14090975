package flows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CarelineLabs/CarePath/internal/genai"
	"github.com/CarelineLabs/CarePath/internal/models"
)

const (
	widgetAgentType = "agentTypeOptions"
)

// Canned replies for the counselor flow.
const (
	outOfDomainReply = "I can only help with family planning and reproductive health topics. " +
		"Is there anything in that area I can help you with?"
	conversationEndReply = "It sounds like we've covered everything. Thank you for chatting with us, " +
		"and come back any time!"
	aiApologyReply = "I'm sorry, I'm having trouble answering right now. Would you like to talk to a " +
		"Human agent, or try the AI chatbot again?"
	followUpReply = "Anything else you'd like to know? You can keep asking, or type 'menu' to go back."
)

// beginQuestionPrompt moves the session into free-form Q&A. Shared by every
// flow's wrap-up path.
func beginQuestionPrompt(ctx context.Context, d Deps, sess *models.ChatSession) {
	d.reply(ctx, sess,
		"Sure - what would you like to know? Ask me anything about family planning.", "")
	sess.CurrentStep = models.StepQuestion
}

// Counselor answers free-form questions through the AI client and hands off
// to a human agent on request.
type Counselor struct {
	deps Deps
}

// NewCounselor creates the counselor flow provider.
func NewCounselor(deps Deps) *Counselor {
	return &Counselor{deps: deps}
}

// Start opens the free-form question step.
func (c *Counselor) Start(ctx context.Context, sess *models.ChatSession) error {
	beginQuestionPrompt(ctx, c.deps, sess)
	slog.Info("Counselor.Start: flow opened", "sessionID", sess.ID)
	return nil
}

// HandleQuestion sends the user's question to the AI client. Failures never
// surface as errors; the user gets an apology and the choice of a human
// agent.
func (c *Counselor) HandleQuestion(ctx context.Context, sess *models.ChatSession, input string) error {
	answer, err := c.deps.AI.AskQuestion(ctx, input)
	if err != nil {
		slog.Warn("Counselor.HandleQuestion: AI answer failed", "sessionID", sess.ID, "error", err)
		c.deps.reply(ctx, sess, aiApologyReply, widgetAgentType)
		sess.CurrentStep = models.StepAgentTypeSelection
		return nil
	}

	switch answer {
	case genai.SentinelOutOfDomain:
		c.deps.reply(ctx, sess, outOfDomainReply, "")
	case genai.SentinelConversationEnd:
		c.deps.reply(ctx, sess, conversationEndReply, "")
		sess.CurrentStep = models.StepSessionEnd
		slog.Info("Counselor.HandleQuestion: conversation concluded", "sessionID", sess.ID)
		return nil
	default:
		c.deps.reply(ctx, sess, answer, "")
		c.deps.reply(ctx, sess, followUpReply, "")
	}
	return nil
}

// HandleAgentTypeSelection routes the chatbot-or-human choice.
func (c *Counselor) HandleAgentTypeSelection(ctx context.Context, sess *models.ChatSession, input string) error {
	switch {
	case containsAny(input, "human", "agent", "person", "someone"):
		return c.requestHuman(ctx, sess)
	case containsAny(input, "ai", "chatbot", "bot", "try again"):
		beginQuestionPrompt(ctx, c.deps, sess)
		return nil
	default:
		c.deps.reply(ctx, sess,
			"Please choose: Human agent, or AI chatbot.", widgetAgentType)
		return nil
	}
}

// requestHuman opens an escalation and moves the session to the waiting
// step. A failed request falls back to the question step.
func (c *Counselor) requestHuman(ctx context.Context, sess *models.ChatSession) error {
	ticket, err := c.deps.Escalations.Begin(ctx, sess.ID, summarize(sess))
	if err != nil {
		slog.Warn("Counselor.requestHuman: escalation failed", "sessionID", sess.ID, "error", err)
		c.deps.reply(ctx, sess,
			"I'm sorry, no agents are reachable right now. You can keep asking me questions here.", "")
		sess.CurrentStep = models.StepQuestion
		return nil
	}

	sess.EscalationStatus = ticket.Status
	sess.QueuePosition = ticket.QueuePosition
	sess.AssignedAgent = ticket.AgentName

	switch ticket.Status {
	case models.EscalationAssigned, models.EscalationActive:
		c.deps.reply(ctx, sess,
			"Connecting you to an agent now. One moment...", "")
		sess.CurrentStep = models.StepWaitingAgent
	default:
		sess.EscalationStatus = models.EscalationQueued
		c.deps.reply(ctx, sess,
			fmt.Sprintf("You're in the queue at position %d (about %s wait). I'll let you know the moment "+
				"an agent joins. You can keep typing, I'll pass everything along.",
				ticket.QueuePosition, ticket.EstimatedWait),
			"")
		sess.CurrentStep = models.StepWaitingAgent
	}
	slog.Info("Counselor.requestHuman: escalation opened", "sessionID", sess.ID,
		"status", sess.EscalationStatus, "queuePosition", sess.QueuePosition)
	return nil
}

// HandleWaitingAgent responds while the user waits in the queue. If the
// channel has already gone active the message is relayed instead.
func (c *Counselor) HandleWaitingAgent(ctx context.Context, sess *models.ChatSession, input string) error {
	if sess.EscalationStatus == models.EscalationActive {
		sess.CurrentStep = models.StepWithHuman
		return c.HandleWithHuman(ctx, sess, input)
	}
	if containsAny(input, "cancel", "stop waiting", "never mind", "nevermind") {
		c.deps.Escalations.Release(sess.ID)
		sess.EscalationStatus = models.EscalationIdle
		sess.QueuePosition = 0
		c.deps.reply(ctx, sess,
			"No problem, I've taken you out of the queue. What would you like to know?", "")
		sess.CurrentStep = models.StepQuestion
		slog.Info("Counselor.HandleWaitingAgent: escalation cancelled", "sessionID", sess.ID)
		return nil
	}

	if sess.QueuePosition > 0 {
		c.deps.reply(ctx, sess,
			fmt.Sprintf("You're still in the queue at position %d. Hang tight, or type 'cancel' to stop waiting.",
				sess.QueuePosition), "")
	} else {
		c.deps.reply(ctx, sess,
			"An agent will be with you shortly. Hang tight, or type 'cancel' to stop waiting.", "")
	}
	return nil
}

// HandleWithHuman relays the user's message to the connected agent. On
// channel loss the session reverts to free-form questions.
func (c *Counselor) HandleWithHuman(ctx context.Context, sess *models.ChatSession, input string) error {
	if err := c.deps.Escalations.Relay(ctx, sess.ID, input); err != nil {
		slog.Warn("Counselor.HandleWithHuman: relay failed", "sessionID", sess.ID, "error", err)
		sess.EscalationStatus = models.EscalationIdle
		sess.AssignedAgent = ""
		sess.QueuePosition = 0
		c.deps.reply(ctx, sess,
			"The agent connection was lost. You can keep asking questions here.", "")
		sess.CurrentStep = models.StepQuestion
		return nil
	}
	slog.Debug("Counselor.HandleWithHuman: message relayed", "sessionID", sess.ID, "length", len(input))
	return nil
}
