package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/CarelineLabs/CarePath/internal/models"
)

// Agent channel event types.
const (
	eventAgentJoined       = "AGENT_JOINED"
	eventAgentMessage      = "AGENT_MESSAGE"
	eventAgentDisconnected = "AGENT_DISCONNECTED"
	eventUserMessage       = "USER_MESSAGE"
)

// agentEvent is one frame on the agent channel, in either direction.
type agentEvent struct {
	Type  string `json:"type"`
	Agent struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"agent,omitempty"`
	Text string `json:"text,omitempty"`
}

func userMessageEvent(text string) agentEvent {
	return agentEvent{Type: eventUserMessage, Text: text}
}

// agentConn is the duplex channel surface the manager needs; satisfied by
// *websocket.Conn and by test fakes.
type agentConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// dialFunc opens the agent channel for a conversation.
type dialFunc func(ctx context.Context, baseURL, conversationID string) (agentConn, error)

func dialAgentChannel(ctx context.Context, baseURL, conversationID string) (agentConn, error) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1)
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("%s/escalations/%s/channel", wsURL, conversationID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial agent channel: %w", err)
	}
	return conn, nil
}

// link tracks one in-flight escalation: its poller context and, once an
// agent is assigned, the open channel.
type link struct {
	sessionID      string
	conversationID string
	ctx            context.Context
	cancel         context.CancelFunc

	mu   sync.Mutex
	conn agentConn
}

func newLink(sessionID, conversationID string) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		sessionID:      sessionID,
		conversationID: conversationID,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (l *link) setConn(conn agentConn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func (l *link) send(ctx context.Context, ev agentEvent) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return models.ErrNoAssignedAgent
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode agent event: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (l *link) teardown() {
	l.cancel()
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "escalation released")
	}
}

// runChannel dials the agent channel and pumps events into the session
// until the agent disconnects or the link is released.
func (m *Manager) runChannel(ln *link) {
	defer m.wg.Done()

	conn, err := m.dial(ln.ctx, m.baseURL, ln.conversationID)
	if err != nil {
		slog.Error("escalation.runChannel: dial failed", "sessionID", ln.sessionID, "error", err)
		m.handleChannelLoss(ln, "We couldn't connect you to an agent. You can keep asking questions here.")
		return
	}
	ln.setConn(conn)
	slog.Info("escalation.runChannel: agent channel open", "sessionID", ln.sessionID, "conversationID", ln.conversationID)

	for {
		_, data, err := conn.Read(ln.ctx)
		if err != nil {
			if ln.ctx.Err() != nil {
				return
			}
			slog.Warn("escalation.runChannel: channel lost", "sessionID", ln.sessionID, "error", err)
			m.handleChannelLoss(ln, "The agent connection was lost. You can keep asking questions here.")
			return
		}

		var ev agentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("escalation.runChannel: malformed event", "sessionID", ln.sessionID, "error", err)
			continue
		}

		switch ev.Type {
		case eventAgentJoined:
			m.handleAgentJoined(ln, ev)
		case eventAgentMessage:
			m.handleAgentMessage(ln, ev)
		case eventAgentDisconnected:
			slog.Info("escalation.runChannel: agent disconnected", "sessionID", ln.sessionID)
			m.handleChannelLoss(ln, "The agent has left the conversation. You can keep asking questions here.")
			return
		default:
			slog.Debug("escalation.runChannel: ignoring event", "sessionID", ln.sessionID, "type", ev.Type)
		}
	}
}

func (m *Manager) handleAgentJoined(ln *link, ev agentEvent) {
	agentName := ev.Agent.Name
	if agentName == "" {
		agentName = "an agent"
	}
	_, err := m.sessions.Mutate(context.Background(), ln.sessionID, func(sess *models.ChatSession) {
		sess.EscalationStatus = models.EscalationActive
		sess.AssignedAgent = agentName
		sess.QueuePosition = 0
		sess.CurrentStep = models.StepWithHuman
		sess.Append(models.RoleBot, fmt.Sprintf("You're now connected to %s. They can see your conversation so far.", agentName), "")
	})
	if err != nil {
		slog.Warn("escalation.handleAgentJoined: session update failed", "sessionID", ln.sessionID, "error", err)
		return
	}
	slog.Info("escalation.handleAgentJoined: agent joined", "sessionID", ln.sessionID, "agent", agentName)
}

func (m *Manager) handleAgentMessage(ln *link, ev agentEvent) {
	if ev.Text == "" {
		return
	}
	_, err := m.sessions.Mutate(context.Background(), ln.sessionID, func(sess *models.ChatSession) {
		sess.Append(models.RoleAgent, ev.Text, "")
	})
	if err != nil {
		slog.Warn("escalation.handleAgentMessage: session update failed", "sessionID", ln.sessionID, "error", err)
	}
}

// handleChannelLoss reverts the session to the free-form question step and
// releases the link.
func (m *Manager) handleChannelLoss(ln *link, notice string) {
	_, err := m.sessions.Mutate(context.Background(), ln.sessionID, func(sess *models.ChatSession) {
		sess.EscalationStatus = models.EscalationIdle
		sess.AssignedAgent = ""
		sess.QueuePosition = 0
		sess.CurrentStep = models.StepQuestion
		sess.Append(models.RoleBot, notice, "")
	})
	if err != nil {
		slog.Warn("escalation.handleChannelLoss: session update failed", "sessionID", ln.sessionID, "error", err)
	}
	m.releaseIfCurrent(ln)
}
