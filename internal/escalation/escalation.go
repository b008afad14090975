// Package escalation manages human-agent handoff: requesting an agent over
// the support backend's REST API, polling queue position while waiting, and
// relaying messages across the agent websocket channel once assigned.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/CarelineLabs/CarePath/internal/models"
)

// DefaultPollInterval is how often queue position is refreshed while queued.
const DefaultPollInterval = 15 * time.Second

// ErrNotConfigured indicates no support backend is configured.
var ErrNotConfigured = errors.New("escalation backend not configured")

// SessionMutator is the subset of the session manager the escalation
// subsystem uses to apply asynchronous updates.
type SessionMutator interface {
	Mutate(ctx context.Context, id string, fn func(*models.ChatSession)) (*models.ChatSession, error)
}

// Ticket is the support backend's answer to an escalation request.
type Ticket struct {
	ConversationID string
	Status         models.EscalationStatus
	AgentID        string
	AgentName      string
	QueuePosition  int
	EstimatedWait  time.Duration
}

// escalationResponse mirrors the support backend's JSON payload.
type escalationResponse struct {
	Status string `json:"status"`
	Agent  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"agent"`
	QueuePosition        int `json:"queue_position"`
	EstimatedWaitSeconds int `json:"estimated_wait_seconds"`
}

func (r escalationResponse) ticket(conversationID string) Ticket {
	return Ticket{
		ConversationID: conversationID,
		Status:         models.EscalationStatus(r.Status),
		AgentID:        r.Agent.ID,
		AgentName:      r.Agent.Name,
		QueuePosition:  r.QueuePosition,
		EstimatedWait:  time.Duration(r.EstimatedWaitSeconds) * time.Second,
	}
}

// Opts holds configuration options for the escalation manager.
type Opts struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Option defines a configuration option for the escalation manager.
type Option func(*Opts)

// WithBaseURL sets the support backend base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAPIKey sets the support backend API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithPollInterval sets the queue-position polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// Manager owns the lifecycle of every in-flight escalation. It is an
// explicit resource: Close releases all pollers and agent channels.
type Manager struct {
	rest         *resty.Client
	baseURL      string
	sessions     SessionMutator
	pollInterval time.Duration
	dial         dialFunc

	mu    sync.Mutex
	links map[string]*link
	wg    sync.WaitGroup
}

// NewManager creates an escalation manager talking to the support backend.
func NewManager(sessions SessionMutator, opts ...Option) (*Manager, error) {
	cfg := Opts{
		PollInterval: DefaultPollInterval,
		Timeout:      15 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("escalation base URL not set")
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")

	restClient := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		restClient.SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey))
	}

	slog.Debug("escalation.NewManager: manager created", "baseURL", base, "pollInterval", cfg.PollInterval)
	return &Manager{
		rest:         restClient,
		baseURL:      base,
		sessions:     sessions,
		pollInterval: cfg.PollInterval,
		dial:         dialAgentChannel,
		links:        make(map[string]*link),
	}, nil
}

// Begin requests a human agent for the session and returns the backend's
// ticket. If the ticket is QUEUED a background poller keeps the queue
// position fresh; once ASSIGNED the agent channel is opened. Begin never
// mutates the session itself; the caller applies the ticket while holding
// the session lock.
func (m *Manager) Begin(ctx context.Context, sessionID, summary string) (Ticket, error) {
	m.mu.Lock()
	if _, exists := m.links[sessionID]; exists {
		m.mu.Unlock()
		slog.Error("escalation.Begin: escalation already active", "sessionID", sessionID)
		return Ticket{}, models.ErrEscalationActive
	}
	m.mu.Unlock()

	if len(summary) > models.MaxSummaryLength {
		summary = summary[:models.MaxSummaryLength]
	}
	conversationID := uuid.NewString()
	body := map[string]any{
		"conversation_id": conversationID,
		"session_id":      sessionID,
		"summary":         summary,
	}

	var result escalationResponse
	resp, err := m.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/escalations")
	if err != nil {
		slog.Error("escalation.Begin: request failed", "sessionID", sessionID, "error", err)
		return Ticket{}, fmt.Errorf("failed to request escalation: %w", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		slog.Error("escalation.Begin: backend rejected request", "sessionID", sessionID, "status", resp.StatusCode())
		return Ticket{}, fmt.Errorf("escalation request rejected: status %d", resp.StatusCode())
	}

	ticket := result.ticket(conversationID)
	slog.Info("escalation.Begin: escalation opened", "sessionID", sessionID, "conversationID", conversationID,
		"status", ticket.Status, "queuePosition", ticket.QueuePosition)

	ln := newLink(sessionID, conversationID)
	m.mu.Lock()
	m.links[sessionID] = ln
	m.mu.Unlock()

	switch ticket.Status {
	case models.EscalationAssigned, models.EscalationActive:
		m.wg.Add(1)
		go m.runChannel(ln)
	default:
		m.wg.Add(1)
		go m.runPoller(ln)
	}
	return ticket, nil
}

// runPoller refreshes queue position on a fixed interval until the backend
// reports an assignment, at which point the agent channel takes over.
func (m *Manager) runPoller(ln *link) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ln.ctx.Done():
			return
		case <-ticker.C:
		}

		var result escalationResponse
		resp, err := m.rest.R().
			SetContext(ln.ctx).
			SetResult(&result).
			Get(fmt.Sprintf("/escalations/%s", ln.conversationID))
		if err != nil {
			slog.Warn("escalation.runPoller: poll failed", "sessionID", ln.sessionID, "error", err)
			continue
		}
		if resp.StatusCode() >= http.StatusBadRequest {
			slog.Warn("escalation.runPoller: poll rejected", "sessionID", ln.sessionID, "status", resp.StatusCode())
			continue
		}

		ticket := result.ticket(ln.conversationID)
		slog.Debug("escalation.runPoller: queue refreshed", "sessionID", ln.sessionID,
			"status", ticket.Status, "queuePosition", ticket.QueuePosition)

		if _, err := m.sessions.Mutate(context.Background(), ln.sessionID, func(sess *models.ChatSession) {
			if sess.EscalationStatus == models.EscalationQueued {
				sess.QueuePosition = ticket.QueuePosition
			}
		}); err != nil {
			slog.Warn("escalation.runPoller: session update failed", "sessionID", ln.sessionID, "error", err)
		}

		if ticket.Status == models.EscalationAssigned || ticket.Status == models.EscalationActive {
			slog.Info("escalation.runPoller: agent assigned", "sessionID", ln.sessionID, "agent", ticket.AgentName)
			m.wg.Add(1)
			go m.runChannel(ln)
			return
		}
	}
}

// Relay forwards a user message to the assigned agent.
func (m *Manager) Relay(ctx context.Context, sessionID, text string) error {
	m.mu.Lock()
	ln, ok := m.links[sessionID]
	m.mu.Unlock()
	if !ok {
		return models.ErrNoAssignedAgent
	}
	if err := ln.send(ctx, userMessageEvent(text)); err != nil {
		slog.Error("escalation.Relay: channel write failed", "sessionID", sessionID, "error", err)
		return fmt.Errorf("failed to relay message to agent: %w", err)
	}
	slog.Debug("escalation.Relay: message relayed", "sessionID", sessionID, "length", len(text))
	return nil
}

// Release tears down the escalation for a session, if any. Safe to call for
// sessions with no active escalation.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	ln, ok := m.links[sessionID]
	if ok {
		delete(m.links, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	ln.teardown()
	slog.Info("escalation.Release: escalation released", "sessionID", sessionID)
}

// Close releases every active escalation and waits for background
// goroutines to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	links := make([]*link, 0, len(m.links))
	for _, ln := range m.links {
		links = append(links, ln)
	}
	m.links = make(map[string]*link)
	m.mu.Unlock()

	for _, ln := range links {
		ln.teardown()
	}
	m.wg.Wait()
	slog.Info("escalation.Close: manager closed", "released", len(links))
	return nil
}

// releaseIfCurrent removes the link only if it is still the registered one
// for the session; a replacement escalation must not be torn down.
func (m *Manager) releaseIfCurrent(ln *link) {
	m.mu.Lock()
	if current, ok := m.links[ln.sessionID]; ok && current == ln {
		delete(m.links, ln.sessionID)
	}
	m.mu.Unlock()
	ln.teardown()
}
