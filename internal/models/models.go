// Package models defines the core data structures for CarePath.
//
// It includes the chat session, message log, and step vocabulary shared
// across the router, controller, flow providers, and storage backends.
package models

import (
	"errors"
	"sync/atomic"
	"time"
)

// Role identifies the author of a message turn.
type Role string

const (
	// RoleBot marks a turn produced by the assistant.
	RoleBot Role = "bot"
	// RoleUser marks a turn typed or tapped by the user.
	RoleUser Role = "user"
	// RoleAgent marks a turn relayed from a human agent.
	RoleAgent Role = "agent"
)

// IsValidRole checks if the given role is supported.
func IsValidRole(r Role) bool {
	switch r {
	case RoleBot, RoleUser, RoleAgent:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a single message body
	MaxMessageLength = 4096
	// MaxSummaryLength defines the maximum length of a conversation summary posted to the escalation service
	MaxSummaryLength = 2000
	// RecentInputWindow is how many trailing user turns the confusion detector inspects
	RecentInputWindow = 3
)

// Error variables for better error handling and testability
var (
	ErrEmptySessionID    = errors.New("session id cannot be empty")
	ErrEmptyMessageText  = errors.New("message text cannot be empty")
	ErrMessageTooLong    = errors.New("message text exceeds maximum length")
	ErrInvalidRole       = errors.New("invalid message role")
	ErrInvalidStep       = errors.New("step is not part of the step vocabulary")
	ErrSessionNotFound   = errors.New("session not found")
	ErrStaleSnapshot     = errors.New("snapshot is older than the stored version")
	ErrEscalationClosed  = errors.New("escalation channel is closed")
	ErrEscalationActive  = errors.New("escalation already in progress")
	ErrNoAssignedAgent   = errors.New("no agent assigned to session")
	ErrSummaryTooLong    = errors.New("conversation summary exceeds maximum length")
	ErrEmptyConversation = errors.New("conversation id cannot be empty")
)

// Message is a single turn in the conversation log. The log is append-only:
// turns are never reordered or mutated in place.
type Message struct {
	Role      Role      `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	WidgetRef string    `json:"widget_ref,omitempty" bson:"widget_ref,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
}

// Validate performs basic validation on a message turn.
func (m *Message) Validate() error {
	if !IsValidRole(m.Role) {
		return ErrInvalidRole
	}
	if m.Text == "" {
		return ErrEmptyMessageText
	}
	if len(m.Text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// EscalationStatus describes the human-handoff lifecycle of a session.
type EscalationStatus string

const (
	// EscalationIdle means no human handoff has been requested.
	EscalationIdle EscalationStatus = "idle"
	// EscalationQueued means the user is waiting for an agent.
	EscalationQueued EscalationStatus = "QUEUED"
	// EscalationAssigned means an agent has been assigned but the channel is not yet open.
	EscalationAssigned EscalationStatus = "ASSIGNED"
	// EscalationActive means a bidirectional agent channel is open.
	EscalationActive EscalationStatus = "ACTIVE"
)

// ChatSession is the single mutable record describing where a user is in the
// conversation and what has been collected so far. One exists per user; it is
// created fresh when no persisted snapshot exists and restored from the
// freshest snapshot on resume.
type ChatSession struct {
	ID        string    `json:"id" bson:"_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`

	// Version increases on every mutation. Snapshot stores keep the highest
	// version they have seen, which makes out-of-order async writes safe.
	Version int64 `json:"version" bson:"version"`

	// Messages is the append-only turn log.
	Messages []Message `json:"messages" bson:"messages"`

	// CurrentStep determines which handler receives the next input.
	CurrentStep Step `json:"current_step" bson:"current_step"`

	// Collected demographics. Write-once-then-overwritable, each set by its
	// corresponding step handler.
	Language      string `json:"language,omitempty" bson:"language,omitempty"`
	Gender        string `json:"gender,omitempty" bson:"gender,omitempty"`
	Region        string `json:"region,omitempty" bson:"region,omitempty"`
	LGA           string `json:"lga,omitempty" bson:"lga,omitempty"`
	AgeBracket    string `json:"age_bracket,omitempty" bson:"age_bracket,omitempty"`
	MaritalStatus string `json:"marital_status,omitempty" bson:"marital_status,omitempty"`

	// Scratch fields written by one flow step and read by a later step.
	// Handlers are instantiated independently, so anything a later step needs
	// must round-trip through this durable record, never a handler field.
	UserIntention      string `json:"user_intention,omitempty" bson:"user_intention,omitempty"`
	CurrentFPMMethod   string `json:"current_fpm_method,omitempty" bson:"current_fpm_method,omitempty"`
	CurrentConcernType string `json:"current_concern_type,omitempty" bson:"current_concern_type,omitempty"`

	// Human-handoff lifecycle.
	EscalationStatus EscalationStatus `json:"escalation_status,omitempty" bson:"escalation_status,omitempty"`
	QueuePosition    int              `json:"queue_position,omitempty" bson:"queue_position,omitempty"`
	AssignedAgent    string           `json:"assigned_agent,omitempty" bson:"assigned_agent,omitempty"`

	// ConfusionEvents counts remedial interventions this session; three or
	// more is an advisory signal to consider human escalation.
	ConfusionEvents int `json:"confusion_events,omitempty" bson:"confusion_events,omitempty"`

	// seq orders outbound analytics entries. In-memory only, never part of
	// the durable snapshot.
	seq atomic.Int64
}

// NewChatSession creates a fresh session positioned at the language step.
func NewChatSession(id string) *ChatSession {
	now := time.Now()
	return &ChatSession{
		ID:               id,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
		Messages:         []Message{},
		CurrentStep:      StepLanguage,
		EscalationStatus: EscalationIdle,
	}
}

// NextSeq returns the next analytics sequence number for this session.
func (s *ChatSession) NextSeq() int64 {
	return s.seq.Add(1)
}

// Append adds a turn to the message log and returns it. The log length is
// monotonically non-decreasing for the session lifetime.
func (s *ChatSession) Append(role Role, text, widgetRef string) Message {
	msg := Message{Role: role, Text: text, WidgetRef: widgetRef, Timestamp: time.Now()}
	s.Messages = append(s.Messages, msg)
	return msg
}

// RecentUserInputs returns up to n trailing user turns, oldest first.
func (s *ChatSession) RecentUserInputs(n int) []string {
	var inputs []string
	for i := len(s.Messages) - 1; i >= 0 && len(inputs) < n; i-- {
		if s.Messages[i].Role == RoleUser {
			inputs = append(inputs, s.Messages[i].Text)
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(inputs)-1; i < j; i, j = i+1, j-1 {
		inputs[i], inputs[j] = inputs[j], inputs[i]
	}
	return inputs
}

// Clone returns a deep copy suitable for handing to async writers. The
// analytics sequence counter is deliberately not carried over.
func (s *ChatSession) Clone() *ChatSession {
	c := &ChatSession{}
	*c = ChatSession{
		ID:                 s.ID,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		Version:            s.Version,
		CurrentStep:        s.CurrentStep,
		Language:           s.Language,
		Gender:             s.Gender,
		Region:             s.Region,
		LGA:                s.LGA,
		AgeBracket:         s.AgeBracket,
		MaritalStatus:      s.MaritalStatus,
		UserIntention:      s.UserIntention,
		CurrentFPMMethod:   s.CurrentFPMMethod,
		CurrentConcernType: s.CurrentConcernType,
		EscalationStatus:   s.EscalationStatus,
		QueuePosition:      s.QueuePosition,
		AssignedAgent:      s.AssignedAgent,
		ConfusionEvents:    s.ConfusionEvents,
	}
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return c
}

// Validate checks the session invariants that storage backends rely on.
func (s *ChatSession) Validate() error {
	if s.ID == "" {
		return ErrEmptySessionID
	}
	if !IsValidStep(s.CurrentStep) {
		return ErrInvalidStep
	}
	return nil
}
