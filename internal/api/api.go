// Package api exposes the CarePath HTTP surface: session lifecycle,
// message routing, and escalation status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CarelineLabs/CarePath/internal/convo"
	"github.com/CarelineLabs/CarePath/internal/models"
	"github.com/CarelineLabs/CarePath/internal/session"
)

// EscalationReleaser releases any in-flight escalation for a session.
type EscalationReleaser interface {
	Release(sessionID string)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server serves the CarePath HTTP API.
type Server struct {
	sessions    *session.Manager
	router      *convo.Router
	controller  *convo.Controller
	escalations EscalationReleaser
	httpSrv     *http.Server
}

// NewServer wires the HTTP server. escalations may be nil when the human
// handoff subsystem is disabled.
func NewServer(sessions *session.Manager, router *convo.Router, controller *convo.Controller, escalations EscalationReleaser, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080"}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		sessions:    sessions,
		router:      router,
		controller:  controller,
		escalations: escalations,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/messages", s.postMessageHandler)
	mux.HandleFunc("POST /sessions/{id}/reset", s.resetSessionHandler)
	mux.HandleFunc("GET /sessions/{id}/escalation", s.escalationStatusHandler)

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run starts the server and blocks until it exits.
func (s *Server) Run() error {
	slog.Info("api.Run: server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func writeJSON(w http.ResponseWriter, status int, resp models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("api.writeJSON: encoding failed", "error", err)
	}
}

// sessionView is the API shape of a session.
type sessionView struct {
	ID            string           `json:"id"`
	CurrentStep   models.Step      `json:"current_step"`
	ExpectedInput string           `json:"expected_input"`
	Messages      []models.Message `json:"messages"`
	Language      string           `json:"language,omitempty"`
	Resumed       bool             `json:"resumed,omitempty"`
}

func viewOf(sess *models.ChatSession, resumed bool) sessionView {
	return sessionView{
		ID:            sess.ID,
		CurrentStep:   sess.CurrentStep,
		ExpectedInput: string(models.ExpectedInputFor(sess.CurrentStep)),
		Messages:      sess.Messages,
		Language:      sess.Language,
		Resumed:       resumed,
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

type createSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// createSessionHandler creates a session or resumes one by ID. A resumed
// session comes back exactly where it was left; a fresh one gets the
// greeting and language prompt.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// An empty body means a brand-new session.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if req.ID != "" {
		sess, err := s.sessions.Load(r.Context(), req.ID)
		if err != nil {
			slog.Error("api.createSession: load failed", "sessionID", req.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, models.Error("failed to load session"))
			return
		}
		if sess != nil {
			slog.Info("api.createSession: session resumed", "sessionID", req.ID)
			writeJSON(w, http.StatusOK, models.Success(viewOf(sess, true)))
			return
		}
	}

	id := req.ID
	if id == "" {
		id = session.NewSessionID()
	}
	if _, err := s.sessions.Create(r.Context(), id); err != nil {
		slog.Error("api.createSession: create failed", "sessionID", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to create session"))
		return
	}
	sess, err := s.sessions.Mutate(r.Context(), id, func(sess *models.ChatSession) {
		s.controller.Greet(r.Context(), sess)
	})
	if err != nil {
		slog.Error("api.createSession: greeting failed", "sessionID", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to create session"))
		return
	}
	writeJSON(w, http.StatusCreated, models.Success(viewOf(sess, false)))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		slog.Error("api.getSession: load failed", "sessionID", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to load session"))
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, models.Error("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, models.Success(viewOf(sess, true)))
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// messageResult carries the turns appended by one routed input.
type messageResult struct {
	Appended      []models.Message `json:"appended"`
	CurrentStep   models.Step      `json:"current_step"`
	ExpectedInput string           `json:"expected_input"`
}

func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, models.Error("text must not be empty"))
		return
	}
	if len(req.Text) > models.MaxMessageLength {
		writeJSON(w, http.StatusBadRequest, models.Error("text too long"))
		return
	}

	loaded, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		slog.Error("api.postMessage: load failed", "sessionID", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to load session"))
		return
	}
	if loaded == nil {
		writeJSON(w, http.StatusNotFound, models.Error("session not found"))
		return
	}

	var before int
	var routeErr error
	sess, err := s.sessions.Mutate(r.Context(), id, func(sess *models.ChatSession) {
		before = len(sess.Messages)
		routeErr = s.router.Route(r.Context(), sess, req.Text)
	})
	if err == nil {
		err = routeErr
	}
	if err != nil {
		slog.Error("api.postMessage: routing failed", "sessionID", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to process message"))
		return
	}

	writeJSON(w, http.StatusOK, models.Success(messageResult{
		Appended:      sess.Messages[before:],
		CurrentStep:   sess.CurrentStep,
		ExpectedInput: string(models.ExpectedInputFor(sess.CurrentStep)),
	}))
}

func (s *Server) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.escalations != nil {
		s.escalations.Release(id)
	}
	if err := s.sessions.Reset(r.Context(), id); err != nil {
		slog.Error("api.resetSession: reset failed", "sessionID", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to reset session"))
		return
	}
	writeJSON(w, http.StatusOK, models.SuccessWithMessage("session reset", nil))
}

// escalationStatus is the API shape of a session's escalation state.
type escalationStatus struct {
	Status        models.EscalationStatus `json:"status"`
	QueuePosition int                     `json:"queue_position,omitempty"`
	AssignedAgent string                  `json:"assigned_agent,omitempty"`
}

func (s *Server) escalationStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		slog.Error("api.escalationStatus: load failed", "sessionID", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to load session"))
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, models.Error("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, models.Success(escalationStatus{
		Status:        sess.EscalationStatus,
		QueuePosition: sess.QueuePosition,
		AssignedAgent: sess.AssignedAgent,
	}))
}
