package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/CarelineLabs/CarePath/internal/analytics"
	"github.com/CarelineLabs/CarePath/internal/convo"
	"github.com/CarelineLabs/CarePath/internal/escalation"
	"github.com/CarelineLabs/CarePath/internal/flows"
	"github.com/CarelineLabs/CarePath/internal/models"
	"github.com/CarelineLabs/CarePath/internal/session"
	"github.com/CarelineLabs/CarePath/internal/store"
)

type stubAI struct{}

func (stubAI) AskQuestion(ctx context.Context, question string) (string, error) {
	return "Here's what you should know.", nil
}

type stubEscalator struct {
	released []string
}

func (s *stubEscalator) Begin(ctx context.Context, sessionID, summary string) (escalation.Ticket, error) {
	return escalation.Ticket{Status: models.EscalationQueued, QueuePosition: 1}, nil
}
func (s *stubEscalator) Relay(ctx context.Context, sessionID, text string) error { return nil }
func (s *stubEscalator) Release(sessionID string)                                { s.released = append(s.released, sessionID) }

func newTestServer(t *testing.T) (*Server, *session.Manager, *stubEscalator) {
	t.Helper()
	snapshots := store.NewMemorySnapshotStore()
	sessions := session.NewManager(store.NewMemoryCache(), snapshots)
	esc := &stubEscalator{}

	deps := flows.Deps{Analytics: analytics.NewStoreSink(snapshots), AI: stubAI{}, Escalations: esc}
	ctrl := convo.NewController(deps)
	router := convo.NewRouter(ctrl.Handlers(), ctrl.HandleDefault, deps.Analytics)
	return NewServer(sessions, router, ctrl, esc, WithAddr(":0")), sessions, esc
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec, resp
}

func resultField(t *testing.T, resp models.APIResponse, key string) any {
	t.Helper()
	m, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is not an object: %#v", resp.Result)
	}
	return m[key]
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, resp := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
}

func TestCreateAndResumeSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec, resp := do(t, h, http.MethodPost, "/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	id, _ := resultField(t, resp, "id").(string)
	if id == "" {
		t.Fatal("created session has no id")
	}
	if step := resultField(t, resp, "current_step"); step != string(models.StepLanguage) {
		t.Errorf("expected language step, got %v", step)
	}
	if msgs, ok := resultField(t, resp, "messages").([]any); !ok || len(msgs) == 0 {
		t.Error("expected greeting messages on a fresh session")
	}

	rec, resp = do(t, h, http.MethodPost, "/sessions", createSessionRequest{ID: id})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on resume, got %d", rec.Code)
	}
	if resumed, _ := resultField(t, resp, "resumed").(bool); !resumed {
		t.Error("expected resumed flag on an existing session")
	}
}

func TestPostMessageAdvancesSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	_, resp := do(t, h, http.MethodPost, "/sessions", nil)
	id, _ := resultField(t, resp, "id").(string)

	rec, resp := do(t, h, http.MethodPost, fmt.Sprintf("/sessions/%s/messages", id),
		postMessageRequest{Text: "English"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if step := resultField(t, resp, "current_step"); step != string(models.StepGender) {
		t.Errorf("expected gender step, got %v", step)
	}
	appended, ok := resultField(t, resp, "appended").([]any)
	if !ok || len(appended) < 2 {
		t.Errorf("expected the user turn plus a bot reply, got %v", appended)
	}
}

// Concurrent posts to one session must serialize through the session lock
// without the handlers ever reading the live record. Run with -race.
func TestConcurrentPostsToOneSession(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	h := srv.Handler()

	_, resp := do(t, h, http.MethodPost, "/sessions", nil)
	id, _ := resultField(t, resp, "id").(string)

	const writers = 2
	const perWriter = 25
	path := fmt.Sprintf("/sessions/%s/messages", id)
	body, err := json.Marshal(postMessageRequest{Text: "banana"})
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d", rec.Code)
				}
			}
		}()
	}
	wg.Wait()

	// Every routed input appends the user turn plus at least one bot reply.
	sess, err := sessions.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := len(sess.Messages); got < 2*writers*perWriter {
		t.Errorf("expected at least %d messages, got %d", 2*writers*perWriter, got)
	}
}

func TestPostMessageValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodPost, "/sessions/nope/messages", postMessageRequest{Text: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty text, got %d", rec.Code)
	}

	rec, _ = do(t, h, http.MethodPost, "/sessions/nope/messages", postMessageRequest{Text: "hello"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestResetReleasesEscalation(t *testing.T) {
	srv, sessions, esc := newTestServer(t)
	h := srv.Handler()

	_, resp := do(t, h, http.MethodPost, "/sessions", nil)
	id, _ := resultField(t, resp, "id").(string)

	rec, _ := do(t, h, http.MethodPost, fmt.Sprintf("/sessions/%s/reset", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(esc.released) != 1 || esc.released[0] != id {
		t.Errorf("expected escalation release for %s, got %v", id, esc.released)
	}

	sess, err := sessions.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if sess != nil {
		t.Error("session still present after reset")
	}
}

func TestEscalationStatus(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	h := srv.Handler()

	_, resp := do(t, h, http.MethodPost, "/sessions", nil)
	id, _ := resultField(t, resp, "id").(string)

	if _, err := sessions.Mutate(context.Background(), id, func(sess *models.ChatSession) {
		sess.EscalationStatus = models.EscalationQueued
		sess.QueuePosition = 5
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	rec, resp := do(t, h, http.MethodGet, fmt.Sprintf("/sessions/%s/escalation", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status := resultField(t, resp, "status"); status != string(models.EscalationQueued) {
		t.Errorf("expected QUEUED, got %v", status)
	}
	if pos := resultField(t, resp, "queue_position"); pos != float64(5) {
		t.Errorf("expected queue position 5, got %v", pos)
	}
}
