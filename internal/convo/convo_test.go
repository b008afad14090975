package convo

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/CarelineLabs/CarePath/internal/escalation"
	"github.com/CarelineLabs/CarePath/internal/flows"
	"github.com/CarelineLabs/CarePath/internal/models"
)

type recordingSink struct {
	mu    sync.Mutex
	turns []models.TurnLog
}

func (s *recordingSink) LogTurn(ctx context.Context, turn models.TurnLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

func (s *recordingSink) all() []models.TurnLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TurnLog, len(s.turns))
	copy(out, s.turns)
	return out
}

type stubAI struct{ answer string }

func (s *stubAI) AskQuestion(ctx context.Context, question string) (string, error) {
	return s.answer, nil
}

type stubEscalator struct{}

func (stubEscalator) Begin(ctx context.Context, sessionID, summary string) (escalation.Ticket, error) {
	return escalation.Ticket{Status: models.EscalationQueued, QueuePosition: 1}, nil
}
func (stubEscalator) Relay(ctx context.Context, sessionID, text string) error { return nil }
func (stubEscalator) Release(sessionID string)                                {}

func newTestRouter(sink *recordingSink) (*Router, *Controller) {
	deps := flows.Deps{Analytics: sink, AI: &stubAI{answer: "ok"}, Escalations: stubEscalator{}}
	ctrl := NewController(deps)
	return NewRouter(ctrl.Handlers(), ctrl.HandleDefault, sink), ctrl
}

// route fails the test if the message log ever shrinks across a transition.
func route(t *testing.T, r *Router, sess *models.ChatSession, input string) {
	t.Helper()
	before := len(sess.Messages)
	if err := r.Route(context.Background(), sess, input); err != nil {
		t.Fatalf("Route(%q) failed: %v", input, err)
	}
	if len(sess.Messages) < before {
		t.Fatalf("message log shrank from %d to %d", before, len(sess.Messages))
	}
}

func TestOnboardingTransitions(t *testing.T) {
	sink := &recordingSink{}
	r, ctrl := newTestRouter(sink)
	sess := models.NewChatSession("s1")
	ctrl.Greet(context.Background(), sess)

	if sess.CurrentStep != models.StepLanguage {
		t.Fatalf("expected language step after greet, got %q", sess.CurrentStep)
	}
	if len(sess.Messages) == 0 {
		t.Fatal("greet appended no onboarding turns")
	}

	route(t, r, sess, "English")
	if sess.CurrentStep != models.StepGender {
		t.Fatalf("expected gender step, got %q", sess.CurrentStep)
	}
	if sess.Language != "English" {
		t.Errorf("language not recorded: %q", sess.Language)
	}

	route(t, r, sess, "Female")
	if sess.CurrentStep != models.StepRegion {
		t.Fatalf("expected state step, got %q", sess.CurrentStep)
	}

	route(t, r, sess, "lagos")
	if sess.Region != "Lagos" {
		t.Errorf("region not recorded: %q", sess.Region)
	}
	route(t, r, sess, "Ikeja")
	if sess.CurrentStep != models.StepAge {
		t.Fatalf("expected age step, got %q", sess.CurrentStep)
	}

	route(t, r, sess, "18-24")
	route(t, r, sess, "Single")
	if sess.CurrentStep != models.StepFPMIntent {
		t.Fatalf("expected intention step, got %q", sess.CurrentStep)
	}
	if sess.MaritalStatus != "Single" {
		t.Errorf("marital status not recorded: %q", sess.MaritalStatus)
	}
}

func TestIntentionDelegation(t *testing.T) {
	r, _ := newTestRouter(&recordingSink{})
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepFPMIntent

	route(t, r, sess, "Get pregnant")
	if sess.UserIntention != "Get pregnant" {
		t.Errorf("intention not recorded: %q", sess.UserIntention)
	}
	if sess.CurrentStep != models.StepConceiveDuration {
		t.Errorf("expected conceive duration step, got %q", sess.CurrentStep)
	}
}

func TestRouterInterceptsConfusionAtStrictStep(t *testing.T) {
	r, _ := newTestRouter(&recordingSink{})
	sess := models.NewChatSession("s1")

	route(t, r, sess, "hi")
	if sess.CurrentStep != models.StepLanguage {
		t.Errorf("confused input advanced the step to %q", sess.CurrentStep)
	}
	if sess.ConfusionEvents != 1 {
		t.Errorf("expected 1 confusion event, got %d", sess.ConfusionEvents)
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.Role != models.RoleBot {
		t.Errorf("expected a help reply, got role %q", last.Role)
	}
}

func TestRouterRepetitionTriggersConfusion(t *testing.T) {
	r, _ := newTestRouter(&recordingSink{})
	sess := models.NewChatSession("s1")

	route(t, r, sess, "banana")
	route(t, r, sess, "banana")
	route(t, r, sess, "banana")
	if sess.ConfusionEvents == 0 {
		t.Error("triple repetition at a strict step never flagged confusion")
	}
	if sess.CurrentStep != models.StepLanguage {
		t.Errorf("repetition advanced the step to %q", sess.CurrentStep)
	}
}

func TestDefaultHandlerKeywords(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantStep models.Step
		wantText string
	}{
		{"menu", "menu please", models.StepFPMIntent, "what I can help you with"},
		{"human", "I want a human", models.StepAgentTypeSelection, "Human agent"},
		{"clinic", "clinic", models.StepSessionEnd, "clinic"},
		{"update", "update", models.StepLanguage, "update your details"},
		{"unknown", "asdf ghjk", models.StepSessionEnd, "didn't understand"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRouter(&recordingSink{})
			sess := models.NewChatSession("s1")
			sess.CurrentStep = models.StepSessionEnd

			route(t, r, sess, tc.input)
			if sess.CurrentStep != tc.wantStep {
				t.Errorf("expected step %q, got %q", tc.wantStep, sess.CurrentStep)
			}
			last := sess.Messages[len(sess.Messages)-1]
			if !strings.Contains(last.Text, tc.wantText) {
				t.Errorf("expected reply containing %q, got %q", tc.wantText, last.Text)
			}
		})
	}
}

func TestIntentTaggingIsAnalyticsOnly(t *testing.T) {
	sink := &recordingSink{}
	r, _ := newTestRouter(sink)
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepRegion

	// "Menu" inside a state answer is tagged for analytics but still
	// handled by the region step.
	route(t, r, sess, "Menu")
	if sess.Region == "" {
		t.Error("intent tagging overrode step dispatch")
	}

	tagged := false
	for _, turn := range sink.all() {
		if turn.Role == models.RoleUser && turn.Intent == "menu" {
			tagged = true
		}
	}
	if !tagged {
		t.Error("user turn never tagged with the menu intent")
	}
}

func TestFreeTextStepsSkipConfusionDetector(t *testing.T) {
	r, _ := newTestRouter(&recordingSink{})
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepRegion

	// "hi" would score as confused at a button step, but the state
	// question is free text.
	route(t, r, sess, "Oyo")
	if sess.ConfusionEvents != 0 {
		t.Errorf("free-text step flagged confusion: %d events", sess.ConfusionEvents)
	}
	if sess.CurrentStep != models.StepLGA {
		t.Errorf("expected LGA step, got %q", sess.CurrentStep)
	}
}
