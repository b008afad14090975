package flows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CarelineLabs/CarePath/internal/analytics"
	"github.com/CarelineLabs/CarePath/internal/escalation"
	"github.com/CarelineLabs/CarePath/internal/genai"
	"github.com/CarelineLabs/CarePath/internal/models"
)

type fakeAI struct {
	answer string
	err    error
	asked  []string
}

func (f *fakeAI) AskQuestion(ctx context.Context, question string) (string, error) {
	f.asked = append(f.asked, question)
	return f.answer, f.err
}

type fakeEscalator struct {
	ticket   escalation.Ticket
	beginErr error
	relayErr error
	began    []string
	relayed  []string
	released []string
}

func (f *fakeEscalator) Begin(ctx context.Context, sessionID, summary string) (escalation.Ticket, error) {
	f.began = append(f.began, summary)
	return f.ticket, f.beginErr
}

func (f *fakeEscalator) Relay(ctx context.Context, sessionID, text string) error {
	f.relayed = append(f.relayed, text)
	return f.relayErr
}

func (f *fakeEscalator) Release(sessionID string) {
	f.released = append(f.released, sessionID)
}

func testDeps() Deps {
	return Deps{Analytics: analytics.NoopSink{}, AI: &fakeAI{}, Escalations: &fakeEscalator{}}
}

func lastBotText(t *testing.T, sess *models.ChatSession) string {
	t.Helper()
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == models.RoleBot {
			return sess.Messages[i].Text
		}
	}
	t.Fatal("no bot message in session")
	return ""
}

func TestPreventionHappyPath(t *testing.T) {
	p := NewPrevention(testDeps())
	sess := models.NewChatSession("s1")

	if err := p.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sess.CurrentStep != models.StepPreventionDuration {
		t.Fatalf("expected duration step, got %q", sess.CurrentStep)
	}

	if err := p.HandleDuration(context.Background(), sess, "Up to 1 year"); err != nil {
		t.Fatalf("HandleDuration failed: %v", err)
	}
	if sess.CurrentStep != models.StepPreventionMethods {
		t.Fatalf("expected methods step, got %q", sess.CurrentStep)
	}
	if !strings.Contains(lastBotText(t, sess), "Male condoms") {
		t.Errorf("method list missing expected method: %q", lastBotText(t, sess))
	}

	if err := p.HandleMethodSelection(context.Background(), sess, "male condoms"); err != nil {
		t.Fatalf("HandleMethodSelection failed: %v", err)
	}
	if sess.CurrentStep != models.StepPreventionMethodDetail {
		t.Fatalf("expected method detail step, got %q", sess.CurrentStep)
	}

	if err := p.HandleMethodDetail(context.Background(), sess, "continue"); err != nil {
		t.Fatalf("HandleMethodDetail failed: %v", err)
	}
	if sess.CurrentStep != models.StepPreventionNextAction {
		t.Fatalf("expected next-action step, got %q", sess.CurrentStep)
	}

	if err := p.HandleNextAction(context.Background(), sess, "End chat"); err != nil {
		t.Fatalf("HandleNextAction failed: %v", err)
	}
	if sess.CurrentStep != models.StepSessionEnd {
		t.Errorf("expected session end, got %q", sess.CurrentStep)
	}
}

func TestPreventionUnmatchedDurationStays(t *testing.T) {
	p := NewPrevention(testDeps())
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepPreventionDuration

	before := len(sess.Messages)
	if err := p.HandleDuration(context.Background(), sess, "whenever"); err != nil {
		t.Fatalf("HandleDuration failed: %v", err)
	}
	if sess.CurrentStep != models.StepPreventionDuration {
		t.Errorf("unmatched input advanced the step to %q", sess.CurrentStep)
	}
	if len(sess.Messages) <= before {
		t.Error("expected a re-prompt to be appended")
	}
}

func TestPreventionEmergencyPath(t *testing.T) {
	p := NewPrevention(testDeps())
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepPreventionDuration

	if err := p.HandleDuration(context.Background(), sess, "Emergency (within 5 days)"); err != nil {
		t.Fatalf("HandleDuration failed: %v", err)
	}
	if sess.CurrentStep != models.StepEmergencyProduct {
		t.Fatalf("expected emergency product step, got %q", sess.CurrentStep)
	}

	if err := p.HandleEmergencyProduct(context.Background(), sess, "Postinor-2"); err != nil {
		t.Fatalf("HandleEmergencyProduct failed: %v", err)
	}
	if sess.CurrentStep != models.StepEmergencyNextAction {
		t.Fatalf("expected emergency next-action step, got %q", sess.CurrentStep)
	}

	if err := p.HandleEmergencyNextAction(context.Background(), sess, "Learn about regular methods"); err != nil {
		t.Fatalf("HandleEmergencyNextAction failed: %v", err)
	}
	if sess.CurrentStep != models.StepPreventionDuration {
		t.Errorf("expected return to duration step, got %q", sess.CurrentStep)
	}
}

func TestSwitchStopRecordsMethodAndConcern(t *testing.T) {
	deps := testDeps()
	s := NewSwitchStop(deps, NewPrevention(deps))
	sess := models.NewChatSession("s1")

	if err := s.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.HandleCurrentMethod(context.Background(), sess, "Injectables"); err != nil {
		t.Fatalf("HandleCurrentMethod failed: %v", err)
	}
	if sess.CurrentFPMMethod != "Injectables" {
		t.Errorf("current method not recorded: %q", sess.CurrentFPMMethod)
	}
	if sess.CurrentStep != models.StepConcernType {
		t.Fatalf("expected concern type step, got %q", sess.CurrentStep)
	}

	if err := s.HandleConcernType(context.Background(), sess, "Switch to another method"); err != nil {
		t.Fatalf("HandleConcernType failed: %v", err)
	}
	if sess.CurrentConcernType != concernSwitch {
		t.Errorf("concern type not recorded: %q", sess.CurrentConcernType)
	}
	if sess.CurrentStep != models.StepSwitchConcern {
		t.Fatalf("expected switch concern step, got %q", sess.CurrentStep)
	}

	if err := s.HandleSwitchConcern(context.Background(), sess, "Side effects"); err != nil {
		t.Fatalf("HandleSwitchConcern failed: %v", err)
	}
	if sess.CurrentStep != models.StepSwitchRecommendation {
		t.Errorf("expected recommendation step, got %q", sess.CurrentStep)
	}
}

func TestSwitchStopStopBranch(t *testing.T) {
	deps := testDeps()
	s := NewSwitchStop(deps, NewPrevention(deps))
	sess := models.NewChatSession("s1")
	sess.CurrentFPMMethod = "Implants"
	sess.CurrentStep = models.StepConcernType

	if err := s.HandleConcernType(context.Background(), sess, "Stop using it"); err != nil {
		t.Fatalf("HandleConcernType failed: %v", err)
	}
	if sess.CurrentConcernType != concernStop {
		t.Errorf("concern type not recorded: %q", sess.CurrentConcernType)
	}
	if sess.CurrentStep != models.StepStopReason {
		t.Fatalf("expected stop reason step, got %q", sess.CurrentStep)
	}

	if err := s.HandleStopReason(context.Background(), sess, "I want to get pregnant"); err != nil {
		t.Fatalf("HandleStopReason failed: %v", err)
	}
	if sess.CurrentStep != models.StepStopAdvice {
		t.Fatalf("expected stop advice step, got %q", sess.CurrentStep)
	}

	if err := s.HandleStopAdvice(context.Background(), sess, "Ask a question"); err != nil {
		t.Fatalf("HandleStopAdvice failed: %v", err)
	}
	if sess.CurrentStep != models.StepQuestion {
		t.Errorf("expected question step, got %q", sess.CurrentStep)
	}
}

func TestConceiveReferralAfterAYear(t *testing.T) {
	c := NewConceive(testDeps())
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepConceiveDuration

	if err := c.HandleDuration(context.Background(), sess, "More than a year"); err != nil {
		t.Fatalf("HandleDuration failed: %v", err)
	}
	if sess.CurrentStep != models.StepConceiveAdvice {
		t.Fatalf("expected advice step, got %q", sess.CurrentStep)
	}
	found := false
	for _, m := range sess.Messages {
		if strings.Contains(m.Text, "fertility clinic") {
			found = true
		}
	}
	if !found {
		t.Error("expected a fertility clinic referral")
	}

	if err := c.HandleAdvice(context.Background(), sess, "ok"); err != nil {
		t.Fatalf("HandleAdvice failed: %v", err)
	}
	if sess.CurrentStep != models.StepConceiveNextAction {
		t.Errorf("expected next-action step, got %q", sess.CurrentStep)
	}
}

func TestCounselorAnswer(t *testing.T) {
	ai := &fakeAI{answer: "Condoms are up to 98% effective with typical use."}
	deps := testDeps()
	deps.AI = ai
	c := NewCounselor(deps)
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepQuestion

	if err := c.HandleQuestion(context.Background(), sess, "How effective are condoms?"); err != nil {
		t.Fatalf("HandleQuestion failed: %v", err)
	}
	if sess.CurrentStep != models.StepQuestion {
		t.Errorf("answer should keep the question step, got %q", sess.CurrentStep)
	}
	if len(ai.asked) != 1 {
		t.Errorf("expected 1 AI call, got %d", len(ai.asked))
	}
}

func TestCounselorFailureFallsBackToAgentSelection(t *testing.T) {
	deps := testDeps()
	deps.AI = &fakeAI{err: errors.New("upstream down")}
	c := NewCounselor(deps)
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepQuestion

	if err := c.HandleQuestion(context.Background(), sess, "anything"); err != nil {
		t.Fatalf("HandleQuestion returned error: %v", err)
	}
	if sess.CurrentStep != models.StepAgentTypeSelection {
		t.Errorf("expected agent type selection, got %q", sess.CurrentStep)
	}
	if !strings.Contains(lastBotText(t, sess), "sorry") {
		t.Errorf("expected an apology, got %q", lastBotText(t, sess))
	}
}

func TestCounselorSentinels(t *testing.T) {
	deps := testDeps()
	deps.AI = &fakeAI{answer: genai.SentinelOutOfDomain}
	c := NewCounselor(deps)
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepQuestion

	if err := c.HandleQuestion(context.Background(), sess, "who won the match?"); err != nil {
		t.Fatalf("HandleQuestion failed: %v", err)
	}
	if sess.CurrentStep != models.StepQuestion {
		t.Errorf("out-of-domain should keep the question step, got %q", sess.CurrentStep)
	}

	deps.AI = &fakeAI{answer: genai.SentinelConversationEnd}
	c = NewCounselor(deps)
	if err := c.HandleQuestion(context.Background(), sess, "thanks, bye"); err != nil {
		t.Fatalf("HandleQuestion failed: %v", err)
	}
	if sess.CurrentStep != models.StepSessionEnd {
		t.Errorf("conversation end should close the session, got %q", sess.CurrentStep)
	}
}

func TestCounselorHumanHandoff(t *testing.T) {
	esc := &fakeEscalator{ticket: escalation.Ticket{
		Status:        models.EscalationQueued,
		QueuePosition: 2,
	}}
	deps := testDeps()
	deps.Escalations = esc
	c := NewCounselor(deps)
	sess := models.NewChatSession("s1")
	sess.Language = "English"
	sess.CurrentStep = models.StepAgentTypeSelection

	if err := c.HandleAgentTypeSelection(context.Background(), sess, "Human agent"); err != nil {
		t.Fatalf("HandleAgentTypeSelection failed: %v", err)
	}
	if sess.CurrentStep != models.StepWaitingAgent {
		t.Fatalf("expected waiting step, got %q", sess.CurrentStep)
	}
	if sess.EscalationStatus != models.EscalationQueued {
		t.Errorf("expected QUEUED status, got %q", sess.EscalationStatus)
	}
	if sess.QueuePosition != 2 {
		t.Errorf("expected queue position 2, got %d", sess.QueuePosition)
	}
	if len(esc.began) != 1 || !strings.Contains(esc.began[0], "English") {
		t.Errorf("expected a summary carrying the language, got %v", esc.began)
	}
}

func TestCounselorWaitingCancel(t *testing.T) {
	esc := &fakeEscalator{}
	deps := testDeps()
	deps.Escalations = esc
	c := NewCounselor(deps)
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepWaitingAgent
	sess.EscalationStatus = models.EscalationQueued
	sess.QueuePosition = 4

	if err := c.HandleWaitingAgent(context.Background(), sess, "cancel"); err != nil {
		t.Fatalf("HandleWaitingAgent failed: %v", err)
	}
	if sess.CurrentStep != models.StepQuestion {
		t.Errorf("expected question step after cancel, got %q", sess.CurrentStep)
	}
	if sess.EscalationStatus != models.EscalationIdle {
		t.Errorf("expected idle status, got %q", sess.EscalationStatus)
	}
	if len(esc.released) != 1 {
		t.Errorf("expected one release, got %d", len(esc.released))
	}
}

func TestCounselorRelayFailureReverts(t *testing.T) {
	esc := &fakeEscalator{relayErr: models.ErrNoAssignedAgent}
	deps := testDeps()
	deps.Escalations = esc
	c := NewCounselor(deps)
	sess := models.NewChatSession("s1")
	sess.CurrentStep = models.StepWithHuman
	sess.EscalationStatus = models.EscalationActive
	sess.AssignedAgent = "Amina"

	if err := c.HandleWithHuman(context.Background(), sess, "hello?"); err != nil {
		t.Fatalf("HandleWithHuman returned error: %v", err)
	}
	if sess.CurrentStep != models.StepQuestion {
		t.Errorf("expected revert to question step, got %q", sess.CurrentStep)
	}
	if sess.AssignedAgent != "" {
		t.Errorf("expected cleared agent, got %q", sess.AssignedAgent)
	}
}
