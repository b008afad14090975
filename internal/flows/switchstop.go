package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CarelineLabs/CarePath/internal/models"
)

const (
	widgetCurrentMethod = "currentMethodOptions"
	widgetConcernType   = "concernTypeOptions"
	widgetSwitchConcern = "switchConcernOptions"
	widgetStopReason    = "stopReasonOptions"
	widgetWrapUp        = "wrapUpOptions"
)

// Concern type values recorded on the session.
const (
	concernSwitch = "switch"
	concernStop   = "stop"
)

// switchConcerns maps a concern about the current method to a switch
// recommendation.
var switchConcerns = []struct {
	Label          string
	aliases        []string
	Recommendation string
}{
	{
		Label:   "Side effects",
		aliases: []string{"side effect", "effects"},
		Recommendation: "If side effects are bothering you, a hormone-free option like the Copper IUD or " +
			"condoms may suit you better. A provider can help you change over without a gap in protection.",
	},
	{
		Label:   "Worried it might fail",
		aliases: []string{"fail", "effectiveness", "not working"},
		Recommendation: "For the most reliable protection, long-acting methods like Implants or the Copper " +
			"IUD are over 99% effective and don't depend on remembering anything.",
	},
	{
		Label:   "Want something longer lasting",
		aliases: []string{"longer", "lasting", "long term"},
		Recommendation: "Implants protect for 3 to 5 years and the Copper IUD for up to 10. Both are placed " +
			"once by a provider and can be removed whenever you choose.",
	},
	{
		Label:   "Hard to get or afford",
		aliases: []string{"cost", "afford", "expensive", "hard to get"},
		Recommendation: "Condoms and daily pills are widely available at low cost from pharmacies and " +
			"health posts, no appointment needed.",
	},
	{
		Label:   "Need more privacy",
		aliases: []string{"privacy", "private", "partner doesn't know"},
		Recommendation: "Injectables like Sayana Press are very private: one visit every 3 months and " +
			"nothing to keep at home.",
	},
}

// stopReasons maps a reason for stopping to tailored advice.
var stopReasons = []struct {
	Label   string
	aliases []string
	Advice  string
}{
	{
		Label:   "I want to get pregnant",
		aliases: []string{"pregnant", "conceive", "have a baby"},
		Advice: "That's an exciting step! With pills, condoms or the IUD, fertility returns almost " +
			"immediately after stopping. After injectables it can take a few months, which is normal.",
	},
	{
		Label:   "Side effects",
		aliases: []string{"side effect", "effects"},
		Advice: "Don't stop abruptly without a plan if you still need protection. Talk to a provider first; " +
			"side effects often settle within 3 months, and there may be an alternative that suits you better.",
	},
	{
		Label:   "I don't need it anymore",
		aliases: []string{"don't need", "no longer", "not needed"},
		Advice: "That's fine. Pills and condoms you can simply stop. Implants and IUDs must be removed by a " +
			"trained provider, which is a quick procedure at any family planning clinic.",
	},
	{
		Label:   "My partner wants me to stop",
		aliases: []string{"partner", "husband", "wife"},
		Advice: "This is your decision to make together, with correct information. A provider can talk " +
			"through the options with both of you. If you still need protection meanwhile, condoms are an easy bridge.",
	},
	{
		Label:   "Health advice",
		aliases: []string{"health", "doctor said", "medical"},
		Advice: "If a health worker advised you to stop, follow their guidance and ask them which method is " +
			"safe for you instead. Most people who can't use one method can safely use another.",
	},
}

// SwitchStop helps users already on a contraceptive method either switch to
// a different one or stop safely.
type SwitchStop struct {
	deps       Deps
	prevention *Prevention
}

// NewSwitchStop creates the switch/stop flow provider.
func NewSwitchStop(deps Deps, prevention *Prevention) *SwitchStop {
	return &SwitchStop{deps: deps, prevention: prevention}
}

// Start opens the flow by asking for the current method.
func (s *SwitchStop) Start(ctx context.Context, sess *models.ChatSession) error {
	names := make([]string, 0)
	for _, b := range methodCatalog {
		names = append(names, methodNames(b)...)
	}
	s.deps.reply(ctx, sess,
		fmt.Sprintf("Which method are you currently using? %s.", strings.Join(names, ", ")),
		widgetCurrentMethod)
	sess.CurrentStep = models.StepCurrentMethod
	slog.Info("SwitchStop.Start: flow opened", "sessionID", sess.ID)
	return nil
}

// HandleCurrentMethod records the user's method and asks what they want to
// do about it.
func (s *SwitchStop) HandleCurrentMethod(ctx context.Context, sess *models.ChatSession, input string) error {
	method, ok := findMethod(input)
	if !ok {
		slog.Debug("SwitchStop.HandleCurrentMethod: unmatched method", "sessionID", sess.ID, "input", input)
		s.deps.reply(ctx, sess,
			"I don't recognize that method. Please pick one from the list above.",
			widgetCurrentMethod)
		return nil
	}

	sess.CurrentFPMMethod = method.Name
	s.deps.reply(ctx, sess,
		fmt.Sprintf("Got it, you're using %s. Would you like to Switch to another method, or Stop using it?",
			method.Name),
		widgetConcernType)
	sess.CurrentStep = models.StepConcernType
	slog.Info("SwitchStop.HandleCurrentMethod: method recorded", "sessionID", sess.ID, "method", method.Name)
	return nil
}

// HandleConcernType branches into the switch or stop path.
func (s *SwitchStop) HandleConcernType(ctx context.Context, sess *models.ChatSession, input string) error {
	switch {
	case containsAny(input, "switch", "another", "change"):
		sess.CurrentConcernType = concernSwitch
		labels := make([]string, 0, len(switchConcerns))
		for _, c := range switchConcerns {
			labels = append(labels, c.Label)
		}
		s.deps.reply(ctx, sess,
			fmt.Sprintf("What worries you about %s? %s.", sess.CurrentFPMMethod, strings.Join(labels, ", ")),
			widgetSwitchConcern)
		sess.CurrentStep = models.StepSwitchConcern
	case containsAny(input, "stop", "quit", "discontinue"):
		sess.CurrentConcernType = concernStop
		labels := make([]string, 0, len(stopReasons))
		for _, r := range stopReasons {
			labels = append(labels, r.Label)
		}
		s.deps.reply(ctx, sess,
			fmt.Sprintf("Why would you like to stop? %s.", strings.Join(labels, ", ")),
			widgetStopReason)
		sess.CurrentStep = models.StepStopReason
	default:
		s.deps.reply(ctx, sess,
			"Please choose: Switch to another method, or Stop using it.",
			widgetConcernType)
		return nil
	}
	slog.Info("SwitchStop.HandleConcernType: concern recorded", "sessionID", sess.ID,
		"concernType", sess.CurrentConcernType)
	return nil
}

// HandleSwitchConcern maps the concern to a recommendation.
func (s *SwitchStop) HandleSwitchConcern(ctx context.Context, sess *models.ChatSession, input string) error {
	for _, c := range switchConcerns {
		if matchesAlias(normalize(input), c.Label, c.aliases) {
			s.deps.reply(ctx, sess, c.Recommendation, "")
			s.deps.reply(ctx, sess,
				"Would you like to See all methods, Ask a question, or End chat?",
				widgetWrapUp)
			sess.CurrentStep = models.StepSwitchRecommendation
			slog.Info("SwitchStop.HandleSwitchConcern: recommendation given", "sessionID", sess.ID,
				"concern", c.Label)
			return nil
		}
	}
	slog.Debug("SwitchStop.HandleSwitchConcern: unmatched concern", "sessionID", sess.ID, "input", input)
	s.deps.reply(ctx, sess,
		"Please pick the concern closest to yours from the list above.",
		widgetSwitchConcern)
	return nil
}

// HandleSwitchRecommendation routes the wrap-up choice after a
// recommendation.
func (s *SwitchStop) HandleSwitchRecommendation(ctx context.Context, sess *models.ChatSession, input string) error {
	return s.wrapUp(ctx, sess, input)
}

// HandleStopReason maps the stop reason to tailored advice.
func (s *SwitchStop) HandleStopReason(ctx context.Context, sess *models.ChatSession, input string) error {
	for _, r := range stopReasons {
		if matchesAlias(normalize(input), r.Label, r.aliases) {
			s.deps.reply(ctx, sess, r.Advice, "")
			s.deps.reply(ctx, sess,
				"Would you like to See all methods, Ask a question, or End chat?",
				widgetWrapUp)
			sess.CurrentStep = models.StepStopAdvice
			slog.Info("SwitchStop.HandleStopReason: advice given", "sessionID", sess.ID, "reason", r.Label)
			return nil
		}
	}
	slog.Debug("SwitchStop.HandleStopReason: unmatched reason", "sessionID", sess.ID, "input", input)
	s.deps.reply(ctx, sess,
		"Please pick the reason closest to yours from the list above.",
		widgetStopReason)
	return nil
}

// HandleStopAdvice routes the wrap-up choice after stop advice.
func (s *SwitchStop) HandleStopAdvice(ctx context.Context, sess *models.ChatSession, input string) error {
	return s.wrapUp(ctx, sess, input)
}

func (s *SwitchStop) wrapUp(ctx context.Context, sess *models.ChatSession, input string) error {
	switch {
	case containsAny(input, "method", "see all", "learn"):
		return s.prevention.Start(ctx, sess)
	case containsAny(input, "question", "ask", "counselor"):
		beginQuestionPrompt(ctx, s.deps, sess)
		return nil
	case containsAny(input, "end", "done", "bye"):
		endSession(ctx, s.deps, sess)
		return nil
	default:
		s.deps.reply(ctx, sess,
			"Please choose one: See all methods, Ask a question, or End chat.",
			widgetWrapUp)
		return nil
	}
}
