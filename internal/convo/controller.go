package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CarelineLabs/CarePath/internal/flows"
	"github.com/CarelineLabs/CarePath/internal/models"
)

// Widget references for the onboarding prompts.
const (
	widgetLanguages     = "languageOptions"
	widgetGenders       = "genderOptions"
	widgetAgeBrackets   = "ageBracketOptions"
	widgetMaritalStatus = "maritalStatusOptions"
	widgetIntentions    = "intentionOptions"
)

var languages = []string{"English", "Hausa", "Yoruba", "Igbo", "Pidgin"}

var genders = []string{"Female", "Male", "Prefer not to say"}

var ageBrackets = []string{"Under 18", "18-24", "25-34", "35-44", "45 and above"}

var maritalStatuses = []string{"Single", "Married", "In a relationship"}

// Intention menu labels, in display order.
const (
	intentPrevent   = "Prevent pregnancy in future"
	intentEmergency = "Prevent pregnancy after unprotected sex"
	intentChange    = "Change or stop my current method"
	intentConceive  = "Get pregnant"
	intentQuestion  = "Ask a question"
)

var intentions = []string{intentPrevent, intentEmergency, intentChange, intentConceive, intentQuestion}

// Controller owns message construction for onboarding (language through
// marital status), the intention menu, and delegation to the topic flows.
type Controller struct {
	deps       flows.Deps
	prevention *flows.Prevention
	switchStop *flows.SwitchStop
	conceive   *flows.Conceive
	counselor  *flows.Counselor
}

// NewController wires the controller and its flow providers.
func NewController(deps flows.Deps) *Controller {
	prevention := flows.NewPrevention(deps)
	return &Controller{
		deps:       deps,
		prevention: prevention,
		switchStop: flows.NewSwitchStop(deps, prevention),
		conceive:   flows.NewConceive(deps),
		counselor:  flows.NewCounselor(deps),
	}
}

// Handlers returns the step dispatch table. Built once at construction
// time; steps absent here fall through to HandleDefault.
func (c *Controller) Handlers() map[models.Step]HandlerFunc {
	return map[models.Step]HandlerFunc{
		models.StepLanguage:      c.HandleLanguage,
		models.StepGender:        c.HandleGender,
		models.StepRegion:        c.HandleRegion,
		models.StepLGA:           c.HandleLGA,
		models.StepAge:           c.HandleAge,
		models.StepMaritalStatus: c.HandleMaritalStatus,
		models.StepFPMIntent:     c.HandleIntention,

		models.StepPreventionDuration:     c.prevention.HandleDuration,
		models.StepPreventionMethods:      c.prevention.HandleMethodSelection,
		models.StepPreventionMethodDetail: c.prevention.HandleMethodDetail,
		models.StepPreventionNextAction:   c.prevention.HandleNextAction,
		models.StepEmergencyProduct:       c.prevention.HandleEmergencyProduct,
		models.StepEmergencyNextAction:    c.prevention.HandleEmergencyNextAction,

		models.StepCurrentMethod:        c.switchStop.HandleCurrentMethod,
		models.StepConcernType:          c.switchStop.HandleConcernType,
		models.StepSwitchConcern:        c.switchStop.HandleSwitchConcern,
		models.StepSwitchRecommendation: c.switchStop.HandleSwitchRecommendation,
		models.StepStopReason:           c.switchStop.HandleStopReason,
		models.StepStopAdvice:           c.switchStop.HandleStopAdvice,

		models.StepConceiveDuration:   c.conceive.HandleDuration,
		models.StepConceiveAdvice:     c.conceive.HandleAdvice,
		models.StepConceiveNextAction: c.conceive.HandleNextAction,

		models.StepQuestion:           c.counselor.HandleQuestion,
		models.StepAgentTypeSelection: c.counselor.HandleAgentTypeSelection,
		models.StepWaitingAgent:       c.counselor.HandleWaitingAgent,
		models.StepWithHuman:          c.counselor.HandleWithHuman,
	}
}

// Greet opens a fresh session with the welcome and language prompt.
func (c *Controller) Greet(ctx context.Context, sess *models.ChatSession) {
	c.reply(ctx, sess,
		"Welcome to CarePath! I'm here to help you with family planning, privately and judgment-free.", "")
	c.reply(ctx, sess,
		fmt.Sprintf("First, which language would you prefer? %s.", strings.Join(languages, ", ")),
		widgetLanguages)
	sess.CurrentStep = models.StepLanguage
	slog.Info("Controller.Greet: session greeted", "sessionID", sess.ID)
}

// HandleLanguage records the language and asks for gender.
func (c *Controller) HandleLanguage(ctx context.Context, sess *models.ChatSession, input string) error {
	lang, ok := matchOption(input, languages)
	if !ok {
		c.reply(ctx, sess,
			fmt.Sprintf("Please choose a language: %s.", strings.Join(languages, ", ")),
			widgetLanguages)
		return nil
	}
	sess.Language = lang
	c.reply(ctx, sess,
		fmt.Sprintf("Great, we'll chat in %s. What is your gender? %s.", lang, strings.Join(genders, ", ")),
		widgetGenders)
	sess.CurrentStep = models.StepGender
	slog.Info("Controller.HandleLanguage: language set", "sessionID", sess.ID, "language", lang)
	return nil
}

// HandleGender records gender and asks for the state of residence.
func (c *Controller) HandleGender(ctx context.Context, sess *models.ChatSession, input string) error {
	gender, ok := matchOption(input, genders)
	if !ok {
		c.reply(ctx, sess,
			fmt.Sprintf("Please choose one: %s.", strings.Join(genders, ", ")),
			widgetGenders)
		return nil
	}
	sess.Gender = gender
	c.reply(ctx, sess, "Which state do you live in?", "")
	sess.CurrentStep = models.StepRegion
	slog.Info("Controller.HandleGender: gender set", "sessionID", sess.ID)
	return nil
}

// HandleRegion records the state and asks for the LGA.
func (c *Controller) HandleRegion(ctx context.Context, sess *models.ChatSession, input string) error {
	if input == "" {
		c.reply(ctx, sess, "Please type the state you live in.", "")
		return nil
	}
	sess.Region = titleCase(input)
	c.reply(ctx, sess, "And which Local Government Area (LGA)?", "")
	sess.CurrentStep = models.StepLGA
	slog.Info("Controller.HandleRegion: region set", "sessionID", sess.ID, "region", sess.Region)
	return nil
}

// HandleLGA records the LGA and asks for the age bracket.
func (c *Controller) HandleLGA(ctx context.Context, sess *models.ChatSession, input string) error {
	if input == "" {
		c.reply(ctx, sess, "Please type your Local Government Area.", "")
		return nil
	}
	sess.LGA = titleCase(input)
	c.reply(ctx, sess,
		fmt.Sprintf("How old are you? %s.", strings.Join(ageBrackets, ", ")),
		widgetAgeBrackets)
	sess.CurrentStep = models.StepAge
	slog.Info("Controller.HandleLGA: LGA set", "sessionID", sess.ID, "lga", sess.LGA)
	return nil
}

// HandleAge records the age bracket and asks for marital status.
func (c *Controller) HandleAge(ctx context.Context, sess *models.ChatSession, input string) error {
	bracket, ok := matchOption(input, ageBrackets)
	if !ok {
		c.reply(ctx, sess,
			fmt.Sprintf("Please choose an age range: %s.", strings.Join(ageBrackets, ", ")),
			widgetAgeBrackets)
		return nil
	}
	sess.AgeBracket = bracket
	c.reply(ctx, sess,
		fmt.Sprintf("What is your marital status? %s.", strings.Join(maritalStatuses, ", ")),
		widgetMaritalStatus)
	sess.CurrentStep = models.StepMaritalStatus
	slog.Info("Controller.HandleAge: age bracket set", "sessionID", sess.ID, "bracket", bracket)
	return nil
}

// HandleMaritalStatus records marital status and shows the intention menu.
func (c *Controller) HandleMaritalStatus(ctx context.Context, sess *models.ChatSession, input string) error {
	status, ok := matchOption(input, maritalStatuses)
	if !ok {
		c.reply(ctx, sess,
			fmt.Sprintf("Please choose one: %s.", strings.Join(maritalStatuses, ", ")),
			widgetMaritalStatus)
		return nil
	}
	sess.MaritalStatus = status
	c.showIntentionMenu(ctx, sess, "Thank you! Now, what would you like to do today?")
	slog.Info("Controller.HandleMaritalStatus: status set", "sessionID", sess.ID)
	return nil
}

// HandleIntention records the chosen topic and delegates to its flow.
func (c *Controller) HandleIntention(ctx context.Context, sess *models.ChatSession, input string) error {
	intention, ok := matchOption(input, intentions)
	if !ok {
		c.reply(ctx, sess,
			fmt.Sprintf("Please pick one of the options: %s.", strings.Join(intentions, "; ")),
			widgetIntentions)
		return nil
	}
	sess.UserIntention = intention
	slog.Info("Controller.HandleIntention: intention chosen", "sessionID", sess.ID, "intention", intention)

	switch intention {
	case intentPrevent:
		return c.prevention.Start(ctx, sess)
	case intentEmergency:
		return c.prevention.StartEmergency(ctx, sess)
	case intentChange:
		return c.switchStop.Start(ctx, sess)
	case intentConceive:
		return c.conceive.Start(ctx, sess)
	default:
		return c.counselor.Start(ctx, sess)
	}
}

// HandleDefault covers the terminal step, the default step, and any step
// without a dedicated handler. It recognizes the global keywords before
// falling back to the generic reply.
func (c *Controller) HandleDefault(ctx context.Context, sess *models.ChatSession, input string) error {
	switch {
	case containsWord(input, "menu"):
		c.showIntentionMenu(ctx, sess, "Here's what I can help you with:")
		return nil
	case containsWord(input, "human") || containsWord(input, "agent"):
		c.reply(ctx, sess,
			"Would you like to talk to a Human agent, or the AI chatbot?", "agentTypeOptions")
		sess.CurrentStep = models.StepAgentTypeSelection
		return nil
	case containsWord(input, "clinic"):
		c.reply(ctx, sess,
			"You can find your nearest family planning clinic by visiting any primary health centre, or "+
				"ask your pharmacist. Type 'menu' to keep exploring methods here.", "")
		return nil
	case containsWord(input, "update"):
		c.reply(ctx, sess,
			fmt.Sprintf("Let's update your details. Which language would you prefer? %s.",
				strings.Join(languages, ", ")),
			widgetLanguages)
		sess.CurrentStep = models.StepLanguage
		return nil
	default:
		slog.Debug("Controller.HandleDefault: unrecognized input", "sessionID", sess.ID,
			"step", sess.CurrentStep)
		c.reply(ctx, sess,
			"Sorry, I didn't understand that. You can type 'menu' for the main options, 'human' to talk "+
				"to an agent, 'clinic' to find a clinic, or 'update' to change your details.", "")
		return nil
	}
}

func (c *Controller) showIntentionMenu(ctx context.Context, sess *models.ChatSession, lead string) {
	c.reply(ctx, sess,
		fmt.Sprintf("%s %s.", lead, strings.Join(intentions, "; ")),
		widgetIntentions)
	sess.CurrentStep = models.StepFPMIntent
}

// reply appends a bot turn and records it, best effort.
func (c *Controller) reply(ctx context.Context, sess *models.ChatSession, text, widgetRef string) {
	sess.Append(models.RoleBot, text, widgetRef)
	if c.deps.Analytics != nil {
		c.deps.Analytics.LogTurn(ctx, models.TurnLog{
			SessionID: sess.ID,
			Text:      text,
			Role:      models.RoleBot,
			Step:      sess.CurrentStep,
			Seq:       sess.NextSeq(),
			WidgetRef: widgetRef,
			Time:      time.Now().UnixMilli(),
		})
	}
}

// matchOption resolves an input against a button option list, case
// insensitively.
func matchOption(input string, options []string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(input))
	for _, opt := range options {
		if n == strings.ToLower(opt) {
			return opt, true
		}
	}
	return "", false
}

// containsWord reports whether the input contains the keyword as a word.
func containsWord(input, word string) bool {
	n := strings.ToLower(input)
	for _, f := range strings.FieldsFunc(n, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	}) {
		if f == word {
			return true
		}
	}
	return false
}

// titleCase uppercases the first letter of each word for stored place
// names.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
