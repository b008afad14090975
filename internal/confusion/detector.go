// Package confusion scores user input for signs that the user is stuck or
// mismatched with the expected input type. Detection is a pure function over
// a fixed signal table; the router consults it before dispatching input at
// strict button steps.
//
// The weights and thresholds below are handcrafted product policy carried
// over for behavioral parity, not calibrated values. Recalibrating them is a
// product decision, not an engineering one.
package confusion

import (
	"regexp"
	"strings"

	"github.com/CarelineLabs/CarePath/internal/models"
)

// Action is the remedial action suggested for a confused user.
type Action string

const (
	// ActionRestart suggests restarting the current step from scratch.
	ActionRestart Action = "restart"
	// ActionClarify suggests re-explaining the expected input.
	ActionClarify Action = "clarify"
	// ActionGuide suggests a gentle pointer to the available options.
	ActionGuide Action = "guide"
	// ActionNone means no intervention is warranted.
	ActionNone Action = "none"
)

// Classification thresholds. The four-tier mapping is fixed policy.
const (
	// ConfusedThreshold is the confidence above which input is classified confused.
	ConfusedThreshold = 0.5
	// RestartThreshold is the confidence above which a restart is suggested.
	RestartThreshold = 0.8
	// ClarifyThreshold is the confidence above which clarification is suggested.
	ClarifyThreshold = 0.6
	// RepeatConfidence is the fixed confidence assigned to repeated input.
	RepeatConfidence = 0.9
	// ButtonMismatchWeight is added when free text arrives at a strict button step.
	ButtonMismatchWeight = 0.3
	// InterventionEventCount is the advisory event count after which human
	// escalation should be considered.
	InterventionEventCount = 3
)

// Result is the outcome of one detection pass.
type Result struct {
	IsConfused      bool
	Confidence      float64
	Reason          string
	SuggestedAction Action
}

// signal is one weighted pattern in the scoring table. Signals are not
// mutually exclusive; every match contributes its weight.
type signal struct {
	pattern *regexp.Regexp
	weight  float64
	reason  string
}

var signalTable = []signal{
	{regexp.MustCompile(`(?i)^(hi|hello|hey|yo|sup|hiya|good (morning|afternoon|evening))\b`), 0.4, "greeting instead of an answer"},
	{regexp.MustCompile(`^.{1,2}$`), 0.4, "very short input"},
	{regexp.MustCompile(`(?i)\b(help|lost|confused|stuck|don'?t (understand|get it)|no idea)\b`), 0.6, "explicit plea for help"},
	{regexp.MustCompile(`(?i)^[bcdfghjklmnpqrstvwxz]{4,}$`), 0.5, "keyboard gibberish"},
	{regexp.MustCompile(`(?i)(\?\s*$|^(what|how|why|where|who|which)\b)`), 0.3, "question where an answer was expected"},
	{regexp.MustCompile(`^\d{3,}$`), 0.2, "bare number outside option range"},
}

// Detect scores a single message. recentUserInputs are the trailing user
// turns (up to models.RecentInputWindow, oldest first) that preceded this
// message.
func Detect(message string, step models.Step, expected models.ExpectedInput, recentUserInputs []string) Result {
	trimmed := strings.TrimSpace(message)

	// Repetition takes priority over the table: the same input more than
	// once in the last three turns short-circuits immediately.
	if countOccurrences(trimmed, recentUserInputs) > 1 {
		return classify(RepeatConfidence, "repeated input")
	}

	var total float64
	var reasons []string
	for _, sig := range signalTable {
		if sig.pattern.MatchString(trimmed) {
			total += sig.weight
			reasons = append(reasons, sig.reason)
		}
	}

	if expected == models.InputButton && len(trimmed) > 3 && models.IsStrictButtonStep(step) {
		total += ButtonMismatchWeight
		reasons = append(reasons, "free text where a button was expected")
	}

	if total > 1 {
		total = 1
	}
	return classify(total, strings.Join(reasons, "; "))
}

// countOccurrences counts exact trimmed matches of msg among recent inputs.
func countOccurrences(msg string, recent []string) int {
	if msg == "" {
		return 0
	}
	n := 0
	for _, r := range recent {
		if strings.TrimSpace(r) == msg {
			n++
		}
	}
	return n
}

// classify applies the fixed four-tier threshold mapping.
func classify(confidence float64, reason string) Result {
	res := Result{
		Confidence: confidence,
		Reason:     reason,
		IsConfused: confidence > ConfusedThreshold,
	}
	switch {
	case confidence > RestartThreshold:
		res.SuggestedAction = ActionRestart
	case confidence > ClarifyThreshold:
		res.SuggestedAction = ActionClarify
	case confidence > ConfusedThreshold:
		res.SuggestedAction = ActionGuide
	default:
		res.SuggestedAction = ActionNone
	}
	return res
}
