package confusion

import (
	"strings"

	"github.com/CarelineLabs/CarePath/internal/models"
)

// Remedial help copy, keyed by suggested action. Each pair is (message for a
// button-style step, message for a free-text step); the variant is chosen by
// a substring check of the step name.
var helpMessages = map[Action][2]string{
	ActionRestart: {
		"It looks like we got a bit lost. Let's take this step again from the top — please tap one of the options shown below.",
		"It looks like we got a bit lost. Let's take this step again from the top — please type your answer in the box below.",
	},
	ActionClarify: {
		"Just to clarify: this step works with the buttons on screen. Tap the option that fits you best and we'll keep going.",
		"Just to clarify: here you can type your answer freely, and I'll take it from there.",
	},
	ActionGuide: {
		"No rush! Pick whichever option below feels right, and we'll continue from there.",
		"No rush! Type your answer whenever you're ready, and we'll continue from there.",
	},
}

// HelpMessage builds the remedial message for a detection result. It is a
// pure lookup: the action picks the copy and the step name picks the
// button/free-text variant.
func HelpMessage(res Result, step models.Step) string {
	msgs, ok := helpMessages[res.SuggestedAction]
	if !ok {
		return "Sorry, I didn't quite get that. You can tap an option below, or type 'menu' to see the main topics."
	}
	name := strings.ToLower(string(step))
	if strings.Contains(name, "button") || strings.Contains(name, "selection") {
		return msgs[0]
	}
	if models.IsStrictButtonStep(step) {
		return msgs[0]
	}
	return msgs[1]
}
