package models

// Step is the discrete named state of the conversation. Exactly one step is
// active at a time and it determines which handler processes the next input.
// The vocabulary is closed: unknown values route to the default handler, they
// never abort a session.
type Step string

const (
	// Onboarding / demographics capture.
	StepLanguage      Step = "language"
	StepGender        Step = "gender"
	StepRegion        Step = "state"
	StepLGA           Step = "lga"
	StepAge           Step = "age"
	StepMaritalStatus Step = "maritalStatus"

	// Topic selection (family planning method intent).
	StepFPMIntent Step = "fpm"

	// Prevent-pregnancy flow.
	StepPreventionDuration     Step = "preventionDurationSelection"
	StepPreventionMethods      Step = "preventionMethodSelection"
	StepPreventionMethodDetail Step = "preventionMethodDetail"
	StepPreventionNextAction   Step = "preventionNextAction"
	StepEmergencyProduct       Step = "emergencyProductSelection"
	StepEmergencyNextAction    Step = "emergencyNextAction"

	// Switch-or-stop-current-method flow.
	StepCurrentMethod        Step = "currentMethodSelection"
	StepConcernType          Step = "concernTypeSelection"
	StepSwitchConcern        Step = "switchConcernSelection"
	StepSwitchRecommendation Step = "switchRecommendation"
	StepStopReason           Step = "stopReasonSelection"
	StepStopAdvice           Step = "stopAdvice"

	// Trying-to-conceive flow.
	StepConceiveDuration   Step = "conceiveDurationSelection"
	StepConceiveAdvice     Step = "conceiveAdvice"
	StepConceiveNextAction Step = "conceiveNextAction"

	// Free-form Q&A and human escalation.
	StepQuestion           Step = "question"
	StepAgentTypeSelection Step = "agentTypeSelection"
	StepWithHuman          Step = "withHuman"
	StepWaitingAgent       Step = "waitingAgent"

	// Terminal / fallback.
	StepSessionEnd Step = "sessionEnd"
	StepDefault    Step = "default"
)

// allSteps is the closed step vocabulary.
var allSteps = map[Step]struct{}{
	StepLanguage: {}, StepGender: {}, StepRegion: {}, StepLGA: {}, StepAge: {},
	StepMaritalStatus: {}, StepFPMIntent: {},
	StepPreventionDuration: {}, StepPreventionMethods: {}, StepPreventionMethodDetail: {},
	StepPreventionNextAction: {}, StepEmergencyProduct: {}, StepEmergencyNextAction: {},
	StepCurrentMethod: {}, StepConcernType: {}, StepSwitchConcern: {},
	StepSwitchRecommendation: {}, StepStopReason: {}, StepStopAdvice: {},
	StepConceiveDuration: {}, StepConceiveAdvice: {}, StepConceiveNextAction: {},
	StepQuestion: {}, StepAgentTypeSelection: {}, StepWithHuman: {}, StepWaitingAgent: {},
	StepSessionEnd: {}, StepDefault: {},
}

// IsValidStep checks whether the step belongs to the closed vocabulary.
func IsValidStep(s Step) bool {
	_, ok := allSteps[s]
	return ok
}

// strictButtonSteps are steps where the rendering layer presents discrete
// choices; free text there is anomalous and goes through the confusion
// detector before dispatch.
var strictButtonSteps = map[Step]struct{}{
	StepLanguage: {}, StepGender: {}, StepAge: {}, StepMaritalStatus: {},
	StepFPMIntent: {}, StepPreventionDuration: {}, StepPreventionMethods: {},
	StepPreventionNextAction: {}, StepEmergencyProduct: {}, StepEmergencyNextAction: {},
	StepCurrentMethod: {}, StepConcernType: {}, StepSwitchConcern: {},
	StepStopReason: {}, StepConceiveDuration: {}, StepConceiveNextAction: {},
	StepAgentTypeSelection: {},
}

// IsStrictButtonStep reports whether the step expects a discrete choice
// rather than free text.
func IsStrictButtonStep(s Step) bool {
	_, ok := strictButtonSteps[s]
	return ok
}

// ExpectedInput describes the input affordance the rendering layer shows for
// the current step. The core never renders UI; it only decides this.
type ExpectedInput string

const (
	// InputButton means the step presents discrete choices.
	InputButton ExpectedInput = "button"
	// InputFreeText means the step accepts free-form text.
	InputFreeText ExpectedInput = "text"
)

// ExpectedInputFor returns the affordance for a step.
func ExpectedInputFor(s Step) ExpectedInput {
	if IsStrictButtonStep(s) {
		return InputButton
	}
	return InputFreeText
}
