package triage

var emergencyPhrases = []string{
	"chest pain",
	"can't breathe",
	"cannot breathe",
	"difficulty breathing",
	"severe pain",
	"unconscious",
	"bleeding heavily",
	"severe bleeding",
	"stroke",
	"heart attack",
	"seizure",
	"suicide",
	"suicidal",
	"overdose",
	"severe allergic",
	"anaphylaxis",
	"choking",
	"severe burn",
	"head injury",
	"severe trauma",
	"loss of consciousness",
}

// DetectEmergency reports whether text contains any emergency phrase. It is a plain
// phrase match and does not try to understand negation.
func DetectEmergency(text string) bool {
	_, ok := firstSubstring(normalize(text), emergencyPhrases)
	return ok
}

// MatchedEmergencyPhrase returns the first emergency phrase found in text.
func MatchedEmergencyPhrase(text string) (string, bool) {
	return firstSubstring(normalize(text), emergencyPhrases)
}

// EmergencyResponse is the fixed short-circuit payload. It is never merged with a
// TriageResult.
type EmergencyResponse struct {
	Summary   string    `json:"summary"`
	Message   string    `json:"message"`
	NextSteps []string  `json:"next_steps"`
	Severity  Severity  `json:"severity"`
	Urgency   Urgency   `json:"urgency"`
	RiskLevel RiskLevel `json:"risk_level"`
	Trigger   string    `json:"trigger,omitempty"`
}

const emergencyAdvisory = "URGENT: Based on what you've described, this could be a medical emergency.\n\n" +
	"PLEASE TAKE IMMEDIATE ACTION:\n" +
	"• Call emergency services (911 in US, 112 in EU, or your local emergency number)\n" +
	"• Go to the nearest emergency room immediately\n" +
	"• If symptoms worsen, don't wait - seek help NOW\n\n" +
	"Do not rely on this assistant for emergency medical advice. Your safety is the top priority."

// NewEmergencyResponse builds the fixed emergency payload for the given trigger phrase.
func NewEmergencyResponse(trigger string) EmergencyResponse {
	return EmergencyResponse{
		Summary: "EMERGENCY - Immediate Action Required",
		Message: emergencyAdvisory,
		NextSteps: []string{
			"CALL 911 OR LOCAL EMERGENCY NUMBER IMMEDIATELY",
			"Do not wait or delay seeking emergency medical care",
			"Stay on the line with emergency services",
			"Follow dispatcher instructions carefully",
		},
		Severity:  SeverityCritical,
		Urgency:   UrgencyImmediate,
		RiskLevel: RiskRed,
		Trigger:   trigger,
	}
}
