package triage

// Disclaimer is appended to every recommendation list.
const Disclaimer = "This is not a substitute for professional medical advice"

// Recommend maps severity and urgency to next actions. Urgency takes precedence.
func Recommend(severity Severity, urgency Urgency) []string {
	var out []string
	switch {
	case urgency == UrgencyImmediate:
		out = []string{
			"SEEK EMERGENCY CARE IMMEDIATELY",
			"Call 911 or go to nearest emergency room",
			"Do not drive yourself",
		}
	case severity == SeverityCritical || severity == SeverityHigh:
		out = []string{
			"Seek medical attention soon",
			"Visit urgent care or call your doctor",
			"Monitor symptoms closely",
		}
	default:
		out = []string{
			"Schedule appointment with your doctor",
			"Monitor symptoms and note any changes",
			"Rest and stay hydrated",
		}
	}
	return append(out, Disclaimer)
}

// RiskLevelFor maps an assessment onto the traffic-light band.
func RiskLevelFor(severity Severity, urgency Urgency) RiskLevel {
	switch {
	case severity == SeverityCritical || urgency == UrgencyImmediate:
		return RiskRed
	case severity == SeverityHigh || severity == SeverityModerate || urgency == UrgencyWithin24H:
		return RiskAmber
	default:
		return RiskGreen
	}
}

var (
	amberWords     = []string{"severe", "intense", "unbearable", "worst", "bleeding heavily"}
	painWords      = []string{"pain", "ache", "hurts", "sore"}
	painIntensives = []string{"10/10", "terrible", "excruciating"}
)

// KeywordRiskLevel rates a single message when no analysis has been run.
func KeywordRiskLevel(message string) RiskLevel {
	text := normalize(message)
	if _, ok := firstSubstring(text, amberWords); ok {
		return RiskAmber
	}
	if _, ok := firstSubstring(text, painWords); ok {
		if _, ok := firstSubstring(text, painIntensives); ok {
			return RiskAmber
		}
	}
	return RiskGreen
}

// NextStepsFor returns generic next steps for a risk band without an analysis.
func NextStepsFor(level RiskLevel) []string {
	if level == RiskGreen {
		return []string{
			"Follow the advice provided",
			"Monitor your condition",
			"Consult healthcare provider if symptoms worsen",
		}
	}
	return []string{
		"Monitor symptoms closely",
		"Consult healthcare provider soon",
		"Seek immediate care if symptoms worsen",
		"Keep track of all changes",
	}
}
