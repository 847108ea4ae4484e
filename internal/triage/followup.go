package triage

const maxFollowUps = 4

var profileQuestions = []struct {
	field    string
	question string
}{
	{"duration", "When did these symptoms first start? (hours, days, weeks ago?)"},
	{"severity", "On a scale of 1-10, how would you rate the severity? (1 being mild, 10 being the worst)"},
	{"timing", "Do the symptoms occur at specific times? (morning, after meals, at night?)"},
	{"triggers", "Have you noticed anything that triggers or worsens the symptoms?"},
	{"alleviating_factors", "Does anything make the symptoms better? (rest, medication, position?)"},
	{"medication_taken", "Have you taken any medications or tried any treatments for this?"},
}

const associatedQuestion = "Are you experiencing any other symptoms alongside this? (fever, nausea, fatigue?)"

// FollowUpQuestions suggests what to ask next. For symptom checks it asks about
// profile fields that are still missing.
func FollowUpQuestions(intent Intent, history []Message) []string {
	switch intent {
	case IntentSymptomCheck:
		profile := ExtractProfile(history)
		var out []string
		for _, q := range profileQuestions {
			if !profile.has(q.field) {
				out = append(out, q.question)
			}
		}
		out = append(out, associatedQuestion)
		if len(out) > maxFollowUps {
			out = out[:maxFollowUps]
		}
		return out
	case IntentReportAnalysis:
		return []string{
			"Do you have any questions about specific values in your report?",
			"Are you experiencing any symptoms related to these results?",
			"Has your doctor provided any recommendations?",
			"Would you like me to explain any medical terms?",
		}
	case IntentGeneral:
		return []string{
			"Is there something specific about your health you'd like to discuss?",
			"Do you have any medical reports or test results to share?",
			"Are you experiencing any symptoms or concerns?",
		}
	default:
		return nil
	}
}
