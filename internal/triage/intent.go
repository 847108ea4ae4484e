package triage

import (
	"math"
	"strings"
)

var (
	symptomKeywords = []string{
		"symptom", "pain", "ache", "hurt", "feel", "experiencing",
		"fever", "cough", "headache", "nausea", "dizzy", "tired",
		"fatigue", "sick", "sore", "swelling", "rash", "itching",
		"vomiting", "diarrhea", "breathing", "chest", "stomach",
		"back", "joint", "muscle", "throat", "ear", "nose",
	}
	reportKeywords = []string{
		"report", "test", "result", "lab", "blood", "urine",
		"x-ray", "scan", "mri", "ct", "ultrasound", "biopsy",
		"diagnosis", "prescribed", "medication", "treatment",
		"doctor said", "hospital", "clinic", "prescription",
	}
	greetingKeywords = []string{
		"hello", "hi", "hey", "good morning", "good afternoon",
		"good evening", "greetings", "how are you", "thanks",
		"thank you", "bye", "goodbye",
	}
	clarificationKeywords = []string{
		"what", "why", "how", "when", "where", "explain",
		"tell me more", "elaborate", "what does", "mean",
		"understand", "confused", "unclear", "help",
	}
)

// ClassifyIntent assigns a routing intent and confidence to message. Rules are
// evaluated in priority order and the first match wins.
func ClassifyIntent(message string, history []Message) (Intent, float64) {
	text := normalize(message)

	if anyWord(text, greetingKeywords) {
		return IntentGeneral, 0.9
	}
	if len(history) > 0 && anyWord(text, clarificationKeywords) {
		return IntentClarification, 0.85
	}

	symptomScore := countSubstrings(text, symptomKeywords)
	reportScore := countSubstrings(text, reportKeywords)

	switch {
	case symptomScore > reportScore && symptomScore > 0:
		return IntentSymptomCheck, keywordConfidence(symptomScore)
	case reportScore > symptomScore && reportScore > 0:
		return IntentReportAnalysis, keywordConfidence(reportScore)
	case len(strings.Fields(message)) < 5 && len(history) > 0:
		return IntentClarification, 0.7
	default:
		return IntentGeneral, 0.6
	}
}

func keywordConfidence(score int) float64 {
	c := 0.6 + 0.1*float64(score)
	// Rounded so 0.6+0.1*3 reports 0.9 rather than 0.8999999.
	return math.Min(0.95, math.Round(c*100)/100)
}
