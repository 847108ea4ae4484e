package triage

import "strings"

const (
	emergencyWeight = 2.0
	standardWeight  = 1.0
)

var (
	fallbackCriticalKeywords = []string{
		"snake bite", "chest pain", "difficulty breathing",
		"loss of consciousness", "severe bleeding", "heart attack",
		"stroke", "poisoning", "overdose", "seizure", "fruity breath",
		"diabetic ketoacidosis",
	}
	fallbackHighKeywords = []string{
		"animal bite", "dog bite", "high fever", "severe pain",
		"confusion", "venom",
	}
	fallbackEmergencyKeywords = []string{
		"snake bite", "venomous", "chest pain", "difficulty breathing",
		"severe bleeding", "loss of consciousness", "stroke", "seizure",
		"heart attack", "poisoning", "overdose", "fruity breath",
		"diabetic ketoacidosis",
	}
)

// Score rates severity and urgency. A non-empty prediction list selects the
// weighted path; an empty one selects the keyword fallback. The two never mix.
func Score(symptoms []string, predictions []Prediction) (Severity, Urgency) {
	if len(predictions) > 0 {
		return scoreWeighted(predictions)
	}
	return scoreKeywords(symptoms)
}

// WeightedAverage returns the emergency-weighted mean confidence on a 0-100 scale.
func WeightedAverage(predictions []Prediction) float64 {
	var total, weights float64
	for _, p := range predictions {
		w := standardWeight
		if p.Emergency {
			w = emergencyWeight
		}
		total += percent(p.Confidence) * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return total / weights
}

func scoreWeighted(predictions []Prediction) (Severity, Urgency) {
	avg := WeightedAverage(predictions)

	severity := SeverityLow
	switch {
	case avg >= 60:
		severity = SeverityCritical
	case avg >= 40:
		severity = SeverityHigh
	case avg >= 20:
		severity = SeverityModerate
	}

	for _, p := range predictions {
		if p.Emergency && percent(p.Confidence) >= 50 {
			return severity, UrgencyImmediate
		}
	}
	if avg >= 50 {
		return severity, UrgencyWithin24H
	}
	return severity, UrgencyRoutine
}

func scoreKeywords(symptoms []string) (Severity, Urgency) {
	text := strings.Join(NormalizeSymptoms(symptoms), " ")

	severity := SeverityLow
	if _, ok := firstSubstring(text, fallbackCriticalKeywords); ok {
		severity = SeverityCritical
	} else if _, ok := firstSubstring(text, fallbackHighKeywords); ok {
		severity = SeverityHigh
	} else if len(symptoms) >= 4 {
		severity = SeverityModerate
	}

	urgency := UrgencyRoutine
	if _, ok := firstSubstring(text, fallbackEmergencyKeywords); ok {
		urgency = UrgencyImmediate
	} else if len(symptoms) >= 5 {
		urgency = UrgencyWithin24H
	}
	return severity, urgency
}

// percent converts a fractional confidence to the 0-100 scale. Values above 1 are
// treated as already scaled.
func percent(confidence float64) float64 {
	if confidence <= 1 {
		return confidence * 100
	}
	return confidence
}
