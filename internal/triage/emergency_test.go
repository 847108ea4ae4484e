package triage

import "testing"

func TestDetectEmergencyMatchesEveryPhrase(t *testing.T) {
	for _, phrase := range emergencyPhrases {
		for _, text := range []string{
			phrase,
			"Help, I think this is " + phrase + " right now",
			"I " + upper(phrase) + "!",
		} {
			if !DetectEmergency(text) {
				t.Fatalf("DetectEmergency(%q) = false, want true", text)
			}
		}
	}
}

func TestDetectEmergencyIgnoresOrdinaryText(t *testing.T) {
	for _, text := range []string{
		"",
		"I have a mild headache since yesterday",
		"my knee hurts when I run",
		"can you explain my blood test results?",
	} {
		if DetectEmergency(text) {
			t.Fatalf("DetectEmergency(%q) = true, want false", text)
		}
	}
}

func TestDetectEmergencyIsNotNegationAware(t *testing.T) {
	if !DetectEmergency("I was afraid of a heart attack but it was nothing") {
		t.Fatalf("phrase match should fire regardless of negation")
	}
}

func TestDetectEmergencyFoldsCurlyApostrophes(t *testing.T) {
	if !DetectEmergency("I can’t breathe") {
		t.Fatalf("curly apostrophe not normalized")
	}
}

func TestNewEmergencyResponse(t *testing.T) {
	phrase, ok := MatchedEmergencyPhrase("Sudden CHEST PAIN on the left")
	if !ok || phrase != "chest pain" {
		t.Fatalf("MatchedEmergencyPhrase = %q, %v", phrase, ok)
	}
	resp := NewEmergencyResponse(phrase)
	if resp.Severity != SeverityCritical || resp.Urgency != UrgencyImmediate || resp.RiskLevel != RiskRed {
		t.Fatalf("unexpected rating: %+v", resp)
	}
	if resp.Trigger != "chest pain" {
		t.Fatalf("Trigger = %q", resp.Trigger)
	}
	if len(resp.NextSteps) == 0 || resp.Message == "" {
		t.Fatalf("emergency response missing content: %+v", resp)
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
