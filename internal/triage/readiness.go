package triage

// minReadyMessages is the shortest history the readiness rule will consider.
const minReadyMessages = 3

var completionPhrases = []string{
	"that's all",
	"thats all",
	"that's it",
	"thats it",
	"done",
	"finish",
	"finished",
	"analyze",
	"analyze now",
	"give me results",
	"give me the report",
	"show me results",
	"what's the diagnosis",
	"get the report",
	"run analysis",
}

// IsReady reports whether history carries enough detail for a full analysis: at
// least three messages, and two of duration, severity, and timing-or-triggers.
func IsReady(history []Message) bool {
	if len(history) < minReadyMessages {
		return false
	}
	p := ExtractProfile(history)
	infoCount := 0
	if p.has("duration") {
		infoCount++
	}
	if p.has("severity") {
		infoCount++
	}
	if p.has("timing") || p.has("triggers") {
		infoCount++
	}
	return infoCount >= 2
}

// HasCompletionPhrase reports whether the raw latest user message asks for results.
func HasCompletionPhrase(latest string) bool {
	return anyWord(normalize(latest), completionPhrases)
}

// ReadyForAnalysis combines the explicit completion override with IsReady. The
// override is checked first and wins.
func ReadyForAnalysis(history []Message, latest string) bool {
	if HasCompletionPhrase(latest) {
		return true
	}
	return IsReady(history)
}
