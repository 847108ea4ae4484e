package triage

import "strings"

var (
	greetingReplies = []string{
		"Hello! I'm here to help with your health questions. What's on your mind today?",
		"Hi there! How can I assist you with your health concerns?",
		"Hey! I'm your MedIntel assistant. What would you like to discuss?",
		"Hello! Ready to help you understand your health better. What brings you here today?",
	}
	farewellReplies = []string{
		"Take care! Remember, if you have serious concerns, please consult a healthcare professional.",
		"Goodbye! Feel free to come back anytime you have health questions.",
		"Take care of yourself! Don't hesitate to return if you need more information.",
		"Wishing you good health! Remember, I'm here whenever you need assistance.",
	}
	generalReplies = []string{
		"I'm here to help with your health concerns. Could you tell me more about what's bothering you?",
		"I'd be happy to assist! What specific health topic would you like to discuss?",
		"Let's talk about your health. What's on your mind?",
		"I'm listening. Please share more details so I can provide better guidance.",
	}
	clarificationReplies = []string{
		"Let me explain that differently. What specific part would you like me to clarify?",
		"I understand you need more information. What exactly would you like to know more about?",
		"Sure, I can elaborate! Which aspect should I focus on?",
		"Happy to provide more details. What's unclear?",
	}
	gatheringReplies = []string{
		"I understand. To help you better, I need to ask a few more questions about your symptoms.",
		"Thank you for sharing that. Let me ask you some additional questions to get a clearer picture.",
		"I see. To give you the most accurate assessment, I'd like to know a bit more.",
		"Okay, I'm noting that down. A few more details will help me understand your situation better.",
	}
	reportReplies = []string{
		"I can help you understand your medical report! Paste the text from your report and " +
			"I'll explain the key findings in plain language. What would you like me to focus on?",
		"Let's review your medical report together. Share the content and I'll help you " +
			"understand the results and what they might indicate about your health.",
		"I'm ready to go through your medical report. Once you share it, I'll break down the " +
			"findings. Do you have any specific concerns about the results?",
	}

	farewellWords = []string{"bye", "goodbye", "see you", "take care"}
	thanksWords   = []string{"thanks", "thank you", "appreciate"}
)

// Reply builds the deterministic assistant text for a turn. Variants rotate with
// the history length so identical inputs always produce the same text.
func Reply(intent Intent, message string, history []Message, ready bool, patient *PatientContext) string {
	text := normalize(message)
	n := len(history)

	switch intent {
	case IntentGeneral:
		switch {
		case anyWord(text, farewellWords):
			return pick(farewellReplies, n)
		case containsWord(text, "how are you") || containsWord(text, "how r u"):
			return "I'm functioning well, thank you for asking! More importantly, how are YOU feeling? " +
				"I'm here to help with any health concerns you might have."
		case anyWord(text, thanksWords):
			return "You're very welcome! I'm glad I could help. Is there anything else you'd like to know " +
				"or discuss about your health?"
		case anyWord(text, greetingKeywords):
			return pick(greetingReplies, n)
		default:
			return pick(generalReplies, n)
		}
	case IntentClarification:
		if n == 0 {
			return "I'd love to help! What would you like to know?"
		}
		return pick(clarificationReplies, n)
	case IntentSymptomCheck:
		if ready {
			return analyzingReply(patient)
		}
		return pick(gatheringReplies, n)
	case IntentReportAnalysis:
		return pick(reportReplies, n)
	default:
		return "I'm here to help with your health questions. Could you provide more details?"
	}
}

func analyzingReply(patient *PatientContext) string {
	lead := "I appreciate you sharing that information. "
	if patient != nil && patient.Age > 0 {
		lead = "Thank you for providing those details. "
	}
	return lead + "Now let me analyze what you've told me. I'll process your symptoms along with the " +
		"details you've provided about duration, severity, and timing to give you a thorough " +
		"preliminary assessment.\n\nAnalyzing your symptoms now..."
}

// AnalysisCompleteNote is appended to the reply when a triage result accompanies it.
const AnalysisCompleteNote = "Medical Analysis Complete\n\nI've analyzed your symptoms. Please review the detailed results below."

// NoSymptomsReply is used when analysis was requested but nothing could be extracted.
const NoSymptomsReply = "I'd like to help with an assessment, but I couldn't identify specific symptoms yet. " +
	"Could you describe what you're experiencing?"

func pick(options []string, n int) string {
	if len(options) == 0 {
		return ""
	}
	return options[n%len(options)]
}

// SummarizeEarlier condenses messages that fall outside the recent window into a
// short keyword summary. It looks at the last ten of them.
func SummarizeEarlier(messages []Message) string {
	if len(messages) > 10 {
		messages = messages[len(messages)-10:]
	}
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(normalize(m.Content))
		b.WriteByte(' ')
	}
	text := b.String()

	var parts []string
	if strings.Contains(text, "pain") || strings.Contains(text, "hurt") {
		parts = append(parts, "discussed pain/discomfort")
	}
	if strings.Contains(text, "medication") || strings.Contains(text, "medicine") {
		parts = append(parts, "mentioned medications")
	}
	if strings.Contains(text, "doctor") || strings.Contains(text, "hospital") {
		parts = append(parts, "talked about medical visits")
	}
	if strings.Contains(text, "test") || strings.Contains(text, "report") {
		parts = append(parts, "discussed test results")
	}
	return strings.Join(parts, "; ")
}

// SplitWindow returns the messages before the recent window and the window itself.
func SplitWindow(history []Message, window int) (earlier, recent []Message) {
	if window <= 0 || len(history) <= window {
		return nil, history
	}
	cut := len(history) - window
	return history[:cut], history[cut:]
}
