package triage

import "strings"

const maxRedFlags = 5

var redFlagPatterns = []struct {
	flag    string
	message string
}{
	{"chest pain", "Chest pain can indicate heart attack or other serious cardiac conditions"},
	{"difficulty breathing", "Breathing difficulty requires immediate medical attention"},
	{"shortness of breath", "Breathing difficulty requires immediate medical attention"},
	{"severe headache", "Severe headache may indicate serious neurological condition"},
	{"loss of consciousness", "Loss of consciousness is a medical emergency"},
	{"severe bleeding", "Severe bleeding requires immediate emergency care"},
	{"suicidal thoughts", "Call 988 (Suicide Prevention Hotline) immediately"},
	{"confusion", "Confusion may indicate serious neurological or metabolic condition"},
	{"stiff neck", "Stiff neck with fever may indicate meningitis"},
	{"seizure", "Seizures require immediate medical evaluation"},
}

// CheckRedFlags returns warnings for dangerous symptoms, formatted "FLAG: message",
// deduplicated by flag and capped at five.
func CheckRedFlags(symptoms []string) []string {
	var flags []string
	for _, symptom := range symptoms {
		s := normalize(symptom)
		for _, p := range redFlagPatterns {
			if strings.Contains(s, p.flag) {
				flags = append(flags, strings.ToUpper(p.flag)+": "+p.message)
			}
		}
	}
	return MergeRedFlags(flags)
}

// MergeRedFlags concatenates flag lists, keeps the first flag seen for each key
// (the text before the first colon, case-insensitive) and caps the result.
func MergeRedFlags(lists ...[]string) []string {
	out := make([]string, 0, maxRedFlags)
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, flag := range list {
			flag = strings.TrimSpace(flag)
			if flag == "" {
				continue
			}
			key := redFlagKey(flag)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, flag)
			if len(out) == maxRedFlags {
				return out
			}
		}
	}
	return out
}

func redFlagKey(flag string) string {
	key, _, _ := strings.Cut(flag, ":")
	return strings.ToLower(strings.TrimSpace(key))
}
