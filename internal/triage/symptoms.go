package triage

import "strings"

// symptomVocabulary lists canonical symptom terms in output order. It covers every
// critical phrase and combination symptom used by the predictor.
var symptomVocabulary = []string{
	"snake bite",
	"animal bite",
	"dog bite",
	"spider bite",
	"insect bite",
	"poisoning",
	"overdose",
	"heart attack",
	"stroke",
	"seizure",
	"fruity breath",
	"chest pain",
	"shortness of breath",
	"difficulty breathing",
	"wheezing",
	"severe headache",
	"headache",
	"stiff neck",
	"confusion",
	"high fever",
	"fever",
	"cough",
	"sore throat",
	"fatigue",
	"frequent urination",
	"increased thirst",
	"nausea",
	"vomiting",
	"diarrhea",
	"severe abdominal pain",
	"stomach",
	"severe bleeding",
	"loss of consciousness",
	"suicidal thoughts",
	"severe pain",
	"dizzy",
	"rash",
	"swelling",
	"body aches",
	"pain",
}

var symptomAliases = []struct {
	phrase    string
	canonical string
}{
	{"bit by a snake", "snake bite"},
	{"bitten by a snake", "snake bite"},
	{"bitten by a dog", "dog bite"},
	{"dog bit", "dog bite"},
	{"short of breath", "shortness of breath"},
	{"breathless", "shortness of breath"},
	{"can't breathe", "difficulty breathing"},
	{"cannot breathe", "difficulty breathing"},
	{"trouble breathing", "difficulty breathing"},
	{"hard to breathe", "difficulty breathing"},
	{"migraine", "headache"},
	{"neck is stiff", "stiff neck"},
	{"confused", "confusion"},
	{"temperature", "fever"},
	{"feverish", "fever"},
	{"tired", "fatigue"},
	{"exhausted", "fatigue"},
	{"throwing up", "vomiting"},
	{"threw up", "vomiting"},
	{"vomit", "vomiting"},
	{"nauseous", "nausea"},
	{"stomach ache", "stomach"},
	{"stomachache", "stomach"},
	{"abdominal pain", "stomach"},
	{"belly", "stomach"},
	{"urinating a lot", "frequent urination"},
	{"peeing a lot", "frequent urination"},
	{"very thirsty", "increased thirst"},
	{"always thirsty", "increased thirst"},
	{"passed out", "loss of consciousness"},
	{"fainted", "loss of consciousness"},
	{"dizziness", "dizzy"},
	{"aching", "body aches"},
}

// ExtractSymptoms returns the canonical symptoms mentioned in user messages, in
// vocabulary order and without duplicates.
func ExtractSymptoms(history []Message) []string {
	var b strings.Builder
	for _, msg := range history {
		if msg.Role != RoleUser {
			continue
		}
		b.WriteString(normalize(msg.Content))
		b.WriteByte('\n')
	}
	return symptomsInText(b.String())
}

// NormalizeSymptoms lowercases, trims and deduplicates a caller supplied list,
// preserving order and dropping blanks.
func NormalizeSymptoms(symptoms []string) []string {
	out := make([]string, 0, len(symptoms))
	seen := make(map[string]struct{}, len(symptoms))
	for _, s := range symptoms {
		s = strings.Join(strings.Fields(normalize(s)), " ")
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func symptomsInText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	found := make(map[string]bool)
	for _, term := range symptomVocabulary {
		if strings.Contains(text, term) {
			found[term] = true
		}
	}
	for _, alias := range symptomAliases {
		if strings.Contains(text, alias.phrase) {
			found[alias.canonical] = true
		}
	}
	out := make([]string, 0, len(found))
	for _, term := range symptomVocabulary {
		if found[term] {
			out = append(out, term)
		}
	}
	return out
}
