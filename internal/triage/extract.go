package triage

import "strings"

type profileRule struct {
	field    string
	keywords []string
	slot     func(*SymptomProfile) *string
}

var profileRules = []profileRule{
	{
		field:    "duration",
		keywords: []string{"days", "weeks", "months", "hours", "yesterday", "today", "ago"},
		slot:     func(p *SymptomProfile) *string { return &p.Duration },
	},
	{
		field:    "severity",
		keywords: []string{"severe", "mild", "moderate", "unbearable", "slight", "intense", "scale", "/10"},
		slot:     func(p *SymptomProfile) *string { return &p.Severity },
	},
	{
		field:    "timing",
		keywords: []string{"morning", "evening", "night", "after eating", "before", "during"},
		slot:     func(p *SymptomProfile) *string { return &p.Timing },
	},
	{
		field:    "triggers",
		keywords: []string{"after", "when", "triggers", "caused by", "started when"},
		slot:     func(p *SymptomProfile) *string { return &p.Triggers },
	},
	{
		field:    "alleviating_factors",
		keywords: []string{"better when", "better after", "helps", "relieves", "relieved", "eases", "goes away"},
		slot:     func(p *SymptomProfile) *string { return &p.AlleviatingFactors },
	},
	{
		field:    "aggravating_factors",
		keywords: []string{"worse", "worsens", "aggravates", "makes it hurt", "flares up"},
		slot:     func(p *SymptomProfile) *string { return &p.AggravatingFactors },
	},
	{
		field: "medication_taken",
		keywords: []string{
			"took", "taken", "taking", "medication", "medicine", "pill",
			"ibuprofen", "paracetamol", "acetaminophen", "aspirin", "antibiotic",
		},
		slot: func(p *SymptomProfile) *string { return &p.MedicationTaken },
	},
	{
		field:    "previous_episodes",
		keywords: []string{"happened before", "had this before", "again", "previously", "recurring", "first time", "history of"},
		slot:     func(p *SymptomProfile) *string { return &p.PreviousEpisodes },
	},
}

// ExtractProfile derives the symptom profile from user messages in history. Each
// field is set the first time one of its keywords appears and is never cleared.
// The result depends only on history, so repeated calls agree.
func ExtractProfile(history []Message) SymptomProfile {
	profile := SymptomProfile{AssociatedSymptoms: []string{}}

	for _, msg := range history {
		if msg.Role != RoleUser {
			continue
		}
		content := normalize(msg.Content)
		if strings.TrimSpace(content) == "" {
			continue
		}
		for _, rule := range profileRules {
			slot := rule.slot(&profile)
			if *slot != "" {
				continue
			}
			kw, ok := firstSubstring(content, rule.keywords)
			if !ok {
				continue
			}
			*slot = Mentioned
			if profile.Evidence == nil {
				profile.Evidence = make(map[string]string)
			}
			profile.Evidence[rule.field] = kw
		}
	}

	if symptoms := ExtractSymptoms(history); len(symptoms) > 1 {
		profile.AssociatedSymptoms = append(profile.AssociatedSymptoms, symptoms[1:]...)
	}
	return profile
}

// MissingFields lists profile fields that have not been mentioned yet, in rule order.
func (p SymptomProfile) MissingFields() []string {
	var out []string
	for _, rule := range profileRules {
		if *rule.slot(&p) == "" {
			out = append(out, rule.field)
		}
	}
	return out
}

func (p SymptomProfile) has(field string) bool {
	for _, rule := range profileRules {
		if rule.field == field {
			return *rule.slot(&p) != ""
		}
	}
	return false
}
