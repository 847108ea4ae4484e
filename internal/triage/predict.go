package triage

import (
	"math"
	"sort"
	"strings"
)

const (
	// UndeterminedCondition is the placeholder returned when nothing matches.
	UndeterminedCondition = "Unable to determine - Please consult a doctor"

	maxPredictions = 5
)

type curated struct {
	condition  string
	confidence float64
	emergency  bool
}

type criticalEntry struct {
	phrase     string
	conditions []curated
}

// criticalPhrases are checked in order against the joined symptom text. A hit
// returns the curated list as-is.
var criticalPhrases = []criticalEntry{
	{"snake bite", []curated{
		{"Snake Bite Envenomation", 0.95, true},
		{"Venomous Snake Bite", 0.90, true},
	}},
	{"animal bite", []curated{
		{"Animal Bite Injury", 0.90, true},
		{"Rabies Risk", 0.70, true},
	}},
	{"dog bite", []curated{
		{"Dog Bite Injury", 0.95, true},
		{"Rabies Risk", 0.60, true},
	}},
	{"spider bite", []curated{
		{"Spider Bite", 0.90, false},
		{"Arachnid Envenomation", 0.70, false},
	}},
	{"insect bite", []curated{
		{"Insect Bite/Sting", 0.85, false},
		{"Allergic Reaction", 0.50, false},
	}},
	{"poisoning", []curated{
		{"Poisoning/Toxicity", 0.90, true},
	}},
	{"overdose", []curated{
		{"Drug Overdose", 0.95, true},
	}},
	{"heart attack", []curated{
		{"Myocardial Infarction (Heart Attack)", 0.95, true},
	}},
	{"stroke", []curated{
		{"Cerebrovascular Accident (Stroke)", 0.95, true},
	}},
	{"seizure", []curated{
		{"Seizure Disorder", 0.85, true},
		{"Epilepsy", 0.60, false},
	}},
}

type comboEntry struct {
	symptoms   []string
	conditions []curated
}

// symptomCombinations are scanned in order; the order is the tie-break for equal
// adjusted confidence.
var symptomCombinations = []comboEntry{
	{[]string{"fruity breath", "stomach"}, []curated{
		{"Diabetic Ketoacidosis", 0.90, true},
		{"Severe Hyperglycemia", 0.75, true},
		{"Metabolic Acidosis", 0.60, true},
	}},
	{[]string{"fruity breath"}, []curated{
		{"Diabetic Ketoacidosis", 0.85, true},
		{"Uncontrolled Diabetes", 0.70, true},
	}},
	{[]string{"chest pain", "shortness of breath"}, []curated{
		{"Heart Attack", 0.70, true},
		{"Angina", 0.60, true},
		{"Pulmonary Embolism", 0.55, true},
		{"Panic Attack", 0.50, false},
	}},
	{[]string{"chest pain"}, []curated{
		{"Acute Coronary Syndrome", 0.65, true},
		{"Angina", 0.60, true},
		{"Costochondritis", 0.45, false},
	}},
	{[]string{"snake bite"}, []curated{
		{"Snake Bite Envenomation", 0.95, true},
		{"Venomous Snake Bite", 0.90, true},
	}},
	{[]string{"animal bite"}, []curated{
		{"Animal Bite Infection", 0.80, true},
		{"Rabies Risk", 0.40, true},
		{"Cellulitis", 0.60, false},
	}},
	{[]string{"headache", "fever", "stiff neck"}, []curated{
		{"Meningitis", 0.75, true},
		{"Encephalitis", 0.65, true},
		{"Migraine", 0.50, false},
	}},
	{[]string{"severe headache", "confusion"}, []curated{
		{"Stroke", 0.70, true},
		{"Intracranial Hemorrhage", 0.65, true},
		{"Severe Migraine", 0.50, false},
	}},
	{[]string{"difficulty breathing", "wheezing"}, []curated{
		{"Severe Asthma Attack", 0.75, true},
		{"Anaphylaxis", 0.70, true},
		{"Pneumonia", 0.60, false},
	}},
	{[]string{"severe abdominal pain", "fever"}, []curated{
		{"Appendicitis", 0.70, true},
		{"Peritonitis", 0.65, true},
		{"Pancreatitis", 0.60, true},
	}},
	{[]string{"fever", "cough", "fatigue"}, []curated{
		{"Common Cold", 0.75, false},
		{"Influenza", 0.65, false},
		{"COVID-19", 0.60, false},
	}},
	{[]string{"frequent urination", "increased thirst", "fatigue"}, []curated{
		{"Diabetes", 0.80, false},
		{"Urinary Tract Infection", 0.60, false},
	}},
	{[]string{"nausea", "vomiting", "diarrhea"}, []curated{
		{"Gastroenteritis", 0.75, false},
		{"Food Poisoning", 0.70, false},
	}},
	{[]string{"fever", "pain"}, []curated{
		{"Infection", 0.60, false},
		{"Inflammatory Condition", 0.50, false},
	}},
}

// Undetermined returns the single placeholder prediction.
func Undetermined() []Prediction {
	return []Prediction{{Condition: UndeterminedCondition, Confidence: 0}}
}

// IsUndetermined reports whether predictions is the placeholder list.
func IsUndetermined(predictions []Prediction) bool {
	return len(predictions) == 1 && predictions[0].Condition == UndeterminedCondition
}

// PredictConditions maps symptoms to ranked candidate conditions using the
// critical phrase table first and the combination table second. It never returns
// an empty list.
func PredictConditions(symptoms []string) []Prediction {
	normalized := NormalizeSymptoms(symptoms)
	if len(normalized) == 0 {
		return Undetermined()
	}

	if preds, ok := matchCritical(normalized); ok {
		return preds
	}

	preds := matchCombinations(normalized)
	if len(preds) == 0 {
		return Undetermined()
	}
	return preds
}

func matchCritical(symptoms []string) ([]Prediction, bool) {
	text := strings.Join(symptoms, " ")
	for _, entry := range criticalPhrases {
		if !strings.Contains(text, entry.phrase) {
			continue
		}
		out := make([]Prediction, 0, len(entry.conditions))
		for _, c := range entry.conditions {
			out = append(out, Prediction{
				Condition:        c.condition,
				Confidence:       c.confidence,
				Emergency:        c.emergency,
				MatchingSymptoms: []string{entry.phrase},
			})
		}
		return out, true
	}
	return nil, false
}

func matchCombinations(symptoms []string) []Prediction {
	present := make(map[string]struct{}, len(symptoms))
	for _, s := range symptoms {
		present[s] = struct{}{}
	}

	var candidates []Prediction
	for _, entry := range symptomCombinations {
		var matched []string
		for _, s := range entry.symptoms {
			if _, ok := present[s]; ok {
				matched = append(matched, s)
			}
		}
		if len(matched) == 0 {
			continue
		}
		ratio := float64(len(matched)) / float64(len(entry.symptoms))
		for _, c := range entry.conditions {
			candidates = append(candidates, Prediction{
				Condition:        c.condition,
				Confidence:       round2(c.confidence * ratio),
				Emergency:        c.emergency,
				MatchingSymptoms: append([]string(nil), matched...),
			})
		}
	}

	return rankPredictions(candidates)
}

// rankPredictions sorts by confidence descending, keeping insertion order for ties,
// and keeps the top entries.
func rankPredictions(preds []Prediction) []Prediction {
	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Confidence > preds[j].Confidence
	})
	if len(preds) > maxPredictions {
		preds = preds[:maxPredictions]
	}
	return preds
}

// IsEmergencyCondition reports whether a condition name denotes an emergency. It
// is used to flag provider supplied conditions that omit the emergency field.
func IsEmergencyCondition(condition string) bool {
	_, ok := firstSubstring(normalize(condition), emergencyConditionTerms)
	return ok
}

var emergencyConditionTerms = []string{
	"heart attack", "stroke", "myocardial infarction", "cardiac arrest",
	"anaphylaxis", "severe allergic reaction", "meningitis", "sepsis",
	"pulmonary embolism", "aortic dissection", "ectopic pregnancy",
	"acute abdomen", "appendicitis", "peritonitis", "pancreatitis",
	"diabetic ketoacidosis", "severe hypoglycemia", "respiratory failure",
	"pneumothorax", "hemothorax", "intracranial hemorrhage",
	"subarachnoid hemorrhage", "acute coronary syndrome", "venomous",
	"envenomation", "snake bite", "poisoning", "overdose", "severe bleeding",
	"hemorrhage", "trauma", "fracture",
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
