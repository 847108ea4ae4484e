package triage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrInvalidHistory is returned when a supplied conversation carries a role other
// than user or assistant.
var ErrInvalidHistory = errors.New("conversation history role must be user or assistant")

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ValidateHistory checks every message role. Roles are case sensitive.
func ValidateHistory(msgs []Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidHistory, i, m.Role)
		}
	}
	return nil
}

// Message is a single conversation turn. Insertion order is the only recency signal.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Intent is the routing hint assigned to an incoming message.
type Intent string

const (
	IntentGeneral        Intent = "general_conversation"
	IntentClarification  Intent = "clarification"
	IntentSymptomCheck   Intent = "symptom_check"
	IntentReportAnalysis Intent = "report_analysis"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Urgency string

const (
	UrgencyRoutine   Urgency = "ROUTINE"
	UrgencyWithin24H Urgency = "WITHIN_24H"
	UrgencyImmediate Urgency = "IMMEDIATE"
)

// RiskLevel is the traffic-light band shown next to a reply.
type RiskLevel string

const (
	RiskGreen RiskLevel = "Green"
	RiskAmber RiskLevel = "Amber"
	RiskRed   RiskLevel = "Red"
)

// Mentioned is the sentinel stored in profile fields once a keyword has been seen.
const Mentioned = "mentioned"

// SymptomProfile is derived from the full history on every call and never stored.
type SymptomProfile struct {
	Duration           string   `json:"duration,omitempty"`
	Severity           string   `json:"severity,omitempty"`
	Timing             string   `json:"timing,omitempty"`
	Triggers           string   `json:"triggers,omitempty"`
	AlleviatingFactors string   `json:"alleviating_factors,omitempty"`
	AggravatingFactors string   `json:"aggravating_factors,omitempty"`
	MedicationTaken    string   `json:"medication_taken,omitempty"`
	PreviousEpisodes   string   `json:"previous_episodes,omitempty"`
	AssociatedSymptoms []string `json:"associated_symptoms"`

	// Evidence maps a field name to the first keyword that set it.
	Evidence map[string]string `json:"evidence,omitempty"`
}

// Prediction is a candidate condition. Confidence is a fraction in [0,1].
type Prediction struct {
	Condition        string   `json:"condition"`
	Confidence       float64  `json:"confidence"`
	Emergency        bool     `json:"emergency"`
	MatchingSymptoms []string `json:"matching_symptoms,omitempty"`
	Reasoning        string   `json:"reasoning,omitempty"`
}

// TriageResult is produced fresh for every analysis request.
type TriageResult struct {
	Predictions     []Prediction `json:"predictions"`
	Severity        Severity     `json:"severity"`
	Urgency         Urgency      `json:"urgency"`
	RedFlags        []string     `json:"red_flags"`
	Recommendations []string     `json:"recommendations"`
}

// PatientContext is pass-through annotation; no deterministic path depends on it.
type PatientContext struct {
	Age                int      `json:"age,omitempty"`
	Gender             string   `json:"gender,omitempty"`
	MedicalHistory     []string `json:"medical_history,omitempty"`
	CurrentMedications []string `json:"current_medications,omitempty"`
}

func (p *PatientContext) IsZero() bool {
	return p == nil || (p.Age == 0 && strings.TrimSpace(p.Gender) == "" &&
		len(p.MedicalHistory) == 0 && len(p.CurrentMedications) == 0)
}

// Describe renders the context as a single prompt annotation line.
func (p *PatientContext) Describe() string {
	if p.IsZero() {
		return ""
	}
	var parts []string
	if p.Age > 0 {
		parts = append(parts, "Patient age: "+strconv.Itoa(p.Age))
	}
	if g := strings.TrimSpace(p.Gender); g != "" {
		parts = append(parts, "Patient gender: "+g)
	}
	if len(p.MedicalHistory) > 0 {
		parts = append(parts, "Medical history: "+strings.Join(p.MedicalHistory, ", "))
	}
	if len(p.CurrentMedications) > 0 {
		parts = append(parts, "Current medications: "+strings.Join(p.CurrentMedications, ", "))
	}
	return strings.Join(parts, " | ")
}
