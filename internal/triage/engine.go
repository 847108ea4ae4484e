package triage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/medintel/internal/observability"
	"github.com/ent0n29/medintel/internal/policy"
	"github.com/ent0n29/medintel/internal/reliability"
	"github.com/ent0n29/medintel/internal/understanding"
)

// ErrNoSymptoms is returned when a conversation holds nothing to analyze.
var ErrNoSymptoms = errors.New("no symptoms could be extracted from the conversation")

const (
	defaultUnderstandingTimeout = 8 * time.Second
	defaultHistoryWindow        = 20

	providerAttempts    = 2
	providerBackoffBase = 100 * time.Millisecond
	providerBackoffCap  = 500 * time.Millisecond
)

// Evaluation outcomes, also used as metric labels.
const (
	OutcomeEmergency  = "emergency"
	OutcomeGathering  = "gathering"
	OutcomeAnalyzed   = "analyzed"
	OutcomeNoSymptoms = "no_symptoms"
)

type Options struct {
	// Understander is optional. Nil or disabled keeps every path deterministic.
	Understander  understanding.Understander
	Timeout       time.Duration
	HistoryWindow int
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

// Engine runs the triage pipeline for a conversation turn. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	understander understanding.Understander
	enabled      bool
	timeout      time.Duration
	window       int
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewEngine(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultUnderstandingTimeout
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	return &Engine{
		understander: opts.Understander,
		enabled:      understanding.Enabled(opts.Understander),
		timeout:      opts.Timeout,
		window:       opts.HistoryWindow,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
}

// UnderstandingMode names the provider behind the engine.
func (e *Engine) UnderstandingMode() string {
	if !e.enabled {
		return "disabled"
	}
	return understanding.NameOf(e.understander)
}

// Evaluation is the outcome of one user turn. Emergency is set only on the
// short-circuit path, in which case nothing else is populated.
type Evaluation struct {
	Outcome    string             `json:"outcome"`
	Emergency  *EmergencyResponse `json:"emergency,omitempty"`
	Intent     Intent             `json:"intent,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Ready      bool               `json:"ready_for_analysis"`
	Profile    SymptomProfile     `json:"profile"`
	Symptoms   []string           `json:"symptoms"`
	FollowUps  []string           `json:"follow_up_questions"`
	Reply      string             `json:"reply,omitempty"`
	RiskLevel  RiskLevel          `json:"risk_level,omitempty"`
	NextSteps  []string           `json:"next_steps"`
	Result     *TriageResult      `json:"result,omitempty"`
	Report     *ReportAnalysis    `json:"report,omitempty"`
}

func (e Evaluation) IsEmergency() bool {
	return e.Emergency != nil
}

// Evaluate processes latest against the prior history. The emergency check runs
// before anything that can fail or block.
func (e *Engine) Evaluate(ctx context.Context, history []Message, latest string, patient *PatientContext) Evaluation {
	start := time.Now()

	if phrase, ok := MatchedEmergencyPhrase(latest); ok {
		resp := NewEmergencyResponse(phrase)
		e.logger.Warn().Str("trigger", phrase).Msg("emergency short-circuit")
		e.metrics.ObserveEvaluation(OutcomeEmergency, time.Since(start))
		return Evaluation{Outcome: OutcomeEmergency, Emergency: &resp}
	}

	intent, confidence := ClassifyIntent(latest, history)

	full := make([]Message, 0, len(history)+1)
	full = append(full, history...)
	full = append(full, Message{Role: RoleUser, Content: latest})

	eval := Evaluation{
		Outcome:    OutcomeGathering,
		Intent:     intent,
		Confidence: confidence,
		Profile:    ExtractProfile(full),
		Symptoms:   ExtractSymptoms(full),
		Ready:      ReadyForAnalysis(full, latest),
	}

	if !eval.Ready {
		if intent == IntentReportAnalysis {
			if report := AnalyzeReportText(latest); len(report.LabValues) > 0 {
				eval.Report = &report
			}
		}
		eval.FollowUps = FollowUpQuestions(intent, full)
		eval.Reply = e.reply(ctx, intent, latest, history, full, patient)
		eval.RiskLevel = KeywordRiskLevel(latest)
		eval.NextSteps = NextStepsFor(eval.RiskLevel)
		e.metrics.ObserveEvaluation(eval.Outcome, time.Since(start))
		return eval
	}

	result, symptoms, err := e.AnalyzeConversation(ctx, full, patient)
	if err != nil {
		eval.Outcome = OutcomeNoSymptoms
		eval.Reply = NoSymptomsReply
		eval.FollowUps = FollowUpQuestions(IntentSymptomCheck, full)
		eval.RiskLevel = KeywordRiskLevel(latest)
		eval.NextSteps = NextStepsFor(eval.RiskLevel)
		e.metrics.ObserveEvaluation(eval.Outcome, time.Since(start))
		return eval
	}

	eval.Outcome = OutcomeAnalyzed
	eval.Symptoms = symptoms
	eval.Result = &result
	eval.Reply = Reply(IntentSymptomCheck, latest, history, true, patient) + "\n\n" + AnalysisCompleteNote
	eval.RiskLevel = RiskLevelFor(result.Severity, result.Urgency)
	eval.NextSteps = result.Recommendations
	e.metrics.ObserveEvaluation(eval.Outcome, time.Since(start))
	return eval
}

// AnalyzeConversation extracts symptoms from history and analyzes them. It
// returns ErrNoSymptoms when the history mentions none.
func (e *Engine) AnalyzeConversation(ctx context.Context, history []Message, patient *PatientContext) (TriageResult, []string, error) {
	symptoms := e.extractSymptoms(ctx, history)
	if len(symptoms) == 0 {
		return TriageResult{}, nil, ErrNoSymptoms
	}
	return e.Analyze(ctx, symptoms, patient), symptoms, nil
}

// Analyze runs prediction, scoring, red flags and recommendations. It never
// fails; provider problems fall back to the tables.
func (e *Engine) Analyze(ctx context.Context, symptoms []string, patient *PatientContext) TriageResult {
	start := time.Now()
	normalized := NormalizeSymptoms(symptoms)

	predictions, ok := e.providerConditions(ctx, normalized, patient)
	if !ok {
		predictions = PredictConditions(normalized)
	}

	severity, urgency := Score(normalized, predictions)
	redFlags := MergeRedFlags(CheckRedFlags(normalized), e.providerRedFlags(ctx, normalized))

	e.metrics.ObserveAssessment(string(severity), string(urgency))
	e.metrics.ObserveStage("analyze", time.Since(start))

	return TriageResult{
		Predictions:     predictions,
		Severity:        severity,
		Urgency:         urgency,
		RedFlags:        redFlags,
		Recommendations: Recommend(severity, urgency),
	}
}

// AnalyzeReport explains the lab values in a pasted report. The provider answer is
// used when it validates; otherwise the reference-range tables decide.
func (e *Engine) AnalyzeReport(ctx context.Context, text string) (ReportAnalysis, error) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < MinReportChars {
		return ReportAnalysis{}, ErrReportTooShort
	}
	start := time.Now()
	defer func() { e.metrics.ObserveStage("analyze_report", time.Since(start)) }()

	prompt := policy.Redact(text)
	if r := []rune(prompt); len(r) > maxReportPromptChars {
		prompt = string(r[:maxReportPromptChars])
	}
	req := understanding.Request{
		Purpose: purposeReport,
		System: "Explain this medical report for a patient. Extract each lab value with its status " +
			"(NORMAL, LOW, HIGH or UNKNOWN), list abnormal values with how far they deviate, and rate the " +
			"report NORMAL, MILD, MODERATE or SIGNIFICANT. Always suggest reviewing results with a doctor.",
		Messages: []understanding.Message{{Role: string(RoleUser), Content: prompt}},
		Schema: `{"summary":"string","key_findings":["string"],` +
			`"lab_values":[{"test":"string","value":0.0,"unit":"string","status":"NORMAL"}],` +
			`"abnormalities":[{"test":"string","value":0.0,"unit":"string","status":"HIGH","deviation":"string"}],` +
			`"severity":"MILD","recommendations":["string"],"explanation":"string"}`,
		MaxTokens: 1500,
	}

	var analysis ReportAnalysis
	ok := e.ask(ctx, req, func(out string) error {
		var payload reportPayload
		if err := understanding.DecodeStrict(out, &payload); err != nil {
			return err
		}
		parsed, err := validateReport(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", understanding.ErrInvalidJSON, err)
		}
		analysis = parsed
		return nil
	})
	if !ok {
		analysis = AnalyzeReportText(text)
	}
	e.logger.Debug().
		Str("method", analysis.Method).
		Str("severity", string(analysis.Severity)).
		Int("lab_values", len(analysis.LabValues)).
		Msg("report analyzed")
	return analysis, nil
}

type reportLab struct {
	Test      string   `json:"test"`
	Value     *float64 `json:"value"`
	Unit      string   `json:"unit"`
	Status    string   `json:"status"`
	Deviation string   `json:"deviation"`
}

type reportPayload struct {
	Summary         string      `json:"summary"`
	KeyFindings     []string    `json:"key_findings"`
	LabValues       []reportLab `json:"lab_values"`
	Abnormalities   []reportLab `json:"abnormalities"`
	Severity        string      `json:"severity"`
	Recommendations []string    `json:"recommendations"`
	Explanation     string      `json:"explanation"`
}

func validateReport(p reportPayload) (ReportAnalysis, error) {
	summary := strings.TrimSpace(p.Summary)
	if summary == "" {
		return ReportAnalysis{}, fmt.Errorf("%w: empty summary", ErrReportInvalid)
	}
	severity := ReportSeverity(strings.ToUpper(strings.TrimSpace(p.Severity)))
	switch severity {
	case ReportNormal, ReportMild, ReportModerate, ReportSignificant:
	default:
		return ReportAnalysis{}, fmt.Errorf("%w: severity %q", ErrReportInvalid, p.Severity)
	}
	recs := nonEmpty(p.Recommendations)
	if len(recs) == 0 {
		return ReportAnalysis{}, fmt.Errorf("%w: no recommendations", ErrReportInvalid)
	}

	labs := make([]LabValue, 0, len(p.LabValues))
	for i, l := range p.LabValues {
		status, err := checkReportLab(l, i, LabNormal, LabLow, LabHigh, LabUnknown)
		if err != nil {
			return ReportAnalysis{}, err
		}
		lab := LabValue{Test: strings.TrimSpace(l.Test), Value: *l.Value, Unit: strings.TrimSpace(l.Unit), Status: status}
		if rng, ok := LookupNormalRange(lab.Test); ok {
			lab.NormalRange = &rng
		}
		labs = append(labs, lab)
	}
	abnormal := make([]Abnormality, 0, len(p.Abnormalities))
	for i, l := range p.Abnormalities {
		status, err := checkReportLab(l, i, LabLow, LabHigh)
		if err != nil {
			return ReportAnalysis{}, err
		}
		a := Abnormality{
			Test:      strings.TrimSpace(l.Test),
			Value:     *l.Value,
			Unit:      strings.TrimSpace(l.Unit),
			Status:    status,
			Deviation: strings.TrimSpace(l.Deviation),
		}
		if rng, ok := LookupNormalRange(a.Test); ok {
			a.NormalRange = rng.String()
		}
		abnormal = append(abnormal, a)
	}

	explanation := strings.TrimSpace(p.Explanation)
	if explanation == "" {
		explanation = reportExplanation(abnormal)
	}
	return ReportAnalysis{
		Summary:         summary,
		KeyFindings:     nonEmpty(p.KeyFindings),
		LabValues:       labs,
		Abnormalities:   abnormal,
		Explanation:     explanation,
		Severity:        severity,
		Recommendations: append(recs, Disclaimer),
		Method:          "understanding",
	}, nil
}

func checkReportLab(l reportLab, i int, allowed ...string) (string, error) {
	if strings.TrimSpace(l.Test) == "" {
		return "", fmt.Errorf("%w: lab value %d has no test name", ErrReportInvalid, i)
	}
	if l.Value == nil {
		return "", fmt.Errorf("%w: %s has no value", ErrReportInvalid, l.Test)
	}
	status := strings.ToUpper(strings.TrimSpace(l.Status))
	for _, a := range allowed {
		if status == a {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %s status %q", ErrReportInvalid, l.Test, l.Status)
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

const (
	purposeReply      = "reply"
	purposeSymptoms   = "symptoms"
	purposeConditions = "conditions"
	purposeRedFlags   = "red_flags"
	purposeReport     = "report"

	maxReportPromptChars = 3000
)

const medicalSystemPrompt = "You are MedIntel, a careful medical triage assistant. " +
	"Ask focused follow-up questions about duration, severity, timing and triggers. " +
	"Never give a diagnosis with certainty and always suggest consulting a healthcare professional."

// ask sends req to the provider under the per-call timeout and hands the text to
// accept. Retryable provider statuses get one more attempt inside the same
// timeout. It reports false on any failure so the caller can fall back.
func (e *Engine) ask(ctx context.Context, req understanding.Request, accept func(text string) error) bool {
	if !e.enabled {
		e.metrics.ObserveUnderstanding(req.Purpose, "disabled", 0)
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	var resp understanding.Response
	err := reliability.Retry(callCtx, providerAttempts, providerBackoffBase, providerBackoffCap, func(int) error {
		var callErr error
		resp, callErr = e.understander.Complete(callCtx, req)
		if callErr != nil && !understanding.IsRetryable(callErr) {
			return reliability.Permanent(callErr)
		}
		return callErr
	})
	if err == nil {
		err = accept(resp.Text)
	}
	elapsed := time.Since(start)
	if err != nil {
		e.logger.Debug().Err(err).Str("purpose", req.Purpose).Dur("elapsed", elapsed).Msg("understanding fallback")
		e.metrics.ObserveUnderstanding(req.Purpose, "fallback", elapsed)
		return false
	}
	e.metrics.ObserveUnderstanding(req.Purpose, "ok", elapsed)
	return true
}

func (e *Engine) reply(ctx context.Context, intent Intent, latest string, history, full []Message, patient *PatientContext) string {
	fallback := Reply(intent, latest, history, false, patient)
	if !e.enabled {
		e.metrics.ObserveUnderstanding(purposeReply, "disabled", 0)
		return fallback
	}

	earlier, recent := SplitWindow(full, e.window)
	system := medicalSystemPrompt
	if desc := patient.Describe(); desc != "" {
		system += "\n" + policy.Redact(desc)
	}
	if summary := SummarizeEarlier(earlier); summary != "" {
		system += "\nEarlier conversation summary: " + summary
	}

	req := understanding.Request{
		Purpose:   purposeReply,
		System:    system,
		Messages:  redactedMessages(recent),
		MaxTokens: 400,
	}
	var text string
	ok := e.ask(ctx, req, func(out string) error {
		text = strings.TrimSpace(out)
		if text == "" {
			return understanding.ErrEmptyResponse
		}
		return nil
	})
	if !ok {
		return fallback
	}
	return text
}

type symptomsPayload struct {
	Symptoms []string `json:"symptoms"`
}

func (e *Engine) extractSymptoms(ctx context.Context, history []Message) []string {
	var users []Message
	for _, m := range history {
		if m.Role == RoleUser {
			users = append(users, m)
		}
	}
	if len(users) == 0 {
		return nil
	}

	var symptoms []string
	req := understanding.Request{
		Purpose:   purposeSymptoms,
		System:    "Extract the symptoms the patient reports. Use short lowercase clinical phrases.",
		Messages:  redactedMessages(users),
		Schema:    `{"symptoms":["string"]}`,
		MaxTokens: 200,
	}
	ok := e.ask(ctx, req, func(text string) error {
		var payload symptomsPayload
		if err := understanding.DecodeStrict(text, &payload); err != nil {
			return err
		}
		symptoms = NormalizeSymptoms(payload.Symptoms)
		if len(symptoms) == 0 {
			return fmt.Errorf("%w: no symptoms listed", understanding.ErrInvalidJSON)
		}
		return nil
	})
	if ok {
		return symptoms
	}
	return ExtractSymptoms(history)
}

type conditionsPayload struct {
	Conditions []struct {
		Condition  string   `json:"condition"`
		Confidence *float64 `json:"confidence"`
		Emergency  bool     `json:"emergency"`
		Reasoning  string   `json:"reasoning"`
	} `json:"conditions"`
}

func (e *Engine) providerConditions(ctx context.Context, symptoms []string, patient *PatientContext) ([]Prediction, bool) {
	if len(symptoms) == 0 {
		return nil, false
	}

	prompt := "Symptoms: " + strings.Join(symptoms, ", ")
	if desc := patient.Describe(); desc != "" {
		prompt += "\n" + policy.Redact(desc)
	}
	req := understanding.Request{
		Purpose: purposeConditions,
		System: "List the most likely conditions for these symptoms with a confidence between 0 and 1. " +
			"Mark conditions that need emergency care.",
		Messages:  []understanding.Message{{Role: string(RoleUser), Content: prompt}},
		Schema:    `{"conditions":[{"condition":"string","confidence":0.0,"emergency":false,"reasoning":"string"}]}`,
		MaxTokens: 600,
	}

	var predictions []Prediction
	ok := e.ask(ctx, req, func(text string) error {
		var payload conditionsPayload
		if err := understanding.DecodeStrict(text, &payload); err != nil {
			return err
		}
		parsed, err := validateConditions(payload)
		if err != nil {
			return err
		}
		predictions = parsed
		return nil
	})
	return predictions, ok
}

func validateConditions(payload conditionsPayload) ([]Prediction, error) {
	if len(payload.Conditions) == 0 {
		return nil, fmt.Errorf("%w: no conditions", understanding.ErrInvalidJSON)
	}
	out := make([]Prediction, 0, len(payload.Conditions))
	for i, c := range payload.Conditions {
		name := strings.TrimSpace(c.Condition)
		if name == "" {
			return nil, fmt.Errorf("%w: condition %d has no name", understanding.ErrInvalidJSON, i)
		}
		if c.Confidence == nil || *c.Confidence < 0 || *c.Confidence > 1 {
			return nil, fmt.Errorf("%w: condition %q confidence out of range", understanding.ErrInvalidJSON, name)
		}
		out = append(out, Prediction{
			Condition:  name,
			Confidence: *c.Confidence,
			Emergency:  c.Emergency || IsEmergencyCondition(name),
			Reasoning:  strings.TrimSpace(c.Reasoning),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > maxPredictions {
		out = out[:maxPredictions]
	}
	return out, nil
}

func (e *Engine) providerRedFlags(ctx context.Context, symptoms []string) []string {
	if len(symptoms) == 0 {
		return nil
	}
	req := understanding.Request{
		Purpose: purposeRedFlags,
		System: "List warning signs in these symptoms that need urgent medical attention, " +
			`each formatted "FLAG: explanation". Return an empty array when there are none.`,
		Messages:  []understanding.Message{{Role: string(RoleUser), Content: "Symptoms: " + strings.Join(symptoms, ", ")}},
		Schema:    `["string"]`,
		MaxTokens: 300,
	}

	var flags []string
	e.ask(ctx, req, func(text string) error {
		var payload []string
		if err := understanding.DecodeStrict(text, &payload); err != nil {
			return err
		}
		for i, f := range payload {
			if strings.TrimSpace(f) == "" {
				return fmt.Errorf("%w: red flag %d is empty", understanding.ErrInvalidJSON, i)
			}
		}
		for _, f := range payload {
			flags = append(flags, strings.TrimSpace(f))
		}
		return nil
	})
	return flags
}

func redactedMessages(msgs []Message) []understanding.Message {
	out := make([]understanding.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, understanding.Message{
			Role:    string(m.Role),
			Content: policy.Redact(m.Content),
		})
	}
	return out
}
