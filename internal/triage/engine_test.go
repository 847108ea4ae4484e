package triage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/medintel/internal/observability"
	"github.com/ent0n29/medintel/internal/understanding"
)

type fakeUnderstander struct {
	mu        sync.Mutex
	responses map[string]string
	err       error
	delay     time.Duration
	calls     []understanding.Request
}

func (f *fakeUnderstander) Complete(ctx context.Context, req understanding.Request) (understanding.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return understanding.Response{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return understanding.Response{}, f.err
	}
	text, ok := f.responses[req.Purpose]
	if !ok {
		return understanding.Response{}, understanding.ErrEmptyResponse
	}
	return understanding.Response{Text: text}, nil
}

func (f *fakeUnderstander) purposes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Purpose)
	}
	return out
}

func newTestEngine(u understanding.Understander) *Engine {
	return NewEngine(Options{
		Understander: u,
		Timeout:      time.Second,
		Logger:       zerolog.Nop(),
	})
}

func TestEvaluateEmergencyShortCircuits(t *testing.T) {
	fake := &fakeUnderstander{responses: map[string]string{purposeReply: "provider reply"}}
	e := newTestEngine(fake)

	history := []Message{
		{Role: RoleUser, Content: "I've had a cough for 3 days"},
		{Role: RoleAssistant, Content: "How severe is it?"},
	}
	eval := e.Evaluate(context.Background(), history, "now I have Chest Pain and it's severe", nil)
	if !eval.IsEmergency() {
		t.Fatalf("expected emergency, got %+v", eval)
	}
	if eval.Outcome != OutcomeEmergency {
		t.Fatalf("Outcome = %q", eval.Outcome)
	}
	if eval.Emergency.Severity != SeverityCritical || eval.Emergency.Urgency != UrgencyImmediate {
		t.Fatalf("emergency rating = %s/%s", eval.Emergency.Severity, eval.Emergency.Urgency)
	}
	if eval.Result != nil || eval.Reply != "" || len(eval.FollowUps) != 0 {
		t.Fatalf("emergency evaluation carries normal output: %+v", eval)
	}
	if calls := fake.purposes(); len(calls) != 0 {
		t.Fatalf("provider called on emergency path: %v", calls)
	}
}

func TestEvaluateGatheringWithoutProvider(t *testing.T) {
	e := newTestEngine(nil)
	eval := e.Evaluate(context.Background(), nil, "I have a headache", nil)

	if eval.IsEmergency() || eval.Ready || eval.Result != nil {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
	if eval.Outcome != OutcomeGathering || eval.Intent != IntentSymptomCheck {
		t.Fatalf("outcome/intent = %s/%s", eval.Outcome, eval.Intent)
	}
	if eval.Reply != gatheringReplies[0] {
		t.Fatalf("Reply = %q", eval.Reply)
	}
	if len(eval.FollowUps) != maxFollowUps {
		t.Fatalf("FollowUps = %v", eval.FollowUps)
	}
	if eval.RiskLevel != RiskGreen {
		t.Fatalf("RiskLevel = %s", eval.RiskLevel)
	}
	if !reflect.DeepEqual(eval.Symptoms, []string{"headache"}) {
		t.Fatalf("Symptoms = %v", eval.Symptoms)
	}
}

func TestEvaluateAnalyzesWhenReady(t *testing.T) {
	e := newTestEngine(understanding.NewDisabledUnderstander())
	history := []Message{
		{Role: RoleUser, Content: "I've had a fever and cough for 3 days"},
		{Role: RoleAssistant, Content: "How bad is it?"},
	}
	eval := e.Evaluate(context.Background(), history, "it's moderate and I feel fatigue", nil)

	if !eval.Ready || eval.Outcome != OutcomeAnalyzed || eval.Result == nil {
		t.Fatalf("expected analysis, got %+v", eval)
	}
	if want := []string{"fever", "cough", "fatigue"}; !reflect.DeepEqual(eval.Symptoms, want) {
		t.Fatalf("Symptoms = %v, want %v", eval.Symptoms, want)
	}
	if eval.Result.Predictions[0].Condition != "Common Cold" {
		t.Fatalf("top prediction = %q", eval.Result.Predictions[0].Condition)
	}
	if eval.Result.Severity != SeverityHigh || eval.Result.Urgency != UrgencyRoutine {
		t.Fatalf("rating = %s/%s, want HIGH/ROUTINE", eval.Result.Severity, eval.Result.Urgency)
	}
	if eval.RiskLevel != RiskAmber {
		t.Fatalf("RiskLevel = %s, want Amber", eval.RiskLevel)
	}
	if !strings.HasSuffix(eval.Reply, AnalysisCompleteNote) {
		t.Fatalf("Reply = %q", eval.Reply)
	}
	if last := eval.Result.Recommendations[len(eval.Result.Recommendations)-1]; last != Disclaimer {
		t.Fatalf("last recommendation = %q", last)
	}
}

func TestEvaluateCompletionWithoutSymptoms(t *testing.T) {
	e := newTestEngine(nil)
	history := []Message{{Role: RoleUser, Content: "hello"}}
	eval := e.Evaluate(context.Background(), history, "that's all", nil)

	if !eval.Ready {
		t.Fatalf("completion phrase did not force readiness")
	}
	if eval.Outcome != OutcomeNoSymptoms || eval.Result != nil {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
	if eval.Reply != NoSymptomsReply {
		t.Fatalf("Reply = %q", eval.Reply)
	}
}

func TestEvaluateUsesProviderReplyWithRedaction(t *testing.T) {
	fake := &fakeUnderstander{responses: map[string]string{purposeReply: "  How long has it hurt?  "}}
	e := newTestEngine(fake)

	patient := &PatientContext{Age: 34}
	eval := e.Evaluate(context.Background(), nil, "my email is sam@example.com and my head hurts", patient)
	if eval.Reply != "How long has it hurt?" {
		t.Fatalf("Reply = %q", eval.Reply)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(fake.calls))
	}
	req := fake.calls[0]
	last := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(last, "sam@example.com") || !strings.Contains(last, "[REDACTED_EMAIL]") {
		t.Fatalf("message not redacted: %q", last)
	}
	if !strings.Contains(req.System, "Patient age: 34") {
		t.Fatalf("system prompt missing patient context: %q", req.System)
	}
}

func TestEvaluateFallsBackToDeterministicReply(t *testing.T) {
	fake := &fakeUnderstander{err: &understanding.StatusError{Provider: "fake", Code: 503}}
	e := newTestEngine(fake)
	eval := e.Evaluate(context.Background(), nil, "I have a headache", nil)
	if eval.Reply != gatheringReplies[0] {
		t.Fatalf("Reply = %q, want deterministic fallback", eval.Reply)
	}
}

func TestEvaluateRetriesOnlyRetryableStatus(t *testing.T) {
	cases := []struct {
		code  int
		calls int
	}{
		{503, 2},
		{429, 2},
		{400, 1},
		{401, 1},
	}
	for _, tc := range cases {
		fake := &fakeUnderstander{err: &understanding.StatusError{Provider: "fake", Code: tc.code}}
		e := newTestEngine(fake)
		eval := e.Evaluate(context.Background(), nil, "I have a headache", nil)
		if eval.Reply != gatheringReplies[0] {
			t.Fatalf("status %d: Reply = %q, want deterministic fallback", tc.code, eval.Reply)
		}
		fake.mu.Lock()
		got := len(fake.calls)
		fake.mu.Unlock()
		if got != tc.calls {
			t.Fatalf("status %d: calls = %d, want %d", tc.code, got, tc.calls)
		}
	}
}

func TestEvaluateSummarizesEarlierHistory(t *testing.T) {
	fake := &fakeUnderstander{responses: map[string]string{purposeReply: "ok"}}
	e := NewEngine(Options{Understander: fake, Timeout: time.Second, HistoryWindow: 2, Logger: zerolog.Nop()})

	history := []Message{
		{Role: RoleUser, Content: "my back hurts"},
		{Role: RoleAssistant, Content: "Did you see a doctor?"},
		{Role: RoleUser, Content: "not yet"},
	}
	e.Evaluate(context.Background(), history, "anything else?", nil)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	req := fake.calls[0]
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want window of 2", len(req.Messages))
	}
	if !strings.Contains(req.System, "Earlier conversation summary: discussed pain/discomfort; talked about medical visits") {
		t.Fatalf("system prompt = %q", req.System)
	}
}

func TestAnalyzeUsesValidatedProviderConditions(t *testing.T) {
	fake := &fakeUnderstander{responses: map[string]string{
		purposeConditions: "```json\n" + `{"conditions":[` +
			`{"condition":"Migraine","confidence":0.4,"emergency":false,"reasoning":"pattern"},` +
			`{"condition":"Tension Headache","confidence":0.6,"emergency":false,"reasoning":"stress"}]}` + "\n```",
		purposeRedFlags: `["SEVERE HEADACHE: sudden onset needs review", "Vision loss: check eyes"]`,
	}}
	e := newTestEngine(fake)

	result := e.Analyze(context.Background(), []string{"severe headache"}, nil)
	if len(result.Predictions) != 2 || result.Predictions[0].Condition != "Tension Headache" {
		t.Fatalf("predictions = %+v", result.Predictions)
	}
	if result.Severity != SeverityHigh || result.Urgency != UrgencyWithin24H {
		t.Fatalf("rating = %s/%s, want HIGH/WITHIN_24H", result.Severity, result.Urgency)
	}
	want := []string{
		"SEVERE HEADACHE: Severe headache may indicate serious neurological condition",
		"Vision loss: check eyes",
	}
	if !reflect.DeepEqual(result.RedFlags, want) {
		t.Fatalf("RedFlags = %v, want %v", result.RedFlags, want)
	}
}

func TestAnalyzeRejectsMalformedProviderOutput(t *testing.T) {
	symptoms := []string{"fever", "cough", "fatigue"}
	want := PredictConditions(symptoms)

	cases := map[string]string{
		"not json":            "I think it is a cold",
		"unknown field":       `{"conditions":[{"condition":"Cold","confidence":0.5}],"notes":"x"}`,
		"confidence too high": `{"conditions":[{"condition":"Cold","confidence":1.5}]}`,
		"missing confidence":  `{"conditions":[{"condition":"Cold"}]}`,
		"blank name":          `{"conditions":[{"condition":" ","confidence":0.5}]}`,
		"empty list":          `{"conditions":[]}`,
		"trailing data":       `{"conditions":[{"condition":"Cold","confidence":0.5}]} {"x":1}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			fake := &fakeUnderstander{responses: map[string]string{
				purposeConditions: text,
				purposeRedFlags:   `{"not":"an array"}`,
			}}
			result := newTestEngine(fake).Analyze(context.Background(), symptoms, nil)
			if !reflect.DeepEqual(result.Predictions, want) {
				t.Fatalf("predictions = %+v, want deterministic %+v", result.Predictions, want)
			}
			if len(result.RedFlags) != 0 {
				t.Fatalf("RedFlags = %v, want none", result.RedFlags)
			}
		})
	}
}

func TestAnalyzeProviderTimeoutFallsBack(t *testing.T) {
	fake := &fakeUnderstander{delay: 2 * time.Second, responses: map[string]string{
		purposeConditions: `{"conditions":[{"condition":"Slow","confidence":0.9}]}`,
	}}
	e := NewEngine(Options{Understander: fake, Timeout: 20 * time.Millisecond, Logger: zerolog.Nop()})

	start := time.Now()
	result := e.Analyze(context.Background(), []string{"snake bite"}, nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Analyze took %v, provider timeout not applied", elapsed)
	}
	if result.Predictions[0].Condition != "Snake Bite Envenomation" {
		t.Fatalf("top = %q, want deterministic critical result", result.Predictions[0].Condition)
	}
	if result.Severity != SeverityCritical || result.Urgency != UrgencyImmediate {
		t.Fatalf("rating = %s/%s", result.Severity, result.Urgency)
	}
}

func TestAnalyzeConversationProviderSymptoms(t *testing.T) {
	fake := &fakeUnderstander{responses: map[string]string{
		purposeSymptoms: `{"symptoms":["Fever"," cough ","fever"]}`,
	}}
	e := newTestEngine(fake)
	history := []Message{{Role: RoleUser, Content: "I'm burning up and hacking all night"}}

	result, symptoms, err := e.AnalyzeConversation(context.Background(), history, nil)
	if err != nil {
		t.Fatalf("AnalyzeConversation() error = %v", err)
	}
	if want := []string{"fever", "cough"}; !reflect.DeepEqual(symptoms, want) {
		t.Fatalf("symptoms = %v, want %v", symptoms, want)
	}
	if IsUndetermined(result.Predictions) {
		t.Fatalf("expected table predictions for fever and cough")
	}
}

func TestAnalyzeConversationFallsBackToVocabulary(t *testing.T) {
	fake := &fakeUnderstander{responses: map[string]string{purposeSymptoms: `{"symptoms":[]}`}}
	e := newTestEngine(fake)
	history := []Message{{Role: RoleUser, Content: "I have nausea and vomiting"}}

	_, symptoms, err := e.AnalyzeConversation(context.Background(), history, nil)
	if err != nil {
		t.Fatalf("AnalyzeConversation() error = %v", err)
	}
	if want := []string{"nausea", "vomiting"}; !reflect.DeepEqual(symptoms, want) {
		t.Fatalf("symptoms = %v, want %v", symptoms, want)
	}
}

func TestAnalyzeConversationNoSymptoms(t *testing.T) {
	e := newTestEngine(nil)
	history := []Message{
		{Role: RoleAssistant, Content: "Do you have a fever?"},
		{Role: RoleUser, Content: "no"},
	}
	_, _, err := e.AnalyzeConversation(context.Background(), history, nil)
	if !errors.Is(err, ErrNoSymptoms) {
		t.Fatalf("error = %v, want ErrNoSymptoms", err)
	}
}

func TestEngineRecordsMetrics(t *testing.T) {
	m := observability.NewMetrics("test_triage_engine_metrics")
	e := NewEngine(Options{Logger: zerolog.Nop(), Metrics: m})

	e.Analyze(context.Background(), []string{"fever"}, nil)
	e.Evaluate(context.Background(), nil, "severe bleeding from my arm", nil)

	seen := map[string]bool{}
	for _, s := range m.SnapshotStages().Stages {
		seen[s.Stage] = true
	}
	for _, stage := range []string{"analyze", "evaluate_emergency"} {
		if !seen[stage] {
			t.Fatalf("stage %q not recorded: %v", stage, seen)
		}
	}
}

func TestEngineUnderstandingMode(t *testing.T) {
	if got := newTestEngine(nil).UnderstandingMode(); got != "disabled" {
		t.Fatalf("mode = %q, want disabled", got)
	}
	if got := newTestEngine(&fakeUnderstander{}).UnderstandingMode(); got != "custom" {
		t.Fatalf("mode = %q, want custom", got)
	}
}
