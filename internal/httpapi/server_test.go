package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/medintel/internal/config"
	"github.com/ent0n29/medintel/internal/conversation"
	"github.com/ent0n29/medintel/internal/observability"
	"github.com/ent0n29/medintel/internal/protocol"
	"github.com/ent0n29/medintel/internal/session"
	"github.com/ent0n29/medintel/internal/store"
	"github.com/ent0n29/medintel/internal/triage"
)

func newTestServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	if cfg.SessionInactivityTimeout == 0 {
		cfg.SessionInactivityTimeout = 2 * time.Minute
	}
	metrics := observability.NewMetrics("test_httpapi_" + strings.ReplaceAll(t.Name(), "/", "_") + "_" + time.Now().Format("150405000000"))
	engine := triage.NewEngine(triage.Options{Logger: zerolog.Nop(), Metrics: metrics})
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	svc := conversation.NewService(sessions, engine, store.NewInMemoryStore(), metrics, zerolog.Nop())
	srv := New(cfg, svc, metrics, zerolog.Nop())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res := postJSON(t, ts.URL+"/v1/chat/session", map[string]any{
		"user_id":         "user-1",
		"patient_context": map[string]any{"age": 34},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	decodeBody(t, res, &created)
	if created.SessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if created.PatientContext == nil || created.PatientContext.Age != 34 {
		t.Fatalf("patient context not kept: %+v", created.PatientContext)
	}
	return created.SessionID
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	sessionID := createSession(t, ts)

	endRes, err := http.Post(ts.URL+"/v1/chat/session/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	missing, err := http.Post(ts.URL+"/v1/chat/session/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end missing request error = %v", err)
	}
	var apiErr errorResponse
	decodeBody(t, missing, &apiErr)
	if missing.StatusCode != http.StatusNotFound || apiErr.Code != "session_not_found" {
		t.Fatalf("missing session = %d %+v", missing.StatusCode, apiErr)
	}
}

func TestCreateSessionResumesActiveSessionForUser(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	first := createSession(t, ts)

	res := postJSON(t, ts.URL+"/v1/chat/session", map[string]any{"user_id": "user-1"})
	var resumed session.CreateResponse
	decodeBody(t, res, &resumed)
	if res.StatusCode != http.StatusOK || !resumed.Resumed || resumed.SessionID != first {
		t.Fatalf("resume = %d %+v, want session %s", res.StatusCode, resumed, first)
	}
	if resumed.PatientContext == nil || resumed.PatientContext.Age != 34 {
		t.Fatalf("patient context lost on resume: %+v", resumed.PatientContext)
	}

	endRes := postJSON(t, ts.URL+"/v1/chat/session/"+first+"/end", nil)
	endRes.Body.Close()

	res = postJSON(t, ts.URL+"/v1/chat/session", map[string]any{"user_id": "user-1"})
	var fresh session.CreateResponse
	decodeBody(t, res, &fresh)
	if res.StatusCode != http.StatusCreated || fresh.Resumed || fresh.SessionID == first {
		t.Fatalf("after end = %d %+v", res.StatusCode, fresh)
	}

	var anon [2]session.CreateResponse
	for i := range anon {
		res := postJSON(t, ts.URL+"/v1/chat/session", map[string]any{})
		decodeBody(t, res, &anon[i])
	}
	if anon[0].SessionID == anon[1].SessionID || anon[1].Resumed {
		t.Fatalf("anonymous sessions shared: %+v", anon)
	}
}

func TestHealthReportsModes(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		var payload healthResponse
		decodeBody(t, res, &payload)
		if payload.StoreMode != store.ModeMemory || payload.UnderstandingMode != "disabled" {
			t.Fatalf("%s payload = %+v", path, payload)
		}
	}
}

func TestStatefulChatFlow(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	sessionID := createSession(t, ts)

	var first conversation.TurnResult
	res := postJSON(t, ts.URL+"/v1/chat/message", chatMessageRequest{SessionID: sessionID, Message: "I've had a fever and cough for 3 days"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	decodeBody(t, res, &first)
	if first.Evaluation.Outcome != triage.OutcomeGathering || first.TurnID == "" {
		t.Fatalf("first turn = %+v", first)
	}

	var second conversation.TurnResult
	decodeBody(t, postJSON(t, ts.URL+"/v1/chat/message", chatMessageRequest{SessionID: sessionID, Message: "it's moderate and I feel fatigue"}), &second)
	if second.Evaluation.Outcome != triage.OutcomeAnalyzed || second.Evaluation.Result == nil {
		t.Fatalf("second turn = %+v", second.Evaluation)
	}

	detailRes, err := http.Get(ts.URL + "/v1/chat/session/" + sessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	var detail sessionDetailResponse
	decodeBody(t, detailRes, &detail)
	if len(detail.History) != 4 || len(detail.Assessments) != 1 {
		t.Fatalf("detail history=%d assessments=%d", len(detail.History), len(detail.Assessments))
	}
	if len(detail.StoredTurns) != 4 {
		t.Fatalf("stored turns = %d, want 4", len(detail.StoredTurns))
	}
	if detail.StoredTurns[0].Role != string(triage.RoleUser) || detail.StoredTurns[3].Role != string(triage.RoleAssistant) {
		t.Fatalf("stored turns out of order: %+v", detail.StoredTurns)
	}
	if detail.Session.TurnCount != 2 {
		t.Fatalf("TurnCount = %d, want 2", detail.Session.TurnCount)
	}
}

func TestStatelessChatMessage(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	var out conversation.TurnResult
	res := postJSON(t, ts.URL+"/v1/chat/message", chatMessageRequest{
		Message: "that's all",
		ConversationHistory: []triage.Message{
			{Role: triage.RoleUser, Content: "I have a sore throat"},
			{Role: triage.RoleAssistant, Content: "How long has it lasted?"},
		},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	decodeBody(t, res, &out)
	if out.SessionID != "" || out.Evaluation.Result == nil {
		t.Fatalf("stateless result = %+v", out)
	}
}

func TestChatMessageEmergency(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	var out conversation.TurnResult
	decodeBody(t, postJSON(t, ts.URL+"/v1/chat/message", chatMessageRequest{Message: "I think I'm having a heart attack"}), &out)
	if out.Evaluation.Emergency == nil || out.Evaluation.Emergency.RiskLevel != triage.RiskRed {
		t.Fatalf("expected emergency, got %+v", out.Evaluation)
	}
}

func TestChatMessageValidation(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	cases := []struct {
		name string
		body chatMessageRequest
		code string
		want int
	}{
		{"empty", chatMessageRequest{Message: "  "}, "empty_message", http.StatusBadRequest},
		{"too long", chatMessageRequest{Message: strings.Repeat("x", protocol.MaxMessageChars+1)}, "message_too_long", http.StatusBadRequest},
		{"unknown session", chatMessageRequest{SessionID: "nope", Message: "hi"}, "session_not_found", http.StatusNotFound},
		{"capitalized role", chatMessageRequest{Message: "it hurts", ConversationHistory: []triage.Message{{Role: "User", Content: "I have a fever"}}}, "invalid_request", http.StatusBadRequest},
		{"unknown role", chatMessageRequest{Message: "it hurts", ConversationHistory: []triage.Message{{Role: "patient", Content: "I have a fever"}}}, "invalid_request", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postJSON(t, ts.URL+"/v1/chat/message", tc.body)
			var apiErr errorResponse
			decodeBody(t, res, &apiErr)
			if res.StatusCode != tc.want || apiErr.Code != tc.code {
				t.Fatalf("got %d %+v, want %d %s", res.StatusCode, apiErr, tc.want, tc.code)
			}
		})
	}
}

func TestChatAnalyzeWithoutSymptoms(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	res := postJSON(t, ts.URL+"/v1/chat/analyze", chatAnalyzeRequest{
		ConversationHistory: []triage.Message{{Role: triage.RoleUser, Content: "hello there"}},
	})
	var apiErr errorResponse
	decodeBody(t, res, &apiErr)
	if res.StatusCode != http.StatusBadRequest || apiErr.Code != "no_symptoms" {
		t.Fatalf("got %d %+v", res.StatusCode, apiErr)
	}
}

func TestChatAnalyzeRejectsUnknownRole(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	res := postJSON(t, ts.URL+"/v1/chat/analyze", map[string]any{
		"conversation_history": []map[string]string{
			{"role": "patient", "content": "I have a fever and cough"},
		},
	})
	var apiErr errorResponse
	decodeBody(t, res, &apiErr)
	if res.StatusCode != http.StatusBadRequest || apiErr.Code != "invalid_request" {
		t.Fatalf("got %d %+v", res.StatusCode, apiErr)
	}
}

func TestAnalyzeReport(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	cases := []struct {
		name string
		body analyzeReportRequest
		want int
		code string
	}{
		{"empty", analyzeReportRequest{}, http.StatusBadRequest, "report_too_short"},
		{"short", analyzeReportRequest{ReportText: "Glu: 150"}, http.StatusBadRequest, "report_too_short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postJSON(t, ts.URL+"/v1/analyze/report", tc.body)
			var apiErr errorResponse
			decodeBody(t, res, &apiErr)
			if res.StatusCode != tc.want || apiErr.Code != tc.code {
				t.Fatalf("got %d %+v, want %d %s", res.StatusCode, apiErr, tc.want, tc.code)
			}
		})
	}

	res := postJSON(t, ts.URL+"/v1/analyze/report", analyzeReportRequest{
		ReportText: "Glucose: 150 mg/dL\nHemoglobin: 14 g/dL",
		PatientID:  "p-1",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var analysis triage.ReportAnalysis
	decodeBody(t, res, &analysis)
	if len(analysis.LabValues) != 2 || len(analysis.Abnormalities) != 1 {
		t.Fatalf("analysis = %+v", analysis)
	}
	a := analysis.Abnormalities[0]
	if a.Status != triage.LabHigh || a.Deviation != "50.0% above normal" || analysis.Severity != triage.ReportMild {
		t.Fatalf("glucose abnormality = %+v severity=%s", a, analysis.Severity)
	}
}

func TestAnalyzeSymptoms(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	res := postJSON(t, ts.URL+"/v1/analyze/symptoms", analyzeSymptomsRequest{Symptoms: []string{}})
	var apiErr errorResponse
	decodeBody(t, res, &apiErr)
	if res.StatusCode != http.StatusBadRequest || apiErr.Code != "no_symptoms" {
		t.Fatalf("empty list got %d %+v", res.StatusCode, apiErr)
	}

	var analysis conversation.Analysis
	res = postJSON(t, ts.URL+"/v1/analyze/symptoms", analyzeSymptomsRequest{Symptoms: []string{"Snake Bite", "swelling"}})
	decodeBody(t, res, &analysis)
	if analysis.Result.Severity != triage.SeverityCritical || analysis.Result.Urgency != triage.UrgencyImmediate {
		t.Fatalf("rating = %s/%s", analysis.Result.Severity, analysis.Result.Urgency)
	}
	if len(analysis.Result.Predictions) == 0 || !analysis.Result.Predictions[0].Emergency {
		t.Fatalf("predictions = %+v", analysis.Result.Predictions)
	}
}

func TestAnalyzeSample(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	res, err := http.Get(ts.URL + "/v1/analyze/symptoms/sample")
	if err != nil {
		t.Fatalf("GET sample error = %v", err)
	}
	var analysis conversation.Analysis
	decodeBody(t, res, &analysis)
	if len(analysis.Symptoms) != len(sampleSymptoms) || len(analysis.Result.Predictions) == 0 {
		t.Fatalf("sample analysis = %+v", analysis)
	}
}

func TestPerfLatencySnapshotAndReset(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	decodeBody(t, postJSON(t, ts.URL+"/v1/chat/message", chatMessageRequest{Message: "I have a headache"}), &conversation.TurnResult{})

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET perf error = %v", err)
	}
	var snap observability.StageSnapshot
	decodeBody(t, res, &snap)
	if len(snap.Stages) == 0 {
		t.Fatalf("expected recorded stages, got %+v", snap)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/perf/latency", nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE perf error = %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d", delRes.StatusCode)
	}
}

func TestSessionWebSocket(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	sessionID := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readType := func() map[string]any {
		t.Helper()
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read error = %v", err)
		}
		return msg
	}

	if msg := readType(); msg["type"] != string(protocol.TypeSystemEvent) || msg["code"] != "session_ready" {
		t.Fatalf("first message = %v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write error = %v", err)
	}
	if msg := readType(); msg["type"] != string(protocol.TypeErrorEvent) || msg["code"] != "invalid_client_message" {
		t.Fatalf("invalid message reply = %v", msg)
	}

	if err := conn.WriteJSON(protocol.ClientMessage{Type: protocol.TypeClientMessage, SessionID: sessionID, Text: "I have a rash"}); err != nil {
		t.Fatalf("write error = %v", err)
	}
	if msg := readType(); msg["type"] != string(protocol.TypeAssistantReply) {
		t.Fatalf("reply = %v", msg)
	}

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sessionID, Action: protocol.ActionEnd}); err != nil {
		t.Fatalf("write error = %v", err)
	}
	if msg := readType(); msg["type"] != string(protocol.TypeSystemEvent) || msg["code"] != "session_ended" {
		t.Fatalf("end event = %v", msg)
	}
}

func TestSessionWebSocketRejectsCrossOrigin(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	sessionID := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/ws?session_id=" + sessionID
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("expected cross-origin dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v", res)
	}
}
