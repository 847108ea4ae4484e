// Package conversation runs triage turns against live sessions and persists
// what they produce.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/medintel/internal/logging"
	"github.com/ent0n29/medintel/internal/observability"
	"github.com/ent0n29/medintel/internal/protocol"
	"github.com/ent0n29/medintel/internal/session"
	"github.com/ent0n29/medintel/internal/store"
	"github.com/ent0n29/medintel/internal/triage"
)

const persistTimeout = 2 * time.Second

var ErrEmptyMessage = errors.New("message must not be empty")

// TurnResult is the outcome of one user message.
type TurnResult struct {
	SessionID  string            `json:"session_id,omitempty"`
	TurnID     string            `json:"turn_id,omitempty"`
	Evaluation triage.Evaluation `json:"evaluation"`
}

// Text is the assistant text recorded for the turn.
func (r TurnResult) Text() string {
	if r.Evaluation.Emergency != nil {
		return r.Evaluation.Emergency.Message
	}
	return r.Evaluation.Reply
}

// Analysis is an on-demand assessment of a session or a supplied history.
type Analysis struct {
	SessionID string              `json:"session_id,omitempty"`
	TurnID    string              `json:"turn_id,omitempty"`
	Symptoms  []string            `json:"symptoms"`
	Result    triage.TriageResult `json:"result"`
}

type Service struct {
	sessions *session.Manager
	engine   *triage.Engine
	store    store.Store
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewService(sessions *session.Manager, engine *triage.Engine, st store.Store, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		sessions: sessions,
		engine:   engine,
		store:    st,
		metrics:  metrics,
		logger:   logging.Component(logger, "conversation"),
	}
}

func (s *Service) Sessions() *session.Manager { return s.sessions }

func (s *Service) UnderstandingMode() string { return s.engine.UnderstandingMode() }

func (s *Service) StoreMode() string {
	if s.store == nil {
		return "disabled"
	}
	return s.store.Mode()
}

// HandleMessage runs one user turn on a session. Turns on the same session are
// serialized so each evaluation sees the previous turn's messages.
func (s *Service) HandleMessage(ctx context.Context, sessionID, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	turnID, release, err := s.sessions.BeginTurn(sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	history, err := s.sessions.History(sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if err := s.sessions.Append(sessionID, triage.Message{Role: triage.RoleUser, Content: text}); err != nil {
		return TurnResult{}, err
	}

	eval := s.engine.Evaluate(ctx, history, text, sess.Patient)
	result := TurnResult{SessionID: sessionID, TurnID: turnID, Evaluation: eval}

	if err := s.sessions.Append(sessionID, triage.Message{Role: triage.RoleAssistant, Content: result.Text()}); err != nil {
		// Ended mid-turn; the evaluation is still returned to the caller.
		s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("assistant reply not appended")
	}

	s.persistTurn(ctx, sess, turnID, text, result)
	s.metrics.ObserveSessionEvent("turn_" + eval.Outcome)

	s.logger.Info().
		Str("session_id", sessionID).
		Str("turn_id", turnID).
		Str("outcome", eval.Outcome).
		Str("intent", string(eval.Intent)).
		Bool("ready", eval.Ready).
		Msg("turn evaluated")
	return result, nil
}

// Analyze assesses everything the session has said so far.
func (s *Service) Analyze(ctx context.Context, sessionID string) (Analysis, error) {
	turnID, release, err := s.sessions.BeginTurn(sessionID)
	if err != nil {
		return Analysis{}, err
	}
	defer release()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return Analysis{}, err
	}
	history, err := s.sessions.History(sessionID)
	if err != nil {
		return Analysis{}, err
	}

	result, symptoms, err := s.engine.AnalyzeConversation(ctx, history, sess.Patient)
	if err != nil {
		return Analysis{}, err
	}
	s.saveAssessment(ctx, store.AssessmentRecord{
		SessionID: sessionID,
		UserID:    sess.UserID,
		TurnID:    turnID,
		Symptoms:  symptoms,
		Result:    result,
	})
	s.metrics.ObserveSessionEvent("analysis_requested")
	return Analysis{SessionID: sessionID, TurnID: turnID, Symptoms: symptoms, Result: result}, nil
}

// EvaluateHistory runs a turn against a caller-supplied history without any
// session state.
func (s *Service) EvaluateHistory(ctx context.Context, history []triage.Message, text string, patient *triage.PatientContext) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if err := triage.ValidateHistory(history); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Evaluation: s.engine.Evaluate(ctx, history, text, patient)}, nil
}

// AnalyzeHistory analyzes a caller-supplied history without any session state.
func (s *Service) AnalyzeHistory(ctx context.Context, history []triage.Message, patient *triage.PatientContext) (Analysis, error) {
	if err := triage.ValidateHistory(history); err != nil {
		return Analysis{}, err
	}
	result, symptoms, err := s.engine.AnalyzeConversation(ctx, history, patient)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{Symptoms: symptoms, Result: result}, nil
}

// AnalyzeSymptoms analyzes an explicit symptom list.
func (s *Service) AnalyzeSymptoms(ctx context.Context, symptoms []string, patient *triage.PatientContext) (Analysis, error) {
	normalized := triage.NormalizeSymptoms(symptoms)
	if len(normalized) == 0 {
		return Analysis{}, triage.ErrNoSymptoms
	}
	return Analysis{Symptoms: normalized, Result: s.engine.Analyze(ctx, normalized, patient)}, nil
}

// RecentTurns lists the stored, redacted turns of a session in chronological order.
func (s *Service) RecentTurns(ctx context.Context, sessionID string, limit int) ([]store.TurnRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.RecentTurns(ctx, sessionID, limit)
}

// AnalyzeReport explains a pasted lab report. Nothing is stored.
func (s *Service) AnalyzeReport(ctx context.Context, text string) (triage.ReportAnalysis, error) {
	analysis, err := s.engine.AnalyzeReport(ctx, text)
	if err != nil {
		return triage.ReportAnalysis{}, err
	}
	s.metrics.ObserveSessionEvent("report_analyzed")
	return analysis, nil
}

// Assessments lists stored assessments for a session, newest first.
func (s *Service) Assessments(ctx context.Context, sessionID string, limit int) ([]store.AssessmentRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Assessments(ctx, sessionID, limit)
}

// End closes the session and refreshes the active gauge.
func (s *Service) End(sessionID string) (*session.Session, error) {
	sess, err := s.sessions.End(sessionID)
	if err != nil {
		return nil, err
	}
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.ObserveSessionEvent("ended")
	return sess, nil
}

// Messages renders a turn result as the outbound websocket messages.
func Messages(r TurnResult) []any {
	eval := r.Evaluation
	if eval.Emergency != nil {
		return []any{protocol.NewEmergencyAlert(r.SessionID, r.TurnID, *eval.Emergency)}
	}
	out := []any{protocol.AssistantReply{
		Type:              protocol.TypeAssistantReply,
		SessionID:         r.SessionID,
		TurnID:            r.TurnID,
		Text:              eval.Reply,
		Intent:            eval.Intent,
		Confidence:        eval.Confidence,
		RiskLevel:         eval.RiskLevel,
		NextSteps:         eval.NextSteps,
		FollowUpQuestions: eval.FollowUps,
		ReadyForAnalysis:  eval.Ready,
		Report:            eval.Report,
	}}
	if eval.Result != nil {
		out = append(out, protocol.TriageResult{
			Type:      protocol.TypeTriageResult,
			SessionID: r.SessionID,
			TurnID:    r.TurnID,
			Symptoms:  eval.Symptoms,
			Result:    *eval.Result,
		})
	}
	return out
}

func (s *Service) persistTurn(ctx context.Context, sess *session.Session, turnID, text string, r TurnResult) {
	if s.store == nil {
		return
	}
	s.saveTurn(ctx, store.TurnRecord{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		TurnID:    turnID,
		Role:      string(triage.RoleUser),
		Content:   text,
		Intent:    string(r.Evaluation.Intent),
	})
	s.saveTurn(ctx, store.TurnRecord{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		TurnID:    turnID,
		Role:      string(triage.RoleAssistant),
		Content:   r.Text(),
	})

	eval := r.Evaluation
	switch {
	case eval.Emergency != nil:
		s.saveAssessment(ctx, store.AssessmentRecord{
			SessionID: sess.ID,
			UserID:    sess.UserID,
			TurnID:    turnID,
			Emergency: true,
			Result: triage.TriageResult{
				Predictions:     []triage.Prediction{},
				Severity:        eval.Emergency.Severity,
				Urgency:         eval.Emergency.Urgency,
				RedFlags:        []string{},
				Recommendations: eval.Emergency.NextSteps,
			},
		})
	case eval.Result != nil:
		s.saveAssessment(ctx, store.AssessmentRecord{
			SessionID: sess.ID,
			UserID:    sess.UserID,
			TurnID:    turnID,
			Symptoms:  eval.Symptoms,
			Result:    *eval.Result,
		})
	}
}

// Persistence is best effort: a failed write is logged and counted, never
// surfaced to the patient.
func (s *Service) saveTurn(ctx context.Context, record store.TurnRecord) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.SaveTurn(saveCtx, record); err != nil {
		s.metrics.ObserveSessionEvent("store_save_failed")
		s.logger.Warn().Err(err).Str("session_id", record.SessionID).Msg("save turn failed")
	}
}

func (s *Service) saveAssessment(ctx context.Context, record store.AssessmentRecord) {
	if s.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.SaveAssessment(saveCtx, record); err != nil {
		s.metrics.ObserveSessionEvent("store_save_failed")
		s.logger.Warn().Err(err).Str("session_id", record.SessionID).Msg("save assessment failed")
	}
}
