package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ent0n29/medintel/internal/conversation"
	"github.com/ent0n29/medintel/internal/protocol"
	"github.com/ent0n29/medintel/internal/session"
	"github.com/ent0n29/medintel/internal/triage"
)

// sampleSymptoms drives the canned analysis at /v1/analyze/symptoms/sample.
var sampleSymptoms = []string{"fever", "cough", "fatigue", "body aches"}

type chatMessageRequest struct {
	SessionID           string                 `json:"session_id,omitempty"`
	Message             string                 `json:"message"`
	ConversationHistory []triage.Message       `json:"conversation_history,omitempty"`
	PatientContext      *triage.PatientContext `json:"patient_context,omitempty"`
}

type chatAnalyzeRequest struct {
	SessionID           string                 `json:"session_id,omitempty"`
	ConversationHistory []triage.Message       `json:"conversation_history,omitempty"`
	PatientContext      *triage.PatientContext `json:"patient_context,omitempty"`
}

type analyzeReportRequest struct {
	ReportText string `json:"report_text"`
	PatientID  string `json:"patient_id,omitempty"`
}

type analyzeSymptomsRequest struct {
	Symptoms       []string               `json:"symptoms"`
	PatientContext *triage.PatientContext `json:"patient_context,omitempty"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "empty_message", conversation.ErrEmptyMessage.Error())
		return
	}
	if len([]rune(req.Message)) > protocol.MaxMessageChars {
		respondError(w, http.StatusBadRequest, "message_too_long", fmt.Sprintf("message exceeds %d characters", protocol.MaxMessageChars))
		return
	}

	if req.SessionID == "" {
		res, err := s.service.EvaluateHistory(r.Context(), req.ConversationHistory, req.Message, req.PatientContext)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}

	if req.PatientContext != nil {
		if err := s.sessions.SetPatientContext(req.SessionID, req.PatientContext); err != nil {
			respondSessionError(w, err)
			return
		}
	}
	res, err := s.service.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatAnalyze(w http.ResponseWriter, r *http.Request) {
	var req chatAnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		analysis conversation.Analysis
		err      error
	)
	if req.SessionID != "" {
		analysis, err = s.service.Analyze(r.Context(), req.SessionID)
	} else {
		analysis, err = s.service.AnalyzeHistory(r.Context(), req.ConversationHistory, req.PatientContext)
	}
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleAnalyzeSymptoms(w http.ResponseWriter, r *http.Request) {
	var req analyzeSymptomsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	analysis, err := s.service.AnalyzeSymptoms(r.Context(), req.Symptoms, req.PatientContext)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleAnalyzeReport(w http.ResponseWriter, r *http.Request) {
	var req analyzeReportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	analysis, err := s.service.AnalyzeReport(r.Context(), req.ReportText)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	s.logger.Info().
		Str("patient_id", req.PatientID).
		Str("severity", string(analysis.Severity)).
		Int("abnormalities", len(analysis.Abnormalities)).
		Msg("report analyzed")
	respondJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleAnalyzeSample(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.service.AnalyzeSymptoms(r.Context(), sampleSymptoms, nil)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}

func respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, triage.ErrInvalidHistory):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, triage.ErrReportTooShort):
		respondError(w, http.StatusBadRequest, "report_too_short", err.Error())
	case errors.Is(err, triage.ErrNoSymptoms):
		respondError(w, http.StatusBadRequest, "no_symptoms", err.Error())
	case errors.Is(err, conversation.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_message", err.Error())
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrEnded):
		respondSessionError(w, err)
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
