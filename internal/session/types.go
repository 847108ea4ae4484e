package session

import (
	"time"

	"github.com/ent0n29/medintel/internal/triage"
)

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	UserID         string                 `json:"user_id"`
	PatientContext *triage.PatientContext `json:"patient_context,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string                 `json:"session_id"`
	UserID          string                 `json:"user_id"`
	Status          Status                 `json:"status"`
	PatientContext  *triage.PatientContext `json:"patient_context,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	LastActivityAt  time.Time              `json:"last_activity_at"`
	InactivityTTLMS int64                  `json:"inactivity_ttl_ms"`
	Resumed         bool                   `json:"resumed"`
}

// NewCreateResponse builds the API view of a created or resumed session.
func NewCreateResponse(s *Session, ttl time.Duration) CreateResponse {
	return CreateResponse{
		SessionID:       s.ID,
		UserID:          s.UserID,
		Status:          s.Status,
		PatientContext:  s.Patient,
		StartedAt:       s.StartedAt,
		LastActivityAt:  s.LastActivityAt,
		InactivityTTLMS: ttl.Milliseconds(),
	}
}
