package store

import (
	"context"
	"time"

	"github.com/ent0n29/medintel/internal/policy"
	"github.com/ent0n29/medintel/internal/triage"
)

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Intent      string    `json:"intent,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// AssessmentRecord stores one triage outcome for a session. Emergency
// short-circuits are recorded with Emergency set and a CRITICAL/IMMEDIATE result.
type AssessmentRecord struct {
	ID        string              `json:"id"`
	SessionID string              `json:"session_id"`
	UserID    string              `json:"user_id"`
	TurnID    string              `json:"turn_id"`
	Symptoms  []string            `json:"symptoms"`
	Emergency bool                `json:"emergency"`
	Result    triage.TriageResult `json:"result"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store persists conversation turns and triage assessments.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentTurns returns up to limit turns of a session in chronological order.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	SaveAssessment(ctx context.Context, record AssessmentRecord) error
	// Assessments returns up to limit assessments of a session, newest first.
	Assessments(ctx context.Context, sessionID string, limit int) ([]AssessmentRecord, error)
	Mode() string
	Close() error
}

func redactTurn(record TurnRecord) TurnRecord {
	content, changed := policy.RedactPII(record.Content)
	record.Content = content
	record.PIIRedacted = record.PIIRedacted || changed
	return record
}
