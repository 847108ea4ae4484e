package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/medintel/internal/triage"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage  MessageType = "client_message"
	TypeClientControl  MessageType = "client_control"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeTriageResult   MessageType = "triage_result"
	TypeEmergencyAlert MessageType = "emergency_alert"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

// Client control actions.
const (
	ActionAnalyze = "analyze"
	ActionEnd     = "end"
)

// MaxMessageChars bounds a single client message.
const MaxMessageChars = 4000

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type AssistantReply struct {
	Type              MessageType            `json:"type"`
	SessionID         string                 `json:"session_id"`
	TurnID            string                 `json:"turn_id"`
	Text              string                 `json:"text"`
	Intent            triage.Intent          `json:"intent"`
	Confidence        float64                `json:"confidence"`
	RiskLevel         triage.RiskLevel       `json:"risk_level"`
	NextSteps         []string               `json:"next_steps"`
	FollowUpQuestions []string               `json:"follow_up_questions"`
	ReadyForAnalysis  bool                   `json:"ready_for_analysis"`
	Report            *triage.ReportAnalysis `json:"report,omitempty"`
}

type TriageResult struct {
	Type      MessageType         `json:"type"`
	SessionID string              `json:"session_id"`
	TurnID    string              `json:"turn_id"`
	Symptoms  []string            `json:"symptoms"`
	Result    triage.TriageResult `json:"result"`
}

type EmergencyAlert struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"session_id"`
	TurnID    string           `json:"turn_id"`
	Summary   string           `json:"summary"`
	Message   string           `json:"message"`
	NextSteps []string         `json:"next_steps"`
	Severity  triage.Severity  `json:"severity"`
	Urgency   triage.Urgency   `json:"urgency"`
	RiskLevel triage.RiskLevel `json:"risk_level"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// NewEmergencyAlert wraps the fixed emergency payload for the wire.
func NewEmergencyAlert(sessionID, turnID string, resp triage.EmergencyResponse) EmergencyAlert {
	return EmergencyAlert{
		Type:      TypeEmergencyAlert,
		SessionID: sessionID,
		TurnID:    turnID,
		Summary:   resp.Summary,
		Message:   resp.Message,
		NextSteps: resp.NextSteps,
		Severity:  resp.Severity,
		Urgency:   resp.Urgency,
		RiskLevel: resp.RiskLevel,
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_message")
		}
		if len([]rune(msg.Text)) > MaxMessageChars {
			return nil, fmt.Errorf("client_message exceeds %d characters", MaxMessageChars)
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionAnalyze, ActionEnd:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
