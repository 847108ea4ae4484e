package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/medintel/internal/protocol"
	"github.com/ent0n29/medintel/internal/session"
	"github.com/ent0n29/medintel/internal/triage"
)

const criticalSendTimeout = 600 * time.Millisecond

// RunConnection serves one websocket connection until inbound closes, ctx is
// done, or the client ends the session.
func (s *Service) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	s.send(outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sess.ID,
		Code:      "session_ready",
		Detail:    s.engine.UnderstandingMode(),
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := raw.(type) {
			case protocol.ClientMessage:
				if m.SessionID != sess.ID {
					s.sendError(outbound, sess.ID, "session_mismatch", "conversation", errors.New("session_id does not match connection"))
					continue
				}
				res, err := s.HandleMessage(ctx, sess.ID, m.Text)
				if err != nil {
					s.sendError(outbound, sess.ID, errorCode(err), "conversation", err)
					if errors.Is(err, session.ErrEnded) || errors.Is(err, session.ErrNotFound) {
						return nil
					}
					continue
				}
				for _, msg := range Messages(res) {
					s.send(outbound, msg)
				}
			case protocol.ClientControl:
				if m.SessionID != sess.ID {
					s.sendError(outbound, sess.ID, "session_mismatch", "conversation", errors.New("session_id does not match connection"))
					continue
				}
				_ = s.sessions.Touch(sess.ID)
				switch m.Action {
				case protocol.ActionAnalyze:
					analysis, err := s.Analyze(ctx, sess.ID)
					if err != nil {
						s.sendError(outbound, sess.ID, errorCode(err), "triage", err)
						continue
					}
					s.send(outbound, protocol.TriageResult{
						Type:      protocol.TypeTriageResult,
						SessionID: sess.ID,
						TurnID:    analysis.TurnID,
						Symptoms:  analysis.Symptoms,
						Result:    analysis.Result,
					})
				case protocol.ActionEnd:
					if _, err := s.End(sess.ID); err != nil {
						s.sendError(outbound, sess.ID, errorCode(err), "session", err)
					}
					s.send(outbound, protocol.SystemEvent{
						Type:      protocol.TypeSystemEvent,
						SessionID: sess.ID,
						Code:      "session_ended",
					})
					return nil
				}
			}
		}
	}
}

func (s *Service) sendError(outbound chan<- any, sessionID, code, source string, err error) {
	s.send(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: false,
		Detail:    err.Error(),
	})
}

// send never blocks on informational events. Alerts, results and errors wait
// briefly for queue space before being dropped.
func (s *Service) send(outbound chan<- any, msg any) {
	if !isCritical(msg) {
		select {
		case outbound <- msg:
		default:
			s.metrics.ObserveSessionEvent("outbound_drop")
		}
		return
	}

	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
	case <-timer.C:
		s.metrics.ObserveSessionEvent("outbound_timeout_critical")
	}
}

func isCritical(msg any) bool {
	switch msg.(type) {
	case protocol.EmergencyAlert, protocol.TriageResult, protocol.AssistantReply, protocol.ErrorEvent:
		return true
	default:
		return false
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found"
	case errors.Is(err, session.ErrEnded):
		return "session_ended"
	case errors.Is(err, ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, triage.ErrNoSymptoms):
		return "no_symptoms"
	default:
		return "turn_failed"
	}
}
