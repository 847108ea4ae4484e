package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/medintel/internal/config"
	"github.com/ent0n29/medintel/internal/conversation"
	"github.com/ent0n29/medintel/internal/logging"
	"github.com/ent0n29/medintel/internal/observability"
	"github.com/ent0n29/medintel/internal/protocol"
	"github.com/ent0n29/medintel/internal/session"
	"github.com/ent0n29/medintel/internal/store"
	"github.com/ent0n29/medintel/internal/triage"
)

type Server struct {
	cfg      config.Config
	service  *conversation.Service
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, service *conversation.Service, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		service:  service,
		sessions: service.Sessions(),
		metrics:  metrics,
		logger:   logging.Component(logger, "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handleResetPerfLatency)

	r.Route("/v1/chat", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Get("/session/ws", s.handleSessionWS)
		r.Get("/session/{id}", s.handleGetSession)
		r.Post("/session/{id}/end", s.handleEndSession)
		r.Post("/message", s.handleChatMessage)
		r.Post("/analyze", s.handleChatAnalyze)
	})
	r.Route("/v1/analyze", func(r chi.Router) {
		r.Post("/symptoms", s.handleAnalyzeSymptoms)
		r.Post("/report", s.handleAnalyzeReport)
		r.Get("/symptoms/sample", s.handleAnalyzeSample)
	})

	return r
}

type healthResponse struct {
	Status            string `json:"status"`
	StoreMode         string `json:"store_mode"`
	UnderstandingMode string `json:"understanding_mode"`
	ActiveSessions    int    `json:"active_sessions"`
}

func (s *Server) health(status string) healthResponse {
	return healthResponse{
		Status:            status,
		StoreMode:         s.service.StoreMode(),
		UnderstandingMode: s.service.UnderstandingMode(),
		ActiveSessions:    s.sessions.ActiveCount(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.health("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.health("ready"))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		req.UserID = anonymousUser
	}

	// A named user with a live conversation gets it back instead of a second one.
	if req.UserID != anonymousUser {
		if sess, err := s.sessions.ActiveForUser(req.UserID); err == nil {
			if req.PatientContext != nil {
				if err := s.sessions.SetPatientContext(sess.ID, req.PatientContext); err != nil {
					respondSessionError(w, err)
					return
				}
				sess.Patient = req.PatientContext
			}
			s.metrics.ObserveSessionEvent("resumed")
			resp := session.NewCreateResponse(sess, s.sessions.InactivityTimeout())
			resp.Resumed = true
			respondJSON(w, http.StatusOK, resp)
			return
		}
	}

	sess := s.sessions.Create(req.UserID, req.PatientContext)
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.ObserveSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.NewCreateResponse(sess, s.sessions.InactivityTimeout()))
}

const (
	anonymousUser      = "anonymous"
	sessionDetailLimit = 20
)

type sessionDetailResponse struct {
	Session     *session.Session         `json:"session"`
	History     []triage.Message         `json:"history"`
	StoredTurns []store.TurnRecord       `json:"stored_turns"`
	Assessments []store.AssessmentRecord `json:"assessments"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	history, err := s.sessions.History(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	turns, err := s.service.RecentTurns(r.Context(), id, sessionDetailLimit)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("list stored turns failed")
	}
	if turns == nil {
		turns = []store.TurnRecord{}
	}
	assessments, err := s.service.Assessments(r.Context(), id, sessionDetailLimit)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("list assessments failed")
	}
	if assessments == nil {
		assessments = []store.AssessmentRecord{}
	}
	respondJSON(w, http.StatusOK, sessionDetailResponse{
		Session:     sess,
		History:     history,
		StoredTurns: turns,
		Assessments: assessments,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.service.End(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	if sess.Status != session.StatusActive {
		respondSessionError(w, session.ErrEnded)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer cancel()
		_ = s.service.RunConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				// Flush whatever the conversation queued before it returned.
				for {
					select {
					case msg := <-outbound:
						if !s.writeWS(conn, msg) {
							return
						}
					default:
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
						return
					}
				}
			case msg := <-outbound:
				if !s.writeWS(conn, msg) {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	go func() {
		<-ctx.Done()
		// Unblock ReadMessage once the conversation is over.
		_ = conn.SetReadDeadline(time.Now())
	}()

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.ObserveSessionEvent("outbound_drop")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) writeWS(conn *websocket.Conn, msg any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		s.metrics.ObserveSessionEvent("ws_write_error")
		return false
	}
	if t, ok := messageTypeOf(msg); ok {
		s.metrics.ObserveWSMessage("outbound", string(t))
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.TriageResult:
		return m.Type, true
	case protocol.EmergencyAlert:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
