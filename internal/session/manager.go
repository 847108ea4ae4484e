package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/medintel/internal/triage"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session has ended")
)

type Session struct {
	ID             string                 `json:"session_id"`
	UserID         string                 `json:"user_id"`
	Status         Status                 `json:"status"`
	Patient        *triage.PatientContext `json:"patient_context,omitempty"`
	ActiveTurnID   string                 `json:"active_turn_id"`
	TurnCount      int                    `json:"turn_count"`
	MessageCount   int                    `json:"message_count"`
	StartedAt      time.Time              `json:"started_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
	EndedAt        *time.Time             `json:"ended_at,omitempty"`
}

type entry struct {
	session *Session
	history []triage.Message
	// turn serializes evaluations so each one sees the previous turn's messages.
	turn sync.Mutex
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	endedRetention    time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		endedRetention:    time.Hour,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetEndedRetention controls how long ended sessions stay readable before the
// janitor purges them. Zero purges on the next sweep.
func (m *Manager) SetEndedRetention(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endedRetention = d
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) Create(userID string, patient *triage.PatientContext) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Patient:        clonePatient(patient),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = &entry{session: s}
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.session), nil
}

// ActiveForUser returns the user's most recent active session.
func (m *Manager) ActiveForUser(userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionByUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := m.sessions[id]
	if !ok || e.session.Status != StatusActive {
		return nil, ErrNotFound
	}
	return clone(e.session), nil
}

// BeginTurn reserves the session for one evaluation and returns the turn id. The
// caller must call release when the turn is finished.
func (m *Manager) BeginTurn(sessionID string) (turnID string, release func(), err error) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return "", nil, ErrNotFound
	}

	e.turn.Lock()

	m.mu.Lock()
	if e.session.Status != StatusActive {
		m.mu.Unlock()
		e.turn.Unlock()
		return "", nil, ErrEnded
	}
	turnID = uuid.NewString()
	e.session.ActiveTurnID = turnID
	e.session.TurnCount++
	e.session.LastActivityAt = time.Now().UTC()
	m.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			m.mu.Lock()
			if e.session.ActiveTurnID == turnID {
				e.session.ActiveTurnID = ""
			}
			m.mu.Unlock()
			e.turn.Unlock()
		})
	}
	return turnID, release, nil
}

// Append adds messages to the session history. Messages without a timestamp are
// stamped with the current time.
func (m *Manager) Append(sessionID string, msgs ...triage.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.session.Status != StatusActive {
		return ErrEnded
	}
	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg.Timestamp == nil {
			ts := now
			msg.Timestamp = &ts
		}
		e.history = append(e.history, msg)
	}
	e.session.MessageCount = len(e.history)
	e.session.LastActivityAt = now
	return nil
}

// History returns a copy of the session's messages in insertion order.
func (m *Manager) History(sessionID string) ([]triage.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]triage.Message, len(e.history))
	copy(out, e.history)
	return out, nil
}

func (m *Manager) SetPatientContext(sessionID string, patient *triage.PatientContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.session.Status != StatusActive {
		return ErrEnded
	}
	e.session.Patient = clonePatient(patient)
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	m.endLocked(e.session, time.Now().UTC())
	return clone(e.session), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.session.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, e := range m.sessions {
		s := e.session
		if s.Status != StatusActive {
			if s.EndedAt != nil && now.Sub(*s.EndedAt) >= m.endedRetention {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		m.endLocked(s, now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (m *Manager) endLocked(s *Session, now time.Time) {
	if s.Status == StatusEnded {
		return
	}
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = now
	ended := now
	s.EndedAt = &ended
	if s.UserID != "" && m.sessionByUser[s.UserID] == s.ID {
		delete(m.sessionByUser, s.UserID)
	}
}

func clone(s *Session) *Session {
	c := *s
	c.Patient = clonePatient(s.Patient)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

func clonePatient(p *triage.PatientContext) *triage.PatientContext {
	if p.IsZero() {
		return nil
	}
	c := *p
	c.MedicalHistory = append([]string(nil), p.MedicalHistory...)
	c.CurrentMedications = append([]string(nil), p.CurrentMedications...)
	return &c
}
