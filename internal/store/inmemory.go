package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu          sync.RWMutex
	turns       map[string][]TurnRecord
	assessments map[string][]AssessmentRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:       make(map[string][]TurnRecord),
		assessments: make(map[string][]AssessmentRecord),
	}
}

func (s *InMemoryStore) Mode() string { return ModeMemory }

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	record = redactTurn(record)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[record.SessionID] = append(s.turns[record.SessionID], record)
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) SaveAssessment(_ context.Context, record AssessmentRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Symptoms = append([]string(nil), record.Symptoms...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[record.SessionID] = append(s.assessments[record.SessionID], record)
	return nil
}

func (s *InMemoryStore) Assessments(_ context.Context, sessionID string, limit int) ([]AssessmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.assessments[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]AssessmentRecord, 0, limit)
	for i := len(arr) - 1; i >= len(arr)-limit; i-- {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
