package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/medintel/internal/triage"
)

func TestNewStoreWithoutURLIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ", 3)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if s.Mode() != ModeMemory {
		t.Fatalf("Mode() = %q, want %q", s.Mode(), ModeMemory)
	}
}

func TestInMemoryRecentTurnsChronological(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, content := range []string{"one", "two", "three", "four"} {
		err := s.SaveTurn(ctx, TurnRecord{
			SessionID: "sess-1",
			UserID:    "user-1",
			Role:      "user",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}
	if err := s.SaveTurn(ctx, TurnRecord{SessionID: "sess-2", Role: "user", Content: "other"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}

	got, err := s.RecentTurns(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "three" || got[1].Content != "four" {
		t.Fatalf("contents = %q, %q; want three, four", got[0].Content, got[1].Content)
	}
	if got[0].ID == "" {
		t.Fatalf("expected generated id")
	}

	all, _ := s.RecentTurns(ctx, "sess-1", 0)
	if len(all) != 4 {
		t.Fatalf("len(all) = %d, want 4", len(all))
	}
	none, _ := s.RecentTurns(ctx, "missing", 5)
	if len(none) != 0 {
		t.Fatalf("expected no turns for unknown session, got %d", len(none))
	}
}

func TestInMemorySaveTurnRedactsPII(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s", Role: "user", Content: "reach me at jane@example.com, head hurts"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s", Role: "user", Content: "pain is 8/10"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	got, _ := s.RecentTurns(ctx, "s", 10)
	if strings.Contains(got[0].Content, "jane@example.com") || !got[0].PIIRedacted {
		t.Fatalf("expected redacted turn, got %+v", got[0])
	}
	if got[1].PIIRedacted || got[1].Content != "pain is 8/10" {
		t.Fatalf("expected clinical text untouched, got %+v", got[1])
	}
}

func TestInMemoryAssessmentsNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	severities := []triage.Severity{triage.SeverityLow, triage.SeverityModerate, triage.SeverityHigh}
	for _, sev := range severities {
		err := s.SaveAssessment(ctx, AssessmentRecord{
			SessionID: "sess-1",
			Symptoms:  []string{"fever"},
			Result:    triage.TriageResult{Severity: sev, Urgency: triage.UrgencyRoutine},
		})
		if err != nil {
			t.Fatalf("SaveAssessment() error = %v", err)
		}
	}

	got, err := s.Assessments(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("Assessments() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Result.Severity != triage.SeverityHigh || got[1].Result.Severity != triage.SeverityModerate {
		t.Fatalf("order = %s, %s; want HIGH, MODERATE", got[0].Result.Severity, got[1].Result.Severity)
	}
}

func TestInMemoryAssessmentCopiesSymptoms(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	symptoms := []string{"cough"}
	if err := s.SaveAssessment(ctx, AssessmentRecord{SessionID: "s", Symptoms: symptoms}); err != nil {
		t.Fatalf("SaveAssessment() error = %v", err)
	}
	symptoms[0] = "mutated"
	got, _ := s.Assessments(ctx, "s", 1)
	if got[0].Symptoms[0] != "cough" {
		t.Fatalf("stored symptoms aliased caller slice: %v", got[0].Symptoms)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	s, err := NewStore(ctx, databaseURL, 2)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if s.Mode() != ModePostgres {
		t.Fatalf("Mode() = %q, want %q", s.Mode(), ModePostgres)
	}

	sessionID := "test-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, content := range []string{"I have a fever", "call 555-123-4567"} {
		err := s.SaveTurn(ctx, TurnRecord{
			SessionID: sessionID,
			UserID:    "user-1",
			TurnID:    "turn-1",
			Role:      "user",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}
	turns, err := s.RecentTurns(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "I have a fever" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	if !turns[1].PIIRedacted || strings.Contains(turns[1].Content, "555-123-4567") {
		t.Fatalf("expected redacted phone, got %+v", turns[1])
	}

	result := triage.TriageResult{
		Predictions: []triage.Prediction{{Condition: "Influenza", Confidence: 0.65}},
		Severity:    triage.SeverityModerate,
		Urgency:     triage.UrgencyWithin24H,
		RedFlags:    []string{},
	}
	if err := s.SaveAssessment(ctx, AssessmentRecord{SessionID: sessionID, UserID: "user-1", TurnID: "turn-1", Symptoms: []string{"fever", "cough"}, Result: result}); err != nil {
		t.Fatalf("SaveAssessment() error = %v", err)
	}
	assessments, err := s.Assessments(ctx, sessionID, 5)
	if err != nil {
		t.Fatalf("Assessments() error = %v", err)
	}
	if len(assessments) != 1 {
		t.Fatalf("len = %d, want 1", len(assessments))
	}
	got := assessments[0]
	if got.Result.Severity != triage.SeverityModerate || len(got.Result.Predictions) != 1 || got.Result.Predictions[0].Condition != "Influenza" {
		t.Fatalf("unexpected assessment: %+v", got)
	}
	if len(got.Symptoms) != 2 || got.Symptoms[1] != "cough" {
		t.Fatalf("symptoms = %v", got.Symptoms)
	}
}
