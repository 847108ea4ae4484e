package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/medintel/internal/reliability"
)

// PostgresStore persists turns and assessments in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string, connectAttempts int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	err = reliability.Retry(ctx, connectAttempts, 250*time.Millisecond, 4*time.Second, func(int) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_created ON conversation_turns (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS triage_assessments (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			symptoms TEXT[] NOT NULL DEFAULT '{}',
			emergency BOOLEAN NOT NULL DEFAULT FALSE,
			severity TEXT NOT NULL,
			urgency TEXT NOT NULL,
			result JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_triage_assessments_session_created ON triage_assessments (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return ModePostgres }

func (s *PostgresStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	record = redactTurn(record)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, user_id, session_id, turn_id, role, content, intent, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID,
		record.UserID,
		record.SessionID,
		record.TurnID,
		record.Role,
		record.Content,
		record.Intent,
		record.PIIRedacted,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, session_id, turn_id, role, content, intent, pii_redacted, created_at
		 FROM conversation_turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.TurnID, &r.Role, &r.Content, &r.Intent, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) SaveAssessment(ctx context.Context, record AssessmentRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Symptoms == nil {
		record.Symptoms = []string{}
	}
	result, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO triage_assessments (id, session_id, user_id, turn_id, symptoms, emergency, severity, urgency, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
		record.ID,
		record.SessionID,
		record.UserID,
		record.TurnID,
		record.Symptoms,
		record.Emergency,
		string(record.Result.Severity),
		string(record.Result.Urgency),
		string(result),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Assessments(ctx context.Context, sessionID string, limit int) ([]AssessmentRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, turn_id, symptoms, emergency, result::text, created_at
		 FROM triage_assessments WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	items := make([]AssessmentRecord, 0, limit)
	for rows.Next() {
		var (
			r      AssessmentRecord
			result string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.TurnID, &r.Symptoms, &r.Emergency, &result, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assessment row: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &r.Result); err != nil {
			return nil, fmt.Errorf("decode assessment %s: %w", r.ID, err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessment rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
