package store

import (
	"context"
	"strings"
)

const (
	ModeMemory   = "memory"
	ModePostgres = "postgres"
)

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string, connectAttempts int) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL, connectAttempts)
}
