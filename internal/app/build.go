package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/medintel/internal/config"
	"github.com/ent0n29/medintel/internal/conversation"
	"github.com/ent0n29/medintel/internal/httpapi"
	"github.com/ent0n29/medintel/internal/logging"
	"github.com/ent0n29/medintel/internal/observability"
	"github.com/ent0n29/medintel/internal/session"
	"github.com/ent0n29/medintel/internal/store"
	"github.com/ent0n29/medintel/internal/triage"
	"github.com/ent0n29/medintel/internal/understanding"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Engine   *triage.Engine
	Service  *conversation.Service
	Store    store.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	turnStore, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.DatabaseConnectAttempts)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	understander, err := understanding.NewUnderstander(cfg.Understanding())
	if err != nil {
		_ = turnStore.Close()
		return nil, fmt.Errorf("understanding init failed: %w", err)
	}

	engine := triage.NewEngine(triage.Options{
		Understander:  understander,
		Timeout:       cfg.UnderstandingTimeout,
		HistoryWindow: cfg.HistoryWindow,
		Logger:        logging.Component(logger, "triage"),
		Metrics:       metrics,
	})

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetEndedRetention(cfg.SessionRetention)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
	})

	service := conversation.NewService(sessions, engine, turnStore, metrics, logger)
	api := httpapi.New(cfg, service, metrics, logger)

	logger.Info().
		Str("store_mode", turnStore.Mode()).
		Str("understanding_mode", engine.UnderstandingMode()).
		Dur("session_inactivity_timeout", cfg.SessionInactivityTimeout).
		Msg("triage service assembled")

	cleanup := func() error {
		var errs []string
		if err := turnStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Engine:   engine,
		Service:  service,
		Store:    turnStore,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
