package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/medintel/internal/logging"
	"github.com/ent0n29/medintel/internal/understanding"
)

// Config contains all runtime settings for the triage service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionRetention         time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// HistoryWindow bounds how many recent messages are sent to the provider.
	HistoryWindow int

	DatabaseURL             string
	DatabaseConnectAttempts int

	UnderstandingMode    string
	UnderstandingHTTPURL string
	UnderstandingTimeout time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	LogLevel  string
	LogPretty bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "medintel"),
		AllowAnyOrigin:           false,
		HistoryWindow:            20,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		DatabaseConnectAttempts:  5,
		UnderstandingMode:        strings.ToLower(envOrDefault("UNDERSTANDING_MODE", "auto")),
		UnderstandingHTTPURL:     stringsTrimSpace("UNDERSTANDING_HTTP_URL"),
		UnderstandingTimeout:     8 * time.Second,
		OpenAIAPIKey:             stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:            stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:              envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		LogLevel:                 strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogPretty:                false,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		SessionRetention:         time.Hour,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("APP_SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.UnderstandingTimeout, err = durationFromEnv("UNDERSTANDING_TIMEOUT", cfg.UnderstandingTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("APP_HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseConnectAttempts, err = intFromEnv("DATABASE_CONNECT_ATTEMPTS", cfg.DatabaseConnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogPretty, err = boolFromEnv("LOG_PRETTY", cfg.LogPretty)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SessionRetention < 0 {
		return Config{}, fmt.Errorf("APP_SESSION_RETENTION must be >= 0")
	}
	if cfg.HistoryWindow < 1 {
		return Config{}, fmt.Errorf("APP_HISTORY_WINDOW must be positive")
	}
	if cfg.DatabaseConnectAttempts < 1 {
		return Config{}, fmt.Errorf("DATABASE_CONNECT_ATTEMPTS must be positive")
	}
	if cfg.UnderstandingTimeout < 100*time.Millisecond || cfg.UnderstandingTimeout > 2*time.Minute {
		return Config{}, fmt.Errorf("UNDERSTANDING_TIMEOUT must be between 100ms and 2m")
	}
	switch cfg.UnderstandingMode {
	case "auto", "openai", "http", "none", "disabled":
	default:
		return Config{}, fmt.Errorf("UNDERSTANDING_MODE must be one of auto, openai, http, none")
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL parse error: %w", err)
	}

	return cfg, nil
}

// Understanding returns the provider settings.
func (c Config) Understanding() understanding.Config {
	return understanding.Config{
		Mode:          c.UnderstandingMode,
		HTTPURL:       c.UnderstandingHTTPURL,
		OpenAIAPIKey:  c.OpenAIAPIKey,
		OpenAIBaseURL: c.OpenAIBaseURL,
		OpenAIModel:   c.OpenAIModel,
	}
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:  c.LogLevel,
		Pretty: c.LogPretty,
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
