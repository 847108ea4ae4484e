package understanding

import (
	"context"
	"fmt"
	"strings"
)

// Message is a chat turn forwarded to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call. When Schema is set the caller expects a JSON
// payload of that shape and will validate it with DecodeStrict.
type Request struct {
	Purpose     string    `json:"purpose"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Schema      string    `json:"schema,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

// Response carries the raw provider text.
type Response struct {
	Text string `json:"text"`
}

// Understander is the optional text understanding capability. Implementations
// must honor ctx and must not retry.
type Understander interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Named is implemented by understanders that can report which backend they use.
type Named interface {
	Name() string
}

// Config controls understander construction.
type Config struct {
	Mode          string
	HTTPURL       string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

func NewUnderstander(cfg Config) (Understander, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoUnderstander(cfg), nil
	case "openai":
		return NewOpenAIUnderstander(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("understanding HTTP url is required for http mode")
		}
		return NewHTTPUnderstander(cfg.HTTPURL), nil
	case "none", "disabled":
		return NewDisabledUnderstander(), nil
	default:
		return nil, fmt.Errorf("unsupported understanding mode %q", cfg.Mode)
	}
}

func newAutoUnderstander(cfg Config) Understander {
	var httpU Understander
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		httpU = NewHTTPUnderstander(cfg.HTTPURL)
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		if oa, err := NewOpenAIUnderstander(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel); err == nil {
			if httpU != nil {
				return NewFallbackUnderstander(oa, httpU)
			}
			return oa
		}
	}
	if httpU != nil {
		return httpU
	}
	return NewDisabledUnderstander()
}

// NameOf reports the backend behind u, or "disabled" when u is nil.
func NameOf(u Understander) string {
	if u == nil {
		return "disabled"
	}
	if n, ok := u.(Named); ok {
		return n.Name()
	}
	return "custom"
}

// Enabled reports whether u can reach a provider at all.
func Enabled(u Understander) bool {
	if u == nil {
		return false
	}
	_, disabled := u.(*DisabledUnderstander)
	return !disabled
}
