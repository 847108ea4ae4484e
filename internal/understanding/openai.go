package understanding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIUnderstander calls an OpenAI-compatible chat completion API.
type OpenAIUnderstander struct {
	client *openai.Client
	model  string
}

// NewOpenAIUnderstander builds a client for the given key. baseURL may point at any
// OpenAI-compatible endpoint; empty keeps the library default.
func NewOpenAIUnderstander(apiKey, baseURL, model string) (*OpenAIUnderstander, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ErrUnavailable)
	}
	cfg := openai.DefaultConfig(apiKey)
	if u := strings.TrimSpace(baseURL); u != "" {
		cfg.BaseURL = strings.TrimRight(u, "/")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIUnderstander{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (u *OpenAIUnderstander) Name() string { return "openai" }

func (u *OpenAIUnderstander) Complete(ctx context.Context, req Request) (Response, error) {
	if u.client == nil {
		return Response{}, errors.New("openai client not initialized")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+2)
	if s := strings.TrimSpace(req.System); s != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s})
	}
	if req.Schema != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Return ONLY valid JSON with this exact shape, no markdown or other text: " + req.Schema,
		})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.2
	}
	resp, err := u.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       u.model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return Response{}, &StatusError{Provider: "openai", Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return Response{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{Text: text}, nil
}
