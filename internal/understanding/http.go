package understanding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPUnderstander forwards requests to a JSON completion endpoint.
type HTTPUnderstander struct {
	url    string
	client *http.Client
}

func NewHTTPUnderstander(url string) *HTTPUnderstander {
	return &HTTPUnderstander{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (u *HTTPUnderstander) Name() string { return "http" }

func (u *HTTPUnderstander) Complete(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := u.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Provider: "understanding http", Code: res.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return Response{}, ErrEmptyResponse
	}

	// Endpoints either wrap the completion in a text field or return the payload itself.
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		if wrapped := extractText(obj); wrapped != "" {
			return Response{Text: wrapped}, nil
		}
	}
	return Response{Text: text}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "content", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
