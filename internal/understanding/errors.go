package understanding

import (
	"errors"
	"fmt"

	"github.com/ent0n29/medintel/internal/reliability"
)

var (
	// ErrUnavailable is returned when no provider is configured.
	ErrUnavailable = errors.New("text understanding unavailable")

	// ErrEmptyResponse is returned when the provider answers with no content.
	ErrEmptyResponse = errors.New("empty provider response")

	// ErrInvalidJSON is returned when provider output does not match the requested shape.
	ErrInvalidJSON = errors.New("provider output is not valid JSON for the requested shape")
)

// StatusError reports a non-2xx answer from a provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether the calling layer may retry the request.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// IsRetryable reports whether err carries a provider status worth retrying.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Retryable()
}
