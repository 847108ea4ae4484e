package understanding

import (
	"context"
	"errors"
	"fmt"
)

// FallbackUnderstander attempts a primary understander first and falls back on error.
type FallbackUnderstander struct {
	primary  Understander
	fallback Understander
}

func NewFallbackUnderstander(primary, fallback Understander) *FallbackUnderstander {
	return &FallbackUnderstander{
		primary:  primary,
		fallback: fallback,
	}
}

func (u *FallbackUnderstander) Name() string {
	return NameOf(u.primary) + "+" + NameOf(u.fallback)
}

func (u *FallbackUnderstander) Complete(ctx context.Context, req Request) (Response, error) {
	if u == nil || u.primary == nil {
		if u != nil && u.fallback != nil {
			return u.fallback.Complete(ctx, req)
		}
		return Response{}, fmt.Errorf("fallback understander misconfigured")
	}

	resp, err := u.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Response{}, err
	}
	if u.fallback == nil {
		return Response{}, err
	}
	fallbackResp, fallbackErr := u.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary understander error: %w; fallback understander error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
