package understanding

import "context"

// DisabledUnderstander is used when no provider is configured. Callers fall back
// to their deterministic path.
type DisabledUnderstander struct{}

func NewDisabledUnderstander() *DisabledUnderstander { return &DisabledUnderstander{} }

func (*DisabledUnderstander) Name() string { return "disabled" }

func (*DisabledUnderstander) Complete(ctx context.Context, _ Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{}, ErrUnavailable
}
