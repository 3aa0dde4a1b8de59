package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every call to next by d. A call that runs out of time
// fails with KindTimeout even if next reported something else.
func WithTimeout(next Client, d time.Duration) Client {
	if d <= 0 {
		return next
	}
	return &timeoutClient{next: next, timeout: d}
}

func (t *timeoutClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.next.Complete(ctx, req)
	if err == nil {
		return out, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Kind == KindTimeout {
			return "", err
		}
		provider := "provider"
		if pe != nil {
			provider = pe.Provider
		}
		return "", newError(provider, KindTimeout, 0, fmt.Errorf("no response within %s: %w", t.timeout, err))
	}
	return "", err
}
