package payment

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds an operation to MaxAttempts tries with exponential
// backoff between them, starting at InitialBackoff, doubling, and capped at
// MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// Backoff returns the delay to wait after the given 1-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}

	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// Do runs op until it succeeds or MaxAttempts is reached. The wait between
// attempts is a timer select, not a thread-blocking sleep, so cancelling ctx
// aborts the wait immediately.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, err)
}
