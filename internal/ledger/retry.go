package ledger

import (
	"context"
	"errors"
	"fmt"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// WithRetry runs op until it succeeds, fails with an error retryable rejects,
// or maxAttempts is used up. Each attempt gets its own result; nothing is
// carried between attempts. The final error keeps the last failure in its
// chain so errors.Is still classifies it.
func WithRetry[T any](ctx context.Context, maxAttempts int, retryable func(error) bool, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := ctx.Err(); err != nil {
				return zero, fmt.Errorf("%w: %w", err, lastErr)
			}
		}

		out, err := op(ctx, attempt)
		if err == nil {
			return out, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
	}
	if maxAttempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}
