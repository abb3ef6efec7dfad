package common

import (
	"context"
	"errors"
	"fmt"
)

// DefaultConflictRetries is the attempt budget for a read-compute-commit sequence.
const DefaultConflictRetries = 10

// RetryOnConflict runs fn until it succeeds, fails with a non-conflict error, or
// has failed with ErrConflict attempts times. Each attempt must redo its reads:
// nothing from a failed attempt may be reused.
func RetryOnConflict(ctx context.Context, logger *Logger, attempts int, op string, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultConflictRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}

		lastErr = err
		logger.Warn().Str("op", op).Int("attempt", attempt).Int("max_attempts", attempts).
			Err(err).Msg("Concurrent write detected, retrying")
	}

	logger.Error().Str("op", op).Int("attempts", attempts).Err(lastErr).Msg("Concurrency retries exhausted")
	// Not wrapped: an exhausted sequence must not look retryable to outer callers.
	return &Error{
		Kind: KindConcurrencyExhausted,
		Msg:  fmt.Sprintf("%s failed after %d attempts (last: %v)", op, attempts, lastErr),
	}
}
