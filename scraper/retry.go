package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// backoffPolicy retries an operation in place with capped exponential
// backoff. Both stages process items strictly sequentially, so the retry
// happens in the calling loop rather than on a timer.
type backoffPolicy struct {
	maxRetries int
	base       time.Duration
	cap        time.Duration
}

func (b backoffPolicy) delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(1<<(attempt-1))
	if b.cap > 0 && d > b.cap {
		d = b.cap
	}
	return d
}

// do runs fn up to maxRetries+1 times, sleeping between attempts. The
// context aborts the wait, not an in-flight attempt.
func (b backoffPolicy) do(ctx context.Context, name string, onRetry func(), fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry()
			}
			wait := b.delay(attempt)
			slog.Warn("retrying after failure",
				slog.String("operation", name),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slog.Any("error", lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, b.maxRetries+1, lastErr)
}
