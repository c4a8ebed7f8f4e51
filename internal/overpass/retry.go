package overpass

import (
	"context"
	"errors"
	"log/slog"
	"time"

	retry "github.com/avast/retry-go/v4"
)

type retrying struct {
	next     Fetcher
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// WithRetry wraps next so that transport errors and temporary upstream statuses
// (429, 5xx) are retried with exponential backoff. attempts <= 1 returns next
// unchanged.
func WithRetry(next Fetcher, attempts uint, delay time.Duration, logger *slog.Logger) Fetcher {
	if attempts <= 1 {
		return next
	}
	if delay <= 0 {
		delay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{next: next, attempts: attempts, delay: delay, logger: logger}
}

func (r *retrying) Fetch(ctx context.Context, query string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			b, err := r.next.Fetch(ctx, query)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			r.logger.WarnContext(ctx, "overpass fetch failed, retrying", "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
