package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConnect runs probe until it succeeds or attempts are exhausted,
// sleeping backoff between tries. Only the ErrNotRegistered class is
// retried; a freshly started service announces itself asynchronously, so
// "not there yet" is expected for a short window. Any other error is
// returned immediately.
func RetryConnect(ctx context.Context, attempts int, backoff time.Duration, probe func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		last = probe()
		if last == nil {
			return nil
		}
		if !errors.Is(last, ErrNotRegistered) {
			return last
		}
		if i == attempts-1 {
			break
		}
		slog.Debug("service not registered yet, retrying", "attempt", i+1, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("connect after %d attempts: %w", attempts, last)
}
