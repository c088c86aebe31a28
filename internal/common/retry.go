package common

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// NewBackOff builds the exponential policy described by cfg. The first call
// counts as an attempt, so MaxAttempts=1 means no retries at all.
func NewBackOff(ctx context.Context, cfg RetryConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		eb.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		eb.MaxInterval = cfg.MaxInterval
	}
	eb.MaxElapsedTime = 0

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}
