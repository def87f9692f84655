package fn

import (
	"context"
	"time"
)

// RetryConfig is the configuration of RetryFuncN.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling delay between retries.
	MaxBackoff time.Duration
}

// DefaultRetryConfig is used for optimistic transaction conflicts of the
// storage backends.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     10,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// RetryFuncN calls f until it succeeds, retryable returns false for the
// returned error, the retries are exhausted or the context is done.
func RetryFuncN[T any](ctx context.Context, cfg RetryConfig,
	retryable func(error) bool, f func() (T, error)) (T, error) {

	backoff := cfg.InitialBackoff

	for attempt := 0; ; attempt++ {
		result, err := f()
		switch {
		case err == nil:
			return result, nil

		case attempt >= cfg.MaxRetries || !retryable(err):
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()

		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}
