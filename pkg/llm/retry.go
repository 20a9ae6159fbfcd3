package llm

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures transport-level retry behavior for retryable
// provider failures (rate limits, connection errors). Non-retryable kinds
// fail immediately.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including the
	// initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Jitter randomizes delays to avoid synchronized retry storms.
	Jitter bool
}

// DefaultRetryConfig returns sensible transport retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// retryGenerate executes fn with exponential backoff, retrying only when the
// returned error is a retryable GenerationError. Context cancellation aborts
// immediately.
func retryGenerate(ctx context.Context, cfg RetryConfig, fn func() (*Result, error)) (*Result, error) {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		ge, ok := err.(*GenerationError)
		if !ok || !ge.Retryable() {
			return nil, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		waitDelay := delay
		if cfg.Jitter {
			waitDelay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitDelay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
