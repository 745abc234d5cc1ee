// Package retry provides bounded retry with pluggable backoff. The
// classification client uses it to absorb transient backend failures;
// the attempt ceiling guarantees bounded wall-clock per item.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reblisbiver/emotional-crawler/pkg/logger"
)

// Operation is a retryable unit of work.
type Operation func() error

// OperationWithResult is a retryable unit of work that produces a value.
type OperationWithResult[T any] func() (T, error)

// Config controls retry behavior.
type Config struct {
	// MaxAttempts caps total attempts, first try included.
	MaxAttempts int
	Backoff     BackoffStrategy
	// RetryIf decides whether an error is worth another attempt.
	RetryIf func(error) bool
	// OnRetry runs before each wait, with the failed attempt number.
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns a three-attempt exponential retry.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     NewExponentialBackoff(2*time.Second, 10*time.Second),
		RetryIf:     func(err error) bool { return err != nil },
		Logger:      logger.Nop(),
	}
}

// Do runs op, retrying per cfg until it succeeds, the attempt ceiling is
// reached, a non-retryable error occurs, or ctx is cancelled.
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			log.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": lastErr.Error(),
			})
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		delay := cfg.Backoff.NextDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult runs op with retry and returns its value.
func DoWithResult[T any](ctx context.Context, op OperationWithResult[T], cfg *Config) (T, error) {
	var result T
	err := Do(ctx, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)
	return result, err
}
