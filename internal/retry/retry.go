// Package retry runs operations with bounded, context-aware re-attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config controls the attempt loop.
type Config struct {
	MaxAttempts int           // total attempts, including the first
	Delay       time.Duration // wait between attempts
	Backoff     float64       // multiplier applied per attempt, 1.0 keeps Delay fixed
	MaxDelay    time.Duration // cap on the grown delay, 0 means uncapped

	// OnAttempt is called before each attempt with the 1-based attempt
	// number. A non-nil return aborts the loop immediately and is returned
	// as-is; it is the hook failing, not the operation.
	OnAttempt func(attempt int) error
}

// Do runs op until it succeeds, attempts are exhausted, or ctx is done.
// After the final failed attempt the last error is returned annotated with
// the attempt count, still unwrappable with errors.Is and errors.As.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if cfg.OnAttempt != nil {
			if err := cfg.OnAttempt(attempt); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		// Wait with context cancellation support
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delayFor(attempt, cfg)):
		}
	}

	return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// delayFor returns the wait after the given failed attempt.
func delayFor(attempt int, cfg Config) time.Duration {
	if cfg.Backoff <= 1.0 || attempt == 1 {
		return cfg.Delay
	}
	d := float64(cfg.Delay) * math.Pow(cfg.Backoff, float64(attempt-1))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return time.Duration(d)
}
