package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds retry configuration for transient embedded-engine failures.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (default: 3)
	InitialDelay time.Duration // Delay before first retry (default: 50ms)
	MaxDelay     time.Duration // Maximum delay between retries (default: 2s)
	Multiplier   float64       // Exponential backoff multiplier (default: 2.0)
}

// DefaultConfig returns default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// lockPatterns are error substrings emitted by the embedded engines when a
// writer holds the file or table lock. These clear on their own, so they
// are worth a bounded retry. Constraint violations and syntax errors are
// permanent and must not be retried.
var lockPatterns = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"busy_snapshot",
	"conflicting concurrent transaction",
	"could not set lock",
}

// IsLockError reports whether err looks like a transient lock conflict.
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range lockPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Do executes operation with bounded exponential backoff, retrying only on
// transient lock errors. onRetry (optional) is invoked before each retry
// with the error that triggered it.
func Do(ctx context.Context, cfg Config, operation func() error, onRetry func(error)) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		err := operation()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !IsLockError(err) {
			return err
		}

		if attempt >= cfg.MaxAttempts {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", cfg.MaxAttempts).
				Msg("Max retry attempts reached")
			return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, err)
		}

		if onRetry != nil {
			onRetry(err)
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("retry_delay", delay).
			Msg("Operation hit lock conflict, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
