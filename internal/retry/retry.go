// Package retry runs an operation with bounded attempts and backoff.
package retry

import (
	"context"
	"time"
)

// Config bounds a retry loop.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialDelay is the pause after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failure. Values below 1
	// are treated as 1 (fixed delay).
	Multiplier float64
}

// Fixed returns a config with n attempts and a constant delay between them.
func Fixed(n int, delay time.Duration) Config {
	return Config{MaxAttempts: n, InitialDelay: delay, Multiplier: 1}
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is
// cancelled. The last error is returned. retriable decides whether an
// error is worth another attempt; nil means retry everything.
func Do(ctx context.Context, cfg Config, retriable func(error) bool, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := cfg.InitialDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts {
			return err
		}
		if retriable != nil && !retriable(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * mult)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
