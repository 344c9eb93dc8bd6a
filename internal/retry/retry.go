// Package retry provides exponential backoff retry logic for external API calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	perrors "github.com/localslackirc/bridge/internal/bridgeerr"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// Do executes fn with exponential backoff. Only retries if the error is retryable.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !perrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		if cfg.Jitter {
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// Backoff is an unbounded doubling backoff used by the long-lived RTM
// socket reconnect loop rather than the fixed-attempt Do above. It resets to BaseDelay on Success.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration

	cur time.Duration
}

// NewBackoff returns a Backoff with the spec's reconnect defaults:
// starts at 1s, caps at 120s (spec §5 "doubles its sleep up to 120 seconds").
func NewBackoff() *Backoff {
	return &Backoff{BaseDelay: time.Second, MaxDelay: 120 * time.Second}
}

// Next returns the next delay and advances the internal doubling counter.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.BaseDelay
	} else {
		b.cur *= 2
	}
	if b.cur > b.MaxDelay {
		b.cur = b.MaxDelay
	}
	return b.cur
}

// Reset resets the backoff to its initial state, called on a successful
// reconnect.
func (b *Backoff) Reset() {
	b.cur = 0
}
