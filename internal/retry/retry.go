// Package retry wraps fallible broker operations with jittered exponential
// backoff. Only transient transport failures are retried; order rejections
// surface immediately.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// Defaults for the backoff schedule.
const (
	DefaultAttempts = 4
	DefaultMin      = 500 * time.Millisecond
	DefaultMax      = 8 * time.Second
)

// transientMarkers are substrings that identify retryable transport errors.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporary failure",
	"too many requests",
	"service unavailable",
	"502",
	"503",
	"504",
}

// IsTransient reports whether the error looks like a retryable transport
// failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Client retries operations against the broker.
type Client struct {
	attempts int
	min, max time.Duration
	logger   zerolog.Logger
}

// NewClient creates a retry client with the default schedule.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		attempts: DefaultAttempts,
		min:      DefaultMin,
		max:      DefaultMax,
		logger:   logger.With().Str("component", "retry").Logger(),
	}
}

// Do runs fn, retrying transient failures with jittered exponential backoff.
// Exit orders matter most here: a position that must close gets every chance
// to close before the error propagates.
func (c *Client) Do(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    c.min,
		Max:    c.max,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == c.attempts {
			break
		}

		wait := b.Duration()
		c.logger.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(lastErr).
			Msg("transient failure, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, c.attempts, lastErr)
}
