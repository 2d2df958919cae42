package crawler

import (
	"context"
	"fmt"
	"time"
)

// Default fetch retry settings.
const (
	DefaultRetryAttempts = 5
	DefaultRetryDelay    = 2 * time.Second
)

// FixedRetryPolicy retries a bounded number of attempts with a constant delay
// between them. There is no exponential growth.
type FixedRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// NewFixedRetryPolicy builds a policy; non-positive attempts fall back to the
// default and negative delays to zero.
func NewFixedRetryPolicy(attempts int, delay time.Duration) *FixedRetryPolicy {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if delay < 0 {
		delay = 0
	}
	return &FixedRetryPolicy{maxAttempts: attempts, delay: delay}
}

// MaxAttempts returns the total number of attempts, including the first.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether another attempt follows attempt (1-based).
func (p *FixedRetryPolicy) ShouldRetry(ctx context.Context, attempt int) bool {
	if ctx.Err() != nil {
		return false
	}
	return attempt < p.maxAttempts
}

// Wait blocks for the retry delay or until ctx ends.
func (p *FixedRetryPolicy) Wait(ctx context.Context) error {
	return Sleep(ctx, p.delay)
}

// Sleep pauses for d, returning early with the context error when ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sleep canceled: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
