// Package fetcher wraps a single-attempt Getter with rate limiting and a
// fixed-delay retry policy, classifying every request into an Outcome.
package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/metrics"
)

// Waiter throttles attempts per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Gate vetoes URLs before any attempt, e.g. on robots.txt rules.
type Gate interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Fetcher implements crawler.Fetcher.
type Fetcher struct {
	getter  crawler.Getter
	policy  *crawler.FixedRetryPolicy
	limiter Waiter
	gate    Gate
	logger  *zap.Logger
}

// New builds a Fetcher. A nil policy uses the default 5 attempts / 2s, a nil
// limiter disables throttling.
func New(getter crawler.Getter, policy *crawler.FixedRetryPolicy, limiter Waiter, logger *zap.Logger) *Fetcher {
	if policy == nil {
		policy = crawler.NewFixedRetryPolicy(crawler.DefaultRetryAttempts, crawler.DefaultRetryDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		getter:  getter,
		policy:  policy,
		limiter: limiter,
		logger:  logger.Named("fetcher"),
	}
}

// WithGate installs gate; a vetoed URL fails terminally without a request.
func (f *Fetcher) WithGate(gate Gate) *Fetcher {
	f.gate = gate
	return f
}

// Fetch retries non-2xx statuses and network errors until the policy is
// exhausted. Cancellation of ctx yields OutcomeRetryable since the locator
// was never decided.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) crawler.FetchResult {
	result := crawler.FetchResult{URL: request.URL}
	var lastReason string

	if f.gate != nil && !f.gate.Allowed(ctx, request.URL) {
		return f.finish(result, crawler.OutcomeTerminal, "disallowed by robots.txt")
	}

	for attempt := 1; ; attempt++ {
		if err := f.throttle(ctx, request.URL); err != nil {
			return f.finish(result, crawler.OutcomeRetryable, fmt.Sprintf("canceled before attempt %d: %v", attempt, err))
		}
		result.Attempts = attempt

		resp, err := f.getter.Get(ctx, request)
		switch {
		case err != nil && ctx.Err() != nil:
			return f.finish(result, crawler.OutcomeRetryable, fmt.Sprintf("canceled during attempt %d: %v", attempt, ctx.Err()))
		case err != nil:
			metrics.ObserveFetchAttempt(request.URL, 0, 0)
			lastReason = fmt.Sprintf("%v: %v", crawler.ErrTransientNetwork, err)
		case !resp.OK():
			metrics.ObserveFetchAttempt(request.URL, resp.StatusCode, len(resp.Body))
			result.Response = resp
			lastReason = fmt.Sprintf("last status %d", resp.StatusCode)
		default:
			metrics.ObserveFetchAttempt(request.URL, resp.StatusCode, len(resp.Body))
			result.Response = resp
			return f.finish(result, crawler.OutcomeSuccess, "")
		}

		f.logger.Debug("fetch attempt failed",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.String("reason", lastReason),
		)

		if !f.policy.ShouldRetry(ctx, attempt) {
			break
		}
		if err := f.policy.Wait(ctx); err != nil {
			return f.finish(result, crawler.OutcomeRetryable, fmt.Sprintf("canceled after attempt %d: %v", attempt, err))
		}
	}

	if ctx.Err() != nil {
		return f.finish(result, crawler.OutcomeRetryable, fmt.Sprintf("canceled after attempt %d: %v", result.Attempts, ctx.Err()))
	}
	reason := fmt.Sprintf("failed after %d attempts: %s", result.Attempts, lastReason)
	f.logger.Warn("fetch exhausted retries", zap.String("url", request.URL), zap.String("reason", reason))
	return f.finish(result, crawler.OutcomeTerminal, reason)
}

func (f *Fetcher) throttle(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done: %w", err)
	}
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, url); err != nil {
		return err
	}
	return nil
}

func (f *Fetcher) finish(result crawler.FetchResult, outcome crawler.Outcome, reason string) crawler.FetchResult {
	result.Outcome = outcome
	result.Reason = reason
	metrics.ObserveFetchResult(result.URL, string(outcome))
	return result
}

// Err converts a non-success result into a sentinel-wrapped error.
func Err(result crawler.FetchResult) error {
	switch result.Outcome {
	case crawler.OutcomeSuccess:
		return nil
	case crawler.OutcomeTerminal:
		return fmt.Errorf("%w: %s", crawler.ErrTerminalFetch, result.Reason)
	default:
		return fmt.Errorf("%w: %s", crawler.ErrTransientNetwork, result.Reason)
	}
}
