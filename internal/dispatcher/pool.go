// Package dispatcher runs bounded batches of per-locator work and fans crawl
// requests out to run loops in serve mode.
package dispatcher

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run calls fn for every item with at most limit calls in flight and returns
// the results in input order. It blocks until every call has returned; fn is
// expected to honor ctx itself.
func Run[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			results[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
