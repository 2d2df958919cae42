// Package memory provides the in-process crawl request queue used by serve.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan crawler.CrawlRequest
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan crawler.CrawlRequest, capacity),
	}
}

// Enqueue pushes a request into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, request crawler.CrawlRequest) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- request:
		return nil
	}
}

// TryEnqueue pushes without blocking, returning crawler.ErrQueueFull when
// the buffer is saturated.
func (q *Queue) TryEnqueue(request crawler.CrawlRequest) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	select {
	case q.ch <- request:
		return nil
	default:
		return crawler.ErrQueueFull
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlRequest, error) {
	select {
	case <-ctx.Done():
		return crawler.CrawlRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case request, ok := <-q.ch:
		if !ok {
			return crawler.CrawlRequest{}, crawler.ErrQueueClosed
		}
		return request, nil
	}
}

// Len reports the number of buffered requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
