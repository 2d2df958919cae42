package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

// Handler processes one crawl request.
type Handler func(ctx context.Context, request crawler.CrawlRequest) error

// Dispatcher fans queued crawl requests out to a fixed number of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers int
	handle  Handler
	logger  *zap.Logger
}

// New creates a Dispatcher with at least one worker.
func New(queue crawler.Queue, workers int, handle Handler, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, workers: workers, handle: handle, logger: logger.Named("dispatcher")}
}

// Run starts all workers and blocks until the context finishes or the queue
// closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, id int) {
	for {
		request, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, crawler.ErrQueueClosed) {
				d.logger.Error("queue dequeue failed", zap.Int("worker", id), zap.Error(err))
			}
			return
		}
		d.logger.Info("crawl request dequeued",
			zap.Int("worker", id),
			zap.String("request_id", request.ID),
			zap.String("source", request.Source),
			zap.String("trigger", request.Trigger),
		)
		if err := d.handle(ctx, request); err != nil {
			d.logger.Error("crawl request failed",
				zap.String("request_id", request.ID),
				zap.String("source", request.Source),
				zap.Error(err),
			)
		}
	}
}
