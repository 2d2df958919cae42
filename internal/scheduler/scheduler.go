// Package scheduler enqueues crawl requests on per-source cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

// TriggerCron marks requests created by the scheduler.
const TriggerCron = "cron"

// Enqueuer accepts crawl requests without blocking.
type Enqueuer interface {
	TryEnqueue(request crawler.CrawlRequest) error
}

// Scheduler owns a cron instance with one entry per scheduled source.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	queue  Enqueuer
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a Scheduler using standard five-field cron expressions.
func New(queue Enqueuer, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		parser:  parser,
		queue:   queue,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules source, replacing any previous entry for it.
func (s *Scheduler) Add(source, spec string) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("%w: schedule %q for %s: %v", crawler.ErrFatalConfiguration, spec, source, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[source]; ok {
		s.cron.Remove(id)
	}
	id, err := s.cron.AddFunc(spec, func() { s.Trigger(source) })
	if err != nil {
		return fmt.Errorf("add cron entry for %s: %w", source, err)
	}
	s.entries[source] = id
	s.logger.Info("source scheduled", zap.String("source", source), zap.String("schedule", spec))
	return nil
}

// Len returns the number of scheduled sources.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Trigger enqueues a crawl for source. A full queue drops the tick; the
// next one will catch up.
func (s *Scheduler) Trigger(source string) {
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("generate request id failed", zap.String("source", source), zap.Error(err))
		return
	}
	request := crawler.CrawlRequest{ID: id, Source: source, RequestedAt: s.clock.Now(), Trigger: TriggerCron}
	if err := s.queue.TryEnqueue(request); err != nil {
		if errors.Is(err, crawler.ErrQueueFull) {
			s.logger.Warn("crawl queue full, skipping scheduled run", zap.String("source", source))
			return
		}
		s.logger.Error("enqueue scheduled crawl failed", zap.String("source", source), zap.Error(err))
		return
	}
	s.logger.Info("scheduled crawl enqueued", zap.String("source", source), zap.String("request_id", id))
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for running triggers or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
