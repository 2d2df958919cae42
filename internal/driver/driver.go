// Package driver walks a paginated listing page by page, filters out
// locators that are already settled, scrapes the rest in bounded batches and
// drains the results through the ingest writer.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/dispatcher"
	"github.com/JakeFAU/lexcrawl/internal/ingest"
	"github.com/JakeFAU/lexcrawl/internal/metrics"
	"github.com/JakeFAU/lexcrawl/internal/progress"
)

// Defaults applied to zero Config fields.
const (
	DefaultFilterBatchSize   = 10000
	DefaultDispatchBatchSize = 100
	DefaultRequestInterval   = time.Second
	DefaultEmptyPagePatience = 1
	DefaultSeenPagePatience  = 3
	DefaultStartIndex        = 1
)

// State names the phase the driver is in; used for logging transitions.
type State string

// Driver states.
const (
	StateAwaitingPage      State = "awaiting_page"
	StateFilteringLocators State = "filtering_locators"
	StateDispatching       State = "dispatching"
	StateDraining          State = "draining"
	StateStopped           State = "stopped"
)

// Oracle is the pre-fetch half of the existence oracle.
type Oracle interface {
	PreFetch(ctx context.Context, locator string) bool
}

// Scraper fetches and extracts one locator.
type Scraper interface {
	Scrape(ctx context.Context, locator string) crawler.ScrapeResult
}

// Writer persists scrape results.
type Writer interface {
	Ingest(ctx context.Context, src crawler.Source, record crawler.Record) (ingest.Result, error)
	RecordFailure(ctx context.Context, src crawler.Source, locator, reason string) error
}

// Config holds the crawl policy knobs.
type Config struct {
	FilterBatchSize   int
	DispatchBatchSize int
	// RequestInterval is slept between dispatch batches and between pages.
	// Negative disables the pause.
	RequestInterval time.Duration
	// EmptyPagePatience stops the crawl after this many consecutive empty
	// pages.
	EmptyPagePatience int
	// SeenPagePatience stops the crawl after this many consecutive non-empty
	// pages whose locators were all settled. Zero disables the rule.
	SeenPagePatience int
	// MaxPages caps the listing pages requested; zero is unbounded.
	MaxPages int
	// MaxEntriesPerPage truncates each page; zero keeps every entry.
	MaxEntriesPerPage int
	StartIndex        int
	// RevisitProcessed skips the pre-fetch check so settled locators are
	// scraped again. Natural keys still guard against duplicate rows.
	RevisitProcessed bool
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.FilterBatchSize <= 0 {
		c.FilterBatchSize = DefaultFilterBatchSize
	}
	if c.DispatchBatchSize <= 0 {
		c.DispatchBatchSize = DefaultDispatchBatchSize
	}
	if c.RequestInterval == 0 {
		c.RequestInterval = DefaultRequestInterval
	}
	if c.EmptyPagePatience <= 0 {
		c.EmptyPagePatience = DefaultEmptyPagePatience
	}
	if c.StartIndex <= 0 {
		c.StartIndex = DefaultStartIndex
	}
	return c
}

// Deps bundles the collaborators of a Driver.
type Deps struct {
	Source   crawler.Source
	Listing  crawler.Listing
	Oracle   Oracle
	Scraper  Scraper
	Writer   Writer
	Runs     crawler.RunTracker
	Clock    crawler.Clock
	Progress progress.Emitter
	Logger   *zap.Logger
}

// Driver runs crawls for a single source.
type Driver struct {
	Deps
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a Driver.
func New(deps Deps, cfg Config) *Driver {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	return &Driver{
		Deps:   deps,
		cfg:    cfg.WithDefaults(),
		logger: logger.Named("driver").With(zap.String("source", deps.Source.Name)),
		sleep:  crawler.Sleep,
	}
}

// run carries the mutable state of one crawl.
type run struct {
	id          string
	startedAt   time.Time
	summary     crawler.RunSummary
	index       int
	requested   int
	emptyStreak int
	seenStreak  int
}

// Run executes one crawl and reports its terminal state to the run tracker
// exactly once. The returned error is non-nil only for a fatal run (the
// first listing page is unreachable) or when the tracker itself fails.
func (d *Driver) Run(ctx context.Context) (crawler.RunSummary, error) {
	startedAt := d.Clock.Now()
	runID, err := d.Runs.StartRun(ctx, d.Source.JobName, startedAt)
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("start run: %w", err)
	}
	r := &run{id: runID, startedAt: startedAt, index: d.cfg.StartIndex}
	logger := d.logger.With(zap.String("run_id", runID))
	logger.Info("crawl started", zap.Int("start_index", r.index))
	d.emit(r, progress.Event{Stage: progress.StageRunStart})

	reason, fatal := d.walk(ctx, r, logger)
	r.summary.StopReason = reason
	return r.summary, d.finish(ctx, r, fatal, logger)
}

// walk drives the page loop until a stop reason is reached.
func (d *Driver) walk(ctx context.Context, r *run, logger *zap.Logger) (crawler.StopReason, error) {
	for {
		logger.Debug("state", zap.String("state", string(StateAwaitingPage)), zap.Int("page", r.index))
		if ctx.Err() != nil {
			return crawler.StopCanceled, nil
		}

		locators, err := d.Listing.Page(ctx, r.index)
		r.requested++
		if err != nil {
			if ctx.Err() != nil {
				return crawler.StopCanceled, nil
			}
			if r.requested == 1 {
				logger.Error("first listing page unreachable", zap.Int("page", r.index), zap.Error(err))
				return crawler.StopFatal, fmt.Errorf("%w: first listing page: %w", crawler.ErrFatalConfiguration, err)
			}
			logger.Warn("listing page unreachable, stopping", zap.Int("page", r.index), zap.Error(err))
			return crawler.StopListingUnavailable, nil
		}

		locators = dedupe(locators)
		if len(locators) == 0 {
			r.emptyStreak++
			logger.Info("empty listing page", zap.Int("page", r.index), zap.Int("streak", r.emptyStreak))
			d.emit(r, progress.Event{Stage: progress.StagePage, Page: r.index})
			if r.emptyStreak >= d.cfg.EmptyPagePatience {
				return crawler.StopExhausted, nil
			}
			if reason, stop := d.nextPage(ctx, r); stop {
				return reason, nil
			}
			continue
		}
		r.emptyStreak = 0
		if d.cfg.MaxEntriesPerPage > 0 && len(locators) > d.cfg.MaxEntriesPerPage {
			locators = locators[:d.cfg.MaxEntriesPerPage]
		}

		logger.Debug("state", zap.String("state", string(StateFilteringLocators)), zap.Int("found", len(locators)))
		pending := d.filter(ctx, locators, logger)
		if ctx.Err() != nil {
			return crawler.StopCanceled, nil
		}
		r.summary.Skipped += len(locators) - len(pending)
		logger.Info("filtered listing page",
			zap.Int("page", r.index),
			zap.Int("found", len(locators)),
			zap.Int("pending", len(pending)),
		)
		d.emit(r, progress.Event{Stage: progress.StagePage, Page: r.index, Found: len(locators), Pending: len(pending)})

		if len(pending) == 0 {
			r.seenStreak++
			r.summary.PagesProcessed++
			if d.cfg.SeenPagePatience > 0 && r.seenStreak >= d.cfg.SeenPagePatience {
				return crawler.StopCaughtUp, nil
			}
		} else {
			r.seenStreak = 0
			if !d.dispatch(ctx, r, pending, logger) {
				return crawler.StopCanceled, nil
			}
			r.summary.PagesProcessed++
		}

		if reason, stop := d.nextPage(ctx, r); stop {
			return reason, nil
		}
	}
}

// nextPage advances the index and pauses before the next listing request.
func (d *Driver) nextPage(ctx context.Context, r *run) (crawler.StopReason, bool) {
	r.index++
	if d.cfg.MaxPages > 0 && r.requested >= d.cfg.MaxPages {
		return crawler.StopLimit, true
	}
	if err := d.pause(ctx); err != nil {
		return crawler.StopCanceled, true
	}
	return "", false
}

// filter keeps the locators the oracle has not seen. Checks within a batch
// run concurrently; batches run one after another.
func (d *Driver) filter(ctx context.Context, locators []string, logger *zap.Logger) []string {
	if d.cfg.RevisitProcessed {
		return locators
	}
	pending := make([]string, 0, len(locators))
	for start := 0; start < len(locators); start += d.cfg.FilterBatchSize {
		if ctx.Err() != nil {
			return pending
		}
		batch := locators[start:min(start+d.cfg.FilterBatchSize, len(locators))]
		seen := dispatcher.Run(ctx, len(batch), batch, d.Oracle.PreFetch)
		for i, locator := range batch {
			if !seen[i] {
				pending = append(pending, locator)
			}
		}
		logger.Debug("existence batch checked", zap.Int("size", len(batch)))
	}
	return pending
}

// dispatch scrapes pending in bounded batches and drains each batch before
// the next starts. A started batch always finishes, even after ctx ends. It
// reports false when cancellation stopped it before every batch ran.
func (d *Driver) dispatch(ctx context.Context, r *run, pending []string, logger *zap.Logger) bool {
	inflight := context.WithoutCancel(ctx)
	for start := 0; start < len(pending); start += d.cfg.DispatchBatchSize {
		if start > 0 {
			if err := d.pause(ctx); err != nil {
				return false
			}
		}
		if ctx.Err() != nil {
			return false
		}
		batch := pending[start:min(start+d.cfg.DispatchBatchSize, len(pending))]
		logger.Debug("state", zap.String("state", string(StateDispatching)), zap.Int("batch", len(batch)))
		results := dispatcher.Run(inflight, d.cfg.DispatchBatchSize, batch, d.Scraper.Scrape)

		logger.Debug("state", zap.String("state", string(StateDraining)), zap.Int("results", len(results)))
		for _, result := range results {
			d.drain(inflight, r, result, logger)
		}
	}
	return true
}

// drain hands one result to the writer. Errors are counted and logged; they
// never stop the page.
func (d *Driver) drain(ctx context.Context, r *run, result crawler.ScrapeResult, logger *zap.Logger) {
	start := d.Clock.Now()
	outcome := string(result.Outcome)

	switch {
	case result.Outcome == crawler.OutcomeSuccess && result.Record != nil:
		res, err := d.Writer.Ingest(ctx, d.Source, *result.Record)
		if err != nil {
			logger.Warn("ingest failed", zap.String("url", result.Locator), zap.Error(err))
			if res.Outcome != crawler.IngestInserted {
				r.summary.Failures++
				outcome = "failed"
				break
			}
		}
		outcome = string(res.Outcome)
		switch res.Outcome {
		case crawler.IngestInserted:
			r.summary.NewRecordsFound++
		case crawler.IngestDuplicate:
			r.summary.Duplicates++
		case crawler.IngestEmptyContent:
			r.summary.Empty++
		}
	default:
		r.summary.Failures++
		reason := result.Reason
		switch {
		case reason != "":
		case result.Outcome == crawler.OutcomeSuccess:
			reason = "scrape returned no record"
		default:
			reason = "scrape " + outcome
		}
		logger.Warn("scrape failed", zap.String("url", result.Locator), zap.String("reason", reason))
		if err := d.Writer.RecordFailure(ctx, d.Source, result.Locator, reason); err != nil {
			logger.Error("record failure in ledger", zap.String("url", result.Locator), zap.Error(err))
		}
	}

	d.emit(r, progress.Event{
		Stage:   progress.StageLocator,
		Page:    r.index,
		URL:     result.Locator,
		Outcome: outcome,
		Dur:     max(d.Clock.Now().Sub(start), 0),
	})
}

// finish reports the terminal state once. Tracker writes use a context that
// survives cancellation so a canceled run is still closed out.
func (d *Driver) finish(ctx context.Context, r *run, fatal error, logger *zap.Logger) error {
	finishedAt := d.Clock.Now()
	reason := r.summary.StopReason
	logger.Info("crawl stopped",
		zap.String("state", string(StateStopped)),
		zap.String("reason", string(reason)),
		zap.Int("pages_processed", r.summary.PagesProcessed),
		zap.Int("new_records", r.summary.NewRecordsFound),
		zap.Int("skipped", r.summary.Skipped),
		zap.Int("duplicates", r.summary.Duplicates),
		zap.Int("empty", r.summary.Empty),
		zap.Int("failures", r.summary.Failures),
	)
	metrics.ObserveRun(d.Source.Name, string(reason))

	done := progress.Event{Stage: progress.StageRunDone, Outcome: string(reason), Dur: max(finishedAt.Sub(r.startedAt), 0)}
	trackerCtx := context.WithoutCancel(ctx)
	if fatal != nil {
		done.Stage = progress.StageRunError
		done.Note = fatal.Error()
		d.emit(r, done)
		if err := d.Runs.FailRun(trackerCtx, r.id, finishedAt, r.summary, fatal.Error()); err != nil {
			return errors.Join(fatal, fmt.Errorf("fail run: %w", err))
		}
		return fatal
	}
	d.emit(r, done)
	if err := d.Runs.CompleteRun(trackerCtx, r.id, finishedAt, r.summary); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (d *Driver) pause(ctx context.Context) error {
	if d.cfg.RequestInterval <= 0 {
		return ctx.Err()
	}
	return d.sleep(ctx, d.cfg.RequestInterval)
}

func (d *Driver) emit(r *run, evt progress.Event) {
	evt.RunID = r.id
	evt.Source = d.Source.Name
	evt.TS = d.Clock.Now()
	d.Progress.Emit(evt)
}

// dedupe collapses repeated locators, keeping first occurrences in order.
func dedupe(locators []string) []string {
	seen := make(map[string]struct{}, len(locators))
	out := locators[:0:0]
	for _, l := range locators {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
