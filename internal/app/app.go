// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the commands and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	memcache "github.com/JakeFAU/lexcrawl/internal/cache/memcached"
	memorycache "github.com/JakeFAU/lexcrawl/internal/cache/memory"
	"github.com/JakeFAU/lexcrawl/internal/clock/system"
	"github.com/JakeFAU/lexcrawl/internal/config"
	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/driver"
	"github.com/JakeFAU/lexcrawl/internal/extract/caselaw"
	"github.com/JakeFAU/lexcrawl/internal/extract/statute"
	"github.com/JakeFAU/lexcrawl/internal/fetcher"
	collyfetcher "github.com/JakeFAU/lexcrawl/internal/fetcher/colly"
	"github.com/JakeFAU/lexcrawl/internal/hash/sha256"
	"github.com/JakeFAU/lexcrawl/internal/id/uuid"
	"github.com/JakeFAU/lexcrawl/internal/ingest"
	"github.com/JakeFAU/lexcrawl/internal/listing"
	"github.com/JakeFAU/lexcrawl/internal/logging"
	"github.com/JakeFAU/lexcrawl/internal/metrics"
	"github.com/JakeFAU/lexcrawl/internal/oracle"
	"github.com/JakeFAU/lexcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/lexcrawl/internal/policy/robots"
	"github.com/JakeFAU/lexcrawl/internal/progress"
	"github.com/JakeFAU/lexcrawl/internal/progress/sinks"
	pubmem "github.com/JakeFAU/lexcrawl/internal/publisher/memory"
	"github.com/JakeFAU/lexcrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/lexcrawl/internal/storage/gcs"
	"github.com/JakeFAU/lexcrawl/internal/storage/local"
	"github.com/JakeFAU/lexcrawl/internal/storage/memory"
	"github.com/JakeFAU/lexcrawl/internal/storage/postgres"
	"github.com/JakeFAU/lexcrawl/internal/worker"
)

// NoRecordReason is recorded when a successful scrape carries no record.
const NoRecordReason = "scrape returned no record"

// ErrRunInProgress is returned when a source already has an active crawl.
var ErrRunInProgress = errors.New("crawl already running for source")

// Options overrides collaborators that tests replace.
type Options struct {
	// Registerer receives the progress collectors; nil uses the default
	// Prometheus registerer.
	Registerer prometheus.Registerer
	// Fetcher replaces the colly-backed fetcher.
	Fetcher crawler.Fetcher
	Clock   crawler.Clock
}

// pipeline holds the per-source collaborators.
type pipeline struct {
	source  crawler.Source
	listing crawler.Listing
	scraper *worker.Scraper
	crawl   config.CrawlerConfig
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock
	pool   *pgxpool.Pool

	Records   crawler.RecordStore
	Ledger    crawler.LedgerStore
	Runs      crawler.RunTracker
	Cache     crawler.Cache
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Fetcher   crawler.Fetcher
	Oracle    *oracle.Oracle
	Writer    *ingest.Writer
	Progress  *progress.Hub

	pipelines map[string]*pipeline
	closers   []func() error

	mu      sync.Mutex
	running map[string]struct{}
}

// New builds every component named by cfg. It fails fast when a backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:       cfg,
		logger:    logger,
		clock:     opts.Clock,
		pipelines: make(map[string]*pipeline),
		running:   make(map[string]struct{}),
	}
	if a.clock == nil {
		a.clock = system.New()
	}

	if err := a.initStores(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initCache(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initBlobs(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initProgress(opts.Registerer); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Fetcher = opts.Fetcher
	if a.Fetcher == nil {
		a.Fetcher = newFetcher(cfg.HTTP, logger)
	}
	a.Oracle = oracle.New(a.Ledger, a.Records, a.Cache, oracle.Config{MaxLocatorAttempts: cfg.Crawler.MaxLocatorAttempts}, logger)
	a.Writer = ingest.New(a.Records, a.Ledger, a.Oracle, a.clock, a.Publisher, ingest.Config{Topic: cfg.PubSub.TopicName}, logger)

	for _, name := range cfg.SourceNames() {
		p, err := a.buildPipeline(name)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.pipelines[name] = p
	}

	logger.Info("application services initialized",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("cache", cfg.Cache.Kind),
		zap.String("storage", cfg.Storage.Kind),
		zap.Strings("sources", cfg.SourceNames()),
	)
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case config.DriverPostgres:
		a.logger.Info("connecting to postgres")
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		ledger, err := postgres.NewLedgerStore(pool, a.cfg.DB.LedgerTable)
		if err != nil {
			return err
		}
		a.Records = postgres.NewRecordStore(pool)
		a.Ledger = ledger
		a.Runs = postgres.NewRunStore(pool)
	case config.DriverMemory:
		a.logger.Info("using in-memory stores; nothing survives a restart")
		ids := uuid.New()
		a.Records = memory.NewRecordStore(ids)
		a.Ledger = memory.NewLedgerStore()
		a.Runs = memory.NewRunStore(ids)
	default:
		return fmt.Errorf("%w: unknown db driver %q", crawler.ErrFatalConfiguration, a.cfg.DB.Driver)
	}
	return nil
}

func (a *App) initCache() error {
	switch a.cfg.Cache.Kind {
	case config.CacheNone, "":
	case config.CacheMemory:
		a.Cache = memorycache.New(a.cfg.Cache.TTL())
	case config.CacheMemcached:
		c, err := memcache.Dial(memcache.Config{
			Servers: a.cfg.Cache.Servers,
			TTL:     a.cfg.Cache.TTL(),
			Prefix:  a.cfg.Cache.Prefix,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		a.Cache = c
	default:
		return fmt.Errorf("%w: unknown cache kind %q", crawler.ErrFatalConfiguration, a.cfg.Cache.Kind)
	}
	return nil
}

func (a *App) initBlobs(ctx context.Context) error {
	switch a.cfg.Storage.Kind {
	case config.StorageNone, "":
	case config.StorageMemory:
		a.Blobs = memory.NewBlobStore()
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Blobs = store
	case config.StorageGCS:
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket}, a.logger)
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Blobs = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("%w: unknown storage kind %q", crawler.ErrFatalConfiguration, a.cfg.Storage.Kind)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		// Offline runs keep notifications in process.
		if a.cfg.DB.Driver == config.DriverMemory {
			a.Publisher = pubmem.New()
		}
		return nil
	}
	a.logger.Info("connecting to pub/sub", zap.String("topic", a.cfg.PubSub.TopicName))
	pub, err := pubsub.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.Publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

func (a *App) initProgress(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init progress sink: %w", err)
	}
	hubSinks := []progress.Sink{promSink}
	if a.cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger))
	}
	a.Progress = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         a.logger,
	}, hubSinks...)
	return nil
}

func newFetcher(cfg config.HTTPConfig, logger *zap.Logger) *fetcher.Fetcher {
	getter := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.Timeout(),
		MaxBodySize: cfg.MaxBodyBytes,
	})
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimitRPS, DefaultBurst: cfg.RateLimitBurst})
	policy := crawler.NewFixedRetryPolicy(cfg.RetryCount, cfg.RetryDelay())
	f := fetcher.New(getter, policy, limiter, logger)
	if cfg.RespectRobots {
		f.WithGate(robots.New(&http.Client{Timeout: cfg.Timeout()}, cfg.UserAgent, logger))
	}
	return f
}

func (a *App) buildPipeline(name string) (*pipeline, error) {
	sc, err := a.cfg.Source(name)
	if err != nil {
		return nil, err
	}
	src := sc.ToSource(name)

	l, err := listing.New(listing.Config{
		Kind:       sc.Listing.Kind,
		URL:        sc.Listing.URL,
		StartIndex: sc.Listing.StartIndex,
		PageSize:   sc.Listing.PageSize,
		LinkPrefix: sc.Listing.LinkPrefix,
		Container:  sc.Listing.Container,
		Headers:    src.Headers,
	}, a.Fetcher)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	// The driver counts pages from driver.DefaultStartIndex.
	l = listing.Shift(l, sc.Listing.StartIndex-driver.DefaultStartIndex)

	var extractor crawler.Extractor
	switch sc.Extractor {
	case config.ExtractorStatute:
		extractor = statute.New(name, sc.Country)
	default:
		extractor = caselaw.New(name, sc.Country)
	}

	logger := logging.ForSource(a.logger, name)
	scraper := worker.New(src, extractor, a.Fetcher, sha256.New(), a.Blobs, worker.Config{BlobPrefix: a.cfg.Storage.Prefix}, logger)
	return &pipeline{source: src, listing: l, scraper: scraper, crawl: a.cfg.CrawlerFor(name)}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Pool returns the Postgres pool, or nil for the memory driver.
func (a *App) Pool() *pgxpool.Pool {
	return a.pool
}

// Stores returns the run and ledger stores for read-only API access.
func (a *App) Stores() (crawler.RunTracker, crawler.LedgerStore) {
	return a.Runs, a.Ledger
}

// HasSource reports whether name is configured.
func (a *App) HasSource(name string) bool {
	_, ok := a.pipelines[name]
	return ok
}

// Listing returns the listing of a configured source.
func (a *App) Listing(name string) (crawler.Listing, error) {
	p, err := a.pipeline(name)
	if err != nil {
		return nil, err
	}
	return p.listing, nil
}

// Scraper returns the scraper of a configured source.
func (a *App) Scraper(name string) (*worker.Scraper, error) {
	p, err := a.pipeline(name)
	if err != nil {
		return nil, err
	}
	return p.scraper, nil
}

func (a *App) pipeline(name string) (*pipeline, error) {
	p, ok := a.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", crawler.ErrFatalConfiguration, name)
	}
	return p, nil
}

// Driver builds a crawl driver for source. maxPages > 0 overrides the
// configured page cap.
func (a *App) Driver(name string, maxPages int) (*driver.Driver, error) {
	p, err := a.pipeline(name)
	if err != nil {
		return nil, err
	}
	cc := p.crawl
	if maxPages > 0 {
		cc.MaxPages = maxPages
	}
	return driver.New(driver.Deps{
		Source:   p.source,
		Listing:  p.listing,
		Oracle:   a.Oracle,
		Scraper:  p.scraper,
		Writer:   a.Writer,
		Runs:     a.Runs,
		Clock:    a.clock,
		Progress: a.Progress,
		Logger:   a.logger,
	}, driver.Config{
		FilterBatchSize:   cc.FilterBatchSize,
		DispatchBatchSize: cc.DispatchBatchSize,
		RequestInterval:   cc.RequestInterval(),
		EmptyPagePatience: cc.EmptyPagePatience,
		SeenPagePatience:  cc.SeenPagePatience,
		MaxPages:          cc.MaxPages,
		MaxEntriesPerPage: cc.MaxEntriesPerPage,
		RevisitProcessed:  cc.RevisitProcessed,
	}), nil
}

// Crawl runs one crawl for request.Source. Only one crawl per source runs
// at a time; a second request gets ErrRunInProgress.
func (a *App) Crawl(ctx context.Context, request crawler.CrawlRequest) (crawler.RunSummary, error) {
	d, err := a.Driver(request.Source, request.MaxPages)
	if err != nil {
		return crawler.RunSummary{}, err
	}

	a.mu.Lock()
	if _, busy := a.running[request.Source]; busy {
		a.mu.Unlock()
		return crawler.RunSummary{}, fmt.Errorf("%w: %s", ErrRunInProgress, request.Source)
	}
	a.running[request.Source] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.running, request.Source)
		a.mu.Unlock()
	}()

	return d.Run(ctx)
}

// Running reports whether source has an active crawl.
func (a *App) Running(source string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.running[source]
	return ok
}

// ScrapeOne fetches and ingests a single locator outside any run.
func (a *App) ScrapeOne(ctx context.Context, source, locator string) (crawler.ScrapeResult, ingest.Result, error) {
	p, err := a.pipeline(source)
	if err != nil {
		return crawler.ScrapeResult{}, ingest.Result{}, err
	}
	result := p.scraper.Scrape(ctx, locator)
	if result.Outcome != crawler.OutcomeSuccess {
		reason := result.Reason
		if reason == "" {
			reason = "scrape " + string(result.Outcome)
		}
		return result, ingest.Result{}, a.Writer.RecordFailure(ctx, p.source, locator, reason)
	}
	if result.Record == nil {
		return result, ingest.Result{}, a.Writer.RecordFailure(ctx, p.source, locator, NoRecordReason)
	}
	res, err := a.Writer.Ingest(ctx, p.source, *result.Record)
	return result, res, err
}

// Ready checks that the database answers.
func (a *App) Ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Migrate applies the schema for the ledger, the run table and every
// source's record table.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool == nil {
		return fmt.Errorf("%w: migrate requires the postgres driver", crawler.ErrFatalConfiguration)
	}
	return postgres.Migrate(ctx, a.pool, a.cfg.RecordTables()...)
}

// Close flushes progress events and releases backend clients.
func (a *App) Close(ctx context.Context) {
	if a.Progress != nil {
		if err := a.Progress.Close(ctx); err != nil {
			a.logger.Warn("error closing progress hub", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
