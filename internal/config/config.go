// Package config loads and validates lexcrawl configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

// Backend kinds.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	CacheNone      = "none"
	CacheMemory    = "memory"
	CacheMemcached = "memcached"

	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"

	ExtractorCaseLaw = "caselaw"
	ExtractorStatute = "statute"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Auth     AuthConfig              `mapstructure:"auth"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	HTTP     HTTPConfig              `mapstructure:"http"`
	Crawler  CrawlerConfig           `mapstructure:"crawler"`
	DB       DBConfig                `mapstructure:"db"`
	Cache    CacheConfig             `mapstructure:"cache"`
	Storage  StorageConfig           `mapstructure:"storage"`
	PubSub   PubSubConfig            `mapstructure:"pubsub"`
	Progress ProgressConfig          `mapstructure:"progress"`
	Sources  map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig guards the mutating API routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the fetcher.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RetryCount     int     `mapstructure:"retry_count"`
	RetryDelayMs   int     `mapstructure:"retry_delay_ms"`
	UserAgent      string  `mapstructure:"user_agent"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
}

// CrawlerConfig holds the crawl driver policy shared by every source.
type CrawlerConfig struct {
	FilterBatchSize    int `mapstructure:"filter_batch_size"`
	DispatchBatchSize  int `mapstructure:"dispatch_batch_size"`
	RequestIntervalMs  int `mapstructure:"request_interval_ms"`
	EmptyPagePatience  int `mapstructure:"empty_page_patience"`
	SeenPagePatience   int `mapstructure:"seen_page_patience"`
	MaxPages           int `mapstructure:"max_pages"`
	MaxEntriesPerPage  int `mapstructure:"max_entries_per_page"`
	MaxLocatorAttempts int `mapstructure:"max_locator_attempts"`
	QueueDepth         int `mapstructure:"queue_depth"`
	Workers            int `mapstructure:"workers"`
	// RevisitProcessed fetches settled locators again so documents that grow
	// over time (amended acts) pick up their new parts.
	RevisitProcessed bool `mapstructure:"revisit_processed"`
}

// RequestInterval converts RequestIntervalMs. Zero disables the pause.
func (c CrawlerConfig) RequestInterval() time.Duration {
	if c.RequestIntervalMs <= 0 {
		return -1
	}
	return time.Duration(c.RequestIntervalMs) * time.Millisecond
}

// CrawlerOverrides replaces individual CrawlerConfig values for one source.
type CrawlerOverrides struct {
	DispatchBatchSize *int  `mapstructure:"dispatch_batch_size"`
	RequestIntervalMs *int  `mapstructure:"request_interval_ms"`
	EmptyPagePatience *int  `mapstructure:"empty_page_patience"`
	SeenPagePatience  *int  `mapstructure:"seen_page_patience"`
	MaxPages          *int  `mapstructure:"max_pages"`
	MaxEntriesPerPage *int  `mapstructure:"max_entries_per_page"`
	RevisitProcessed  *bool `mapstructure:"revisit_processed"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	LedgerTable            string `mapstructure:"ledger_table"`
}

// CacheConfig selects the positive "already processed" cache.
type CacheConfig struct {
	Kind       string   `mapstructure:"kind"`
	TTLSeconds int      `mapstructure:"ttl_seconds"`
	Servers    []string `mapstructure:"servers"`
	Prefix     string   `mapstructure:"prefix"`
}

// TTL converts TTLSeconds.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StorageConfig selects the raw-body archive.
type StorageConfig struct {
	Kind      string `mapstructure:"kind"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for ingest notifications. Empty ProjectID
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	LogEvents      bool `mapstructure:"log_events"`
}

// SourceConfig describes one crawlable collection.
type SourceConfig struct {
	JobName   string            `mapstructure:"job_name"`
	Table     string            `mapstructure:"table"`
	Country   string            `mapstructure:"country"`
	Extractor string            `mapstructure:"extractor"`
	Schedule  string            `mapstructure:"schedule"`
	Listing   ListingConfig     `mapstructure:"listing"`
	Document  DocumentConfig    `mapstructure:"document"`
	Headers   map[string]string `mapstructure:"headers"`
	Crawler   CrawlerOverrides  `mapstructure:"crawler"`
}

// ListingConfig locates the paginated index.
type ListingConfig struct {
	Kind       string `mapstructure:"kind"`
	URL        string `mapstructure:"url"`
	StartIndex int    `mapstructure:"start_index"`
	PageSize   int    `mapstructure:"page_size"`
	LinkPrefix string `mapstructure:"link_prefix"`
	Container  string `mapstructure:"container"`
}

// DocumentConfig builds per-document requests.
type DocumentConfig struct {
	URL            string `mapstructure:"url"`
	LocatorBase    string `mapstructure:"locator_base"`
	AlternateQuery string `mapstructure:"alternate_query"`
}

// HTTPHeader converts Headers, canonicalizing names.
func (s SourceConfig) HTTPHeader() http.Header {
	h := http.Header{}
	for k, v := range s.Headers {
		h.Set(k, v)
	}
	return h
}

// ToSource converts s into the pipeline's view of the source.
func (s SourceConfig) ToSource(name string) crawler.Source {
	return crawler.Source{
		Name:           name,
		JobName:        s.JobName,
		Table:          s.Table,
		Country:        s.Country,
		DocumentURL:    s.Document.URL,
		LocatorBase:    s.Document.LocatorBase,
		AlternateQuery: s.Document.AlternateQuery,
		Headers:        s.HTTPHeader(),
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEXCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applySourceDefaults(func(name string) bool {
		return v.IsSet("sources." + name + ".listing.start_index")
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.retry_count", crawler.DefaultRetryAttempts)
	v.SetDefault("http.retry_delay_ms", int(crawler.DefaultRetryDelay/time.Millisecond))
	v.SetDefault("http.user_agent", "lexcrawl/0.1 (+https://github.com/JakeFAU/lexcrawl)")
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("crawler.filter_batch_size", 10000)
	v.SetDefault("crawler.dispatch_batch_size", 100)
	v.SetDefault("crawler.request_interval_ms", 1000)
	v.SetDefault("crawler.empty_page_patience", 1)
	v.SetDefault("crawler.seen_page_patience", 3)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.max_entries_per_page", 0)
	v.SetDefault("crawler.max_locator_attempts", 0)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.workers", 1)
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.ledger_table", "caselaw_scraping_urls")
	v.SetDefault("cache.kind", CacheNone)
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("cache.prefix", "lexcrawl")
	v.SetDefault("storage.kind", StorageNone)
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("pubsub.topic_name", "lexcrawl-ingested")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
}

// applySourceDefaults fills per-source gaps. hasStart reports whether a
// source set listing.start_index explicitly, since zero is a valid index.
func (c *Config) applySourceDefaults(hasStart func(name string) bool) {
	for name, src := range c.Sources {
		if src.JobName == "" {
			src.JobName = strings.ReplaceAll(name, "-", "_") + "_scraper"
		}
		if src.Extractor == "" {
			src.Extractor = ExtractorCaseLaw
		}
		if src.Listing.StartIndex == 0 && !hasStart(name) {
			src.Listing.StartIndex = 1
		}
		c.Sources[name] = src
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.HTTP.RetryCount <= 0 {
		errs = append(errs, errors.New("http.retry_count must be > 0"))
	}
	if c.HTTP.RetryDelayMs < 0 {
		errs = append(errs, errors.New("http.retry_delay_ms must be >= 0"))
	}
	if c.Crawler.FilterBatchSize <= 0 || c.Crawler.DispatchBatchSize <= 0 {
		errs = append(errs, errors.New("crawler batch sizes must be > 0"))
	}
	if c.Crawler.EmptyPagePatience <= 0 {
		errs = append(errs, errors.New("crawler.empty_page_patience must be > 0"))
	}
	if c.Crawler.SeenPagePatience < 0 || c.Crawler.MaxPages < 0 || c.Crawler.MaxLocatorAttempts < 0 {
		errs = append(errs, errors.New("crawler patience and limits must be >= 0"))
	}

	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("db.driver %q must be postgres or memory", c.DB.Driver))
	}
	if !validTableName.MatchString(c.DB.LedgerTable) {
		errs = append(errs, fmt.Errorf("db.ledger_table %q is not a valid table name", c.DB.LedgerTable))
	}

	switch c.Cache.Kind {
	case CacheNone, CacheMemory:
	case CacheMemcached:
		if len(c.Cache.Servers) == 0 {
			errs = append(errs, errors.New("cache.servers is required for memcached"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind %q is not supported", c.Cache.Kind))
	}

	switch c.Storage.Kind {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			errs = append(errs, errors.New("storage.base_dir is required for local storage"))
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for gcs storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.kind %q is not supported", c.Storage.Kind))
	}

	for _, name := range c.SourceNames() {
		if err := c.Sources[name].validate(); err != nil {
			errs = append(errs, fmt.Errorf("sources.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s SourceConfig) validate() error {
	if !validTableName.MatchString(s.Table) {
		return fmt.Errorf("table %q is not a valid table name", s.Table)
	}
	if s.Listing.URL == "" {
		return errors.New("listing.url is required")
	}
	switch s.Listing.Kind {
	case "", "json", "xml":
	case "html":
		if s.Listing.LinkPrefix == "" {
			return errors.New("listing.link_prefix is required for html listings")
		}
	default:
		return fmt.Errorf("listing.kind %q is not supported", s.Listing.Kind)
	}
	switch s.Extractor {
	case ExtractorCaseLaw, ExtractorStatute:
	default:
		return fmt.Errorf("extractor %q is not supported", s.Extractor)
	}
	return nil
}

// SourceNames returns configured source names sorted.
func (c Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source looks up a source by name.
func (c Config) Source(name string) (SourceConfig, error) {
	src, ok := c.Sources[name]
	if !ok {
		return SourceConfig{}, fmt.Errorf("%w: unknown source %q", crawler.ErrFatalConfiguration, name)
	}
	return src, nil
}

// CrawlerFor merges the source's overrides over the shared crawler config.
func (c Config) CrawlerFor(name string) CrawlerConfig {
	out := c.Crawler
	o := c.Sources[name].Crawler
	apply := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&out.DispatchBatchSize, o.DispatchBatchSize)
	apply(&out.RequestIntervalMs, o.RequestIntervalMs)
	apply(&out.EmptyPagePatience, o.EmptyPagePatience)
	apply(&out.SeenPagePatience, o.SeenPagePatience)
	apply(&out.MaxPages, o.MaxPages)
	apply(&out.MaxEntriesPerPage, o.MaxEntriesPerPage)
	if o.RevisitProcessed != nil {
		out.RevisitProcessed = *o.RevisitProcessed
	}
	return out
}

// RecordTables lists the distinct record tables of every source.
func (c Config) RecordTables() []string {
	seen := map[string]struct{}{}
	var tables []string
	for _, name := range c.SourceNames() {
		table := c.Sources[name].Table
		if _, ok := seen[table]; ok {
			continue
		}
		seen[table] = struct{}{}
		tables = append(tables, table)
	}
	return tables
}

// RetryDelay converts RetryDelayMs.
func (c HTTPConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Timeout converts TimeoutSeconds.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
