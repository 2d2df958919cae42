package crawler

import (
	"context"
	"io"
	"time"
)

// Getter performs a single HTTP GET attempt. Errors are network-level only;
// HTTP error statuses come back as responses.
type Getter interface {
	Get(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Fetcher performs a GET with bounded retry and classifies the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) FetchResult
}

// Extractor turns a raw document body into a Record. It returns
// ErrExtractionEmpty (with the partial record) when the body text is blank.
type Extractor interface {
	Extract(body []byte, locator string) (Record, error)
}

// Listing returns the locators on one page of an upstream index. An empty
// slice with a nil error means the page had no entries.
type Listing interface {
	Page(ctx context.Context, index int) ([]string, error)
}

// RecordStore persists extracted records.
type RecordStore interface {
	// InsertRecord writes the record and returns its id. A unique violation on
	// the natural key returns ErrDuplicateRecord.
	InsertRecord(ctx context.Context, table string, record Record) (string, error)
	// NaturalKeyExists reports whether a record with the key is already stored.
	NaturalKeyExists(ctx context.Context, table string, source string, key string) (bool, error)
}

// LedgerStore persists per-locator attempt outcomes.
type LedgerStore interface {
	UpsertLedger(ctx context.Context, entry LedgerEntry) error
	// GetLedger returns ErrNotFound when the locator has never been attempted.
	GetLedger(ctx context.Context, locator string) (LedgerEntry, error)
}

// RunTracker records crawl job runs.
type RunTracker interface {
	StartRun(ctx context.Context, jobName string, startedAt time.Time) (string, error)
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, summary RunSummary) error
	FailRun(ctx context.Context, runID string, finishedAt time.Time, summary RunSummary, errMsg string) error
	GetRun(ctx context.Context, runID string) (JobRun, error)
	ListRuns(ctx context.Context, jobName string, limit, offset int) ([]JobRun, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes ingest notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Cache remembers locators known to be processed.
type Cache interface {
	Has(key string) bool
	Remember(key string)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Queue buffers crawl requests between triggers and the run loop.
type Queue interface {
	Enqueue(ctx context.Context, request CrawlRequest) error
	Dequeue(ctx context.Context) (CrawlRequest, error)
}
