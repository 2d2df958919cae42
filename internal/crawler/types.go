package crawler

import (
	"net/http"
	"strings"
	"time"
)

// Outcome discriminates fetch and scrape results.
type Outcome string

// Outcomes produced per locator.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable"
	OutcomeTerminal  Outcome = "terminal"
)

// LedgerStatus mirrors the status column of the locator ledger.
type LedgerStatus string

// Ledger statuses persisted per locator.
const (
	LedgerSuccess LedgerStatus = "success"
	LedgerError   LedgerStatus = "error"
)

// RunStatus mirrors the cron_job_runs status column.
type RunStatus string

// Job run statuses.
const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StopReason explains why the crawl driver stopped walking a listing.
type StopReason string

// Stop reasons reported in run summaries.
const (
	StopExhausted          StopReason = "exhausted"
	StopCaughtUp           StopReason = "caught_up"
	StopLimit              StopReason = "limit"
	StopCanceled           StopReason = "canceled"
	StopListingUnavailable StopReason = "listing_unavailable"
	StopFatal              StopReason = "fatal"
)

// IngestOutcome distinguishes successful writes from the two kinds of skip.
type IngestOutcome string

// Ingest outcomes returned by the writer.
const (
	IngestInserted     IngestOutcome = "inserted"
	IngestDuplicate    IngestOutcome = "duplicate"
	IngestEmptyContent IngestOutcome = "empty_content"
)

// Record is the structured payload extracted from one document.
type Record struct {
	Source  string `json:"source"`
	Locator string `json:"locator"`
	Country string `json:"country,omitempty"`
	// NaturalKey is a domain identifier (citation, act source id) stronger than
	// the locator. Empty when the document does not carry one.
	NaturalKey  string         `json:"natural_key,omitempty"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Fields      map[string]any `json:"fields,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	RawURI      string         `json:"raw_uri,omitempty"`
	// Parts are child records stored alongside this one, each under its own
	// natural key, so a re-crawl adds only the parts not yet stored.
	Parts []Record `json:"parts,omitempty"`
}

// HasNaturalKey reports whether the record carries a non-blank natural key.
func (r Record) HasNaturalKey() bool {
	return strings.TrimSpace(r.NaturalKey) != ""
}

// EmptyBody reports whether the primary text is blank after trimming.
func (r Record) EmptyBody() bool {
	return strings.TrimSpace(r.Body) == ""
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the raw response of a single HTTP attempt.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carries a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// FetchResult is what a retrying Fetcher hands back. Callers check Outcome;
// Fetch never returns an error.
type FetchResult struct {
	URL      string
	Outcome  Outcome
	Response FetchResponse
	Attempts int
	Reason   string
}

// ScrapeResult is the per-locator outcome of fetch plus extraction.
type ScrapeResult struct {
	Locator string
	Outcome Outcome
	Record  *Record
	Reason  string
}

// LedgerEntry is the durable record of one locator attempt.
type LedgerEntry struct {
	Source       string       `json:"source"`
	Locator      string       `json:"url"`
	Country      string       `json:"country,omitempty"`
	Processed    bool         `json:"processed"`
	Status       LedgerStatus `json:"status"`
	RecordRef    *string      `json:"case_id,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	Attempts     int          `json:"attempts"`
	ProcessedAt  time.Time    `json:"processing_date"`
}

// JobRun models a row of the cron_job_runs table.
type JobRun struct {
	ID              string     `json:"id"`
	JobName         string     `json:"job_name"`
	StartedAt       time.Time  `json:"start_time"`
	FinishedAt      *time.Time `json:"end_time,omitempty"`
	Status          RunStatus  `json:"status"`
	NewRecordsFound int        `json:"new_cases_found"`
	PagesProcessed  int        `json:"pages_processed"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// RunSummary aggregates the counters of one crawl run.
type RunSummary struct {
	PagesProcessed  int        `json:"pages_processed"`
	NewRecordsFound int        `json:"new_cases_found"`
	Skipped         int        `json:"skipped_processed"`
	Duplicates      int        `json:"duplicates"`
	Empty           int        `json:"empty_content"`
	Failures        int        `json:"failures"`
	StopReason      StopReason `json:"stop_reason"`
}

// Notification announces a newly ingested record.
type Notification struct {
	Source     string    `json:"source"`
	Locator    string    `json:"locator"`
	RecordID   string    `json:"record_id"`
	NaturalKey string    `json:"natural_key,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CrawlRequest asks the serve loop to run one source, usually enqueued by
// the cron scheduler or the HTTP API.
type CrawlRequest struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	MaxPages    int       `json:"max_pages,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	Trigger     string    `json:"trigger"`
}
