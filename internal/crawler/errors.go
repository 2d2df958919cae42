package crawler

import "errors"

// Error taxonomy of the crawl pipeline.
var (
	// ErrTransientNetwork marks a failure the fetcher may retry.
	ErrTransientNetwork = errors.New("transient network failure")
	// ErrTerminalFetch marks a locator whose fetch retries are exhausted.
	ErrTerminalFetch = errors.New("terminal fetch failure")
	// ErrExtractionEmpty marks a document whose mandatory body text is blank.
	ErrExtractionEmpty = errors.New("extracted body is empty")
	// ErrDuplicateRecord marks a record whose natural key is already stored.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrStoreUnavailable marks a failed store lookup or write.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrFatalConfiguration aborts a whole run, e.g. an unreachable listing index.
	ErrFatalConfiguration = errors.New("fatal configuration error")
	// ErrNotFound signals that the requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrQueueFull is returned by non-blocking enqueues on a saturated queue.
var ErrQueueFull = errors.New("queue full")

// ErrQueueClosed is returned once the queue has shut down.
var ErrQueueClosed = errors.New("queue closed")
