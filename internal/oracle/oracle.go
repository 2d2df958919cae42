// Package oracle answers "has this already been ingested?" at the two
// checkpoints of the pipeline. The pre-fetch check fails open and the
// pre-commit check fails closed.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/metrics"
)

// Checkpoint labels.
const (
	CheckpointPreFetch  = "pre_fetch"
	CheckpointPreCommit = "pre_commit"
)

// Config tunes the oracle.
type Config struct {
	// MaxLocatorAttempts treats a locator as settled once it has failed this
	// many times. Zero retries failed locators forever.
	MaxLocatorAttempts int
}

// Oracle implements both existence checkpoints.
type Oracle struct {
	ledger  crawler.LedgerStore
	records crawler.RecordStore
	cache   crawler.Cache
	cfg     Config
	logger  *zap.Logger
}

// New builds an Oracle. cache may be nil.
func New(ledger crawler.LedgerStore, records crawler.RecordStore, cache crawler.Cache, cfg Config, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		ledger:  ledger,
		records: records,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.Named("oracle"),
	}
}

// PreFetch reports whether locator was already processed. Lookup failures
// are logged and treated as "not processed" so the locator is retried.
func (o *Oracle) PreFetch(ctx context.Context, locator string) bool {
	if o.cache != nil && o.cache.Has(locator) {
		metrics.ObserveOracleCheck(CheckpointPreFetch, "cache_hit")
		return true
	}

	entry, err := o.ledger.GetLedger(ctx, locator)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		metrics.ObserveOracleCheck(CheckpointPreFetch, "new")
		return false
	case err != nil:
		metrics.ObserveOracleCheck(CheckpointPreFetch, "error")
		o.logger.Warn("ledger lookup failed, treating locator as new",
			zap.String("url", locator),
			zap.Error(err),
		)
		return false
	}

	if entry.Processed {
		metrics.ObserveOracleCheck(CheckpointPreFetch, "processed")
		o.MarkProcessed(locator)
		return true
	}
	if o.cfg.MaxLocatorAttempts > 0 && entry.Attempts >= o.cfg.MaxLocatorAttempts {
		metrics.ObserveOracleCheck(CheckpointPreFetch, "attempts_exhausted")
		o.logger.Debug("locator exceeded max attempts",
			zap.String("url", locator),
			zap.Int("attempts", entry.Attempts),
		)
		return true
	}
	metrics.ObserveOracleCheck(CheckpointPreFetch, "retry")
	return false
}

// PreCommit reports whether a record with the natural key already exists.
// Errors propagate so the caller aborts the write. A blank key never exists.
func (o *Oracle) PreCommit(ctx context.Context, table, source, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	exists, err := o.records.NaturalKeyExists(ctx, table, source, key)
	if err != nil {
		metrics.ObserveOracleCheck(CheckpointPreCommit, "error")
		return false, fmt.Errorf("%w: natural key lookup: %w", crawler.ErrStoreUnavailable, err)
	}
	if exists {
		metrics.ObserveOracleCheck(CheckpointPreCommit, "exists")
	} else {
		metrics.ObserveOracleCheck(CheckpointPreCommit, "new")
	}
	return exists, nil
}

// MarkProcessed remembers a settled locator in the cache, if one is configured.
func (o *Oracle) MarkProcessed(locator string) {
	if o.cache != nil {
		o.cache.Remember(locator)
	}
}
