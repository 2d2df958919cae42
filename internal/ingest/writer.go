// Package ingest writes extracted records and keeps the locator ledger in
// step with every decision.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/metrics"
)

// EmptyContentMessage is stored in the ledger for blank documents.
const EmptyContentMessage = "empty content"

// Checker is the pre-commit half of the existence oracle.
type Checker interface {
	PreCommit(ctx context.Context, table, source, key string) (bool, error)
	MarkProcessed(locator string)
}

// Config controls optional side effects.
type Config struct {
	// Topic receives a crawler.Notification per inserted record when a
	// publisher is configured.
	Topic string
}

// Result reports what Ingest did.
type Result struct {
	Outcome  crawler.IngestOutcome
	RecordID string
	// Inserted counts the rows written, parts included.
	Inserted int
}

// Writer implements the ingest step.
type Writer struct {
	records   crawler.RecordStore
	ledger    crawler.LedgerStore
	checker   Checker
	clock     crawler.Clock
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New builds a Writer. publisher may be nil.
func New(
	records crawler.RecordStore,
	ledger crawler.LedgerStore,
	checker Checker,
	clock crawler.Clock,
	publisher crawler.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		records:   records,
		ledger:    ledger,
		checker:   checker,
		clock:     clock,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("ingest"),
	}
}

// Ingest stores record at most once per natural key and upserts the ledger
// entry for its locator with the decision taken.
func (w *Writer) Ingest(ctx context.Context, src crawler.Source, record crawler.Record) (Result, error) {
	if len(record.Parts) > 0 {
		return w.ingestParts(ctx, src, record)
	}
	logger := w.logger.With(zap.String("source", src.Name), zap.String("url", record.Locator))

	if record.HasNaturalKey() {
		exists, err := w.checker.PreCommit(ctx, src.Table, src.Name, record.NaturalKey)
		if err != nil {
			return Result{}, w.fail(ctx, src, record.Locator, err)
		}
		if exists {
			logger.Info("skipping record with existing natural key", zap.String("natural_key", record.NaturalKey))
			return w.duplicate(ctx, src, record.Locator)
		}
	}

	if record.EmptyBody() {
		logger.Info("skipping record with empty content", zap.String("title", record.Title))
		return w.empty(ctx, src, record.Locator)
	}

	id, err := w.records.InsertRecord(ctx, src.Table, record)
	switch {
	case errors.Is(err, crawler.ErrDuplicateRecord):
		logger.Info("insert hit natural key constraint", zap.String("natural_key", record.NaturalKey))
		return w.duplicate(ctx, src, record.Locator)
	case err != nil:
		return Result{}, w.fail(ctx, src, record.Locator, fmt.Errorf("%w: insert record: %w", crawler.ErrStoreUnavailable, err))
	}

	// The row exists from here on, so the outcome stays inserted even when
	// the ledger write fails; the error still reaches the caller.
	var ledgerErr error
	entry := w.entry(src, record.Locator, true, crawler.LedgerSuccess)
	entry.RecordRef = &id
	if err := w.ledger.UpsertLedger(ctx, entry); err != nil {
		ledgerErr = fmt.Errorf("%w: ledger upsert after insert: %w", crawler.ErrStoreUnavailable, err)
		logger.Warn("record inserted but ledger upsert failed", zap.String("record_id", id), zap.Error(err))
	}
	w.checker.MarkProcessed(record.Locator)
	metrics.ObserveIngest(src.Name, string(crawler.IngestInserted))
	logger.Info("inserted record", zap.String("record_id", id), zap.String("title", record.Title))

	w.notify(ctx, src, record, id)
	return Result{Outcome: crawler.IngestInserted, RecordID: id, Inserted: 1}, ledgerErr
}

// ingestParts stores the record and each of its parts under their own natural
// keys, skipping the ones already present. The locator settles as a duplicate
// only when nothing new was written.
func (w *Writer) ingestParts(ctx context.Context, src crawler.Source, record crawler.Record) (Result, error) {
	logger := w.logger.With(zap.String("source", src.Name), zap.String("url", record.Locator))

	if record.EmptyBody() {
		logger.Info("skipping record with empty content", zap.String("title", record.Title))
		return w.empty(ctx, src, record.Locator)
	}

	var res Result
	partial := func(err error) (Result, error) {
		err = w.fail(ctx, src, record.Locator, err)
		if res.Inserted > 0 {
			res.Outcome = crawler.IngestInserted
			return res, err
		}
		return Result{}, err
	}

	id, err := w.store(ctx, src, record)
	if err != nil {
		return partial(err)
	}
	if id != "" {
		res.RecordID = id
		res.Inserted++
		w.notify(ctx, src, record, id)
	}
	for _, part := range record.Parts {
		if part.EmptyBody() {
			continue
		}
		partID, err := w.store(ctx, src, part)
		if err != nil {
			return partial(err)
		}
		if partID == "" {
			continue
		}
		res.Inserted++
		w.notify(ctx, src, part, partID)
	}

	if res.Inserted == 0 {
		logger.Info("no new parts", zap.String("natural_key", record.NaturalKey), zap.Int("parts", len(record.Parts)))
		return w.duplicate(ctx, src, record.Locator)
	}

	res.Outcome = crawler.IngestInserted
	var ledgerErr error
	entry := w.entry(src, record.Locator, true, crawler.LedgerSuccess)
	if res.RecordID != "" {
		entry.RecordRef = &res.RecordID
	}
	if err := w.ledger.UpsertLedger(ctx, entry); err != nil {
		ledgerErr = fmt.Errorf("%w: ledger upsert after insert: %w", crawler.ErrStoreUnavailable, err)
		logger.Warn("parts inserted but ledger upsert failed", zap.Int("inserted", res.Inserted), zap.Error(err))
	}
	w.checker.MarkProcessed(record.Locator)
	metrics.ObserveIngest(src.Name, string(crawler.IngestInserted))
	logger.Info("inserted record parts", zap.String("natural_key", record.NaturalKey), zap.Int("inserted", res.Inserted))
	return res, ledgerErr
}

// store inserts record unless its natural key is already present. A skipped
// record yields an empty id and no error.
func (w *Writer) store(ctx context.Context, src crawler.Source, record crawler.Record) (string, error) {
	if record.HasNaturalKey() {
		exists, err := w.checker.PreCommit(ctx, src.Table, src.Name, record.NaturalKey)
		if err != nil {
			return "", err
		}
		if exists {
			return "", nil
		}
	}
	id, err := w.records.InsertRecord(ctx, src.Table, record)
	switch {
	case errors.Is(err, crawler.ErrDuplicateRecord):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("%w: insert record: %w", crawler.ErrStoreUnavailable, err)
	}
	return id, nil
}

func (w *Writer) empty(ctx context.Context, src crawler.Source, locator string) (Result, error) {
	msg := EmptyContentMessage
	entry := w.entry(src, locator, false, crawler.LedgerError)
	entry.ErrorMessage = &msg
	if err := w.ledger.UpsertLedger(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("%w: ledger upsert: %w", crawler.ErrStoreUnavailable, err)
	}
	metrics.ObserveIngest(src.Name, string(crawler.IngestEmptyContent))
	return Result{Outcome: crawler.IngestEmptyContent}, nil
}

// RecordFailure writes an error ledger entry for a locator that never reached
// Ingest (fetch or extraction failure).
func (w *Writer) RecordFailure(ctx context.Context, src crawler.Source, locator, reason string) error {
	entry := w.entry(src, locator, false, crawler.LedgerError)
	entry.ErrorMessage = &reason
	if err := w.ledger.UpsertLedger(ctx, entry); err != nil {
		return fmt.Errorf("%w: ledger upsert: %w", crawler.ErrStoreUnavailable, err)
	}
	metrics.ObserveIngest(src.Name, "failed")
	return nil
}

func (w *Writer) duplicate(ctx context.Context, src crawler.Source, locator string) (Result, error) {
	if err := w.ledger.UpsertLedger(ctx, w.entry(src, locator, true, crawler.LedgerSuccess)); err != nil {
		return Result{}, fmt.Errorf("%w: ledger upsert: %w", crawler.ErrStoreUnavailable, err)
	}
	w.checker.MarkProcessed(locator)
	metrics.ObserveIngest(src.Name, string(crawler.IngestDuplicate))
	return Result{Outcome: crawler.IngestDuplicate}, nil
}

// fail records cause in the ledger and returns it, joined with any ledger error.
func (w *Writer) fail(ctx context.Context, src crawler.Source, locator string, cause error) error {
	w.logger.Warn("ingest failed", zap.String("source", src.Name), zap.String("url", locator), zap.Error(cause))
	msg := cause.Error()
	entry := w.entry(src, locator, false, crawler.LedgerError)
	entry.ErrorMessage = &msg
	metrics.ObserveIngest(src.Name, "failed")
	if err := w.ledger.UpsertLedger(ctx, entry); err != nil {
		return errors.Join(cause, fmt.Errorf("record ledger error: %w", err))
	}
	return cause
}

func (w *Writer) entry(src crawler.Source, locator string, processed bool, status crawler.LedgerStatus) crawler.LedgerEntry {
	return crawler.LedgerEntry{
		Source:      src.Name,
		Locator:     locator,
		Country:     src.Country,
		Processed:   processed,
		Status:      status,
		ProcessedAt: w.clock.Now(),
	}
}

func (w *Writer) notify(ctx context.Context, src crawler.Source, record crawler.Record, id string) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	n := crawler.Notification{
		Source:     src.Name,
		Locator:    record.Locator,
		RecordID:   id,
		NaturalKey: record.NaturalKey,
		Timestamp:  w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, n); err != nil {
		w.logger.Warn("publish notification failed", zap.String("record_id", id), zap.Error(err))
	}
}
