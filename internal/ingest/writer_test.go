package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lexcrawl/internal/cache/memory"
	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/oracle"
	pubmem "github.com/JakeFAU/lexcrawl/internal/publisher/memory"
	storemem "github.com/JakeFAU/lexcrawl/internal/storage/memory"
)

var (
	errDown = errors.New("connection refused")
	src     = crawler.Source{Name: "sg-caselaw", Table: "caselaw_singapore", Country: "Singapore"}
	now     = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

type harness struct {
	records *storemem.RecordStore
	ledger  *storemem.LedgerStore
	cache   *memory.Cache
	pub     *pubmem.Publisher
	writer  *Writer
}

func newHarness() *harness {
	h := &harness{
		records: storemem.NewRecordStore(nil),
		ledger:  storemem.NewLedgerStore(),
		cache:   memory.New(0),
		pub:     pubmem.New(),
	}
	o := oracle.New(h.ledger, h.records, h.cache, oracle.Config{}, nil)
	h.writer = New(h.records, h.ledger, o, fixedClock{}, h.pub, Config{Topic: "records"}, nil)
	return h
}

func caseRecord(locator, citation, body string) crawler.Record {
	return crawler.Record{Source: src.Name, Locator: locator, NaturalKey: citation, Title: "PP v Tan", Body: body}
}

func TestIngestInserts(t *testing.T) {
	t.Parallel()

	h := newHarness()
	res, err := h.writer.Ingest(context.Background(), src, caseRecord("/a", "[2024] SGCA 1", "text"))
	require.NoError(t, err)
	require.Equal(t, crawler.IngestInserted, res.Outcome)
	require.NotEmpty(t, res.RecordID)
	require.Len(t, h.records.Records(), 1)

	entry, err := h.ledger.GetLedger(context.Background(), "/a")
	require.NoError(t, err)
	require.True(t, entry.Processed)
	require.Equal(t, crawler.LedgerSuccess, entry.Status)
	require.Equal(t, res.RecordID, *entry.RecordRef)
	require.Equal(t, "Singapore", entry.Country)
	require.Equal(t, now, entry.ProcessedAt)
	require.True(t, h.cache.Has("/a"))

	msgs := h.pub.Messages("records")
	require.Len(t, msgs, 1)
	require.Equal(t, res.RecordID, msgs[0].Payload.(crawler.Notification).RecordID)
}

func TestIngestDuplicateNaturalKey(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx := context.Background()
	_, err := h.writer.Ingest(ctx, src, caseRecord("/a", "[2024] SGCA 1", "text"))
	require.NoError(t, err)

	res, err := h.writer.Ingest(ctx, src, caseRecord("/a-mirror", "[2024] SGCA 1", "text"))
	require.NoError(t, err)
	require.Equal(t, crawler.IngestDuplicate, res.Outcome)
	require.Len(t, h.records.Records(), 1)

	entry, err := h.ledger.GetLedger(ctx, "/a-mirror")
	require.NoError(t, err)
	require.True(t, entry.Processed)
	require.Equal(t, crawler.LedgerSuccess, entry.Status)
	require.Nil(t, entry.RecordRef)
	require.Len(t, h.pub.Messages(""), 1)
}

func TestIngestEmptyContent(t *testing.T) {
	t.Parallel()

	h := newHarness()
	res, err := h.writer.Ingest(context.Background(), src, caseRecord("/empty", "[2024] SGCA 9", "  \n\t"))
	require.NoError(t, err)
	require.Equal(t, crawler.IngestEmptyContent, res.Outcome)
	require.Empty(t, h.records.Records())

	entry, err := h.ledger.GetLedger(context.Background(), "/empty")
	require.NoError(t, err)
	require.False(t, entry.Processed)
	require.Equal(t, crawler.LedgerError, entry.Status)
	require.Equal(t, EmptyContentMessage, *entry.ErrorMessage)
	require.False(t, h.cache.Has("/empty"))
}

func TestIngestWithoutNaturalKeySkipsPreCommit(t *testing.T) {
	t.Parallel()

	h := newHarness()
	checker := &countingChecker{}
	w := New(h.records, h.ledger, checker, fixedClock{}, nil, Config{}, nil)

	res, err := w.Ingest(context.Background(), src, caseRecord("/a", "", "text"))
	require.NoError(t, err)
	require.Equal(t, crawler.IngestInserted, res.Outcome)
	require.Zero(t, checker.calls)
}

func TestIngestUniqueViolationIsDuplicate(t *testing.T) {
	t.Parallel()

	h := newHarness()
	// The pre-commit check says "new" but the store rejects the key: a
	// concurrent writer won the race.
	w := New(&racingRecords{}, h.ledger, &countingChecker{}, fixedClock{}, nil, Config{}, nil)

	res, err := w.Ingest(context.Background(), src, caseRecord("/a", "[2024] SGCA 1", "text"))
	require.NoError(t, err)
	require.Equal(t, crawler.IngestDuplicate, res.Outcome)

	entry, err := h.ledger.GetLedger(context.Background(), "/a")
	require.NoError(t, err)
	require.True(t, entry.Processed)
}

func TestIngestPreCommitFailureAbortsWrite(t *testing.T) {
	t.Parallel()

	h := newHarness()
	w := New(h.records, h.ledger, &countingChecker{err: errDown}, fixedClock{}, nil, Config{}, nil)

	_, err := w.Ingest(context.Background(), src, caseRecord("/a", "[2024] SGCA 1", "text"))
	require.ErrorIs(t, err, errDown)
	require.Empty(t, h.records.Records())

	entry, err := h.ledger.GetLedger(context.Background(), "/a")
	require.NoError(t, err)
	require.False(t, entry.Processed)
	require.Equal(t, crawler.LedgerError, entry.Status)
	require.Contains(t, *entry.ErrorMessage, "connection refused")
}

func TestIngestJoinsLedgerFailure(t *testing.T) {
	t.Parallel()

	ledgerErr := errors.New("ledger down")
	w := New(&racingRecords{err: errDown}, &failingLedger{err: ledgerErr}, &countingChecker{}, fixedClock{}, nil, Config{}, nil)

	_, err := w.Ingest(context.Background(), src, caseRecord("/a", "[2024] SGCA 1", "text"))
	require.ErrorIs(t, err, errDown)
	require.ErrorIs(t, err, ledgerErr)
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
}

func TestIngestKeepsInsertWhenLedgerFails(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ledgerErr := errors.New("ledger down")
	cache := memory.New(0)
	o := oracle.New(h.ledger, h.records, cache, oracle.Config{}, nil)
	w := New(h.records, &failingLedger{err: ledgerErr}, o, fixedClock{}, nil, Config{}, nil)

	res, err := w.Ingest(context.Background(), src, caseRecord("/a", "", "text"))
	require.ErrorIs(t, err, ledgerErr)
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	require.Equal(t, crawler.IngestInserted, res.Outcome)
	require.NotEmpty(t, res.RecordID)
	require.Len(t, h.records.Records(), 1)
	require.True(t, cache.Has("/a"), "pre-fetch skips the locator for the rest of the process")
}

func actRecord(sections ...string) crawler.Record {
	record := crawler.Record{Source: src.Name, Locator: "/Act/ASA2007", NaturalKey: "ASA2007", Title: "Arbitration Act", Body: "act text"}
	for _, title := range sections {
		record.Parts = append(record.Parts, crawler.Record{
			Source:     src.Name,
			Locator:    record.Locator,
			NaturalKey: "ASA2007#" + title,
			Title:      title,
			Body:       title + " text",
		})
	}
	return record
}

func TestIngestPartsAddsOnlyUnseenSections(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx := context.Background()

	res, err := h.writer.Ingest(ctx, src, actRecord("Section 1. Short title", "Section 2. Interpretation"))
	require.NoError(t, err)
	require.Equal(t, crawler.IngestInserted, res.Outcome)
	require.Equal(t, 3, res.Inserted)
	require.NotEmpty(t, res.RecordID)
	require.Len(t, h.records.Records(), 3)

	amended := actRecord("Section 1. Short title", "Section 2. Interpretation", "Section 2A. Application")
	res, err = h.writer.Ingest(ctx, src, amended)
	require.NoError(t, err)
	require.Equal(t, crawler.IngestInserted, res.Outcome)
	require.Equal(t, 1, res.Inserted)
	require.Empty(t, res.RecordID, "the act row already exists")
	stored := h.records.Records()
	require.Len(t, stored, 4)
	require.Equal(t, "ASA2007#Section 2A. Application", stored[3].Record.NaturalKey)

	entry, err := h.ledger.GetLedger(ctx, "/Act/ASA2007")
	require.NoError(t, err)
	require.True(t, entry.Processed)
	require.Equal(t, crawler.LedgerSuccess, entry.Status)
	require.Len(t, h.pub.Messages("records"), 4)

	res, err = h.writer.Ingest(ctx, src, amended)
	require.NoError(t, err)
	require.Equal(t, crawler.IngestDuplicate, res.Outcome)
	require.Zero(t, res.Inserted)
	require.Len(t, h.records.Records(), 4)
}

// lookupBudget lets a fixed number of natural-key lookups through.
type lookupBudget struct {
	*oracle.Oracle
	left int
}

func (c *lookupBudget) PreCommit(ctx context.Context, table, source, key string) (bool, error) {
	if c.left == 0 {
		return false, errDown
	}
	c.left--
	return c.Oracle.PreCommit(ctx, table, source, key)
}

func TestIngestPartsFailureKeepsInsertedCount(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx := context.Background()
	checker := &lookupBudget{Oracle: oracle.New(h.ledger, h.records, nil, oracle.Config{}, nil), left: 2}
	w := New(h.records, h.ledger, checker, fixedClock{}, nil, Config{}, nil)

	res, err := w.Ingest(ctx, src, actRecord("Section 1. Short title", "Section 2. Interpretation"))
	require.ErrorIs(t, err, errDown)
	require.Equal(t, crawler.IngestInserted, res.Outcome)
	require.Equal(t, 2, res.Inserted)
	require.Len(t, h.records.Records(), 2)

	// The locator stays unsettled so the missing section is retried.
	entry, err := h.ledger.GetLedger(ctx, "/Act/ASA2007")
	require.NoError(t, err)
	require.False(t, entry.Processed)
	require.Equal(t, crawler.LedgerError, entry.Status)
}

func TestRecordFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.writer.RecordFailure(ctx, src, "/a", "failed after 5 attempts: last status 503"))
	require.NoError(t, h.writer.RecordFailure(ctx, src, "/a", "failed after 5 attempts: last status 503"))

	entry, err := h.ledger.GetLedger(ctx, "/a")
	require.NoError(t, err)
	require.False(t, entry.Processed)
	require.Equal(t, crawler.LedgerError, entry.Status)
	require.Equal(t, 2, entry.Attempts)

	w := New(h.records, &failingLedger{err: errDown}, &countingChecker{}, fixedClock{}, nil, Config{}, nil)
	require.ErrorIs(t, w.RecordFailure(ctx, src, "/b", "boom"), crawler.ErrStoreUnavailable)
}

type countingChecker struct {
	calls int
	err   error
}

func (c *countingChecker) PreCommit(context.Context, string, string, string) (bool, error) {
	c.calls++
	return false, c.err
}

func (c *countingChecker) MarkProcessed(string) {}

type racingRecords struct{ err error }

func (r *racingRecords) InsertRecord(context.Context, string, crawler.Record) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "", crawler.ErrDuplicateRecord
}

func (r *racingRecords) NaturalKeyExists(context.Context, string, string, string) (bool, error) {
	return false, nil
}

type failingLedger struct{ err error }

func (f *failingLedger) UpsertLedger(context.Context, crawler.LedgerEntry) error { return f.err }

func (f *failingLedger) GetLedger(context.Context, string) (crawler.LedgerEntry, error) {
	return crawler.LedgerEntry{}, f.err
}
