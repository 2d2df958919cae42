package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

// DefaultLedgerTable is the locator ledger table.
const DefaultLedgerTable = "caselaw_scraping_urls"

// LedgerStore persists per-locator outcomes keyed by url.
type LedgerStore struct {
	db    DB
	table string
}

// NewLedgerStore wraps db. An empty table uses DefaultLedgerTable.
func NewLedgerStore(db DB, table string) (*LedgerStore, error) {
	if table == "" {
		table = DefaultLedgerTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &LedgerStore{db: db, table: table}, nil
}

// UpsertLedger writes entry, replacing any previous outcome for the locator
// and bumping its attempt counter.
func (s *LedgerStore) UpsertLedger(ctx context.Context, entry crawler.LedgerEntry) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	url,
	source,
	country,
	processed,
	status,
	case_id,
	error_message,
	attempts,
	processing_date
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,1,$8
)
ON CONFLICT (url) DO UPDATE SET
	source = EXCLUDED.source,
	country = EXCLUDED.country,
	processed = EXCLUDED.processed,
	status = EXCLUDED.status,
	case_id = EXCLUDED.case_id,
	error_message = EXCLUDED.error_message,
	attempts = %[1]s.attempts + 1,
	processing_date = EXCLUDED.processing_date`, s.table)

	_, err := s.db.Exec(ctx, query,
		entry.Locator,
		entry.Source,
		nullable(entry.Country),
		entry.Processed,
		string(entry.Status),
		entry.RecordRef,
		entry.ErrorMessage,
		entry.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert ledger: %w", err)
	}
	return nil
}

// GetLedger returns the entry for locator or crawler.ErrNotFound.
func (s *LedgerStore) GetLedger(ctx context.Context, locator string) (crawler.LedgerEntry, error) {
	query := fmt.Sprintf(`
SELECT url, source, country, processed, status, case_id, error_message, attempts, processing_date
FROM %s
WHERE url = $1`, s.table)

	var (
		entry   crawler.LedgerEntry
		country *string
		status  string
	)
	err := s.db.QueryRow(ctx, query, locator).Scan(
		&entry.Locator,
		&entry.Source,
		&country,
		&entry.Processed,
		&status,
		&entry.RecordRef,
		&entry.ErrorMessage,
		&entry.Attempts,
		&entry.ProcessedAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return crawler.LedgerEntry{}, crawler.ErrNotFound
	case err != nil:
		return crawler.LedgerEntry{}, fmt.Errorf("get ledger: %w", err)
	}
	if country != nil {
		entry.Country = *country
	}
	entry.Status = crawler.LedgerStatus(status)
	return entry, nil
}
