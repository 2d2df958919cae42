package postgres

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RecordStore writes extracted records into per-source tables.
type RecordStore struct {
	db DB
}

// NewRecordStore wraps db.
func NewRecordStore(db DB) *RecordStore {
	return &RecordStore{db: db}
}

// InsertRecord writes record into table and returns the generated id. The
// (source, natural_key) unique constraint surfaces as
// crawler.ErrDuplicateRecord.
func (s *RecordStore) InsertRecord(ctx context.Context, table string, record crawler.Record) (string, error) {
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("%w: invalid table name %q", crawler.ErrFatalConfiguration, table)
	}
	fields := record.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	source,
	locator,
	country,
	natural_key,
	title,
	body,
	fields,
	content_hash,
	raw_uri
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
RETURNING id::text`, table)

	var id string
	err = s.db.QueryRow(ctx, query,
		record.Source,
		record.Locator,
		nullable(record.Country),
		nullable(record.NaturalKey),
		record.Title,
		record.Body,
		fieldsJSON,
		nullable(record.ContentHash),
		nullable(record.RawURI),
	).Scan(&id)
	switch {
	case isUniqueViolation(err):
		return "", crawler.ErrDuplicateRecord
	case err != nil:
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// NaturalKeyExists reports whether source already stored a record with key.
func (s *RecordStore) NaturalKeyExists(ctx context.Context, table, source, key string) (bool, error) {
	if !validTableName.MatchString(table) {
		return false, fmt.Errorf("%w: invalid table name %q", crawler.ErrFatalConfiguration, table)
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE source = $1 AND natural_key = $2)`, table)
	var exists bool
	if err := s.db.QueryRow(ctx, query, source, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("natural key lookup: %w", err)
	}
	return exists, nil
}
