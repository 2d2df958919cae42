// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/id/uuid"
)

// StoredRecord is a record together with its assigned id.
type StoredRecord struct {
	ID        string
	Table     string
	Record    crawler.Record
	CreatedAt time.Time
}

// RecordStore implements crawler.RecordStore. Natural keys are unique per
// table and source, mirroring the Postgres constraint.
type RecordStore struct {
	mu      sync.RWMutex
	ids     crawler.IDGenerator
	records []StoredRecord
	keys    map[string]string
}

// NewRecordStore constructs a RecordStore. A nil generator uses UUIDv7.
func NewRecordStore(ids crawler.IDGenerator) *RecordStore {
	if ids == nil {
		ids = uuid.New()
	}
	return &RecordStore{ids: ids, keys: make(map[string]string)}
}

// InsertRecord stores record, returning crawler.ErrDuplicateRecord when the
// natural key is taken.
func (s *RecordStore) InsertRecord(_ context.Context, table string, record crawler.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := naturalKey(table, record.Source, record.NaturalKey)
	if record.HasNaturalKey() {
		if _, taken := s.keys[key]; taken {
			return "", crawler.ErrDuplicateRecord
		}
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("record id: %w", err)
	}
	s.records = append(s.records, StoredRecord{ID: id, Table: table, Record: record, CreatedAt: time.Now().UTC()})
	if record.HasNaturalKey() {
		s.keys[key] = id
	}
	return id, nil
}

// NaturalKeyExists reports whether key is already stored for the source.
func (s *RecordStore) NaturalKeyExists(_ context.Context, table, source, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[naturalKey(table, source, key)]
	return ok, nil
}

// Records returns a copy of every stored record in insertion order.
func (s *RecordStore) Records() []StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredRecord(nil), s.records...)
}

func naturalKey(table, source, key string) string {
	return table + "\x00" + source + "\x00" + key
}

// LedgerStore implements crawler.LedgerStore.
type LedgerStore struct {
	mu      sync.RWMutex
	entries map[string]crawler.LedgerEntry
}

// NewLedgerStore constructs a LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{entries: make(map[string]crawler.LedgerEntry)}
}

// UpsertLedger replaces the entry for the locator and bumps its attempt count.
func (s *LedgerStore) UpsertLedger(_ context.Context, entry crawler.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Attempts = s.entries[entry.Locator].Attempts + 1
	s.entries[entry.Locator] = entry
	return nil
}

// GetLedger returns the entry for locator or crawler.ErrNotFound.
func (s *LedgerStore) GetLedger(_ context.Context, locator string) (crawler.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[locator]
	if !ok {
		return crawler.LedgerEntry{}, crawler.ErrNotFound
	}
	return entry, nil
}

// Entries returns every ledger entry sorted by locator.
func (s *LedgerStore) Entries() []crawler.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Locator < out[j].Locator })
	return out
}
