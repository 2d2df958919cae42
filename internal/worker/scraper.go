// Package worker turns a locator into a ScrapeResult: fetch, extract, and a
// second pass in the source's alternate mode when the first yields no text.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/metrics"
)

// Config controls raw-body archival.
type Config struct {
	BlobPrefix string
}

// Scraper implements per-locator scraping for one source.
type Scraper struct {
	source    crawler.Source
	extractor crawler.Extractor
	fetcher   crawler.Fetcher
	hasher    crawler.Hasher
	blobStore crawler.BlobStore
	cfg       Config
	logger    *zap.Logger
}

// New builds a Scraper. blobStore may be nil to disable archival.
func New(
	source crawler.Source,
	extractor crawler.Extractor,
	fetcher crawler.Fetcher,
	hasher crawler.Hasher,
	blobStore crawler.BlobStore,
	cfg Config,
	logger *zap.Logger,
) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		source:    source,
		extractor: extractor,
		fetcher:   fetcher,
		hasher:    hasher,
		blobStore: blobStore,
		cfg:       cfg,
		logger:    logger.Named("scraper").With(zap.String("source", source.Name)),
	}
}

// Source returns the source this scraper serves.
func (s *Scraper) Source() crawler.Source {
	return s.source
}

// Scrape fetches and extracts locator. A document whose text stays empty
// after the alternate pass is still a success; the writer decides to skip it.
func (s *Scraper) Scrape(ctx context.Context, locator string) crawler.ScrapeResult {
	metrics.IncActiveScrapes()
	defer metrics.DecActiveScrapes()

	record, resp, result := s.attempt(ctx, locator, false)
	if result.Outcome != crawler.OutcomeSuccess {
		return result
	}

	if record.EmptyBody() && s.source.HasAlternate() {
		s.logger.Info("blank text, retrying in alternate mode", zap.String("url", locator))
		altRecord, altResp, altResult := s.attempt(ctx, locator, true)
		switch {
		case altResult.Outcome == crawler.OutcomeSuccess:
			record, resp = altRecord, altResp
		default:
			s.logger.Warn("alternate mode failed, keeping first pass",
				zap.String("url", locator),
				zap.String("reason", altResult.Reason),
			)
		}
	}

	s.annotate(ctx, &record, resp)
	return crawler.ScrapeResult{Locator: locator, Outcome: crawler.OutcomeSuccess, Record: &record}
}

func (s *Scraper) attempt(ctx context.Context, locator string, alternate bool) (crawler.Record, crawler.FetchResponse, crawler.ScrapeResult) {
	request := s.source.DocumentRequest(locator, alternate)
	fetched := s.fetcher.Fetch(ctx, request)
	if fetched.Outcome != crawler.OutcomeSuccess {
		return crawler.Record{}, crawler.FetchResponse{}, crawler.ScrapeResult{
			Locator: locator,
			Outcome: fetched.Outcome,
			Reason:  fetched.Reason,
		}
	}

	record, err := s.extractor.Extract(fetched.Response.Body, locator)
	if err != nil && !errors.Is(err, crawler.ErrExtractionEmpty) {
		return crawler.Record{}, crawler.FetchResponse{}, crawler.ScrapeResult{
			Locator: locator,
			Outcome: crawler.OutcomeTerminal,
			Reason:  fmt.Sprintf("extract: %v", err),
		}
	}
	record.Source = s.source.Name
	record.Locator = locator
	if record.Country == "" {
		record.Country = s.source.Country
	}
	return record, fetched.Response, crawler.ScrapeResult{Locator: locator, Outcome: crawler.OutcomeSuccess}
}

// annotate adds the content hash and, when archival is on, the raw URI.
// Failures here never fail the scrape.
func (s *Scraper) annotate(ctx context.Context, record *crawler.Record, resp crawler.FetchResponse) {
	if s.hasher == nil {
		return
	}
	hash, err := s.hasher.Hash(resp.Body)
	if err != nil {
		s.logger.Warn("hash body failed", zap.String("url", record.Locator), zap.Error(err))
		return
	}
	record.ContentHash = hash

	if s.blobStore == nil {
		return
	}
	contentType := resp.Headers.Get("Content-Type")
	uri, err := s.blobStore.PutObject(ctx, s.blobPath(hash, contentType), contentType, bytes.NewReader(resp.Body))
	if err != nil {
		s.logger.Warn("archive raw body failed", zap.String("url", record.Locator), zap.Error(err))
		return
	}
	record.RawURI = uri
}

func (s *Scraper) blobPath(hash, contentType string) string {
	ext := ".html"
	if media, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasSuffix(media, "json") {
		ext = ".json"
	}
	prefix := strings.Trim(s.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s%s", s.source.Name, hash, ext)
	}
	return fmt.Sprintf("%s/%s/%s%s", prefix, s.source.Name, hash, ext)
}
