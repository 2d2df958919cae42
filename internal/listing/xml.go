package listing

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

// DefaultXMLPageSize chunks flat urlsets when no page size is configured.
const DefaultXMLPageSize = 500

// XML pages through a sitemap. A sitemap index maps page i to its i-th child
// sitemap; a flat urlset is split into PageSize chunks.
type XML struct {
	cfg     Config
	fetcher crawler.Fetcher

	mu       sync.Mutex
	loaded   bool
	children []string
	urls     []string
}

// NewXML builds an XML sitemap listing.
func NewXML(cfg Config, f crawler.Fetcher) *XML {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultXMLPageSize
	}
	return &XML{cfg: cfg, fetcher: f}
}

// Page implements crawler.Listing.
func (l *XML) Page(ctx context.Context, index int) ([]string, error) {
	if err := l.load(ctx); err != nil {
		return nil, err
	}
	offset := index - l.cfg.StartIndex
	if offset < 0 {
		return []string{}, nil
	}

	if l.children != nil {
		if offset >= len(l.children) {
			return []string{}, nil
		}
		body, err := fetchBody(ctx, l.fetcher, l.children[offset], l.cfg.Headers)
		if err != nil {
			return nil, err
		}
		doc, err := xmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse child sitemap %s: %w", l.children[offset], err)
		}
		return dedupe(locs(doc, "//url/loc")), nil
	}

	start := offset * l.cfg.PageSize
	if start >= len(l.urls) {
		return []string{}, nil
	}
	end := min(start+l.cfg.PageSize, len(l.urls))
	return append([]string(nil), l.urls[start:end]...), nil
}

// load fetches the root sitemap once; failures are not cached.
func (l *XML) load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}
	body, err := fetchBody(ctx, l.fetcher, l.cfg.URL, l.cfg.Headers)
	if err != nil {
		return err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse sitemap %s: %w", l.cfg.URL, err)
	}
	if xmlquery.FindOne(doc, "//sitemapindex") != nil {
		l.children = dedupe(locs(doc, "//sitemap/loc"))
		if l.children == nil {
			l.children = []string{}
		}
	} else {
		l.urls = dedupe(locs(doc, "//url/loc"))
	}
	l.loaded = true
	return nil
}

func locs(doc *xmlquery.Node, expr string) []string {
	nodes := xmlquery.Find(doc, expr)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, strings.TrimSpace(n.InnerText()))
	}
	return out
}
