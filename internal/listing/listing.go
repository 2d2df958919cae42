// Package listing implements paginated locator indexes: JSON array pages,
// XML sitemaps and HTML browse pages.
package listing

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/fetcher"
)

// Kinds of listing sources.
const (
	KindJSON = "json"
	KindXML  = "xml"
	KindHTML = "html"
)

// Config describes one listing.
type Config struct {
	Kind string
	// URL is a template for json and html kinds ({index} expands to the page
	// index) and the root sitemap for the xml kind.
	URL        string
	StartIndex int
	// PageSize chunks a flat XML urlset into pages.
	PageSize int
	// LinkPrefix keeps only anchors whose href starts with it (html kind).
	LinkPrefix string
	// Container narrows the anchor search (html kind); the whole document is
	// searched when it matches nothing.
	Container string
	Headers   http.Header
}

// New builds the listing for cfg.Kind.
func New(cfg Config, f crawler.Fetcher) (crawler.Listing, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: listing url is required", crawler.ErrFatalConfiguration)
	}
	switch cfg.Kind {
	case KindJSON, "":
		return NewJSON(cfg, f), nil
	case KindXML:
		return NewXML(cfg, f), nil
	case KindHTML:
		if cfg.LinkPrefix == "" {
			return nil, fmt.Errorf("%w: html listing requires link_prefix", crawler.ErrFatalConfiguration)
		}
		return NewHTML(cfg, f), nil
	default:
		return nil, fmt.Errorf("%w: unknown listing kind %q", crawler.ErrFatalConfiguration, cfg.Kind)
	}
}

// Shift renumbers pages so that page n of the result reads page n+by of l.
// Drivers count pages from 1; Shift adapts listings whose first page is 0.
func Shift(l crawler.Listing, by int) crawler.Listing {
	if by == 0 {
		return l
	}
	return shifted{inner: l, by: by}
}

type shifted struct {
	inner crawler.Listing
	by    int
}

func (s shifted) Page(ctx context.Context, index int) ([]string, error) {
	return s.inner.Page(ctx, index+s.by)
}

func pageURL(template string, index int) string {
	return strings.ReplaceAll(template, "{index}", strconv.Itoa(index))
}

func fetchBody(ctx context.Context, f crawler.Fetcher, url string, headers http.Header) ([]byte, error) {
	result := f.Fetch(ctx, crawler.FetchRequest{URL: url, Headers: headers.Clone()})
	if err := fetcher.Err(result); err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", url, err)
	}
	return result.Response.Body, nil
}

func dedupe(locators []string) []string {
	seen := make(map[string]struct{}, len(locators))
	out := make([]string, 0, len(locators))
	for _, l := range locators {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
