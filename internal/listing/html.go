package listing

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

// HTML scrapes anchors from browse pages, keeping hrefs that start with
// LinkPrefix with their query strings removed.
type HTML struct {
	cfg     Config
	fetcher crawler.Fetcher
}

// NewHTML builds an HTML browse listing.
func NewHTML(cfg Config, f crawler.Fetcher) *HTML {
	return &HTML{cfg: cfg, fetcher: f}
}

// Page implements crawler.Listing.
func (l *HTML) Page(ctx context.Context, index int) ([]string, error) {
	body, err := fetchBody(ctx, l.fetcher, pageURL(l.cfg.URL, index), l.cfg.Headers)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse browse page %d: %w", index, err)
	}

	scope := doc.Selection
	if l.cfg.Container != "" {
		if c := doc.Find(l.cfg.Container); c.Length() > 0 {
			scope = c
		}
	}

	var locators []string
	scope.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(href, l.cfg.LinkPrefix) {
			return
		}
		if i := strings.Index(href, "?"); i >= 0 {
			href = href[:i]
		}
		locators = append(locators, href)
	})
	return dedupe(locators), nil
}
