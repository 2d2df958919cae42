package listing

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON reads pages that are JSON arrays of locators. Elements may be plain
// strings or objects carrying a "url" (or "loc") field.
type JSON struct {
	cfg     Config
	fetcher crawler.Fetcher
}

// NewJSON builds a JSON listing.
func NewJSON(cfg Config, f crawler.Fetcher) *JSON {
	return &JSON{cfg: cfg, fetcher: f}
}

// Page implements crawler.Listing.
func (l *JSON) Page(ctx context.Context, index int) ([]string, error) {
	body, err := fetchBody(ctx, l.fetcher, pageURL(l.cfg.URL, index), l.cfg.Headers)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(body)) == "" {
		return []string{}, nil
	}

	var raw []jsoniter.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode listing page %d: %w", index, err)
	}
	locators := make([]string, 0, len(raw))
	for _, item := range raw {
		locators = append(locators, locatorOf(item))
	}
	return dedupe(locators), nil
}

func locatorOf(item jsoniter.RawMessage) string {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		URL string `json:"url"`
		Loc string `json:"loc"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return ""
	}
	if obj.URL != "" {
		return strings.TrimSpace(obj.URL)
	}
	return strings.TrimSpace(obj.Loc)
}
