package crawler

import (
	"net/http"
	"net/url"
	"strings"
)

// Source describes how one upstream collection maps onto the pipeline.
type Source struct {
	Name    string
	JobName string
	Table   string
	Country string
	// DocumentURL is a template; {locator} expands to the raw locator and
	// {locator_url} to the query-escaped absolute locator URL. When empty the
	// absolute locator URL is fetched directly.
	DocumentURL string
	// LocatorBase is prefixed to relative locators ("/search/..." paths).
	LocatorBase string
	// AlternateQuery is appended for the second-pass extraction when the first
	// pass yields an empty body ("isOld=true").
	AlternateQuery string
	Headers        http.Header
}

// AbsoluteLocator joins relative locators onto LocatorBase.
func (s Source) AbsoluteLocator(locator string) string {
	if s.LocatorBase == "" || strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return locator
	}
	return strings.TrimRight(s.LocatorBase, "/") + "/" + strings.TrimLeft(locator, "/")
}

// HasAlternate reports whether a second-pass variant is configured.
func (s Source) HasAlternate() bool {
	return s.AlternateQuery != ""
}

// DocumentRequest builds the fetch request for a locator.
func (s Source) DocumentRequest(locator string, alternate bool) FetchRequest {
	abs := s.AbsoluteLocator(locator)
	target := abs
	if s.DocumentURL != "" {
		target = strings.NewReplacer(
			"{locator_url}", url.QueryEscape(abs),
			"{locator}", locator,
		).Replace(s.DocumentURL)
	}
	if alternate && s.AlternateQuery != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + s.AlternateQuery
	}
	return FetchRequest{URL: target, Headers: s.Headers.Clone()}
}
