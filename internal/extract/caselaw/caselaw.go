// Package caselaw extracts judgment records from the JSON emitted by the
// case-law scraping worker.
package caselaw

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/extract"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// document mirrors the worker payload.
type document struct {
	CaseName  string `json:"case_name"`
	CaseNo    string `json:"case_no"`
	Date      string `json:"date"`
	CaseText  string `json:"case_text"`
	Citation  string `json:"citation"`
	CourtName string `json:"court_name"`
}

// Extractor implements crawler.Extractor for case-law documents.
type Extractor struct {
	source  string
	country string
}

// New builds an Extractor stamping records with source and country.
func New(source, country string) *Extractor {
	return &Extractor{source: source, country: country}
}

// Extract decodes body. A blank case_text yields the partial record together
// with crawler.ErrExtractionEmpty.
func (e *Extractor) Extract(body []byte, locator string) (crawler.Record, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return crawler.Record{}, fmt.Errorf("decode case json: %w", err)
	}

	fields := map[string]any{
		"case_no":             extract.Line(doc.CaseNo),
		"date":                extract.Line(doc.Date),
		"citation":            extract.Line(doc.Citation),
		"court_name":          extract.Line(doc.CourtName),
		"standard_court_name": StandardizeCourt(doc.CourtName),
	}
	record := crawler.Record{
		Source:     e.source,
		Locator:    locator,
		Country:    e.country,
		NaturalKey: extract.Line(doc.Citation),
		Title:      extract.Line(doc.CaseName),
		Body:       extract.Text(doc.CaseText),
		Fields:     fields,
	}
	if record.EmptyBody() {
		return record, crawler.ErrExtractionEmpty
	}
	return record, nil
}

var (
	courtNoise   = regexp.MustCompile(`\$\$.*?\$\$|&emsp;|fig\.\s*\d*|\d+`)
	nonLetters   = regexp.MustCompile(`[^a-z ]+`)
	courtPattern = []struct {
		pattern *regexp.Regexp
		name    string
	}{
		{regexp.MustCompile(`court\s+of\s+appeal`), "Court of Appeal"},
		{regexp.MustCompile(`high\s+court\s+appellate\s+division`), "High Court (Appellate Division)"},
		{regexp.MustCompile(`high\s+court\s+general\s+division`), "High Court (General Division)"},
		{regexp.MustCompile(`singapore\s+international\s+commercial\s+court`), "Singapore International Commercial Court (SICC)"},
		{regexp.MustCompile(`family\s+justice\s+courts`), "Family Justice Courts"},
		{regexp.MustCompile(`court\s+of\s+(three|3)\s+judges`), "Court of Three Judges"},
		{regexp.MustCompile(`high\s+court`), "High Court"},
	}
)

// StandardizeCourt maps a raw court label onto the binding-court names, or
// nil when the court is not one of them. Patterns are tried in order, so the
// more specific High Court divisions win over plain "High Court".
func StandardizeCourt(raw string) *string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	lower := strings.ToLower(raw)
	// "3" is meaningful only in "court of 3 judges".
	lower = strings.ReplaceAll(lower, "court of 3 judges", "court of three judges")
	cleaned := courtNoise.ReplaceAllString(lower, "")
	cleaned = nonLetters.ReplaceAllString(cleaned, " ")
	cleaned = extract.Line(cleaned)

	for _, c := range courtPattern {
		if c.pattern.MatchString(cleaned) {
			name := c.name
			return &name
		}
	}
	return nil
}
