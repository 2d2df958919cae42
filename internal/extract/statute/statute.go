// Package statute extracts act and subsidiary-legislation records from
// Singapore Statutes Online HTML.
package statute

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/extract"
)

// Section is one provision of an act.
type Section struct {
	Title    string `json:"section_title"`
	Content  string `json:"section_content"`
	HeaderID string `json:"header_id,omitempty"`
}

// Extractor implements crawler.Extractor for statute pages.
type Extractor struct {
	source  string
	country string
}

// New builds an Extractor stamping records with source and country.
func New(source, country string) *Extractor {
	return &Extractor{source: source, country: country}
}

var (
	sectionNumber = regexp.MustCompile(`^\d+[A-Z]?\.?$`)
	headerNumber  = regexp.MustCompile(`^pr(\d+[A-Z]?)`)
	titleNumber   = regexp.MustCompile(`Section (\d+)([A-Z]?)\.?\s`)
)

// Extract parses an act or subsidiary-legislation page. The natural key is
// the source id taken from the last path segment of the locator
// ("/Act/ASA2007" -> "ASA2007"). Each section becomes a part keyed
// "<source id>#<section title>" so amended acts gain their new sections on a
// later crawl.
func (e *Extractor) Extract(body []byte, locator string) (crawler.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Record{}, fmt.Errorf("parse statute html: %w", err)
	}
	doc.Find(".amendNote").Remove()

	sourceID := SourceID(locator)
	title := docTitle(doc)
	if title == "" {
		kind := "ACT"
		if strings.Contains(locator, "/SL/") {
			kind = "SL"
		}
		title = fmt.Sprintf("UNKNOWN %s (%s)", kind, locator)
	}

	sections := Sections(doc)
	texts := make([]string, 0, len(sections))
	parts := make([]crawler.Record, 0, len(sections))
	for _, s := range sections {
		texts = append(texts, s.Title+"\n"+s.Content)
		parts = append(parts, crawler.Record{
			Source:     e.source,
			Locator:    locator,
			Country:    e.country,
			NaturalKey: SectionKey(sourceID, s.Title),
			Title:      s.Title,
			Body:       s.Content,
			Fields: map[string]any{
				"source_id":  sourceID,
				"act_title":  title,
				"header_id":  s.HeaderID,
				"section_no": sectionLabel(s.Title),
			},
		})
	}

	fields := map[string]any{
		"source_id":   sourceID,
		"description": extract.Line(doc.Find("td.longTitle").First().Text()),
		"sections":    sections,
	}
	if parent := ParentSourceID(doc); parent != "" {
		fields["parent_source_id"] = parent
		for _, p := range parts {
			p.Fields["parent_source_id"] = parent
		}
	}

	record := crawler.Record{
		Source:     e.source,
		Locator:    locator,
		Country:    e.country,
		NaturalKey: sourceID,
		Title:      title,
		Body:       extract.Text(strings.Join(texts, "\n\n")),
		Fields:     fields,
		Parts:      parts,
	}
	if record.EmptyBody() {
		return record, crawler.ErrExtractionEmpty
	}
	return record, nil
}

// SectionKey is the natural key of one section of an act.
func SectionKey(sourceID, sectionTitle string) string {
	return sourceID + "#" + sectionTitle
}

var authorisingAct = regexp.MustCompile(`(?i)authoris(ing|ed)\s+act`)

// ParentSourceID returns the source id of the act that authorises a piece of
// subsidiary legislation, read from its "Authorising Act" link. Acts have no
// such link and yield "".
func ParentSourceID(doc *goquery.Document) string {
	parent := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !authorisingAct.MatchString(a.Text()) {
			return true
		}
		href, _ := a.Attr("href")
		if i := strings.Index(href, "/Act/"); i >= 0 {
			parent = SourceID(href[i:])
		}
		return parent == ""
	})
	return parent
}

func docTitle(doc *goquery.Document) string {
	for _, sel := range []string{"td.actHd", "td.slTitle", "div.legis-title span"} {
		if t := extract.Line(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func sectionLabel(title string) string {
	m := titleNumber.FindStringSubmatch(title + " ")
	if m == nil {
		return ""
	}
	return m[1] + m[2]
}

// SourceID returns the last path segment of a locator without its query.
func SourceID(locator string) string {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	id := path.Base(strings.TrimRight(locator, "/"))
	if id == "." || id == "/" {
		return ""
	}
	return id
}

// Sections reads div.prov1 provisions from the div.body container (or the
// whole document when the container is missing), ordered by section number.
func Sections(doc *goquery.Document) []Section {
	container := doc.Find("div.body").First()
	if container.Length() == 0 {
		container = doc.Selection
	}

	var sections []Section
	container.Find("div.prov1").Each(func(_ int, div *goquery.Selection) {
		header := div.Find("td.prov1Hdr").First()
		content := div.Find("td.prov1Txt").First()
		if content.Length() == 0 {
			return
		}
		headerText := extract.Line(header.Text())
		if headerText == "" {
			headerText = "Unknown Title"
		}
		headerID, _ := header.Attr("id")

		number := ""
		if strong := extract.Line(content.Find("strong").First().Text()); sectionNumber.MatchString(strong) {
			number = strong
		} else if m := headerNumber.FindStringSubmatch(headerID); m != nil {
			number = m[1] + "."
		}

		title := headerText
		text := extract.Text(blockText(content))
		if number != "" {
			title = fmt.Sprintf("Section %s %s", number, headerText)
			text = strings.TrimPrefix(text, number+"\n")
			if !strings.HasPrefix(text, number) {
				text = number + " " + text
			}
		}
		sections = append(sections, Section{Title: title, Content: text, HeaderID: headerID})
	})

	sort.SliceStable(sections, func(i, j int) bool {
		ni, ai := sectionOrder(sections[i].Title)
		nj, aj := sectionOrder(sections[j].Title)
		if ni != nj {
			return ni < nj
		}
		return ai < aj
	})
	return sections
}

// blockText joins the text of leaf nodes with newlines so table cells and
// paragraphs do not run together.
func blockText(sel *goquery.Selection) string {
	var parts []string
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) == "#text" {
			if t := strings.TrimSpace(node.Text()); t != "" {
				parts = append(parts, t)
			}
			return
		}
		if t := blockText(node); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

func sectionOrder(title string) (int, int) {
	m := titleNumber.FindStringSubmatch(title + " ")
	if m == nil {
		return int(^uint(0) >> 1), 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return int(^uint(0) >> 1), 0
	}
	alpha := 0
	if m[2] != "" {
		alpha = int(m[2][0])
	}
	return n, alpha
}
