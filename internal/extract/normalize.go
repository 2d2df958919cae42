// Package extract holds helpers shared by the per-jurisdiction extractors.
// Whitespace normalization is the only transformation applied to text.
package extract

import (
	"regexp"
	"strings"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\p{Zs}]+`)
	spaceAroundLine = regexp.MustCompile(` ?\n ?`)
	blankLineRuns   = regexp.MustCompile(`\n{3,}`)
)

// Text normalizes whitespace in multi-line text: CRLF becomes LF, runs of
// horizontal whitespace become one space, lines are trimmed and more than one
// blank line in a row collapses to a single blank line.
func Text(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = spaceAroundLine.ReplaceAllString(s, "\n")
	s = blankLineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Line collapses all whitespace, newlines included, into single spaces.
func Line(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
