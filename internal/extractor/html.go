package extractor

import (
	"regexp"
	"strings"
)

var (
	breakTag      = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockTag      = regexp.MustCompile(`(?i)</?(?:p|div|li|ul|ol|h[1-6]|blockquote|pre|tr|table|section|article)\b[^>]*>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
	horizontalWS  = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
	spaceAtBreak  = regexp.MustCompile(` ?\n ?`)
	blankLineRuns = regexp.MustCompile(`\n{3,}`)
)

// &amp; is decoded last so "&amp;lt;" yields "&lt;" rather than "<".
var entityDecoder = strings.NewReplacer(
	"&nbsp;", " ",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
)

// HTMLToText converts an upstream HTML body into plain text. Block-level
// tags become newlines, other tags are dropped, a fixed set of entities is
// decoded and horizontal whitespace is collapsed. It never fails.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}
	s = breakTag.ReplaceAllString(s, "\n")
	s = blockTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = entityDecoder.Replace(s)
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = horizontalWS.ReplaceAllString(s, " ")
	s = spaceAtBreak.ReplaceAllString(s, "\n")
	s = blankLineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
