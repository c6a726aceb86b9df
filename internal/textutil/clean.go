package textutil

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagsRE       = regexp.MustCompile(`<[^>]*>`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// Clean normalizes raw inbound text: HTML entities are unescaped, markup tags
// are replaced with spaces, and whitespace runs collapse to single spaces.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	s := html.UnescapeString(raw)
	s = tagsRE.ReplaceAllString(s, " ")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
