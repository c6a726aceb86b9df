// Package intent maps free-form chat text onto the closed set of actions the
// agent knows how to serve. Classification is ordered and first-match-wins, so
// news keywords always beat a price phrase appearing in the same message.
package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent is one of the fixed labels produced by Classify.
type Intent string

const (
	News     Intent = "news"
	Price    Intent = "price"
	Top      Intent = "top"
	Worst    Intent = "worst"
	Trending Intent = "trending"
	Detail   Intent = "detail"
	Unknown  Intent = "unknown"
)

var (
	priceRE = regexp.MustCompile(`(?i)(?:price|worth|value|rate)\s+of\s+([\w\-]+)`)
	topRE   = regexp.MustCompile(`(?i)(?:top|best)\s+(\d{1,3})?\s*(?:coins|cryptos?)`)
	worstRE = regexp.MustCompile(`(?i)(?:worst|losers?)\s+(\d{1,3})?\s*(?:coins|cryptos?)`)
	trendRE = regexp.MustCompile(`(?i)(?:trending|hot)\s+(\d{1,3})?\s*(?:coins|cryptos?)`)
)

// Classify maps text to exactly one intent. The check order is load-bearing:
// news/headline keywords precede the price pattern, which precedes the ranked
// list patterns, which precede the generic detail keywords.
func Classify(text string) Intent {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "news") || strings.Contains(t, "headline"):
		return News
	case priceRE.MatchString(t):
		return Price
	case topRE.MatchString(t):
		return Top
	case worstRE.MatchString(t):
		return Worst
	case trendRE.MatchString(t):
		return Trending
	case strings.Contains(t, "detail") || strings.Contains(t, "info"):
		return Detail
	default:
		return Unknown
	}
}

// CoinFromPrice extracts the coin token following a price phrase, lowercased.
// Returns "" when the text carries no price phrase.
func CoinFromPrice(text string) string {
	m := priceRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// Count extracts the requested list size following a top/worst/trending
// phrase, clamped to [1, 50]. Absent or non-numeric counts yield def.
func Count(text string, def int) int {
	for _, rx := range []*regexp.Regexp{topRE, worstRE, trendRE} {
		m := rx.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if m[1] == "" {
			return def
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return def
		}
		if n < 1 {
			n = 1
		}
		if n > 50 {
			n = 50
		}
		return n
	}
	return def
}
