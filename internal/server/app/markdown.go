package app

import (
	"fmt"
	"strings"

	"sage/internal/market"
)

const disclaimer = "_This is not financial advice._"

// markdownCoinList renders the deterministic fallback used when composition
// is unavailable for ranked list requests.
func markdownCoinList(title string, coins []market.Coin) string {
	var lines []string
	for i, c := range coins {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		priceStr := "N/A"
		if c.CurrentPrice != nil {
			priceStr = "$" + formatAmount(*c.CurrentPrice)
		}
		chgStr := ""
		if c.Change24h != nil {
			chg := formatAmount(*c.Change24h)
			if !strings.HasPrefix(chg, "-") {
				chg = "+" + chg
			}
			chgStr = fmt.Sprintf(" (%s%%)", chg)
		}
		lines = append(lines, fmt.Sprintf("%d. **%s (%s)** — %s%s",
			i+1, name, strings.ToUpper(c.Symbol), priceStr, chgStr))
	}
	return fmt.Sprintf("**%s**\n\n%s\n\n%s", title, strings.Join(lines, "\n"), disclaimer)
}

// markdownTrending renders the deterministic fallback for trending requests,
// capped to ten entries.
func markdownTrending(coins []market.TrendingCoin) string {
	if len(coins) > 10 {
		coins = coins[:10]
	}
	var lines []string
	for i, c := range coins {
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, c.Name, strings.ToUpper(c.Symbol)))
	}
	return fmt.Sprintf("**Trending coins**\n\n%s\n\n%s", strings.Join(lines, "\n"), disclaimer)
}

// formatAmount renders a value with two decimals and thousands separators.
func formatAmount(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	dot := strings.IndexByte(s, '.')
	intPart, frac := s[:dot], s[dot:]
	if len(intPart) > 3 {
		var groups []string
		for len(intPart) > 3 {
			groups = append([]string{intPart[len(intPart)-3:]}, groups...)
			intPart = intPart[:len(intPart)-3]
		}
		groups = append([]string{intPart}, groups...)
		intPart = strings.Join(groups, ",")
	}
	return sign + intPart + frac
}
