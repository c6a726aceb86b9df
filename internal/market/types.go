package market

// Coin is one row of the /coins/markets listing.
type Coin struct {
	ID            string   `json:"id"`
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	CurrentPrice  *float64 `json:"current_price"`
	Change24h     *float64 `json:"price_change_percentage_24h"`
	MarketCap     *float64 `json:"market_cap"`
	MarketCapRank *int     `json:"market_cap_rank"`
}

// TrendingCoin is the normalized minimal shape of a /search/trending entry.
type TrendingCoin struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Score         *int   `json:"score"`
	MarketCapRank *int   `json:"market_cap_rank"`
}

// Detail is the normalized single-coin detail shape.
type Detail struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price"`
	MarketCap *float64 `json:"market_cap"`
	Volume24h *float64 `json:"volume_24h"`
	Change24h *float64 `json:"change_24h"`
}

// Listing is one row of the full /coins/list index.
type Listing struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}
