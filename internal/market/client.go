// Package market fetches market data from the CoinGecko public API and
// normalizes responses into the internal shapes the dispatcher consumes.
package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sage/internal/httpclient"
	"sage/internal/logging"
)

// ErrNotFound reports that the requested coin does not exist upstream.
var ErrNotFound = errors.New("coin not found")

const responseLimit = 8 << 20

// The free CoinGecko tier throttles around 30 calls/minute.
const (
	defaultRPS   = 0.5
	defaultBurst = 5
)

// Client talks to one CoinGecko deployment.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logging.Logger
}

// New builds a Client against baseURL (no trailing slash) with a per-request
// timeout.
func New(baseURL string, timeout time.Duration, logger logging.Logger) *Client {
	logger = logging.OrNop(logger)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.NewRateLimited(timeout, logger, defaultRPS, defaultBurst),
		logger:  logger,
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("coingecko: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko: %s returned status %d", path, resp.StatusCode)
	}
	return httpclient.DecodeJSON(resp.Body, responseLimit, dest)
}

// Price returns the spot price of coinID in the vs currency, or ErrNotFound
// when the API does not know the coin.
func (c *Client) Price(ctx context.Context, coinID, vs string) (float64, error) {
	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", vs)

	var payload map[string]map[string]float64
	if err := c.getJSON(ctx, "/simple/price", query, &payload); err != nil {
		return 0, err
	}
	price, ok := payload[coinID][vs]
	if !ok {
		return 0, ErrNotFound
	}
	return price, nil
}

// Markets returns the top coins by market cap, limited to limit rows.
func (c *Client) Markets(ctx context.Context, limit int) ([]Coin, error) {
	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("order", "market_cap_desc")
	query.Set("per_page", strconv.Itoa(limit))
	query.Set("page", "1")
	query.Set("sparkline", "false")
	query.Set("price_change_percentage", "24h")

	var coins []Coin
	if err := c.getJSON(ctx, "/coins/markets", query, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// Trending returns the currently trending coins in a normalized shape.
func (c *Client) Trending(ctx context.Context) ([]TrendingCoin, error) {
	var payload struct {
		Coins []struct {
			Item TrendingCoin `json:"item"`
		} `json:"coins"`
	}
	if err := c.getJSON(ctx, "/search/trending", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]TrendingCoin, 0, len(payload.Coins))
	for _, entry := range payload.Coins {
		out = append(out, entry.Item)
	}
	return out, nil
}

// Detail returns the normalized detail sheet for coinID, or ErrNotFound.
func (c *Client) Detail(ctx context.Context, coinID string) (*Detail, error) {
	query := url.Values{}
	query.Set("localization", "false")
	query.Set("tickers", "false")
	query.Set("community_data", "false")
	query.Set("developer_data", "false")
	query.Set("sparkline", "false")

	var payload struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Symbol     string `json:"symbol"`
		MarketData struct {
			CurrentPrice map[string]float64 `json:"current_price"`
			MarketCap    map[string]float64 `json:"market_cap"`
			TotalVolume  map[string]float64 `json:"total_volume"`
			Change24h    *float64           `json:"price_change_percentage_24h"`
		} `json:"market_data"`
	}
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(coinID), query, &payload); err != nil {
		return nil, err
	}

	detail := &Detail{
		ID:        payload.ID,
		Name:      payload.Name,
		Symbol:    strings.ToUpper(payload.Symbol),
		Change24h: payload.MarketData.Change24h,
	}
	if v, ok := payload.MarketData.CurrentPrice["usd"]; ok {
		detail.Price = &v
	}
	if v, ok := payload.MarketData.MarketCap["usd"]; ok {
		detail.MarketCap = &v
	}
	if v, ok := payload.MarketData.TotalVolume["usd"]; ok {
		detail.Volume24h = &v
	}
	return detail, nil
}

// Listings returns the full coin index used for alias-table rebuilds.
func (c *Client) Listings(ctx context.Context) ([]Listing, error) {
	var listings []Listing
	if err := c.getJSON(ctx, "/coins/list", nil, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}
