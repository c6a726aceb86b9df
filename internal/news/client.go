// Package news fetches crypto headlines: a JSON conversion API first, then a
// direct RSS fetch parsed locally when the conversion service is down.
package news

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"sage/internal/httpclient"
	"sage/internal/logging"
)

// ErrUnavailable reports that no headline source could be reached.
var ErrUnavailable = errors.New("headlines unavailable")

const responseLimit = 4 << 20

// Client resolves headlines for one feed.
type Client struct {
	feedURL     string
	rss2jsonURL string
	http        *http.Client
	parser      *gofeed.Parser
	logger      logging.Logger
}

// New builds a Client for feedURL, converting through rss2jsonURL when
// possible.
func New(feedURL, rss2jsonURL string, timeout time.Duration, logger logging.Logger) *Client {
	logger = logging.OrNop(logger)
	return &Client{
		feedURL:     feedURL,
		rss2jsonURL: rss2jsonURL,
		http:        httpclient.New(timeout, logger),
		parser:      gofeed.NewParser(),
		logger:      logger,
	}
}

// Headlines returns up to limit titles, newest first as published by the
// feed. Both sources failing yields ErrUnavailable.
func (c *Client) Headlines(ctx context.Context, limit int) ([]string, error) {
	if titles, err := c.viaRSS2JSON(ctx, limit); err == nil {
		return titles, nil
	} else {
		c.logger.Debug("news: rss2json path failed: %v", err)
	}
	if titles, err := c.viaFeed(ctx, limit); err == nil {
		return titles, nil
	} else {
		c.logger.Debug("news: direct feed path failed: %v", err)
	}
	return nil, ErrUnavailable
}

func (c *Client) viaRSS2JSON(ctx context.Context, limit int) ([]string, error) {
	query := url.Values{}
	query.Set("rss_url", c.feedURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rss2jsonURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}

	var payload struct {
		Items    []struct{ Title string `json:"title"` } `json:"items"`
		Articles []struct{ Title string `json:"title"` } `json:"articles"`
	}
	if err := httpclient.DecodeJSON(resp.Body, responseLimit, &payload); err != nil {
		return nil, err
	}

	var titles []string
	for _, item := range payload.Items {
		titles = appendTitle(titles, item.Title, limit)
	}
	if len(titles) == 0 {
		for _, article := range payload.Articles {
			titles = appendTitle(titles, article.Title, limit)
		}
	}
	if len(titles) == 0 {
		return nil, ErrUnavailable
	}
	return titles, nil
}

// viaFeed fetches the feed body itself (following redirects) and parses it
// locally.
func (c *Client) viaFeed(ctx context.Context, limit int) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}

	feed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	var titles []string
	for _, item := range feed.Items {
		titles = appendTitle(titles, item.Title, limit)
	}
	if len(titles) == 0 {
		return nil, ErrUnavailable
	}
	return titles, nil
}

func appendTitle(titles []string, title string, limit int) []string {
	if len(titles) >= limit {
		return titles
	}
	if t := strings.TrimSpace(title); t != "" {
		titles = append(titles, t)
	}
	return titles
}
