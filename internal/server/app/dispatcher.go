// Package app holds the intent dispatcher: the single-pass pipeline from a
// normalized request to a response envelope. Every collaborator failure is
// isolated to its branch and downgraded; no error from here reaches the
// transport layer.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"sage/internal/a2a"
	"sage/internal/ai"
	"sage/internal/cache"
	"sage/internal/identity"
	"sage/internal/intent"
	"sage/internal/logging"
	"sage/internal/market"
	"sage/internal/session"
)

// Apology texts returned when composition or a data source is down.
const (
	composeApology   = "Sorry, I couldn’t process that just now."
	headlinesApology = "⚠️ Couldn’t fetch headlines right now."
)

const (
	mergedHistoryCap = 30
	defaultListCount = 10
	headlineCount    = 5
)

// MarketData is the slice of the market client the dispatcher consumes.
type MarketData interface {
	Price(ctx context.Context, coinID, vs string) (float64, error)
	Markets(ctx context.Context, limit int) ([]market.Coin, error)
	Trending(ctx context.Context) ([]market.TrendingCoin, error)
	Detail(ctx context.Context, coinID string) (*market.Detail, error)
}

// HeadlineSource fetches news titles.
type HeadlineSource interface {
	Headlines(ctx context.Context, limit int) ([]string, error)
}

// CoinResolver maps free-form tokens to canonical coin ids.
type CoinResolver interface {
	Resolve(ctx context.Context, token string) (string, bool)
}

// Dispatcher routes one normalized request through classification, data
// fetch, composition and persistence.
type Dispatcher struct {
	sessions *session.Store
	cache    *cache.Store
	market   MarketData
	news     HeadlineSource
	resolver CoinResolver
	composer ai.Composer
	shortTTL time.Duration
	logger   logging.Logger
}

// New wires a Dispatcher from its collaborators.
func New(
	sessions *session.Store,
	store *cache.Store,
	marketData MarketData,
	headlines HeadlineSource,
	resolver CoinResolver,
	composer ai.Composer,
	shortTTL time.Duration,
	logger logging.Logger,
) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		cache:    store,
		market:   marketData,
		news:     headlines,
		resolver: resolver,
		composer: composer,
		shortTTL: shortTTL,
		logger:   logging.OrNop(logger),
	}
}

// Request is a normalized invoke, whichever envelope it arrived in.
type Request struct {
	ID              json.RawMessage
	Text            string
	Identity        identity.Params
	Headers         http.Header
	DeploymentLabel string
	Temperature     float64
	InlineHistory   []string
}

// Handle runs the pipeline and always returns a well-formed envelope.
func (d *Dispatcher) Handle(ctx context.Context, req Request) a2a.Response {
	sessionID := identity.Derive(req.Identity, req.Headers)
	history := d.mergedHistory(ctx, sessionID, req.InlineHistory)

	label := intent.Classify(req.Text)
	d.logger.Info("invoke sid=%s intent=%s text=%q", sessionID, label, req.Text)

	switch label {
	case intent.Price:
		return d.handlePrice(ctx, req, sessionID, history)
	case intent.News:
		return d.handleNews(ctx, req, sessionID, history)
	case intent.Top, intent.Worst:
		return d.handleRanked(ctx, req, sessionID, history, label)
	case intent.Trending:
		return d.handleTrending(ctx, req, sessionID, history)
	case intent.Detail:
		return d.handleDetail(ctx, req, sessionID, history)
	default:
		return d.handleUnknown(ctx, req, sessionID, history)
	}
}

// mergedHistory reads stored turns and prepends inline history (as user-only
// turns) when the provider supplied any, capped to the most recent turns.
func (d *Dispatcher) mergedHistory(ctx context.Context, sessionID string, inline []string) []session.Turn {
	stored := d.sessions.History(ctx, sessionID)
	if len(inline) == 0 {
		return stored
	}
	merged := make([]session.Turn, 0, len(inline)+len(stored))
	for _, text := range inline {
		merged = append(merged, session.Turn{User: text})
	}
	merged = append(merged, stored...)
	if len(merged) > mergedHistoryCap {
		merged = merged[len(merged)-mergedHistoryCap:]
	}
	return merged
}

func (d *Dispatcher) handlePrice(ctx context.Context, req Request, sessionID string, history []session.Turn) a2a.Response {
	token := intent.CoinFromPrice(req.Text)
	coin, resolved := "", false
	if token != "" {
		coin, resolved = d.resolver.Resolve(ctx, token)
	}
	if !resolved {
		content := d.compose(ctx, ai.Request{
			UserText:    "User asked for a price but provided no recognized coin. Ask them to specify it clearly.",
			History:     history,
			Facts:       map[string]any{"deployment_label": req.DeploymentLabel},
			Temperature: req.Temperature,
		})
		return d.finish(ctx, req, sessionID, content)
	}

	cacheKey := fmt.Sprintf("price:%s:usd", coin)
	var price float64
	if !d.cache.GetJSON(ctx, cacheKey, &price) {
		fetched, err := d.market.Price(ctx, coin, "usd")
		if errors.Is(err, market.ErrNotFound) {
			return a2a.NewError(req.ID, a2a.CodeNotFound, "Coin not found.")
		}
		if err != nil {
			d.logger.Error("price fetch for %s failed: %v", coin, err)
			content := d.compose(ctx, ai.Request{
				UserText:    fmt.Sprintf("User asked for price of %s but live price could not be fetched. Apologize briefly and ask to try again.", coin),
				History:     history,
				Facts:       map[string]any{"deployment_label": req.DeploymentLabel, "intent": "price", "coin": coin},
				Temperature: req.Temperature,
			})
			return d.finish(ctx, req, sessionID, content)
		}
		price = fetched
		d.cache.SetJSON(ctx, cacheKey, price, d.shortTTL)
	}

	content := d.compose(ctx, ai.Request{
		UserText: req.Text,
		History:  history,
		Facts: map[string]any{
			"deployment_label": req.DeploymentLabel,
			"intent":           "price",
			"coin":             coin,
			"price_usd":        price,
			"data_source":      "CoinGecko",
		},
		Temperature: req.Temperature,
	})
	return d.finish(ctx, req, sessionID, content)
}

func (d *Dispatcher) handleNews(ctx context.Context, req Request, sessionID string, history []session.Turn) a2a.Response {
	cacheKey := fmt.Sprintf("news:coindesk:%d", headlineCount)
	var headlines []string
	if !d.cache.GetJSON(ctx, cacheKey, &headlines) || len(headlines) == 0 {
		fetched, err := d.news.Headlines(ctx, headlineCount)
		if err != nil || len(fetched) == 0 {
			if err != nil {
				d.logger.Error("headline fetch failed: %v", err)
			}
			return d.finish(ctx, req, sessionID, headlinesApology)
		}
		headlines = fetched
		d.cache.SetJSON(ctx, cacheKey, headlines, d.shortTTL)
	}

	content := d.compose(ctx, ai.Request{
		UserText: "Summarize these headlines for the user.",
		History:  history,
		Facts: map[string]any{
			"deployment_label": req.DeploymentLabel,
			"intent":           "market_news",
			"headlines":        strings.Join(headlines, "; "),
			"data_source":      "CoinDesk RSS",
		},
		Temperature: req.Temperature,
	})
	return d.finish(ctx, req, sessionID, content)
}

// RankedCoin is one entry of the ranked list fact handed to composition.
type RankedCoin struct {
	Rank      int      `json:"rank"`
	Name      string   `json:"name"`
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price"`
	Change24h *float64 `json:"change_24h"`
	MarketCap *float64 `json:"market_cap"`
}

func (d *Dispatcher) handleRanked(ctx context.Context, req Request, sessionID string, history []session.Turn, label intent.Intent) a2a.Response {
	n := intent.Count(req.Text, defaultListCount)

	title := fmt.Sprintf("Top %d coins by market cap", n)
	if label == intent.Worst {
		title = fmt.Sprintf("Worst %d coins (24h)", n)
	}

	cacheKey := fmt.Sprintf("markets:top:%d", n)
	var coins []market.Coin
	if !d.cache.GetJSON(ctx, cacheKey, &coins) {
		fetched, err := d.market.Markets(ctx, n)
		if err != nil {
			d.logger.Error("markets fetch failed: %v", err)
			return d.finish(ctx, req, sessionID, markdownCoinList(title, nil))
		}
		coins = fetched
		d.cache.SetJSON(ctx, cacheKey, coins, d.shortTTL)
	}

	if label == intent.Worst {
		coins = worstFirst(coins, n)
	}

	items := make([]RankedCoin, 0, len(coins))
	for i, c := range coins {
		items = append(items, RankedCoin{
			Rank:      i + 1,
			Name:      c.Name,
			Symbol:    strings.ToUpper(c.Symbol),
			Price:     c.CurrentPrice,
			Change24h: c.Change24h,
			MarketCap: c.MarketCap,
		})
	}

	content, err := d.composer.Compose(ctx, ai.Request{
		UserText: req.Text,
		History:  history,
		Facts: map[string]any{
			"deployment_label": req.DeploymentLabel,
			"intent":           string(label),
			"count":            n,
			"list":             items,
			"data_source":      "CoinGecko",
		},
		Temperature: req.Temperature,
	})
	if err != nil || strings.TrimSpace(content) == "" {
		if err != nil {
			d.logger.Error("compose failed, using markdown fallback: %v", err)
		}
		content = markdownCoinList(title, coins)
	}
	return d.finish(ctx, req, sessionID, content)
}

func (d *Dispatcher) handleTrending(ctx context.Context, req Request, sessionID string, history []session.Turn) a2a.Response {
	var coins []market.TrendingCoin
	if !d.cache.GetJSON(ctx, "trending", &coins) {
		fetched, err := d.market.Trending(ctx)
		if err != nil {
			d.logger.Error("trending fetch failed: %v", err)
			return d.finish(ctx, req, sessionID, markdownTrending(nil))
		}
		coins = fetched
		d.cache.SetJSON(ctx, "trending", coins, d.shortTTL)
	}

	type trendingItem struct {
		Rank          int    `json:"rank"`
		Name          string `json:"name"`
		Symbol        string `json:"symbol"`
		MarketCapRank *int   `json:"market_cap_rank"`
	}
	items := make([]trendingItem, 0, len(coins))
	for i, c := range coins {
		items = append(items, trendingItem{
			Rank:          i + 1,
			Name:          c.Name,
			Symbol:        strings.ToUpper(c.Symbol),
			MarketCapRank: c.MarketCapRank,
		})
	}

	content, err := d.composer.Compose(ctx, ai.Request{
		UserText: req.Text,
		History:  history,
		Facts: map[string]any{
			"deployment_label": req.DeploymentLabel,
			"intent":           "trending",
			"list":             items,
			"data_source":      "CoinGecko",
		},
		Temperature: req.Temperature,
	})
	if err != nil || strings.TrimSpace(content) == "" {
		if err != nil {
			d.logger.Error("compose failed, using markdown fallback: %v", err)
		}
		content = markdownTrending(coins)
	}
	return d.finish(ctx, req, sessionID, content)
}

func (d *Dispatcher) handleDetail(ctx context.Context, req Request, sessionID string, history []session.Turn) a2a.Response {
	fields := strings.Fields(req.Text)
	maybe := ""
	if len(fields) > 0 {
		maybe = strings.ToLower(fields[len(fields)-1])
	}
	coin, ok := d.resolver.Resolve(ctx, maybe)
	if !ok {
		coin = maybe
	}

	detail, err := d.market.Detail(ctx, coin)
	if err != nil || detail == nil {
		if err != nil && !errors.Is(err, market.ErrNotFound) {
			d.logger.Error("detail fetch for %s failed: %v", coin, err)
		}
		return a2a.NewError(req.ID, a2a.CodeNotFound, "Coin not found.")
	}

	facts := map[string]any{
		"deployment_label": req.DeploymentLabel,
		"intent":           "detail",
		"name":             detail.Name,
		"symbol":           detail.Symbol,
		"data_source":      "CoinGecko",
	}
	if detail.Price != nil {
		facts["price"] = *detail.Price
	}
	if detail.MarketCap != nil {
		facts["market_cap"] = *detail.MarketCap
	}
	if detail.Volume24h != nil {
		facts["volume_24h"] = *detail.Volume24h
	}
	if detail.Change24h != nil {
		facts["change_24h"] = *detail.Change24h
	}

	content := d.compose(ctx, ai.Request{
		UserText:    req.Text,
		History:     history,
		Facts:       facts,
		Temperature: req.Temperature,
	})
	return d.finish(ctx, req, sessionID, content)
}

func (d *Dispatcher) handleUnknown(ctx context.Context, req Request, sessionID string, history []session.Turn) a2a.Response {
	content := d.compose(ctx, ai.Request{
		UserText:    req.Text,
		History:     history,
		Facts:       map[string]any{"deployment_label": req.DeploymentLabel},
		Temperature: req.Temperature,
		MaxTokens:   220,
	})
	return d.finish(ctx, req, sessionID, content)
}

// compose invokes the composer, substituting the fixed apology when it fails.
func (d *Dispatcher) compose(ctx context.Context, req ai.Request) string {
	content, err := d.composer.Compose(ctx, req)
	if err != nil {
		d.logger.Error("compose failed: %v", err)
		return composeApology
	}
	if strings.TrimSpace(content) == "" {
		return composeApology
	}
	return content
}

// finish persists the turn and wraps the content in a success envelope. The
// append runs on every branch that produced text, fallback content included.
func (d *Dispatcher) finish(ctx context.Context, req Request, sessionID, content string) a2a.Response {
	d.sessions.Append(ctx, sessionID, req.Text, content)
	return a2a.NewResult(req.ID, content)
}

// worstFirst re-sorts ascending by 24h change and keeps the first n. Coins
// without a change figure sort as zero.
func worstFirst(coins []market.Coin, n int) []market.Coin {
	sorted := make([]market.Coin, len(coins))
	copy(sorted, coins)
	change := func(c market.Coin) float64 {
		if c.Change24h == nil {
			return 0
		}
		return *c.Change24h
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return change(sorted[i]) < change(sorted[j])
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
