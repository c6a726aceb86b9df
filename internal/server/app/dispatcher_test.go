package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/a2a"
	"sage/internal/ai"
	"sage/internal/cache"
	"sage/internal/market"
	"sage/internal/session"
)

type stubMarket struct {
	price    float64
	priceErr error
	markets  []market.Coin
	marketsErr error
	trending []market.TrendingCoin
	detail   *market.Detail
	detailErr error
}

func (s *stubMarket) Price(ctx context.Context, coinID, vs string) (float64, error) {
	return s.price, s.priceErr
}

func (s *stubMarket) Markets(ctx context.Context, limit int) ([]market.Coin, error) {
	if s.marketsErr != nil {
		return nil, s.marketsErr
	}
	if len(s.markets) > limit {
		return s.markets[:limit], nil
	}
	return s.markets, nil
}

func (s *stubMarket) Trending(ctx context.Context) ([]market.TrendingCoin, error) {
	return s.trending, nil
}

func (s *stubMarket) Detail(ctx context.Context, coinID string) (*market.Detail, error) {
	return s.detail, s.detailErr
}

type stubNews struct {
	headlines []string
	err       error
}

func (s *stubNews) Headlines(ctx context.Context, limit int) ([]string, error) {
	return s.headlines, s.err
}

type stubResolver struct {
	table map[string]string
}

func (s *stubResolver) Resolve(ctx context.Context, token string) (string, bool) {
	id, ok := s.table[token]
	return id, ok
}

type stubComposer struct {
	reply    string
	err      error
	requests []ai.Request
}

func (s *stubComposer) Compose(ctx context.Context, req ai.Request) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if s.reply != "" {
		return s.reply, nil
	}
	return "composed reply", nil
}

type fixture struct {
	dispatcher *Dispatcher
	market     *stubMarket
	news       *stubNews
	composer   *stubComposer
}

func newFixture(m *stubMarket, n *stubNews, c *stubComposer, table map[string]string) *fixture {
	if table == nil {
		table = map[string]string{}
	}
	return &fixture{
		dispatcher: New(
			session.New(nil, 0, nil),
			cache.New(nil, nil),
			m, n,
			&stubResolver{table: table},
			c,
			5*time.Minute,
			nil,
		),
		market:   m,
		news:     n,
		composer: c,
	}
}

func request(text string) Request {
	return Request{
		ID:              json.RawMessage(`1`),
		Text:            text,
		DeploymentLabel: "Test Deploy",
		Temperature:     0.7,
	}
}

func TestPriceHappyPath(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{price: 67000.5}, &stubNews{}, composer, map[string]string{"bitcoin": "bitcoin"})

	resp := f.dispatcher.Handle(context.Background(), request("price of bitcoin"))
	require.NotNil(t, resp.Result)
	assert.Equal(t, "composed reply", resp.Result.Content)
	assert.Equal(t, json.RawMessage(`1`), resp.ID)

	require.Len(t, composer.requests, 1)
	facts := composer.requests[0].Facts
	assert.Equal(t, "bitcoin", facts["coin"])
	assert.InDelta(t, 67000.5, facts["price_usd"].(float64), 1e-9)
}

func TestPriceUnresolvedCoinAsksForClarification(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{}, &stubNews{}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("price of wat"))
	require.NotNil(t, resp.Result)

	require.Len(t, composer.requests, 1)
	assert.NotContains(t, composer.requests[0].Facts, "coin", "clarification carries no intent facts")
}

func TestPriceNotFoundReturnsEnvelopeError(t *testing.T) {
	f := newFixture(&stubMarket{priceErr: market.ErrNotFound}, &stubNews{}, &stubComposer{}, map[string]string{"ghost": "ghostcoin"})

	resp := f.dispatcher.Handle(context.Background(), request("price of ghost"))
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeNotFound, resp.Error.Code)
	assert.Nil(t, resp.Result)
}

func TestPriceFetchFailureComposesApologetically(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{priceErr: errors.New("boom")}, &stubNews{}, composer, map[string]string{"bitcoin": "bitcoin"})

	resp := f.dispatcher.Handle(context.Background(), request("price of bitcoin"))
	require.NotNil(t, resp.Result)

	require.Len(t, composer.requests, 1)
	assert.Equal(t, "price", composer.requests[0].Facts["intent"])
	assert.Equal(t, "bitcoin", composer.requests[0].Facts["coin"])
	assert.NotContains(t, composer.requests[0].Facts, "price_usd")
}

func TestPriceUsesCachedValue(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{priceErr: errors.New("must not be called")}, &stubNews{}, composer, map[string]string{"bitcoin": "bitcoin"})

	f.dispatcher.cache.SetJSON(context.Background(), "price:bitcoin:usd", 42.0, time.Minute)

	resp := f.dispatcher.Handle(context.Background(), request("price of bitcoin"))
	require.NotNil(t, resp.Result)
	require.Len(t, composer.requests, 1)
	assert.InDelta(t, 42.0, composer.requests[0].Facts["price_usd"].(float64), 1e-9)
}

func TestNewsUnavailableReturnsFixedApology(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{}, &stubNews{err: errors.New("down")}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("any crypto news?"))
	require.NotNil(t, resp.Result)
	assert.Equal(t, headlinesApology, resp.Result.Content)
	assert.Empty(t, composer.requests, "no model call when headlines are empty")
}

func TestNewsComposesSummary(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{}, &stubNews{headlines: []string{"H1", "H2"}}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("crypto news"))
	require.NotNil(t, resp.Result)
	require.Len(t, composer.requests, 1)
	assert.Equal(t, "H1; H2", composer.requests[0].Facts["headlines"])
	assert.Equal(t, "market_news", composer.requests[0].Facts["intent"])
}

func coinRow(id, symbol, name string, price, change float64) market.Coin {
	return market.Coin{ID: id, Symbol: symbol, Name: name, CurrentPrice: &price, Change24h: &change}
}

func TestTopListRanksFetchedOrder(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{markets: []market.Coin{
		coinRow("a", "aaa", "Alpha", 10, 1),
		coinRow("b", "bbb", "Beta", 9, 2),
		coinRow("c", "ccc", "Gamma", 8, 3),
		coinRow("d", "ddd", "Delta", 7, 4),
		coinRow("e", "eee", "Epsilon", 6, 5),
	}}, &stubNews{}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("top 3 coins"))
	require.NotNil(t, resp.Result)

	require.Len(t, composer.requests, 1)
	items := composer.requests[0].Facts["list"].([]RankedCoin)
	require.Len(t, items, 3)
	assert.Equal(t, 1, items[0].Rank)
	assert.Equal(t, "Alpha", items[0].Name)
	assert.Equal(t, 3, items[2].Rank)
	assert.Equal(t, "Gamma", items[2].Name)
	assert.Equal(t, 3, composer.requests[0].Facts["count"])
}

func TestWorstResortsAscendingByChange(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{markets: []market.Coin{
		coinRow("a", "aaa", "Alpha", 10, 5),
		coinRow("b", "bbb", "Beta", 9, -8),
		coinRow("c", "ccc", "Gamma", 8, 1),
	}}, &stubNews{}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("worst 2 coins"))
	require.NotNil(t, resp.Result)

	items := composer.requests[0].Facts["list"].([]RankedCoin)
	require.Len(t, items, 2)
	assert.Equal(t, "Beta", items[0].Name)
	assert.Equal(t, "Alpha", items[1].Name)
}

func TestTopComposeFailureFallsBackToMarkdown(t *testing.T) {
	composer := &stubComposer{err: errors.New("model down")}
	f := newFixture(&stubMarket{markets: []market.Coin{
		coinRow("bitcoin", "btc", "Bitcoin", 67000.5, 1.25),
	}}, &stubNews{}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("top 1 coins"))
	require.NotNil(t, resp.Result)
	assert.Contains(t, resp.Result.Content, "**Top 1 coins by market cap**")
	assert.Contains(t, resp.Result.Content, "1. **Bitcoin (BTC)** — $67,000.50 (+1.25%)")
	assert.Contains(t, resp.Result.Content, disclaimer)
}

func TestTrendingComposeFailureFallsBackToMarkdown(t *testing.T) {
	composer := &stubComposer{err: errors.New("model down")}
	f := newFixture(&stubMarket{trending: []market.TrendingCoin{
		{ID: "pepe", Name: "Pepe", Symbol: "pepe"},
	}}, &stubNews{}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("trending coins"))
	require.NotNil(t, resp.Result)
	assert.Contains(t, resp.Result.Content, "**Trending coins**")
	assert.Contains(t, resp.Result.Content, "1. Pepe (PEPE)")
}

func TestDetailNotFound(t *testing.T) {
	f := newFixture(&stubMarket{detailErr: market.ErrNotFound}, &stubNews{}, &stubComposer{}, nil)

	resp := f.dispatcher.Handle(context.Background(), request("details on ghostcoin"))
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeNotFound, resp.Error.Code)
}

func TestDetailComposesFullFactSheet(t *testing.T) {
	price, cap, vol, chg := 67000.5, 1.3e12, 3.5e10, 1.8
	composer := &stubComposer{}
	f := newFixture(&stubMarket{detail: &market.Detail{
		ID: "bitcoin", Name: "Bitcoin", Symbol: "BTC",
		Price: &price, MarketCap: &cap, Volume24h: &vol, Change24h: &chg,
	}}, &stubNews{}, composer, map[string]string{"btc": "bitcoin"})

	resp := f.dispatcher.Handle(context.Background(), request("details on btc"))
	require.NotNil(t, resp.Result)

	facts := composer.requests[0].Facts
	assert.Equal(t, "Bitcoin", facts["name"])
	assert.Equal(t, "BTC", facts["symbol"])
	assert.InDelta(t, 67000.5, facts["price"].(float64), 1e-9)
}

func TestUnknownIntentUsesFallbackComposer(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{}, &stubNews{}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("tell me a joke"))
	require.NotNil(t, resp.Result)
	require.Len(t, composer.requests, 1)
	assert.Equal(t, 220, composer.requests[0].MaxTokens)
}

func TestComposeFailureReturnsApology(t *testing.T) {
	composer := &stubComposer{err: errors.New("model down")}
	f := newFixture(&stubMarket{}, &stubNews{}, composer, nil)

	resp := f.dispatcher.Handle(context.Background(), request("tell me a joke"))
	require.NotNil(t, resp.Result)
	assert.Equal(t, composeApology, resp.Result.Content)
}

func TestInlineHistoryIsMergedAndCapped(t *testing.T) {
	composer := &stubComposer{}
	f := newFixture(&stubMarket{}, &stubNews{}, composer, nil)

	inline := make([]string, 35)
	for i := range inline {
		inline[i] = "earlier message"
	}
	req := request("tell me a joke")
	req.InlineHistory = inline

	resp := f.dispatcher.Handle(context.Background(), req)
	require.NotNil(t, resp.Result)
	require.Len(t, composer.requests, 1)
	assert.Len(t, composer.requests[0].History, 30)
	assert.Equal(t, "earlier message", composer.requests[0].History[0].User)
	assert.Empty(t, composer.requests[0].History[0].Assistant, "inline history merges as user-only turns")
}
