// Package aliases maps user-supplied coin tokens ("BTC", "Bitcoin") to
// canonical CoinGecko ids via a cached, wholesale-rebuilt lookup table.
package aliases

import (
	"context"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"

	"sage/internal/cache"
	"sage/internal/logging"
	"sage/internal/market"
)

const cacheKey = "coin_aliases:v1"

// Source provides the two coin listings the table is built from.
type Source interface {
	Markets(ctx context.Context, limit int) ([]market.Coin, error)
	Listings(ctx context.Context) ([]market.Listing, error)
}

// Resolver looks up canonical coin ids. Safe for concurrent use; at most one
// table rebuild is in flight at a time, and concurrent callers share its
// result.
type Resolver struct {
	cache  *cache.Store
	source Source
	ttl    time.Duration
	logger logging.Logger
	group  singleflight.Group
}

// New builds a Resolver caching the table for ttl.
func New(store *cache.Store, source Source, ttl time.Duration, logger logging.Logger) *Resolver {
	return &Resolver{
		cache:  store,
		source: source,
		ttl:    ttl,
		logger: logging.OrNop(logger),
	}
}

// Resolve maps token to a canonical coin id. The lookup is case-insensitive;
// on a miss a punctuation-stripped variant is tried once. Unknown tokens
// report ok=false, never an error.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(token))
	if key == "" {
		return "", false
	}
	table := r.table(ctx)
	if id, ok := table[key]; ok {
		return id, true
	}
	stripped := stripNonAlnum(key)
	if stripped != key && stripped != "" {
		if id, ok := table[stripped]; ok {
			return id, true
		}
	}
	return "", false
}

// Warm populates the table cache ahead of traffic. Non-fatal on failure.
func (r *Resolver) Warm(ctx context.Context) {
	if table := r.table(ctx); len(table) == 0 {
		r.logger.Warn("aliases: warm-up produced an empty table")
	}
}

// table returns the alias table, rebuilding through singleflight on a cache
// miss. Callers joining an in-flight rebuild reuse its result; the flight
// itself rechecks the cache before fetching.
func (r *Resolver) table(ctx context.Context) map[string]string {
	var cached map[string]string
	if r.cache.GetJSON(ctx, cacheKey, &cached) && len(cached) > 0 {
		return cached
	}

	result, _, _ := r.group.Do(cacheKey, func() (any, error) {
		var again map[string]string
		if r.cache.GetJSON(ctx, cacheKey, &again) && len(again) > 0 {
			return again, nil
		}
		table := r.build(ctx)
		if len(table) > 0 {
			r.cache.SetJSON(ctx, cacheKey, table, r.ttl)
		}
		return table, nil
	})

	table, _ := result.(map[string]string)
	return table
}

// build fetches the market listing and the full coin index, mapping each
// coin's lowercase symbol and name to its id. Earlier entries win when
// symbols or names collide across coins.
func (r *Resolver) build(ctx context.Context) map[string]string {
	table := make(map[string]string)

	coins, err := r.source.Markets(ctx, 250)
	if err != nil {
		r.logger.Error("aliases: markets fetch failed: %v", err)
	}
	for _, c := range coins {
		addAlias(table, c.Symbol, c.ID)
		addAlias(table, c.Name, c.ID)
	}

	listings, err := r.source.Listings(ctx)
	if err != nil {
		r.logger.Error("aliases: listings fetch failed: %v", err)
	}
	for _, l := range listings {
		addAlias(table, l.Symbol, l.ID)
		addAlias(table, l.Name, l.ID)
	}

	r.logger.Info("aliases: built %d entries", len(table))
	return table
}

func addAlias(table map[string]string, alias, id string) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	id = strings.ToLower(strings.TrimSpace(id))
	if alias == "" || id == "" {
		return
	}
	if _, exists := table[alias]; !exists {
		table[alias] = id
	}
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
