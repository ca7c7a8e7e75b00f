// Package fetcher batches symbol lists into single REST calls and reconciles
// the results against the short-term cache. It never writes the quote store;
// pushing results into the store is the caller's responsibility, which keeps
// this component pure and testable.
package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quotesync/internal/cache"
	"github.com/aristath/quotesync/internal/domain"
)

// Cache key prefixes shared with the call sites that populate chart data.
const (
	KeyQuotePrefix     = "quote_"
	KeyChartSyncPrefix = "quote_synced_"
	KeyIntradayPrefix  = "chart_"
	KeyIntradaySuffix  = "_1D"
)

// Freshness windows. A chart the user is looking at outranks a REST batch for
// minutes; a plain cached quote only deduplicates near-simultaneous fetches.
const (
	chartSyncTTL = 2 * time.Minute
	chartTTL     = 5 * time.Minute
	quoteTTL     = 15 * time.Second
	fallbackTTL  = 24 * time.Hour // stale is better than blank on network failure
)

// QuoteClient is the REST surface the fetcher needs.
type QuoteClient interface {
	GetQuotes(ctx context.Context, symbols []string) ([]domain.Quote, error)
}

// Fetcher resolves bulk quote requests against the vendor and the cache.
type Fetcher struct {
	client QuoteClient
	cache  *cache.Cache
	log    zerolog.Logger
}

// New creates a bulk quote fetcher.
func New(client QuoteClient, c *cache.Cache, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		cache:  c,
		log:    log.With().Str("component", "fetcher").Logger(),
	}
}

// FetchQuotes issues one REST call covering all requested symbols and merges
// the results with cached data. Per-record priority: a chart-synced price, then
// the last point of a fresh intraday chart, then a recently cached quote, then
// the REST value. On any network or parse failure it degrades to whatever
// cached quotes exist for the requested symbols instead of failing the caller.
//
// The write-back stores the raw REST record, not the reconciled result.
// Caching a cache-served result would renew its timestamp on every call, and a
// caller polling faster than the quote TTL would then pin the first price
// forever; the raw record keeps staleness bounded by one poll interval.
func (f *Fetcher) FetchQuotes(ctx context.Context, symbols []string) []domain.Quote {
	normalized := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if s := domain.NormalizeSymbol(sym); s != "" {
			normalized = append(normalized, s)
		}
	}
	if len(normalized) == 0 {
		return nil
	}

	fetched, err := f.client.GetQuotes(ctx, normalized)
	if err != nil {
		f.log.Warn().Err(err).Int("symbols", len(normalized)).Msg("Bulk fetch failed, serving cached quotes")
		return f.cachedQuotes(normalized)
	}

	quotes := make([]domain.Quote, 0, len(fetched))
	for _, q := range fetched {
		resolved := f.reconcile(q)
		f.cache.Set(KeyQuotePrefix+q.Symbol, q)
		quotes = append(quotes, resolved)
	}
	return quotes
}

// reconcile overrides a freshly fetched quote with any more-authoritative
// cached price for the same symbol.
func (f *Fetcher) reconcile(q domain.Quote) domain.Quote {
	if price, ok := cache.GetAs[float64](f.cache, KeyChartSyncPrefix+q.Symbol, chartSyncTTL); ok && price > 0 {
		// The chart view the user is trusting already shows this price;
		// a REST batch must not flicker past it.
		q.Price = price
		return q
	}

	chartKey := KeyIntradayPrefix + q.Symbol + KeyIntradaySuffix
	if series, ok := cache.GetAs[[]domain.ChartPoint](f.cache, chartKey, chartTTL); ok && len(series) > 0 {
		if last := series[len(series)-1]; last.Price > 0 {
			q.Price = last.Price
			return q
		}
	}

	if cached, ok := cache.GetAs[domain.Quote](f.cache, KeyQuotePrefix+q.Symbol, quoteTTL); ok && cached.Valid() {
		return cached
	}

	return q
}

// cachedQuotes returns last-known quotes for the requested symbols, possibly a
// subset, possibly empty. Staleness is accepted here.
func (f *Fetcher) cachedQuotes(symbols []string) []domain.Quote {
	var quotes []domain.Quote
	for _, sym := range symbols {
		if cached, ok := cache.GetAs[domain.Quote](f.cache, KeyQuotePrefix+sym, fallbackTTL); ok && cached.Valid() {
			quotes = append(quotes, cached)
		}
	}
	return quotes
}
