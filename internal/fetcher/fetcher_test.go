package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quotesync/internal/cache"
	"github.com/aristath/quotesync/internal/domain"
)

type fakeClient struct {
	quotes []domain.Quote
	err    error
	calls  int
}

func (f *fakeClient) GetQuotes(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

func testFetcher(client QuoteClient) (*Fetcher, *cache.Cache) {
	c := cache.New()
	return New(client, c, zerolog.New(nil).Level(zerolog.Disabled)), c
}

func TestFetchQuotesReturnsRESTValues(t *testing.T) {
	client := &fakeClient{quotes: []domain.Quote{
		{Symbol: "AAPL", Price: 190.12},
		{Symbol: "MSFT", Price: 420.55},
	}}
	f, c := testFetcher(client)

	quotes := f.FetchQuotes(context.Background(), []string{"aapl", "msft"})

	require.Len(t, quotes, 2)
	assert.Equal(t, 190.12, quotes[0].Price)

	// Fresh results are cached for fallback and deduplication.
	cached, ok := cache.GetAs[domain.Quote](c, "quote_AAPL", time.Minute)
	require.True(t, ok)
	assert.Equal(t, 190.12, cached.Price)
}

func TestFetchQuotesPrefersChartSyncedPrice(t *testing.T) {
	client := &fakeClient{quotes: []domain.Quote{{Symbol: "AAPL", Price: 190.12}}}
	f, c := testFetcher(client)

	c.Set("quote_synced_AAPL", 191.5)

	quotes := f.FetchQuotes(context.Background(), []string{"AAPL"})
	require.Len(t, quotes, 1)
	assert.Equal(t, 191.5, quotes[0].Price)
}

func TestFetchQuotesPrefersIntradayChartLastPoint(t *testing.T) {
	client := &fakeClient{quotes: []domain.Quote{{Symbol: "AAPL", Price: 190.12}}}
	f, c := testFetcher(client)

	c.Set("chart_AAPL_1D", []domain.ChartPoint{
		{Timestamp: time.Now().Add(-time.Minute), Price: 189.9},
		{Timestamp: time.Now(), Price: 190.4},
	})

	quotes := f.FetchQuotes(context.Background(), []string{"AAPL"})
	require.Len(t, quotes, 1)
	assert.Equal(t, 190.4, quotes[0].Price)
}

func TestFetchQuotesChartSyncOutranksChartSeries(t *testing.T) {
	client := &fakeClient{quotes: []domain.Quote{{Symbol: "AAPL", Price: 190.12}}}
	f, c := testFetcher(client)

	c.Set("quote_synced_AAPL", 191.5)
	c.Set("chart_AAPL_1D", []domain.ChartPoint{{Timestamp: time.Now(), Price: 190.4}})

	quotes := f.FetchQuotes(context.Background(), []string{"AAPL"})
	require.Len(t, quotes, 1)
	assert.Equal(t, 191.5, quotes[0].Price)
}

func TestFetchQuotesFrequentPollingDoesNotPinFirstPrice(t *testing.T) {
	client := &fakeClient{quotes: []domain.Quote{{Symbol: "AAPL", Price: 100.0}}}
	f, c := testFetcher(client)

	first := f.FetchQuotes(context.Background(), []string{"AAPL"})
	require.Len(t, first, 1)
	assert.Equal(t, 100.0, first[0].Price)

	// Vendor price moves between polls, both well inside the quote TTL.
	client.quotes = []domain.Quote{{Symbol: "AAPL", Price: 105.0}}

	// This call still serves the recent cached quote, but must write the new
	// REST record back instead of re-caching what it served.
	second := f.FetchQuotes(context.Background(), []string{"AAPL"})
	require.Len(t, second, 1)
	assert.Equal(t, 100.0, second[0].Price)

	cached, ok := cache.GetAs[domain.Quote](c, "quote_AAPL", time.Minute)
	require.True(t, ok)
	assert.Equal(t, 105.0, cached.Price, "write-back must hold the fresh REST value")

	third := f.FetchQuotes(context.Background(), []string{"AAPL"})
	require.Len(t, third, 1)
	assert.Equal(t, 105.0, third[0].Price, "fresh price must surface on the next poll")
}

func TestFetchQuotesFallsBackToCacheOnError(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	f, c := testFetcher(client)

	c.Set("quote_AAPL", domain.Quote{Symbol: "AAPL", Price: 189.0})

	quotes := f.FetchQuotes(context.Background(), []string{"AAPL", "MSFT"})

	// Partial fallback: only the cached symbol comes back, no error surfaces.
	require.Len(t, quotes, 1)
	assert.Equal(t, "AAPL", quotes[0].Symbol)
	assert.Equal(t, 189.0, quotes[0].Price)
}

func TestFetchQuotesEmptyFallback(t *testing.T) {
	client := &fakeClient{err: errors.New("timeout")}
	f, _ := testFetcher(client)

	quotes := f.FetchQuotes(context.Background(), []string{"AAPL"})
	assert.Empty(t, quotes)
}

func TestFetchQuotesEmptyInput(t *testing.T) {
	client := &fakeClient{}
	f, _ := testFetcher(client)

	assert.Empty(t, f.FetchQuotes(context.Background(), nil))
	assert.Zero(t, client.calls)
}
