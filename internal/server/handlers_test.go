package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quotesync/internal/cache"
	"github.com/aristath/quotesync/internal/domain"
	"github.com/aristath/quotesync/internal/quotestore"
	"github.com/aristath/quotesync/internal/stream"
)

type fakeFetcher struct {
	quotes []domain.Quote
	calls  [][]string
}

func (f *fakeFetcher) FetchQuotes(ctx context.Context, symbols []string) []domain.Quote {
	f.calls = append(f.calls, symbols)
	return f.quotes
}

type fakeStreamer struct {
	subscribed   [][]string
	unsubscribed [][]string
	symbols      []string
	status       stream.Status
}

func (f *fakeStreamer) Subscribe(symbols []string)   { f.subscribed = append(f.subscribed, symbols) }
func (f *fakeStreamer) Unsubscribe(symbols []string) { f.unsubscribed = append(f.unsubscribed, symbols) }
func (f *fakeStreamer) Status() stream.Status        { return f.status }
func (f *fakeStreamer) SubscribedSymbols() []string  { return f.symbols }

type fakeCorrector struct {
	corrections map[string]float64
	calls       [][]string
}

func (f *fakeCorrector) CorrectPreviousCloses(ctx context.Context, symbols []string) map[string]float64 {
	f.calls = append(f.calls, symbols)
	return f.corrections
}

type testEnv struct {
	store     *quotestore.Store
	cache     *cache.Cache
	fetcher   *fakeFetcher
	streamer  *fakeStreamer
	corrector *fakeCorrector
	srv       *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	env := &testEnv{
		store:     quotestore.New(log),
		cache:     cache.New(),
		fetcher:   &fakeFetcher{},
		streamer:  &fakeStreamer{status: stream.StatusDisconnected},
		corrector: &fakeCorrector{},
	}
	handlers := NewHandlers(env.store, env.cache, env.fetcher, env.streamer, env.corrector, nil, log)
	env.srv = New(Config{Log: log, Port: 0, DevMode: true, Handlers: handlers})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetQuote(domain.Quote{Symbol: "AAPL", Price: 190.0})

	rec := env.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(1), resp["quotes"])
}

func TestGetQuotesFetchesAndMerges(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.quotes = []domain.Quote{
		{Symbol: "AAPL", Price: 190.12, PreviousClose: 188.0, PreviousCloseSource: domain.PreviousCloseStream},
	}

	rec := env.do(t, http.MethodGet, "/api/quotes/aapl,AAPL", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.fetcher.calls, 1)
	assert.Equal(t, []string{"AAPL"}, env.fetcher.calls[0], "symbols must be normalized and deduplicated")

	var resp struct {
		Quotes []domain.Quote `json:"quotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Quotes, 1)
	assert.Equal(t, "AAPL", resp.Quotes[0].Symbol)
	assert.InDelta(t, 2.12, resp.Quotes[0].Change, 1e-9, "change must be recomputed in the store")

	q, ok := env.store.GetQuote("AAPL")
	require.True(t, ok)
	assert.Equal(t, 190.12, q.Price)
}

func TestGetQuotesRequiresSymbols(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/quotes/,%20,", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQuoteNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/quote/MISSING", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPrice(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetQuote(domain.Quote{Symbol: "AAPL", Price: 190.12})

	rec := env.do(t, http.MethodGet, "/api/price/aapl", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAPL", resp["symbol"])
	assert.Equal(t, 190.12, resp["price"])
}

func TestStreamSubscribe(t *testing.T) {
	env := newTestEnv(t)
	env.streamer.symbols = []string{"AAPL"}

	rec := env.do(t, http.MethodPost, "/api/stream/subscribe", symbolsRequest{Symbols: []string{"AAPL"}})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.streamer.subscribed, 1)
	assert.Equal(t, []string{"AAPL"}, env.streamer.subscribed[0])
}

func TestStreamSubscribeRequiresBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/stream/subscribe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.streamer.subscribed)
}

func TestStreamStatus(t *testing.T) {
	env := newTestEnv(t)
	env.streamer.status = stream.StatusConnected
	env.streamer.symbols = []string{"AAPL", "MSFT"}

	rec := env.do(t, http.MethodGet, "/api/stream/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "connected", resp["status"])
	assert.Equal(t, float64(2), resp["count"])
}

func TestRunCorrectionsDefaultsToStreamedSymbols(t *testing.T) {
	env := newTestEnv(t)
	env.streamer.symbols = []string{"AAPL"}
	env.corrector.corrections = map[string]float64{"AAPL": 188.0}

	rec := env.do(t, http.MethodPost, "/api/corrections", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.corrector.calls, 1)
	assert.Equal(t, []string{"AAPL"}, env.corrector.calls[0])
}

func TestRunCorrectionsWithNoSymbols(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/corrections", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearSession(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetQuote(domain.Quote{Symbol: "AAPL", Price: 190.0})
	env.cache.Set("quote_AAPL", domain.Quote{Symbol: "AAPL", Price: 190.0})

	rec := env.do(t, http.MethodPost, "/api/session/clear", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.store.Len())
	assert.Equal(t, 0, env.cache.Len())
}
