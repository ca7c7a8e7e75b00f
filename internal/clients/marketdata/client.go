// Package marketdata provides the REST client for the quote vendor's bulk
// quote and end-of-day endpoints. Responses are validated and normalized into
// the domain model at this boundary; unparseable records are dropped, not
// propagated inward.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quotesync/internal/domain"
)

// DefaultTimeout applies when the caller's context carries no deadline.
// Callers with their own deadline, longer or shorter, keep it.
const DefaultTimeout = 15 * time.Second

// Client for the quote vendor REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new market data REST client. Request deadlines come from
// the per-call context, not from the HTTP client, so a caller-supplied
// deadline is never capped.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		log:        log.With().Str("client", "marketdata").Logger(),
	}
}

// GetQuotes fetches current quotes for the given symbols in a single request.
// Symbols missing from the response are simply absent from the result; only
// transport, status and whole-body parse failures return an error.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	normalized := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if s := domain.NormalizeSymbol(sym); s != "" {
			normalized = append(normalized, s)
		}
	}
	if len(normalized) == 0 {
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/quote/%s", c.baseURL, strings.Join(normalized, ","))

	var records []quoteRecord
	if err := c.getJSON(ctx, reqURL, &records); err != nil {
		return nil, err
	}

	quotes := make([]domain.Quote, 0, len(records))
	for _, rec := range records {
		q, ok := transformQuoteRecord(rec)
		if !ok {
			c.log.Debug().Str("symbol", rec.Symbol).Msg("Dropping invalid quote record")
			continue
		}
		quotes = append(quotes, q)
	}

	c.log.Debug().
		Int("requested", len(normalized)).
		Int("returned", len(quotes)).
		Msg("Bulk quotes fetched")
	return quotes, nil
}

// GetEndOfDayClose fetches the authoritative regular-session close for one symbol.
func (c *Client) GetEndOfDayClose(ctx context.Context, symbol string) (float64, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return 0, fmt.Errorf("empty symbol")
	}

	reqURL := fmt.Sprintf("%s/eod?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	var rec eodRecord
	if err := c.getJSON(ctx, reqURL, &rec); err != nil {
		return 0, err
	}
	if rec.Close == nil || *rec.Close <= 0 {
		return 0, fmt.Errorf("no close price for %s", symbol)
	}
	return *rec.Close, nil
}

// getJSON performs a GET request with a hard deadline and decodes the body.
func (c *Client) getJSON(ctx context.Context, reqURL string, dest interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
