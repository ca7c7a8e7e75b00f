// Package corrector reconciles the streaming vendor's imprecise previous close
// against the authoritative end-of-regular-session close.
//
// The vendor's previous_close can include after-hours trades, which distorts
// change and change percent for symbols with large after-hours moves. This
// component fetches the official close, corrects the quote store retroactively
// and persists each correction for the rest of the trading day.
package corrector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quotesync/internal/domain"
	"github.com/aristath/quotesync/internal/events"
	"github.com/aristath/quotesync/internal/quotestore"
)

// DefaultRequestDelay spaces serial EOD fetches to respect vendor rate limits.
const DefaultRequestDelay = 300 * time.Millisecond

// EODClient is the REST surface the corrector needs.
type EODClient interface {
	GetEndOfDayClose(ctx context.Context, symbol string) (float64, error)
}

// Corrector fetches official closes and repairs contaminated quotes.
type Corrector struct {
	client       EODClient
	store        *quotestore.Store
	repo         *Repository
	calendar     *TradingCalendar
	bus          *events.Bus
	log          zerolog.Logger
	requestDelay time.Duration
}

// New creates a close corrector. The event bus is optional.
func New(client EODClient, store *quotestore.Store, repo *Repository, calendar *TradingCalendar, bus *events.Bus, log zerolog.Logger) *Corrector {
	return &Corrector{
		client:       client,
		store:        store,
		repo:         repo,
		calendar:     calendar,
		bus:          bus,
		log:          log.With().Str("component", "corrector").Logger(),
		requestDelay: DefaultRequestDelay,
	}
}

// SetRequestDelay overrides the inter-request delay. Used by tests and by
// configurations with different vendor rate limits.
func (c *Corrector) SetRequestDelay(d time.Duration) {
	c.requestDelay = d
}

// CorrectPreviousCloses fetches the official close for each symbol not already
// corrected today and pushes corrected change values into the quote store.
// Crypto pairs are skipped: they trade continuously and have no regular-session
// close. A failed per-symbol fetch is skipped silently; it never blocks the
// rest of the batch. The result maps each corrected symbol to its close.
func (c *Corrector) CorrectPreviousCloses(ctx context.Context, symbols []string) map[string]float64 {
	tradingDate := c.calendar.Today()
	corrections := make(map[string]float64)
	fetched := 0

	for _, raw := range symbols {
		symbol := domain.NormalizeSymbol(raw)
		if symbol == "" || domain.IsCryptoPair(symbol) {
			continue
		}
		if _, seen := corrections[symbol]; seen {
			continue
		}

		// Served from cache: no network call for already-corrected symbols.
		if close, ok, err := c.repo.GetForDate(symbol, tradingDate); err == nil && ok {
			corrections[symbol] = close
			c.applyToStore(symbol, close, tradingDate)
			continue
		} else if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Correction cache lookup failed")
		}

		if fetched > 0 {
			select {
			case <-time.After(c.requestDelay):
			case <-ctx.Done():
				c.log.Warn().Int("corrected", len(corrections)).Msg("Correction run cancelled")
				return corrections
			}
		}

		close, err := c.client.GetEndOfDayClose(ctx, symbol)
		fetched++
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("EOD fetch failed, skipping symbol")
			continue
		}

		if err := c.repo.Store(Correction{Symbol: symbol, Close: close, TradingDate: tradingDate}); err != nil {
			c.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to persist correction")
		}

		corrections[symbol] = close
		c.applyToStore(symbol, close, tradingDate)
	}

	if len(corrections) > 0 {
		c.log.Info().
			Int("corrected", len(corrections)).
			Int("fetched", fetched).
			Str("trading_date", tradingDate).
			Msg("Previous closes corrected")
	}
	return corrections
}

// ApplyCachedCorrections loads corrections scoped to today's trading date and
// re-applies them to the quote store. Called on process start so a warm restart
// never displays after-hours-contaminated change percentages while waiting for
// a fresh correction pass. Entries from prior dates are ignored.
func (c *Corrector) ApplyCachedCorrections() (int, error) {
	tradingDate := c.calendar.Today()

	cached, err := c.repo.LoadForDate(tradingDate)
	if err != nil {
		return 0, err
	}

	applied := 0
	for symbol, close := range cached {
		if c.applyToStore(symbol, close, tradingDate) {
			applied++
		}
	}

	c.log.Info().
		Int("cached", len(cached)).
		Int("applied", applied).
		Str("trading_date", tradingDate).
		Msg("Cached corrections re-applied")
	return applied, nil
}

// applyToStore corrects the stored quote for a symbol that already has a live
// price. Symbols without a quote are left alone; the EOD value still sits in
// the cache and applies as soon as a price arrives through a correction run.
func (c *Corrector) applyToStore(symbol string, close float64, tradingDate string) bool {
	q, ok := c.store.GetQuote(symbol)
	if !ok {
		return false
	}

	c.store.SetQuote(q.WithEODClose(close, tradingDate))

	if c.bus != nil {
		c.bus.Emit(events.CorrectionApplied, "corrector", map[string]interface{}{
			"symbol":       symbol,
			"close":        close,
			"trading_date": tradingDate,
		})
	}
	return true
}

// CleanupStale removes persisted corrections from prior trading dates.
func (c *Corrector) CleanupStale() (int64, error) {
	return c.repo.DeleteBefore(c.calendar.Today())
}
