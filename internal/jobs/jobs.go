package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quotesync/internal/domain"
	"github.com/aristath/quotesync/internal/events"
	"github.com/aristath/quotesync/internal/quotestore"
)

// Jobs operate on the symbols currently streamed; a job run with nothing
// subscribed is a no-op, not an error.

// SymbolSource reports the symbols currently subscribed to the push stream.
type SymbolSource interface {
	SubscribedSymbols() []string
}

// QuoteFetcher fetches quotes over REST with cache fallback.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) []domain.Quote
}

// Corrector runs and maintains end-of-day previous-close corrections.
type Corrector interface {
	CorrectPreviousCloses(ctx context.Context, symbols []string) map[string]float64
	CleanupStale() (int64, error)
}

const runTimeout = 5 * time.Minute

// RefreshJob periodically re-fetches streamed symbols over REST so quotes
// stay current through stream gaps and sparse tick periods.
type RefreshJob struct {
	fetcher QuoteFetcher
	store   *quotestore.Store
	symbols SymbolSource
	bus     *events.Bus
	log     zerolog.Logger
}

func NewRefreshJob(fetcher QuoteFetcher, store *quotestore.Store, symbols SymbolSource, bus *events.Bus, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		fetcher: fetcher,
		store:   store,
		symbols: symbols,
		bus:     bus,
		log:     log.With().Str("job", "quote-refresh").Logger(),
	}
}

func (j *RefreshJob) Name() string { return "quote-refresh" }

func (j *RefreshJob) Run() error {
	symbols := j.symbols.SubscribedSymbols()
	if len(symbols) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	quotes := j.fetcher.FetchQuotes(ctx, symbols)
	j.store.SetQuotes(quotes)

	j.log.Debug().Int("requested", len(symbols)).Int("refreshed", len(quotes)).Msg("Quotes refreshed")
	if j.bus != nil {
		j.bus.Emit(events.QuotesRefreshed, "jobs", map[string]interface{}{
			"requested": len(symbols),
			"refreshed": len(quotes),
		})
	}
	return nil
}

// CorrectionJob runs the end-of-day previous-close correction for streamed
// symbols. Scheduled after the exchange close in exchange-local time.
type CorrectionJob struct {
	corrector Corrector
	symbols   SymbolSource
	log       zerolog.Logger
}

func NewCorrectionJob(corrector Corrector, symbols SymbolSource, log zerolog.Logger) *CorrectionJob {
	return &CorrectionJob{
		corrector: corrector,
		symbols:   symbols,
		log:       log.With().Str("job", "close-correction").Logger(),
	}
}

func (j *CorrectionJob) Name() string { return "close-correction" }

func (j *CorrectionJob) Run() error {
	symbols := j.symbols.SubscribedSymbols()
	if len(symbols) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	corrections := j.corrector.CorrectPreviousCloses(ctx, symbols)
	j.log.Info().Int("requested", len(symbols)).Int("corrected", len(corrections)).Msg("Close corrections applied")
	return nil
}

// CleanupJob drops corrections from past trading dates.
type CleanupJob struct {
	corrector Corrector
	log       zerolog.Logger
}

func NewCleanupJob(corrector Corrector, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		corrector: corrector,
		log:       log.With().Str("job", "correction-cleanup").Logger(),
	}
}

func (j *CleanupJob) Name() string { return "correction-cleanup" }

func (j *CleanupJob) Run() error {
	deleted, err := j.corrector.CleanupStale()
	if err != nil {
		return fmt.Errorf("failed to clean up stale corrections: %w", err)
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Stale corrections removed")
	}
	return nil
}

// SnapshotJob persists the quote store so a restart comes up with last-known
// prices instead of an empty screen.
type SnapshotJob struct {
	store *quotestore.Store
	path  string
	log   zerolog.Logger
}

func NewSnapshotJob(store *quotestore.Store, path string, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		store: store,
		path:  path,
		log:   log.With().Str("job", "store-snapshot").Logger(),
	}
}

func (j *SnapshotJob) Name() string { return "store-snapshot" }

func (j *SnapshotJob) Run() error {
	if err := j.store.SaveSnapshot(j.path); err != nil {
		return fmt.Errorf("failed to save store snapshot: %w", err)
	}
	j.log.Debug().Int("quotes", j.store.Len()).Msg("Store snapshot saved")
	return nil
}
