// Package main is the entry point for the quotesync market data server.
// It keeps a per-session quote table synchronized from three sources: a
// streaming relay for live ticks, a REST quote API for bulk refreshes and an
// end-of-day feed that corrects previous-close values after market close.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quotesync/internal/cache"
	"github.com/aristath/quotesync/internal/clients/marketdata"
	"github.com/aristath/quotesync/internal/config"
	"github.com/aristath/quotesync/internal/corrector"
	"github.com/aristath/quotesync/internal/database"
	"github.com/aristath/quotesync/internal/events"
	"github.com/aristath/quotesync/internal/fetcher"
	"github.com/aristath/quotesync/internal/jobs"
	"github.com/aristath/quotesync/internal/quotestore"
	"github.com/aristath/quotesync/internal/server"
	"github.com/aristath/quotesync/internal/stream"
	"github.com/aristath/quotesync/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting quotesync")

	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	bus := events.NewBus(log)
	store := quotestore.New(log)
	shortCache := cache.New()

	// Warm restart: show last-known prices until fresh data arrives.
	if err := store.LoadSnapshot(cfg.SnapshotPath()); err != nil {
		log.Warn().Err(err).Msg("Failed to load store snapshot, starting empty")
	} else if store.Len() > 0 {
		log.Info().Int("quotes", store.Len()).Msg("Store snapshot loaded")
	}

	calendar, err := corrector.NewTradingCalendar(cfg.ExchangeTimezone)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid exchange timezone")
	}

	quoteClient := marketdata.NewClient(cfg.QuoteAPIBaseURL, cfg.QuoteAPIKey, log)
	quoteFetcher := fetcher.New(quoteClient, shortCache, log)

	correctionRepo := corrector.NewRepository(db.Conn())
	closeCorrector := corrector.New(quoteClient, store, correctionRepo, calendar, bus, log)
	closeCorrector.SetRequestDelay(cfg.EODRequestDelay)

	// Re-apply today's persisted corrections before any stream tick can write
	// a contaminated previous close.
	if applied, err := closeCorrector.ApplyCachedCorrections(); err != nil {
		log.Warn().Err(err).Msg("Failed to re-apply cached corrections")
	} else if applied > 0 {
		log.Info().Int("applied", applied).Msg("Cached close corrections re-applied")
	}

	streamConn := stream.New(stream.Config{
		URL:            cfg.RelayURL,
		MaxSymbols:     cfg.StreamMaxSymbols,
		ReconnectDelay: cfg.StreamReconnectDelay,
	}, store, bus, log)
	defer streamConn.Destroy()

	handlers := server.NewHandlers(store, shortCache, quoteFetcher, streamConn, closeCorrector, bus, log)
	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Handlers: handlers,
	})

	scheduler := jobs.New(log)
	refreshSchedule := fmt.Sprintf("@every %s", cfg.RefreshInterval)
	correctionSchedule := fmt.Sprintf("CRON_TZ=%s 0 10 16 * * MON-FRI", cfg.ExchangeTimezone)
	registerJob(scheduler, refreshSchedule, jobs.NewRefreshJob(quoteFetcher, store, streamConn, bus, log), log)
	registerJob(scheduler, correctionSchedule, jobs.NewCorrectionJob(closeCorrector, streamConn, log), log)
	registerJob(scheduler, "0 0 3 * * *", jobs.NewCleanupJob(closeCorrector, log), log)
	registerJob(scheduler, "@every 5m", jobs.NewSnapshotJob(store, cfg.SnapshotPath(), log), log)
	scheduler.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	scheduler.Stop()
	streamConn.Destroy()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Final snapshot so the next start has current prices.
	if err := store.SaveSnapshot(cfg.SnapshotPath()); err != nil {
		log.Error().Err(err).Msg("Failed to save store snapshot on exit")
	}

	log.Info().Msg("Shutdown complete")
}

func registerJob(s *jobs.Scheduler, schedule string, job jobs.Job, log zerolog.Logger) {
	if err := s.AddJob(schedule, job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
	}
}
