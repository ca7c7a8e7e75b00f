package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quotesync/internal/cache"
	"github.com/aristath/quotesync/internal/domain"
	"github.com/aristath/quotesync/internal/events"
	"github.com/aristath/quotesync/internal/quotestore"
	"github.com/aristath/quotesync/internal/stream"
)

// QuoteFetcher fetches quotes over REST. Failures degrade to cached results,
// so the result may be partial or empty but never an error.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) []domain.Quote
}

// Streamer is the push-connection surface the API exposes.
type Streamer interface {
	Subscribe(symbols []string)
	Unsubscribe(symbols []string)
	Status() stream.Status
	SubscribedSymbols() []string
}

// CorrectionRunner runs the end-of-day previous-close correction.
type CorrectionRunner interface {
	CorrectPreviousCloses(ctx context.Context, symbols []string) map[string]float64
}

// Handlers holds the API handlers and their dependencies.
type Handlers struct {
	store     *quotestore.Store
	cache     *cache.Cache
	fetcher   QuoteFetcher
	streamer  Streamer
	corrector CorrectionRunner
	bus       *events.Bus
	log       zerolog.Logger
}

// NewHandlers creates the API handler set.
func NewHandlers(
	store *quotestore.Store,
	shortCache *cache.Cache,
	fetcher QuoteFetcher,
	streamer Streamer,
	corrector CorrectionRunner,
	bus *events.Bus,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		store:     store,
		cache:     shortCache,
		fetcher:   fetcher,
		streamer:  streamer,
		corrector: corrector,
		bus:       bus,
		log:       log.With().Str("component", "handlers").Logger(),
	}
}

// HandleHealth reports process liveness and store size.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"quotes": h.store.Len(),
	})
}

// HandleGetQuotes fetches quotes for a comma-separated symbol list, merges
// them into the store and returns the merged results. Responses come from the
// store rather than the raw fetch so previous-close handling is applied.
func (h *Handlers) HandleGetQuotes(w http.ResponseWriter, r *http.Request) {
	symbols := parseSymbolList(chi.URLParam(r, "symbols"))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "no symbols provided")
		return
	}

	quotes := h.fetcher.FetchQuotes(r.Context(), symbols)
	h.store.SetQuotes(quotes)

	result := make([]domain.Quote, 0, len(symbols))
	for _, sym := range symbols {
		if q, ok := h.store.GetQuote(sym); ok {
			result = append(result, q)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": result})
}

// HandleGetQuote returns the stored quote for one symbol.
func (h *Handlers) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	q, ok := h.store.GetQuote(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "symbol not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// HandleGetPrice returns just the stored price for one symbol.
func (h *Handlers) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	price, ok := h.store.GetPrice(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "symbol not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"price":  price,
	})
}

type symbolsRequest struct {
	Symbols []string `json:"symbols"`
}

// HandleStreamSubscribe adds symbols to the push stream.
func (h *Handlers) HandleStreamSubscribe(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols list required")
		return
	}

	h.streamer.Subscribe(req.Symbols)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"symbols": h.streamer.SubscribedSymbols(),
	})
}

// HandleStreamUnsubscribe removes symbols from the push stream.
func (h *Handlers) HandleStreamUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols list required")
		return
	}

	h.streamer.Unsubscribe(req.Symbols)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"symbols": h.streamer.SubscribedSymbols(),
	})
}

// HandleStreamStatus reports the connection state and subscribed symbols.
func (h *Handlers) HandleStreamStatus(w http.ResponseWriter, r *http.Request) {
	symbols := h.streamer.SubscribedSymbols()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  h.streamer.Status(),
		"symbols": symbols,
		"count":   len(symbols),
	})
}

// HandleRunCorrections triggers an end-of-day close correction run. Without an
// explicit symbol list the currently streamed symbols are corrected.
func (h *Handlers) HandleRunCorrections(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	// An empty body is allowed
	_ = json.NewDecoder(r.Body).Decode(&req)

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = h.streamer.SubscribedSymbols()
	}
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "no symbols to correct")
		return
	}

	corrections := h.corrector.CorrectPreviousCloses(r.Context(), symbols)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"corrections": corrections,
		"count":       len(corrections),
	})
}

// HandleClearSession clears the quote store and the short-term cache, used on
// user logout so the next session starts from vendor data.
func (h *Handlers) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	h.store.ClearAll()
	h.cache.ClearAll()
	if h.bus != nil {
		h.bus.Emit(events.SessionCleared, "server", nil)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// parseSymbolList splits a comma-separated list, normalizing and dropping
// empty entries.
func parseSymbolList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		sym := domain.NormalizeSymbol(p)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
