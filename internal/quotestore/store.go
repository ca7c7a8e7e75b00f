// Package quotestore holds the single source of truth for symbol quotes.
// All writers (stream ticks, bulk REST fetches, close corrections) serialize
// through the merge operation here; readers always see whole quotes, never a
// partially-applied write.
package quotestore

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/quotesync/internal/domain"
)

// ChangeHandler is invoked with the symbols whose quotes changed. Handlers read
// current values back from the store; they are called outside the store lock and
// may safely issue further writes, which are queued behind the in-flight pass.
type ChangeHandler func(symbols []string)

type subscriber struct {
	symbols map[string]bool // nil means all symbols
	fn      ChangeHandler
}

// Store is the mutable symbol -> quote table.
type Store struct {
	log zerolog.Logger

	mu          sync.Mutex
	quotes      map[string]domain.Quote
	subscribers map[string]*subscriber

	// Notification queue. Writes enqueue their changed symbols; a single
	// drainer delivers passes in order so subscriber callbacks never run
	// re-entrantly inside another notification.
	pending  [][]string
	draining bool
}

// New creates an empty quote store.
func New(log zerolog.Logger) *Store {
	return &Store{
		log:         log.With().Str("component", "quotestore").Logger(),
		quotes:      make(map[string]domain.Quote),
		subscribers: make(map[string]*subscriber),
	}
}

// SetQuote merges a single quote into the table and notifies subscribers.
// The write is ignored when the quote has no symbol or a non-positive price.
func (s *Store) SetQuote(q domain.Quote) {
	s.SetQuotes([]domain.Quote{q})
}

// SetQuotes merges a batch atomically with a single notification pass,
// so a bulk REST refresh triggers one re-render instead of N.
func (s *Store) SetQuotes(quotes []domain.Quote) {
	now := time.Now()

	s.mu.Lock()
	var changed []string
	for _, q := range quotes {
		q.Symbol = domain.NormalizeSymbol(q.Symbol)
		if !q.Valid() {
			s.log.Debug().Str("symbol", q.Symbol).Msg("Dropping invalid quote write")
			continue
		}

		existing := s.quotes[q.Symbol]
		merged := domain.Merge(existing, q)
		merged.UpdatedAt = now

		if merged.EqualIgnoringTimestamp(existing) {
			// Value identity unchanged; refresh the timestamp silently.
			s.quotes[q.Symbol] = merged
			continue
		}
		s.quotes[q.Symbol] = merged
		changed = append(changed, q.Symbol)
	}

	if len(changed) == 0 {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, changed)
	if s.draining {
		// An earlier write is mid-notification; it will pick this pass up.
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.drain()
}

// drain delivers queued notification passes until the queue is empty.
func (s *Store) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		changed := s.pending[0]
		s.pending = s.pending[1:]

		type delivery struct {
			fn      ChangeHandler
			symbols []string
		}
		var deliveries []delivery
		for _, sub := range s.subscribers {
			relevant := sub.relevant(changed)
			if len(relevant) > 0 {
				deliveries = append(deliveries, delivery{fn: sub.fn, symbols: relevant})
			}
		}
		s.mu.Unlock()

		for _, d := range deliveries {
			d.fn(d.symbols)
		}
	}
}

// relevant filters changed symbols down to the ones this subscriber watches.
func (sub *subscriber) relevant(changed []string) []string {
	if sub.symbols == nil {
		return changed
	}
	var out []string
	for _, sym := range changed {
		if sub.symbols[sym] {
			out = append(out, sym)
		}
	}
	return out
}

// GetQuote returns the quote for a symbol, reporting absence explicitly.
func (s *Store) GetQuote(symbol string) (domain.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[domain.NormalizeSymbol(symbol)]
	return q, ok
}

// GetPrice returns the last known price for a symbol.
func (s *Store) GetPrice(symbol string) (float64, bool) {
	q, ok := s.GetQuote(symbol)
	if !ok {
		return 0, false
	}
	return q.Price, true
}

// AllQuotes returns a copy of the current table.
func (s *Store) AllQuotes() map[string]domain.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// Len returns the number of symbols currently tracked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.quotes)
}

// ClearAll empties the table. Used only by an explicit session reset, never by
// normal data flows. Subscribers are notified for every symbol that was present.
func (s *Store) ClearAll() {
	s.mu.Lock()
	var cleared []string
	for sym := range s.quotes {
		cleared = append(cleared, sym)
	}
	s.quotes = make(map[string]domain.Quote)

	if len(cleared) == 0 {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, cleared)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.drain()
}

// OnChange registers a change handler for a set of symbols. A nil or empty set
// subscribes to all quotes. The returned function removes the registration.
func (s *Store) OnChange(symbols []string, fn ChangeHandler) func() {
	var watched map[string]bool
	if len(symbols) > 0 {
		watched = make(map[string]bool, len(symbols))
		for _, sym := range symbols {
			watched[domain.NormalizeSymbol(sym)] = true
		}
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.subscribers[id] = &subscriber{symbols: watched, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}
