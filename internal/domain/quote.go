// Package domain contains the core market-data model shared by all components.
// It is pure: no I/O, no infrastructure dependencies.
package domain

import (
	"strings"
	"time"
)

// PreviousCloseSource tags where a quote's previous close came from.
type PreviousCloseSource string

const (
	// PreviousCloseStream is a previous close supplied by the streaming vendor.
	// It may be contaminated by after-hours trades.
	PreviousCloseStream PreviousCloseSource = "stream"
	// PreviousCloseEOD is the authoritative regular-session close. Once set for
	// the current trading date it must not be overwritten by a stream value.
	PreviousCloseEOD PreviousCloseSource = "eod"
)

// Quote is the latest known state for one ticker symbol.
// Zero-valued optional fields mean "unset"; valid prices and closes are > 0.
type Quote struct {
	Symbol              string              `json:"symbol" msgpack:"symbol"`
	Price               float64             `json:"price" msgpack:"price"`
	Change              float64             `json:"change" msgpack:"change"`
	ChangePercent       float64             `json:"change_percent" msgpack:"change_percent"`
	PreviousClose       float64             `json:"previous_close,omitempty" msgpack:"previous_close"`
	PreviousCloseSource PreviousCloseSource `json:"previous_close_source,omitempty" msgpack:"previous_close_source"`
	PreviousCloseDate   string              `json:"previous_close_date,omitempty" msgpack:"previous_close_date"`
	Open                float64             `json:"open,omitempty" msgpack:"open"`
	High                float64             `json:"high,omitempty" msgpack:"high"`
	Low                 float64             `json:"low,omitempty" msgpack:"low"`
	Volume              float64             `json:"volume,omitempty" msgpack:"volume"`
	Bid                 float64             `json:"bid,omitempty" msgpack:"bid"`
	Ask                 float64             `json:"ask,omitempty" msgpack:"ask"`
	Name                string              `json:"name,omitempty" msgpack:"name"`
	UpdatedAt           time.Time           `json:"updated_at" msgpack:"updated_at"`
}

// NormalizeSymbol trims whitespace and uppercases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsCryptoPair reports whether a symbol names a continuously-traded crypto pair
// (e.g. "BTC/USD"). Crypto pairs have no regular-session close.
func IsCryptoPair(symbol string) bool {
	return strings.Contains(symbol, "/")
}

// Valid reports whether the quote carries the minimum required data.
func (q Quote) Valid() bool {
	return q.Symbol != "" && q.Price > 0
}

// Merge applies an incoming partial quote on top of an existing one.
// Symbol and Price always come from the incoming quote; unset optional fields
// preserve the existing value. An existing EOD previous close is kept over a
// stream-provided one. Change and change percent are always recomputed from the
// merged price and the effective previous close, never carried over verbatim.
func Merge(existing, incoming Quote) Quote {
	merged := existing
	merged.Symbol = NormalizeSymbol(incoming.Symbol)
	merged.Price = incoming.Price

	if incoming.Open > 0 {
		merged.Open = incoming.Open
	}
	if incoming.High > 0 {
		merged.High = incoming.High
	}
	if incoming.Low > 0 {
		merged.Low = incoming.Low
	}
	if incoming.Volume > 0 {
		merged.Volume = incoming.Volume
	}
	if incoming.Bid > 0 {
		merged.Bid = incoming.Bid
	}
	if incoming.Ask > 0 {
		merged.Ask = incoming.Ask
	}
	if incoming.Name != "" {
		merged.Name = incoming.Name
	}

	// Vendor-supplied change values are only a fallback for when no previous
	// close is known; recomputeChange overrides them whenever one is.
	if incoming.Change != 0 || incoming.ChangePercent != 0 {
		merged.Change = incoming.Change
		merged.ChangePercent = incoming.ChangePercent
	}

	merged.applyPreviousClose(existing, incoming)
	merged.recomputeChange()
	return merged
}

// applyPreviousClose picks the effective previous close for a merge.
// Priority: an incoming EOD value wins; otherwise an existing EOD value is kept;
// otherwise the fresher of the two stream values applies.
func (q *Quote) applyPreviousClose(existing, incoming Quote) {
	switch {
	case incoming.PreviousClose > 0 && incoming.PreviousCloseSource == PreviousCloseEOD:
		q.PreviousClose = incoming.PreviousClose
		q.PreviousCloseSource = PreviousCloseEOD
		q.PreviousCloseDate = incoming.PreviousCloseDate
	case existing.PreviousClose > 0 && existing.PreviousCloseSource == PreviousCloseEOD:
		q.PreviousClose = existing.PreviousClose
		q.PreviousCloseSource = PreviousCloseEOD
		q.PreviousCloseDate = existing.PreviousCloseDate
	case incoming.PreviousClose > 0:
		q.PreviousClose = incoming.PreviousClose
		q.PreviousCloseSource = PreviousCloseStream
		q.PreviousCloseDate = ""
	}
}

// recomputeChange derives change and change percent from price and the current
// previous close. With no usable previous close the existing values stand.
func (q *Quote) recomputeChange() {
	if q.PreviousClose <= 0 || q.Price <= 0 {
		return
	}
	q.Change = q.Price - q.PreviousClose
	q.ChangePercent = (q.Change / q.PreviousClose) * 100
}

// WithEODClose returns a copy of the quote corrected against an authoritative
// regular-session close for the given trading date.
func (q Quote) WithEODClose(close float64, tradingDate string) Quote {
	corrected := q
	corrected.PreviousClose = close
	corrected.PreviousCloseSource = PreviousCloseEOD
	corrected.PreviousCloseDate = tradingDate
	corrected.recomputeChange()
	return corrected
}

// EqualIgnoringTimestamp reports whether two quotes carry the same observable
// data, disregarding UpdatedAt. Used by the store to suppress no-op notifications.
func (q Quote) EqualIgnoringTimestamp(other Quote) bool {
	a, b := q, other
	a.UpdatedAt = time.Time{}
	b.UpdatedAt = time.Time{}
	return a == b
}
