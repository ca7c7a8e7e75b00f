package stream

import (
	"strings"

	"github.com/aristath/quotesync/internal/domain"
)

// Relay wire protocol. Control frames go out, event frames come in.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"

	eventHeartbeat       = "heartbeat"
	eventSubscribeStatus = "subscribe-status"
	eventPrice           = "price"
)

// controlFrame is a subscribe/unsubscribe command sent to the relay.
// Symbols are comma-joined, matching the relay's expected shape.
type controlFrame struct {
	Action  string `json:"action"`
	Symbols string `json:"symbols"`
}

func newControlFrame(action string, symbols []string) controlFrame {
	return controlFrame{Action: action, Symbols: strings.Join(symbols, ",")}
}

// eventFrame is an inbound relay message. Only price frames carry data the
// store needs; heartbeats are a liveness signal and subscribe-status frames
// are diagnostics.
type eventFrame struct {
	Event         string   `json:"event"`
	Symbol        string   `json:"symbol,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	PreviousClose *float64 `json:"previous_close,omitempty"`
	Open          *float64 `json:"open,omitempty"`
	High          *float64 `json:"high,omitempty"`
	Low           *float64 `json:"low,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Bid           *float64 `json:"bid,omitempty"`
	Ask           *float64 `json:"ask,omitempty"`
	Timestamp     int64    `json:"timestamp,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// tickQuote converts a price frame into a domain quote. The tick's own
// previous close is included only when includePreviousClose is set; the
// connection omits it whenever the store already holds one, so an
// EOD-corrected value is never displaced by a contaminated tick.
func (f eventFrame) tickQuote(includePreviousClose bool) (domain.Quote, bool) {
	if f.Price == nil || *f.Price <= 0 {
		return domain.Quote{}, false
	}

	q := domain.Quote{
		Symbol: domain.NormalizeSymbol(f.Symbol),
		Price:  *f.Price,
	}
	if q.Symbol == "" {
		return domain.Quote{}, false
	}

	if f.Open != nil && *f.Open > 0 {
		q.Open = *f.Open
	}
	if f.High != nil && *f.High > 0 {
		q.High = *f.High
	}
	if f.Low != nil && *f.Low > 0 {
		q.Low = *f.Low
	}
	if f.Volume != nil && *f.Volume > 0 {
		q.Volume = *f.Volume
	}
	if f.Bid != nil && *f.Bid > 0 {
		q.Bid = *f.Bid
	}
	if f.Ask != nil && *f.Ask > 0 {
		q.Ask = *f.Ask
	}
	if includePreviousClose && f.PreviousClose != nil && *f.PreviousClose > 0 {
		q.PreviousClose = *f.PreviousClose
		q.PreviousCloseSource = domain.PreviousCloseStream
	}
	return q, true
}
