package marketdata

import (
	"github.com/aristath/quotesync/internal/domain"
)

// quoteRecord is the vendor's bulk-quote wire shape. Numeric fields are
// pointers so an omitted field is distinguishable from a legitimate zero.
type quoteRecord struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	Price         *float64 `json:"price"`
	Change        *float64 `json:"change"`
	PercentChange *float64 `json:"percent_change"`
	Open          *float64 `json:"open"`
	High          *float64 `json:"high"`
	Low           *float64 `json:"low"`
	Volume        *float64 `json:"volume"`
	PreviousClose *float64 `json:"previous_close"`
	Bid           *float64 `json:"bid"`
	Ask           *float64 `json:"ask"`
}

// eodRecord is the vendor's end-of-day wire shape.
type eodRecord struct {
	Symbol string   `json:"symbol"`
	Close  *float64 `json:"close"`
}

// transformQuoteRecord validates and normalizes one vendor record into the
// domain model. Records without a symbol or a positive price fail closed and
// are reported as absent rather than propagated inward.
func transformQuoteRecord(rec quoteRecord) (domain.Quote, bool) {
	symbol := domain.NormalizeSymbol(rec.Symbol)
	if symbol == "" || rec.Price == nil || *rec.Price <= 0 {
		return domain.Quote{}, false
	}

	q := domain.Quote{
		Symbol: symbol,
		Name:   rec.Name,
		Price:  *rec.Price,
	}
	if rec.Change != nil {
		q.Change = *rec.Change
	}
	if rec.PercentChange != nil {
		q.ChangePercent = *rec.PercentChange
	}
	if rec.Open != nil && *rec.Open > 0 {
		q.Open = *rec.Open
	}
	if rec.High != nil && *rec.High > 0 {
		q.High = *rec.High
	}
	if rec.Low != nil && *rec.Low > 0 {
		q.Low = *rec.Low
	}
	if rec.Volume != nil && *rec.Volume > 0 {
		q.Volume = *rec.Volume
	}
	if rec.Bid != nil && *rec.Bid > 0 {
		q.Bid = *rec.Bid
	}
	if rec.Ask != nil && *rec.Ask > 0 {
		q.Ask = *rec.Ask
	}
	if rec.PreviousClose != nil && *rec.PreviousClose > 0 {
		q.PreviousClose = *rec.PreviousClose
		q.PreviousCloseSource = domain.PreviousCloseStream
	}
	return q, true
}
