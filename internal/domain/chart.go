package domain

import "time"

// ChartPoint is one point of an intraday chart series cached beside the quote
// table. The last point of a fresh series is treated as a usable price.
type ChartPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}
