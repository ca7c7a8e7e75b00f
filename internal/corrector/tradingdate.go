package corrector

import (
	"fmt"
	"time"
)

// DefaultExchangeTimezone is the zone used to scope daily correction caches
// when no exchange timezone is configured.
const DefaultExchangeTimezone = "America/New_York"

// TradingCalendar computes trading dates in the exchange's local calendar.
// Using the device-local calendar instead would invalidate the daily cache
// prematurely around midnight UTC boundaries.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a calendar for the named timezone.
func NewTradingCalendar(timezone string) (*TradingCalendar, error) {
	if timezone == "" {
		timezone = DefaultExchangeTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange timezone %q: %w", timezone, err)
	}
	return &TradingCalendar{loc: loc}, nil
}

// TradingDate returns the exchange-local calendar date for an instant.
func (c *TradingCalendar) TradingDate(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// Today returns the current exchange-local trading date.
func (c *TradingCalendar) Today() string {
	return c.TradingDate(time.Now())
}

// Location exposes the exchange timezone, used for scheduling post-close jobs.
func (c *TradingCalendar) Location() *time.Location {
	return c.loc
}
