package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeSymbol("  aapl "))
	assert.Equal(t, "BTC/USD", NormalizeSymbol("btc/usd"))
}

func TestIsCryptoPair(t *testing.T) {
	assert.True(t, IsCryptoPair("BTC/USD"))
	assert.True(t, IsCryptoPair("eth/eur"))
	assert.False(t, IsCryptoPair("AAPL"))
	assert.False(t, IsCryptoPair("BRK.B"))
}

func TestMergePreservesUnsetFields(t *testing.T) {
	existing := Quote{
		Symbol: "AAPL",
		Price:  150,
		Name:   "Apple Inc",
		Volume: 1000000,
	}

	merged := Merge(existing, Quote{Symbol: "AAPL", Price: 151})

	assert.Equal(t, 151.0, merged.Price)
	assert.Equal(t, "Apple Inc", merged.Name)
	assert.Equal(t, 1000000.0, merged.Volume)
}

func TestMergeRecomputesChangeFromPreviousClose(t *testing.T) {
	existing := Quote{Symbol: "AAPL", Price: 150, PreviousClose: 148, PreviousCloseSource: PreviousCloseStream}

	merged := Merge(existing, Quote{Symbol: "AAPL", Price: 151})

	assert.InDelta(t, 3.0, merged.Change, 1e-9)
	assert.InDelta(t, 3.0/148*100, merged.ChangePercent, 1e-9)
}

func TestMergeKeepsEODCloseOverStreamValue(t *testing.T) {
	existing := Quote{
		Symbol:              "NVDA",
		Price:               500,
		PreviousClose:       495,
		PreviousCloseSource: PreviousCloseEOD,
		PreviousCloseDate:   "2026-08-28",
	}

	// Tick carries an after-hours-contaminated previous close.
	merged := Merge(existing, Quote{
		Symbol:              "NVDA",
		Price:               510,
		PreviousClose:       508,
		PreviousCloseSource: PreviousCloseStream,
	})

	assert.Equal(t, PreviousCloseEOD, merged.PreviousCloseSource)
	assert.Equal(t, 495.0, merged.PreviousClose)
	assert.Equal(t, "2026-08-28", merged.PreviousCloseDate)
	assert.InDelta(t, 15.0, merged.Change, 1e-9)
}

func TestMergeFallsBackToVendorChangeWithoutPreviousClose(t *testing.T) {
	merged := Merge(Quote{}, Quote{Symbol: "MSFT", Price: 420, Change: 2.5, ChangePercent: 0.6})

	assert.Equal(t, 2.5, merged.Change)
	assert.Equal(t, 0.6, merged.ChangePercent)
}

func TestMergeIdempotence(t *testing.T) {
	incoming := Quote{Symbol: "AAPL", Price: 190.12, PreviousClose: 188, Volume: 5000}

	once := Merge(Quote{}, incoming)
	twice := Merge(once, incoming)

	assert.True(t, once.EqualIgnoringTimestamp(twice))
}

func TestWithEODClose(t *testing.T) {
	q := Quote{Symbol: "AAPL", Price: 190.12, PreviousClose: 191, PreviousCloseSource: PreviousCloseStream}

	corrected := q.WithEODClose(188.0, "2026-08-28")

	assert.Equal(t, PreviousCloseEOD, corrected.PreviousCloseSource)
	assert.Equal(t, 188.0, corrected.PreviousClose)
	assert.InDelta(t, 2.12, corrected.Change, 1e-9)
	assert.InDelta(t, 2.12/188.0*100, corrected.ChangePercent, 1e-9)
}

func TestEqualIgnoringTimestamp(t *testing.T) {
	a := Quote{Symbol: "AAPL", Price: 150, UpdatedAt: time.Now()}
	b := Quote{Symbol: "AAPL", Price: 150, UpdatedAt: time.Now().Add(time.Hour)}
	c := Quote{Symbol: "AAPL", Price: 151}

	assert.True(t, a.EqualIgnoringTimestamp(b))
	assert.False(t, a.EqualIgnoringTimestamp(c))
}
