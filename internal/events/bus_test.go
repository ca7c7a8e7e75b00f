package events

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus() *Bus {
	return NewBus(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestEmitReachesSubscribers(t *testing.T) {
	bus := testBus()

	var got []Event
	bus.Subscribe(StreamStatusChanged, func(e Event) { got = append(got, e) })

	bus.Emit(StreamStatusChanged, "stream", map[string]interface{}{"status": "connected"})

	require.Len(t, got, 1)
	assert.Equal(t, StreamStatusChanged, got[0].Type)
	assert.Equal(t, "stream", got[0].Module)
	assert.Equal(t, "connected", got[0].Data["status"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestEmitOnlyMatchingType(t *testing.T) {
	bus := testBus()

	var statusEvents, refreshEvents int
	bus.Subscribe(StreamStatusChanged, func(Event) { statusEvents++ })
	bus.Subscribe(QuotesRefreshed, func(Event) { refreshEvents++ })

	bus.Emit(QuotesRefreshed, "jobs", nil)

	assert.Zero(t, statusEvents)
	assert.Equal(t, 1, refreshEvents)
}

func TestEmitError(t *testing.T) {
	bus := testBus()

	var got []Event
	bus.Subscribe(ErrorOccurred, func(e Event) { got = append(got, e) })

	bus.EmitError("corrector", errors.New("eod fetch failed"), map[string]interface{}{"symbol": "AAPL"})

	require.Len(t, got, 1)
	assert.Equal(t, "eod fetch failed", got[0].Data["error"])
}

func TestEmitWithoutSubscribers(t *testing.T) {
	bus := testBus()
	// Must not panic.
	bus.Emit(SessionCleared, "server", nil)
}
