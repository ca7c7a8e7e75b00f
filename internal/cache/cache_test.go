package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	c := New()
	c.Set("quote_AAPL", 190.12)

	v, ok := c.Get("quote_AAPL", 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 190.12, v)
}

func TestGetExpiresLazily(t *testing.T) {
	c := New()
	c.Set("quote_AAPL", 190.12)

	time.Sleep(150 * time.Millisecond)

	_, ok := c.Get("quote_AAPL", 100*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "stale entry evicted at read time")
}

func TestPerReadTTL(t *testing.T) {
	c := New()
	c.Set("chart_AAPL_1D", []float64{1, 2, 3})

	time.Sleep(30 * time.Millisecond)

	// Same entry, different freshness requirements per call site.
	_, ok := c.Get("chart_AAPL_1D", 10*time.Millisecond)
	assert.False(t, ok)

	// The strict read evicted it; a permissive read now misses too.
	_, ok = c.Get("chart_AAPL_1D", time.Hour)
	assert.False(t, ok)
}

func TestSetOverwritesTimestamp(t *testing.T) {
	c := New()
	c.Set("news_AAPL", "old")
	time.Sleep(30 * time.Millisecond)
	c.Set("news_AAPL", "new")

	v, ok := c.Get("news_AAPL", 20*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestClearAndClearAll(t *testing.T) {
	c := New()
	c.Set("a", 1)
	c.Set("b", 2)

	c.Clear("a")
	_, ok := c.Get("a", time.Hour)
	assert.False(t, ok)

	c.ClearAll()
	assert.Equal(t, 0, c.Len())
}

func TestGetAs(t *testing.T) {
	c := New()
	c.Set("quote_AAPL", 190.12)

	v, ok := GetAs[float64](c, "quote_AAPL", time.Hour)
	require.True(t, ok)
	assert.Equal(t, 190.12, v)

	_, ok = GetAs[string](c, "quote_AAPL", time.Hour)
	assert.False(t, ok, "type mismatch reads as absent")
}
