package corrector

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE close_corrections (
	symbol TEXT PRIMARY KEY,
	close REAL NOT NULL,
	trading_date TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func TestStoreAndGetForDate(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(Correction{Symbol: "AAPL", Close: 188.0, TradingDate: "2026-08-28"}))

	close, ok, err := repo.GetForDate("AAPL", "2026-08-28")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 188.0, close)
}

func TestGetForDateIgnoresPriorDates(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(Correction{Symbol: "AAPL", Close: 188.0, TradingDate: "2026-08-27"}))

	_, ok, err := repo.GetForDate("AAPL", "2026-08-28")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreUpsertsOnSymbol(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(Correction{Symbol: "AAPL", Close: 187.0, TradingDate: "2026-08-27"}))
	require.NoError(t, repo.Store(Correction{Symbol: "AAPL", Close: 188.0, TradingDate: "2026-08-28"}))

	close, ok, err := repo.GetForDate("AAPL", "2026-08-28")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 188.0, close)
}

func TestLoadForDate(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(Correction{Symbol: "AAPL", Close: 188.0, TradingDate: "2026-08-28"}))
	require.NoError(t, repo.Store(Correction{Symbol: "MSFT", Close: 419.0, TradingDate: "2026-08-28"}))
	require.NoError(t, repo.Store(Correction{Symbol: "OLD", Close: 10.0, TradingDate: "2026-08-27"}))

	corrections, err := repo.LoadForDate("2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAPL": 188.0, "MSFT": 419.0}, corrections)
}

func TestDeleteBefore(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(Correction{Symbol: "OLD", Close: 10.0, TradingDate: "2026-08-27"}))
	require.NoError(t, repo.Store(Correction{Symbol: "AAPL", Close: 188.0, TradingDate: "2026-08-28"}))

	deleted, err := repo.DeleteBefore("2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, ok, err := repo.GetForDate("AAPL", "2026-08-28")
	require.NoError(t, err)
	assert.True(t, ok)
}
