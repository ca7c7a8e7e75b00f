package corrector

import (
	"database/sql"
	"fmt"
	"time"
)

// Correction is one persisted end-of-day close, keyed by symbol and scoped to
// a trading date. Rows for a prior date are never reused.
type Correction struct {
	Symbol      string
	Close       float64
	TradingDate string
}

// Repository persists close corrections so a restart does not refetch
// corrections already obtained earlier the same trading day.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a correction repository on the cache database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Store upserts a correction.
func (r *Repository) Store(c Correction) error {
	_, err := r.db.Exec(`
		INSERT INTO close_corrections (symbol, close, trading_date, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			close = excluded.close,
			trading_date = excluded.trading_date,
			updated_at = excluded.updated_at
	`, c.Symbol, c.Close, c.TradingDate, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store correction for %s: %w", c.Symbol, err)
	}
	return nil
}

// GetForDate returns the cached close for a symbol if it was obtained on the
// given trading date. A row from a prior date reads as absent.
func (r *Repository) GetForDate(symbol, tradingDate string) (float64, bool, error) {
	var close float64
	err := r.db.QueryRow(
		"SELECT close FROM close_corrections WHERE symbol = ? AND trading_date = ?",
		symbol, tradingDate,
	).Scan(&close)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get correction for %s: %w", symbol, err)
	}
	return close, true, nil
}

// LoadForDate returns all corrections scoped to a trading date.
func (r *Repository) LoadForDate(tradingDate string) (map[string]float64, error) {
	rows, err := r.db.Query(
		"SELECT symbol, close FROM close_corrections WHERE trading_date = ?",
		tradingDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load corrections: %w", err)
	}
	defer rows.Close()

	corrections := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var close float64
		if err := rows.Scan(&symbol, &close); err != nil {
			return nil, fmt.Errorf("failed to scan correction row: %w", err)
		}
		corrections[symbol] = close
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate corrections: %w", err)
	}
	return corrections, nil
}

// DeleteBefore removes corrections from trading dates older than the given
// date. Returns the number of rows deleted.
func (r *Repository) DeleteBefore(tradingDate string) (int64, error) {
	result, err := r.db.Exec("DELETE FROM close_corrections WHERE trading_date < ?", tradingDate)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale corrections: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}
