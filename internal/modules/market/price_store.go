package market

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PriceStore provides access to historical price data in history.db.
type PriceStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceStore creates a new price store
func NewPriceStore(db *sql.DB, log zerolog.Logger) *PriceStore {
	return &PriceStore{
		db:  db,
		log: log.With().Str("component", "price_store").Logger(),
	}
}

// InitSchema creates the daily_prices table if missing.
func (s *PriceStore) InitSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_prices (
			ticker TEXT NOT NULL,
			date INTEGER NOT NULL,
			close REAL NOT NULL,
			PRIMARY KEY (ticker, date)
		);
		CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);
	`)
	if err != nil {
		return fmt.Errorf("failed to create price schema: %w", err)
	}
	return nil
}

// GetCloses fetches closing prices for a ticker between start and end
// (inclusive), ordered by date ascending.
func (s *PriceStore) GetCloses(ticker string, start, end time.Time) ([]DailyPrice, error) {
	rows, err := s.db.Query(`
		SELECT date, close
		FROM daily_prices
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var dateUnix int64
		if err := rows.Scan(&dateUnix, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		p.Date = time.Unix(dateUnix, 0).UTC().Format("2006-01-02")
		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}

// UpsertCloses stores closing prices for a ticker. Existing rows for the
// same date are replaced.
func (s *PriceStore) UpsertCloses(ticker string, prices []DailyPrice) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin price upsert: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO daily_prices (ticker, date, close)
		VALUES (?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET close = excluded.close
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare price upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		day, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("invalid price date %q for %s: %w", p.Date, ticker, err)
		}
		if _, err := stmt.Exec(ticker, day.Unix(), p.Close); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to upsert price for %s: %w", ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price upsert: %w", err)
	}

	s.log.Debug().Str("ticker", ticker).Int("rows", len(prices)).Msg("Upserted daily prices")
	return nil
}
