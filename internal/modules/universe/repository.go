package universe

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository provides access to named universes and security metadata
// stored in universe.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new universe repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "universe_repo").Logger(),
	}
}

// seededUniverses are created on first run so the service is usable
// before any custom universes have been defined.
var seededUniverses = map[string][]string{
	"faang":       {"META", "AAPL", "AMZN", "NFLX", "GOOGL"},
	"magnificent": {"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA"},
}

// InitSchema creates the universes and securities tables if missing and
// seeds the default named universes.
func (r *Repository) InitSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS universes (
			name TEXT PRIMARY KEY,
			tickers TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS securities (
			ticker TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			sector TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create universe schema: %w", err)
	}

	for name, tickers := range seededUniverses {
		encoded, err := json.Marshal(tickers)
		if err != nil {
			return fmt.Errorf("failed to encode seeded universe %s: %w", name, err)
		}
		_, err = r.db.Exec(`
			INSERT INTO universes (name, tickers) VALUES (?, ?)
			ON CONFLICT(name) DO NOTHING
		`, name, string(encoded))
		if err != nil {
			return fmt.Errorf("failed to seed universe %s: %w", name, err)
		}
	}

	return nil
}

// Resolve returns the universe registered under the given name.
func (r *Repository) Resolve(name string) (*Universe, error) {
	var encoded string
	err := r.db.QueryRow("SELECT tickers FROM universes WHERE name = ?", name).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown universe name: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query universe %s: %w", name, err)
	}

	var tickers []string
	if err := json.Unmarshal([]byte(encoded), &tickers); err != nil {
		return nil, fmt.Errorf("failed to decode universe %s: %w", name, err)
	}

	return New(tickers)
}

// Save registers or replaces a named universe.
func (r *Repository) Save(name string, u *Universe) error {
	encoded, err := json.Marshal(u.Tickers())
	if err != nil {
		return fmt.Errorf("failed to encode universe %s: %w", name, err)
	}
	_, err = r.db.Exec(`
		INSERT INTO universes (name, tickers) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET tickers = excluded.tickers
	`, name, string(encoded))
	if err != nil {
		return fmt.Errorf("failed to save universe %s: %w", name, err)
	}
	r.log.Debug().Str("name", name).Int("size", u.Size()).Msg("Saved universe")
	return nil
}

// List returns the names of all registered universes.
func (r *Repository) List() ([]string, error) {
	rows, err := r.db.Query("SELECT name FROM universes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list universes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan universe name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
