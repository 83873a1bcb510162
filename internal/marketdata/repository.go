package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/WAE505/Momentum/internal/database"
	"github.com/WAE505/Momentum/internal/domain"
	"github.com/rs/zerolog"
)

// Schema for the market data store: the assembled monthly dataset, a small
// metadata table for refresh bookkeeping, and a payload cache for raw
// external API responses.
const Schema = `
CREATE TABLE IF NOT EXISTS market_data (
    date TEXT PRIMARY KEY,
    equity REAL NOT NULL,
    bond REAL NOT NULL,
    gold REAL NOT NULL,
    cash REAL NOT NULL,
    cash_rate REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_cache (
    source TEXT NOT NULL,
    cache_key TEXT NOT NULL,
    payload BLOB NOT NULL,
    fetched_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (source, cache_key)
);
`

const lastRefreshKey = "last_refresh"

const dateLayout = "2006-01-02"

// InitSchema ensures all market data tables exist.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Repository handles market data persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new market data repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "marketdata").Logger(),
	}
}

// SaveDataset replaces the stored dataset with the given one in a single
// transaction.
func (r *Repository) SaveDataset(dataset domain.Dataset) error {
	if err := dataset.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid dataset: %w", err)
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM market_data"); err != nil {
			return fmt.Errorf("failed to clear market data: %w", err)
		}

		stmt, err := tx.Prepare(
			"INSERT INTO market_data (date, equity, bond, gold, cash, cash_rate) VALUES (?, ?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, date := range dataset.Dates {
			_, err := stmt.Exec(
				date.Format(dateLayout),
				dataset.Equity[i],
				dataset.Bond[i],
				dataset.Gold[i],
				dataset.Cash[i],
				dataset.CashRate[i],
			)
			if err != nil {
				return fmt.Errorf("failed to insert row for %s: %w", date.Format(dateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Int("months", dataset.Len()).Msg("Stored dataset")
	return nil
}

// LoadDataset reads the full stored dataset ordered by date. Returns an
// empty dataset when nothing is stored.
func (r *Repository) LoadDataset() (domain.Dataset, error) {
	rows, err := r.db.Query(
		"SELECT date, equity, bond, gold, cash, cash_rate FROM market_data ORDER BY date")
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("failed to query market data: %w", err)
	}
	defer rows.Close()

	var dataset domain.Dataset
	for rows.Next() {
		var dateStr string
		var equity, bond, gold, cash, cashRate float64
		if err := rows.Scan(&dateStr, &equity, &bond, &gold, &cash, &cashRate); err != nil {
			return domain.Dataset{}, fmt.Errorf("failed to scan market data row: %w", err)
		}
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("bad date %q in market data: %w", dateStr, err)
		}
		dataset.Dates = append(dataset.Dates, date)
		dataset.Equity = append(dataset.Equity, equity)
		dataset.Bond = append(dataset.Bond, bond)
		dataset.Gold = append(dataset.Gold, gold)
		dataset.Cash = append(dataset.Cash, cash)
		dataset.CashRate = append(dataset.CashRate, cashRate)
	}
	if err := rows.Err(); err != nil {
		return domain.Dataset{}, fmt.Errorf("error iterating market data: %w", err)
	}

	return dataset, nil
}

// LastRefresh returns when the dataset was last refreshed, or ok=false when
// it never was.
func (r *Repository) LastRefresh() (time.Time, bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM metadata WHERE key = ?", lastRefreshKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last refresh: %w", err)
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad last refresh timestamp %q: %w", value, err)
	}
	return t, true, nil
}

// SetLastRefresh records the refresh timestamp.
func (r *Repository) SetLastRefresh(t time.Time) error {
	_, err := r.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		lastRefreshKey, t.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set last refresh: %w", err)
	}
	return nil
}

// Store saves an API payload with expiration = now + ttl.
func (r *Repository) Store(source, key string, payload []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := r.db.Exec(
		"INSERT OR REPLACE INTO api_cache (source, cache_key, payload, fetched_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		source, key, payload, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to store payload for %s/%s: %w", source, key, err)
	}
	return nil
}

// GetIfFresh returns a cached payload only if it has not expired.
// Returns nil, nil if the key doesn't exist or the payload is stale.
func (r *Repository) GetIfFresh(source, key string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRow(
		"SELECT payload FROM api_cache WHERE source = ? AND cache_key = ? AND expires_at > ?",
		source, key, time.Now().Unix()).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payload for %s/%s: %w", source, key, err)
	}
	return payload, nil
}

// GetStale returns a cached payload regardless of expiration. Used as a
// fallback when the upstream API is unavailable.
func (r *Repository) GetStale(source, key string) ([]byte, bool) {
	var payload []byte
	err := r.db.QueryRow(
		"SELECT payload FROM api_cache WHERE source = ? AND cache_key = ?",
		source, key).Scan(&payload)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// PurgeExpiredCache deletes cache rows whose expiration passed more than
// grace ago. Returns the number of rows removed.
func (r *Repository) PurgeExpiredCache(grace time.Duration) (int64, error) {
	res, err := r.db.Exec(
		"DELETE FROM api_cache WHERE expires_at < ?", time.Now().Add(-grace).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return res.RowsAffected()
}
