// Package calculations provides a bounded, TTL-based cache for derived
// results (covariance matrices, solve results) backed by cache.db.
package calculations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = sql.ErrNoRows

// Cache provides key-value storage with expiration. Values are encoded
// with msgpack so matrices and price series stay compact.
type Cache struct {
	db *sql.DB
}

// NewCache creates a new cache instance.
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// InitSchema creates the cache table if missing.
func (c *Cache) InitSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS calc_cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_calc_cache_expires ON calc_cache(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}
	return nil
}

// Set stores a value under key with the given TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	_, err = c.db.Exec(`
		INSERT INTO calc_cache (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`, key, encoded, expiresAt)
	return err
}

// Get retrieves a value into dest. Returns ErrCacheMiss if the key does
// not exist or has expired.
func (c *Cache) Get(key string, dest interface{}) error {
	var encoded []byte
	var expiresAt int64
	err := c.db.QueryRow("SELECT value, expires_at FROM calc_cache WHERE key = ?", key).Scan(&encoded, &expiresAt)
	if err != nil {
		return err
	}

	if time.Now().Unix() >= expiresAt {
		return ErrCacheMiss
	}

	return msgpack.Unmarshal(encoded, dest)
}

// Delete removes a cache entry.
func (c *Cache) Delete(key string) error {
	_, err := c.db.Exec("DELETE FROM calc_cache WHERE key = ?", key)
	return err
}

// DeleteByPrefix removes all cache entries matching a prefix.
func (c *Cache) DeleteByPrefix(prefix string) error {
	_, err := c.db.Exec("DELETE FROM calc_cache WHERE key LIKE ?", prefix+"%")
	return err
}

// EvictExpired removes all expired entries and returns the number removed.
func (c *Cache) EvictExpired() (int64, error) {
	res, err := c.db.Exec("DELETE FROM calc_cache WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
