package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Entry is a stored response.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// GenerateCacheKey generates a cache key from a request URL
func GenerateCacheKey(url string) string {
	h := sha256.New()
	h.Write([]byte(url))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Store is a sqlite-backed set of named caches, one per generation.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over the schema created by telemetry.InitDB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open creates the named cache if it does not exist.
func (s *Store) Open(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)",
		name, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	return nil
}

// Keys returns the names of every stored cache, oldest first.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY created_at, name")
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes the named cache and all its entries. It reports whether the cache existed.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE cache_name = ?", name); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n > 0, nil
}

// Put stores e in the named cache, replacing any entry for the same URL.
func (s *Store) Put(ctx context.Context, name string, e *Entry) error {
	if err := s.Open(ctx, name); err != nil {
		return err
	}

	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (cache_name, key, url, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		name, GenerateCacheKey(e.URL), e.URL, e.Status, string(header), e.Body, storedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", e.URL, err)
	}
	return nil
}

// Match looks up url in the named cache. A miss returns (nil, false, nil).
func (s *Store) Match(ctx context.Context, name, url string) (*Entry, bool, error) {
	var (
		e      Entry
		header string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT url, status, header, body, stored_at FROM cache_entries WHERE cache_name = ? AND key = ?",
		name, GenerateCacheKey(url),
	).Scan(&e.URL, &e.Status, &header, &e.Body, &e.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to match %s: %w", url, err)
	}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, false, fmt.Errorf("failed to decode header of %s: %w", url, err)
	}
	return &e, true, nil
}

// Count returns the number of entries in the named cache.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries WHERE cache_name = ?", name).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return n, nil
}

// urls returns the URLs stored in the named cache.
func (s *Store) urls(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT url FROM cache_entries WHERE cache_name = ? ORDER BY url", name)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", name, err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
