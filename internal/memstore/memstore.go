// Package memstore is the SQLite-backed key-value memory an agent session
// reads and writes through the memory capabilities.
package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports a missing key.
var ErrNotFound = errors.New("memstore: key not found")

// Item is one stored memory entry.
type Item struct {
	Key       string   `json:"key"`
	Value     string   `json:"value"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Store wraps the memory table of an opened database.
type Store struct {
	db *sql.DB
}

// New creates a store over db. The schema is managed by the db package.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Put inserts or updates a key. Writes are irreversible: checkpoints do
// not restore memory, so rollback paths only note the mutation.
func (s *Store) Put(ctx context.Context, key, value string, tags []string) error {
	if key == "" {
		return fmt.Errorf("memstore: empty key")
	}
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("memstore: encode tags: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory (key, value, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		key, value, string(tagsJSON), now, now)
	if err != nil {
		return fmt.Errorf("memstore: put %q: %w", key, err)
	}
	return nil
}

// Get returns the item stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Item, error) {
	var it Item
	var tagsJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT key, value, tags, created_at, updated_at FROM memory WHERE key = ?", key,
	).Scan(&it.Key, &it.Value, &tagsJSON, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Item{}, fmt.Errorf("memstore: get %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &it.Tags); err != nil {
		it.Tags = []string{}
	}
	return it, nil
}

// truncateValue caps search result values the way chat surfaces expect.
func truncateValue(v string) string {
	const max = 200
	if len(v) > max {
		return v[:max] + "..."
	}
	return v
}

// Search returns up to maxResults items whose key or value contains query.
func (s *Store) Search(ctx context.Context, query string, maxResults int) ([]Item, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, tags FROM memory WHERE key LIKE ? OR value LIKE ? LIMIT ?",
		like, like, maxResults)
	if err != nil {
		return nil, fmt.Errorf("memstore: search: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var tagsJSON string
		if err := rows.Scan(&it.Key, &it.Value, &tagsJSON); err != nil {
			return nil, fmt.Errorf("memstore: scan: %w", err)
		}
		it.Value = truncateValue(it.Value)
		if err := json.Unmarshal([]byte(tagsJSON), &it.Tags); err != nil {
			it.Tags = []string{}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Delete removes a key, returning ErrNotFound when absent.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("memstore: delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("memstore: delete %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}
