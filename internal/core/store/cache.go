package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Get returns a cached response body if it has not expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.DB == nil {
		return nil, false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("cache key is required")
	}

	var body []byte
	row := s.DB.QueryRowContext(ctx, `
		SELECT body
		FROM response_cache
		WHERE cache_key = ? AND expires_at > ?
	`, key, s.now().UnixMilli())
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch cached response: %w", err)
	}

	if _, err := s.DB.ExecContext(ctx, `UPDATE response_cache SET hits = hits + 1 WHERE cache_key = ?`, key); err != nil {
		return nil, false, fmt.Errorf("record cache hit: %w", err)
	}
	return body, true, nil
}

// Set stores a response body with a TTL. Non-positive TTLs are ignored.
func (s *Store) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		return nil
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("cache key is required")
	}
	if body == nil {
		body = []byte{}
	}

	now := s.now()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO response_cache (cache_key, body, size, stored_at, expires_at, hits)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(cache_key) DO UPDATE SET
			body = excluded.body,
			size = excluded.size,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at,
			hits = 0
	`, key, body, len(body), now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("store cached response: %w", err)
	}
	return nil
}
