package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CacheEntry describes a stored response without its body.
type CacheEntry struct {
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	Hits      int       `json:"hits"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

// CacheQuery selects cache entries by exact key, key prefix, expiry or all.
type CacheQuery struct {
	All     bool
	Key     string
	Prefix  string
	Expired bool
}

func (q CacheQuery) Validate() error {
	if q.All || q.Expired {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --expired, --key, or --prefix")
}

func (q CacheQuery) whereClause(now time.Time) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var clauses []string
	var args []any
	switch {
	case strings.TrimSpace(q.Key) != "":
		clauses = append(clauses, "cache_key = ?")
		args = append(args, strings.TrimSpace(q.Key))
	case strings.TrimSpace(q.Prefix) != "":
		clauses = append(clauses, "cache_key LIKE ?")
		args = append(args, strings.TrimSpace(q.Prefix)+"%")
	}
	if q.Expired {
		clauses = append(clauses, "expires_at <= ?")
		args = append(args, now.UnixMilli())
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (s *Store) ListCacheEntries(ctx context.Context, q CacheQuery) ([]CacheEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	where, args, err := q.whereClause(now)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT cache_key, size, hits, stored_at, expires_at
		FROM response_cache
		%s
		ORDER BY cache_key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []CacheEntry{}
	for rows.Next() {
		var (
			entry     CacheEntry
			storedAt  int64
			expiresAt int64
		)
		if err := rows.Scan(&entry.Key, &entry.Size, &entry.Hits, &storedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan cache entries: %w", err)
		}
		entry.StoredAt = time.UnixMilli(storedAt).UTC()
		entry.ExpiresAt = time.UnixMilli(expiresAt).UTC()
		entry.Expired = !entry.ExpiresAt.After(now)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	return entries, nil
}

func (s *Store) CountCacheEntries(ctx context.Context, q CacheQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause(s.now())
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM response_cache
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeCacheEntries(ctx context.Context, q CacheQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause(s.now())
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM response_cache
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return affected, nil
}
