//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benetwork/benetwork/internal/config"
)

func openMigrated(t *testing.T, now *time.Time) *Store {
	t.Helper()

	s, err := Open(context.Background(), config.StoreConfig{
		Driver: "libsql",
		Path:   "file:" + t.TempDir() + "/cache.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.Clock = func() time.Time { return *now }
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openMigrated(t, &now)

	_, ok, err := s.Get(ctx, "GET https://api.example.com/a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "GET https://api.example.com/a", []byte(`{"a":1}`), time.Minute))

	body, ok, err := s.Get(ctx, "GET https://api.example.com/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(body))

	now = now.Add(2 * time.Minute)
	_, ok, err = s.Get(ctx, "GET https://api.example.com/a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheSetIgnoresNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openMigrated(t, &now)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))

	count, err := s.CountCacheEntries(ctx, CacheQuery{All: true})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCacheAdminQueries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openMigrated(t, &now)

	require.NoError(t, s.Set(ctx, "GET https://a.example.com/1", []byte("one"), time.Minute))
	require.NoError(t, s.Set(ctx, "GET https://a.example.com/2", []byte("two!"), time.Hour))
	require.NoError(t, s.Set(ctx, "GET https://b.example.com/1", []byte("x"), time.Hour))

	_, _, err := s.Get(ctx, "GET https://a.example.com/2")
	require.NoError(t, err)

	entries, err := s.ListCacheEntries(ctx, CacheQuery{Prefix: "GET https://a."})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "GET https://a.example.com/2", entries[1].Key)
	require.Equal(t, 4, entries[1].Size)
	require.Equal(t, 1, entries[1].Hits)

	now = now.Add(5 * time.Minute)
	expired, err := s.CountCacheEntries(ctx, CacheQuery{Expired: true})
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	purged, err := s.PurgeCacheEntries(ctx, CacheQuery{Expired: true})
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	purged, err = s.PurgeCacheEntries(ctx, CacheQuery{All: true})
	require.NoError(t, err)
	require.EqualValues(t, 2, purged)

	_, err = s.PurgeCacheEntries(ctx, CacheQuery{})
	require.Error(t, err)
}
