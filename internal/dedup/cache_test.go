package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSeenRecord(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(10, time.Minute)

	seen, err := cache.Seen(ctx, "uuid-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, cache.Record(ctx, "uuid-1"))

	seen, err = cache.Seen(ctx, "uuid-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = cache.Seen(ctx, "uuid-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryCacheEvictsExpiredAtCap(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(3, time.Minute)

	current := time.Unix(1000, 0)
	cache.now = func() time.Time { return current }

	require.NoError(t, cache.Record(ctx, "old-1"))
	require.NoError(t, cache.Record(ctx, "old-2"))

	// Move past twice the window so the old entries become evictable.
	current = current.Add(3 * time.Minute)
	require.NoError(t, cache.Record(ctx, "fresh-1"))
	require.NoError(t, cache.Record(ctx, "fresh-2"))

	seen, _ := cache.Seen(ctx, "old-1")
	assert.False(t, seen, "expired entry should have been evicted at cap")
	seen, _ = cache.Seen(ctx, "fresh-1")
	assert.True(t, seen)
	seen, _ = cache.Seen(ctx, "fresh-2")
	assert.True(t, seen)
}

func TestMemoryCacheDropsOldestWhenNothingExpired(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(3, time.Hour)

	current := time.Unix(1000, 0)
	cache.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		require.NoError(t, cache.Record(ctx, fmt.Sprintf("id-%d", i)))
		current = current.Add(time.Second)
	}

	// Cap reached, nothing past 2x window: the oldest entry makes room.
	require.NoError(t, cache.Record(ctx, "id-3"))

	seen, _ := cache.Seen(ctx, "id-0")
	assert.False(t, seen)
	seen, _ = cache.Seen(ctx, "id-3")
	assert.True(t, seen)
}

func TestMemoryCacheDefaultCap(t *testing.T) {
	cache := NewMemoryCache(0, time.Minute)
	assert.Equal(t, DefaultMaxEntries, cache.maxEntries)
}
