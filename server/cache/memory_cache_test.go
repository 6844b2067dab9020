package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type entry struct {
	Name  string    `json:"name"`
	Reps  []float64 `json:"reps"`
	Valid bool      `json:"valid"`
}

func newCache(t *testing.T, size int, ttl time.Duration) *MemoryCache {
	t.Helper()
	c := NewMemoryCache(size, ttl, time.Hour, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCache(t, 4, time.Minute)

	in := entry{Name: "pushup", Reps: []float64{0.9, 1}, Valid: true}
	require.NoError(t, c.Set(ctx, "k", in))

	var out entry
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, in, out)

	// Values are stored by copy.
	in.Reps[0] = 0
	out.Reps[1] = 0
	var again entry
	require.NoError(t, c.Get(ctx, "k", &again))
	assert.Equal(t, []float64{0.9, 1}, again.Reps)

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrCacheMiss)

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCache(t, 4, time.Minute)

	require.NoError(t, c.SetWithTTL(ctx, "short", 1, -time.Second))
	var v int
	assert.ErrorIs(t, c.Get(ctx, "short", &v), ErrCacheMiss)
	_, err := c.GetTTL(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "long", 2))
	ttl, err := c.GetTTL(ctx, "long")
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 1)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCache(t, 2, time.Minute)

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	var v int
	require.NoError(t, c.Get(ctx, "a", &v))
	require.NoError(t, c.Set(ctx, "c", 3))

	okA, _ := c.Exists(ctx, "a")
	okB, _ := c.Exists(ctx, "b")
	okC, _ := c.Exists(ctx, "c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Items)
}

func TestGenerateCacheKey(t *testing.T) {
	t.Parallel()

	a := GenerateCacheKey([]byte("ab"), []byte("c"))
	b := GenerateCacheKey([]byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, GenerateCacheKey([]byte("ab"), []byte("c")))
	assert.Len(t, a, 64)
}
