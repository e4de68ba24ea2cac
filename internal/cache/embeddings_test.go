package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Embeddings, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewEmbeddings(client, "test:embed", ttl, zap.NewNop()), mr
}

func countingCompute(calls *atomic.Int32, vec []float32) func(context.Context, string) ([]float32, error) {
	return func(context.Context, string) ([]float32, error) {
		calls.Add(1)
		return vec, nil
	}
}

func TestEmbeddingsGetOrCompute(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	var calls atomic.Int32
	compute := countingCompute(&calls, []float32{0.1, 0.2, 0.3})

	first, err := c.GetOrCompute(ctx, "hello world", compute)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, first)
	assert.Equal(t, int32(1), calls.Load())

	second, err := c.GetOrCompute(ctx, "hello world", compute)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "repeat lookup must hit the cache")

	_, err = c.GetOrCompute(ctx, "different text", compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbeddingsComputeErrorNotCached(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	boom := errors.New("embedder offline")
	_, err := c.GetOrCompute(ctx, "flaky", func(context.Context, string) ([]float32, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	var calls atomic.Int32
	vec, err := c.GetOrCompute(ctx, "flaky", countingCompute(&calls, []float32{1}))
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, int32(1), calls.Load(), "failed compute must not leave a cache entry")
}

func TestEmbeddingsTTLExpiry(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	var calls atomic.Int32
	compute := countingCompute(&calls, []float32{0.5})

	_, err := c.GetOrCompute(ctx, "short lived", compute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = c.GetOrCompute(ctx, "short lived", compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "expired entry must be recomputed")
}

func TestEmbeddingsDegradedCacheFallsThrough(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewEmbeddings(client, "test:embed", time.Hour, zap.NewNop())
	mr.Close()

	var calls atomic.Int32
	vec, err := c.GetOrCompute(context.Background(), "still works", countingCompute(&calls, []float32{0.9}))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.9}, vec)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbeddingsKeyBoundsLongText(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, time.Hour)
	long := make([]byte, 1<<16)
	for i := range long {
		long[i] = 'a'
	}
	key := c.key(string(long))
	assert.Len(t, key, len("test:embed:")+64)
}
