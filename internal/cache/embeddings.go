// Package cache provides a Redis-backed cache for computed embeddings.
// Embedding calls are the expensive step on the retrieval path; caching them
// by content hash lets repeated queries and re-stored text reuse the vector.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a cached vector stays valid.
const DefaultTTL = 24 * time.Hour

// Embeddings caches embedding vectors in Redis keyed by a content hash.
// Cache failures never fail the caller: reads fall through to the compute
// function and writes are best-effort.
type Embeddings struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewEmbeddings wraps an existing Redis client. The prefix namespaces the
// cache keys; a ttl of zero or less falls back to DefaultTTL.
func NewEmbeddings(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Embeddings {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "memflow:embed"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Embeddings{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cache.embeddings")),
	}
}

// key hashes the text so arbitrarily long content maps to a bounded key.
func (c *Embeddings) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text, if present.
func (c *Embeddings) Get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.key(text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		c.logger.Warn("dropping undecodable cached embedding", zap.Error(err))
		return nil, false
	}
	return vec, true
}

// Put stores the vector for text with the configured TTL. Failures are
// logged and swallowed.
func (c *Embeddings) Put(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(text), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// GetOrCompute returns the cached vector for text, computing and caching it
// on a miss. Compute errors propagate and leave the cache untouched.
func (c *Embeddings) GetOrCompute(ctx context.Context, text string, compute func(context.Context, string) ([]float32, error)) ([]float32, error) {
	if vec, ok := c.Get(ctx, text); ok {
		return vec, nil
	}
	vec, err := compute(ctx, text)
	if err != nil {
		return nil, err
	}
	c.Put(ctx, text, vec)
	return vec, nil
}
