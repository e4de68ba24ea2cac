package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/internal/cache"
	"github.com/BaSui01/memflow/internal/tlsutil"
	"github.com/BaSui01/memflow/types"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	KeyPrefix    string        `yaml:"key_prefix" json:"key_prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`

	// TLS enables a hardened TLS connection, required by most managed Redis
	// offerings.
	TLS bool `yaml:"tls" json:"tls"`

	// EmbedCacheTTL, when positive and an embedder is configured, caches
	// computed embeddings in the same Redis for that duration.
	EmbedCacheTTL time.Duration `yaml:"embed_cache_ttl" json:"embed_cache_ttl"`
}

// DefaultRedisConfig returns production defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "memflow",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// Redis stores each thread's memories in a hash keyed by memory ID, with a
// set tracking known threads. Scoring happens in-process after fetch, the
// same way the in-memory store scores.
type Redis struct {
	client   *redis.Client
	prefix   string
	embedder Embedder
	logger   *zap.Logger

	Now func() time.Time
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(cfg RedisConfig, embedder Embedder, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewError(types.ErrStoreUnavailable, "redis ping failed").WithCause(err).WithRetryable(true)
	}

	if embedder != nil && cfg.EmbedCacheTTL > 0 {
		embedder = &cachedEmbedder{
			inner: embedder,
			cache: cache.NewEmbeddings(client, cfg.KeyPrefix+":embed", cfg.EmbedCacheTTL, logger),
		}
	}

	return &Redis{
		client:   client,
		prefix:   cfg.KeyPrefix,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "store.redis")),
		Now:      time.Now,
	}, nil
}

// cachedEmbedder memoizes embedding calls through the Redis-backed cache.
type cachedEmbedder struct {
	inner Embedder
	cache *cache.Embeddings
}

func (e *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.cache.GetOrCompute(ctx, text, e.inner.Embed)
}

func (s *Redis) threadKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s", s.prefix, threadID)
}

func (s *Redis) threadsKey() string {
	return s.prefix + ":threads"
}

// StoreMemories writes memories into their thread hashes in one pipeline.
func (s *Redis) StoreMemories(ctx context.Context, memories []types.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	now := s.Now()

	pipe := s.client.Pipeline()
	for i := range memories {
		m := memories[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.LifecycleStage == "" {
			m.LifecycleStage = types.StageNew
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return types.NewError(types.ErrInternal, "marshal memory").WithCause(err)
		}
		pipe.HSet(ctx, s.threadKey(m.ThreadID), m.ID, payload)
		pipe.SAdd(ctx, s.threadsKey(), m.ThreadID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "redis store failed").WithCause(err).WithRetryable(true)
	}
	return nil
}

// RetrieveRelevant returns memories ranked by relevance to the query.
func (s *Redis) RetrieveRelevant(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]types.Memory, error) {
	scored, err := s.RetrieveRelevantWithScore(ctx, query, threadID, opts)
	if err != nil {
		return nil, err
	}
	return stripScores(scored), nil
}

// RetrieveRelevantWithScore fetches candidates from Redis and scores them
// in-process.
func (s *Redis) RetrieveRelevantWithScore(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]ScoredMemory, error) {
	threadIDs := []string{threadID}
	if threadID == "" {
		var err error
		threadIDs, err = s.ListThreads(ctx)
		if err != nil {
			return nil, err
		}
	}

	var queryEmbedding []float32
	if s.embedder != nil && query != "" {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("query embedding failed, falling back to lexical scoring", zap.Error(err))
		} else {
			queryEmbedding = vec
		}
	}

	var scored []ScoredMemory
	for _, tid := range threadIDs {
		values, err := s.client.HVals(ctx, s.threadKey(tid)).Result()
		if err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "redis fetch failed").WithCause(err).WithRetryable(true)
		}
		for _, raw := range values {
			var m types.Memory
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				s.logger.Warn("skipping undecodable memory", zap.String("thread_id", tid), zap.Error(err))
				continue
			}
			score := scoreAgainst(query, queryEmbedding, &m)
			if query != "" && score < opts.ScoreThreshold {
				continue
			}
			scored = append(scored, ScoredMemory{Memory: m, Score: score})
		}
	}
	return rankScored(scored, opts.Limit), nil
}

// ClearThreadMemories deletes the thread hash and drops the thread from the
// index set.
func (s *Redis) ClearThreadMemories(ctx context.Context, threadID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.threadKey(threadID))
	pipe.SRem(ctx, s.threadsKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "redis clear failed").WithCause(err).WithRetryable(true)
	}
	return nil
}

// ListThreads returns the IDs of threads holding memories.
func (s *Redis) ListThreads(ctx context.Context) ([]string, error) {
	threads, err := s.client.SMembers(ctx, s.threadsKey()).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "redis list threads failed").WithCause(err).WithRetryable(true)
	}
	return threads, nil
}

// HealthStatus pings the server.
func (s *Redis) HealthStatus(ctx context.Context) HealthStatus {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return HealthStatus{Available: false, Connected: false, Error: err.Error()}
	}
	return HealthStatus{Available: true, Connected: true}
}

// Close releases the client's connection pool.
func (s *Redis) Close() error {
	return s.client.Close()
}
