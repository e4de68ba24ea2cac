package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// InMemory is a thread-sharded in-process store. It is the default backend
// and the reference for store semantics: scoring happens in-process with
// cosine similarity when embeddings are available and lexical overlap
// otherwise.
type InMemory struct {
	mu      sync.RWMutex
	threads map[string][]*types.Memory

	embedder Embedder
	logger   *zap.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// NewInMemory builds an in-process store. The embedder may be nil, in which
// case retrieval scores lexically.
func NewInMemory(embedder Embedder, logger *zap.Logger) *InMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemory{
		threads:  make(map[string][]*types.Memory),
		embedder: embedder,
		logger:   logger.With(zap.String("component", "store.inmemory")),
		Now:      time.Now,
	}
}

// StoreMemories appends memories to their threads, assigning IDs and
// creation timestamps where missing. Memories are copied on write so the
// caller's slices stay independent.
func (s *InMemory) StoreMemories(ctx context.Context, memories []types.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range memories {
		m := memories[i].Clone()
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.LifecycleStage == "" {
			m.LifecycleStage = types.StageNew
		}
		s.upsertLocked(m)
	}
	return nil
}

// upsertLocked replaces an existing memory with the same ID in the same
// thread, or appends.
func (s *InMemory) upsertLocked(m *types.Memory) {
	bucket := s.threads[m.ThreadID]
	for i, existing := range bucket {
		if existing.ID == m.ID {
			bucket[i] = m
			return
		}
	}
	s.threads[m.ThreadID] = append(bucket, m)
}

// RetrieveRelevant returns memories ranked by relevance to the query. An
// empty query matches everything; an empty threadID spans all threads.
func (s *InMemory) RetrieveRelevant(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]types.Memory, error) {
	scored, err := s.RetrieveRelevantWithScore(ctx, query, threadID, opts)
	if err != nil {
		return nil, err
	}
	return stripScores(scored), nil
}

// RetrieveRelevantWithScore is RetrieveRelevant with per-result scores
// attached.
func (s *InMemory) RetrieveRelevantWithScore(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]ScoredMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryEmbedding := s.embedQuery(ctx, query)

	s.mu.RLock()
	candidates := s.candidatesLocked(threadID)
	scored := make([]ScoredMemory, 0, len(candidates))
	for _, m := range candidates {
		score := scoreAgainst(query, queryEmbedding, m)
		if query != "" && score < opts.ScoreThreshold {
			continue
		}
		scored = append(scored, ScoredMemory{Memory: *m.Clone(), Score: score})
	}
	s.mu.RUnlock()

	return rankScored(scored, opts.Limit), nil
}

func (s *InMemory) candidatesLocked(threadID string) []*types.Memory {
	if threadID != "" {
		return s.threads[threadID]
	}
	var all []*types.Memory
	for _, bucket := range s.threads {
		all = append(all, bucket...)
	}
	return all
}

// embedQuery embeds the query text when an embedder is configured. Embedding
// failures degrade to lexical scoring rather than failing the read.
func (s *InMemory) embedQuery(ctx context.Context, query string) []float32 {
	if s.embedder == nil || query == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, falling back to lexical scoring", zap.Error(err))
		return nil
	}
	return vec
}

// ClearThreadMemories removes every memory belonging to the thread.
func (s *InMemory) ClearThreadMemories(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.threads, threadID)
	s.mu.Unlock()
	return nil
}

// ListThreads enumerates thread IDs currently holding memories.
func (s *InMemory) ListThreads(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	threads := make([]string, 0, len(s.threads))
	for id := range s.threads {
		threads = append(threads, id)
	}
	return threads, nil
}

// HealthStatus always reports healthy: the store lives in-process.
func (s *InMemory) HealthStatus(ctx context.Context) HealthStatus {
	return HealthStatus{Available: true, Connected: true}
}

// Len reports the number of memories stored for a thread.
func (s *InMemory) Len(threadID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads[threadID])
}
