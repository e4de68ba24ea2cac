// Package store defines the memory/vector store collaborator interface the
// engine consumes, plus in-memory, Redis, SQL, and Qdrant implementations.
package store

import (
	"context"
	"sort"

	"github.com/BaSui01/memflow/scoring"
	"github.com/BaSui01/memflow/types"
)

// RetrieveOptions bounds a retrieval call.
type RetrieveOptions struct {
	// Limit caps the number of results. Zero means the implementation's
	// default.
	Limit int
	// ScoreThreshold drops candidates scoring below it. Ignored for
	// match-all (empty query) retrieval.
	ScoreThreshold float64
}

// ScoredMemory pairs a memory with its semantic relevance score.
type ScoredMemory struct {
	Memory types.Memory `json:"memory"`
	Score  float64      `json:"score"`
}

// HealthStatus reports a store's availability.
type HealthStatus struct {
	Available bool   `json:"available"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Store is the memory/vector store contract consumed by the retriever, the
// relationship graph, and the consolidation engine. An empty query string
// means "match all" and is used for bulk retrieval during consolidation.
// A threadID of "" spans all threads.
type Store interface {
	RetrieveRelevant(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]types.Memory, error)
	RetrieveRelevantWithScore(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]ScoredMemory, error)
	StoreMemories(ctx context.Context, memories []types.Memory) error
	ClearThreadMemories(ctx context.Context, threadID string) error
	HealthStatus(ctx context.Context) HealthStatus
}

// ThreadLister is an optional capability: stores that can enumerate the
// thread IDs they hold implement it, and the engine discovers it by type
// assertion.
type ThreadLister interface {
	ListThreads(ctx context.Context) ([]string, error)
}

// Closer is an optional capability for stores holding external connections.
type Closer interface {
	Close() error
}

// Embedder turns text into an embedding vector. Stores that score
// semantically accept one; without it the in-process stores fall back to
// lexical scoring.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const defaultRetrieveLimit = 100

// scoreAgainst computes the relevance of a memory for the given query.
// Match-all queries score 1. With a query embedding and a memory embedding,
// cosine similarity applies; otherwise lexical Jaccard over the text.
func scoreAgainst(query string, queryEmbedding []float32, m *types.Memory) float64 {
	if query == "" {
		return 1
	}
	if len(queryEmbedding) > 0 && len(m.Embedding) > 0 {
		return scoring.Cosine(queryEmbedding, m.Embedding)
	}
	return scoring.Jaccard(query, m.TextContent)
}

// rankScored sorts by score descending (ties broken by most recent
// CreatedAt) and truncates to the limit.
func rankScored(scored []ScoredMemory, limit int) []ScoredMemory {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
	})
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// stripScores converts scored results to plain memories, preserving order.
func stripScores(scored []ScoredMemory) []types.Memory {
	out := make([]types.Memory, len(scored))
	for i, s := range scored {
		out[i] = s.Memory
	}
	return out
}
