package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/store"
)

// SemanticNeighbor pairs a graph node with its similarity score from the
// external store.
type SemanticNeighbor struct {
	Node  Node    `json:"node"`
	Score float64 `json:"score"`
}

// SemanticNeighbors finds nodes semantically close to nodeID by querying the
// external similarity store with the node's content. Results whose ids do not
// resolve to live graph nodes are dropped. A missing node is a validation
// error; a store failure degrades to an empty result with a logged warning.
func (g *Graph) SemanticNeighbors(ctx context.Context, nodeID string, limit int) ([]SemanticNeighbor, error) {
	if limit <= 0 {
		limit = 10
	}

	g.mu.RLock()
	idx, ok := g.nodeByID[nodeID]
	if !ok {
		g.mu.RUnlock()
		return nil, fmt.Errorf("semantic neighbors of %q: %w", nodeID, ErrNodeNotFound)
	}
	query := g.nodes[idx].node.Content
	if query == "" {
		query = g.nodes[idx].node.Label
	}
	threadID := g.nodes[idx].node.ThreadID
	g.mu.RUnlock()

	if g.semantic == nil {
		return nil, nil
	}

	// The lock is not held across the store call: it may take arbitrarily
	// long and must not block graph mutation.
	scored, err := g.semantic.RetrieveRelevantWithScore(ctx, query, threadID, store.RetrieveOptions{
		Limit: limit + 1, // the node itself may come back
	})
	if err != nil {
		g.logger.Warn("semantic neighbor lookup degraded to empty result",
			zap.String("node_id", nodeID),
			zap.Error(err))
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	neighbors := make([]SemanticNeighbor, 0, len(scored))
	for _, s := range scored {
		if s.Memory.ID == nodeID {
			continue
		}
		ni, ok := g.nodeByID[s.Memory.ID]
		if !ok {
			continue
		}
		neighbors = append(neighbors, SemanticNeighbor{
			Node:  copyNode(g.nodes[ni].node),
			Score: s.Score,
		})
		if len(neighbors) >= limit {
			break
		}
	}
	return neighbors, nil
}
