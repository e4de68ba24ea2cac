// Package scoring provides the similarity, temporal-decay, and importance
// primitives shared by the graph, retrieval, and consolidation packages.
package scoring

import (
	"math"
	"strings"

	"github.com/BaSui01/memflow/types"
)

// Jaccard computes token-set similarity between two texts. Tokens are
// lower-cased whitespace-split words. An empty union yields 0.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Cosine computes cosine similarity between two embedding vectors.
// Mismatched lengths or a zero norm yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TextSimilarity compares two memories: cosine over embeddings when both
// carry one, otherwise Jaccard over text content.
func TextSimilarity(a, b *types.Memory) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return Cosine(a.Embedding, b.Embedding)
	}
	return Jaccard(a.TextContent, b.TextContent)
}
