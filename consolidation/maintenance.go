package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/scoring"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

const compressSummaryLimit = 200

// compactMetadataKeys is the metadata a compressed memory keeps. Everything
// else is transient detail the digest already covers.
var compactMetadataKeys = map[string]struct{}{
	"facts":           {},
	"entities":        {},
	"summarizedCount": {},
}

// ShouldConsolidate reports whether threadID holds enough memories for a
// pass to do anything.
func (e *Engine) ShouldConsolidate(ctx context.Context, threadID string) (bool, error) {
	memories, err := e.store.RetrieveRelevant(ctx, "", threadID, store.RetrieveOptions{
		Limit: e.config.MinMemoriesForConsolidation,
	})
	if err != nil {
		return false, fmt.Errorf("count thread memories: %w", err)
	}
	return len(memories) >= e.config.MinMemoriesForConsolidation, nil
}

// CalculateImportanceScore scores mem with the engine's clock. The score
// blends stored importance, access frequency, recency, and lifecycle stage.
func (e *Engine) CalculateImportanceScore(mem *types.Memory) float64 {
	return scoring.ImportanceScore(mem, e.Now())
}

// CompressMemory reduces mem to a compact digest: a summary line plus any
// key facts and entities from its metadata. The returned copy records the
// achieved compression ratio; mem itself is not modified.
func (e *Engine) CompressMemory(mem *types.Memory) (*types.Memory, error) {
	if mem == nil {
		return nil, types.NewValidationError("memory is required")
	}

	originalJSON, err := json.Marshal(mem)
	if err != nil {
		return nil, fmt.Errorf("marshal original memory: %w", err)
	}

	summary := mem.Summary
	if summary == "" {
		summary = truncate(mem.TextContent, compressSummaryLimit)
	}

	var digest strings.Builder
	digest.WriteString("Summary: ")
	digest.WriteString(summary)
	if facts := metadataStrings(mem.Metadata, "facts"); len(facts) > 0 {
		digest.WriteString("\nKey Facts: ")
		digest.WriteString(strings.Join(facts, "; "))
	}
	if entities := metadataStrings(mem.Metadata, "entities"); len(entities) > 0 {
		digest.WriteString("\nEntities: ")
		digest.WriteString(strings.Join(entities, ", "))
	}

	compressed := mem.Clone()
	compressed.TextContent = digest.String()
	compressed.Summary = summary
	compressed.ConsolidationStrategy = types.StrategyCompress

	kept := make(map[string]any)
	for k, v := range mem.Metadata {
		if _, ok := compactMetadataKeys[k]; ok {
			kept[k] = v
		}
	}
	if len(kept) == 0 {
		compressed.Metadata = nil
	} else {
		compressed.Metadata = kept
	}

	compressedJSON, err := json.Marshal(compressed)
	if err != nil {
		return nil, fmt.Errorf("marshal compressed memory: %w", err)
	}
	compressed.CompressionRatio = float64(len(compressedJSON)) / float64(len(originalJSON))
	return compressed, nil
}

// metadataStrings pulls a string list out of loosely-typed metadata. Entries
// may be strings or objects with a "name" field.
func metadataStrings(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				if name, ok := it["name"].(string); ok {
					out = append(out, name)
				}
			}
		}
		return out
	default:
		return nil
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// CleanupPolicy removes memories by age and by importance floor. Zero values
// disable the corresponding rule. PreserveKeywords exempts matching memories
// from the age rule only; the importance floor always applies.
type CleanupPolicy struct {
	MaxAgeDays       float64  `json:"max_age_days"`
	MinImportance    float64  `json:"min_importance"`
	PreserveKeywords []string `json:"preserve_keywords,omitempty"`
}

// ApplyCleanupPolicies removes the thread's memories matching policy and
// reports how many were deleted. Nothing is written when no memory matches.
func (e *Engine) ApplyCleanupPolicies(ctx context.Context, threadID string, policy CleanupPolicy) (int, error) {
	memories, err := e.store.RetrieveRelevant(ctx, "", threadID, store.RetrieveOptions{Limit: e.config.FetchLimit})
	if err != nil {
		return 0, fmt.Errorf("fetch thread memories: %w", err)
	}
	if len(memories) == 0 {
		return 0, nil
	}

	keywords := make([]string, 0, len(policy.PreserveKeywords))
	for _, kw := range policy.PreserveKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	now := e.Now()
	survivors := make([]*types.Memory, 0, len(memories))
	removed := 0
	for i := range memories {
		m := &memories[i]
		tooOld := policy.MaxAgeDays > 0 && m.AgeHours(now) > policy.MaxAgeDays*24 &&
			!containsAny(m.TextContent, keywords)
		tooWeak := policy.MinImportance > 0 && m.Importance < policy.MinImportance
		if tooOld || tooWeak {
			removed++
			continue
		}
		survivors = append(survivors, m)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := e.persist(ctx, threadID, memories, survivors); err != nil {
		return 0, err
	}
	e.rebuildGraph(threadID, survivors)

	if e.collector != nil {
		e.collector.RecordMemoryOperations(metrics.OpPruned, removed)
	}
	e.logger.Info("cleanup policies applied",
		zap.String("thread_id", threadID),
		zap.Int("removed", removed),
		zap.Int("remaining", len(survivors)))
	return removed, nil
}

func containsAny(text string, lowered []string) bool {
	if len(lowered) == 0 {
		return false
	}
	lc := strings.ToLower(text)
	for _, kw := range lowered {
		if strings.Contains(lc, kw) {
			return true
		}
	}
	return false
}
