package types

import "time"

// LifecycleStage classifies a memory by age. Stages advance monotonically
// under normal aging; only an explicit merge during consolidation may move a
// memory back toward an earlier stage.
type LifecycleStage string

const (
	StageNew          LifecycleStage = "NEW"
	StageActive       LifecycleStage = "ACTIVE"
	StageMature       LifecycleStage = "MATURE"
	StageDormant      LifecycleStage = "DORMANT"
	StageArchiveReady LifecycleStage = "ARCHIVE_READY"
	StageArchived     LifecycleStage = "ARCHIVED"
)

var stageRanks = map[LifecycleStage]int{
	StageNew:          0,
	StageActive:       1,
	StageMature:       2,
	StageDormant:      3,
	StageArchiveReady: 4,
	StageArchived:     5,
}

// Rank returns the ordinal position of the stage, NEW being the youngest.
// Unknown stages rank as NEW.
func (s LifecycleStage) Rank() int {
	return stageRanks[s]
}

// Valid reports whether s is one of the defined stages.
func (s LifecycleStage) Valid() bool {
	_, ok := stageRanks[s]
	return ok
}

// MaxStage returns the more aged of the two stages.
func MaxStage(a, b LifecycleStage) LifecycleStage {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// MinStage returns the less aged of the two stages.
func MinStage(a, b LifecycleStage) LifecycleStage {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// ConsolidationStrategy records how a memory was produced or transformed by
// the consolidation engine.
type ConsolidationStrategy string

const (
	StrategyMerge       ConsolidationStrategy = "merge"
	StrategySummarize   ConsolidationStrategy = "summarize"
	StrategyCluster     ConsolidationStrategy = "cluster"
	StrategyDeduplicate ConsolidationStrategy = "deduplicate"
	StrategyArchive     ConsolidationStrategy = "archive"
	StrategyCompress    ConsolidationStrategy = "compress"
)

// Memory is a stored, retrievable unit of conversational content together
// with the lifecycle and importance metadata the consolidation engine
// operates on.
type Memory struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	TextContent string `json:"text_content"`
	Summary     string `json:"summary,omitempty"`

	// Importance is the explicit base score in [0, 1]. ImportanceScore is
	// the derived multi-factor score and may differ.
	Importance      float64 `json:"importance"`
	ImportanceScore float64 `json:"importance_score,omitempty"`

	AccessCount    int       `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ArchivedAt     time.Time `json:"archived_at,omitempty"`

	LifecycleStage LifecycleStage `json:"lifecycle_stage"`

	// Embedding is optional; when absent, similarity falls back to lexical
	// comparison over TextContent.
	Embedding []float32 `json:"embedding,omitempty"`

	ClusterID string `json:"cluster_id,omitempty"`

	// ConsolidatedFrom lists the IDs of source memories absorbed into this
	// one. Entries are never removed once recorded.
	ConsolidatedFrom      []string              `json:"consolidated_from,omitempty"`
	ConsolidationStrategy ConsolidationStrategy `json:"consolidation_strategy,omitempty"`
	CompressionRatio      float64               `json:"compression_ratio,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// AgeHours returns the memory's age in hours at the given instant. A zero
// CreatedAt yields age zero.
func (m *Memory) AgeHours(now time.Time) float64 {
	if m.CreatedAt.IsZero() {
		return 0
	}
	age := now.Sub(m.CreatedAt).Hours()
	if age < 0 {
		return 0
	}
	return age
}

// Clone returns a deep copy of the memory so callers can mutate it without
// affecting stored state.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	out := *m
	if m.Embedding != nil {
		out.Embedding = make([]float32, len(m.Embedding))
		copy(out.Embedding, m.Embedding)
	}
	if m.ConsolidatedFrom != nil {
		out.ConsolidatedFrom = make([]string, len(m.ConsolidatedFrom))
		copy(out.ConsolidatedFrom, m.ConsolidatedFrom)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// AddProvenance appends the given source IDs to ConsolidatedFrom, skipping
// duplicates and the memory's own ID.
func (m *Memory) AddProvenance(ids ...string) {
	seen := make(map[string]struct{}, len(m.ConsolidatedFrom))
	for _, id := range m.ConsolidatedFrom {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if id == "" || id == m.ID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		m.ConsolidatedFrom = append(m.ConsolidatedFrom, id)
	}
}
