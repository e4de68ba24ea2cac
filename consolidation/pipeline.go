package consolidation

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/memflow/scoring"
	"github.com/BaSui01/memflow/types"
)

// Summarized groups keep this many distinct sentences.
const (
	summaryMaxSentences   = 5
	summaryMinSentenceLen = 10

	// Cluster groups up to this size merge; larger groups summarize.
	clusterMergeLimit = 5
)

// transition is one lifecycle move, aggregated per pass for metrics.
type transition struct {
	from, to types.LifecycleStage
}

// categorizeByAge assigns every memory the lifecycle stage its age implies.
// Stages only advance (aging never rejuvenates) and ARCHIVED is terminal.
// The returned map counts the transitions that occurred.
func categorizeByAge(memories []*types.Memory, cfg Config, now time.Time) map[transition]int {
	moves := make(map[transition]int)
	for _, m := range memories {
		next := types.MaxStage(m.LifecycleStage, stageForAge(m.AgeHours(now), cfg))
		if next == m.LifecycleStage {
			continue
		}
		moves[transition{from: m.LifecycleStage, to: next}]++
		m.LifecycleStage = next
	}
	return moves
}

// stageForAge maps an age to the stage the thresholds imply. Ages below
// maturity are ACTIVE; NEW exists only between creation and the first pass.
func stageForAge(ageHours float64, cfg Config) types.LifecycleStage {
	switch {
	case ageHours < cfg.MaturityHours:
		return types.StageActive
	case ageHours < cfg.DormancyHours:
		return types.StageMature
	case ageHours < cfg.ArchiveHours:
		return types.StageDormant
	default:
		return types.StageArchiveReady
	}
}

// applyImportanceDecay shrinks every memory's base importance exponentially
// with its age in days.
func applyImportanceDecay(memories []*types.Memory, ratePerDay float64, now time.Time) {
	for _, m := range memories {
		m.Importance *= math.Exp(-ratePerDay * m.AgeHours(now) / 24)
	}
}

// deduplicateActive merges near-identical ACTIVE memories at the strict
// similarity threshold. Memories in other stages pass through untouched.
// Returns the surviving set and the number of memories absorbed.
func deduplicateActive(memories []*types.Memory, threshold float64) ([]*types.Memory, int) {
	isActive := func(m *types.Memory) bool { return m.LifecycleStage == types.StageActive }
	return mergeGroups(memories, threshold, isActive, func(group []*types.Memory) *types.Memory {
		return mergeMemories(group, types.StrategyDeduplicate)
	})
}

// clusterAndSummarize groups the deduplicated set at the looser cluster
// threshold. Groups of 2..clusterMergeLimit merge; larger groups collapse
// into a synthetic sentence summary; singletons pass through. Returns the
// surviving set plus how many memories the merge and summarize paths each
// absorbed.
func clusterAndSummarize(memories []*types.Memory, threshold float64) ([]*types.Memory, int, int) {
	var merged, summarized int
	out, _ := mergeGroups(memories, threshold, nil, func(group []*types.Memory) *types.Memory {
		if len(group) > clusterMergeLimit {
			summarized += len(group) - 1
			return summarizeGroup(group)
		}
		merged += len(group) - 1
		m := mergeMemories(group, types.StrategyCluster)
		m.ClusterID = uuid.NewString()
		return m
	})
	return out, merged, summarized
}

// mergeGroups greedily partitions memories: each unassigned eligible seed
// absorbs every later unassigned eligible memory whose similarity reaches
// the threshold. One pass, no transitive closure. Ineligible memories and
// singleton groups keep their original position; each group of two or more
// is replaced by merge(group).
func mergeGroups(
	memories []*types.Memory,
	threshold float64,
	eligible func(*types.Memory) bool,
	merge func([]*types.Memory) *types.Memory,
) ([]*types.Memory, int) {
	out := make([]*types.Memory, 0, len(memories))
	assigned := make([]bool, len(memories))
	absorbed := 0

	for i, seed := range memories {
		if assigned[i] {
			continue
		}
		if eligible != nil && !eligible(seed) {
			out = append(out, seed)
			continue
		}

		group := []*types.Memory{seed}
		for j := i + 1; j < len(memories); j++ {
			if assigned[j] {
				continue
			}
			candidate := memories[j]
			if eligible != nil && !eligible(candidate) {
				continue
			}
			if scoring.TextSimilarity(seed, candidate) >= threshold {
				group = append(group, candidate)
				assigned[j] = true
			}
		}

		if len(group) == 1 {
			out = append(out, seed)
			continue
		}
		out = append(out, merge(group))
		absorbed += len(group) - 1
	}
	return out, absorbed
}

// mergeMemories combines a similarity group into one memory. The primary is
// the highest-importance member (most recent on ties) and seeds the merged
// record, which gets a fresh id and lists every constituent in its
// provenance. Content is the deduplicated union joined by newlines;
// importance is the group maximum, access counts sum, and the lifecycle
// stage is the least aged in the group.
func mergeMemories(group []*types.Memory, strategy types.ConsolidationStrategy) *types.Memory {
	primary := group[0]
	for _, m := range group[1:] {
		if m.Importance > primary.Importance ||
			(m.Importance == primary.Importance && m.CreatedAt.After(primary.CreatedAt)) {
			primary = m
		}
	}

	merged := primary.Clone()
	merged.ID = uuid.NewString()
	merged.ConsolidationStrategy = strategy

	contents := make([]string, 0, len(group))
	seen := make(map[string]struct{}, len(group))
	appendContent := func(text string) {
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		contents = append(contents, text)
	}
	appendContent(primary.TextContent)

	stage := primary.LifecycleStage
	importance := primary.Importance
	access := 0
	lastAccess := primary.LastAccessedAt

	for _, m := range group {
		if m != primary {
			appendContent(m.TextContent)
		}
		access += m.AccessCount
		if m.Importance > importance {
			importance = m.Importance
		}
		stage = types.MinStage(stage, m.LifecycleStage)
		if m.LastAccessedAt.After(lastAccess) {
			lastAccess = m.LastAccessedAt
		}
		merged.AddProvenance(m.ConsolidatedFrom...)
		merged.AddProvenance(m.ID)
	}

	merged.TextContent = strings.Join(contents, "\n")
	merged.Importance = importance
	merged.AccessCount = access
	merged.LifecycleStage = stage
	merged.LastAccessedAt = lastAccess
	return merged
}

// summarizeGroup collapses an oversized cluster into one synthetic memory:
// the joined contents are split into sentences, deduplicated, and the first
// five longer than ten characters become the new text. The group size lands
// in metadata under summarizedCount.
func summarizeGroup(group []*types.Memory) *types.Memory {
	merged := mergeMemories(group, types.StrategySummarize)
	merged.ClusterID = uuid.NewString()

	texts := make([]string, 0, len(group))
	for _, m := range group {
		if m.TextContent != "" {
			texts = append(texts, m.TextContent)
		}
	}
	// No qualifying sentence leaves the newline union from the merge.
	if sentences := distinctSentences(strings.Join(texts, " ")); len(sentences) > 0 {
		merged.TextContent = strings.Join(sentences, ". ") + "."
	}

	if merged.Metadata == nil {
		merged.Metadata = make(map[string]any, 1)
	}
	merged.Metadata["summarizedCount"] = len(group)
	return merged
}

// distinctSentences splits on terminal punctuation and keeps the first
// summaryMaxSentences distinct sentences longer than summaryMinSentenceLen.
func distinctSentences(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		s := strings.TrimSpace(raw)
		if len(s) <= summaryMinSentenceLen {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) == summaryMaxSentences {
			break
		}
	}
	return out
}

// archiveReady finalizes every ARCHIVE_READY memory: terminal stage, archive
// timestamp, archive strategy tag. Returns how many were archived.
func archiveReady(memories []*types.Memory, now time.Time) int {
	archived := 0
	for _, m := range memories {
		if m.LifecycleStage != types.StageArchiveReady {
			continue
		}
		m.LifecycleStage = types.StageArchived
		m.ArchivedAt = now
		m.ConsolidationStrategy = types.StrategyArchive
		archived++
	}
	return archived
}

// prune drops memories under the importance floor, then cuts the set to the
// cap keeping the most important. Returns survivors and the removed count.
func prune(memories []*types.Memory, minImportance float64, maxAfter int) ([]*types.Memory, int) {
	kept := make([]*types.Memory, 0, len(memories))
	for _, m := range memories {
		if m.Importance < minImportance {
			continue
		}
		kept = append(kept, m)
	}

	if maxAfter > 0 && len(kept) > maxAfter {
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].Importance > kept[j].Importance
		})
		kept = kept[:maxAfter]
	}
	return kept, len(memories) - len(kept)
}

// averageImportance is the mean base importance, zero for an empty set.
func averageImportance(memories []*types.Memory) float64 {
	if len(memories) == 0 {
		return 0
	}
	var sum float64
	for _, m := range memories {
		sum += m.Importance
	}
	return sum / float64(len(memories))
}
