// Package retrieval ranks stored memories by blending semantic relevance
// with temporal decay, so fresh memories can outrank marginally better
// matches from weeks ago.
package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/scoring"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

const (
	// DefaultLimit caps Retrieve results when none is given.
	DefaultLimit = 10

	// candidateScoreFloor is the semantic floor for the over-fetch; ranking
	// happens here, not in the store.
	candidateScoreFloor = 0.1

	// candidateMultiplier over-fetches so temporal re-ranking has slack.
	candidateMultiplier = 3
)

// Config selects the weights and decay strategy for combined scoring.
// The zero value is the balanced preset. Weights are normalized to sum to 1.
type Config struct {
	SemanticWeight float64
	TemporalWeight float64
	// Decay converts age to a temporal score. Nil means exponential at the
	// default rate.
	Decay scoring.Decay
	// MinScore drops results whose combined score falls below it.
	MinScore float64
	// NormalizeScores rescales results so the best combined score is 1.0.
	NormalizeScores bool
}

func (c Config) withDefaults() Config {
	if c.SemanticWeight < 0 {
		c.SemanticWeight = 0
	}
	if c.TemporalWeight < 0 {
		c.TemporalWeight = 0
	}
	if c.SemanticWeight == 0 && c.TemporalWeight == 0 {
		c.SemanticWeight, c.TemporalWeight = 0.6, 0.4
	}
	if sum := c.SemanticWeight + c.TemporalWeight; sum != 1 {
		c.SemanticWeight /= sum
		c.TemporalWeight /= sum
	}
	if c.Decay == nil {
		c.Decay = scoring.Exponential{Rate: scoring.DefaultDecayRate}
	}
	return c
}

// Preset names for canned configurations.
const (
	PresetRecentFocus = "recent_focus"
	PresetBalanced    = "balanced"
	PresetLongTerm    = "long_term"
	PresetCritical24h = "critical_24h"
)

// Preset resolves a named configuration. Unknown names fall back to the
// balanced preset with a logged warning, mirroring decay parsing.
func Preset(name string, logger *zap.Logger) Config {
	switch name {
	case PresetRecentFocus:
		return Config{SemanticWeight: 0.4, TemporalWeight: 0.6, Decay: scoring.Exponential{Rate: 0.05}}
	case PresetBalanced, "":
		return Config{SemanticWeight: 0.6, TemporalWeight: 0.4, Decay: scoring.Exponential{Rate: scoring.DefaultDecayRate}}
	case PresetLongTerm:
		return Config{SemanticWeight: 0.8, TemporalWeight: 0.2, Decay: scoring.Logarithmic{}}
	case PresetCritical24h:
		return Config{SemanticWeight: 0.5, TemporalWeight: 0.5, Decay: scoring.Step{ThresholdHours: 24, Penalty: 0.1}}
	default:
		if logger != nil {
			logger.Warn("unknown retrieval preset, falling back to balanced",
				zap.String("preset", name))
		}
		return Preset(PresetBalanced, logger)
	}
}

// Options bounds one Retrieve call.
type Options struct {
	// Limit caps results. Zero means DefaultLimit.
	Limit int
	// Config selects weights and decay. The zero value is the balanced
	// preset.
	Config Config
}

// Result is one retrieved memory with its score breakdown.
type Result struct {
	Memory        types.Memory `json:"memory"`
	SemanticScore float64      `json:"semantic_score"`
	TemporalScore float64      `json:"temporal_score"`
	CombinedScore float64      `json:"combined_score"`
}

// Retriever re-ranks store candidates with time-weighted scoring.
type Retriever struct {
	store  store.Store
	logger *zap.Logger

	// Now is the clock; tests override it.
	Now func() time.Time
}

// New creates a retriever backed by st.
func New(st store.Store, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:  st,
		logger: logger.With(zap.String("component", "retriever")),
		Now:    time.Now,
	}
}

// Retrieve fetches 3×limit semantic candidates at a low score floor and
// re-ranks them by combined score: semanticWeight×semantic +
// temporalWeight×decay(age). A store failure degrades to an empty result
// with a logged warning; this read path never propagates errors. The
// result is nil only on a store failure; a successful call with no
// matches returns an empty non-nil slice.
func (r *Retriever) Retrieve(ctx context.Context, query, threadID string, opts Options) []Result {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	cfg := opts.Config.withDefaults()

	scored, err := r.store.RetrieveRelevantWithScore(ctx, query, threadID, store.RetrieveOptions{
		Limit:          candidateMultiplier * limit,
		ScoreThreshold: candidateScoreFloor,
	})
	if err != nil {
		r.logger.Warn("retrieval degraded to empty result",
			zap.String("thread_id", threadID),
			zap.Error(err))
		return nil
	}

	now := r.Now()
	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		temporal := cfg.Decay.Weight(s.Memory.AgeHours(now))
		combined := cfg.SemanticWeight*s.Score + cfg.TemporalWeight*temporal
		if combined < cfg.MinScore {
			continue
		}
		results = append(results, Result{
			Memory:        s.Memory,
			SemanticScore: s.Score,
			TemporalScore: temporal,
			CombinedScore: combined,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if cfg.NormalizeScores && len(results) > 0 && results[0].CombinedScore > 0 {
		max := results[0].CombinedScore
		for i := range results {
			results[i].CombinedScore /= max
		}
	}
	return results
}

// DistributionOptions bounds a TemporalDistribution call.
type DistributionOptions struct {
	// BucketHours is each bucket's width. Zero means 24.
	BucketHours float64
	// Buckets is how many buckets to produce; the last one is open-ended.
	// Zero means 7.
	Buckets int
	// Limit caps how many candidates are analyzed. Zero means 100.
	Limit int
}

// Bucket is one fixed-width age window.
type Bucket struct {
	StartHours float64 `json:"start_hours"`
	EndHours   float64 `json:"end_hours"`
	Count      int     `json:"count"`
	MeanScore  float64 `json:"mean_score"`
}

// Distribution reports how candidate ages spread over time. Used for
// observability; retrieval correctness never depends on it.
type Distribution struct {
	Buckets     []Bucket `json:"buckets"`
	Total       int      `json:"total"`
	OldestHours float64  `json:"oldest_hours"`
	NewestHours float64  `json:"newest_hours"`
}

// TemporalDistribution buckets the query's candidates into fixed-width age
// windows with per-bucket count and mean semantic score. Candidates older
// than the window range land in the last bucket. A store failure degrades to
// an empty distribution.
func (r *Retriever) TemporalDistribution(ctx context.Context, query, threadID string, opts DistributionOptions) Distribution {
	bucketHours := opts.BucketHours
	if bucketHours <= 0 {
		bucketHours = 24
	}
	buckets := opts.Buckets
	if buckets <= 0 {
		buckets = 7
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	dist := Distribution{Buckets: make([]Bucket, buckets)}
	for i := range dist.Buckets {
		dist.Buckets[i].StartHours = float64(i) * bucketHours
		dist.Buckets[i].EndHours = float64(i+1) * bucketHours
	}

	scored, err := r.store.RetrieveRelevantWithScore(ctx, query, threadID, store.RetrieveOptions{
		Limit:          limit,
		ScoreThreshold: candidateScoreFloor,
	})
	if err != nil {
		r.logger.Warn("temporal distribution degraded to empty result",
			zap.String("thread_id", threadID),
			zap.Error(err))
		return dist
	}

	now := r.Now()
	sums := make([]float64, buckets)
	for _, s := range scored {
		age := s.Memory.AgeHours(now)
		idx := int(age / bucketHours)
		if idx >= buckets {
			idx = buckets - 1
		}
		dist.Buckets[idx].Count++
		sums[idx] += s.Score

		if dist.Total == 0 || age > dist.OldestHours {
			dist.OldestHours = age
		}
		if dist.Total == 0 || age < dist.NewestHours {
			dist.NewestHours = age
		}
		dist.Total++
	}
	for i := range dist.Buckets {
		if dist.Buckets[i].Count > 0 {
			dist.Buckets[i].MeanScore = sums[i] / float64(dist.Buckets[i].Count)
		}
	}
	return dist
}
