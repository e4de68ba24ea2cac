package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/scoring"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

type fakeStore struct {
	scored   []store.ScoredMemory
	err      error
	lastOpts store.RetrieveOptions
}

func (f *fakeStore) RetrieveRelevant(ctx context.Context, query, threadID string, opts store.RetrieveOptions) ([]types.Memory, error) {
	scored, err := f.RetrieveRelevantWithScore(ctx, query, threadID, opts)
	if err != nil {
		return nil, err
	}
	out := make([]types.Memory, len(scored))
	for i, s := range scored {
		out[i] = s.Memory
	}
	return out, nil
}

func (f *fakeStore) RetrieveRelevantWithScore(_ context.Context, _, _ string, opts store.RetrieveOptions) ([]store.ScoredMemory, error) {
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.scored, nil
}

func (f *fakeStore) StoreMemories(context.Context, []types.Memory) error { return nil }

func (f *fakeStore) ClearThreadMemories(context.Context, string) error { return nil }

func (f *fakeStore) HealthStatus(context.Context) store.HealthStatus {
	return store.HealthStatus{Available: true}
}

var testNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func agedMemory(id string, ageHours float64) types.Memory {
	return types.Memory{
		ID:        id,
		ThreadID:  "t1",
		CreatedAt: testNow.Add(-time.Duration(ageHours * float64(time.Hour))),
	}
}

func newRetriever(fake *fakeStore) *Retriever {
	r := New(fake, zap.NewNop())
	r.Now = func() time.Time { return testNow }
	return r
}

func TestYoungerOutranksOlderAtEqualSemanticScore(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{scored: []store.ScoredMemory{
		{Memory: agedMemory("old", 100), Score: 0.8},
		{Memory: agedMemory("young", 1), Score: 0.8},
	}}
	r := newRetriever(fake)

	results := r.Retrieve(context.Background(), "query", "t1", Options{})
	require.Len(t, results, 2)
	assert.Equal(t, "young", results[0].Memory.ID)
	assert.Greater(t, results[0].CombinedScore, results[1].CombinedScore)
}

func TestYoungerOutranksOlderProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		semantic := rapid.Float64Range(0.1, 1).Draw(t, "semantic")
		youngAge := rapid.Float64Range(0, 500).Draw(t, "youngAge")
		olderBy := rapid.Float64Range(0.1, 500).Draw(t, "olderBy")

		fake := &fakeStore{scored: []store.ScoredMemory{
			{Memory: agedMemory("old", youngAge+olderBy), Score: semantic},
			{Memory: agedMemory("young", youngAge), Score: semantic},
		}}
		r := newRetriever(fake)

		results := r.Retrieve(context.Background(), "q", "t1", Options{
			Config: Config{SemanticWeight: 0.5, TemporalWeight: 0.5, Decay: scoring.Exponential{Rate: 0.01}},
		})
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		if results[0].Memory.ID != "young" {
			t.Fatalf("young must strictly outrank old under temporal weight")
		}
	})
}

func TestRetrieveOverFetchesCandidates(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{}
	r := newRetriever(fake)

	r.Retrieve(context.Background(), "q", "t1", Options{Limit: 5})
	assert.Equal(t, 15, fake.lastOpts.Limit, "3x the requested limit")
	assert.Equal(t, 0.1, fake.lastOpts.ScoreThreshold)
}

func TestRetrieveWeightNormalization(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{scored: []store.ScoredMemory{
		{Memory: agedMemory("m", 0), Score: 0.5},
	}}
	r := newRetriever(fake)

	// Weights 3 and 1 normalize to 0.75/0.25; age 0 gives temporal 1.
	results := r.Retrieve(context.Background(), "q", "t1", Options{
		Config: Config{SemanticWeight: 3, TemporalWeight: 1},
	})
	require.Len(t, results, 1)
	assert.InDelta(t, 0.75*0.5+0.25*1, results[0].CombinedScore, 1e-9)
	assert.Equal(t, 1.0, results[0].TemporalScore)
}

func TestRetrieveMinScoreAndLimit(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{scored: []store.ScoredMemory{
		{Memory: agedMemory("a", 0), Score: 0.9},
		{Memory: agedMemory("b", 0), Score: 0.8},
		{Memory: agedMemory("c", 0), Score: 0.05},
	}}
	r := newRetriever(fake)

	results := r.Retrieve(context.Background(), "q", "t1", Options{
		Limit:  1,
		Config: Config{MinScore: 0.5},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Memory.ID)
}

func TestRetrieveNormalizeScores(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{scored: []store.ScoredMemory{
		{Memory: agedMemory("best", 1), Score: 0.9},
		{Memory: agedMemory("second", 50), Score: 0.7},
	}}
	r := newRetriever(fake)

	results := r.Retrieve(context.Background(), "q", "t1", Options{
		Config: Config{NormalizeScores: true},
	})
	require.Len(t, results, 2)
	assert.Equal(t, 1.0, results[0].CombinedScore, "best score rescales to exactly 1")
	assert.Less(t, results[1].CombinedScore, 1.0)
	assert.Equal(t, "best", results[0].Memory.ID)
}

func TestRetrieveDegradesOnStoreFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{err: errors.New("store down")}
	r := newRetriever(fake)

	results := r.Retrieve(context.Background(), "q", "t1", Options{})
	assert.Empty(t, results, "read path degrades, never propagates")
}

func TestPresets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		semantic float64
		temporal float64
		kind     string
	}{
		{PresetRecentFocus, 0.4, 0.6, "exponential"},
		{PresetBalanced, 0.6, 0.4, "exponential"},
		{PresetLongTerm, 0.8, 0.2, "logarithmic"},
		{PresetCritical24h, 0.5, 0.5, "step"},
	}
	for _, tc := range cases {
		cfg := Preset(tc.name, zap.NewNop())
		assert.Equal(t, tc.semantic, cfg.SemanticWeight, tc.name)
		assert.Equal(t, tc.temporal, cfg.TemporalWeight, tc.name)
		assert.Equal(t, tc.kind, cfg.Decay.Kind(), tc.name)
	}

	fallback := Preset("no_such_preset", zap.NewNop())
	assert.Equal(t, 0.6, fallback.SemanticWeight)
}

func TestCritical24hPresetCliff(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{scored: []store.ScoredMemory{
		{Memory: agedMemory("fresh", 10), Score: 0.5},
		{Memory: agedMemory("stale", 30), Score: 0.5},
	}}
	r := newRetriever(fake)

	results := r.Retrieve(context.Background(), "q", "t1", Options{
		Config: Preset(PresetCritical24h, zap.NewNop()),
	})
	require.Len(t, results, 2)
	assert.Equal(t, "fresh", results[0].Memory.ID)
	assert.Equal(t, 1.0, results[0].TemporalScore)
	assert.Equal(t, 0.1, results[1].TemporalScore, "past the 24h step the penalty applies")
}

func TestTemporalDistribution(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{scored: []store.ScoredMemory{
		{Memory: agedMemory("a", 1), Score: 0.9},
		{Memory: agedMemory("b", 5), Score: 0.7},
		{Memory: agedMemory("c", 30), Score: 0.5},
		{Memory: agedMemory("d", 500), Score: 0.3}, // beyond 7x24h, lands in the last bucket
	}}
	r := newRetriever(fake)

	dist := r.TemporalDistribution(context.Background(), "q", "t1", DistributionOptions{})
	require.Len(t, dist.Buckets, 7)

	assert.Equal(t, 2, dist.Buckets[0].Count)
	assert.InDelta(t, 0.8, dist.Buckets[0].MeanScore, 1e-9)
	assert.Equal(t, 1, dist.Buckets[1].Count)
	assert.Equal(t, 1, dist.Buckets[6].Count, "overflow clamps into the final bucket")
	assert.Equal(t, 4, dist.Total)
	assert.Equal(t, 500.0, dist.OldestHours)
	assert.Equal(t, 1.0, dist.NewestHours)

	assert.Equal(t, 0.0, dist.Buckets[0].StartHours)
	assert.Equal(t, 24.0, dist.Buckets[0].EndHours)
}

func TestTemporalDistributionDegrades(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{err: errors.New("down")}
	r := newRetriever(fake)

	dist := r.TemporalDistribution(context.Background(), "q", "t1", DistributionOptions{})
	assert.Zero(t, dist.Total)
	assert.Len(t, dist.Buckets, 7, "bucket scaffolding survives degradation")
}
