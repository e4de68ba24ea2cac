package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/types"
)

func TestLifecycleFactor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stage types.LifecycleStage
		want  float64
	}{
		{types.StageNew, 1.0},
		{types.StageActive, 0.9},
		{types.StageMature, 0.7},
		{types.StageDormant, 0.4},
		{types.StageArchiveReady, 0.2},
		{types.StageArchived, 0.1},
		{types.LifecycleStage("bogus"), 1.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LifecycleFactor(tt.stage), "stage %s", tt.stage)
	}
}

func TestImportanceScore(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Brand-new, heavily accessed, maximally important memory scores 1.
	m := &types.Memory{
		Importance:     1.0,
		AccessCount:    10,
		CreatedAt:      now,
		LifecycleStage: types.StageNew,
	}
	assert.InDelta(t, 1.0, ImportanceScore(m, now), 1e-9)

	// An archived, never-accessed, zero-importance memory still carries the
	// residual recency and lifecycle terms, clamped into [0, 1].
	old := &types.Memory{
		Importance:     0,
		AccessCount:    0,
		CreatedAt:      now.Add(-1000 * time.Hour),
		LifecycleStage: types.StageArchived,
	}
	score := ImportanceScore(old, now)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.Less(t, score, 0.1)
}

func TestImportanceScore_ClampedProperty(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stages := []types.LifecycleStage{
		types.StageNew, types.StageActive, types.StageMature,
		types.StageDormant, types.StageArchiveReady, types.StageArchived,
	}

	rapid.Check(t, func(rt *rapid.T) {
		m := &types.Memory{
			Importance:     rapid.Float64Range(-2, 3).Draw(rt, "importance"),
			AccessCount:    rapid.IntRange(0, 1000).Draw(rt, "access"),
			CreatedAt:      now.Add(-time.Duration(rapid.IntRange(0, 100000).Draw(rt, "ageHours")) * time.Hour),
			LifecycleStage: stages[rapid.IntRange(0, len(stages)-1).Draw(rt, "stage")],
		}
		score := ImportanceScore(m, now)
		if score < 0 || score > 1 {
			rt.Fatalf("score %v out of [0, 1]", score)
		}
	})
}

func TestImportanceScore_RecencyMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	young := &types.Memory{Importance: 0.5, CreatedAt: now.Add(-1 * time.Hour), LifecycleStage: types.StageActive}
	older := &types.Memory{Importance: 0.5, CreatedAt: now.Add(-500 * time.Hour), LifecycleStage: types.StageActive}

	assert.Greater(t, ImportanceScore(young, now), ImportanceScore(older, now))
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.5))
	assert.Equal(t, 0.25, Clamp01(0.25))
}
