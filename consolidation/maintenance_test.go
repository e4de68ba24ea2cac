package consolidation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/scoring"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// erroringReadStore fails every read.
type erroringReadStore struct {
	*store.InMemory
}

func (e *erroringReadStore) RetrieveRelevant(ctx context.Context, query, threadID string, opts store.RetrieveOptions) ([]types.Memory, error) {
	return nil, errors.New("backend offline")
}

func TestEngine_ShouldConsolidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st := store.NewInMemory(nil, nil)
	seedThread(t, st,
		storedMemory("a1", "t1", "alpha omega signal", 0.9, time.Hour, now),
		storedMemory("b1", "t1", "bravo lunar cadence", 0.8, time.Hour, now),
	)

	engine := newTestEngine(t, st, Config{MinMemoriesForConsolidation: 3})

	ok, err := engine.ShouldConsolidate(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	seedThread(t, st, storedMemory("c1", "t1", "charlie glacier drift", 0.7, time.Hour, now))

	ok, err = engine.ShouldConsolidate(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_ShouldConsolidate_ReadFailure(t *testing.T) {
	t.Parallel()

	st := &erroringReadStore{InMemory: store.NewInMemory(nil, nil)}
	engine := newTestEngine(t, st, Config{})

	_, err := engine.ShouldConsolidate(context.Background(), "t1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "count thread memories")
}

func TestEngine_CalculateImportanceScore(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, store.NewInMemory(nil, nil), Config{})
	engine.Now = func() time.Time { return now }

	mem := &types.Memory{
		ID:             "m1",
		Importance:     0.6,
		AccessCount:    4,
		CreatedAt:      now.Add(-48 * time.Hour),
		LastAccessedAt: now.Add(-2 * time.Hour),
		LifecycleStage: types.StageMature,
	}

	assert.InDelta(t, scoring.ImportanceScore(mem, now), engine.CalculateImportanceScore(mem), 1e-12)
}

func TestEngine_CompressMemory(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, store.NewInMemory(nil, nil), Config{})

	t.Run("nil memory", func(t *testing.T) {
		t.Parallel()
		_, err := engine.CompressMemory(nil)
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	})

	t.Run("digest with facts and entities", func(t *testing.T) {
		t.Parallel()
		longText := strings.Repeat("memory context ", 100)
		original := &types.Memory{
			ID:          "m1",
			ThreadID:    "t1",
			TextContent: longText,
			Metadata: map[string]any{
				"facts":    []string{"prefers dark roast", "works remotely"},
				"entities": []any{map[string]any{"name": "Alice"}, "Bob"},
				"mood":     "upbeat",
			},
		}

		compressed, err := engine.CompressMemory(original)
		require.NoError(t, err)

		wantSummary := string([]rune(longText)[:compressSummaryLimit]) + "..."
		assert.Equal(t, wantSummary, compressed.Summary)
		assert.True(t, strings.HasPrefix(compressed.TextContent, "Summary: "+wantSummary))
		assert.Contains(t, compressed.TextContent, "\nKey Facts: prefers dark roast; works remotely")
		assert.Contains(t, compressed.TextContent, "\nEntities: Alice, Bob")
		assert.Equal(t, types.StrategyCompress, compressed.ConsolidationStrategy)

		assert.Contains(t, compressed.Metadata, "facts")
		assert.Contains(t, compressed.Metadata, "entities")
		assert.NotContains(t, compressed.Metadata, "mood")

		assert.Greater(t, compressed.CompressionRatio, 0.0)
		assert.Less(t, compressed.CompressionRatio, 1.0)

		// The input memory is left untouched.
		assert.Equal(t, longText, original.TextContent)
		assert.Contains(t, original.Metadata, "mood")
		assert.Zero(t, original.CompressionRatio)
	})

	t.Run("existing summary wins and bare metadata drops", func(t *testing.T) {
		t.Parallel()
		original := &types.Memory{
			ID:          "m2",
			TextContent: "short body",
			Summary:     "already summarized",
			Metadata:    map[string]any{"mood": "upbeat"},
		}

		compressed, err := engine.CompressMemory(original)
		require.NoError(t, err)
		assert.Equal(t, "already summarized", compressed.Summary)
		assert.Equal(t, "Summary: already summarized", compressed.TextContent)
		assert.Nil(t, compressed.Metadata)
	})
}

func TestEngine_ApplyCleanupPolicies(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	t.Run("age rule preserves keyword matches", func(t *testing.T) {
		t.Parallel()
		st := store.NewInMemory(nil, nil)
		seedThread(t, st,
			storedMemory("stale", "t1", "regular standup notes", 0.9, 100*24*time.Hour, now),
			storedMemory("pinned", "t1", "the ProjectX decision stands", 0.9, 100*24*time.Hour, now),
			storedMemory("fresh", "t1", "yesterday we shipped the patch", 0.9, time.Hour, now),
		)
		engine := newTestEngine(t, st, Config{})
		engine.Now = func() time.Time { return now }

		removed, err := engine.ApplyCleanupPolicies(context.Background(), "t1", CleanupPolicy{
			MaxAgeDays:       30,
			PreserveKeywords: []string{"projectx"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		remaining, err := st.RetrieveRelevant(context.Background(), "", "t1", store.RetrieveOptions{Limit: 10})
		require.NoError(t, err)
		ids := make([]string, 0, len(remaining))
		for _, m := range remaining {
			ids = append(ids, m.ID)
		}
		assert.ElementsMatch(t, []string{"pinned", "fresh"}, ids)
	})

	t.Run("importance floor ignores keywords", func(t *testing.T) {
		t.Parallel()
		st := store.NewInMemory(nil, nil)
		seedThread(t, st,
			storedMemory("weak", "t1", "minor ProjectX aside", 0.2, time.Hour, now),
			storedMemory("strong", "t1", "the release is approved", 0.9, time.Hour, now),
		)
		engine := newTestEngine(t, st, Config{})
		engine.Now = func() time.Time { return now }

		removed, err := engine.ApplyCleanupPolicies(context.Background(), "t1", CleanupPolicy{
			MinImportance:    0.5,
			PreserveKeywords: []string{"projectx"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Equal(t, 1, st.Len("t1"))
	})

	t.Run("no matches leaves storage untouched", func(t *testing.T) {
		t.Parallel()
		st := &countingStore{InMemory: store.NewInMemory(nil, nil)}
		seedThread(t, st.InMemory,
			storedMemory("a1", "t1", "alpha omega signal", 0.9, time.Hour, now),
		)
		engine := newTestEngine(t, st, Config{})
		engine.Now = func() time.Time { return now }

		removed, err := engine.ApplyCleanupPolicies(context.Background(), "t1", CleanupPolicy{
			MaxAgeDays:    30,
			MinImportance: 0.5,
		})
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.Zero(t, st.clears.Load())
	})

	t.Run("zero policy disables both rules", func(t *testing.T) {
		t.Parallel()
		st := store.NewInMemory(nil, nil)
		seedThread(t, st,
			storedMemory("old", "t1", "ancient but untouched", 0.01, 1000*24*time.Hour, now),
		)
		engine := newTestEngine(t, st, Config{})
		engine.Now = func() time.Time { return now }

		removed, err := engine.ApplyCleanupPolicies(context.Background(), "t1", CleanupPolicy{})
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.Equal(t, 1, st.Len("t1"))
	})

	t.Run("empty thread", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(t, store.NewInMemory(nil, nil), Config{})
		removed, err := engine.ApplyCleanupPolicies(context.Background(), "missing", CleanupPolicy{MaxAgeDays: 1})
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
