package consolidation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// threadFailStore refuses the next write targeting the named thread, once.
type threadFailStore struct {
	*store.InMemory
	failThread string
	armed      atomic.Bool
}

func (s *threadFailStore) StoreMemories(ctx context.Context, memories []types.Memory) error {
	if s.armed.Load() && len(memories) > 0 && memories[0].ThreadID == s.failThread &&
		s.armed.CompareAndSwap(true, false) {
		return errors.New("write refused")
	}
	return s.InMemory.StoreMemories(ctx, memories)
}

func TestEngine_ConsolidateAll_SweepsEveryThread(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st := store.NewInMemory(nil, nil)
	seedThread(t, st,
		storedMemory("a1", "t1", "the quarterly report is ready for review", 0.9, time.Hour, now),
		storedMemory("a2", "t1", "the quarterly report is ready for review", 0.8, time.Hour, now),
		storedMemory("b1", "t1", "unrelated shipping manifest arrived today", 0.7, time.Hour, now),
		storedMemory("c1", "t2", "database migration finished without errors", 0.9, time.Hour, now),
		storedMemory("c2", "t2", "database migration finished without errors", 0.8, time.Hour, now),
		storedMemory("d1", "t2", "bravo lunar cadence", 0.7, time.Hour, now),
	)

	engine := newTestEngine(t, st, Config{
		MinMemoriesForConsolidation: 2,
		SimilarityThreshold:         0.9,
		Workers:                     2,
	})
	engine.Now = func() time.Time { return now }

	total, err := engine.ConsolidateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, total.MemoriesBefore)
	assert.Equal(t, 4, total.MemoriesAfter)
	assert.Equal(t, 2, total.Deduplicated)
	assert.Greater(t, total.AvgImportance, 0.0)

	assert.Equal(t, 2, st.Len("t1"))
	assert.Equal(t, 2, st.Len("t2"))

	es := engine.Stats()
	assert.EqualValues(t, 2, es.Runs)
	assert.Equal(t, total, es.LastPass, "sweep totals become the last recorded stats")
}

func TestEngine_ConsolidateAll_NoThreads(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, store.NewInMemory(nil, nil), Config{})

	total, err := engine.ConsolidateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, total.IsZero())
	assert.Zero(t, engine.Stats().Runs)
}

func TestEngine_ConsolidateAll_BusyWhilePassInFlight(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st := newGatedStore()
	seedThread(t, st.InMemory,
		storedMemory("a1", "t1", "alpha omega signal", 0.9, time.Hour, now),
		storedMemory("b1", "t1", "bravo lunar cadence", 0.8, time.Hour, now),
	)

	engine := newTestEngine(t, st, Config{MinMemoriesForConsolidation: 2})
	engine.Now = func() time.Time { return now }

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Consolidate(context.Background(), "t1")
	}()

	<-st.fetchStarted
	total, err := engine.ConsolidateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, total.IsZero(), "sweep yields to the in-flight pass")

	close(st.release)
	<-done

	es := engine.Stats()
	assert.EqualValues(t, 1, es.Runs)
	assert.EqualValues(t, 1, es.Skips)
}

func TestEngine_ConsolidateAll_PartialFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st := &threadFailStore{InMemory: store.NewInMemory(nil, nil), failThread: "bad"}
	seedThread(t, st.InMemory,
		storedMemory("x1", "bad", "the quarterly report is ready for review", 0.9, time.Hour, now),
		storedMemory("x2", "bad", "the quarterly report is ready for review", 0.8, time.Hour, now),
		storedMemory("x3", "bad", "unrelated shipping manifest arrived today", 0.7, time.Hour, now),
		storedMemory("y1", "good", "database migration finished without errors", 0.9, time.Hour, now),
		storedMemory("y2", "good", "database migration finished without errors", 0.8, time.Hour, now),
		storedMemory("y3", "good", "bravo lunar cadence", 0.7, time.Hour, now),
	)
	st.armed.Store(true)

	engine := newTestEngine(t, st, Config{MinMemoriesForConsolidation: 2, SimilarityThreshold: 0.9})
	engine.Now = func() time.Time { return now }

	total, err := engine.ConsolidateAll(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "consolidation pass failed")

	// The failing thread is rolled back; the healthy one still consolidates.
	assert.Equal(t, 3, st.Len("bad"))
	assert.Equal(t, 2, st.Len("good"))
	assert.Equal(t, 3, total.MemoriesBefore, "totals cover only successful threads")
	assert.Equal(t, 2, total.MemoriesAfter)

	es := engine.Stats()
	assert.EqualValues(t, 1, es.Runs)
	assert.EqualValues(t, 1, es.Failures)
}

func TestEngine_StartStop(t *testing.T) {
	t.Parallel()

	// The background loop runs on the real clock, so ages must too.
	now := time.Now()
	st := store.NewInMemory(nil, nil)
	seedThread(t, st,
		storedMemory("a1", "t1", "alpha omega signal", 0.9, time.Hour, now),
		storedMemory("b1", "t1", "bravo lunar cadence", 0.8, time.Hour, now),
	)

	engine := newTestEngine(t, st, Config{
		MinMemoriesForConsolidation: 2,
		EnableBackground:            true,
		Interval:                    15 * time.Millisecond,
	})

	require.NoError(t, engine.Start(context.Background()))
	err := engine.Start(context.Background())
	require.Error(t, err, "double start is rejected")
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	require.Eventually(t, func() bool {
		return engine.Stats().Runs >= 1
	}, time.Second, 5*time.Millisecond, "background loop runs a sweep")

	engine.Stop()
	engine.Stop() // second stop is a no-op

	// The loop can be restarted after a stop.
	runsAfterStop := engine.Stats().Runs
	require.NoError(t, engine.Start(context.Background()))
	require.Eventually(t, func() bool {
		return engine.Stats().Runs > runsAfterStop
	}, time.Second, 5*time.Millisecond, "restarted loop keeps sweeping")
	engine.Stop()
}

func TestEngine_Start_Disabled(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, store.NewInMemory(nil, nil), Config{})

	require.NoError(t, engine.Start(context.Background()))
	assert.False(t, engine.Health(context.Background()).Background)
	engine.Stop()
	assert.Zero(t, engine.Stats().Runs)
}
