// Package consolidation implements the tiered memory consolidation engine:
// lifecycle aging, importance decay, similarity-driven deduplication and
// clustering, archival, pruning, and atomic persistence, with at most one
// pass in flight per engine.
package consolidation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

const tracerName = "github.com/BaSui01/memflow/consolidation"

// Stats summarizes one consolidation pass, or a whole sweep when returned by
// ConsolidateAll. A skipped pass reports the zero value.
type Stats struct {
	MemoriesBefore int           `json:"memories_before"`
	MemoriesAfter  int           `json:"memories_after"`
	Deduplicated   int           `json:"deduplicated"`
	Merged         int           `json:"merged"`
	Archived       int           `json:"archived"`
	Pruned         int           `json:"pruned"`
	AvgImportance  float64       `json:"avg_importance"`
	Duration       time.Duration `json:"duration"`
}

// IsZero reports the all-zero skip result.
func (s Stats) IsZero() bool {
	return s == Stats{}
}

// add folds another pass into an aggregate. The mean importance is weighted
// by surviving memory counts.
func (s *Stats) add(other Stats) {
	if after := s.MemoriesAfter + other.MemoriesAfter; after > 0 {
		s.AvgImportance = (s.AvgImportance*float64(s.MemoriesAfter) +
			other.AvgImportance*float64(other.MemoriesAfter)) / float64(after)
	}
	s.MemoriesBefore += other.MemoriesBefore
	s.MemoriesAfter += other.MemoriesAfter
	s.Deduplicated += other.Deduplicated
	s.Merged += other.Merged
	s.Archived += other.Archived
	s.Pruned += other.Pruned
}

// Engine runs consolidation passes against a Store and keeps the thread's
// relationship graph in sync with the surviving memories.
type Engine struct {
	store     store.Store
	graph     *graph.Graph
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
	config    Config

	// consolidating is the single-flight guard: at most one pass (or sweep)
	// per engine. Concurrent callers get the all-zero skip result.
	consolidating atomic.Bool

	mu        sync.Mutex
	threads   map[string]struct{}
	runs      uint64
	skips     uint64
	failures  uint64
	lastRun   time.Time
	lastStats Stats

	bgMu      sync.Mutex
	bgRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewEngine builds an engine over st. g maintains the per-thread
// relationship graph and may be nil; collector records Prometheus metrics
// and may be nil. Zero cfg fields fall back to defaults.
func NewEngine(st store.Store, g *graph.Graph, collector *metrics.Collector, cfg Config, logger *zap.Logger) (*Engine, error) {
	if st == nil {
		return nil, types.NewValidationError("store is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     st,
		graph:     g,
		collector: collector,
		logger:    logger.With(zap.String("component", "consolidation_engine")),
		tracer:    otel.Tracer(tracerName),
		config:    cfg,
		threads:   make(map[string]struct{}),
		Now:       time.Now,
	}, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Consolidate runs one pass over threadID with the engine configuration.
// While another pass is in flight it returns zero Stats and a nil error
// without touching storage.
func (e *Engine) Consolidate(ctx context.Context, threadID string) (Stats, error) {
	return e.ConsolidateWithConfig(ctx, threadID, e.config)
}

// ConsolidateWithConfig runs one pass with a per-call configuration, under
// the same single-flight guard as Consolidate.
func (e *Engine) ConsolidateWithConfig(ctx context.Context, threadID string, cfg Config) (Stats, error) {
	if !e.consolidating.CompareAndSwap(false, true) {
		e.skip(threadID, "pass already in flight")
		return Stats{}, nil
	}
	defer e.consolidating.Store(false)

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}
	return e.consolidateThread(ctx, threadID, cfg)
}

// consolidateThread is the eight-step pass. Callers hold the single-flight
// guard.
func (e *Engine) consolidateThread(ctx context.Context, threadID string, cfg Config) (Stats, error) {
	start := e.Now()
	ctx, span := e.tracer.Start(ctx, "consolidation.pass",
		trace.WithAttributes(attribute.String("memflow.thread_id", threadID)))
	defer span.End()

	e.rememberThread(threadID)

	// Step 1: fetch everything the thread holds.
	originals, err := e.store.RetrieveRelevant(ctx, "", threadID, store.RetrieveOptions{Limit: cfg.FetchLimit})
	if err != nil {
		return Stats{}, e.fail(span, threadID, start, fmt.Errorf("fetch memories: %w", err))
	}
	if len(originals) < cfg.MinMemoriesForConsolidation {
		span.SetAttributes(attribute.Bool("memflow.skipped", true))
		e.skip(threadID, "below minimum memory count")
		return Stats{}, nil
	}

	now := e.Now()
	working := make([]*types.Memory, len(originals))
	for i := range originals {
		working[i] = originals[i].Clone()
	}

	stats := Stats{MemoriesBefore: len(originals)}

	// Steps 2-3: age the lifecycle stages, decay importance.
	transitions := categorizeByAge(working, cfg, now)
	applyImportanceDecay(working, cfg.DecayRatePerDay, now)

	// Steps 4-5: strict dedup over ACTIVE, loose clustering over the rest.
	working, stats.Deduplicated = deduplicateActive(working, cfg.SimilarityThreshold)
	var merged, summarized int
	working, merged, summarized = clusterAndSummarize(working, cfg.clusterThreshold())
	stats.Merged = merged + summarized

	// Steps 6-7: archive and prune.
	stats.Archived = archiveReady(working, now)
	transitions[transition{from: types.StageArchiveReady, to: types.StageArchived}] += stats.Archived
	working, stats.Pruned = prune(working, cfg.MinImportanceThreshold, cfg.MaxMemoriesAfterConsolidation)

	// Step 8: persist survivors, then rebuild the thread's graph.
	if err := e.persist(ctx, threadID, originals, working); err != nil {
		return Stats{}, e.fail(span, threadID, start, err)
	}
	e.rebuildGraph(threadID, working)

	stats.MemoriesAfter = len(working)
	stats.AvgImportance = averageImportance(working)
	stats.Duration = e.Now().Sub(start)

	e.complete(threadID, stats, transitions, summarized)
	span.SetAttributes(
		attribute.Int("memflow.memories_before", stats.MemoriesBefore),
		attribute.Int("memflow.memories_after", stats.MemoriesAfter),
	)
	return stats, nil
}

// persist replaces the thread's stored memories with the survivors. On a
// failed write the original snapshot is restored so the thread is never left
// half-persisted.
func (e *Engine) persist(ctx context.Context, threadID string, snapshot []types.Memory, survivors []*types.Memory) error {
	if err := e.store.ClearThreadMemories(ctx, threadID); err != nil {
		return fmt.Errorf("clear thread memories: %w", err)
	}

	out := make([]types.Memory, len(survivors))
	for i, m := range survivors {
		out[i] = *m
	}
	if err := e.store.StoreMemories(ctx, out); err != nil {
		if rerr := e.store.StoreMemories(ctx, snapshot); rerr != nil {
			e.logger.Error("snapshot restore failed, thread memories may be lost",
				zap.String("thread_id", threadID),
				zap.NamedError("restore_error", rerr),
				zap.Error(err))
		}
		return fmt.Errorf("store consolidated memories: %w", err)
	}
	return nil
}

// rebuildGraph re-derives the thread's relationship graph from the surviving
// text. Clear-then-extract, not incremental.
func (e *Engine) rebuildGraph(threadID string, survivors []*types.Memory) {
	if e.graph == nil {
		return
	}
	e.graph.ClearThread(threadID)
	for _, m := range survivors {
		e.graph.ExtractNodesAndEdges(m.TextContent, threadID)
	}
	if e.collector != nil {
		gs := e.graph.Stats()
		e.collector.SetGraphSize(gs.Nodes, gs.Edges)
	}
}

func (e *Engine) rememberThread(threadID string) {
	if threadID == "" {
		return
	}
	e.mu.Lock()
	e.threads[threadID] = struct{}{}
	e.mu.Unlock()
}

// knownThreads unions the engine's registry with the store's own listing
// when the store can enumerate threads.
func (e *Engine) knownThreads(ctx context.Context) []string {
	set := make(map[string]struct{})
	e.mu.Lock()
	for id := range e.threads {
		set[id] = struct{}{}
	}
	e.mu.Unlock()

	if lister, ok := e.store.(store.ThreadLister); ok {
		ids, err := lister.ListThreads(ctx)
		if err != nil {
			e.logger.Warn("thread listing failed, using registry only", zap.Error(err))
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) skip(threadID, reason string) {
	e.mu.Lock()
	e.skips++
	e.mu.Unlock()

	if e.collector != nil {
		e.collector.RecordConsolidation(metrics.StatusSkipped, 0)
	}
	e.logger.Debug("consolidation skipped",
		zap.String("thread_id", threadID),
		zap.String("reason", reason))
}

func (e *Engine) fail(span trace.Span, threadID string, start time.Time, err error) error {
	e.mu.Lock()
	e.failures++
	e.mu.Unlock()

	if e.collector != nil {
		e.collector.RecordConsolidation(metrics.StatusFailed, e.Now().Sub(start))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Error("consolidation pass failed",
		zap.String("thread_id", threadID),
		zap.Error(err))
	return types.NewError(types.ErrConsolidationFailed, "consolidation pass failed").
		WithCause(err).
		WithRetryable(true)
}

func (e *Engine) complete(threadID string, stats Stats, transitions map[transition]int, summarized int) {
	e.mu.Lock()
	e.runs++
	e.lastRun = e.Now()
	e.lastStats = stats
	e.mu.Unlock()

	if e.collector != nil {
		e.collector.RecordConsolidation(metrics.StatusCompleted, stats.Duration)
		e.collector.RecordMemoryOperations(metrics.OpDeduplicated, stats.Deduplicated)
		e.collector.RecordMemoryOperations(metrics.OpMerged, stats.Merged-summarized)
		e.collector.RecordMemoryOperations(metrics.OpSummarized, summarized)
		e.collector.RecordMemoryOperations(metrics.OpArchived, stats.Archived)
		e.collector.RecordMemoryOperations(metrics.OpPruned, stats.Pruned)
		for t, n := range transitions {
			e.collector.RecordLifecycleTransition(string(t.from), string(t.to), n)
		}
	}

	e.logger.Info("consolidation pass complete",
		zap.String("thread_id", threadID),
		zap.Int("before", stats.MemoriesBefore),
		zap.Int("after", stats.MemoriesAfter),
		zap.Int("deduplicated", stats.Deduplicated),
		zap.Int("merged", stats.Merged),
		zap.Int("archived", stats.Archived),
		zap.Int("pruned", stats.Pruned),
		zap.Duration("duration", stats.Duration))
}
