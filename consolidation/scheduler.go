package consolidation

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// ConsolidateAll sweeps every known thread with a bounded worker pool and
// returns the aggregated Stats. The sweep holds the same single-flight guard
// as Consolidate, so per-thread passes never race it. A failing thread does
// not stop the others; the first error is returned after the sweep drains.
func (e *Engine) ConsolidateAll(ctx context.Context) (Stats, error) {
	if !e.consolidating.CompareAndSwap(false, true) {
		e.skip("", "sweep already in flight")
		return Stats{}, nil
	}
	defer e.consolidating.Store(false)

	start := e.Now()
	ctx, span := e.tracer.Start(ctx, "consolidation.sweep")
	defer span.End()

	threads := e.knownThreads(ctx)
	span.SetAttributes(attribute.Int("memflow.threads", len(threads)))
	if len(threads) == 0 {
		return Stats{}, nil
	}

	var (
		g       errgroup.Group
		totalMu sync.Mutex
		total   Stats
	)
	g.SetLimit(e.config.Workers)
	for _, threadID := range threads {
		g.Go(func() error {
			stats, err := e.consolidateThread(ctx, threadID, e.config)
			if err != nil {
				return err
			}
			totalMu.Lock()
			total.add(stats)
			totalMu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	total.Duration = e.Now().Sub(start)

	e.mu.Lock()
	e.lastStats = total
	e.mu.Unlock()

	e.logger.Info("consolidation sweep complete",
		zap.Int("threads", len(threads)),
		zap.Int("before", total.MemoriesBefore),
		zap.Int("after", total.MemoriesAfter),
		zap.Duration("duration", total.Duration))
	return total, err
}

// Start launches the background consolidation loop when the configuration
// enables it. Safe to call again after Stop.
func (e *Engine) Start(ctx context.Context) error {
	if !e.config.EnableBackground {
		e.logger.Debug("background consolidation disabled")
		return nil
	}

	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.bgRunning {
		return types.NewValidationError("background consolidation already running")
	}
	e.bgRunning = true
	e.stopCh = make(chan struct{})
	e.wg.Add(1)
	go e.runLoop(ctx, e.stopCh)

	e.logger.Info("background consolidation started",
		zap.Duration("interval", e.config.Interval))
	return nil
}

func (e *Engine) runLoop(ctx context.Context, stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.ConsolidateAll(ctx); err != nil {
				e.logger.Error("background consolidation failed", zap.Error(err))
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the background loop and waits for an in-flight sweep to finish.
// A no-op when the loop is not running.
func (e *Engine) Stop() {
	e.bgMu.Lock()
	if !e.bgRunning {
		e.bgMu.Unlock()
		return
	}
	e.bgRunning = false
	close(e.stopCh)
	e.bgMu.Unlock()

	e.wg.Wait()
	e.logger.Info("background consolidation stopped")
}

// EngineStats counts the engine's lifetime activity.
type EngineStats struct {
	Runs     uint64    `json:"runs"`
	Skips    uint64    `json:"skips"`
	Failures uint64    `json:"failures"`
	LastRun  time.Time `json:"last_run"`
	LastPass Stats     `json:"last_pass"`
}

// Stats snapshots the engine's counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStats{
		Runs:     e.runs,
		Skips:    e.skips,
		Failures: e.failures,
		LastRun:  e.lastRun,
		LastPass: e.lastStats,
	}
}

// Health reports the engine and its dependencies in one snapshot.
type Health struct {
	Store      store.HealthStatus `json:"store"`
	Graph      graph.Stats        `json:"graph"`
	Engine     EngineStats        `json:"engine"`
	InFlight   bool               `json:"in_flight"`
	Background bool               `json:"background"`
	Threads    int                `json:"threads"`
}

// Health checks the backing store and snapshots the engine state.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Store:    e.store.HealthStatus(ctx),
		Engine:   e.Stats(),
		InFlight: e.consolidating.Load(),
		Threads:  len(e.knownThreads(ctx)),
	}
	if e.graph != nil {
		h.Graph = e.graph.Stats()
	}
	e.bgMu.Lock()
	h.Background = e.bgRunning
	e.bgMu.Unlock()
	return h
}
