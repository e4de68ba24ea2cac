// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Label values recorded by the consolidation engine and retriever.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusDegraded  = "degraded"

	OpDeduplicated = "deduplicated"
	OpMerged       = "merged"
	OpSummarized   = "summarized"
	OpArchived     = "archived"
	OpPruned       = "pruned"

	TriggerMessages = "messages"
	TriggerTokens   = "tokens"
	TriggerManual   = "manual"
)

// Collector registers and records the engine's Prometheus metrics. All
// metrics share one namespace so several engines can coexist in a process.
type Collector struct {
	// Consolidation metrics
	consolidationRuns     *prometheus.CounterVec
	consolidationDuration prometheus.Histogram
	memoryOperations      *prometheus.CounterVec
	lifecycleTransitions  *prometheus.CounterVec

	// Retrieval metrics
	retrievalsTotal   *prometheus.CounterVec
	retrievalDuration prometheus.Histogram

	// Summarizer metrics
	summaryFolds *prometheus.CounterVec

	// Graph metrics
	graphNodes prometheus.Gauge
	graphEdges prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registering under the given namespace.
// A nil registerer falls back to the process-wide default registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Consolidation metrics
	c.consolidationRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_runs_total",
			Help:      "Total number of consolidation passes",
		},
		[]string{"status"},
	)

	c.consolidationDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consolidation_duration_seconds",
			Help:      "Consolidation pass duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.memoryOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Total number of memories transformed per operation",
		},
		[]string{"operation"},
	)

	c.lifecycleTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Total number of memory lifecycle stage transitions",
		},
		[]string{"from_stage", "to_stage"},
	)

	// Retrieval metrics
	c.retrievalsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total number of time-weighted retrievals",
		},
		[]string{"status"},
	)

	c.retrievalDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// Summarizer metrics
	c.summaryFolds = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_folds_total",
			Help:      "Total number of summary folds",
		},
		[]string{"trigger"},
	)

	// Graph metrics
	c.graphNodes = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Number of live nodes in the relationship graph",
		},
	)

	c.graphEdges = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Number of live edges in the relationship graph",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordConsolidation records the outcome and duration of one pass.
func (c *Collector) RecordConsolidation(status string, duration time.Duration) {
	c.consolidationRuns.WithLabelValues(status).Inc()
	c.consolidationDuration.Observe(duration.Seconds())
}

// RecordMemoryOperations adds count memories transformed by an operation.
func (c *Collector) RecordMemoryOperations(operation string, count int) {
	if count <= 0 {
		return
	}
	c.memoryOperations.WithLabelValues(operation).Add(float64(count))
}

// RecordLifecycleTransition records memories moved between two stages.
// Zero or negative counts are ignored.
func (c *Collector) RecordLifecycleTransition(fromStage, toStage string, count int) {
	if count <= 0 {
		return
	}
	c.lifecycleTransitions.WithLabelValues(fromStage, toStage).Add(float64(count))
}

// RecordRetrieval records one retrieval and its latency.
func (c *Collector) RecordRetrieval(status string, duration time.Duration) {
	c.retrievalsTotal.WithLabelValues(status).Inc()
	c.retrievalDuration.Observe(duration.Seconds())
}

// RecordSummaryFold records one summary fold and what triggered it
// (messages, tokens, or manual).
func (c *Collector) RecordSummaryFold(trigger string) {
	c.summaryFolds.WithLabelValues(trigger).Inc()
}

// SetGraphSize updates the graph size gauges.
func (c *Collector) SetGraphSize(nodes, edges int) {
	c.graphNodes.Set(float64(nodes))
	c.graphEdges.Set(float64(edges))
}
