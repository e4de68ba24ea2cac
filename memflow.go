// Package memflow assembles the tiered conversational memory engine behind a
// single System facade: a memory store, a relationship graph, an entity
// tracker, a progressive summarizer, a time-weighted retriever, and the
// consolidation engine that ages, merges, and prunes what the others write.
//
// Usage:
//
//	sys, err := memflow.New(memflow.WithModel(model))
//	...
//	err = sys.ProcessMessages(ctx, "thread-42", msgs)
//	results := sys.Retrieve(ctx, "the user's deadline", "thread-42", retrieval.Options{})
//	stats, err := sys.Consolidate(ctx, "thread-42")
//
// Every component is also usable on its own; the facade only wires them
// together with shared configuration, logging, and metrics.
package memflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/consolidation"
	"github.com/BaSui01/memflow/entity"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/retrieval"
	"github.com/BaSui01/memflow/scoring"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/summary"
	"github.com/BaSui01/memflow/types"
)

// DefaultMemoryImportance is assigned to memories written without an
// explicit importance. It sits above the default pruning floor so fresh
// memories survive their first consolidation pass.
const DefaultMemoryImportance = 0.5

const defaultMetricsNamespace = "memflow"

// Option configures the System created by [New].
type Option func(*options)

type options struct {
	cfg        *config.Config
	logger     *zap.Logger
	st         store.Store
	model      llm.Model
	tokens     llm.TokenCounter
	embedder   store.Embedder
	limiter    *rate.Limiter
	registerer prometheus.Registerer
	namespace  string
}

// WithConfig supplies a full configuration. Defaults to
// [config.DefaultConfig]; the configuration is validated during [New].
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore sets a pre-built store, overriding the configured backend. The
// caller keeps ownership: Close will not close a store supplied here.
func WithStore(st store.Store) Option {
	return func(o *options) { o.st = st }
}

// WithModel sets the language model used for entity extraction and summary
// folding. Without one, both degrade to their deterministic fallbacks.
func WithModel(model llm.Model) Option {
	return func(o *options) { o.model = model }
}

// WithTokenCounter overrides token counting for summary triggers. Defaults
// to the configured tiktoken encoding, or the chars/4 estimate.
func WithTokenCounter(tokens llm.TokenCounter) Option {
	return func(o *options) { o.tokens = tokens }
}

// WithEmbedder supplies the embedder handed to stores built from
// configuration. Ignored when WithStore is used.
func WithEmbedder(embedder store.Embedder) Option {
	return func(o *options) { o.embedder = embedder }
}

// WithRateLimiter wraps the model in [llm.RateLimited] so every invocation
// waits for limiter admission first.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(o *options) { o.limiter = limiter }
}

// WithRegisterer sets the Prometheus registry for the system's metrics.
// Defaults to the process-wide registry; pass a fresh one when several
// systems share a process.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithMetricsNamespace overrides the metric namespace. Defaults to "memflow".
func WithMetricsNamespace(namespace string) Option {
	return func(o *options) { o.namespace = namespace }
}

// System is the assembled memory engine. Construct with [New]; the zero
// value is not usable.
type System struct {
	cfg        *config.Config
	store      store.Store
	graph      *graph.Graph
	tracker    *entity.Tracker
	summarizer *summary.Summarizer
	retriever  *retrieval.Retriever
	engine     *consolidation.Engine
	collector  *metrics.Collector
	logger     *zap.Logger

	// retrievalCfg is the configured default for Retrieve calls that leave
	// Options.Config zero.
	retrievalCfg retrieval.Config

	// foldMessageTrigger mirrors the summarizer's message-count trigger so
	// folds can be attributed to a trigger in metrics.
	foldMessageTrigger int

	// ownsStore marks a store built from configuration; Close only closes
	// what New opened.
	ownsStore bool

	// Now is the clock; tests override it.
	Now func() time.Time
}

// New assembles a System. All options are optional: the zero configuration
// yields an in-memory store, deterministic extraction and summarization
// fallbacks, and metrics on the default Prometheus registry.
func New(opts ...Option) (*System, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	model := o.model
	if model != nil && o.limiter != nil {
		model = llm.RateLimited(model, o.limiter, logger)
	}

	tokens := o.tokens
	if tokens == nil && cfg.Summary.TokenEncoding != "" {
		tokens = llm.NewTiktoken(cfg.Summary.TokenEncoding, logger)
	}

	namespace := o.namespace
	if namespace == "" {
		namespace = defaultMetricsNamespace
	}
	collector := metrics.NewCollector(namespace, o.registerer, logger)

	st := o.st
	ownsStore := false
	if st == nil {
		built, err := buildStore(cfg, o.embedder, logger)
		if err != nil {
			return nil, err
		}
		st = built
		ownsStore = true
	}

	g := graph.New(st, logger)
	tracker := entity.NewTracker(model, entity.TrackerConfig{
		MaxEntitiesPerThread: cfg.Entity.MaxEntitiesPerThread,
	}, logger)
	summarizer := summary.NewSummarizer(model, tokens, summary.Config{
		MaxMessagesBeforeSummary: cfg.Summary.MaxMessagesBeforeSummary,
		TriggerTokens:            cfg.Summary.TriggerTokens,
		MaxSummaryLength:         cfg.Summary.MaxSummaryLength,
	}, logger)
	retriever := retrieval.New(st, logger)

	engine, err := consolidation.NewEngine(st, g, collector, consolidationConfig(cfg.Consolidation), logger)
	if err != nil {
		return nil, err
	}

	foldTrigger := cfg.Summary.MaxMessagesBeforeSummary
	if foldTrigger <= 0 {
		foldTrigger = summary.DefaultMaxMessagesBeforeSummary
	}

	return &System{
		cfg:                cfg,
		store:              st,
		graph:              g,
		tracker:            tracker,
		summarizer:         summarizer,
		retriever:          retriever,
		engine:             engine,
		collector:          collector,
		logger:             logger.With(zap.String("component", "system")),
		retrievalCfg:       retrievalConfig(cfg.Retrieval, logger),
		foldMessageTrigger: foldTrigger,
		ownsStore:          ownsStore,
		Now:                time.Now,
	}, nil
}

// buildStore opens the backend the configuration selects.
func buildStore(cfg *config.Config, embedder store.Embedder, logger *zap.Logger) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "", "memory":
		return store.NewInMemory(embedder, logger), nil
	case "redis":
		return store.NewRedis(store.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			KeyPrefix:     cfg.Redis.KeyPrefix,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			PoolSize:      cfg.Redis.PoolSize,
			TLS:           cfg.Redis.TLS,
			EmbedCacheTTL: cfg.Redis.EmbedCacheTTL,
		}, embedder, logger)
	case "sql":
		return store.NewSQL(store.SQLConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN(),
			AutoMigrate:     cfg.Database.AutoMigrate,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, embedder, logger)
	case "qdrant":
		return store.NewQdrant(context.Background(), store.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			VectorSize: cfg.Qdrant.VectorSize,
			TLS:        cfg.Qdrant.TLS,
		}, embedder, logger)
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unknown store backend %q", cfg.Store.Backend))
	}
}

// consolidationConfig maps the loaded configuration onto the engine's.
func consolidationConfig(c config.ConsolidationConfig) consolidation.Config {
	return consolidation.Config{
		SimilarityThreshold:           c.SimilarityThreshold,
		MinMemoriesForConsolidation:   c.MinMemoriesForConsolidation,
		MaxMemoriesAfterConsolidation: c.MaxMemoriesAfterConsolidation,
		MaturityHours:                 c.MaturityHours,
		DormancyHours:                 c.DormancyHours,
		ArchiveHours:                  c.ArchiveHours,
		DecayRatePerDay:               c.DecayRatePerDay,
		MinImportanceThreshold:        c.MinImportanceThreshold,
		FetchLimit:                    c.FetchLimit,
		Workers:                       c.Workers,
		EnableBackground:              c.EnableBackground,
		Interval:                      c.Interval,
	}
}

// retrievalConfig resolves the configured retrieval tuning. A named preset
// wins over explicit weights.
func retrievalConfig(c config.RetrievalConfig, logger *zap.Logger) retrieval.Config {
	if c.Preset != "" {
		return retrieval.Preset(c.Preset, logger)
	}
	return retrieval.Config{
		SemanticWeight:  c.SemanticWeight,
		TemporalWeight:  c.TemporalWeight,
		MinScore:        c.MinScore,
		NormalizeScores: c.NormalizeScores,
		Decay: scoring.ParseDecay(scoring.DecayConfig{
			Function:       c.Decay.Function,
			Rate:           c.Decay.Rate,
			MaxAgeHours:    c.Decay.MaxAgeHours,
			ThresholdHours: c.Decay.ThresholdHours,
			Penalty:        c.Decay.Penalty,
		}, logger),
	}
}

// ProcessMessages is the write path for one turn of conversation: it stores
// the messages as memories and extends the relationship graph, folds them
// into the running summary, and updates the entity tracker. The three
// updates run concurrently; the first failure cancels the rest and is
// returned.
func (s *System) ProcessMessages(ctx context.Context, threadID string, msgs []types.Message) error {
	if threadID == "" {
		return types.NewValidationError("thread id is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.rememberMessages(gctx, threadID, msgs)
	})
	g.Go(func() error {
		if _, err := s.tracker.Extract(gctx, threadID, msgs, entity.ExtractOptions{}); err != nil {
			return fmt.Errorf("extract entities: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.addToSummary(gctx, threadID, msgs)
	})
	return g.Wait()
}

// rememberMessages turns non-system messages into NEW memories and derives
// graph nodes and edges from their text.
func (s *System) rememberMessages(ctx context.Context, threadID string, msgs []types.Message) error {
	now := s.Now()
	memories := make([]types.Memory, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		created := m.Timestamp
		if created.IsZero() {
			created = now
		}
		memories = append(memories, types.Memory{
			ID:             uuid.NewString(),
			ThreadID:       threadID,
			TextContent:    m.Content,
			Importance:     DefaultMemoryImportance,
			LifecycleStage: types.StageNew,
			CreatedAt:      created,
			Metadata:       map[string]any{"role": string(m.Role)},
		})
	}
	if len(memories) == 0 {
		return nil
	}
	if err := s.store.StoreMemories(ctx, memories); err != nil {
		return fmt.Errorf("store messages: %w", err)
	}
	for _, m := range memories {
		s.graph.ExtractNodesAndEdges(m.TextContent, threadID)
	}
	return nil
}

// addToSummary feeds the summarizer and records the fold trigger when the
// call crossed one.
func (s *System) addToSummary(ctx context.Context, threadID string, msgs []types.Message) error {
	before := s.summarizer.State(threadID)
	appended := 0
	for _, m := range msgs {
		if m.Role != types.RoleSystem {
			appended++
		}
	}

	after, err := s.summarizer.AddMessages(ctx, threadID, msgs, summary.AddOptions{})
	if err != nil {
		return fmt.Errorf("fold summary: %w", err)
	}
	if after.MessagesSummarized > before.MessagesSummarized {
		// The summarizer checks the message-count trigger first.
		trigger := metrics.TriggerTokens
		if len(before.Pending)+appended >= s.foldMessageTrigger {
			trigger = metrics.TriggerMessages
		}
		s.collector.RecordSummaryFold(trigger)
	}
	return nil
}

// Remember stores one explicit memory, filling in identity, timestamps, and
// the default importance where missing, and extends the relationship graph
// from its text. The stored memory is returned.
func (s *System) Remember(ctx context.Context, mem types.Memory) (types.Memory, error) {
	if mem.ThreadID == "" {
		return types.Memory{}, types.NewValidationError("thread id is required")
	}
	if strings.TrimSpace(mem.TextContent) == "" {
		return types.Memory{}, types.NewValidationError("text content is required")
	}
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = s.Now()
	}
	if mem.Importance == 0 {
		mem.Importance = DefaultMemoryImportance
	}
	if mem.LifecycleStage == "" {
		mem.LifecycleStage = types.StageNew
	}

	if err := s.store.StoreMemories(ctx, []types.Memory{mem}); err != nil {
		return types.Memory{}, fmt.Errorf("store memory: %w", err)
	}
	s.graph.ExtractNodesAndEdges(mem.TextContent, mem.ThreadID)
	return mem, nil
}

// Retrieve runs a time-weighted retrieval with the configured default
// tuning when opts.Config is zero, recording latency and outcome.
func (s *System) Retrieve(ctx context.Context, query, threadID string, opts retrieval.Options) []retrieval.Result {
	if opts.Config == (retrieval.Config{}) {
		opts.Config = s.retrievalCfg
	}

	start := time.Now()
	results := s.retriever.Retrieve(ctx, query, threadID, opts)

	// A nil result is the retriever's degraded outcome; no matches is an
	// empty non-nil slice.
	status := metrics.StatusCompleted
	if results == nil {
		status = metrics.StatusDegraded
	}
	s.collector.RecordRetrieval(status, time.Since(start))
	return results
}

// Summarize folds the thread's pending messages now, without waiting for a
// trigger.
func (s *System) Summarize(ctx context.Context, threadID string) (summary.State, error) {
	before := s.summarizer.State(threadID)
	state, err := s.summarizer.Summarize(ctx, threadID)
	if err != nil {
		return state, err
	}
	if state.MessagesSummarized > before.MessagesSummarized {
		s.collector.RecordSummaryFold(metrics.TriggerManual)
	}
	return state, nil
}

// Consolidate runs one consolidation pass over the thread.
func (s *System) Consolidate(ctx context.Context, threadID string) (consolidation.Stats, error) {
	return s.engine.Consolidate(ctx, threadID)
}

// ConsolidateAll sweeps every known thread.
func (s *System) ConsolidateAll(ctx context.Context) (consolidation.Stats, error) {
	return s.engine.ConsolidateAll(ctx)
}

// Start launches background consolidation when the configuration enables
// it. Without it Start is a logged no-op.
func (s *System) Start(ctx context.Context) error {
	return s.engine.Start(ctx)
}

// Health reports store availability, graph size, and engine counters.
func (s *System) Health(ctx context.Context) consolidation.Health {
	return s.engine.Health(ctx)
}

// Close stops background consolidation and closes the store when New opened
// it. Stores supplied via WithStore stay open.
func (s *System) Close() error {
	s.engine.Stop()
	if s.ownsStore {
		if closer, ok := s.store.(store.Closer); ok {
			if err := closer.Close(); err != nil {
				return fmt.Errorf("close store: %w", err)
			}
		}
	}
	s.logger.Info("system closed")
	return nil
}

// Component accessors. The facade owns the wiring, not the components;
// callers can reach past it for anything it does not re-export.

// Config returns the validated configuration the system was built with.
func (s *System) Config() *config.Config { return s.cfg }

// Store returns the memory store.
func (s *System) Store() store.Store { return s.store }

// Graph returns the relationship graph.
func (s *System) Graph() *graph.Graph { return s.graph }

// Tracker returns the entity tracker.
func (s *System) Tracker() *entity.Tracker { return s.tracker }

// Summarizer returns the progressive summarizer.
func (s *System) Summarizer() *summary.Summarizer { return s.summarizer }

// Retriever returns the time-weighted retriever.
func (s *System) Retriever() *retrieval.Retriever { return s.retriever }

// Engine returns the consolidation engine.
func (s *System) Engine() *consolidation.Engine { return s.engine }
