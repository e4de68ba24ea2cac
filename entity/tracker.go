// Package entity tracks the people, places, and things mentioned in a
// conversation, per thread. Entities are extracted by a language model when
// one is configured, with a deterministic pattern fallback, and accumulate
// mentions, facts, and relationships across extractions.
package entity

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/types"
)

// DefaultMaxEntitiesPerThread bounds each thread's entity map.
const DefaultMaxEntitiesPerThread = 100

// Relevance assigned on first insert, depending on how the entity was found.
const (
	modelBaseRelevance   = 0.5
	patternBaseRelevance = 0.3
)

// TrackerConfig tunes the tracker.
type TrackerConfig struct {
	// MaxEntitiesPerThread caps entities per thread; the least relevant,
	// oldest entity is evicted to make room. Zero means the default.
	MaxEntitiesPerThread int
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.MaxEntitiesPerThread <= 0 {
		c.MaxEntitiesPerThread = DefaultMaxEntitiesPerThread
	}
	return c
}

// threadEntities is one thread's shard. Each shard carries its own lock so
// independent threads never block each other.
type threadEntities struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// Tracker maintains per-thread entity state. Shards are created on first
// touch and destroyed by ClearThread. All methods are safe for concurrent
// use; operations on different threads proceed in parallel.
type Tracker struct {
	mu      sync.RWMutex
	threads map[string]*threadEntities

	model  llm.Model
	cfg    TrackerConfig
	logger *zap.Logger

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewTracker creates a tracker. model may be nil; extraction then always
// uses the deterministic pattern fallback.
func NewTracker(model llm.Model, cfg TrackerConfig, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		threads: make(map[string]*threadEntities),
		model:   model,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(zap.String("component", "entity_tracker")),
		Now:     time.Now,
	}
}

// ExtractOptions tunes one extraction call.
type ExtractOptions struct {
	// Types restricts extraction to the given entity types. Empty means all.
	Types []Type
}

// Extract pulls entities out of msgs and merges them into the thread's
// state. Re-mentioned entities gain a mention count, union in new facts and
// relationships, and get their relevance recomputed as min(1,
// mentions/10). New entities start at relevance 0.5 (0.3 when found by the
// pattern fallback). A model failure or unparseable response degrades to the
// pattern fallback, never to an error. The returned entities reflect the
// post-merge state.
func (t *Tracker) Extract(ctx context.Context, threadID string, msgs []types.Message, opts ExtractOptions) ([]Entity, error) {
	if threadID == "" {
		return nil, types.NewValidationError("thread id is required")
	}
	text := conversationText(msgs)
	if text == "" {
		return nil, nil
	}

	candidates, base := t.extractCandidates(ctx, text, opts)
	candidates = filterCandidates(candidates, opts.Types)
	if len(candidates) == 0 {
		return nil, nil
	}

	shard := t.shard(threadID, true)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := t.Now()
	out := make([]Entity, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, t.upsertLocked(shard, c, base, now))
	}
	return out, nil
}

// extractCandidates runs the model extractor when configured, falling back
// to pattern extraction on invocation or parse failure.
func (t *Tracker) extractCandidates(ctx context.Context, text string, opts ExtractOptions) ([]Entity, float64) {
	if t.model != nil {
		candidates, err := t.extractWithModel(ctx, text, opts)
		if err == nil {
			return candidates, modelBaseRelevance
		}
		t.logger.Warn("model extraction failed, using pattern fallback", zap.Error(err))
	}
	return patternCandidates(text), patternBaseRelevance
}

// upsertLocked merges c into the shard or inserts it, evicting first when
// the shard is full. The caller holds the shard lock.
func (t *Tracker) upsertLocked(shard *threadEntities, c Entity, base float64, now time.Time) Entity {
	id := EntityID(c.Name, c.Type)
	if e, ok := shard.entities[id]; ok {
		e.MentionCount++
		if c.Description != "" {
			e.Description = c.Description
		}
		e.Facts = unionFacts(e.Facts, c.Facts)
		e.Relationships = unionRelationships(e.Relationships, c.Relationships)
		e.LastUpdated = now
		e.RelevanceScore = math.Min(1, float64(e.MentionCount)/10)
		return e.clone()
	}

	if len(shard.entities) >= t.cfg.MaxEntitiesPerThread {
		t.evictLocked(shard, now)
	}

	e := &Entity{
		ID:             id,
		Name:           c.Name,
		Type:           c.Type,
		Description:    c.Description,
		Facts:          unionFacts(nil, c.Facts),
		Relationships:  unionRelationships(nil, c.Relationships),
		FirstMentioned: now,
		LastUpdated:    now,
		MentionCount:   1,
		RelevanceScore: base,
	}
	shard.entities[id] = e
	return e.clone()
}

// evictLocked removes the entity minimizing relevance − 0.01×ageInDays, the
// oldest and least relevant one.
func (t *Tracker) evictLocked(shard *threadEntities, now time.Time) {
	var (
		victimID string
		best     = math.Inf(1)
	)
	for id, e := range shard.entities {
		ageDays := now.Sub(e.FirstMentioned).Hours() / 24
		score := e.RelevanceScore - 0.01*ageDays
		if score < best || (score == best && id < victimID) {
			best = score
			victimID = id
		}
	}
	if victimID == "" {
		return
	}
	delete(shard.entities, victimID)
	t.logger.Debug("evicted entity to stay under the per-thread cap",
		zap.String("entity_id", victimID),
		zap.Float64("score", best))
}

// Filter narrows Entities results.
type Filter struct {
	// Type keeps only entities of the given type. Empty means all.
	Type Type
	// MinRelevance drops entities scoring below it.
	MinRelevance float64
	// Query keeps entities whose name, description, or facts contain it,
	// case-insensitively.
	Query string
	// Limit caps the result. Zero means no cap.
	Limit int
}

// Entities returns the thread's entities matching filter, sorted by
// relevance descending.
func (t *Tracker) Entities(threadID string, filter Filter) []Entity {
	shard := t.shard(threadID, false)
	if shard == nil {
		return nil
	}

	shard.mu.RLock()
	out := make([]Entity, 0, len(shard.entities))
	for _, e := range shard.entities {
		if matchesFilter(e, filter) {
			out = append(out, e.clone())
		}
	}
	shard.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].Name < out[j].Name
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func matchesFilter(e *Entity, f Filter) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if e.RelevanceScore < f.MinRelevance {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	if strings.Contains(strings.ToLower(e.Name), q) ||
		strings.Contains(strings.ToLower(e.Description), q) {
		return true
	}
	for _, fact := range e.Facts {
		if strings.Contains(strings.ToLower(fact), q) {
			return true
		}
	}
	return false
}

// ContextOptions tunes Context rendering.
type ContextOptions struct {
	// TopN caps how many entities the note covers. Zero means 5.
	TopN int
	// Names selects entities by case-insensitive name match instead of
	// taking the most relevant ones.
	Names []string
}

// Context renders the thread's most relevant (or name-matched) entities as a
// single contextual note for prompt injection. An unknown or empty thread
// yields "".
func (t *Tracker) Context(threadID string, opts ContextOptions) string {
	topN := opts.TopN
	if topN <= 0 {
		topN = 5
	}

	var selected []Entity
	if len(opts.Names) > 0 {
		for _, name := range opts.Names {
			selected = append(selected, t.Entities(threadID, Filter{Query: name})...)
		}
	} else {
		selected = t.Entities(threadID, Filter{Limit: topN})
	}
	if len(selected) == 0 {
		return ""
	}
	if len(selected) > topN {
		selected = selected[:topN]
	}

	var b strings.Builder
	b.WriteString("Known entities:\n")
	for _, e := range selected {
		b.WriteString("- ")
		b.WriteString(e.Name)
		b.WriteString(" (")
		b.WriteString(string(e.Type))
		b.WriteString(")")
		if e.Description != "" {
			b.WriteString(": ")
			b.WriteString(e.Description)
		}
		if len(e.Facts) > 0 {
			b.WriteString(" | facts: ")
			b.WriteString(strings.Join(e.Facts, "; "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Forget removes one entity and reports whether it existed.
func (t *Tracker) Forget(threadID, entityID string) bool {
	shard := t.shard(threadID, false)
	if shard == nil {
		return false
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, ok := shard.entities[entityID]; !ok {
		return false
	}
	delete(shard.entities, entityID)
	return true
}

// Count returns how many entities the thread currently tracks.
func (t *Tracker) Count(threadID string) int {
	shard := t.shard(threadID, false)
	if shard == nil {
		return 0
	}
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.entities)
}

// ClearThread destroys the thread's entity state.
func (t *Tracker) ClearThread(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.threads, threadID)
}

// shard returns the thread's shard, creating it when create is set.
func (t *Tracker) shard(threadID string, create bool) *threadEntities {
	t.mu.RLock()
	s, ok := t.threads[threadID]
	t.mu.RUnlock()
	if ok || !create {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.threads[threadID]; ok {
		return s
	}
	s = &threadEntities{entities: make(map[string]*Entity)}
	t.threads[threadID] = s
	return s
}

// conversationText joins non-system message contents; system prompts are
// instructions, not conversation content.
func conversationText(msgs []types.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == types.RoleSystem || m.Content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// filterCandidates drops candidates outside the allowed types.
func filterCandidates(candidates []Entity, allowed []Type) []Entity {
	if len(allowed) == 0 {
		return candidates
	}
	set := make(map[Type]struct{}, len(allowed))
	for _, t := range allowed {
		set[t] = struct{}{}
	}
	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := set[c.Type]; ok {
			out = append(out, c)
		}
	}
	return out
}
