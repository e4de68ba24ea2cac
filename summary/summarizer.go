// Package summary maintains a progressive, per-thread conversation summary:
// messages buffer per thread and fold into a single bounded summary once
// enough of them (or enough tokens) accumulate. Folding uses the configured
// model and degrades to deterministic concatenation without one.
package summary

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/types"
)

// Defaults for Config zero values.
const (
	DefaultMaxMessagesBeforeSummary = 10
	DefaultTriggerTokens            = 8000
	DefaultMaxSummaryLength         = 2000
)

// Config tunes when and how summaries fold.
type Config struct {
	// MaxMessagesBeforeSummary triggers a fold once the pending buffer
	// reaches this many messages. Zero means the default.
	MaxMessagesBeforeSummary int
	// TriggerTokens triggers a fold once the pending buffer's token
	// estimate exceeds it, regardless of message count. Zero means the
	// default.
	TriggerTokens int
	// MaxSummaryLength is the hard cap, in characters, on the stored
	// summary. Model output and the fallback are both truncated to it.
	// Zero means the default.
	MaxSummaryLength int
}

func (c Config) withDefaults() Config {
	if c.MaxMessagesBeforeSummary <= 0 {
		c.MaxMessagesBeforeSummary = DefaultMaxMessagesBeforeSummary
	}
	if c.TriggerTokens <= 0 {
		c.TriggerTokens = DefaultTriggerTokens
	}
	if c.MaxSummaryLength <= 0 {
		c.MaxSummaryLength = DefaultMaxSummaryLength
	}
	return c
}

// State is one thread's summary state.
type State struct {
	Summary            string          `json:"summary"`
	MessagesSummarized int             `json:"messages_summarized"`
	Pending            []types.Message `json:"pending,omitempty"`
	LastSummaryUpdate  time.Time       `json:"last_summary_update"`
}

func (s State) clone() State {
	out := s
	if s.Pending != nil {
		out.Pending = append([]types.Message(nil), s.Pending...)
	}
	return out
}

// threadSummary is one thread's shard. folding marks an in-flight fold so a
// second trigger for the same thread defers instead of racing the model call.
type threadSummary struct {
	mu      sync.Mutex
	folding bool
	state   State
}

// Summarizer folds conversation messages into per-thread summaries. Shards
// are created on first touch and destroyed by ClearThread; operations on
// different threads proceed in parallel, and no lock is held across a model
// call.
type Summarizer struct {
	mu      sync.RWMutex
	threads map[string]*threadSummary

	model  llm.Model
	tokens llm.TokenCounter
	cfg    Config
	logger *zap.Logger

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewSummarizer creates a summarizer. model may be nil; folding then always
// uses the concatenation fallback. tokens may be nil; the chars/4 estimate
// applies.
func NewSummarizer(model llm.Model, tokens llm.TokenCounter, cfg Config, logger *zap.Logger) *Summarizer {
	if tokens == nil {
		tokens = llm.Estimate{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{
		threads: make(map[string]*threadSummary),
		model:   model,
		tokens:  tokens,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(zap.String("component", "summarizer")),
		Now:     time.Now,
	}
}

// AddOptions tunes one AddMessages call.
type AddOptions struct {
	// IncludeSystem buffers system messages too. By default they are
	// skipped; system prompts are instructions, not conversation content.
	IncludeSystem bool
}

// AddMessages appends msgs to the thread's pending buffer and folds the
// buffer into the summary when it reaches the message or token trigger. The
// fold runs synchronously on the calling goroutine; a model failure degrades
// to concatenation, never to an error. The returned state reflects the
// post-call thread state.
func (s *Summarizer) AddMessages(ctx context.Context, threadID string, msgs []types.Message, opts AddOptions) (State, error) {
	if threadID == "" {
		return State{}, types.NewValidationError("thread id is required")
	}

	shard := s.shard(threadID, true)
	shard.mu.Lock()
	for _, m := range msgs {
		if m.Role == types.RoleSystem && !opts.IncludeSystem {
			continue
		}
		shard.state.Pending = append(shard.state.Pending, m)
	}

	if !s.shouldFoldLocked(shard) {
		state := shard.state.clone()
		shard.mu.Unlock()
		return state, nil
	}
	return s.fold(ctx, shard), nil
}

// Summarize folds whatever is pending right now, without waiting for a
// trigger. With nothing pending, or with a fold already in flight, it
// returns the current state unchanged.
func (s *Summarizer) Summarize(ctx context.Context, threadID string) (State, error) {
	if threadID == "" {
		return State{}, types.NewValidationError("thread id is required")
	}
	shard := s.shard(threadID, false)
	if shard == nil {
		return State{}, nil
	}

	shard.mu.Lock()
	if len(shard.state.Pending) == 0 || shard.folding {
		state := shard.state.clone()
		shard.mu.Unlock()
		return state, nil
	}
	return s.fold(ctx, shard), nil
}

// shouldFoldLocked reports whether the pending buffer has hit a trigger. A
// fold already in flight defers to the next call.
func (s *Summarizer) shouldFoldLocked(shard *threadSummary) bool {
	if shard.folding || len(shard.state.Pending) == 0 {
		return false
	}
	if len(shard.state.Pending) >= s.cfg.MaxMessagesBeforeSummary {
		return true
	}
	return s.tokens.CountMessagesTokens(shard.state.Pending) > s.cfg.TriggerTokens
}

// fold consumes the pending buffer and replaces the summary. The caller
// holds the shard lock; fold releases it around the model call and returns
// with it released.
func (s *Summarizer) fold(ctx context.Context, shard *threadSummary) State {
	prior := shard.state.Summary
	pending := shard.state.Pending
	shard.state.Pending = nil
	shard.folding = true
	shard.mu.Unlock()

	summary := s.buildSummary(ctx, prior, pending)

	shard.mu.Lock()
	shard.state.Summary = summary
	shard.state.MessagesSummarized += len(pending)
	shard.state.LastSummaryUpdate = s.Now()
	shard.folding = false
	state := shard.state.clone()
	shard.mu.Unlock()
	return state
}

const summarizeSystem = "You maintain the running summary of a conversation. Respond with the updated summary text and nothing else."

const summarizePromptFormat = `Fold the new messages into the conversation summary.

Current summary:
%s

New messages:
%s

Requirements:
1. Keep key topics, decisions, and facts
2. Preserve names, dates, and numbers exactly
3. Use concise language
4. Keep chronological order`

// buildSummary produces the replacement summary from the prior one and the
// consumed pending messages, via the model when configured and the
// concatenation fallback otherwise.
func (s *Summarizer) buildSummary(ctx context.Context, prior string, pending []types.Message) string {
	pendingText := formatMessages(pending)

	if s.model != nil {
		priorText := prior
		if priorText == "" {
			priorText = "(none)"
		}
		prompt := fmt.Sprintf(summarizePromptFormat, priorText, pendingText)
		response, err := s.model.Invoke(ctx, []types.Message{
			types.NewSystemMessage(summarizeSystem),
			types.NewUserMessage(prompt),
		})
		if err == nil {
			return truncate(strings.TrimSpace(response), s.cfg.MaxSummaryLength)
		}
		s.logger.Warn("summary model failed, using concatenation fallback", zap.Error(err))
	}

	combined := pendingText
	if prior != "" {
		combined = prior + "\n" + pendingText
	}
	return truncate(combined, s.cfg.MaxSummaryLength)
}

// formatMessages renders messages one per line as "role: content".
func formatMessages(msgs []types.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// truncate cuts s to at most max characters.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// Context returns the thread's summary as a single contextual note, followed
// by the untouched pending messages when includeRecent is set. An unknown
// thread yields nil.
func (s *Summarizer) Context(threadID string, includeRecent bool) []types.Message {
	state := s.State(threadID)

	var out []types.Message
	if state.Summary != "" {
		out = append(out, types.NewSystemMessage("Conversation summary:\n"+state.Summary))
	}
	if includeRecent {
		out = append(out, state.Pending...)
	}
	return out
}

// State returns a copy of the thread's summary state.
func (s *Summarizer) State(threadID string) State {
	shard := s.shard(threadID, false)
	if shard == nil {
		return State{}
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.state.clone()
}

// ClearThread destroys the thread's summary state.
func (s *Summarizer) ClearThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
}

// shard returns the thread's shard, creating it when create is set.
func (s *Summarizer) shard(threadID string, create bool) *threadSummary {
	s.mu.RLock()
	shard, ok := s.threads[threadID]
	s.mu.RUnlock()
	if ok || !create {
		return shard
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if shard, ok = s.threads[threadID]; ok {
		return shard
	}
	shard = &threadSummary{}
	s.threads[threadID] = shard
	return shard
}
