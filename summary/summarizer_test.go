package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/types"
)

func addN(t *testing.T, s *Summarizer, threadID string, n int) State {
	t.Helper()
	var state State
	var err error
	for i := 1; i <= n; i++ {
		state, err = s.AddMessages(context.Background(), threadID,
			[]types.Message{types.NewUserMessage(fmt.Sprintf("msg %d", i))}, AddOptions{})
		require.NoError(t, err)
	}
	return state
}

func TestAddMessagesBuffersBelowTrigger(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, nil, Config{}, zap.NewNop())
	state := addN(t, s, "t1", 3)

	assert.Empty(t, state.Summary)
	assert.Len(t, state.Pending, 3)
	assert.Zero(t, state.MessagesSummarized)
	assert.True(t, state.LastSummaryUpdate.IsZero())
}

func TestFoldAtMessageTrigger(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, nil, Config{}, zap.NewNop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	state := addN(t, s, "t1", DefaultMaxMessagesBeforeSummary)

	assert.Contains(t, state.Summary, "user: msg 1")
	assert.Contains(t, state.Summary, "user: msg 10")
	assert.Empty(t, state.Pending, "pending clears on fold")
	assert.Equal(t, 10, state.MessagesSummarized)
	assert.Equal(t, now, state.LastSummaryUpdate)
}

func TestFoldAtTokenTrigger(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, nil, Config{TriggerTokens: 10}, zap.NewNop())
	state, err := s.AddMessages(context.Background(), "t1",
		[]types.Message{types.NewUserMessage(strings.Repeat("long content ", 20))}, AddOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, state.Summary, "token estimate above trigger folds a single message")
	assert.Equal(t, 1, state.MessagesSummarized)
}

func TestSystemMessagesSkippedByDefault(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, nil, Config{}, zap.NewNop())
	ctx := context.Background()

	state, err := s.AddMessages(ctx, "t1", []types.Message{
		types.NewSystemMessage("instructions"),
		types.NewUserMessage("hello"),
	}, AddOptions{})
	require.NoError(t, err)
	require.Len(t, state.Pending, 1)
	assert.Equal(t, types.RoleUser, state.Pending[0].Role)

	state, err = s.AddMessages(ctx, "t2", []types.Message{
		types.NewSystemMessage("instructions"),
	}, AddOptions{IncludeSystem: true})
	require.NoError(t, err)
	assert.Len(t, state.Pending, 1)
}

func TestModelFold(t *testing.T) {
	t.Parallel()

	var prompt string
	model := llm.ModelFunc(func(_ context.Context, msgs []types.Message) (string, error) {
		prompt = msgs[len(msgs)-1].Content
		return "  User discussed ten things.  ", nil
	})
	s := NewSummarizer(model, nil, Config{}, zap.NewNop())

	state := addN(t, s, "t1", 10)

	assert.Equal(t, "User discussed ten things.", state.Summary, "model output is trimmed")
	assert.Contains(t, prompt, "(none)", "first fold has no prior summary")
	assert.Contains(t, prompt, "user: msg 1")
	assert.Contains(t, prompt, "user: msg 10")
}

func TestProgressiveFoldEmbedsPriorSummary(t *testing.T) {
	t.Parallel()

	var prompts []string
	model := llm.ModelFunc(func(_ context.Context, msgs []types.Message) (string, error) {
		prompts = append(prompts, msgs[len(msgs)-1].Content)
		return fmt.Sprintf("summary %d", len(prompts)), nil
	})
	s := NewSummarizer(model, nil, Config{}, zap.NewNop())

	addN(t, s, "t1", 10)
	state := addN(t, s, "t1", 10)

	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "summary 1", "second fold sees the first summary")
	assert.Equal(t, "summary 2", state.Summary)
	assert.Equal(t, 20, state.MessagesSummarized)
}

func TestModelFailureFallsBackToConcatenation(t *testing.T) {
	t.Parallel()

	model := llm.ModelFunc(func(context.Context, []types.Message) (string, error) {
		return "", errors.New("provider down")
	})
	s := NewSummarizer(model, nil, Config{}, zap.NewNop())

	state := addN(t, s, "t1", 10)

	assert.Contains(t, state.Summary, "user: msg 1")
	assert.Equal(t, 10, state.MessagesSummarized, "fallback still consumes pending")
}

func TestSummaryHardCap(t *testing.T) {
	t.Parallel()

	model := llm.ModelFunc(func(context.Context, []types.Message) (string, error) {
		return strings.Repeat("x", 5000), nil
	})
	s := NewSummarizer(model, nil, Config{MaxSummaryLength: 40}, zap.NewNop())
	state := addN(t, s, "t1", 10)
	assert.Len(t, state.Summary, 40)

	// The fallback honors the cap too.
	s = NewSummarizer(nil, nil, Config{MaxSummaryLength: 40}, zap.NewNop())
	state = addN(t, s, "t1", 10)
	assert.LessOrEqual(t, len([]rune(state.Summary)), 40)
}

func TestSummarizeFoldsOnDemand(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, nil, Config{}, zap.NewNop())
	addN(t, s, "t1", 2)

	state, err := s.Summarize(context.Background(), "t1")
	require.NoError(t, err)
	assert.Contains(t, state.Summary, "user: msg 2")
	assert.Empty(t, state.Pending)
	assert.Equal(t, 2, state.MessagesSummarized)

	// Nothing pending: no-op.
	again, err := s.Summarize(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, state.Summary, again.Summary)
	assert.Equal(t, 2, again.MessagesSummarized)
}

func TestContext(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, nil, Config{}, zap.NewNop())
	addN(t, s, "t1", 10) // folds
	addN(t, s, "t1", 2)  // leaves two pending

	note := s.Context("t1", false)
	require.Len(t, note, 1)
	assert.Equal(t, types.RoleSystem, note[0].Role)
	assert.Contains(t, note[0].Content, "Conversation summary:")

	withRecent := s.Context("t1", true)
	require.Len(t, withRecent, 3)
	assert.Equal(t, "msg 1", withRecent[1].Content)
	assert.Equal(t, "msg 2", withRecent[2].Content)

	assert.Nil(t, s.Context("unknown", true))
}

func TestStateAndClearThread(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, nil, Config{}, zap.NewNop())
	addN(t, s, "t1", 3)
	addN(t, s, "t2", 1)

	assert.Len(t, s.State("t1").Pending, 3)
	assert.Len(t, s.State("t2").Pending, 1, "threads are isolated")
	assert.Equal(t, State{}, s.State("unknown"))

	s.ClearThread("t1")
	assert.Equal(t, State{}, s.State("t1"))
	assert.Len(t, s.State("t2").Pending, 1)
}

func TestAddMessagesValidation(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, nil, Config{}, zap.NewNop())
	_, err := s.AddMessages(context.Background(), "", nil, AddOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = s.Summarize(context.Background(), "")
	require.Error(t, err)
}
