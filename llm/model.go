package llm

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memflow/types"
)

// Model is the narrow language-model surface the memory engine consumes.
// Implementations wrap whatever provider the host application uses; the
// engine only ever needs a chat completion as plain text.
type Model interface {
	Invoke(ctx context.Context, msgs []types.Message) (string, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(ctx context.Context, msgs []types.Message) (string, error)

func (f ModelFunc) Invoke(ctx context.Context, msgs []types.Message) (string, error) {
	return f(ctx, msgs)
}

// RateLimitedModel throttles Invoke calls through a token bucket so that
// background jobs (extraction, summarization) cannot starve the host
// application's own model budget.
type RateLimitedModel struct {
	inner   Model
	limiter *rate.Limiter
	logger  *zap.Logger
}

// RateLimited wraps model with limiter. A nil limiter disables throttling.
func RateLimited(model Model, limiter *rate.Limiter, logger *zap.Logger) *RateLimitedModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitedModel{
		inner:   model,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "llm_rate_limiter")),
	}
}

func (m *RateLimitedModel) Invoke(ctx context.Context, msgs []types.Message) (string, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			m.logger.Warn("rate limiter wait aborted", zap.Error(err))
			return "", types.NewError(types.ErrModelFailure, "model invocation aborted").WithCause(err)
		}
	}
	return m.inner.Invoke(ctx, msgs)
}
