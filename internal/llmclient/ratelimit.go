package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
)

// RateLimitedClient throttles calls to the wrapped client with a token bucket
// shared by every caller.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimitedClient wraps next. A non-positive burst is raised to one.
func NewRateLimitedClient(next schemas.LLMClient, perSecond float64, burst int, logger *zap.Logger) *RateLimitedClient {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger.Named("llm_ratelimit"),
	}
}

func (c *RateLimitedClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// Generate waits for a token and delegates.
func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	return c.next.Generate(ctx, req)
}

// GenerateRaw waits for a token and delegates, falling back to Generate when
// the wrapped client only produces text.
func (c *RateLimitedClient) GenerateRaw(ctx context.Context, req schemas.GenerationRequest) (any, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if raw, ok := c.next.(schemas.RawLLMClient); ok {
		return raw.GenerateRaw(ctx, req)
	}
	return c.next.Generate(ctx, req)
}

// Close closes the wrapped client.
func (c *RateLimitedClient) Close() error {
	return c.next.Close()
}

var _ schemas.RawLLMClient = (*RateLimitedClient)(nil)
