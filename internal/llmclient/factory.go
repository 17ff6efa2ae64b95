// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/config"
)

// ErrUnsupportedProvider is returned for model configs naming a provider this
// package cannot talk to.
var ErrUnsupportedProvider = errors.New("unsupported LLM provider")

// NewClient builds the tiered client described by cfg: one client per default
// model, routed by tier and optionally throttled.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	llmCfg := cfg.LLM

	fast, err := newModelClient(ctx, llmCfg, llmCfg.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful, err := newModelClient(ctx, llmCfg, llmCfg.DefaultPowerfulModel, logger)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}

	router, err := NewLLMRouter(logger, fast, powerful)
	if err != nil {
		return nil, err
	}
	if llmCfg.RateLimit > 0 {
		return NewRateLimitedClient(router, llmCfg.RateLimit, llmCfg.Burst, logger), nil
	}
	return router, nil
}

func newModelClient(ctx context.Context, llmCfg config.LLMRouterConfig, name string, logger *zap.Logger) (schemas.LLMClient, error) {
	modelCfg, ok := llmCfg.Models[name]
	if !ok {
		return nil, fmt.Errorf("model %q is not defined in agent.llm.models", name)
	}

	switch modelCfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(ctx, modelCfg, logger)
	default:
		return nil, fmt.Errorf("%w: '%s'. Supported: [%s]", ErrUnsupportedProvider, modelCfg.Provider, config.ProviderGemini)
	}
}
