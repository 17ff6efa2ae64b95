package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
)

// LLMRouter implements the RawLLMClient interface and routes requests.
type LLMRouter struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
}

// NewLLMRouter creates a new router with the specified clients for each tier.
func NewLLMRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient) (*LLMRouter, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	return &LLMRouter{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
	}, nil
}

func (r *LLMRouter) route(req schemas.GenerationRequest) (schemas.LLMClient, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful // Default to the powerful tier if unspecified.
	}

	client, ok := r.clients[tier]
	if !ok {
		return nil, fmt.Errorf("no LLM client configured for tier: %s", tier)
	}
	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	return client, nil
}

// Generate selects the appropriate client based on the request's Tier.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	client, err := r.route(req)
	if err != nil {
		return "", err
	}
	return client.Generate(ctx, req)
}

// GenerateRaw returns the routed client's unnormalized output when it has one,
// and its plain text otherwise.
func (r *LLMRouter) GenerateRaw(ctx context.Context, req schemas.GenerationRequest) (any, error) {
	client, err := r.route(req)
	if err != nil {
		return nil, err
	}
	if raw, ok := client.(schemas.RawLLMClient); ok {
		return raw.GenerateRaw(ctx, req)
	}
	return client.Generate(ctx, req)
}

// Close closes every distinct underlying client.
func (r *LLMRouter) Close() error {
	var errs []error
	seen := make(map[schemas.LLMClient]struct{}, len(r.clients))
	for _, client := range r.clients {
		if _, dup := seen[client]; dup {
			continue
		}
		seen[client] = struct{}{}
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ schemas.RawLLMClient = (*LLMRouter)(nil)

