package forge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
)

// Knowledge supplies the material the analysis prompt is built from.
type Knowledge interface {
	Read(vulnerabilityType string) (string, error)
	ExampleDetector() (string, error)
}

// Generator turns vulnerability write-ups and build failures into model
// replies. Replies are returned unnormalized when the client supports it.
type Generator struct {
	logger    *zap.Logger
	client    schemas.LLMClient
	knowledge Knowledge
}

// NewGenerator creates a Generator.
func NewGenerator(logger *zap.Logger, client schemas.LLMClient, knowledge Knowledge) *Generator {
	return &Generator{
		logger:    logger.Named("generator"),
		client:    client,
		knowledge: knowledge,
	}
}

// Analyze asks the model for a full plugin implementation of vulnerabilityType.
func (g *Generator) Analyze(ctx context.Context, vulnerabilityType string) (any, error) {
	description, err := g.knowledge.Read(vulnerabilityType)
	if err != nil {
		return nil, err
	}
	example, err := g.knowledge.ExampleDetector()
	if err != nil {
		g.logger.Warn("Example detector unavailable; generating without it.", zap.Error(err))
		example = ""
	}

	req := schemas.GenerationRequest{
		SystemPrompt: analysisSystemPrompt,
		UserPrompt:   analysisPrompt(vulnerabilityType, description, example),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.1,
		},
	}
	g.logger.Info("Requesting plugin implementation.", zap.String("vulnerability_type", vulnerabilityType))
	raw, err := g.generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("analysis generation failed: %w", err)
	}
	return raw, nil
}

// Repair asks the model to fix code given the build failure it produced.
func (g *Generator) Repair(ctx context.Context, failureOutput, code string) (any, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: repairSystemPrompt,
		UserPrompt:   repairPrompt(failureOutput, code),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.1},
	}
	g.logger.Debug("Requesting repair.", zap.Int("code_length", len(code)))
	return g.generate(ctx, req)
}

func (g *Generator) generate(ctx context.Context, req schemas.GenerationRequest) (any, error) {
	if raw, ok := g.client.(schemas.RawLLMClient); ok {
		return raw.GenerateRaw(ctx, req)
	}
	return g.client.Generate(ctx, req)
}
