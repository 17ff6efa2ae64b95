// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/config"
	"github.com/xkilldash9x/tsunami-forge/internal/llmutil"
)

// contentGenerator is the slice of the genai Models service the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.RawLLMClient on top of the Google GenAI SDK.
type GeminiClient struct {
	models     contentGenerator
	logger     *zap.Logger
	config     config.LLMModelConfig
	maxElapsed time.Duration
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model name is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(models contentGenerator, cfg config.LLMModelConfig, logger *zap.Logger) *GeminiClient {
	return &GeminiClient{
		models:     models,
		config:     cfg,
		logger:     logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
		maxElapsed: 2 * time.Minute,
	}
}

// GenerateRaw sends the prompts to Gemini and returns the parts of the first
// candidate exactly as the SDK produced them.
func (c *GeminiClient) GenerateRaw(ctx context.Context, req schemas.GenerationRequest) (any, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}
	genCfg := c.buildConfig(req)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed
	b.MaxInterval = 30 * time.Second

	var resp *genai.GenerateContentResponse
	operation := func() error {
		var err error
		resp, err = c.models.GenerateContent(ctx, c.config.Model, contents, genCfg)
		if err != nil {
			return c.classifyError(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("gemini blocked the prompt: %s", resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("gemini response contained no candidates")
	}

	if resp.UsageMetadata != nil {
		c.logger.Debug("Gemini token usage",
			zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
			zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
			zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount),
		)
	}

	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		if cand.FinishReason == genai.FinishReasonSafety {
			return nil, fmt.Errorf("gemini response blocked by safety filters")
		}
		return nil, fmt.Errorf("gemini response candidate was empty (finish reason: %s)", cand.FinishReason)
	}
	return cand.Content.Parts, nil
}

// Generate returns the response flattened to plain text.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	raw, err := c.GenerateRaw(ctx, req)
	if err != nil {
		return "", err
	}
	return llmutil.Normalize(raw), nil
}

// Close is a no-op; the SDK client holds no resources beyond its http.Client.
func (c *GeminiClient) Close() error {
	return nil
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := c.config.Temperature
	if req.Options.Temperature > 0 {
		temperature = float32(req.Options.Temperature)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(temperature),
		SafetySettings: c.safetySettings(),
	}
	if c.config.TopP > 0 {
		cfg.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(c.config.TopK))
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return cfg
}

func (c *GeminiClient) safetySettings() []*genai.SafetySetting {
	if len(c.config.SafetyFilters) == 0 {
		return nil
	}
	settings := make([]*genai.SafetySetting, 0, len(c.config.SafetyFilters))
	for category, threshold := range c.config.SafetyFilters {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}
	return settings
}

// classifyError marks everything except rate limiting and server side
// failures as permanent.
func (c *GeminiClient) classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		c.logger.Warn("Gemini API returned error status", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
			return err
		}
	}
	return backoff.Permanent(err)
}
