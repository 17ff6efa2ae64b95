package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
)

func TestRateLimitedClient_Delegates(t *testing.T) {
	next := &MockRawLLMClient{}
	next.On("Generate", mock.Anything, mock.Anything).Return("text", nil).Once()
	next.On("GenerateRaw", mock.Anything, mock.Anything).Return([]map[string]any{{"text": "raw"}}, nil).Once()
	next.On("Close").Return(nil).Once()

	client := NewRateLimitedClient(next, 100, 5, setupTestLogger(t))
	ctx := context.Background()

	out, err := client.Generate(ctx, schemas.GenerationRequest{UserPrompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "text", out)

	raw, err := client.GenerateRaw(ctx, schemas.GenerationRequest{UserPrompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"text": "raw"}}, raw)

	require.NoError(t, client.Close())
	next.AssertExpectations(t)
}

func TestRateLimitedClient_RawFallsBackToText(t *testing.T) {
	next := &MockLLMClient{}
	next.On("Generate", mock.Anything, mock.Anything).Return("only text", nil).Once()

	client := NewRateLimitedClient(next, 100, 0, setupTestLogger(t))
	raw, err := client.GenerateRaw(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "only text", raw)
	next.AssertExpectations(t)
}

func TestRateLimitedClient_HonorsContext(t *testing.T) {
	next := &MockLLMClient{}
	next.On("Generate", mock.Anything, mock.Anything).Return("first", nil).Once()

	// One token, refilled every ten seconds.
	client := NewRateLimitedClient(next, 0.1, 1, setupTestLogger(t))

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Generate(ctx, schemas.GenerationRequest{})
	assert.ErrorContains(t, err, "rate limiter wait")
	next.AssertNumberOfCalls(t, "Generate", 1)
}
