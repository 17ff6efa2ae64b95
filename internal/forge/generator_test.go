package forge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
)

func TestGenerator_Analyze_BuildsPrompt(t *testing.T) {
	client := new(mockLLMClient)
	knowledge := fakeKnowledge{
		docs:    map[string]string{"xss": "Reflected XSS in the search box."},
		example: "public final class SqlInjectionDetector {}",
	}
	gen := NewGenerator(zap.NewNop(), client, knowledge)

	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful &&
			req.Options.ForceJSONFormat &&
			strings.Contains(req.SystemPrompt, "com.google.common.net.HttpHeaders") &&
			strings.Contains(req.UserPrompt, "`xss`") &&
			strings.Contains(req.UserPrompt, "Reflected XSS in the search box.") &&
			strings.Contains(req.UserPrompt, "public final class SqlInjectionDetector {}")
	})).Return(`{"plugin_name":"xss_detector"}`, nil).Once()

	raw, err := gen.Analyze(context.Background(), "xss")
	require.NoError(t, err)
	assert.Equal(t, `{"plugin_name":"xss_detector"}`, raw)
	client.AssertExpectations(t)
}

func TestGenerator_Analyze_UnknownType(t *testing.T) {
	client := new(mockLLMClient)
	gen := NewGenerator(zap.NewNop(), client, fakeKnowledge{})

	_, err := gen.Analyze(context.Background(), "nope")
	assert.ErrorContains(t, err, "no write-up for nope")
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerator_Analyze_ExampleFailureIsTolerated(t *testing.T) {
	client := new(mockLLMClient)
	knowledge := fakeKnowledge{docs: map[string]string{"xss": "doc"}, exampleErr: errors.New("permission denied")}
	gen := NewGenerator(zap.NewNop(), client, knowledge)

	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return !strings.Contains(req.UserPrompt, "Example Detector")
	})).Return("reply", nil).Once()

	_, err := gen.Analyze(context.Background(), "xss")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestGenerator_Analyze_WrapsClientError(t *testing.T) {
	client := new(mockLLMClient)
	gen := NewGenerator(zap.NewNop(), client, fakeKnowledge{docs: map[string]string{"xss": "doc"}})
	client.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota")).Once()

	_, err := gen.Analyze(context.Background(), "xss")
	assert.EqualError(t, err, "analysis generation failed: quota")
}

func TestGenerator_Repair_PrefersRawReplies(t *testing.T) {
	client := new(mockRawClient)
	gen := NewGenerator(zap.NewNop(), client, fakeKnowledge{})
	reply := []map[string]any{{"type": "text", "text": "```java\nfixed\n```"}}

	client.On("GenerateRaw", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return !req.Options.ForceJSONFormat &&
			strings.Contains(req.SystemPrompt, "Java debugging expert") &&
			strings.Contains(req.UserPrompt, "Build Error:\nerror: ';' expected") &&
			strings.Contains(req.UserPrompt, "Faulty Java Code:\nbroken")
	})).Return(reply, nil).Once()

	raw, err := gen.Repair(context.Background(), "error: ';' expected", "broken")
	require.NoError(t, err)
	assert.Equal(t, reply, raw)
	client.AssertExpectations(t)
}

func TestRepairPrompt_KeepsTailOfLongOutput(t *testing.T) {
	output := strings.Repeat("noise\n", 5000) + "FAILURE: Build failed with an exception."
	prompt := repairPrompt(output, "code")

	assert.Contains(t, prompt, "...(truncated)")
	assert.Contains(t, prompt, "FAILURE: Build failed with an exception.")
	assert.Less(t, len(prompt), maxBuildOutput+500)
}
