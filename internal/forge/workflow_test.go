package forge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/extract"
	"github.com/xkilldash9x/tsunami-forge/internal/repair"
)

const xssReply = "```json\n" + `{
  "vulnerability_type": "xss",
  "plugin_name": "xss_detector",
  "description": "Finds reflected XSS.",
  "recommendation": "Encode output.",
  "endpoints": ["/search"],
  "payloads": ["<script>alert(1)</script>"],
  "imports": ["import java.net.URLEncoder;"],
  "java_code": "private boolean isServiceVulnerable(NetworkService networkService) {\n    return false;\n}"
}` + "\n```"

var (
	buildOK     = schemas.VerificationOutcome{Succeeded: true, Output: "BUILD SUCCESSFUL"}
	buildFailed = schemas.VerificationOutcome{ExitCode: 1, Output: "error: cannot find symbol"}
)

func setupForge(t *testing.T, verifier *scriptedVerifier, maxAttempts int, opts ...Option) (*Forge, *mockAnalyzer, *memAssembler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	analyzer := new(mockAnalyzer)
	assembler := &memAssembler{}
	f, err := New(zap.New(core), analyzer, assembler, verifier, maxAttempts, opts...)
	require.NoError(t, err)
	return f, analyzer, assembler, logs
}

func TestNew_RejectsInvalidBudget(t *testing.T) {
	_, err := New(zap.NewNop(), new(mockAnalyzer), &memAssembler{}, &scriptedVerifier{}, 0)
	assert.ErrorIs(t, err, repair.ErrInvalidMaxAttempts)
}

func TestCreatePlugin_SucceedsFirstTry(t *testing.T) {
	recorder := &memRecorder{}
	verifier := &scriptedVerifier{outcomes: []schemas.VerificationOutcome{buildOK}}
	f, analyzer, assembler, logs := setupForge(t, verifier, 3, WithRecorder(recorder))
	analyzer.On("Analyze", mock.Anything, "xss").Return(xssReply, nil).Once()

	result, err := f.CreatePlugin(context.Background(), "xss")
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "/out/xss_detector_vulnerability", result.Location)
	assert.Equal(t, extract.TierJSON, result.Extraction.Tier)
	require.NotNil(t, result.Artifact)
	assert.Equal(t, []string{"/search"}, result.Artifact.Endpoints)
	assert.Equal(t, []string{"import java.net.URLEncoder;"}, result.Artifact.Imports)
	assert.Len(t, assembler.codes, 1)
	analyzer.AssertNotCalled(t, "Repair", mock.Anything, mock.Anything, mock.Anything)

	require.Len(t, recorder.runs, 1)
	run := recorder.runs[0]
	assert.Equal(t, result.RunID, run.ID)
	assert.Equal(t, "xss_detector", run.PluginName)
	assert.Equal(t, 1, run.ExtractionTier)
	assert.True(t, run.Succeeded)
	assert.Equal(t, 1, run.Attempts)
	require.Len(t, run.History, 1)
	assert.Equal(t, 1, run.History[0].Number)

	assert.Equal(t, 1, logs.FilterMessage("Plugin created.").Len())
}

func TestCreatePlugin_RepairsThenSucceeds(t *testing.T) {
	verifier := &scriptedVerifier{outcomes: []schemas.VerificationOutcome{buildFailed, buildOK}}
	f, analyzer, assembler, _ := setupForge(t, verifier, 3)

	analyzer.On("Analyze", mock.Anything, "xss").Return(xssReply, nil).Once()
	fixed := "private boolean isServiceVulnerable(NetworkService networkService) {\n    return true;\n}"
	analyzer.On("Repair", mock.Anything, buildFailed.Output, mock.AnythingOfType("string")).
		Return([]map[string]any{{"text": "```java\n" + fixed + "\n```"}}, nil).Once()

	result, err := f.CreatePlugin(context.Background(), "xss")
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, fixed, result.Artifact.Code)
	assert.Equal(t, "Finds reflected XSS.", result.Artifact.Description, "repair must only touch code")
	assert.Equal(t, 1, result.Repair.Repairs)
	require.Len(t, assembler.codes, 2)
	assert.Equal(t, fixed, assembler.codes[1])
	analyzer.AssertExpectations(t)
}

func TestCreatePlugin_Exhausted(t *testing.T) {
	recorder := &memRecorder{}
	verifier := &scriptedVerifier{outcomes: []schemas.VerificationOutcome{buildFailed}}
	f, analyzer, _, _ := setupForge(t, verifier, 2, WithRecorder(recorder))

	analyzer.On("Analyze", mock.Anything, "xss").Return(xssReply, nil).Once()
	analyzer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("still broken code here", nil).Once()

	result, err := f.CreatePlugin(context.Background(), "xss")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.Contains(t, err.Error(), "cannot find symbol")

	require.NotNil(t, result)
	assert.False(t, result.Succeeded())
	assert.Nil(t, result.Artifact)
	assert.Equal(t, repair.StateExhausted, result.Repair.State)
	assert.Equal(t, 2, verifier.calls)

	require.Len(t, recorder.runs, 1)
	assert.False(t, recorder.runs[0].Succeeded)
	assert.Len(t, recorder.runs[0].History, 2)
	analyzer.AssertExpectations(t)
}

func TestCreatePlugin_AnalyzeError(t *testing.T) {
	recorder := &memRecorder{}
	verifier := &scriptedVerifier{outcomes: []schemas.VerificationOutcome{buildOK}}
	f, analyzer, assembler, _ := setupForge(t, verifier, 3, WithRecorder(recorder))
	analyzer.On("Analyze", mock.Anything, "xss").Return(nil, errors.New("backend down")).Once()

	result, err := f.CreatePlugin(context.Background(), "xss")
	assert.EqualError(t, err, "backend down")
	assert.Nil(t, result)
	assert.Empty(t, assembler.codes)
	assert.Empty(t, recorder.runs)
	assert.Equal(t, 0, verifier.calls)
}

func TestCreatePlugin_GeneratorErrorDuringRepair(t *testing.T) {
	verifier := &scriptedVerifier{outcomes: []schemas.VerificationOutcome{buildFailed}}
	f, analyzer, _, _ := setupForge(t, verifier, 3)
	analyzer.On("Analyze", mock.Anything, "xss").Return(xssReply, nil).Once()
	analyzer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("rate limited")).Once()

	result, err := f.CreatePlugin(context.Background(), "xss")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.ErrorContains(t, err, "rate limited")
	require.NotNil(t, result)
	assert.Equal(t, 1, verifier.calls)
}

func TestCreatePlugin_RecorderFailureIsLogged(t *testing.T) {
	recorder := &memRecorder{err: errors.New("connection refused")}
	verifier := &scriptedVerifier{outcomes: []schemas.VerificationOutcome{buildOK}}
	f, analyzer, _, logs := setupForge(t, verifier, 1, WithRecorder(recorder))
	analyzer.On("Analyze", mock.Anything, "xss").Return(xssReply, nil).Once()

	result, err := f.CreatePlugin(context.Background(), "xss")
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 1, logs.FilterMessage("Failed to record run.").Len())
}

func TestCreatePlugin_UnparseableReplyFallsBackToDefaults(t *testing.T) {
	verifier := &scriptedVerifier{outcomes: []schemas.VerificationOutcome{buildOK}}
	f, analyzer, _, _ := setupForge(t, verifier, 1)
	analyzer.On("Analyze", mock.Anything, "sql_injection").Return("I could not do it.", nil).Once()

	result, err := f.CreatePlugin(context.Background(), "sql_injection")
	require.NoError(t, err)
	assert.Equal(t, extract.TierDefaults, result.Extraction.Tier)
	assert.Equal(t, "sql_injection_detector", result.Artifact.Name)
	assert.Equal(t, extract.PlaceholderCode, result.Artifact.Code)
}
