package forge

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/store"
)

// mockLLMClient is a text-only client.
type mockLLMClient struct {
	mock.Mock
}

func (m *mockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockLLMClient) Close() error { return nil }

// mockRawClient also returns unnormalized replies.
type mockRawClient struct {
	mockLLMClient
}

func (m *mockRawClient) GenerateRaw(ctx context.Context, req schemas.GenerationRequest) (any, error) {
	args := m.Called(ctx, req)
	return args.Get(0), args.Error(1)
}

// fakeKnowledge serves write-ups from a map.
type fakeKnowledge struct {
	docs       map[string]string
	example    string
	exampleErr error
}

func (k fakeKnowledge) Read(vt string) (string, error) {
	doc, ok := k.docs[vt]
	if !ok {
		return "", fmt.Errorf("no write-up for %s", vt)
	}
	return doc, nil
}

func (k fakeKnowledge) ExampleDetector() (string, error) {
	return k.example, k.exampleErr
}

// mockAnalyzer implements Analyzer.
type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, vt string) (any, error) {
	args := m.Called(ctx, vt)
	return args.Get(0), args.Error(1)
}

func (m *mockAnalyzer) Repair(ctx context.Context, failureOutput, code string) (any, error) {
	args := m.Called(ctx, failureOutput, code)
	return args.Get(0), args.Error(1)
}

// memAssembler records assembled artifacts without touching disk.
type memAssembler struct {
	mu    sync.Mutex
	codes []string
}

func (a *memAssembler) Assemble(_ context.Context, artifact *schemas.Artifact) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codes = append(a.codes, artifact.Code)
	return "/out/" + artifact.Name + "_vulnerability", nil
}

// scriptedVerifier returns outcomes in order, repeating the last one.
type scriptedVerifier struct {
	mu       sync.Mutex
	outcomes []schemas.VerificationOutcome
	calls    int
}

func (v *scriptedVerifier) Verify(_ context.Context, _ string) schemas.VerificationOutcome {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.calls
	v.calls++
	if i >= len(v.outcomes) {
		i = len(v.outcomes) - 1
	}
	return v.outcomes[i]
}

// memRecorder keeps recorded runs.
type memRecorder struct {
	mu   sync.Mutex
	runs []store.Run
	err  error
}

func (r *memRecorder) RecordRun(_ context.Context, run store.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}
