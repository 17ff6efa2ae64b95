// Package forge wires generation, extraction, assembly and the repair loop
// into the plugin creation workflow.
package forge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/extract"
	"github.com/xkilldash9x/tsunami-forge/internal/llmutil"
	"github.com/xkilldash9x/tsunami-forge/internal/repair"
	"github.com/xkilldash9x/tsunami-forge/internal/store"
)

// ErrRetryBudgetExhausted is returned by CreatePlugin when no attempt built.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// Analyzer produces the initial model reply for a vulnerability type and
// repairs code afterwards.
type Analyzer interface {
	repair.Generator
	Analyze(ctx context.Context, vulnerabilityType string) (any, error)
}

// RunRecorder persists a summary of every CreatePlugin call.
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.Run) error
}

// Result describes one CreatePlugin call.
type Result struct {
	RunID      string
	Artifact   *schemas.Artifact
	Location   string
	Extraction extract.Report
	Repair     *repair.Result
}

// Succeeded reports whether the plugin built.
func (r *Result) Succeeded() bool {
	return r != nil && r.Repair != nil && r.Repair.State == repair.StateSucceeded
}

// Forge runs the plugin creation workflow.
type Forge struct {
	logger   *zap.Logger
	analyzer Analyzer
	loop     *repair.Loop
	recorder RunRecorder
}

// Option configures a Forge.
type Option func(*Forge)

// WithRecorder records every run with r.
func WithRecorder(r RunRecorder) Option {
	return func(f *Forge) { f.recorder = r }
}

// New creates a Forge that verifies each plugin at most maxAttempts times.
func New(logger *zap.Logger, analyzer Analyzer, assembler repair.Assembler, verifier repair.Verifier, maxAttempts int, opts ...Option) (*Forge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loop, err := repair.NewLoop(logger, verifier, analyzer, assembler, maxAttempts)
	if err != nil {
		return nil, err
	}
	f := &Forge{
		logger:   logger.Named("forge"),
		analyzer: analyzer,
		loop:     loop,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// CreatePlugin generates, assembles and verifies a plugin for
// vulnerabilityType. On exhaustion the partial Result is returned together
// with an error wrapping ErrRetryBudgetExhausted.
func (f *Forge) CreatePlugin(ctx context.Context, vulnerabilityType string) (*Result, error) {
	runID := uuid.NewString()
	log := f.logger.With(zap.String("run_id", runID), zap.String("vulnerability_type", vulnerabilityType))
	log.Info("Creating plugin.", zap.Int("max_attempts", f.loop.MaxAttempts()))

	raw, err := f.analyzer.Analyze(ctx, vulnerabilityType)
	if err != nil {
		return nil, err
	}

	artifact, report := extract.ExtractWithReport(llmutil.Normalize(raw), vulnerabilityType)
	log.Info("Extracted plugin implementation.",
		zap.String("plugin", artifact.Name),
		zap.Stringer("tier", report.Tier),
		zap.Strings("defaulted", report.Defaulted),
		zap.Int("code_length", len(artifact.Code)),
		zap.Strings("imports", artifact.Imports),
	)

	result := &Result{RunID: runID, Extraction: report}
	loopResult, loopErr := f.loop.Run(ctx, &artifact)
	result.Repair = loopResult
	if loopResult != nil {
		result.Location = loopResult.Location
		result.Artifact = loopResult.Artifact
		f.record(ctx, log, vulnerabilityType, &artifact, result)
	}
	if loopErr != nil {
		return result, loopErr
	}

	if !result.Succeeded() {
		return result, fmt.Errorf("%w after %d attempts for %s: %s",
			ErrRetryBudgetExhausted, loopResult.Attempts, artifact.Name, llmutil.Truncate(loopResult.Last.Output, 2000))
	}
	log.Info("Plugin created.", zap.String("location", result.Location), zap.Int("repairs", loopResult.Repairs))
	return result, nil
}

func (f *Forge) record(ctx context.Context, log *zap.Logger, vulnerabilityType string, artifact *schemas.Artifact, result *Result) {
	if f.recorder == nil {
		return
	}
	lr := result.Repair
	run := store.Run{
		ID:                result.RunID,
		VulnerabilityType: vulnerabilityType,
		PluginName:        artifact.Name,
		ExtractionTier:    int(result.Extraction.Tier),
		DefaultedFields:   result.Extraction.Defaulted,
		Attempts:          lr.Attempts,
		Repairs:           lr.Repairs,
		Succeeded:         lr.State == repair.StateSucceeded,
		UnavailableCount:  lr.Unavailable,
		Location:          lr.Location,
		LastOutput:        lr.Last.Output,
		CreatedAt:         time.Now(),
	}
	for i, o := range lr.Outcomes {
		run.History = append(run.History, store.Attempt{
			Number:      i + 1,
			Succeeded:   o.Succeeded,
			ExitCode:    o.ExitCode,
			Unavailable: o.Unavailable,
			Output:      o.Output,
		})
	}
	// A ledger outage must not fail a plugin that built.
	if err := f.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("Failed to record run.", zap.Error(err))
	}
}
