// Package repair drives an artifact through verify and repair cycles until it
// builds or the attempt budget runs out.
package repair

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/llmutil"
)

// ErrInvalidMaxAttempts is returned by NewLoop for a budget below one.
var ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")

// State is a position in the repair state machine.
type State int

const (
	StateVerifying State = iota
	StateRepairing
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateRepairing:
		return "repairing"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Verifier builds the project at location and reports the outcome. A build
// that cannot run at all is reported as a failed outcome, not an error.
type Verifier interface {
	Verify(ctx context.Context, location string) schemas.VerificationOutcome
}

// Generator asks a model to fix code given the build failure it produced.
// The reply may be any shape llmutil.Normalize understands.
type Generator interface {
	Repair(ctx context.Context, failureOutput, code string) (any, error)
}

// Assembler writes an artifact into a buildable project and returns its location.
type Assembler interface {
	Assemble(ctx context.Context, artifact *schemas.Artifact) (string, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, location string) schemas.VerificationOutcome

func (f VerifierFunc) Verify(ctx context.Context, location string) schemas.VerificationOutcome {
	return f(ctx, location)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, failureOutput, code string) (any, error)

func (f GeneratorFunc) Repair(ctx context.Context, failureOutput, code string) (any, error) {
	return f(ctx, failureOutput, code)
}

// Result summarises a finished run of the loop.
type Result struct {
	State State
	// Artifact is the verified artifact, nil unless State is StateSucceeded.
	Artifact *schemas.Artifact
	Location string
	// Attempts counts verifications, Repairs counts generator calls.
	Attempts    int
	Repairs     int
	Unavailable int
	Last        schemas.VerificationOutcome
	// Outcomes holds every verification in order; Last is its final element.
	Outcomes []schemas.VerificationOutcome
}

// Loop runs the verify and repair cycle.
type Loop struct {
	logger      *zap.Logger
	verifier    Verifier
	generator   Generator
	assembler   Assembler
	maxAttempts int
}

// NewLoop creates a Loop that verifies an artifact at most maxAttempts times.
func NewLoop(logger *zap.Logger, verifier Verifier, generator Generator, assembler Assembler, maxAttempts int) (*Loop, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxAttempts, maxAttempts)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger:      logger.Named("repair"),
		verifier:    verifier,
		generator:   generator,
		assembler:   assembler,
		maxAttempts: maxAttempts,
	}, nil
}

// MaxAttempts returns the verification budget.
func (l *Loop) MaxAttempts() int { return l.maxAttempts }

// Run assembles the artifact and alternates verification and repair until a
// build succeeds or maxAttempts verifications have failed. Only the Code
// field of artifact is ever changed.
//
// On success Result.Artifact is a copy of the verified artifact.
// Exhaustion is not an error: the returned Result has State StateExhausted
// and a nil Artifact. Errors are returned for assembly failures, generator
// failures and context cancellation, together with the partial Result.
func (l *Loop) Run(ctx context.Context, artifact *schemas.Artifact) (*Result, error) {
	if artifact == nil {
		return nil, errors.New("repair: nil artifact")
	}
	log := l.logger.With(zap.String("plugin", artifact.Name))

	location, err := l.assembler.Assemble(ctx, artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble plugin %q: %w", artifact.Name, err)
	}

	result := &Result{State: StateVerifying, Location: location}
	attempt := 0

	for {
		switch result.State {
		case StateVerifying:
			if err := ctx.Err(); err != nil {
				return result, err
			}
			outcome := l.verifier.Verify(ctx, result.Location)
			result.Attempts++
			result.Last = outcome
			result.Outcomes = append(result.Outcomes, outcome)
			if outcome.Unavailable {
				result.Unavailable++
			}

			if outcome.Succeeded {
				log.Info("Plugin verified.", zap.Int("attempt", attempt+1))
				result.State = StateSucceeded
				continue
			}
			log.Warn("Plugin verification failed.",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", l.maxAttempts),
				zap.Int("exit_code", outcome.ExitCode),
				zap.Bool("verifier_unavailable", outcome.Unavailable),
				zap.String("output", llmutil.Truncate(outcome.Output, 1000)),
			)
			if attempt+1 >= l.maxAttempts {
				result.State = StateExhausted
				continue
			}
			result.State = StateRepairing

		case StateRepairing:
			if err := ctx.Err(); err != nil {
				return result, err
			}
			raw, err := l.generator.Repair(ctx, result.Last.Output, artifact.Code)
			if err != nil {
				return result, fmt.Errorf("repair generation failed after attempt %d: %w", attempt+1, err)
			}
			result.Repairs++

			if corrected := llmutil.ExtractCode(llmutil.Normalize(raw)); corrected != "" {
				artifact.Code = corrected
			} else {
				log.Warn("Repair reply contained no code; retrying with the previous version.", zap.Int("attempt", attempt+1))
			}

			location, err := l.assembler.Assemble(ctx, artifact)
			if err != nil {
				return result, fmt.Errorf("failed to reassemble plugin %q: %w", artifact.Name, err)
			}
			result.Location = location
			attempt++
			result.State = StateVerifying

		case StateSucceeded:
			result.Artifact = artifact.Clone()
			return result, nil

		case StateExhausted:
			log.Error("Retry budget exhausted.", zap.Int("attempts", result.Attempts))
			return result, nil
		}
	}
}
