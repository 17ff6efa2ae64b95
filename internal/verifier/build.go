// Package verifier checks whether an assembled plugin project builds.
package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/config"
)

// unavailableExitCode is reported when the build never produced an exit status.
const unavailableExitCode = -1

// waitDelay bounds how long we wait for a killed build's output pipes to close.
const waitDelay = 2 * time.Second

// Verifier builds the project at location and reports the outcome.
type Verifier interface {
	Verify(ctx context.Context, location string) schemas.VerificationOutcome
}

// New returns the verifier described by cfg: the build command, optionally
// behind a tree-sitter syntax gate.
func New(logger *zap.Logger, cfg config.VerifierConfig) Verifier {
	build := NewBuildVerifier(logger, cfg)
	if cfg.SyntaxPrecheck {
		return NewSyntaxGate(logger, build)
	}
	return build
}

// BuildVerifier runs an external build command against a project directory.
type BuildVerifier struct {
	logger  *zap.Logger
	command string
	args    []string
	timeout time.Duration
}

// NewBuildVerifier creates a verifier that runs cfg.Command with cfg.Args
// followed by the project location.
func NewBuildVerifier(logger *zap.Logger, cfg config.VerifierConfig) *BuildVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuildVerifier{
		logger:  logger.Named("verifier"),
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		timeout: cfg.Timeout,
	}
}

// Verify runs the build. The outcome output is stdout and stderr joined by a
// newline. A missing executable or a timeout yields a failed outcome marked
// Unavailable with a synthesised message.
func (v *BuildVerifier) Verify(ctx context.Context, location string) schemas.VerificationOutcome {
	runCtx := ctx
	if v.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), v.args...), location)
	cmd := exec.CommandContext(runCtx, v.command, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log := v.logger.With(zap.String("location", location), zap.Duration("duration", time.Since(start)))

	switch {
	case err == nil:
		log.Debug("Build succeeded.")
		return schemas.VerificationOutcome{Succeeded: true, Output: joinOutput(&stdout, &stderr)}

	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		log.Warn("Build timed out.", zap.Duration("timeout", v.timeout))
		return unavailable(fmt.Sprintf("Build command failed: timed out after %s", v.timeout))

	case errors.Is(err, exec.ErrNotFound):
		log.Error("Build command not found.", zap.String("command", v.command), zap.Error(err))
		return unavailable(fmt.Sprintf("Build command failed: %v", err))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Debug("Build failed.", zap.Int("exit_code", exitErr.ExitCode()))
		return schemas.VerificationOutcome{
			Output:   joinOutput(&stdout, &stderr),
			ExitCode: exitErr.ExitCode(),
		}
	}

	// Start failures other than a missing binary (permissions, cancelled
	// parent context) land here.
	log.Error("Build could not be run.", zap.Error(err))
	return unavailable(fmt.Sprintf("Build command failed: %v", err))
}

func unavailable(msg string) schemas.VerificationOutcome {
	return schemas.VerificationOutcome{Output: msg, ExitCode: unavailableExitCode, Unavailable: true}
}

func joinOutput(stdout, stderr *bytes.Buffer) string {
	return stdout.String() + "\n" + stderr.String()
}
