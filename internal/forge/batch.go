package forge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/extract"
	"github.com/xkilldash9x/tsunami-forge/internal/repair"
	"github.com/xkilldash9x/tsunami-forge/internal/templater"
)

// PluginCreator is the single-plugin workflow a Batch fans out over.
type PluginCreator interface {
	CreatePlugin(ctx context.Context, vulnerabilityType string) (*Result, error)
}

// GenerateOutcome is the result of one CreatePlugin call in a batch.
type GenerateOutcome struct {
	VulnerabilityType string
	Result            *Result
	Err               error
	Skipped           bool
}

// BuildOutcome is the verification of one existing plugin project.
type BuildOutcome struct {
	Plugin   string
	Location string
	// Manifest is nil for projects without a readable manifest.
	Manifest *templater.Manifest
	Outcome  schemas.VerificationOutcome
	Skipped  bool
}

// Batch runs the workflow over many vulnerability types or plugin projects.
// Each plugin's own loop stays sequential; concurrency only spans plugins.
type Batch struct {
	logger      *zap.Logger
	creator     PluginCreator
	verifier    repair.Verifier
	outputDir   string
	concurrency int
	skip        map[string]struct{}
}

// NewBatch creates a Batch. Names in skip match a vulnerability type, a plugin
// name or a project directory name.
func NewBatch(logger *zap.Logger, creator PluginCreator, verifier repair.Verifier, outputDir string, concurrency int, skip []string) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	set := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return &Batch{
		logger:      logger.Named("batch"),
		creator:     creator,
		verifier:    verifier,
		outputDir:   outputDir,
		concurrency: concurrency,
		skip:        set,
	}
}

// Skipped reports whether any of names is in the skip set.
func (b *Batch) Skipped(names ...string) bool {
	for _, n := range names {
		if _, ok := b.skip[n]; ok {
			return true
		}
	}
	return false
}

// GenerateAll runs CreatePlugin for every type. Per-type failures are
// reported in the outcomes; the returned error is only set when ctx ends.
// Outcomes are in the order of types.
func (b *Batch) GenerateAll(ctx context.Context, types []string) ([]GenerateOutcome, error) {
	outcomes := make([]GenerateOutcome, len(types))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	b.logger.Info("Starting batch generation.", zap.Int("types", len(types)), zap.Int("concurrency", b.concurrency))
	for i, vt := range types {
		outcomes[i].VulnerabilityType = vt
		name := extract.DefaultName(vt)
		if b.Skipped(vt, name, templater.ProjectName(name)) {
			b.logger.Info("Skipping vulnerability type.", zap.String("vulnerability_type", vt))
			outcomes[i].Skipped = true
			continue
		}
		if groupCtx.Err() != nil {
			break
		}

		g.Go(func() error {
			res, err := b.creator.CreatePlugin(groupCtx, vt)
			outcomes[i].Result = res
			outcomes[i].Err = err
			if err != nil && groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			if err != nil {
				b.logger.Warn("Plugin creation failed.", zap.String("vulnerability_type", vt), zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

// BuildAll verifies every plugin project under the output directory that is
// not skipped. Outcomes are sorted by project name.
func (b *Batch) BuildAll(ctx context.Context) ([]BuildOutcome, error) {
	entries, err := os.ReadDir(b.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins in %s: %w", b.outputDir, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	outcomes := make([]BuildOutcome, len(dirs))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, dir := range dirs {
		location := filepath.Join(b.outputDir, dir)
		plugin := strings.TrimSuffix(dir, templater.ProjectSuffix)
		outcomes[i] = BuildOutcome{Plugin: plugin, Location: location}
		skipNames := []string{dir, plugin}
		if m, err := templater.ReadManifest(location); err == nil {
			outcomes[i].Manifest = m
			skipNames = append(skipNames, m.VulnerabilityType)
		} else {
			b.logger.Debug("No project manifest.", zap.String("plugin", plugin), zap.Error(err))
		}
		if b.Skipped(skipNames...) {
			b.logger.Info("Skipping plugin.", zap.String("plugin", plugin))
			outcomes[i].Skipped = true
			continue
		}
		if groupCtx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			outcome := b.verifier.Verify(groupCtx, location)
			outcomes[i].Outcome = outcome
			if outcome.Succeeded {
				b.logger.Info("Plugin built.", zap.String("plugin", plugin))
			} else {
				b.logger.Warn("Plugin build failed.", zap.String("plugin", plugin), zap.Int("exit_code", outcome.ExitCode))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}
