package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/config"
	"github.com/xkilldash9x/tsunami-forge/internal/forge"
	"github.com/xkilldash9x/tsunami-forge/internal/llmclient"
	"github.com/xkilldash9x/tsunami-forge/internal/store"
	"github.com/xkilldash9x/tsunami-forge/internal/templater"
	"github.com/xkilldash9x/tsunami-forge/internal/verifier"
	"github.com/xkilldash9x/tsunami-forge/internal/vulndb"
)

// Function variables replaced in tests.
var (
	newLLMClient  = llmclient.NewClient
	connectLedger = store.Connect
)

// components holds everything a command may need. Fields a command did not
// ask for stay nil.
type components struct {
	logger    *zap.Logger
	reader    *vulndb.Reader
	assembler *templater.Assembler
	verifier  verifier.Verifier
	client    schemas.LLMClient
	ledger    *store.Ledger
	forge     *forge.Forge
	batch     *forge.Batch
	closers   []func()
}

type componentNeeds struct {
	llm    bool
	ledger bool
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, needs componentNeeds) (*components, error) {
	fc := cfg.Forge()
	c := &components{logger: logger}

	reader, err := vulndb.NewReader(fc.VulnerabilitiesDir, fc.ExamplePluginDir)
	if err != nil {
		return nil, err
	}
	c.reader = reader

	assembler, err := templater.NewAssembler(logger, fc)
	if err != nil {
		return nil, err
	}
	c.assembler = assembler
	c.verifier = verifier.New(logger, cfg.Verifier())

	if needs.ledger || cfg.Database().URL != "" {
		if err := c.openLedger(ctx, cfg, needs.ledger); err != nil {
			c.Close()
			return nil, err
		}
	}

	var creator forge.PluginCreator
	if needs.llm {
		client, err := newLLMClient(ctx, cfg.Agent(), logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		c.client = client
		c.closers = append(c.closers, func() { _ = client.Close() })

		var opts []forge.Option
		if c.ledger != nil {
			opts = append(opts, forge.WithRecorder(c.ledger))
		}
		generator := forge.NewGenerator(logger, client, reader)
		f, err := forge.New(logger, generator, assembler, c.verifier, fc.MaxAttempts, opts...)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.forge = f
		creator = f
	}

	c.batch = forge.NewBatch(logger, creator, c.verifier, assembler.OutputDir(), fc.Concurrency, fc.SkipPlugins)
	return c, nil
}

// openLedger connects to the run ledger. When required is false a missing or
// unreachable database only disables recording.
func (c *components) openLedger(ctx context.Context, cfg *config.Config, required bool) error {
	ledger, closeFn, err := connectLedger(ctx, cfg.Database().URL, c.logger)
	if err == nil {
		c.closers = append(c.closers, closeFn)
		err = ledger.EnsureSchema(ctx)
		if err == nil {
			c.ledger = ledger
			return nil
		}
	}
	if required {
		if errors.Is(err, store.ErrNoDatabase) {
			return fmt.Errorf("%w: set database.url or FORGE_DATABASE_URL", err)
		}
		return err
	}
	c.logger.Warn("Run ledger disabled.", zap.Error(err))
	return nil
}

// Close releases the components in reverse order of creation.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
