package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/internal/forge"
	"github.com/xkilldash9x/tsunami-forge/internal/observability"
)

func newGenerateCmd() *cobra.Command {
	var (
		vulnerabilityType string
		all               bool
	)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates, builds and repairs a detector plugin for a vulnerability type",
		Example: `  tsunami-forge generate -v sql_injection
  tsunami-forge generate --all --concurrency 2`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if all == (vulnerabilityType != "") {
				return errors.New("exactly one of --vulnerability-type or --all is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.Component("cli")

			c, err := initializeComponents(ctx, cfg, logger, componentNeeds{llm: true})
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			if !all {
				result, err := c.forge.CreatePlugin(ctx, vulnerabilityType)
				if err != nil {
					if errors.Is(err, forge.ErrRetryBudgetExhausted) && result != nil {
						fmt.Fprintf(out, "Plugin did not build after %d attempts. Last project: %s\n", result.Repair.Attempts, result.Location)
					}
					return err
				}
				fmt.Fprintf(out, "Plugin created: %s\n", result.Location)
				return nil
			}

			types, err := c.reader.List()
			if err != nil {
				return err
			}
			outcomes, err := c.batch.GenerateAll(ctx, types)
			failed := printGenerateOutcomes(out, outcomes)
			if err != nil {
				return err
			}
			logger.Info("Batch generation finished.", zap.Int("types", len(types)), zap.Int("failed", failed))
			if failed > 0 {
				return fmt.Errorf("%d of %d plugins failed", failed, len(outcomes))
			}
			return nil
		},
	}

	generateCmd.Flags().StringVarP(&vulnerabilityType, "vulnerability-type", "v", "", "vulnerability type to generate a plugin for (e.g. sql_injection)")
	generateCmd.Flags().BoolVar(&all, "all", false, "generate plugins for every available vulnerability type")
	generateCmd.Flags().Int("max-attempts", 3, "maximum build attempts per plugin")
	generateCmd.Flags().Int("concurrency", 1, "plugins generated in parallel with --all")
	return generateCmd
}

func printGenerateOutcomes(w io.Writer, outcomes []forge.GenerateOutcome) int {
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			fmt.Fprintf(w, "SKIPPED  %s\n", o.VulnerabilityType)
		case o.Err != nil:
			failed++
			fmt.Fprintf(w, "FAILED   %s: %v\n", o.VulnerabilityType, o.Err)
		case o.Result != nil:
			fmt.Fprintf(w, "OK       %s -> %s\n", o.VulnerabilityType, o.Result.Location)
		}
	}
	return failed
}
