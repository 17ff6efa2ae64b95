package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tsunami-forge/internal/llmutil"
	"github.com/xkilldash9x/tsunami-forge/internal/observability"
	"github.com/xkilldash9x/tsunami-forge/internal/templater"
)

func newBuildCmd() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Builds every generated plugin in the output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			c, err := initializeComponents(ctx, cfg, observability.Component("cli"), componentNeeds{})
			if err != nil {
				return err
			}
			defer c.Close()

			outcomes, err := c.batch.BuildAll(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, o := range outcomes {
				switch {
				case o.Skipped:
					fmt.Fprintf(out, "SKIPPED  %s\n", o.Plugin)
				case o.Outcome.Succeeded:
					fmt.Fprintf(out, "OK       %s%s\n", o.Plugin, manifestSummary(o.Manifest))
				default:
					failed++
					fmt.Fprintf(out, "FAILED   %s\n%s\n", o.Plugin, llmutil.Truncate(o.Outcome.Output, 2000))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d plugins failed to build", failed, len(outcomes))
			}
			return nil
		},
	}
	buildCmd.Flags().StringSlice("skip", nil, "plugin names to skip (comma separated)")
	buildCmd.Flags().Int("concurrency", 1, "plugins built in parallel")
	buildCmd.Flags().String("output-dir", "", "directory holding the generated plugins")
	return buildCmd
}

func manifestSummary(m *templater.Manifest) string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf(" (%s, %s, %d payloads)", m.ClassName, m.VulnerabilityType, len(m.Payloads))
}
