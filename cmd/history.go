package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tsunami-forge/internal/observability"
	"github.com/xkilldash9x/tsunami-forge/internal/templater"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		plugin string
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Shows recorded forge runs, or the revisions of one plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if plugin != "" {
				assembler, err := templater.NewAssembler(observability.Component("cli"), cfg.Forge())
				if err != nil {
					return err
				}
				revs, err := templater.Revisions(assembler.ProjectDir(plugin), limit)
				if err != nil {
					return err
				}
				for _, r := range revs {
					fmt.Fprintf(out, "%s  %s  %s\n", r.Hash[:12], r.When.Format(time.RFC3339), strings.TrimSpace(r.Message))
				}
				return nil
			}

			c, err := initializeComponents(ctx, cfg, observability.Component("cli"), componentNeeds{ledger: true})
			if err != nil {
				return err
			}
			defer c.Close()

			runs, err := c.ledger.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tTYPE\tPLUGIN\tTIER\tATTEMPTS\tRESULT")
			for _, r := range runs {
				status := "failed"
				if r.Succeeded {
					status = "built"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.CreatedAt.Local().Format(time.DateTime), r.VulnerabilityType, r.PluginName, r.ExtractionTier, r.Attempts, status)
			}
			return tw.Flush()
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	historyCmd.Flags().StringVar(&plugin, "plugin", "", "show the git revisions of this plugin instead of the run ledger")
	return historyCmd
}
