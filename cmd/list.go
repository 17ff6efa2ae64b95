package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tsunami-forge/internal/vulndb"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the vulnerability types that have a description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			reader, err := vulndb.NewReader(cfg.Forge().VulnerabilitiesDir, cfg.Forge().ExamplePluginDir)
			if err != nil {
				return err
			}
			types, err := reader.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(types) == 0 {
				fmt.Fprintln(out, "No vulnerability descriptions found.")
				return nil
			}
			for _, t := range types {
				fmt.Fprintln(out, t)
			}
			return nil
		},
	}
}
