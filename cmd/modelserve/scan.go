package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modelserve/internal/registry"
	"modelserve/pkg/types"
)

func newScanCmd(fv *flagValues) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "scan [dir]",
		Short:   "Print the catalog a models directory resolves to",
		Example: "  modelserve scan ./models\n  modelserve scan --json",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.resolve()
			if err != nil {
				return err
			}
			dir := cfg.ModelsDir
			if len(args) == 1 {
				dir = args[0]
			}
			log := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			models, err := registry.NewScanner(log).Scan(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(types.ModelsResponse{Models: models})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tPATH")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Kind, m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
