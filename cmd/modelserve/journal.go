package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"modelserve/internal/journal"
)

func newJournalCmd(fv *flagValues) *cobra.Command {
	var (
		model  string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "journal",
		Short:   "Print recent lifecycle events from the journal",
		Example: "  modelserve journal --journal ~/.modelserve/journal.db --model mistral-7b",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.resolve()
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				return errors.New("no journal configured (use --journal or journal_path)")
			}
			log := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			store, err := journal.Open(cfg.JournalPath, log)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Recent(cmd.Context(), model, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, r := range recs {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tEVENT\tMODEL\tFIELDS")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Time.Format(time.RFC3339), r.Name, r.Model, formatFields(r.Fields))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Only events for this model")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per line")
	return cmd
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}
