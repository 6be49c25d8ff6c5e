package cmd

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NSvoltage/bcce/internal/history"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return asExit(err)
		}

		idx, err := history.Open(filepath.Join(cfg.Artifacts.Root, cfg.Artifacts.IndexFile))
		if err != nil {
			return asExit(err)
		}
		defer idx.Close()

		recs, err := idx.List(cmd.Context(), listLimit)
		if err != nil {
			return asExit(err)
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tWORKFLOW\tSTATUS\tSTEPS\tSTARTED\tDURATION")
		for _, r := range recs {
			duration := "-"
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				r.RunID, r.Workflow, r.Status, r.StepsDone, r.StepsTotal,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of runs to show (0 = all)")
	rootCmd.AddCommand(listCmd)
}
