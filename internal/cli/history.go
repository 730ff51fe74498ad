package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs and milestone lock events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		milestoneID, _ := cmd.Flags().GetString("milestone-id")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}

		d, cleanup, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		runs, err := d.RecentRuns(ctx, limit)
		if err != nil {
			return err
		}
		events, err := d.LockEvents(ctx, milestoneID, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 && len(events) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tCOMMAND\tERRORS\tWARNINGS\tINFO\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				r.ID.String()[:8], r.Command, r.Errors, r.Warnings, r.Infos, r.StartedAt.Local().Format(time.DateTime))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(events) > 0 {
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MILESTONE\tOPERATION\tOUTCOME\tRUN\tAT\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.MilestoneID, e.Operation, e.Outcome, e.RunID.String()[:8], e.CreatedAt.Local().Format(time.DateTime), e.Detail)
			}
			return w.Flush()
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs and events to show")
	historyCmd.Flags().String("milestone-id", "", "only show lock events for this milestone")
}
