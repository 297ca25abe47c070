package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mensylisir/xmbench/common"
	"github.com/mensylisir/xmbench/history"
	xmtime "github.com/mensylisir/xmbench/time"
)

func newHistoryCmd(g *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := history.Open(cmd.Context(), g.spec.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}

func printHistory(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No finished runs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTARTED\tDURATION\tHOST\tSTEPS\tMESSAGE")
	for _, r := range runs {
		host := r.Host
		if !r.Remote {
			host = common.LocalHostname
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			r.RunID, r.Status, r.StartedAt.Format(time.DateTime), xmtime.ShortDur(r.Duration().Truncate(time.Second)),
			host, r.CurrentStep, r.TotalSteps, r.Message)
	}
	_ = tw.Flush()
}
