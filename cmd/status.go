package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mensylisir/xmbench/runstate"
	xmtime "github.com/mensylisir/xmbench/time"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted record of the active run",
		Long: `Prints the run record the supervisor keeps while a run is active. The record
is read from disk, so this works while the supervisor runs in another process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec := runstate.NewStore(g.spec.StatePath()).Load()
			printRecord(cmd.OutOrStdout(), rec, time.Now())
			return nil
		},
	}
}

func printRecord(w io.Writer, rec *runstate.Record, now time.Time) {
	if rec == nil {
		fmt.Fprintln(w, "No benchmark running")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", rec.RunID)
	fmt.Fprintf(tw, "Session:\t%s\n", rec.SessionID)
	fmt.Fprintf(tw, "Status:\t%s\n", rec.Status)
	fmt.Fprintf(tw, "Started:\t%s (%s ago)\n", rec.StartTime.Format(time.DateTime), xmtime.ShortDur(now.Sub(rec.StartTime).Truncate(time.Second)))
	if rec.StageInfo.Label != "" {
		fmt.Fprintf(tw, "Stage:\t%s\n", rec.StageInfo.Label)
	}
	fmt.Fprintf(tw, "Progress:\t%s\n", formatProgress(rec.Progress))
	target := "local"
	if rec.Remote {
		target = "remote"
	}
	fmt.Fprintf(tw, "Target:\t%s\n", target)
	if rec.PID > 0 {
		fmt.Fprintf(tw, "PID:\t%d\n", rec.PID)
	}
	fmt.Fprintf(tw, "Log:\t%s\n", rec.LogPath)
	_ = tw.Flush()
}
