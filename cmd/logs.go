package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/file"
)

const (
	defaultLogListLimit = 20
	followBacklogLines  = 20
)

func newLogsCmd(g *globalOptions) *cobra.Command {
	var (
		follow bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "logs [name]",
		Short: "List benchmark logs or follow one",
		Long: `Without arguments, lists the newest benchmark logs. With --follow, prints the
end of the named log (the newest one when no name is given) and keeps
printing lines as the driver writes them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dir := g.spec.LogsPath()
			if !follow {
				entries, err := file.ListNewest(dir, "*.log", limit)
				if err != nil {
					return err
				}
				printLogEntries(out, entries)
				return nil
			}

			var path string
			if len(args) == 1 {
				path = filepath.Join(dir, filepath.Base(args[0]))
			} else {
				entries, err := file.ListNewest(dir, "*.log", 1)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return errdefs.Newf(errdefs.KindNotFound, "logs", "no benchmark logs in %s", dir)
				}
				path = entries[0].Path
			}
			return followLog(cmd.Context(), path, out)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultLogListLimit, "Number of logs to list")
	return cmd
}

func printLogEntries(w io.Writer, entries []file.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No benchmark logs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Name, e.Size, e.ModTime.Format(time.DateTime))
	}
	_ = tw.Flush()
}

// followLog prints the last lines of path, then streams appended lines until
// ctx is done.
func followLog(ctx context.Context, path string, out io.Writer) error {
	backlog, err := file.TailLines(path, followBacklogLines)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindNotFound, "logs", "cannot open "+path)
	}
	for _, line := range backlog {
		fmt.Fprintln(out, line)
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindNotFound, "logs", "cannot follow "+path)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}
