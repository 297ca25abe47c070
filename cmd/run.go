package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mensylisir/xmbench/common"
	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/notify"
	"github.com/mensylisir/xmbench/runstate"
	"github.com/mensylisir/xmbench/telemetry"
	xmtime "github.com/mensylisir/xmbench/time"
)

const foregroundStopTimeout = 30 * time.Second

type runOptions struct {
	runConfigFile string
	sessionID     string
	askPass       bool
	showTelemetry bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark in the foreground",
		Long: `Starts a benchmark and prints its events until it finishes. Interrupting the
command stops the run. Without --run-config the saved run configuration is used.

Examples:
  # Run on the local host with the saved configuration
  xmbench run

  # Run against a remote host, prompting for the SSH and sudo password
  xmbench run -f remote.json --ask-pass
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context(), g, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&o.runConfigFile, "run-config", "f", "", "JSON run configuration; the saved configuration when empty")
	cmd.Flags().StringVarP(&o.sessionID, "session", "s", common.DefaultSessionID, "Session the run's events are published to")
	cmd.Flags().BoolVar(&o.askPass, "ask-pass", false, "Prompt for the remote password instead of reading remote_password from the configuration")
	cmd.Flags().BoolVar(&o.showTelemetry, "telemetry", false, "Print device telemetry samples")
	return cmd
}

func (o *runOptions) run(ctx context.Context, g *globalOptions, out io.Writer) error {
	runConfig, err := readRunConfig(o.runConfigFile)
	if err != nil {
		return err
	}

	hist := g.openHistory(ctx)
	if hist != nil {
		defer hist.Close()
	}
	hub := notify.NewHub()
	events := hub.Subscribe(o.sessionID)
	defer hub.Unsubscribe(o.sessionID, events)
	mgr := g.newManager(hub, hist)

	if o.askPass {
		if runConfig == nil {
			if runConfig, err = mgr.SavedConfig(); err != nil {
				return err
			}
		}
		password, err := promptPassword(int(os.Stdin.Fd()), os.Stderr)
		if err != nil {
			return err
		}
		runConfig["remote_password"] = password
	}

	// a run left by a crashed supervisor makes Start fail with a conflict
	// instead of being overwritten
	if _, err := mgr.Recover(ctx); err != nil {
		return err
	}
	runID, err := mgr.Start(o.sessionID, runConfig)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s started\n", runID)

	done := make(chan struct{})
	go func() {
		_ = mgr.Wait(context.Background())
		close(done)
	}()

	var last notify.Status
	interrupted := ctx.Done()
	for {
		select {
		case ev := <-events:
			if st, ok := ev.Data.(notify.Status); ok {
				last = st
			}
			o.printEvent(out, ev)
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, "stopping run...")
			stopCtx, cancel := context.WithTimeout(context.Background(), foregroundStopTimeout)
			_, err := mgr.Stop(stopCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-done:
			for {
				select {
				case ev := <-events:
					if st, ok := ev.Data.(notify.Status); ok {
						last = st
					}
					o.printEvent(out, ev)
				default:
					if last.Status == notify.StatusFailed {
						return errdefs.New(errdefs.KindProcessFailure, "run", last.Message)
					}
					return nil
				}
			}
		}
	}
}

// readRunConfig decodes a JSON run configuration. An empty path yields nil,
// which makes the manager use the saved configuration.
func readRunConfig(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "readRunConfig", "cannot read run configuration")
	}
	cfg := map[string]any{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "readRunConfig", path+" is not a JSON object")
	}
	return cfg, nil
}

func promptPassword(fd int, prompt io.Writer) (string, error) {
	if !term.IsTerminal(fd) {
		return "", errdefs.New(errdefs.KindConfiguration, "askPass", "--ask-pass needs an interactive terminal")
	}
	fmt.Fprint(prompt, "Remote password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", errdefs.Wrap(err, errdefs.KindConfiguration, "askPass", "failed to read password")
	}
	return string(raw), nil
}

func (o *runOptions) printEvent(w io.Writer, ev notify.Event) {
	switch data := ev.Data.(type) {
	case notify.Status:
		if data.Message != "" {
			fmt.Fprintf(w, "[%s] %s\n", data.Status, data.Message)
		} else {
			fmt.Fprintf(w, "[%s]\n", data.Status)
		}
	case runstate.StageInfo:
		fmt.Fprintf(w, "== %s ==\n", data.Label)
	case runstate.Progress:
		fmt.Fprintln(w, formatProgress(data))
	case []telemetry.Sample:
		if !o.showTelemetry {
			return
		}
		for _, s := range data {
			fmt.Fprintf(w, "  %-10s r %.0f/s %.1fMB/s  w %.0f/s %.1fMB/s  util %.1f%%\n",
				s.Device, s.ReadIOPS, s.ReadMBps, s.WriteIOPS, s.WriteMBps, s.Util)
		}
	case map[string]string:
		switch ev.Type {
		case notify.TypeLog:
			fmt.Fprintln(w, data["line"])
		case notify.TypeState:
			fmt.Fprintf(w, "state: %s\n", data["state"])
		default:
			fmt.Fprintf(w, "%s: %s\n", ev.Type, data["message"])
		}
	default:
		fmt.Fprintf(w, "%s: %v\n", ev.Type, data)
	}
}

func formatProgress(p runstate.Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "progress %d/%d (%.1f%%)", p.CurrentStep, p.TotalSteps, p.Percentage)
	fmt.Fprintf(&b, " elapsed %s remaining %s", xmtime.Seconds(p.ElapsedSeconds), xmtime.Seconds(p.RemainingSeconds))
	return b.String()
}
