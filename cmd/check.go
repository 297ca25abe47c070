package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mensylisir/xmbench/config"
	"github.com/mensylisir/xmbench/executor"
	"github.com/mensylisir/xmbench/pathmap"
)

func newCheckCmd(g *globalOptions) *cobra.Command {
	var runConfigFile string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity, privilege and required tools on the run target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			runConfig, err := readRunConfig(runConfigFile)
			if err != nil {
				return err
			}
			if runConfig == nil {
				if runConfig, err = g.newManager(nil, nil).SavedConfig(); err != nil {
					return err
				}
			}
			opts, err := config.DecodeRunOptions(runConfig)
			if err != nil {
				return err
			}
			target, err := opts.Target()
			if err != nil {
				return err
			}
			exec, err := executor.New(target, pathmap.New(g.spec.BaseDir, g.spec.RemoteStagingRoot, target.Remote))
			if err != nil {
				return err
			}
			defer exec.Close()

			if !exec.IsRemote() {
				fmt.Fprintln(out, "local target: tools are provisioned with the host, nothing to check")
				return nil
			}
			if remote, ok := exec.(*executor.RemoteExecutor); ok {
				priv, err := remote.Privilege(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s@%s: %s\n", target.User, target.Host, priv)
			}
			deps, err := exec.CheckDependencies(ctx)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(deps))
			for name := range deps {
				names = append(names, name)
			}
			sort.Strings(names)
			missing := 0
			for _, name := range names {
				state := "ok"
				if !deps[name] {
					state = "missing"
					missing++
				}
				fmt.Fprintf(out, "  %-16s %s\n", name, state)
			}
			if missing > 0 {
				fmt.Fprintf(out, "%d required tool(s) missing, the benchmark may fail\n", missing)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&runConfigFile, "run-config", "f", "", "JSON run configuration; the saved configuration when empty")
	return cmd
}
