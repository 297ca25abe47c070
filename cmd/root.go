// Package cmd holds the xmbench command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmbench/common"
	"github.com/mensylisir/xmbench/config"
	"github.com/mensylisir/xmbench/history"
	"github.com/mensylisir/xmbench/logger"
	"github.com/mensylisir/xmbench/notify"
	"github.com/mensylisir/xmbench/orchestrator"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logDir     string
	verbose    bool

	spec *config.SupervisorSpec
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           common.AppName,
		Short:         "Supervise storage benchmark runs on local and remote hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return g.setup()
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Supervisor configuration file (YAML); built-in defaults when empty")
	root.PersistentFlags().StringVar(&g.logDir, "log-dir", "", "Directory for the rotated supervisor log; overrides spec.log.dir")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging on the console")

	root.AddCommand(
		newServeCmd(g),
		newRunCmd(g),
		newStatusCmd(g),
		newCheckCmd(g),
		newLogsCmd(g),
		newHistoryCmd(g),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command context.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		logger.Log.Error(err)
		os.Exit(1)
	}
}

func (g *globalOptions) setup() error {
	cfg, err := config.NewLoader(g.configPath).Load()
	if err != nil {
		return err
	}
	g.spec = &cfg.Spec

	verbose := g.verbose || g.spec.Log.Verbose
	level, err := logrus.ParseLevel(g.spec.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	dir := g.spec.Log.Dir
	if g.logDir != "" {
		dir = g.logDir
	}
	return logger.InitGlobalLogger(dir, verbose, level)
}

// openHistory opens the history database. A failure is logged and the
// supervisor carries on without history.
func (g *globalOptions) openHistory(ctx context.Context) *history.Store {
	store, err := history.Open(ctx, g.spec.HistoryPath())
	if err != nil {
		logger.Log.Warnf("run history disabled: %v", err)
		return nil
	}
	return store
}

func (g *globalOptions) newManager(notifier notify.Notifier, hist *history.Store) *orchestrator.Manager {
	opts := orchestrator.Options{Spec: g.spec, Notifier: notifier}
	if hist != nil {
		opts.History = hist
	}
	return orchestrator.New(opts)
}
