package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmbench/logger"
	"github.com/mensylisir/xmbench/notify"
	"github.com/mensylisir/xmbench/server"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Reattach to a surviving run and serve the control API and event stream",
		Long: `Starts the supervisor. A run left behind by a previous supervisor process is
reattached first (or its stale record discarded), then the HTTP control
endpoints and the websocket event stream are served until interrupted.
Interrupting the supervisor does not stop an active run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logger.Log.WithComponent("serve")

			hist := g.openHistory(ctx)
			if hist != nil {
				defer hist.Close()
			}
			hub := notify.NewHub()
			mgr := g.newManager(hub, hist)

			recovered, err := mgr.Recover(ctx)
			switch {
			case err != nil:
				log.Errorf("recovery failed, run record kept for the next start: %v", err)
			case recovered:
				log.Infof("reattached to run %s", mgr.Status().RunID)
			}

			addr := g.spec.ListenAddress
			if listen != "" {
				addr = listen
			}
			return server.New(mgr, hub, g.spec, hist, logger.Log.WithComponent("server")).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address; overrides spec.listenAddress")
	return cmd
}
