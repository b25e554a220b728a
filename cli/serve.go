// ABOUTME: Long-running server command
// ABOUTME: Runs the scheduler in the background and serves the local web API until interrupted
package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harperreed/calsync/web"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the web API and agenda page with background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := o.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := web.NewServer(a.svc, web.Options{
				Addr:   o.cfg.Listen,
				Logger: o.logger.WithPrefix("web"),
			})
			if err != nil {
				return err
			}
			if err := a.startBackground(ctx); err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
}
