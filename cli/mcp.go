// ABOUTME: MCP server subcommand
// ABOUTME: Serves the calendar tools over stdio while the scheduler syncs in the background
package cli

import (
	"os"
	"os/signal"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/harperreed/calsync/handlers"
)

func newMCPCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			o.logger.Info("starting MCP server")
			a, err := o.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.startBackground(ctx); err != nil {
				return err
			}
			server := handlers.NewServer(a.svc, o.version)
			return server.Run(ctx, &mcp.StdioTransport{})
		},
	}
}
