package cli

import (
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	calsync "github.com/harperreed/calsync/sync"
	"github.com/harperreed/calsync/tui"
)

func newTUICmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive agenda with live sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The program owns the terminal; logs go to a file instead.
			logPath, err := xdg.StateFile("calsync/tui.log")
			if err != nil {
				return fmt.Errorf("failed to resolve log path: %w", err)
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer func() { _ = logFile.Close() }()
			o.redirectLogs(logFile)

			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			program := tui.NewProgram(tui.NewModel(a.svc))
			a.scheduler.OnResult(func(report calsync.PassReport) {
				go program.Send(tui.PassMsg{Report: report})
			})
			if err := a.startBackground(cmd.Context()); err != nil {
				return err
			}

			_, err = program.Run()
			return err
		},
	}
}
