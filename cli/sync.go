// ABOUTME: Sync CLI commands
// ABOUTME: Runs full or push-only passes, lists conflicts and resolves them
package cli

import (
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperreed/calsync/models"
	calsync "github.com/harperreed/calsync/sync"
)

func newSyncCmd(o *rootOptions) *cobra.Command {
	var pushOnly bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull remote changes and push local ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var result *models.SyncResult
			if pushOnly {
				result, err = a.svc.PushChanges(cmd.Context())
			} else {
				result, err = a.svc.RunSync(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ %s in %s\n", result.Summary(), result.Duration.Round(time.Millisecond))
			for _, msg := range result.Messages {
				fmt.Fprintf(out, "  ✗ %s\n", msg)
			}
			if result.Conflicts > 0 {
				fmt.Fprintln(out, "Run 'calsync conflicts' to review conflicting events.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pushOnly, "push-only", false, "only push local changes")
	return cmd
}

func newConflictsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List events edited on both sides since the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.svc.ListConflicts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No conflicts.")
				return nil
			}
			for _, ev := range events {
				printEventLine(out, ev)
			}
			fmt.Fprintln(out, "\nResolve with: calsync resolve <id> --keep local|remote")
			return nil
		},
	}
}

func newResolveCmd(o *rootOptions) *cobra.Command {
	var keep string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Settle a conflict by keeping the local or the remote copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolution := calsync.Resolution(keep)
			if resolution != calsync.KeepLocal && resolution != calsync.KeepRemote {
				return fmt.Errorf("--keep must be local or remote")
			}

			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ev, err := a.svc.ResolveConflict(cmd.Context(), args[0], resolution)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ev == nil {
				fmt.Fprintln(out, "✓ Event was deleted on Google; local copy removed")
				return nil
			}
			fmt.Fprintf(out, "✓ Kept %s copy of %s [%s]\n", keep, ev.Title, ev.SyncStatus)
			if ev.SyncStatus == models.StatusLocal {
				a.pushNow(cmd.Context(), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keep, "keep", "", "local or remote")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	return exec.Command(cmd, args...).Start()
}
