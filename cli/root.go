// ABOUTME: Root cobra command for calsync
// ABOUTME: Resolves configuration through viper, sets up logging and registers every subcommand
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harperreed/calsync/config"
)

// skipConfig marks commands that run without loading the config file.
const skipConfig = "skip-config"

type rootOptions struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *log.Logger
	version string
}

// Execute runs the command line and exits non-zero on failure.
func Execute(version string) {
	cmd := NewRootCmd(version)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{v: config.NewViper(), version: version}

	root := &cobra.Command{
		Use:   "calsync",
		Short: "Keep a local calendar in two-way sync with Google Calendar",
		Long: `calsync keeps a local calendar database in sync with one Google Calendar.

Edit events offline from the command line, the terminal agenda, the local
web API or an MCP client. Changes are pushed to Google shortly after each
edit, and remote changes are pulled on startup, on a timer and on demand.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is "+config.Path()+")")
	flags.String("db-path", "", "database path (default: "+config.Default().DatabasePath+")")
	flags.String("calendar", "", "Google calendar id to sync (default: primary)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("listen", "", "address for the local web server and OAuth redirect")

	_ = opts.v.BindPFlag("database_path", flags.Lookup("db-path"))
	_ = opts.v.BindPFlag("calendar_id", flags.Lookup("calendar"))
	_ = opts.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = opts.v.BindPFlag("listen", flags.Lookup("listen"))

	root.AddCommand(
		newEventsCmd(opts),
		newSyncCmd(opts),
		newConflictsCmd(opts),
		newResolveCmd(opts),
		newAuthCmd(opts),
		newHolidaysCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newTUICmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	o.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Prefix:          "calsync",
		ReportTimestamp: true,
	})
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	cfg, err := config.Load(o.v, o.cfgFile)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger.SetLevel(cfg.Level())
	return nil
}

// redirectLogs sends log output to w, for commands that own the terminal.
func (o *rootOptions) redirectLogs(w io.Writer) {
	o.logger.SetOutput(w)
}
