package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harperreed/calsync/config"
)

func newConfigCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the defaults",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.cfgFile
			if path == "" {
				path = config.Path()
			}
			if err := config.Init(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Add your Google OAuth client under google.client_id and google.client_secret, or export GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET.")
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(o.cfg.Redacted())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	pathCmd := &cobra.Command{
		Use:         "path",
		Short:       "Print the config file location",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			path := o.cfgFile
			if path == "" {
				path = config.Path()
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		},
	}

	cmd.AddCommand(initCmd, showCmd, pathCmd)
	return cmd
}
