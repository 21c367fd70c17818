package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/auditkv/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Long: `Write the built-in defaults to the path given by --config.
Refuses to overwrite an existing file unless --force is set.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			out := newFormatter(rootOpts, cmd)
			details := map[string]string{"path": path}
			if _, err := os.Stat(path); err == nil && !force {
				return out.Fail(CodeConfig, NewExitError(ExitCommandError,
					fmt.Sprintf("config file %s already exists (use --force to overwrite)", path)), details)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to stat config file", err), details)
			}

			out.VerboseLog("writing defaults to %s", path)
			if err := config.Save(config.Default(), path); err != nil {
				return out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to write config", err), details)
			}

			if rootOpts.Format == "json" {
				return out.Success(map[string]string{"path": path})
			}
			return out.Success("wrote default config to " + path)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
