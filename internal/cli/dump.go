package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/auditkv/internal/history"
)

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Show current state and history of every key",
		Long: `Reconstruct the current value and write history of every key ever
written or deleted. Retrievals are not part of the history.

Example:
  auditkv dump
  auditkv dump --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, cmd)
		},
	}
}

func runDump(opts *RootOptions, cmd *cobra.Command) error {
	env, err := openEnvironment(opts, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	d, err := env.svc.Dump(cmd.Context())
	if err != nil {
		return env.out.Fail(CodeFailed, WrapExitError(ExitFailure, "failed to reconstruct history", err), nil)
	}

	if opts.Format == "json" {
		return env.out.Success(d)
	}
	if len(d) == 0 {
		return env.out.Success("No keys have been written.")
	}
	return history.Render(cmd.OutOrStdout(), d)
}
