package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/auditkv/internal/httpapi"
	"github.com/roach88/auditkv/internal/kv"
)

// ValueResult is the JSON payload of get and put.
type ValueResult struct {
	Key     string `json:"key"`
	Size    int    `json:"size"`
	Digest  string `json:"digest,omitempty"`
	Content []byte `json:"content,omitempty"`
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Long: `Retrieve a value from the local database and write it to stdout.

The retrieval is audited like an HTTP GET when audit.retrievals is enabled,
with "cli" as the originating address.

Example:
  auditkv get 3f2a...e1
  auditkv get 3f2a...e1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, cmd, args[0])
		},
	}
}

func runGet(opts *RootOptions, cmd *cobra.Command, key string) error {
	env, err := openEnvironment(opts, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if err := checkKey(env, key); err != nil {
		return err
	}

	content, err := env.svc.Retrieve(cmd.Context(), key, env.request())
	if err != nil {
		return opError(env.out, "retrieve", key, err)
	}

	if opts.Format == "json" {
		return env.out.Success(ValueResult{Key: key, Size: len(content), Content: content})
	}
	_, err = cmd.OutOrStdout().Write(content)
	return err
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> [file|-]",
		Short: "Store a value under a key",
		Long: `Store the contents of a file (or stdin when the file is omitted or "-")
under a key. The write is audited with "cli" as the originating address.

Example:
  auditkv put 3f2a...e1 ./payload.bin
  echo hello | auditkv put 3f2a...e1`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 2 {
				src = args[1]
			}
			return runPut(rootOpts, cmd, args[0], src)
		},
	}
}

func runPut(opts *RootOptions, cmd *cobra.Command, key, src string) error {
	var content []byte
	var err error
	if src == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
	} else {
		content, err = os.ReadFile(src)
	}
	if err != nil {
		return newFormatter(opts, cmd).Fail(CodeMalformed,
			WrapExitError(ExitCommandError, "failed to read value", err), map[string]string{"source": src})
	}

	env, err := openEnvironment(opts, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if err := checkKey(env, key); err != nil {
		return err
	}

	v, err := env.svc.Update(cmd.Context(), key, content, env.request())
	if err != nil {
		return opError(env.out, "update", key, err)
	}

	digest := hex.EncodeToString(v.Digest)
	if opts.Format == "json" {
		return env.out.Success(ValueResult{Key: key, Size: len(content), Digest: digest})
	}
	return env.out.Success(fmt.Sprintf("stored %d bytes under %s (digest %s)", len(content), key, digest))
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Long: `Remove a key from the local database. Deleting a key that does not
exist succeeds and is still audited.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, cmd, args[0])
		},
	}
}

func runDelete(opts *RootOptions, cmd *cobra.Command, key string) error {
	env, err := openEnvironment(opts, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if err := checkKey(env, key); err != nil {
		return err
	}

	if err := env.svc.Delete(cmd.Context(), key, env.request()); err != nil {
		return opError(env.out, "delete", key, err)
	}

	if opts.Format == "json" {
		return env.out.Success(map[string]string{"key": key})
	}
	return env.out.Success("deleted " + key)
}

// checkKey applies the same key format the HTTP boundary enforces, so keys
// written locally stay reachable over HTTP.
func checkKey(env *environment, key string) error {
	if !httpapi.KeyPattern(env.cfg.Server.KeyBits).MatchString(key) {
		return env.out.Fail(CodeInvalidKey, NewExitError(ExitCommandError, fmt.Sprintf(
			"invalid key %q: expected %d lowercase hex characters", key, env.cfg.Server.KeyBits/4)),
			map[string]string{"key": key})
	}
	return nil
}

// opError maps service errors to exit codes and JSON error codes.
func opError(out *OutputFormatter, op, key string, err error) error {
	details := map[string]string{"key": key}
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return out.Fail(CodeNotFound, WrapExitError(ExitFailure, "key not found", err), details)
	case errors.Is(err, kv.ErrMalformedInput):
		return out.Fail(CodeMalformed, WrapExitError(ExitCommandError, op+" rejected", err), details)
	default:
		return out.Fail(CodeFailed, WrapExitError(ExitFailure, op+" failed", err), details)
	}
}
