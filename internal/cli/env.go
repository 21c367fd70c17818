package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/auditkv/internal/config"
	"github.com/roach88/auditkv/internal/kv"
	"github.com/roach88/auditkv/internal/logging"
	"github.com/roach88/auditkv/internal/metrics"
	"github.com/roach88/auditkv/internal/store"
)

// cliAddress is recorded as the originating address of operations run from
// the command line.
const cliAddress = "cli"

// environment is everything a command needs to run core operations.
type environment struct {
	cfg     *config.Config
	store   *store.Store
	svc     *kv.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
	out     *OutputFormatter
}

// openEnvironment loads the config, builds the logger and opens the store.
// The caller must call close.
func openEnvironment(opts *RootOptions, cmd *cobra.Command) (*environment, error) {
	out := newFormatter(opts, cmd)

	out.VerboseLog("config: %s", opts.ConfigPath)
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to load config", err), nil)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	logger, err := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to configure logging", err), nil)
	}

	out.VerboseLog("database: %s", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path, store.Options{
		DigestBits:  cfg.Storage.DigestBits,
		Compression: cfg.Storage.Compression,
	})
	if err != nil {
		return nil, out.Fail(CodeDatabase, WrapExitError(ExitCommandError, "failed to open database", err),
			map[string]string{"path": cfg.Database.Path})
	}

	m := metrics.New()
	svc := kv.New(st, kv.Options{
		Metrics:         m,
		Logger:          logger,
		AuditRetrievals: cfg.Audit.Retrievals,
		MaxValueBytes:   cfg.Server.MaxValueBytes,
	})

	return &environment{
		cfg:     cfg,
		store:   st,
		svc:     svc,
		metrics: m,
		logger:  logger,
		out:     out,
	}, nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func (e *environment) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

func (e *environment) request() store.RequestMetadata {
	return store.RequestMetadata{Address: cliAddress}
}

func newLogger(cfg *config.Config, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	_, isFile := w.(*os.File)
	return logging.New(w, logging.Options{
		Level:   level,
		Format:  cfg.Log.Format,
		NoColor: !isFile || os.Getenv("NO_COLOR") != "",
	})
}
