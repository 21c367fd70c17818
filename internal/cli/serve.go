package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/auditkv/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string // overrides server.address/server.port

	// Ready is called with the bound address once the listener is open
	// (for testing).
	Ready func(addr net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the storage API over HTTP",
		Long: `Open the database and serve the storage API until interrupted.

Every write and delete, and every retrieval when audit.retrievals is
enabled, is recorded in the audit log together with the request's address
and headers.

Example:
  auditkv serve
  auditkv serve --config /etc/auditkv.yaml --listen 0.0.0.0:8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "host:port to listen on (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	env, err := openEnvironment(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer env.close()
	slog.SetDefault(env.logger)

	srv := httpapi.New(env.svc, httpapi.Options{
		KeyBits:                   env.cfg.Server.KeyBits,
		SuperfluousHeadersAllowed: env.cfg.Server.SuperfluousHeadersAllowed,
		MaxValueBytes:             env.cfg.Server.MaxValueBytes,
		RateLimit:                 env.cfg.Server.RateLimit,
		RateBurst:                 env.cfg.Server.RateBurst,
		LogRequests:               env.cfg.Log.Requests,
		Metrics:                   env.metrics,
		Logger:                    env.logger,
	})

	addr := opts.Listen
	if addr == "" {
		addr = env.cfg.ListenAddr()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return env.out.Fail(CodeFailed, WrapExitError(ExitCommandError, "failed to listen", err), map[string]string{"addr": addr})
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(env.logger.Handler(), slog.LevelWarn),
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		env.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	env.logger.Info("server started",
		"addr", ln.Addr().String(),
		"db", env.cfg.Database.Path,
		"key_bits", env.cfg.Server.KeyBits,
		"audit_retrievals", env.cfg.Audit.Retrievals)
	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", ln.Addr())
	}
	if opts.Ready != nil {
		opts.Ready(ln.Addr())
	}

	if err := g.Wait(); err != nil {
		return env.out.Fail(CodeFailed, WrapExitError(ExitFailure, "server error", err), nil)
	}

	env.logger.Info("server stopped gracefully")
	return nil
}
