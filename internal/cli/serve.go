package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recruitflow/internal/api"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Database string

	// ready is called with the bound address once the listener is open.
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the recruitflow HTTP API.

The audit log is opened (SQLite when --db or storage.driver is set, memory
otherwise), funnel state is rebuilt from it and the chain is verified
before the listener opens.

Example:
  recruitflow serve
  recruitflow serve --db ./recruitflow.db --listen :8080
  RECRUITFLOW_MODE=live recruitflow serve --config ./recruitflow.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	logger := newLogger(opts.RootOptions, cfg)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := OpenStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			logger.Error("error closing storage", "error", closeErr)
		}
	}()

	result, err := stack.Log.Verify(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to verify audit chain", err)
	}
	if !result.OK {
		logger.Error("audit chain is broken", "broken_at", *result.BrokenAtIndex, "count", result.Count)
	} else {
		logger.Info("audit chain verified", "count", result.Count)
	}

	handler := api.New(api.Deps{
		Engine:     stack.Engine,
		Log:        stack.Log,
		Dispatcher: stack.Dispatcher,
		Publisher:  stack.Publisher,
		Evaluator:  stack.Evaluator,
		Mode:       cfg.Mode,
		Logger:     logger,
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", cfg.Listen), err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	addr := ln.Addr().String()
	logger.Info("listening", "addr", addr, "mode", cfg.Mode)
	if opts.ready != nil {
		opts.ready(addr)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
