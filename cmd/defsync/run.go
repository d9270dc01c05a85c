package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dcshock/defsync/config"
	"github.com/dcshock/defsync/httpstatus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync, ingest and publish pipeline until interrupted",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runService(ctx, opts, cmd)
		},
	}
}

func runService(ctx context.Context, opts *rootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := newLogger(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if err != nil {
		return withExit(exitConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return withExit(exitConfig, err)
	}
	svc, err := config.Build(ctx, cfg, config.SecretsFromEnv(nil), &config.BuildOptions{Logger: logger})
	if err != nil {
		// Unreachable ledger or archive stays exit 1; config.ErrInvalid maps to 2.
		return err
	}
	defer svc.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Pipeline.Run(ctx) })
	if cfg.Status.Addr != "" {
		handler := httpstatus.Handler(logger.With("component", "status"), svc.Pipeline)
		g.Go(func() error {
			return httpstatus.Run(ctx, logger, httpstatus.Config{Addr: cfg.Status.Addr}, handler)
		})
	}
	if err := g.Wait(); err != nil {
		return withExit(exitFailure, err)
	}
	logger.Info("shutdown complete")
	return nil
}
