package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quest-vault-service/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	// setup loads config and builds the shared services for a subcommand.
	setup := func(ctx context.Context) (*deps, func(), error) {
		logger, err := newLogger(debug)
		if err != nil {
			return nil, nil, err
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		d, err := buildDeps(ctx, cfg, logger)
		if err != nil {
			logger.Error("startup failed", zap.Error(err))
			return nil, nil, err
		}
		return d, func() { _ = logger.Sync() }, nil
	}

	root := &cobra.Command{
		Use:          "questd",
		Short:        "Quest settlement and vault custody service",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "human-readable debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, done, err := setup(ctx)
			if err != nil {
				return err
			}
			defer done()
			return serve(ctx, d)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "check-deposits",
		Short: "Check every unfunded quest vault once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, done, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			return d.depositMonitor().Run(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Run one verification pass over all open quests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, done, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			return d.verification.RunPass(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "settle <quest-id>",
		Short: "Settle one quest whose end date has passed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, done, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			if err := d.settlement.Settle(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("settle %s: %w", args[0], err)
			}
			d.logger.Info("[SETTLE] done", zap.String("quest_id", args[0]))
			return nil
		},
	})

	return root
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serve(ctx context.Context, d *deps) error {
	sched, err := d.scheduler(ctx)
	if err != nil {
		return err
	}
	sched.Start()

	app := d.httpApp()
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(d.cfg.ListenAddr)
	}()
	d.logger.Info("✅ server running",
		zap.String("addr", d.cfg.ListenAddr),
		zap.Strings("origins", d.cfg.AllowedOrigins),
		zap.String("social_backend", d.cfg.SocialBackend),
		zap.Bool("r2_reports", d.cfg.R2Enabled()),
	)

	select {
	case <-ctx.Done():
		d.logger.Info("shutting down")
	case err = <-listenErr:
		d.logger.Error("server error", zap.Error(err))
	}

	shutdownErr := app.ShutdownWithTimeout(10 * time.Second)
	if schedErr := sched.Shutdown(); schedErr != nil {
		shutdownErr = errors.Join(shutdownErr, schedErr)
	}
	if err != nil {
		return err
	}
	return shutdownErr
}
