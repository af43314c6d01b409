package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/replysync/internal/api"
	"github.com/MikeSquared-Agency/replysync/internal/config"
	"github.com/MikeSquared-Agency/replysync/internal/syncer"
)

func newServeCmd(dryRun *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a sync every REPLYSYNC_INTERVAL and expose the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *dryRun)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, slog.Default())
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := api.NewServer(cfg.Port, cfg.APIToken, a.checkpoints, logger)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return srv.Start(ctx) })
	eg.Go(func() error { return syncLoop(ctx, a, srv, cfg.Interval, logger) })

	logger.Info("replysync serving", "port", cfg.Port, "interval", cfg.Interval, "dry_run", cfg.DryRun)
	err = eg.Wait()
	logger.Info("replysync stopped")
	return err
}

// syncLoop runs immediately, then on every tick or manual trigger. A failed
// run is logged and retried on the next tick; corrupt state stops the loop.
func syncLoop(ctx context.Context, a *app, srv *api.Server, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := a.checkpoints.Load(ctx)
		if err != nil {
			if errors.Is(err, syncer.ErrCorruptState) {
				return err
			}
			logger.Error("load sync state", "error", err)
		} else {
			_, sum, err := a.runner.Run(ctx, st)
			srv.RecordRun(sum)
			if err != nil && ctx.Err() == nil {
				logger.Error("sync run failed, retrying next interval", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-srv.Triggers():
			logger.Info("manual run requested")
		}
	}
}
