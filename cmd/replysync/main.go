package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/replysync/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("replysync failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dryRun bool

	root := &cobra.Command{
		Use:           "replysync",
		Short:         "Sync operator replies from the support inbox into the reply store",
		Long:          "Runs one bounded sync: backfill from the most recent natural boundary until caught up, then live windows on every later run.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, dryRun)
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), cfg, slog.Default())
		},
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "extract replies without writing the sink (overrides REPLYSYNC_DRY_RUN)")

	root.AddCommand(
		newServeCmd(&dryRun),
		newStatusCmd(),
		newEventsCmd(),
	)
	return root
}

// loadConfig reads the environment, applies flag overrides, installs the
// logger and validates.
func loadConfig(cmd *cobra.Command, dryRun bool) (config.Config, error) {
	cfg := config.Load()
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = dryRun
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runOnce performs a single bounded sync run.
func runOnce(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.checkpoints.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	_, _, err = a.runner.Run(ctx, st)
	return err
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
