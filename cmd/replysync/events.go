package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/replysync/internal/config"
	"github.com/MikeSquared-Agency/replysync/internal/hermes"
)

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print replysync events from NATS until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.LogLevel)
			if cfg.NatsURL == "" {
				return errors.New("NATS_URL is required")
			}

			ctx := cmd.Context()
			h, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
			if err != nil {
				return err
			}
			defer h.Close()

			out := cmd.OutOrStdout()
			if err := h.Subscribe(hermes.SubjectAll, func(subject string, data []byte) {
				fmt.Fprintf(out, "%s %s\n", subject, data)
			}); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
}
