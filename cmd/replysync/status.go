package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/replysync/internal/config"
	"github.com/MikeSquared-Agency/replysync/internal/syncer"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted sync cursors as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.LogLevel)
			cfg.DryRun = false

			b, err := openBackends(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer b.Close()

			st, err := syncer.NewCheckpoints(b.cursors).Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load sync state: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"phase": st.Phase(),
				"state": st,
			})
		},
	}
}
