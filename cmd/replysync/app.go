package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/replysync/internal/config"
	"github.com/MikeSquared-Agency/replysync/internal/extractor"
	"github.com/MikeSquared-Agency/replysync/internal/hermes"
	"github.com/MikeSquared-Agency/replysync/internal/intercom"
	"github.com/MikeSquared-Agency/replysync/internal/kv"
	"github.com/MikeSquared-Agency/replysync/internal/litestore"
	"github.com/MikeSquared-Agency/replysync/internal/slack"
	"github.com/MikeSquared-Agency/replysync/internal/store"
	"github.com/MikeSquared-Agency/replysync/internal/syncer"
)

type app struct {
	runner      *syncer.Runner
	checkpoints *syncer.Checkpoints
	backends    *backends
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	client := intercom.NewClient(intercom.Options{
		BaseURL:     cfg.IntercomBaseURL,
		Token:       cfg.IntercomToken,
		APIVersion:  cfg.IntercomAPIVersion,
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBase,
		MaxDelay:    cfg.RetryMax,
		Logger:      logger,
	})

	cp := syncer.NewCheckpoints(b.cursors)
	runner := syncer.NewRunner(syncer.Config{
		PageSize:         cfg.PageSize,
		MaxConversations: cfg.MaxConversations,
		MaxRows:          cfg.MaxRows,
		Lookback:         cfg.Lookback,
		Boundary:         cfg.BackfillBoundary,
		SkipBackfill:     cfg.SkipBackfill,
		LiveDeadline:     cfg.LiveDeadline,
		PageDelay:        cfg.PageDelay,
		DryRun:           cfg.DryRun,
	}, client, b.sink, cp, logger)

	if cfg.NatsURL != "" {
		h, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, h.Close)
		runner.WithPublisher(h)
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		runner.WithReporter(slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger))
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	return &app{runner: runner, checkpoints: cp, backends: b}, nil
}

func (a *app) Close() {
	a.backends.Close()
}

type backends struct {
	sink    syncer.Sink
	cursors kv.Store
	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends picks the sink and cursor store from DATABASE_URL, with
// CURSOR_DSN overriding the cursor store. Dry runs never touch the
// database. The sink is nil when only CURSOR_DSN is configured.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	switch {
	case cfg.DryRun:
		b.sink = &dryRunSink{logger: logger}
		b.cursors = kv.NewMemory()
		logger.Info("dry run: sink disabled, cursors kept in memory unless CURSOR_DSN is set")
	case cfg.DatabaseURL != "":
		switch scheme := kv.Scheme(cfg.DatabaseURL); scheme {
		case "postgres", "postgresql":
			db, err := store.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			if err := db.EnsureSchema(ctx); err != nil {
				db.Close()
				return nil, err
			}
			b.sink, b.cursors = db, db
			b.closers = append(b.closers, db.Close)
			logger.Info("database connected", "backend", "postgres")
		case "sqlite", "file":
			path, err := kv.Path(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("DATABASE_URL: %w", err)
			}
			db, err := litestore.Open(kv.ExpandHome(path))
			if err != nil {
				return nil, err
			}
			b.sink, b.cursors = db, db
			b.closers = append(b.closers, func() {
				if err := db.Close(); err != nil {
					logger.Warn("close sqlite", "error", err)
				}
			})
			logger.Info("database opened", "backend", "sqlite", "path", path)
		default:
			return nil, fmt.Errorf("unsupported DATABASE_URL scheme %q", scheme)
		}
	}

	if cfg.CursorDSN != "" {
		cursors, ok, err := kv.OpenLocal(cfg.CursorDSN)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("CURSOR_DSN: %w", err)
		}
		if !ok {
			b.Close()
			return nil, fmt.Errorf("CURSOR_DSN scheme %q is not supported, use memory:// or file://", kv.Scheme(cfg.CursorDSN))
		}
		b.cursors = cursors
	}
	if b.cursors == nil {
		return nil, config.ErrMissingDatabase
	}
	return b, nil
}

// dryRunSink counts records instead of writing them.
type dryRunSink struct {
	logger *slog.Logger
}

func (s *dryRunSink) UpsertReplies(_ context.Context, records []extractor.ReplyRecord) (int, error) {
	for _, r := range records {
		s.logger.Debug("dry run reply",
			"part_id", r.PartID,
			"conversation_id", r.ConversationID,
			"operator_id", r.OperatorID,
			"has_user_prev_message", r.UserPrevMessage != nil,
		)
	}
	return len(records), nil
}
