package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/MikeSquared-Agency/replysync/internal/extractor"
	"github.com/MikeSquared-Agency/replysync/internal/intercom"
)

// Source is the upstream conversation API.
type Source interface {
	SearchConversations(ctx context.Context, w intercom.Window, pageSize int, cursor string) intercom.Result[*intercom.SearchPage]
	GetConversation(ctx context.Context, id string) intercom.Result[*intercom.Conversation]
}

// Sink persists reply records, overwriting by part_id. It returns the
// number of affected rows.
type Sink interface {
	UpsertReplies(ctx context.Context, records []extractor.ReplyRecord) (int, error)
}

// Publisher receives page and run events. A nil Publisher disables events.
type Publisher interface {
	Publish(subject string, data any) error
}

// Reporter posts the run summary somewhere humans read it.
type Reporter interface {
	PostMessage(ctx context.Context, text string) error
}

// Config holds the per-run limits of the controller.
type Config struct {
	PageSize         int
	MaxConversations int           // 0 = unlimited
	MaxRows          int           // 0 = unlimited
	Lookback         time.Duration // live window length when live starts without backfill
	Boundary         string        // natural boundary unit for the backfill window
	SkipBackfill     bool
	LiveDeadline     time.Duration // 0 = none
	PageDelay        time.Duration
	DryRun           bool
}

// Runner drives one bounded sync run over the current phase.
type Runner struct {
	cfg       Config
	source    Source
	sink      Sink
	cp        *Checkpoints
	publisher Publisher
	reporter  Reporter
	logger    *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewRunner creates a sync runner. Zero config values fall back to a page
// size of 50, a month boundary and a 24h live lookback.
func NewRunner(cfg Config, src Source, sink Sink, cp *Checkpoints, logger *slog.Logger) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Boundary == "" {
		cfg.Boundary = "month"
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	return &Runner{
		cfg:    cfg,
		source: src,
		sink:   sink,
		cp:     cp,
		logger: logger,
		// Checkpoints store whole seconds.
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		sleep:  sleepContext,
	}
}

// WithPublisher sets the bus that receives page and run events.
func (r *Runner) WithPublisher(p Publisher) *Runner {
	r.publisher = p
	return r
}

// WithReporter sets where run summaries are posted.
func (r *Runner) WithReporter(rep Reporter) *Runner {
	r.reporter = rep
	return r
}

// pass is the phase-specific input of the page loop.
type pass struct {
	phase  Phase
	window intercom.Window
	cursor string
}

// Run executes one run starting from st and returns the state as persisted
// at the end. Upstream misses never fail the run; sink and checkpoint
// errors do, leaving the cursor on the page that failed.
func (r *Runner) Run(ctx context.Context, st State) (State, *Summary, error) {
	started := r.now()
	sum := &Summary{RunID: uuid.New().String(), StartedAt: started, DryRun: r.cfg.DryRun}

	p, err := r.begin(ctx, &st, started)
	if err != nil {
		return st, sum, err
	}
	sum.Phase = p.phase
	sum.Window = p.window

	log := r.logger.With("run_id", sum.RunID, "phase", p.phase)
	log.Info("sync run starting",
		"window_start", p.window.Start,
		"window_end", p.window.End,
		"cursor", p.cursor,
	)

	runErr := r.loop(ctx, log, &st, p, sum, started)
	sum.FinishedAt = r.now()
	if runErr != nil {
		sum.StopReason = StopFailed
		sum.Error = runErr.Error()
		log.Error("sync run failed", "error", runErr, "pages", sum.Pages, "rows", sum.Rows)
	} else {
		log.Info("sync run complete",
			"stop_reason", sum.StopReason,
			"pages", sum.Pages,
			"conversations", sum.Conversations,
			"skipped", sum.Skipped,
			"rows", sum.Rows,
			"upserted", sum.Upserted,
			"duration", sum.FinishedAt.Sub(sum.StartedAt),
		)
	}
	r.announce(ctx, log, sum)
	return st, sum, runErr
}

// begin selects the phase and opens or resumes its window.
func (r *Runner) begin(ctx context.Context, st *State, now time.Time) (pass, error) {
	phase := st.Phase()
	if r.cfg.SkipBackfill {
		phase = PhaseLive
	}

	switch phase {
	case PhaseBackfill:
		if !st.Backfill.HasWindow() {
			start, err := NaturalBoundary(now, r.cfg.Boundary)
			if err != nil {
				return pass{}, fmt.Errorf("backfill window: %w", err)
			}
			w := intercom.Window{Start: start, End: now}
			if err := r.cp.OpenWindow(ctx, PhaseBackfill, w); err != nil {
				return pass{}, err
			}
			st.Backfill = Cursor{WindowStart: w.Start, WindowEnd: w.End}
			r.logger.Info("backfill window initialized", "window_start", w.Start, "window_end", w.End)
		}
		return pass{phase: PhaseBackfill, window: st.Backfill.Window(), cursor: st.Backfill.Cursor}, nil

	default:
		live := st.Live
		if live.Cursor == "" {
			// Not mid-pagination: the window can be (re)opened up to now.
			start := now.Add(-r.cfg.Lookback)
			switch {
			case live.consumed():
				start = live.WindowEnd
			case live.HasWindow():
				start = live.WindowStart
			}
			end := now
			if end.Before(start) {
				end = start
			}
			w := intercom.Window{Start: start, End: end}
			if !live.HasWindow() || !w.Start.Equal(live.WindowStart) || !w.End.Equal(live.WindowEnd) {
				if err := r.cp.OpenWindow(ctx, PhaseLive, w); err != nil {
					return pass{}, err
				}
				live.WindowStart, live.WindowEnd = w.Start, w.End
				st.Live = live
			}
		}
		return pass{phase: PhaseLive, window: st.Live.Window(), cursor: st.Live.Cursor}, nil
	}
}

func (r *Runner) loop(ctx context.Context, log *slog.Logger, st *State, p pass, sum *Summary, started time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pageSize := r.cfg.PageSize
		if r.cfg.MaxConversations > 0 {
			remaining := r.cfg.MaxConversations - sum.Conversations
			if remaining <= 0 {
				sum.StopReason = StopConversationCap
				return nil
			}
			pageSize = min(pageSize, remaining)
		}

		res := r.source.SearchConversations(ctx, p.window, pageSize, p.cursor)
		if !res.OK() {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Warn("search failed, ending run with cursor unchanged",
				"cursor", p.cursor,
				"outcome", res.Outcome.String(),
				"status", res.Status,
				"attempts", res.Attempts,
				"error", res.Err,
			)
			sum.StopReason = StopSearchFailed
			return nil
		}
		page := res.Value

		if len(page.Conversations) == 0 {
			return r.exhaust(ctx, log, st, p, sum)
		}

		stats, err := r.processPage(ctx, log, page)
		if err != nil {
			return err
		}
		sum.Pages++
		sum.Conversations += stats.processed + stats.skipped
		sum.Skipped += stats.skipped
		sum.Rows += stats.rows
		sum.Upserted += stats.upserted

		log.Info("page synced",
			"page", sum.Pages,
			"cursor", p.cursor,
			"next_cursor", page.NextCursor,
			"processed", stats.processed,
			"skipped", stats.skipped,
			"rows", stats.rows,
			"upserted", stats.upserted,
		)
		r.publish(log, SubjectRepliesUpserted, PageEvent{
			RunID:           sum.RunID,
			Phase:           p.phase,
			Page:            sum.Pages,
			ConversationIDs: stats.conversationIDs,
			PartIDs:         stats.partIDs,
			Upserted:        stats.upserted,
			DryRun:          r.cfg.DryRun,
		})

		if page.NextCursor == "" {
			return r.exhaust(ctx, log, st, p, sum)
		}
		if err := r.cp.AdvanceCursor(ctx, p.phase, page.NextCursor); err != nil {
			return err
		}
		p.cursor = page.NextCursor
		st.cursor(p.phase).Cursor = page.NextCursor

		if r.cfg.MaxRows > 0 && sum.Rows >= r.cfg.MaxRows {
			sum.StopReason = StopRowCap
			return nil
		}
		if p.phase == PhaseLive && r.cfg.LiveDeadline > 0 && r.now().Sub(started) >= r.cfg.LiveDeadline {
			sum.StopReason = StopDeadline
			return nil
		}
		if r.cfg.MaxConversations > 0 && sum.Conversations >= r.cfg.MaxConversations {
			sum.StopReason = StopConversationCap
			return nil
		}

		if err := r.sleep(ctx, r.cfg.PageDelay); err != nil {
			return err
		}
	}
}

type pageStats struct {
	processed       int
	skipped         int
	rows            int
	upserted        int
	conversationIDs []string
	partIDs         []string
}

// processPage fetches, extracts and upserts one page. Conversations whose
// detail cannot be fetched are skipped.
func (r *Runner) processPage(ctx context.Context, log *slog.Logger, page *intercom.SearchPage) (pageStats, error) {
	var stats pageStats
	var batch []extractor.ReplyRecord

	for _, summary := range page.Conversations {
		res := r.source.GetConversation(ctx, summary.ID)
		if !res.OK() {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			log.Warn("skipping conversation",
				"conversation_id", summary.ID,
				"outcome", res.Outcome.String(),
				"status", res.Status,
				"attempts", res.Attempts,
				"not_found", errors.Is(res.Err, intercom.ErrNotFound),
				"error", res.Err,
			)
			stats.skipped++
			continue
		}

		records := extractor.FromConversation(res.Value)
		log.Debug("conversation extracted", "conversation_id", summary.ID, "records", len(records))
		batch = append(batch, records...)
		stats.processed++
		stats.conversationIDs = append(stats.conversationIDs, summary.ID)
	}

	stats.rows = len(batch)
	for _, rec := range batch {
		stats.partIDs = append(stats.partIDs, rec.PartID)
	}

	n, err := r.sink.UpsertReplies(ctx, batch)
	if err != nil {
		return stats, fmt.Errorf("upsert page: %w", err)
	}
	stats.upserted = n
	return stats, nil
}

// exhaust handles a fully paged window. This is the only place the two
// phases differ.
func (r *Runner) exhaust(ctx context.Context, log *slog.Logger, st *State, p pass, sum *Summary) error {
	switch p.phase {
	case PhaseBackfill:
		live := intercom.Window{Start: p.window.End, End: r.now()}
		if live.End.Before(live.Start) {
			live.End = live.Start
		}
		if err := r.cp.CompleteBackfill(ctx, live); err != nil {
			return err
		}
		st.Backfill.Cursor = ""
		st.Backfill.Complete = true
		st.Live = Cursor{WindowStart: live.Start, WindowEnd: live.End, LastRun: st.Live.LastRun}
		sum.StopReason = StopBackfillComplete
		sum.Transitioned = true
		log.Info("backfill complete, live window seeded",
			"live_window_start", live.Start,
			"live_window_end", live.End,
		)

	default:
		if err := r.cp.FinishLiveWindow(ctx, p.window.End); err != nil {
			return err
		}
		st.Live.Cursor = ""
		st.Live.LastRun = p.window.End
		sum.StopReason = StopWindowExhausted
	}
	return nil
}

func (r *Runner) publish(log *slog.Logger, subject string, data any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(subject, data); err != nil {
		log.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

// announce sends the terminal summary to the event bus and the reporter.
// Delivery failures are logged only.
func (r *Runner) announce(ctx context.Context, log *slog.Logger, sum *Summary) {
	r.publish(log, SubjectRunCompleted, sum)
	if r.reporter == nil {
		return
	}
	if err := r.reporter.PostMessage(context.WithoutCancel(ctx), FormatSummary(sum)); err != nil {
		log.Warn("failed to post run summary", "error", err)
	}
}

func (s *State) cursor(phase Phase) *Cursor {
	if phase == PhaseBackfill {
		return &s.Backfill
	}
	return &s.Live
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
