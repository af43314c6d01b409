package syncer

import (
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/replysync/internal/intercom"
)

const (
	SubjectRepliesUpserted = "swarm.replysync.replies.upserted"
	SubjectRunCompleted    = "swarm.replysync.run.completed"
)

type StopReason string

const (
	StopBackfillComplete StopReason = "backfill_complete"
	StopWindowExhausted  StopReason = "window_exhausted"
	StopConversationCap  StopReason = "conversation_cap"
	StopRowCap           StopReason = "row_cap"
	StopDeadline         StopReason = "deadline"
	StopSearchFailed     StopReason = "search_failed"
	StopFailed           StopReason = "failed"
)

// Summary describes one finished run.
type Summary struct {
	RunID         string          `json:"run_id"`
	Phase         Phase           `json:"phase"`
	Window        intercom.Window `json:"window"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Pages         int             `json:"pages"`
	Conversations int             `json:"conversations"`
	Skipped       int             `json:"skipped"`
	Rows          int             `json:"rows"`
	Upserted      int             `json:"upserted"`
	StopReason    StopReason      `json:"stop_reason"`
	Transitioned  bool            `json:"transitioned,omitempty"`
	DryRun        bool            `json:"dry_run,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// PageEvent is published after each page is upserted.
type PageEvent struct {
	RunID           string   `json:"run_id"`
	Phase           Phase    `json:"phase"`
	Page            int      `json:"page"`
	ConversationIDs []string `json:"conversation_ids"`
	PartIDs         []string `json:"part_ids"`
	Upserted        int      `json:"upserted"`
	DryRun          bool     `json:"dry_run,omitempty"`
}

// FormatSummary renders a run summary as Slack mrkdwn.
func FormatSummary(s *Summary) string {
	var sb strings.Builder
	sb.WriteString("*Reply sync run*")
	if s.DryRun {
		sb.WriteString(" (dry run)")
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Phase: %s | Stop: %s\n", s.Phase, s.StopReason)
	if !s.Window.Start.IsZero() {
		fmt.Fprintf(&sb, "Window: %s → %s\n",
			s.Window.Start.UTC().Format(time.RFC3339),
			s.Window.End.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "Pages: %d | Conversations: %d (%d skipped) | Replies: %d (%d upserted)\n",
		s.Pages, s.Conversations, s.Skipped, s.Rows, s.Upserted)
	if s.Transitioned {
		sb.WriteString("Backfill finished; live sync starts next run.\n")
	}
	if s.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", s.Error)
	}
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "Duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}
	return sb.String()
}
