package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/replysync/internal/intercom"
	"github.com/MikeSquared-Agency/replysync/internal/kv"
)

func TestCheckpoints_LoadEmpty(t *testing.T) {
	st, err := NewCheckpoints(kv.NewMemory()).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Phase() != PhaseBackfill {
		t.Errorf("expected backfill phase on empty state, got %s", st.Phase())
	}
	if st.Backfill.HasWindow() || st.Live.HasWindow() {
		t.Errorf("expected no windows, got %+v", st)
	}
}

func TestCheckpoints_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	cp := NewCheckpoints(mem)

	bw := intercom.Window{Start: time.Unix(1000, 0).UTC(), End: time.Unix(2000, 0).UTC()}
	if err := cp.OpenWindow(ctx, PhaseBackfill, bw); err != nil {
		t.Fatal(err)
	}
	if err := cp.AdvanceCursor(ctx, PhaseBackfill, "page-2"); err != nil {
		t.Fatal(err)
	}

	st, err := cp.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Backfill.WindowStart.Equal(bw.Start) || !st.Backfill.WindowEnd.Equal(bw.End) {
		t.Errorf("unexpected backfill window %+v", st.Backfill)
	}
	if st.Backfill.Cursor != "page-2" {
		t.Errorf("expected cursor page-2, got %q", st.Backfill.Cursor)
	}

	lw := intercom.Window{Start: bw.End, End: time.Unix(2500, 0).UTC()}
	if err := cp.CompleteBackfill(ctx, lw); err != nil {
		t.Fatal(err)
	}
	st, err = cp.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase() != PhaseLive {
		t.Errorf("expected live phase after completion, got %s", st.Phase())
	}
	if st.Backfill.Cursor != "" {
		t.Errorf("expected backfill cursor cleared, got %q", st.Backfill.Cursor)
	}
	if !st.Live.WindowStart.Equal(bw.End) {
		t.Errorf("expected live window to start at backfill end, got %s", st.Live.WindowStart)
	}

	if err := cp.FinishLiveWindow(ctx, lw.End); err != nil {
		t.Fatal(err)
	}
	st, _ = cp.Load(ctx)
	if !st.Live.consumed() {
		t.Errorf("expected live window consumed, got %+v", st.Live)
	}

	snap := mem.Snapshot()
	if snap["replysync.backfill.complete"] != "true" {
		t.Errorf("expected complete flag key, got %v", snap)
	}
	if snap["replysync.live.window"] != "2000,2500" {
		t.Errorf("expected both live bounds in one key, got %q", snap["replysync.live.window"])
	}
	if snap["replysync.live.last_run"] != "2500" {
		t.Errorf("expected last_run 2500, got %q", snap["replysync.live.last_run"])
	}
}

func TestCheckpoints_CorruptState(t *testing.T) {
	tests := []struct {
		name string
		keys map[string]string
	}{
		{"missing start", map[string]string{"replysync.backfill.window": ",100"}},
		{"missing end", map[string]string{"replysync.live.window": "100,"}},
		{"single bound", map[string]string{"replysync.live.window": "100"}},
		{"start after end", map[string]string{"replysync.backfill.window": "200,100"}},
		{"cursor without window", map[string]string{"replysync.live.cursor": "abc"}},
		{"unparsable start", map[string]string{"replysync.backfill.window": "yesterday,100"}},
		{"unparsable complete", map[string]string{
			"replysync.backfill.window":   "100,200",
			"replysync.backfill.complete": "maybe",
		}},
		{"complete without window", map[string]string{"replysync.backfill.complete": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := kv.NewMemory()
			for k, v := range tt.keys {
				mem.Set(ctx, k, v)
			}
			_, err := NewCheckpoints(mem).Load(ctx)
			if !errors.Is(err, ErrCorruptState) {
				t.Errorf("expected ErrCorruptState, got %v", err)
			}
		})
	}
}

func TestCheckpoints_OpenWindowResetsCursor(t *testing.T) {
	ctx := context.Background()
	cp := NewCheckpoints(kv.NewMemory())
	w := intercom.Window{Start: time.Unix(10, 0), End: time.Unix(20, 0)}
	cp.OpenWindow(ctx, PhaseLive, w)
	cp.AdvanceCursor(ctx, PhaseLive, "next")

	cp.OpenWindow(ctx, PhaseLive, intercom.Window{Start: time.Unix(20, 0), End: time.Unix(30, 0)})
	st, err := cp.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Live.Cursor != "" {
		t.Errorf("expected cursor reset, got %q", st.Live.Cursor)
	}
	if st.Live.WindowStart.Unix() != 20 || st.Live.WindowEnd.Unix() != 30 {
		t.Errorf("unexpected window %+v", st.Live)
	}
}
