package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/replysync/internal/intercom"
	"github.com/MikeSquared-Agency/replysync/internal/kv"
)

// ErrCorruptState is returned when persisted cursor keys form an invalid
// combination, such as a window that ends before it starts.
var ErrCorruptState = errors.New("corrupt sync state")

type Phase string

const (
	PhaseBackfill Phase = "backfill"
	PhaseLive     Phase = "live"
)

const keyPrefix = "replysync."

const (
	keyWindow   = "window" // "<start>,<end>" in unix seconds
	keyCursor   = "cursor"
	keyComplete = "complete"
	keyLastRun  = "last_run"
)

// Cursor is the persisted position of one phase.
type Cursor struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Cursor      string    `json:"cursor,omitempty"`   // "" = start of window
	Complete    bool      `json:"complete,omitempty"` // backfill only
	LastRun     time.Time `json:"last_run"`           // live only: end of the last consumed window
}

func (c Cursor) HasWindow() bool { return !c.WindowStart.IsZero() }

func (c Cursor) Window() intercom.Window {
	return intercom.Window{Start: c.WindowStart, End: c.WindowEnd}
}

// consumed reports whether the current window was paged to exhaustion.
func (c Cursor) consumed() bool {
	return c.HasWindow() && c.Cursor == "" && !c.LastRun.IsZero() && !c.LastRun.Before(c.WindowEnd)
}

// State is the whole checkpoint: one cursor per phase.
type State struct {
	Backfill Cursor `json:"backfill"`
	Live     Cursor `json:"live"`
}

// Phase is Live once backfill has completed; completion is never reverted.
func (s State) Phase() Phase {
	if s.Backfill.Complete {
		return PhaseLive
	}
	return PhaseBackfill
}

// Checkpoints reads and writes State through a kv.Store, one key per field.
type Checkpoints struct {
	store kv.Store
}

func NewCheckpoints(store kv.Store) *Checkpoints {
	return &Checkpoints{store: store}
}

func key(phase Phase, field string) string {
	return keyPrefix + string(phase) + "." + field
}

// Load reads both phase cursors and validates their combination.
func (c *Checkpoints) Load(ctx context.Context) (State, error) {
	var st State
	var err error
	if st.Backfill, err = c.loadCursor(ctx, PhaseBackfill); err != nil {
		return State{}, err
	}
	if st.Live, err = c.loadCursor(ctx, PhaseLive); err != nil {
		return State{}, err
	}
	return st, nil
}

func (c *Checkpoints) loadCursor(ctx context.Context, phase Phase) (Cursor, error) {
	raw := make(map[string]string, 4)
	for _, field := range []string{keyWindow, keyCursor, keyComplete, keyLastRun} {
		v, err := c.store.Get(ctx, key(phase, field))
		if err != nil {
			return Cursor{}, fmt.Errorf("load %s: %w", key(phase, field), err)
		}
		raw[field] = v
	}

	var cur Cursor
	var err error
	if cur.WindowStart, cur.WindowEnd, err = parseWindow(raw[keyWindow]); err != nil {
		return Cursor{}, fmt.Errorf("%w: %s: %v", ErrCorruptState, key(phase, keyWindow), err)
	}
	if cur.LastRun, err = parseUnix(raw[keyLastRun]); err != nil {
		return Cursor{}, fmt.Errorf("%w: %s: %v", ErrCorruptState, key(phase, keyLastRun), err)
	}
	if raw[keyComplete] != "" {
		if cur.Complete, err = strconv.ParseBool(raw[keyComplete]); err != nil {
			return Cursor{}, fmt.Errorf("%w: %s: %v", ErrCorruptState, key(phase, keyComplete), err)
		}
	}
	cur.Cursor = raw[keyCursor]

	switch {
	case cur.WindowEnd.Before(cur.WindowStart):
		return Cursor{}, fmt.Errorf("%w: %s window ends before it starts", ErrCorruptState, phase)
	case cur.Cursor != "" && !cur.HasWindow():
		return Cursor{}, fmt.Errorf("%w: %s cursor set without a window", ErrCorruptState, phase)
	case phase == PhaseBackfill && cur.Complete && !cur.HasWindow():
		return Cursor{}, fmt.Errorf("%w: backfill complete without a window", ErrCorruptState)
	}
	return cur, nil
}

// OpenWindow persists a new window for phase and resets its pagination
// cursor. The cursor is cleared before the window moves, so a crash in
// between leaves the old window to be re-read from its start. Both bounds
// live in one key and are replaced together.
func (c *Checkpoints) OpenWindow(ctx context.Context, phase Phase, w intercom.Window) error {
	if err := c.set(ctx, phase, keyCursor, ""); err != nil {
		return err
	}
	return c.set(ctx, phase, keyWindow, formatWindow(w))
}

// AdvanceCursor persists the pagination cursor for the next page.
func (c *Checkpoints) AdvanceCursor(ctx context.Context, phase Phase, cursor string) error {
	return c.set(ctx, phase, keyCursor, cursor)
}

// FinishLiveWindow records that the live window ending at end was fully
// paged.
func (c *Checkpoints) FinishLiveWindow(ctx context.Context, end time.Time) error {
	if err := c.set(ctx, PhaseLive, keyCursor, ""); err != nil {
		return err
	}
	return c.set(ctx, PhaseLive, keyLastRun, formatUnix(end))
}

// CompleteBackfill seeds the live window and then flips the backfill
// completion flag. The flag is written last so a crash in between repeats
// the seeding on the next run.
func (c *Checkpoints) CompleteBackfill(ctx context.Context, live intercom.Window) error {
	if err := c.OpenWindow(ctx, PhaseLive, live); err != nil {
		return err
	}
	if err := c.set(ctx, PhaseBackfill, keyCursor, ""); err != nil {
		return err
	}
	return c.set(ctx, PhaseBackfill, keyComplete, "true")
}

func (c *Checkpoints) set(ctx context.Context, phase Phase, field, value string) error {
	if err := c.store.Set(ctx, key(phase, field), value); err != nil {
		return fmt.Errorf("save %s: %w", key(phase, field), err)
	}
	return nil
}

func parseWindow(v string) (start, end time.Time, err error) {
	if v == "" {
		return time.Time{}, time.Time{}, nil
	}
	rawStart, rawEnd, ok := strings.Cut(v, ",")
	if !ok || rawStart == "" || rawEnd == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed window %q", v)
	}
	if start, err = parseUnix(rawStart); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end, err = parseUnix(rawEnd); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func formatWindow(w intercom.Window) string {
	return formatUnix(w.Start) + "," + formatUnix(w.End)
}

func parseUnix(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

func formatUnix(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}
