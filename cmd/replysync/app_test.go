package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/replysync/internal/config"
	"github.com/MikeSquared-Agency/replysync/internal/extractor"
	"github.com/MikeSquared-Agency/replysync/internal/kv"
	"github.com/MikeSquared-Agency/replysync/internal/litestore"
	"github.com/MikeSquared-Agency/replysync/internal/syncer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		IntercomToken:      "tok",
		IntercomAPIVersion: "2.11",
		PageSize:           50,
		MaxConversations:   500,
		Lookback:           24 * time.Hour,
		BackfillBoundary:   "month",
		LiveDeadline:       10 * time.Minute,
		RetryAttempts:      2,
		RetryBase:          time.Millisecond,
		RetryMax:           2 * time.Millisecond,
		Interval:           time.Minute,
	}
}

func TestOpenBackends_DryRun(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DryRun = true
	cfg.DatabaseURL = "postgres://unreachable.invalid/db"

	b, err := openBackends(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("dry run must not connect to the database: %v", err)
	}
	defer b.Close()

	if _, ok := b.sink.(*dryRunSink); !ok {
		t.Errorf("expected dry run sink, got %T", b.sink)
	}
	if _, ok := b.cursors.(*kv.Memory); !ok {
		t.Errorf("expected memory cursors, got %T", b.cursors)
	}
}

func TestOpenBackends_SQLite(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "sync.db")

	b, err := openBackends(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if _, ok := b.sink.(*litestore.Store); !ok {
		t.Errorf("expected sqlite sink, got %T", b.sink)
	}
	if _, ok := b.cursors.(*litestore.Store); !ok {
		t.Errorf("expected sqlite cursors, got %T", b.cursors)
	}
}

func TestOpenBackends_CursorOverride(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t)
	cfg.DatabaseURL = "sqlite://" + filepath.Join(dir, "sync.db")
	cfg.CursorDSN = "file://" + filepath.Join(dir, "cursors.json")

	b, err := openBackends(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	f, ok := b.cursors.(*kv.File)
	if !ok {
		t.Fatalf("expected file cursors, got %T", b.cursors)
	}
	if f.Path() != filepath.Join(dir, "cursors.json") {
		t.Errorf("unexpected cursor path %s", f.Path())
	}
}

func TestOpenBackends_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unsupported database scheme", func(c *config.Config) { c.DatabaseURL = "mysql://localhost/db" }},
		{"unsupported cursor scheme", func(c *config.Config) {
			c.DryRun = true
			c.CursorDSN = "redis://localhost:6379"
		}},
		{"nothing configured", func(c *config.Config) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(t)
			tt.mutate(&cfg)
			if _, err := openBackends(context.Background(), cfg, discardLogger()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDryRunSink_CountsRecords(t *testing.T) {
	s := &dryRunSink{logger: discardLogger()}
	n, err := s.UpsertReplies(context.Background(), []extractor.ReplyRecord{{PartID: "a"}, {PartID: "b"}})
	if err != nil || n != 2 {
		t.Errorf("expected 2 counted records, got %d %v", n, err)
	}
}

// fakeInbox serves one page with two conversations.
func fakeInbox(t *testing.T, searches *atomic.Int32) *httptest.Server {
	t.Helper()
	convs := map[string]string{
		"/conversations/c1": `{
			"id": "c1", "created_at": 100,
			"source": {"id": "s1", "body": "<p>Where is my order?</p>", "author": {"type": "user", "id": "u1"}},
			"conversation_parts": {"conversation_parts": [
				{"id": "p1", "part_type": "comment", "body": "It shipped &amp; arrives Monday.", "created_at": 200, "author": {"type": "admin", "id": "a1", "name": "Sam"}}
			]},
			"tags": {"tags": [{"name": "shipping"}]},
			"admin_assignee_id": 7
		}`,
		"/conversations/c2": `{
			"id": "c2", "created_at": 300,
			"source": {"body": "Hi team", "author": {"type": "teammate", "id": "a2"}}
		}`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/conversations/search":
			if searches.Add(1) == 1 {
				w.Write([]byte(`{"conversations": [{"id": "c1"}, {"id": "c2"}], "pages": {}}`))
				return
			}
			w.Write([]byte(`{"conversations": [], "pages": {}}`))
		case r.Method == http.MethodGet:
			body, ok := convs[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(body))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
}

func TestRunOnce_SQLiteEndToEnd(t *testing.T) {
	var searches atomic.Int32
	server := fakeInbox(t, &searches)
	defer server.Close()

	dbPath := filepath.Join(t.TempDir(), "sync.db")
	cfg := baseConfig(t)
	cfg.IntercomBaseURL = server.URL
	cfg.DatabaseURL = "sqlite://" + dbPath

	ctx := context.Background()
	if err := runOnce(ctx, cfg, discardLogger()); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	// Second run is live and finds nothing new.
	if err := runOnce(ctx, cfg, discardLogger()); err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if searches.Load() != 2 {
		t.Errorf("expected 2 searches, got %d", searches.Load())
	}

	db, err := litestore.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	count, err := db.CountReplies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 replies, got %d", count)
	}

	rec, err := db.GetReply(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.OperatorMessage != "It shipped & arrives Monday." {
		t.Errorf("unexpected operator message %q", rec.OperatorMessage)
	}
	if rec.UserPrevMessage == nil || *rec.UserPrevMessage != "Where is my order?" {
		t.Errorf("unexpected previous user message %v", rec.UserPrevMessage)
	}
	if rec.AssigneeID != "7" || len(rec.Tags) != 1 || rec.Tags[0] != "shipping" {
		t.Errorf("unexpected enrichment %+v", rec)
	}

	// Operator-only conversation: the source gets a synthetic id and no
	// previous user message.
	src, err := db.GetReply(ctx, "c2-source")
	if err != nil {
		t.Fatal(err)
	}
	if src.UserPrevMessage != nil || src.OperatorMessage != "Hi team" {
		t.Errorf("unexpected operator-only record %+v", src)
	}

	st, err := syncer.NewCheckpoints(db).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase() != syncer.PhaseLive || st.Live.LastRun.IsZero() {
		t.Errorf("expected consumed live window after run 2, got %+v", st)
	}
}

func TestRunOnce_CorruptStateFails(t *testing.T) {
	dir := t.TempDir()
	cursorPath := filepath.Join(dir, "cursors.json")
	store := kv.NewFile(cursorPath)
	store.Set(context.Background(), "replysync.backfill.window", "200,100")

	var searches atomic.Int32
	server := fakeInbox(t, &searches)
	defer server.Close()

	cfg := baseConfig(t)
	cfg.IntercomBaseURL = server.URL
	cfg.DatabaseURL = "sqlite://" + filepath.Join(dir, "sync.db")
	cfg.CursorDSN = "file://" + cursorPath

	err := runOnce(context.Background(), cfg, discardLogger())
	if !errors.Is(err, syncer.ErrCorruptState) {
		t.Fatalf("expected corrupt state error, got %v", err)
	}
	if searches.Load() != 0 {
		t.Errorf("corrupt state must fail before any upstream call, got %d searches", searches.Load())
	}
}

func TestStatusCmd_PrintsState(t *testing.T) {
	dir := t.TempDir()
	cursorPath := filepath.Join(dir, "cursors.json")
	ctx := context.Background()
	store := kv.NewFile(cursorPath)
	store.Set(ctx, "replysync.backfill.window", "1000,2000")
	store.Set(ctx, "replysync.backfill.cursor", "page-3")

	t.Setenv("CURSOR_DSN", "file://"+cursorPath)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status"})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("status: %v", err)
	}

	var body struct {
		Phase syncer.Phase `json:"phase"`
		State syncer.State `json:"state"`
	}
	if err := json.Unmarshal(out.Bytes(), &body); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if body.Phase != syncer.PhaseBackfill || body.State.Backfill.Cursor != "page-3" {
		t.Errorf("unexpected status %+v", body)
	}
}

func TestRootCmd_MissingTokenFails(t *testing.T) {
	t.Setenv("INTERCOM_TOKEN", "")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	err := cmd.ExecuteContext(context.Background())
	if !errors.Is(err, config.ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("unexpected error text %q", err)
	}
}
