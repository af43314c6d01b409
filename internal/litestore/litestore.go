// Package litestore keeps reply records and sync cursors in a single SQLite
// file for local and single-node runs.
package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/replysync/internal/extractor"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS reply_records (
	part_id           TEXT PRIMARY KEY,
	conversation_id   TEXT NOT NULL,
	reply_created_at  INTEGER NOT NULL,
	operator_id       TEXT,
	operator_name     TEXT,
	user_prev_message TEXT,
	operator_message  TEXT NOT NULL,
	tags              TEXT,
	assignee_id       TEXT,
	synced_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS reply_records_conversation_idx ON reply_records (conversation_id);
CREATE TABLE IF NOT EXISTS sync_cursors (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertReplies inserts or overwrites records by part_id in one transaction.
func (s *Store) UpsertReplies(ctx context.Context, records []extractor.ReplyRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reply_records (part_id, conversation_id, reply_created_at, operator_id, operator_name,
			user_prev_message, operator_message, tags, assignee_id, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (part_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			reply_created_at = excluded.reply_created_at,
			operator_id = excluded.operator_id,
			operator_name = excluded.operator_name,
			user_prev_message = excluded.user_prev_message,
			operator_message = excluded.operator_message,
			tags = excluded.tags,
			assignee_id = excluded.assignee_id,
			synced_at = excluded.synced_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	affected := 0
	for _, r := range records {
		var tags any
		if r.Tags != nil {
			encoded, err := json.Marshal(r.Tags)
			if err != nil {
				return 0, fmt.Errorf("marshal tags %s: %w", r.PartID, err)
			}
			tags = string(encoded)
		}
		res, err := stmt.ExecContext(ctx,
			r.PartID, r.ConversationID, r.ReplyCreatedAt.Unix(), nullString(r.OperatorID), nullString(r.OperatorName),
			r.UserPrevMessage, r.OperatorMessage, tags, nullString(r.AssigneeID), now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert reply %s: %w", r.PartID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		affected += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return affected, nil
}

// GetReply fetches a stored record by its natural key.
func (s *Store) GetReply(ctx context.Context, partID string) (*extractor.ReplyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT part_id, conversation_id, reply_created_at, COALESCE(operator_id, ''), COALESCE(operator_name, ''),
			user_prev_message, operator_message, tags, COALESCE(assignee_id, '')
		FROM reply_records WHERE part_id = ?`, partID)

	var (
		r         extractor.ReplyRecord
		createdAt int64
		prev      sql.NullString
		tags      sql.NullString
	)
	if err := row.Scan(&r.PartID, &r.ConversationID, &createdAt, &r.OperatorID, &r.OperatorName,
		&prev, &r.OperatorMessage, &tags, &r.AssigneeID); err != nil {
		return nil, err
	}
	r.ReplyCreatedAt = time.Unix(createdAt, 0).UTC()
	if prev.Valid {
		r.UserPrevMessage = &prev.String
	}
	if tags.Valid {
		if err := json.Unmarshal([]byte(tags.String), &r.Tags); err != nil {
			return nil, fmt.Errorf("parse tags %s: %w", partID, err)
		}
	}
	return &r, nil
}

// CountReplies returns the number of stored reply records.
func (s *Store) CountReplies(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM reply_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return n, nil
}

// Get returns the cursor value stored under key, or "" when absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_cursors WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor %s: %w", key, err)
	}
	return value, nil
}

// Set upserts the cursor value for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", key, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
