package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/replysync/internal/extractor"
)

const upsertReplySQL = `
	INSERT INTO reply_records (part_id, conversation_id, reply_created_at, operator_id, operator_name,
		user_prev_message, operator_message, tags, assignee_id, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (part_id)
	DO UPDATE SET
		conversation_id = EXCLUDED.conversation_id,
		reply_created_at = EXCLUDED.reply_created_at,
		operator_id = EXCLUDED.operator_id,
		operator_name = EXCLUDED.operator_name,
		user_prev_message = EXCLUDED.user_prev_message,
		operator_message = EXCLUDED.operator_message,
		tags = EXCLUDED.tags,
		assignee_id = EXCLUDED.assignee_id,
		synced_at = now()`

// UpsertReplies inserts or overwrites records by part_id in one transaction
// and returns the number of rows affected. An empty batch is a no-op.
func (s *Store) UpsertReplies(ctx context.Context, records []extractor.ReplyRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(upsertReplySQL,
			r.PartID, r.ConversationID, r.ReplyCreatedAt, nullIfEmpty(r.OperatorID), nullIfEmpty(r.OperatorName),
			r.UserPrevMessage, r.OperatorMessage, r.Tags, nullIfEmpty(r.AssigneeID),
		)
	}

	results := tx.SendBatch(ctx, batch)
	affected := 0
	for _, r := range records {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("upsert reply %s: %w", r.PartID, err)
		}
		affected += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return affected, nil
}

// GetReply fetches a stored record by its natural key.
func (s *Store) GetReply(ctx context.Context, partID string) (*extractor.ReplyRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT part_id, conversation_id, reply_created_at, COALESCE(operator_id, ''), COALESCE(operator_name, ''),
			user_prev_message, operator_message, tags, COALESCE(assignee_id, '')
		FROM reply_records WHERE part_id = $1`, partID)

	var r extractor.ReplyRecord
	err := row.Scan(&r.PartID, &r.ConversationID, &r.ReplyCreatedAt, &r.OperatorID, &r.OperatorName,
		&r.UserPrevMessage, &r.OperatorMessage, &r.Tags, &r.AssigneeID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountReplies returns the number of stored reply records.
func (s *Store) CountReplies(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM reply_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
