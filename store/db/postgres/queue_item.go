package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linkhoard/linkhoard/store"
)

const queueItemColumns = `id, content_id, rule_id, bot_chat_id, target_platform, target_id, status, priority,
	scheduled_ts, needs_approval, approved_ts, approved_by, attempt_count, max_attempts, next_attempt_ts,
	locked_ts, locked_by, message_id, last_error, last_error_type, last_error_ts, nsfw_routing_result,
	started_ts, completed_ts, created_ts, updated_ts`

func scanQueueItem(row rowScanner) (*store.ContentQueueItem, error) {
	var item store.ContentQueueItem
	var routing string
	if err := row.Scan(
		&item.ID,
		&item.ContentID,
		&item.RuleID,
		&item.BotChatID,
		&item.TargetPlatform,
		&item.TargetID,
		&item.Status,
		&item.Priority,
		&item.ScheduledTs,
		&item.NeedsApproval,
		&item.ApprovedTs,
		&item.ApprovedBy,
		&item.AttemptCount,
		&item.MaxAttempts,
		&item.NextAttemptTs,
		&item.LockedTs,
		&item.LockedBy,
		&item.MessageID,
		&item.LastError,
		&item.LastErrorType,
		&item.LastErrorTs,
		&routing,
		&item.StartedTs,
		&item.CompletedTs,
		&item.CreatedTs,
		&item.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if routing != "" {
		item.NSFWRoutingResult = json.RawMessage(routing)
	}
	return &item, nil
}

func (db *DB) CreateQueueItem(ctx context.Context, create *store.CreateQueueItem) (*store.ContentQueueItem, error) {
	if create.MaxAttempts <= 0 {
		create.MaxAttempts = 3
	}
	query := `
		INSERT INTO content_queue_item (content_id, rule_id, bot_chat_id, target_platform, target_id,
			status, priority, scheduled_ts, needs_approval, max_attempts, nsfw_routing_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + queueItemColumns
	item, err := scanQueueItem(db.db.QueryRowContext(ctx, query,
		create.ContentID,
		create.RuleID,
		create.BotChatID,
		create.TargetPlatform,
		create.TargetID,
		create.Status,
		create.Priority,
		create.ScheduledTs,
		create.NeedsApproval,
		create.MaxAttempts,
		rawOrEmpty(create.NSFWRoutingResult, ""),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create queue item: %w", err)
	}
	return item, nil
}

func (db *DB) ListQueueItems(ctx context.Context, find *store.FindQueueItem) ([]*store.ContentQueueItem, error) {
	query := "SELECT " + queueItemColumns + " FROM content_queue_item WHERE 1=1"
	var args []interface{}

	if find.ID != nil {
		args = append(args, *find.ID)
		query += fmt.Sprintf(" AND id = $%d", len(args))
	}
	if find.ContentID != nil {
		args = append(args, *find.ContentID)
		query += fmt.Sprintf(" AND content_id = $%d", len(args))
	}
	if find.RuleID != nil {
		args = append(args, *find.RuleID)
		query += fmt.Sprintf(" AND rule_id = $%d", len(args))
	}
	if len(find.RuleIDs) > 0 {
		placeholders := make([]string, 0, len(find.RuleIDs))
		for _, ruleID := range find.RuleIDs {
			args = append(args, ruleID)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += " AND rule_id IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if find.BotChatID != nil {
		args = append(args, *find.BotChatID)
		query += fmt.Sprintf(" AND bot_chat_id = $%d", len(args))
	}
	if find.Status != nil {
		args = append(args, *find.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if len(find.Statuses) > 0 {
		placeholders := make([]string, 0, len(find.Statuses))
		for _, status := range find.Statuses {
			args = append(args, status)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query += " ORDER BY priority DESC, scheduled_ts ASC, id ASC"
	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	list := []*store.ContentQueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		list = append(list, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return list, nil
}

func (db *DB) UpdateQueueItem(ctx context.Context, update *store.UpdateQueueItem) (*store.ContentQueueItem, error) {
	set, args := []string{"updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT"}, []interface{}{}
	addSet := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.Status != nil {
		addSet("status", *update.Status)
	}
	if update.Priority != nil {
		addSet("priority", *update.Priority)
	}
	if update.TargetID != nil {
		addSet("target_id", *update.TargetID)
	}
	if update.ScheduledTs != nil {
		addSet("scheduled_ts", *update.ScheduledTs)
	}
	if update.NeedsApproval != nil {
		addSet("needs_approval", *update.NeedsApproval)
	}
	if update.ApprovedTs != nil {
		addSet("approved_ts", *update.ApprovedTs)
	}
	if update.ApprovedBy != nil {
		addSet("approved_by", *update.ApprovedBy)
	}
	if update.AttemptCount != nil {
		addSet("attempt_count", *update.AttemptCount)
	}
	if update.NextAttemptTs != nil {
		addSet("next_attempt_ts", *update.NextAttemptTs)
	}
	if update.LockedTs != nil {
		addSet("locked_ts", *update.LockedTs)
	}
	if update.LockedBy != nil {
		addSet("locked_by", *update.LockedBy)
	}
	if update.MessageID != nil {
		addSet("message_id", *update.MessageID)
	}
	if update.LastError != nil {
		addSet("last_error", *update.LastError)
	}
	if update.LastErrorType != nil {
		addSet("last_error_type", *update.LastErrorType)
	}
	if update.LastErrorTs != nil {
		addSet("last_error_ts", *update.LastErrorTs)
	}
	if update.NSFWRoutingResult != nil {
		addSet("nsfw_routing_result", rawOrEmpty(*update.NSFWRoutingResult, ""))
	}
	if update.StartedTs != nil {
		addSet("started_ts", *update.StartedTs)
	}
	if update.CompletedTs != nil {
		addSet("completed_ts", *update.CompletedTs)
	}

	args = append(args, update.ID)
	query := "UPDATE content_queue_item SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + queueItemColumns
	item, err := scanQueueItem(db.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("queue item %d not found", update.ID)
		}
		return nil, fmt.Errorf("failed to update queue item: %w", err)
	}
	return item, nil
}

// ClaimQueueItems flips the next batch of due items to processing under the
// caller's lock. FOR UPDATE SKIP LOCKED keeps concurrent claimers from
// racing on the same rows; items with expired locks are reclaimed.
func (db *DB) ClaimQueueItems(ctx context.Context, claim *store.ClaimQueueItems) ([]*store.ContentQueueItem, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT q.id
		FROM content_queue_item q
		JOIN bot_chat b ON b.id = q.bot_chat_id
		WHERE (
			q.status = $1
			OR (q.status = $2 AND q.next_attempt_ts > 0 AND q.next_attempt_ts <= $3)
			OR (q.status = $4 AND q.locked_ts < $5)
		)
		AND q.scheduled_ts <= $3
		AND q.needs_approval = FALSE
		AND (q.locked_ts = 0 OR q.locked_ts < $5)
		AND b.enabled = TRUE
		AND b.is_accessible = TRUE
		ORDER BY q.priority DESC, q.scheduled_ts ASC, q.id ASC
		LIMIT $6
		FOR UPDATE OF q SKIP LOCKED
	`,
		store.QueueItemStatusScheduled,
		store.QueueItemStatusFailed,
		claim.NowTs,
		store.QueueItemStatusProcessing,
		claim.NowTs-claim.LockTimeoutSec,
		claim.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable queue items: %w", err)
	}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan queue item id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue item ids: %w", err)
	}
	if len(ids) == 0 {
		return []*store.ContentQueueItem{}, tx.Commit()
	}

	claimed := make([]*store.ContentQueueItem, 0, len(ids))
	for _, id := range ids {
		item, err := scanQueueItem(tx.QueryRowContext(ctx, `
			UPDATE content_queue_item
			SET status = $1,
				locked_ts = $2,
				locked_by = $3,
				started_ts = CASE WHEN started_ts = 0 THEN $2 ELSE started_ts END,
				updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT
			WHERE id = $4
			RETURNING `+queueItemColumns,
			store.QueueItemStatusProcessing,
			claim.NowTs,
			claim.WorkerName,
			id,
		))
		if err != nil {
			return nil, fmt.Errorf("failed to lock queue item: %w", err)
		}
		claimed = append(claimed, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return claimed, nil
}

func (db *DB) MaxQueueItemScheduledTs(ctx context.Context, find *store.MaxScheduledTs) (int64, error) {
	var ts sql.NullInt64
	err := db.db.QueryRowContext(ctx, `
		SELECT MAX(scheduled_ts)
		FROM content_queue_item
		WHERE rule_id = $1 AND bot_chat_id = $2 AND status IN ($3, $4, $5, $6)
	`,
		find.RuleID,
		find.BotChatID,
		store.QueueItemStatusPending,
		store.QueueItemStatusScheduled,
		store.QueueItemStatusProcessing,
		store.QueueItemStatusFailed,
	).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to find max scheduled_ts: %w", err)
	}
	return ts.Int64, nil
}
