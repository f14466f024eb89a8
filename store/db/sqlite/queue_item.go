package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

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

func (d *DB) CreateQueueItem(ctx context.Context, create *store.CreateQueueItem) (*store.ContentQueueItem, error) {
	if create.MaxAttempts <= 0 {
		create.MaxAttempts = 3
	}
	stmt := `
		INSERT INTO content_queue_item (content_id, rule_id, bot_chat_id, target_platform, target_id,
			status, priority, scheduled_ts, needs_approval, max_attempts, nsfw_routing_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + queueItemColumns
	item, err := scanQueueItem(d.db.QueryRowContext(ctx, stmt,
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
		return nil, errors.Wrap(err, "failed to create queue item")
	}
	return item, nil
}

func (d *DB) ListQueueItems(ctx context.Context, find *store.FindQueueItem) ([]*store.ContentQueueItem, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.ContentID != nil {
		where, args = append(where, "content_id = ?"), append(args, *find.ContentID)
	}
	if find.RuleID != nil {
		where, args = append(where, "rule_id = ?"), append(args, *find.RuleID)
	}
	if len(find.RuleIDs) > 0 {
		placeholders := make([]string, 0, len(find.RuleIDs))
		for _, ruleID := range find.RuleIDs {
			placeholders = append(placeholders, "?")
			args = append(args, ruleID)
		}
		where = append(where, "rule_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if find.BotChatID != nil {
		where, args = append(where, "bot_chat_id = ?"), append(args, *find.BotChatID)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, *find.Status)
	}
	if len(find.Statuses) > 0 {
		placeholders := make([]string, 0, len(find.Statuses))
		for _, status := range find.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, status)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT " + queueItemColumns + " FROM content_queue_item WHERE " + strings.Join(where, " AND ") +
		" ORDER BY priority DESC, scheduled_ts ASC, id ASC"
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queue items")
	}
	defer rows.Close()

	list := []*store.ContentQueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan queue item")
		}
		list = append(list, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate queue items")
	}
	return list, nil
}

func (d *DB) UpdateQueueItem(ctx context.Context, update *store.UpdateQueueItem) (*store.ContentQueueItem, error) {
	set, args := []string{"updated_ts = strftime('%s', 'now')"}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, *update.Status)
	}
	if update.Priority != nil {
		set, args = append(set, "priority = ?"), append(args, *update.Priority)
	}
	if update.TargetID != nil {
		set, args = append(set, "target_id = ?"), append(args, *update.TargetID)
	}
	if update.ScheduledTs != nil {
		set, args = append(set, "scheduled_ts = ?"), append(args, *update.ScheduledTs)
	}
	if update.NeedsApproval != nil {
		set, args = append(set, "needs_approval = ?"), append(args, *update.NeedsApproval)
	}
	if update.ApprovedTs != nil {
		set, args = append(set, "approved_ts = ?"), append(args, *update.ApprovedTs)
	}
	if update.ApprovedBy != nil {
		set, args = append(set, "approved_by = ?"), append(args, *update.ApprovedBy)
	}
	if update.AttemptCount != nil {
		set, args = append(set, "attempt_count = ?"), append(args, *update.AttemptCount)
	}
	if update.NextAttemptTs != nil {
		set, args = append(set, "next_attempt_ts = ?"), append(args, *update.NextAttemptTs)
	}
	if update.LockedTs != nil {
		set, args = append(set, "locked_ts = ?"), append(args, *update.LockedTs)
	}
	if update.LockedBy != nil {
		set, args = append(set, "locked_by = ?"), append(args, *update.LockedBy)
	}
	if update.MessageID != nil {
		set, args = append(set, "message_id = ?"), append(args, *update.MessageID)
	}
	if update.LastError != nil {
		set, args = append(set, "last_error = ?"), append(args, *update.LastError)
	}
	if update.LastErrorType != nil {
		set, args = append(set, "last_error_type = ?"), append(args, *update.LastErrorType)
	}
	if update.LastErrorTs != nil {
		set, args = append(set, "last_error_ts = ?"), append(args, *update.LastErrorTs)
	}
	if update.NSFWRoutingResult != nil {
		set, args = append(set, "nsfw_routing_result = ?"), append(args, rawOrEmpty(*update.NSFWRoutingResult, ""))
	}
	if update.StartedTs != nil {
		set, args = append(set, "started_ts = ?"), append(args, *update.StartedTs)
	}
	if update.CompletedTs != nil {
		set, args = append(set, "completed_ts = ?"), append(args, *update.CompletedTs)
	}

	args = append(args, update.ID)
	stmt := "UPDATE content_queue_item SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING " + queueItemColumns
	item, err := scanQueueItem(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("queue item %d not found", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update queue item")
	}
	return item, nil
}

// ClaimQueueItems selects the next batch of due items and flips them to
// processing under the caller's lock, all within one transaction. Items
// with expired locks are reclaimed as if the previous attempt timed out.
func (d *DB) ClaimQueueItems(ctx context.Context, claim *store.ClaimQueueItems) ([]*store.ContentQueueItem, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT q.id
		FROM content_queue_item q
		JOIN bot_chat b ON b.id = q.bot_chat_id
		WHERE (
			q.status = ?
			OR (q.status = ? AND q.next_attempt_ts > 0 AND q.next_attempt_ts <= ?)
			OR (q.status = ? AND q.locked_ts < ?)
		)
		AND q.scheduled_ts <= ?
		AND q.needs_approval = 0
		AND (q.locked_ts = 0 OR q.locked_ts < ?)
		AND b.enabled = 1
		AND b.is_accessible = 1
		ORDER BY q.priority DESC, q.scheduled_ts ASC, q.id ASC
		LIMIT ?
	`,
		store.QueueItemStatusScheduled,
		store.QueueItemStatusFailed, claim.NowTs,
		store.QueueItemStatusProcessing, claim.NowTs-claim.LockTimeoutSec,
		claim.NowTs,
		claim.NowTs-claim.LockTimeoutSec,
		claim.Limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select claimable queue items")
	}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan queue item id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate queue item ids")
	}
	if len(ids) == 0 {
		return []*store.ContentQueueItem{}, tx.Commit()
	}

	claimed := make([]*store.ContentQueueItem, 0, len(ids))
	for _, id := range ids {
		item, err := scanQueueItem(tx.QueryRowContext(ctx, `
			UPDATE content_queue_item
			SET status = ?,
				locked_ts = ?,
				locked_by = ?,
				started_ts = CASE WHEN started_ts = 0 THEN ? ELSE started_ts END,
				updated_ts = strftime('%s', 'now')
			WHERE id = ?
			RETURNING `+queueItemColumns,
			store.QueueItemStatusProcessing,
			claim.NowTs,
			claim.WorkerName,
			claim.NowTs,
			id,
		))
		if err != nil {
			return nil, errors.Wrap(err, "failed to lock queue item")
		}
		claimed = append(claimed, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim transaction")
	}
	return claimed, nil
}

func (d *DB) MaxQueueItemScheduledTs(ctx context.Context, find *store.MaxScheduledTs) (int64, error) {
	var ts sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT MAX(scheduled_ts)
		FROM content_queue_item
		WHERE rule_id = ? AND bot_chat_id = ? AND status IN (?, ?, ?, ?)
	`,
		find.RuleID,
		find.BotChatID,
		store.QueueItemStatusPending,
		store.QueueItemStatusScheduled,
		store.QueueItemStatusProcessing,
		store.QueueItemStatusFailed,
	).Scan(&ts)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find max scheduled_ts")
	}
	return ts.Int64, nil
}
