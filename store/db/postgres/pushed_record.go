package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/linkhoard/linkhoard/store"
)

func (db *DB) CreatePushedRecord(ctx context.Context, create *store.CreatePushedRecord) (*store.PushedRecord, error) {
	if create.Status == "" {
		create.Status = store.PushStatusSuccess
	}
	query := `
		INSERT INTO pushed_record (content_id, target_platform, target_id, message_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, content_id, target_platform, target_id, message_id, status, pushed_ts
	`
	var record store.PushedRecord
	err := db.db.QueryRowContext(ctx, query,
		create.ContentID,
		create.TargetPlatform,
		create.TargetID,
		create.MessageID,
		create.Status,
	).Scan(
		&record.ID,
		&record.ContentID,
		&record.TargetPlatform,
		&record.TargetID,
		&record.MessageID,
		&record.Status,
		&record.PushedTs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pushed record: %w", err)
	}
	return &record, nil
}

func (db *DB) ListPushedRecords(ctx context.Context, find *store.FindPushedRecord) ([]*store.PushedRecord, error) {
	query := `
		SELECT id, content_id, target_platform, target_id, message_id, status, pushed_ts
		FROM pushed_record
		WHERE 1=1
	`
	var args []interface{}

	if find.ContentID != nil {
		args = append(args, *find.ContentID)
		query += fmt.Sprintf(" AND content_id = $%d", len(args))
	}
	if find.TargetID != nil {
		args = append(args, *find.TargetID)
		query += fmt.Sprintf(" AND target_id = $%d", len(args))
	}

	query += " ORDER BY pushed_ts DESC, id DESC"
	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pushed records: %w", err)
	}
	defer rows.Close()

	list := []*store.PushedRecord{}
	for rows.Next() {
		var record store.PushedRecord
		if err := rows.Scan(
			&record.ID,
			&record.ContentID,
			&record.TargetPlatform,
			&record.TargetID,
			&record.MessageID,
			&record.Status,
			&record.PushedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pushed record: %w", err)
		}
		list = append(list, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pushed records: %w", err)
	}
	return list, nil
}

func (db *DB) CountPushedInWindow(ctx context.Context, targetID string, fromTs, toTs int64) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM pushed_record
		WHERE target_id = $1 AND status = $2 AND pushed_ts >= $3 AND pushed_ts <= $4
	`, targetID, store.PushStatusSuccess, fromTs, toTs).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pushed records: %w", err)
	}
	return count, nil
}

func (db *DB) EarliestPushedTsInWindow(ctx context.Context, targetID string, fromTs, toTs int64) (int64, error) {
	var ts sql.NullInt64
	err := db.db.QueryRowContext(ctx, `
		SELECT MIN(pushed_ts) FROM pushed_record
		WHERE target_id = $1 AND status = $2 AND pushed_ts >= $3 AND pushed_ts <= $4
	`, targetID, store.PushStatusSuccess, fromTs, toTs).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to find earliest pushed record: %w", err)
	}
	return ts.Int64, nil
}

func (db *DB) LatestPushedTs(ctx context.Context, targetID string) (int64, error) {
	var ts sql.NullInt64
	err := db.db.QueryRowContext(ctx, `
		SELECT MAX(pushed_ts) FROM pushed_record
		WHERE target_id = $1 AND status = $2
	`, targetID, store.PushStatusSuccess).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to find latest pushed record: %w", err)
	}
	return ts.Int64, nil
}
