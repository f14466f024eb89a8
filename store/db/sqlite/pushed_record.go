package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

func (d *DB) CreatePushedRecord(ctx context.Context, create *store.CreatePushedRecord) (*store.PushedRecord, error) {
	if create.Status == "" {
		create.Status = store.PushStatusSuccess
	}
	stmt := `
		INSERT INTO pushed_record (content_id, target_platform, target_id, message_id, status)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, content_id, target_platform, target_id, message_id, status, pushed_ts
	`
	var record store.PushedRecord
	err := d.db.QueryRowContext(ctx, stmt,
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
		return nil, errors.Wrap(err, "failed to create pushed record")
	}
	return &record, nil
}

func (d *DB) ListPushedRecords(ctx context.Context, find *store.FindPushedRecord) ([]*store.PushedRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ContentID != nil {
		where, args = append(where, "content_id = ?"), append(args, *find.ContentID)
	}
	if find.TargetID != nil {
		where, args = append(where, "target_id = ?"), append(args, *find.TargetID)
	}

	query := `SELECT id, content_id, target_platform, target_id, message_id, status, pushed_ts
		FROM pushed_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY pushed_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pushed records")
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
			return nil, errors.Wrap(err, "failed to scan pushed record")
		}
		list = append(list, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate pushed records")
	}
	return list, nil
}

func (d *DB) CountPushedInWindow(ctx context.Context, targetID string, fromTs, toTs int64) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM pushed_record
		WHERE target_id = ? AND status = ? AND pushed_ts >= ? AND pushed_ts <= ?
	`, targetID, store.PushStatusSuccess, fromTs, toTs).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pushed records")
	}
	return count, nil
}

func (d *DB) EarliestPushedTsInWindow(ctx context.Context, targetID string, fromTs, toTs int64) (int64, error) {
	var ts sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT MIN(pushed_ts) FROM pushed_record
		WHERE target_id = ? AND status = ? AND pushed_ts >= ? AND pushed_ts <= ?
	`, targetID, store.PushStatusSuccess, fromTs, toTs).Scan(&ts)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find earliest pushed record")
	}
	return ts.Int64, nil
}

func (d *DB) LatestPushedTs(ctx context.Context, targetID string) (int64, error) {
	var ts sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT MAX(pushed_ts) FROM pushed_record
		WHERE target_id = ? AND status = ?
	`, targetID, store.PushStatusSuccess).Scan(&ts)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find latest pushed record")
	}
	return ts.Int64, nil
}
