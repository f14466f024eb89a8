package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

const taskColumns = `id, task_type, payload, status, retry_count, max_retries, last_error, claimed_by, created_ts, updated_ts`

func scanTask(row rowScanner) (*store.Task, error) {
	var task store.Task
	var payload string
	if err := row.Scan(
		&task.ID,
		&task.TaskType,
		&payload,
		&task.Status,
		&task.RetryCount,
		&task.MaxRetries,
		&task.LastError,
		&task.ClaimedBy,
		&task.CreatedTs,
		&task.UpdatedTs,
	); err != nil {
		return nil, err
	}
	task.Payload = json.RawMessage(payload)
	return &task, nil
}

func (d *DB) CreateTask(ctx context.Context, create *store.CreateTask) (*store.Task, error) {
	if create.MaxRetries <= 0 {
		create.MaxRetries = 3
	}
	stmt := `
		INSERT INTO task (task_type, payload, max_retries)
		VALUES (?, ?, ?)
		RETURNING ` + taskColumns
	task, err := scanTask(d.db.QueryRowContext(ctx, stmt,
		create.TaskType,
		rawOrEmpty(create.Payload, "{}"),
		create.MaxRetries,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create task")
	}
	return task, nil
}

// ClaimNextTask atomically flips the oldest claimable task of the given
// type to running and returns it. Running rows whose lock expired are
// claimable again, so a consumer that died mid-task does not strand the
// row. Returns nil when the queue is empty.
func (d *DB) ClaimNextTask(ctx context.Context, claim *store.ClaimNextTask) (*store.Task, error) {
	task, err := scanTask(d.db.QueryRowContext(ctx, `
		UPDATE task
		SET status = ?, claimed_by = ?, updated_ts = strftime('%s', 'now')
		WHERE id = (
			SELECT id FROM task
			WHERE task_type = ?
			AND (status = ? OR (status = ? AND updated_ts < ?))
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING `+taskColumns,
		store.TaskStatusRunning,
		claim.ClaimedBy,
		claim.TaskType,
		store.TaskStatusPending,
		store.TaskStatusRunning, claim.NowTs-claim.LockTimeoutSec,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to claim task")
	}
	return task, nil
}

func (d *DB) ListTasks(ctx context.Context, find *store.FindTask) ([]*store.Task, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.TaskType != nil {
		where, args = append(where, "task_type = ?"), append(args, *find.TaskType)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, *find.Status)
	}

	query := "SELECT " + taskColumns + " FROM task WHERE " + strings.Join(where, " AND ") + " ORDER BY id ASC"
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	list := []*store.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		list = append(list, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate tasks")
	}
	return list, nil
}

func (d *DB) UpdateTask(ctx context.Context, update *store.UpdateTask) (*store.Task, error) {
	set, args := []string{"updated_ts = strftime('%s', 'now')"}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, *update.Status)
	}
	if update.RetryCount != nil {
		set, args = append(set, "retry_count = ?"), append(args, *update.RetryCount)
	}
	if update.LastError != nil {
		set, args = append(set, "last_error = ?"), append(args, *update.LastError)
	}
	if update.Payload != nil {
		set, args = append(set, "payload = ?"), append(args, rawOrEmpty(*update.Payload, "{}"))
	}

	args = append(args, update.ID)
	stmt := "UPDATE task SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING " + taskColumns
	task, err := scanTask(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("task %d not found", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update task")
	}
	return task, nil
}
