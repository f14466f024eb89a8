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

func (db *DB) CreateTask(ctx context.Context, create *store.CreateTask) (*store.Task, error) {
	if create.MaxRetries <= 0 {
		create.MaxRetries = 3
	}
	query := `
		INSERT INTO task (task_type, payload, max_retries)
		VALUES ($1, $2, $3)
		RETURNING ` + taskColumns
	task, err := scanTask(db.db.QueryRowContext(ctx, query,
		create.TaskType,
		rawOrEmpty(create.Payload, "{}"),
		create.MaxRetries,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// ClaimNextTask atomically flips the oldest claimable task of the given type
// to running. SKIP LOCKED on the inner select keeps concurrent claimers from
// blocking each other; running rows with an expired lock are claimable again
// so a consumer that died mid-task does not strand the row. Returns nil when
// the queue is empty.
func (db *DB) ClaimNextTask(ctx context.Context, claim *store.ClaimNextTask) (*store.Task, error) {
	task, err := scanTask(db.db.QueryRowContext(ctx, `
		UPDATE task
		SET status = $1, claimed_by = $2, updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT
		WHERE id = (
			SELECT id FROM task
			WHERE task_type = $3
			AND (status = $4 OR (status = $5 AND updated_ts < $6))
			ORDER BY id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
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
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return task, nil
}

func (db *DB) ListTasks(ctx context.Context, find *store.FindTask) ([]*store.Task, error) {
	query := "SELECT " + taskColumns + " FROM task WHERE 1=1"
	var args []interface{}

	if find.ID != nil {
		args = append(args, *find.ID)
		query += fmt.Sprintf(" AND id = $%d", len(args))
	}
	if find.TaskType != nil {
		args = append(args, *find.TaskType)
		query += fmt.Sprintf(" AND task_type = $%d", len(args))
	}
	if find.Status != nil {
		args = append(args, *find.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY id ASC"
	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	list := []*store.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		list = append(list, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return list, nil
}

func (db *DB) UpdateTask(ctx context.Context, update *store.UpdateTask) (*store.Task, error) {
	set, args := []string{"updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT"}, []interface{}{}
	addSet := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.Status != nil {
		addSet("status", *update.Status)
	}
	if update.RetryCount != nil {
		addSet("retry_count", *update.RetryCount)
	}
	if update.LastError != nil {
		addSet("last_error", *update.LastError)
	}
	if update.Payload != nil {
		addSet("payload", rawOrEmpty(*update.Payload, "{}"))
	}

	args = append(args, update.ID)
	query := "UPDATE task SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + taskColumns
	task, err := scanTask(db.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %d not found", update.ID)
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}
