// Package taskqueue is the durable parse-task FIFO. Tasks live in the
// task table; claiming is an atomic status flip so multiple consumers
// can share one queue.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

const (
	// schemaVersion is stamped into every payload for forward
	// compatibility of in-flight tasks across deploys.
	schemaVersion = 1

	defaultMaxAttempts = 3
	claimPollInterval  = 500 * time.Millisecond

	// lockTimeoutSec bounds how long a claimed task may sit in running
	// before another consumer may reclaim it.
	lockTimeoutSec = 600
)

// ActionParse asks the parse worker to fetch and normalize a content.
const ActionParse = "parse"

// Payload is the task body carried by a parse task row.
type Payload struct {
	ContentID     int64  `json:"content_id"`
	Action        string `json:"action"`
	Attempt       int32  `json:"attempt"`
	MaxAttempts   int32  `json:"max_attempts"`
	TaskID        string `json:"task_id"`
	SchemaVersion int    `json:"schema_version"`
}

// Queue wraps the task table with enqueue/dequeue semantics.
type Queue struct {
	store     *store.Store
	claimedBy string
}

func NewQueue(st *store.Store) *Queue {
	host, _ := os.Hostname()
	return &Queue{
		store:     st,
		claimedBy: fmt.Sprintf("%s-parse-%s", host, shortuuid.New()[:8]),
	}
}

// Enqueue appends a parse task for the content. Delivery is
// at-least-once; consumers must tolerate duplicates.
func (q *Queue) Enqueue(ctx context.Context, contentID int64, action string) (*store.Task, error) {
	payload := Payload{
		ContentID:     contentID,
		Action:        action,
		MaxAttempts:   defaultMaxAttempts,
		TaskID:        shortuuid.New(),
		SchemaVersion: schemaVersion,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal task payload")
	}
	task, err := q.store.CreateTask(ctx, &store.CreateTask{
		TaskType:   store.TaskTypeParse,
		Payload:    data,
		MaxRetries: defaultMaxAttempts,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to enqueue parse task")
	}
	return task, nil
}

// Dequeue blocks up to timeout for the next claimable task, atomically
// flipping it to running. A running task whose lock expired counts as
// claimable, which makes delivery at-least-once across consumer
// crashes. Returns (nil, nil, nil) when the queue stays empty for the
// whole timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*store.Task, *Payload, error) {
	deadline := time.Now().Add(timeout)
	for {
		task, err := q.store.ClaimNextTask(ctx, &store.ClaimNextTask{
			TaskType:       store.TaskTypeParse,
			ClaimedBy:      q.claimedBy,
			NowTs:          time.Now().Unix(),
			LockTimeoutSec: lockTimeoutSec,
		})
		if err != nil {
			return nil, nil, err
		}
		if task != nil {
			var payload Payload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				// A malformed payload can never be processed; fail the
				// row so it lands in the dead letter bucket.
				q.DeadLetter(ctx, task, "malformed payload: "+err.Error())
				continue
			}
			return task, &payload, nil
		}

		if time.Now().After(deadline) {
			return nil, nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(claimPollInterval):
		}
	}
}

// MarkComplete transitions a running task to completed.
func (q *Queue) MarkComplete(ctx context.Context, taskID int64) error {
	status := store.TaskStatusCompleted
	_, err := q.store.UpdateTask(ctx, &store.UpdateTask{ID: taskID, Status: &status})
	return errors.Wrap(err, "failed to complete task")
}

// DeadLetter marks the task failed terminally with the given reason.
// Failed rows are retained for inspection.
func (q *Queue) DeadLetter(ctx context.Context, task *store.Task, reason string) {
	status := store.TaskStatusFailed
	if _, err := q.store.UpdateTask(ctx, &store.UpdateTask{
		ID:        task.ID,
		Status:    &status,
		LastError: &reason,
	}); err != nil {
		slog.Error("taskqueue: failed to dead-letter task", "task", task.ID, "reason", reason, "error", err)
	}
}
