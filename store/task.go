package store

import "encoding/json"

// TaskStatus tracks the lifecycle of a parse-queue job.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskTypeParse is the only task type the parse worker consumes today.
const TaskTypeParse = "parse"

// Task is a durable parse-queue job. Terminal rows (completed, failed)
// are retained; failed rows double as the dead-letter bucket and carry
// the reason in LastError.
type Task struct {
	ID         int64
	TaskType   string
	Payload    json.RawMessage
	Status     TaskStatus
	RetryCount int32
	MaxRetries int32
	LastError  string
	ClaimedBy  string
	CreatedTs  int64
	UpdatedTs  int64
}

// CreateTask holds the fields for enqueueing a task.
type CreateTask struct {
	TaskType   string
	Payload    json.RawMessage
	MaxRetries int32
}

// FindTask filters task listings.
type FindTask struct {
	ID       *int64
	TaskType *string
	Status   *TaskStatus
	Limit    *int
}

// ClaimNextTask describes one atomic task claim. A running row whose
// updated_ts is older than NowTs-LockTimeoutSec is treated as abandoned
// by a dead consumer and is reclaimable, which keeps delivery
// at-least-once across a crash between claim and completion.
type ClaimNextTask struct {
	TaskType       string
	ClaimedBy      string
	NowTs          int64
	LockTimeoutSec int64
}

// UpdateTask applies a partial update to a task.
type UpdateTask struct {
	ID         int64
	Status     *TaskStatus
	RetryCount *int32
	LastError  *string
	Payload    *json.RawMessage
}
