package taskqueue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/store"
	"github.com/linkhoard/linkhoard/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "linkhoard_test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	queue := NewQueue(st)

	created, err := queue.Enqueue(ctx, 42, ActionParse)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusPending, created.Status)

	task, payload, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, created.ID, task.ID)
	assert.Equal(t, store.TaskStatusRunning, task.Status)
	assert.NotEmpty(t, task.ClaimedBy)
	assert.Equal(t, int64(42), payload.ContentID)
	assert.Equal(t, ActionParse, payload.Action)
	assert.NotEmpty(t, payload.TaskID)
	assert.Equal(t, schemaVersion, payload.SchemaVersion)
}

func TestQueue_DequeueFIFO(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(newTestStore(t))

	first, err := queue.Enqueue(ctx, 1, ActionParse)
	require.NoError(t, err)
	second, err := queue.Enqueue(ctx, 2, ActionParse)
	require.NoError(t, err)

	a, _, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	b, _, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	assert.Equal(t, first.ID, a.ID)
	assert.Equal(t, second.ID, b.ID)
}

func TestQueue_DequeueEmptyTimesOut(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(newTestStore(t))

	start := time.Now()
	task, payload, err := queue.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Nil(t, payload)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestQueue_MarkComplete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	queue := NewQueue(st)

	_, err := queue.Enqueue(ctx, 1, ActionParse)
	require.NoError(t, err)
	task, _, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, queue.MarkComplete(ctx, task.ID))

	// A completed task is not claimable again.
	again, _, err := queue.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueue_DeadLetter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	queue := NewQueue(st)

	_, err := queue.Enqueue(ctx, 1, ActionParse)
	require.NoError(t, err)
	task, _, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	queue.DeadLetter(ctx, task, "adapter gone")

	failed := store.TaskStatusFailed
	rows, err := st.ListTasks(ctx, &store.FindTask{Status: &failed})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "adapter gone", rows[0].LastError)
}

func TestQueue_ReclaimsExpiredRunningTask(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	queue := NewQueue(st)

	created, err := queue.Enqueue(ctx, 42, ActionParse)
	require.NoError(t, err)

	// First consumer claims the task and then dies before completing it.
	claimed, _, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, store.TaskStatusRunning, claimed.Status)

	// While the lock is fresh the row stays invisible.
	now := time.Now().Unix()
	task, err := st.ClaimNextTask(ctx, &store.ClaimNextTask{
		TaskType:       store.TaskTypeParse,
		ClaimedBy:      "second-consumer",
		NowTs:          now,
		LockTimeoutSec: lockTimeoutSec,
	})
	require.NoError(t, err)
	assert.Nil(t, task)

	// Once the lock expires the row is redelivered.
	task, err = st.ClaimNextTask(ctx, &store.ClaimNextTask{
		TaskType:       store.TaskTypeParse,
		ClaimedBy:      "second-consumer",
		NowTs:          now + lockTimeoutSec + 1,
		LockTimeoutSec: lockTimeoutSec,
	})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, created.ID, task.ID)
	assert.Equal(t, store.TaskStatusRunning, task.Status)
	assert.Equal(t, "second-consumer", task.ClaimedBy)

	// Completed rows are never reclaimed.
	require.NoError(t, queue.MarkComplete(ctx, task.ID))
	task, err = st.ClaimNextTask(ctx, &store.ClaimNextTask{
		TaskType:       store.TaskTypeParse,
		ClaimedBy:      "third-consumer",
		NowTs:          now + 10*lockTimeoutSec,
		LockTimeoutSec: lockTimeoutSec,
	})
	require.NoError(t, err)
	assert.Nil(t, task)
}
