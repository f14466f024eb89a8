package parser

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/rules"
	"github.com/linkhoard/linkhoard/pipeline/taskqueue"
	"github.com/linkhoard/linkhoard/plugin/adapters"
	"github.com/linkhoard/linkhoard/store"
	"github.com/linkhoard/linkhoard/store/db/sqlite"
)

type stubAdapter struct {
	parse func(ctx context.Context, rawURL string) (*adapters.ParsedContent, error)
}

func (s *stubAdapter) CleanURL(rawURL string) string { return rawURL }

func (s *stubAdapter) Parse(ctx context.Context, rawURL string) (*adapters.ParsedContent, error) {
	return s.parse(ctx, rawURL)
}

type testEnv struct {
	store  *store.Store
	queue  *taskqueue.Queue
	worker *Worker
	stub   *stubAdapter
}

func newTestEnv(t *testing.T) *testEnv {
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

	stub := &stubAdapter{}
	registry := adapters.NewRegistry()
	registry.Register(store.PlatformBilibili, func() adapters.Adapter { return stub })

	engine, err := rules.NewEngine()
	require.NoError(t, err)

	queue := taskqueue.NewQueue(st)
	worker := NewWorker(Options{
		Store:    st,
		Queue:    queue,
		Registry: registry,
		Rules:    engine,
		Bus:      eventbus.NewBus(st),
	})
	return &testEnv{store: st, queue: queue, worker: worker, stub: stub}
}

func (e *testEnv) newContent(t *testing.T, canonicalURL string) *store.Content {
	t.Helper()
	content, err := e.store.CreateContent(context.Background(), &store.CreateContent{
		Platform:     store.PlatformBilibili,
		URL:          canonicalURL,
		CanonicalURL: canonicalURL,
		CleanURL:     canonicalURL,
		Status:       store.ContentStatusUnprocessed,
		ReviewStatus: store.ReviewStatusPending,
		LayoutType:   store.LayoutTypeLink,
	})
	require.NoError(t, err)
	return content
}

func (e *testEnv) runTask(t *testing.T, contentID int64) {
	t.Helper()
	ctx := context.Background()
	_, err := e.queue.Enqueue(ctx, contentID, taskqueue.ActionParse)
	require.NoError(t, err)
	task, payload, err := e.queue.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, e.worker.process(ctx, task, payload))
}

func TestWorker_ParseSuccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	content := env.newContent(t, "https://www.bilibili.com/video/BV1xx411c7Xg")

	env.stub.parse = func(_ context.Context, rawURL string) (*adapters.ParsedContent, error) {
		return &adapters.ParsedContent{
			Platform:    store.PlatformBilibili,
			ContentType: "video",
			ContentID:   "BV1xx411c7Xg",
			CleanURL:    rawURL,
			LayoutType:  store.LayoutTypeVideo,
			Title:       "a video",
			Description: "about something",
			AuthorName:  "uploader",
			PublishedTs: 1700000000,
			Stats:       map[string]int64{"view": 100, "like": 5, "danmaku": 7},
		}, nil
	}

	env.runTask(t, content.ID)

	got, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContentStatusParseSuccess, got.Status)
	assert.Equal(t, "BV1xx411c7Xg", got.PlatformID)
	assert.Equal(t, store.LayoutTypeVideo, got.LayoutType)
	assert.Equal(t, "a video", got.Title)
	assert.Equal(t, "about something", got.Summary)
	assert.Equal(t, int64(100), got.ViewCount)
	assert.Equal(t, int64(5), got.LikeCount)
	assert.Equal(t, int64(7), got.ExtraStats["danmaku"])
	assert.Empty(t, got.LastError)
	assert.Zero(t, got.FailureCount)

	tasks, err := env.store.ListTasks(ctx, &store.FindTask{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.TaskStatusCompleted, tasks[0].Status)
}

func TestWorker_ParseNonRetryableFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	content := env.newContent(t, "https://www.bilibili.com/video/BV1deleted000")

	attempts := 0
	env.stub.parse = func(context.Context, string) (*adapters.ParsedContent, error) {
		attempts++
		return nil, adapters.NonRetryable(assert.AnError)
	}

	env.runTask(t, content.ID)

	assert.Equal(t, 1, attempts)

	got, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContentStatusParseFailed, got.Status)
	assert.Equal(t, int32(1), got.FailureCount)
	assert.Equal(t, "non_retryable", got.LastErrorType)
	assert.NotEmpty(t, got.LastError)
	assert.NotZero(t, got.LastErrorTs)

	// The task lands in the dead letter bucket.
	tasks, err := env.store.ListTasks(ctx, &store.FindTask{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.TaskStatusFailed, tasks[0].Status)
	assert.NotEmpty(t, tasks[0].LastError)
}

func TestWorker_RetryableThenSuccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	content := env.newContent(t, "https://www.bilibili.com/video/BV1flaky00000")

	attempts := 0
	env.stub.parse = func(context.Context, string) (*adapters.ParsedContent, error) {
		attempts++
		if attempts == 1 {
			return nil, adapters.Retryable(assert.AnError)
		}
		return &adapters.ParsedContent{ContentType: "video", ContentID: "BV1flaky00000"}, nil
	}

	env.runTask(t, content.ID)

	assert.Equal(t, 2, attempts)
	got, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContentStatusParseSuccess, got.Status)
}

func TestWorker_MissingContentCompletesTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.queue.Enqueue(ctx, 424242, taskqueue.ActionParse)
	require.NoError(t, err)
	task, payload, err := env.queue.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, env.worker.process(ctx, task, payload))

	tasks, err := env.store.ListTasks(ctx, &store.FindTask{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.TaskStatusCompleted, tasks[0].Status)
}

func TestWorker_AlreadyParsedIsNoOp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	content := env.newContent(t, "https://www.bilibili.com/video/BV1done000000")

	success := store.ContentStatusParseSuccess
	_, err := env.store.UpdateContent(ctx, &store.UpdateContent{ID: content.ID, Status: &success})
	require.NoError(t, err)

	env.stub.parse = func(context.Context, string) (*adapters.ParsedContent, error) {
		t.Fatal("adapter must not run for parsed content")
		return nil, nil
	}

	env.runTask(t, content.ID)

	got, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContentStatusParseSuccess, got.Status)
}

func TestWorker_AutoApprove(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	content := env.newContent(t, "https://www.bilibili.com/video/BV1auto000000")

	_, err := env.store.CreateDistributionRule(ctx, &store.CreateDistributionRule{
		Name:                  "bilibili auto",
		Enabled:               true,
		AutoApproveConditions: json.RawMessage(`{"platform":"bilibili"}`),
	})
	require.NoError(t, err)

	env.stub.parse = func(context.Context, string) (*adapters.ParsedContent, error) {
		return &adapters.ParsedContent{ContentType: "video", ContentID: "BV1auto000000"}, nil
	}

	env.runTask(t, content.ID)

	got, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReviewStatusAutoApproved, got.ReviewStatus)
}
