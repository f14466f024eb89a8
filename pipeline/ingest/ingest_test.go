package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/taskqueue"
	"github.com/linkhoard/linkhoard/plugin/adapters"
	"github.com/linkhoard/linkhoard/store"
	"github.com/linkhoard/linkhoard/store/db/sqlite"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
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

	service := NewService(st, adapters.NewRegistry(), taskqueue.NewQueue(st), eventbus.NewBus(st), nil)
	return service, st
}

func TestService_Ingest(t *testing.T) {
	ctx := context.Background()
	service, st := newTestService(t)

	result, err := service.Ingest(ctx, &Submission{
		URL:      "https://www.bilibili.com/video/BV1xx411c7Xg?spm_id_from=333.999",
		SharedBy: "alice",
		Channel:  "telegram",
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, store.PlatformBilibili, result.Content.Platform)
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7Xg", result.Content.CanonicalURL)
	assert.Equal(t, store.ContentStatusUnprocessed, result.Content.Status)
	assert.Equal(t, store.ReviewStatusPending, result.Content.ReviewStatus)

	// A parse task is scheduled for the new content.
	queue := taskqueue.NewQueue(st)
	task, payload, err := queue.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, result.Content.ID, payload.ContentID)
	assert.Equal(t, taskqueue.ActionParse, payload.Action)

	// The submission trail is recorded.
	sources, err := st.ListContentSources(ctx, &store.FindContentSource{ContentID: &result.Content.ID})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "alice", sources[0].SharedBy)
}

func TestService_IngestDedup(t *testing.T) {
	ctx := context.Background()
	service, st := newTestService(t)

	first, err := service.Ingest(ctx, &Submission{URL: "https://www.bilibili.com/video/BV1xx411c7Xg"})
	require.NoError(t, err)
	require.True(t, first.Created)

	// Same video with extra tracking params dedups onto the first row.
	second, err := service.Ingest(ctx, &Submission{
		URL:      "https://www.bilibili.com/video/BV1xx411c7Xg?spm_id_from=foo",
		SharedBy: "bob",
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Content.ID, second.Content.ID)

	contents, err := st.ListContents(ctx, &store.FindContent{})
	require.NoError(t, err)
	assert.Len(t, contents, 1)

	// Both submissions leave a source row.
	sources, err := st.ListContentSources(ctx, &store.FindContentSource{ContentID: &first.Content.ID})
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestService_IngestBareID(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	result, err := service.Ingest(ctx, &Submission{URL: "BV1xx411c7Xg"})
	require.NoError(t, err)
	assert.Equal(t, store.PlatformBilibili, result.Content.Platform)
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7Xg", result.Content.CanonicalURL)
}

func TestService_IngestInvalidURL(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	_, err := service.Ingest(ctx, &Submission{URL: "   "})
	assert.Error(t, err)
}

func TestService_RetryParse(t *testing.T) {
	ctx := context.Background()
	service, st := newTestService(t)

	result, err := service.Ingest(ctx, &Submission{URL: "https://www.bilibili.com/video/BV1xx411c7Xg"})
	require.NoError(t, err)

	// Only parse_failed rows may be retried.
	_, err = service.RetryParse(ctx, result.Content.ID)
	assert.Error(t, err)

	failed := store.ContentStatusParseFailed
	_, err = st.UpdateContent(ctx, &store.UpdateContent{ID: result.Content.ID, Status: &failed})
	require.NoError(t, err)

	content, err := service.RetryParse(ctx, result.Content.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContentStatusUnprocessed, content.Status)
}
