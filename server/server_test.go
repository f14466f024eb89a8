package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/ingest"
	"github.com/linkhoard/linkhoard/pipeline/taskqueue"
	"github.com/linkhoard/linkhoard/plugin/adapters"
	"github.com/linkhoard/linkhoard/store"
	"github.com/linkhoard/linkhoard/store/db/sqlite"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	p := &profile.Profile{
		Mode:        "dev",
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "linkhoard_test.db"),
		InstanceURL: "http://localhost:28081",
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	bus := eventbus.NewBus(st)
	ingestService := ingest.NewService(st, adapters.NewRegistry(), taskqueue.NewQueue(st), bus, nil)
	s, err := NewServer(context.Background(), p, st, &Options{Ingest: ingestService, Bus: bus})
	require.NoError(t, err)
	return s, st
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestRSSFeed(t *testing.T) {
	ctx := context.Background()
	s, st := newTestServer(t)

	content, err := st.CreateContent(ctx, &store.CreateContent{
		Platform:     store.PlatformBilibili,
		URL:          "https://www.bilibili.com/video/BV1xx411c7Xg",
		CanonicalURL: "https://www.bilibili.com/video/BV1xx411c7Xg",
		CleanURL:     "https://www.bilibili.com/video/BV1xx411c7Xg",
		LayoutType:   store.LayoutTypeLink,
	})
	require.NoError(t, err)
	success := store.ContentStatusParseSuccess
	title := "An archived video"
	summary := "What the video is about"
	_, err = st.UpdateContent(ctx, &store.UpdateContent{
		ID:      content.ID,
		Status:  &success,
		Title:   &title,
		Summary: &summary,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/feed.rss", nil)
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	body := rec.Body.String()
	assert.Contains(t, body, "<rss")
	assert.Contains(t, body, "An archived video")
	assert.Contains(t, body, "https://www.bilibili.com/video/BV1xx411c7Xg")
}

func TestRSSFeedSkipsUnparsed(t *testing.T) {
	ctx := context.Background()
	s, st := newTestServer(t)

	_, err := st.CreateContent(ctx, &store.CreateContent{
		Platform:     store.PlatformBilibili,
		URL:          "https://www.bilibili.com/video/BV1yy411c7Xg",
		CanonicalURL: "https://www.bilibili.com/video/BV1yy411c7Xg",
		LayoutType:   store.LayoutTypeLink,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/feed.rss", nil)
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "BV1yy411c7Xg")
}
