package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
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

type testEnv struct {
	echo  *echo.Echo
	store *store.Store
	bus   *eventbus.Bus
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

	bus := eventbus.NewBus(st)
	ingestService := ingest.NewService(st, adapters.NewRegistry(), taskqueue.NewQueue(st), bus, nil)

	e := echo.New()
	service := NewAPIV1Service(p, st, ingestService, bus, nil)
	service.RegisterRoutes(e)
	return &testEnv{echo: e, store: st, bus: bus}
}

func (env *testEnv) request(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func TestCreateContent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/v1/contents",
		`{"url":"https://www.bilibili.com/video/BV1xx411c7Xg?spm_id_from=333.999","shared_by":"alice","channel":"telegram"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created createContentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Created)
	assert.Equal(t, "bilibili", created.Content.Platform)
	assert.Equal(t, "unprocessed", created.Content.Status)
	assert.NotContains(t, created.Content.CanonicalURL, "spm_id_from")

	// Same video again deduplicates onto the existing row.
	rec = env.request(http.MethodPost, "/api/v1/contents",
		`{"url":"https://www.bilibili.com/video/BV1xx411c7Xg","shared_by":"bob"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dedup createContentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dedup))
	assert.False(t, dedup.Created)
	assert.Equal(t, created.Content.ID, dedup.Content.ID)
}

func TestCreateContentValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/v1/contents", `{"url":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(http.MethodPost, "/api/v1/contents", `{"url":"not a url"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetContent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/v1/contents",
		`{"url":"https://www.bilibili.com/video/BV1xx411c7Xg"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created createContentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.request(http.MethodGet, "/api/v1/contents/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got contentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.Content.CanonicalURL, got.CanonicalURL)

	rec = env.request(http.MethodGet, "/api/v1/contents/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(http.MethodGet, "/api/v1/contents/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListContents(t *testing.T) {
	env := newTestEnv(t)

	for _, url := range []string{
		"https://www.bilibili.com/video/BV1xx411c7Xg",
		"https://www.bilibili.com/video/BV1yy411c7Xg",
	} {
		rec := env.request(http.MethodPost, "/api/v1/contents", `{"url":"`+url+`"}`, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.request(http.MethodGet, "/api/v1/contents", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []*contentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)

	rec = env.request(http.MethodGet, "/api/v1/contents?status=parse_success", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)

	rec = env.request(http.MethodGet, "/api/v1/contents?limit=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryParse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/v1/contents",
		`{"url":"https://www.bilibili.com/video/BV1xx411c7Xg"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created createContentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Retrying an unprocessed content is rejected.
	rec = env.request(http.MethodPost, "/api/v1/contents/1/retry", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	failed := store.ContentStatusParseFailed
	_, err := env.store.UpdateContent(ctx, &store.UpdateContent{ID: created.Content.ID, Status: &failed})
	require.NoError(t, err)

	rec = env.request(http.MethodPost, "/api/v1/contents/1/retry", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var retried contentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retried))
	assert.Equal(t, "unprocessed", retried.Status)
}

func TestStreamEventsReplay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.bus.Publish(ctx, eventbus.EventContentCreated, map[string]any{"content_id": 1}))
	require.NoError(t, env.bus.Publish(ctx, eventbus.EventContentParsed, map[string]any{"content_id": 1}))

	reqCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(reqCtx)
	req.Header.Set("Last-Event-ID", "0")
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/event-stream")
	assert.Contains(t, body, "id: 1\n")
	assert.Contains(t, body, "event: content_created\n")
	assert.Contains(t, body, "event: content_parsed\n")
	assert.Contains(t, body, `"content_id":1`)

	first := strings.Index(body, "event: content_created")
	second := strings.Index(body, "event: content_parsed")
	assert.Less(t, first, second)
}

func TestStreamEventsRejectsBadLastEventID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v1/events", "", map[string]string{"Last-Event-ID": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
