package v1

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/linkhoard/linkhoard/pipeline/ingest"
	"github.com/linkhoard/linkhoard/store"
)

const maxPageSize = 100

type createContentRequest struct {
	URL      string `json:"url"`
	SharedBy string `json:"shared_by"`
	Channel  string `json:"channel"`
	Note     string `json:"note"`
}

type createContentResponse struct {
	Content *contentResponse `json:"content"`
	Created bool             `json:"created"`
}

type contentResponse struct {
	ID           int64  `json:"id"`
	Platform     string `json:"platform"`
	URL          string `json:"url"`
	CanonicalURL string `json:"canonical_url"`
	CleanURL     string `json:"clean_url,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	LayoutType   string `json:"layout_type,omitempty"`
	PlatformID   string `json:"platform_id,omitempty"`

	Status        string   `json:"status"`
	ReviewStatus  string   `json:"review_status"`
	QueuePriority int32    `json:"queue_priority,omitempty"`
	IsNSFW        bool     `json:"is_nsfw"`
	Tags          []string `json:"tags,omitempty"`

	Title           string   `json:"title,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	AuthorName      string   `json:"author_name,omitempty"`
	AuthorID        string   `json:"author_id,omitempty"`
	AuthorAvatarURL string   `json:"author_avatar_url,omitempty"`
	CoverURL        string   `json:"cover_url,omitempty"`
	MediaURLs       []string `json:"media_urls,omitempty"`

	ArchiveMetadata json.RawMessage `json:"archive_metadata,omitempty"`

	ViewCount    int64 `json:"view_count,omitempty"`
	LikeCount    int64 `json:"like_count,omitempty"`
	CollectCount int64 `json:"collect_count,omitempty"`
	ShareCount   int64 `json:"share_count,omitempty"`
	CommentCount int64 `json:"comment_count,omitempty"`

	FailureCount  int32  `json:"failure_count,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	LastErrorType string `json:"last_error_type,omitempty"`

	PublishedTs int64 `json:"published_ts,omitempty"`
	CreatedTs   int64 `json:"created_ts"`
	UpdatedTs   int64 `json:"updated_ts"`
}

// CreateContent ingests a shared URL. A URL that canonicalizes onto an
// existing content returns that content with created=false.
func (s *APIV1Service) CreateContent(c echo.Context) error {
	request := &createContentRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if request.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	result, err := s.Ingest.Ingest(c.Request().Context(), &ingest.Submission{
		URL:      request.URL,
		SharedBy: request.SharedBy,
		Channel:  request.Channel,
		Note:     request.Note,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to ingest url").SetInternal(err)
	}

	statusCode := http.StatusOK
	if result.Created {
		statusCode = http.StatusCreated
	}
	return c.JSON(statusCode, &createContentResponse{
		Content: convertContentFromStore(result.Content),
		Created: result.Created,
	})
}

// ListContents returns contents newest first. Supported filters:
// status, platform, limit, offset.
func (s *APIV1Service) ListContents(c echo.Context) error {
	find := &store.FindContent{OrderByCreatedDesc: true}

	if v := c.QueryParam("status"); v != "" {
		status := store.ContentStatus(v)
		find.Status = &status
	}
	if v := c.QueryParam("platform"); v != "" {
		platform := store.Platform(v)
		find.Platform = &platform
	}
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	find.Limit = &limit
	if v := c.QueryParam("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		find.Offset = &offset
	}

	contents, err := s.Store.ListContents(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list contents").SetInternal(err)
	}

	response := make([]*contentResponse, 0, len(contents))
	for _, content := range contents {
		response = append(response, convertContentFromStore(content))
	}
	return c.JSON(http.StatusOK, response)
}

func (s *APIV1Service) GetContent(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid content id")
	}
	content, err := s.Store.GetContent(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get content").SetInternal(err)
	}
	if content == nil {
		return echo.NewHTTPError(http.StatusNotFound, "content not found")
	}
	return c.JSON(http.StatusOK, convertContentFromStore(content))
}

// RetryParse re-enqueues a parse_failed content.
func (s *APIV1Service) RetryParse(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid content id")
	}
	content, err := s.Ingest.RetryParse(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to retry parse").SetInternal(err)
	}
	return c.JSON(http.StatusOK, convertContentFromStore(content))
}

func convertContentFromStore(content *store.Content) *contentResponse {
	return &contentResponse{
		ID:              content.ID,
		Platform:        string(content.Platform),
		URL:             content.URL,
		CanonicalURL:    content.CanonicalURL,
		CleanURL:        content.CleanURL,
		ContentType:     content.ContentType,
		LayoutType:      string(content.LayoutType),
		PlatformID:      content.PlatformID,
		Status:          string(content.Status),
		ReviewStatus:    string(content.ReviewStatus),
		QueuePriority:   content.QueuePriority,
		IsNSFW:          content.IsNSFW,
		Tags:            content.Tags,
		Title:           content.Title,
		Summary:         content.Summary,
		AuthorName:      content.AuthorName,
		AuthorID:        content.AuthorID,
		AuthorAvatarURL: content.AuthorAvatarURL,
		CoverURL:        content.CoverURL,
		MediaURLs:       content.MediaURLs,
		ArchiveMetadata: content.ArchiveMetadata,
		ViewCount:       content.ViewCount,
		LikeCount:       content.LikeCount,
		CollectCount:    content.CollectCount,
		ShareCount:      content.ShareCount,
		CommentCount:    content.CommentCount,
		FailureCount:    content.FailureCount,
		LastError:       content.LastError,
		LastErrorType:   content.LastErrorType,
		PublishedTs:     content.PublishedTs,
		CreatedTs:       content.CreatedTs,
		UpdatedTs:       content.UpdatedTs,
	}
}
