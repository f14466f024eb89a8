package store

import "encoding/json"

// Platform identifies the source platform a content was fetched from.
type Platform string

const (
	PlatformBilibili    Platform = "bilibili"
	PlatformWeibo       Platform = "weibo"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformZhihu       Platform = "zhihu"
	PlatformDouyin      Platform = "douyin"
	PlatformTwitter     Platform = "twitter"
	PlatformLink        Platform = "link"
)

// ContentStatus tracks the parse lifecycle of a content.
type ContentStatus string

const (
	ContentStatusUnprocessed  ContentStatus = "unprocessed"
	ContentStatusProcessing   ContentStatus = "processing"
	ContentStatusParseSuccess ContentStatus = "parse_success"
	ContentStatusParseFailed  ContentStatus = "parse_failed"
)

// ReviewStatus tracks the moderation state of a content.
type ReviewStatus string

const (
	ReviewStatusPending      ReviewStatus = "pending"
	ReviewStatusApproved     ReviewStatus = "approved"
	ReviewStatusRejected     ReviewStatus = "rejected"
	ReviewStatusAutoApproved ReviewStatus = "auto_approved"
)

// LayoutType is a coarse presentation hint for a content.
type LayoutType string

const (
	LayoutTypeArticle LayoutType = "article"
	LayoutTypeVideo   LayoutType = "video"
	LayoutTypeGallery LayoutType = "gallery"
	LayoutTypeAudio   LayoutType = "audio"
	LayoutTypeLink    LayoutType = "link"
)

// RowStatus marks soft-deletion state.
type RowStatus string

const (
	RowStatusNormal   RowStatus = "NORMAL"
	RowStatusArchived RowStatus = "ARCHIVED"
)

// Content is a single archived item in the vault.
//
// (Platform, CanonicalURL) is unique and is the ingest dedup key.
// Tags, MediaURLs, ArchiveMetadata and ExtraStats are stored as JSON text.
type Content struct {
	ID int64

	Platform     Platform
	URL          string
	CanonicalURL string
	CleanURL     string
	ContentType  string
	LayoutType   LayoutType
	PlatformID   string

	Status        ContentStatus
	ReviewStatus  ReviewStatus
	RowStatus     RowStatus
	QueuePriority int32
	IsNSFW        bool
	Tags          []string

	Title           string
	Body            string
	Summary         string
	AuthorName      string
	AuthorID        string
	AuthorAvatarURL string
	AuthorURL       string
	CoverURL        string
	MediaURLs       []string

	// ArchiveMetadata is the opaque structured archive blob produced by the
	// platform adapter and enriched by the media processor. Unknown keys are
	// preserved round-trip.
	ArchiveMetadata json.RawMessage

	ViewCount    int64
	LikeCount    int64
	CollectCount int64
	ShareCount   int64
	CommentCount int64
	ExtraStats   map[string]int64

	FailureCount  int32
	LastError     string
	LastErrorType string
	LastErrorTs   int64

	PublishedTs int64
	CreatedTs   int64
	UpdatedTs   int64
}

// CreateContent holds the fields for inserting a new content.
type CreateContent struct {
	Platform     Platform
	URL          string
	CanonicalURL string
	CleanURL     string
	Status       ContentStatus
	ReviewStatus ReviewStatus
	LayoutType   LayoutType
}

// FindContent filters content listings. Nil fields are ignored.
type FindContent struct {
	ID           *int64
	Platform     *Platform
	CanonicalURL *string
	Status       *ContentStatus
	ReviewStatus *ReviewStatus
	RowStatus    *RowStatus
	Limit        *int
	Offset       *int
	// OrderByCreatedDesc lists newest first; used by the RSS feed.
	OrderByCreatedDesc bool
}

// UpdateContent applies a partial update to a content. Nil fields are
// left untouched.
type UpdateContent struct {
	ID int64

	Status        *ContentStatus
	ReviewStatus  *ReviewStatus
	RowStatus     *RowStatus
	QueuePriority *int32
	IsNSFW        *bool
	Tags          *[]string

	ContentType *string
	LayoutType  *LayoutType
	PlatformID  *string
	CleanURL    *string

	Title           *string
	Body            *string
	Summary         *string
	AuthorName      *string
	AuthorID        *string
	AuthorAvatarURL *string
	AuthorURL       *string
	CoverURL        *string
	MediaURLs       *[]string

	ArchiveMetadata *json.RawMessage

	ViewCount    *int64
	LikeCount    *int64
	CollectCount *int64
	ShareCount   *int64
	CommentCount *int64
	ExtraStats   *map[string]int64

	FailureCount  *int32
	LastError     *string
	LastErrorType *string
	LastErrorTs   *int64

	PublishedTs *int64
}

// DeleteContent identifies a content for deletion. Owned rows
// (sources, queue items, pushed records) cascade.
type DeleteContent struct {
	ID int64
}
