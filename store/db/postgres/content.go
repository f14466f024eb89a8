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

const contentColumns = `id, platform, url, canonical_url, clean_url, content_type, layout_type, platform_id,
	status, review_status, row_status, queue_priority, is_nsfw, tags,
	title, body, summary, author_name, author_id, author_avatar_url, author_url, cover_url, media_urls, archive_metadata,
	view_count, like_count, collect_count, share_count, comment_count, extra_stats,
	failure_count, last_error, last_error_type, last_error_ts, published_ts, created_ts, updated_ts`

func scanContent(row rowScanner) (*store.Content, error) {
	var content store.Content
	var tags, mediaURLs, archiveMetadata, extraStats string
	if err := row.Scan(
		&content.ID,
		&content.Platform,
		&content.URL,
		&content.CanonicalURL,
		&content.CleanURL,
		&content.ContentType,
		&content.LayoutType,
		&content.PlatformID,
		&content.Status,
		&content.ReviewStatus,
		&content.RowStatus,
		&content.QueuePriority,
		&content.IsNSFW,
		&tags,
		&content.Title,
		&content.Body,
		&content.Summary,
		&content.AuthorName,
		&content.AuthorID,
		&content.AuthorAvatarURL,
		&content.AuthorURL,
		&content.CoverURL,
		&mediaURLs,
		&archiveMetadata,
		&content.ViewCount,
		&content.LikeCount,
		&content.CollectCount,
		&content.ShareCount,
		&content.CommentCount,
		&extraStats,
		&content.FailureCount,
		&content.LastError,
		&content.LastErrorType,
		&content.LastErrorTs,
		&content.PublishedTs,
		&content.CreatedTs,
		&content.UpdatedTs,
	); err != nil {
		return nil, err
	}

	var err error
	if content.Tags, err = unmarshalStringList(tags); err != nil {
		return nil, err
	}
	if content.MediaURLs, err = unmarshalStringList(mediaURLs); err != nil {
		return nil, err
	}
	if content.ExtraStats, err = unmarshalCountMap(extraStats); err != nil {
		return nil, err
	}
	content.ArchiveMetadata = json.RawMessage(archiveMetadata)
	return &content, nil
}

func (db *DB) CreateContent(ctx context.Context, create *store.CreateContent) (*store.Content, error) {
	if create.Status == "" {
		create.Status = store.ContentStatusUnprocessed
	}
	if create.ReviewStatus == "" {
		create.ReviewStatus = store.ReviewStatusPending
	}
	if create.LayoutType == "" {
		create.LayoutType = store.LayoutTypeLink
	}

	query := `
		INSERT INTO content (platform, url, canonical_url, clean_url, status, review_status, layout_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + contentColumns
	content, err := scanContent(db.db.QueryRowContext(ctx, query,
		create.Platform,
		create.URL,
		create.CanonicalURL,
		create.CleanURL,
		create.Status,
		create.ReviewStatus,
		create.LayoutType,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create content: %w", err)
	}
	return content, nil
}

func (db *DB) ListContents(ctx context.Context, find *store.FindContent) ([]*store.Content, error) {
	query := "SELECT " + contentColumns + " FROM content WHERE 1=1"
	var args []interface{}

	addCond := func(cond string, val interface{}) {
		args = append(args, val)
		query += fmt.Sprintf(" AND %s = $%d", cond, len(args))
	}
	if find.ID != nil {
		addCond("id", *find.ID)
	}
	if find.Platform != nil {
		addCond("platform", *find.Platform)
	}
	if find.CanonicalURL != nil {
		addCond("canonical_url", *find.CanonicalURL)
	}
	if find.Status != nil {
		addCond("status", *find.Status)
	}
	if find.ReviewStatus != nil {
		addCond("review_status", *find.ReviewStatus)
	}
	if find.RowStatus != nil {
		addCond("row_status", *find.RowStatus)
	}

	if find.OrderByCreatedDesc {
		query += " ORDER BY created_ts DESC, id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if find.Offset != nil {
			args = append(args, *find.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	defer rows.Close()

	list := []*store.Content{}
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		list = append(list, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	return list, nil
}

func (db *DB) UpdateContent(ctx context.Context, update *store.UpdateContent) (*store.Content, error) {
	set, args := []string{"updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT"}, []interface{}{}
	addSet := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.Status != nil {
		addSet("status", *update.Status)
	}
	if update.ReviewStatus != nil {
		addSet("review_status", *update.ReviewStatus)
	}
	if update.RowStatus != nil {
		addSet("row_status", *update.RowStatus)
	}
	if update.QueuePriority != nil {
		addSet("queue_priority", *update.QueuePriority)
	}
	if update.IsNSFW != nil {
		addSet("is_nsfw", *update.IsNSFW)
	}
	if update.Tags != nil {
		raw, err := marshalStringList(*update.Tags)
		if err != nil {
			return nil, err
		}
		addSet("tags", raw)
	}
	if update.ContentType != nil {
		addSet("content_type", *update.ContentType)
	}
	if update.LayoutType != nil {
		addSet("layout_type", *update.LayoutType)
	}
	if update.PlatformID != nil {
		addSet("platform_id", *update.PlatformID)
	}
	if update.CleanURL != nil {
		addSet("clean_url", *update.CleanURL)
	}
	if update.Title != nil {
		addSet("title", *update.Title)
	}
	if update.Body != nil {
		addSet("body", *update.Body)
	}
	if update.Summary != nil {
		addSet("summary", *update.Summary)
	}
	if update.AuthorName != nil {
		addSet("author_name", *update.AuthorName)
	}
	if update.AuthorID != nil {
		addSet("author_id", *update.AuthorID)
	}
	if update.AuthorAvatarURL != nil {
		addSet("author_avatar_url", *update.AuthorAvatarURL)
	}
	if update.AuthorURL != nil {
		addSet("author_url", *update.AuthorURL)
	}
	if update.CoverURL != nil {
		addSet("cover_url", *update.CoverURL)
	}
	if update.MediaURLs != nil {
		raw, err := marshalStringList(*update.MediaURLs)
		if err != nil {
			return nil, err
		}
		addSet("media_urls", raw)
	}
	if update.ArchiveMetadata != nil {
		addSet("archive_metadata", rawOrEmpty(*update.ArchiveMetadata, "{}"))
	}
	if update.ViewCount != nil {
		addSet("view_count", *update.ViewCount)
	}
	if update.LikeCount != nil {
		addSet("like_count", *update.LikeCount)
	}
	if update.CollectCount != nil {
		addSet("collect_count", *update.CollectCount)
	}
	if update.ShareCount != nil {
		addSet("share_count", *update.ShareCount)
	}
	if update.CommentCount != nil {
		addSet("comment_count", *update.CommentCount)
	}
	if update.ExtraStats != nil {
		raw, err := marshalCountMap(*update.ExtraStats)
		if err != nil {
			return nil, err
		}
		addSet("extra_stats", raw)
	}
	if update.FailureCount != nil {
		addSet("failure_count", *update.FailureCount)
	}
	if update.LastError != nil {
		addSet("last_error", *update.LastError)
	}
	if update.LastErrorType != nil {
		addSet("last_error_type", *update.LastErrorType)
	}
	if update.LastErrorTs != nil {
		addSet("last_error_ts", *update.LastErrorTs)
	}
	if update.PublishedTs != nil {
		addSet("published_ts", *update.PublishedTs)
	}

	args = append(args, update.ID)
	query := "UPDATE content SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + contentColumns
	content, err := scanContent(db.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("content %d not found", update.ID)
		}
		return nil, fmt.Errorf("failed to update content: %w", err)
	}
	return content, nil
}

func (db *DB) DeleteContent(ctx context.Context, delete *store.DeleteContent) error {
	// Owned rows cascade via foreign keys.
	if _, err := db.db.ExecContext(ctx, "DELETE FROM content WHERE id = $1", delete.ID); err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}
