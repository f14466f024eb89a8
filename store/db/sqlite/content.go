package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

// contentColumns is the canonical column list used by every content query.
const contentColumns = `id, platform, url, canonical_url, clean_url, content_type, layout_type, platform_id,
	status, review_status, row_status, queue_priority, is_nsfw, tags,
	title, body, summary, author_name, author_id, author_avatar_url, author_url, cover_url, media_urls, archive_metadata,
	view_count, like_count, collect_count, share_count, comment_count, extra_stats,
	failure_count, last_error, last_error_type, last_error_ts, published_ts, created_ts, updated_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

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

func (d *DB) CreateContent(ctx context.Context, create *store.CreateContent) (*store.Content, error) {
	if create.Status == "" {
		create.Status = store.ContentStatusUnprocessed
	}
	if create.ReviewStatus == "" {
		create.ReviewStatus = store.ReviewStatusPending
	}
	if create.LayoutType == "" {
		create.LayoutType = store.LayoutTypeLink
	}

	stmt := `
		INSERT INTO content (platform, url, canonical_url, clean_url, status, review_status, layout_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + contentColumns
	content, err := scanContent(d.db.QueryRowContext(ctx, stmt,
		create.Platform,
		create.URL,
		create.CanonicalURL,
		create.CleanURL,
		create.Status,
		create.ReviewStatus,
		create.LayoutType,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create content")
	}
	return content, nil
}

func (d *DB) ListContents(ctx context.Context, find *store.FindContent) ([]*store.Content, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Platform != nil {
		where, args = append(where, "platform = ?"), append(args, *find.Platform)
	}
	if find.CanonicalURL != nil {
		where, args = append(where, "canonical_url = ?"), append(args, *find.CanonicalURL)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, *find.Status)
	}
	if find.ReviewStatus != nil {
		where, args = append(where, "review_status = ?"), append(args, *find.ReviewStatus)
	}
	if find.RowStatus != nil {
		where, args = append(where, "row_status = ?"), append(args, *find.RowStatus)
	}

	query := "SELECT " + contentColumns + " FROM content WHERE " + strings.Join(where, " AND ")
	if find.OrderByCreatedDesc {
		query += " ORDER BY created_ts DESC, id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET ?"
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list contents")
	}
	defer rows.Close()

	list := []*store.Content{}
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan content")
		}
		list = append(list, content)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate contents")
	}
	return list, nil
}

func (d *DB) UpdateContent(ctx context.Context, update *store.UpdateContent) (*store.Content, error) {
	set, args := []string{"updated_ts = strftime('%s', 'now')"}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, *update.Status)
	}
	if update.ReviewStatus != nil {
		set, args = append(set, "review_status = ?"), append(args, *update.ReviewStatus)
	}
	if update.RowStatus != nil {
		set, args = append(set, "row_status = ?"), append(args, *update.RowStatus)
	}
	if update.QueuePriority != nil {
		set, args = append(set, "queue_priority = ?"), append(args, *update.QueuePriority)
	}
	if update.IsNSFW != nil {
		set, args = append(set, "is_nsfw = ?"), append(args, *update.IsNSFW)
	}
	if update.Tags != nil {
		raw, err := marshalStringList(*update.Tags)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "tags = ?"), append(args, raw)
	}
	if update.ContentType != nil {
		set, args = append(set, "content_type = ?"), append(args, *update.ContentType)
	}
	if update.LayoutType != nil {
		set, args = append(set, "layout_type = ?"), append(args, *update.LayoutType)
	}
	if update.PlatformID != nil {
		set, args = append(set, "platform_id = ?"), append(args, *update.PlatformID)
	}
	if update.CleanURL != nil {
		set, args = append(set, "clean_url = ?"), append(args, *update.CleanURL)
	}
	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.Body != nil {
		set, args = append(set, "body = ?"), append(args, *update.Body)
	}
	if update.Summary != nil {
		set, args = append(set, "summary = ?"), append(args, *update.Summary)
	}
	if update.AuthorName != nil {
		set, args = append(set, "author_name = ?"), append(args, *update.AuthorName)
	}
	if update.AuthorID != nil {
		set, args = append(set, "author_id = ?"), append(args, *update.AuthorID)
	}
	if update.AuthorAvatarURL != nil {
		set, args = append(set, "author_avatar_url = ?"), append(args, *update.AuthorAvatarURL)
	}
	if update.AuthorURL != nil {
		set, args = append(set, "author_url = ?"), append(args, *update.AuthorURL)
	}
	if update.CoverURL != nil {
		set, args = append(set, "cover_url = ?"), append(args, *update.CoverURL)
	}
	if update.MediaURLs != nil {
		raw, err := marshalStringList(*update.MediaURLs)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "media_urls = ?"), append(args, raw)
	}
	if update.ArchiveMetadata != nil {
		set, args = append(set, "archive_metadata = ?"), append(args, rawOrEmpty(*update.ArchiveMetadata, "{}"))
	}
	if update.ViewCount != nil {
		set, args = append(set, "view_count = ?"), append(args, *update.ViewCount)
	}
	if update.LikeCount != nil {
		set, args = append(set, "like_count = ?"), append(args, *update.LikeCount)
	}
	if update.CollectCount != nil {
		set, args = append(set, "collect_count = ?"), append(args, *update.CollectCount)
	}
	if update.ShareCount != nil {
		set, args = append(set, "share_count = ?"), append(args, *update.ShareCount)
	}
	if update.CommentCount != nil {
		set, args = append(set, "comment_count = ?"), append(args, *update.CommentCount)
	}
	if update.ExtraStats != nil {
		raw, err := marshalCountMap(*update.ExtraStats)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "extra_stats = ?"), append(args, raw)
	}
	if update.FailureCount != nil {
		set, args = append(set, "failure_count = ?"), append(args, *update.FailureCount)
	}
	if update.LastError != nil {
		set, args = append(set, "last_error = ?"), append(args, *update.LastError)
	}
	if update.LastErrorType != nil {
		set, args = append(set, "last_error_type = ?"), append(args, *update.LastErrorType)
	}
	if update.LastErrorTs != nil {
		set, args = append(set, "last_error_ts = ?"), append(args, *update.LastErrorTs)
	}
	if update.PublishedTs != nil {
		set, args = append(set, "published_ts = ?"), append(args, *update.PublishedTs)
	}

	args = append(args, update.ID)
	stmt := "UPDATE content SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING " + contentColumns
	content, err := scanContent(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("content %d not found", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update content")
	}
	return content, nil
}

// DeleteContent removes a content and its owned rows. Foreign keys are
// disabled on this driver, so cascades run explicitly in one transaction.
func (d *DB) DeleteContent(ctx context.Context, delete *store.DeleteContent) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM content_source WHERE content_id = ?",
		"DELETE FROM pushed_record WHERE content_id = ?",
		"DELETE FROM content_queue_item WHERE content_id = ?",
		"DELETE FROM content WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, delete.ID); err != nil {
			return errors.Wrap(err, "failed to delete content")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
