package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

func (d *DB) CreateContentSource(ctx context.Context, create *store.CreateContentSource) (*store.ContentSource, error) {
	stmt := `
		INSERT INTO content_source (content_id, shared_by, channel, raw_url, note)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, content_id, shared_by, channel, raw_url, note, created_ts
	`
	var source store.ContentSource
	err := d.db.QueryRowContext(ctx, stmt,
		create.ContentID,
		create.SharedBy,
		create.Channel,
		create.RawURL,
		create.Note,
	).Scan(
		&source.ID,
		&source.ContentID,
		&source.SharedBy,
		&source.Channel,
		&source.RawURL,
		&source.Note,
		&source.CreatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create content source")
	}
	return &source, nil
}

func (d *DB) ListContentSources(ctx context.Context, find *store.FindContentSource) ([]*store.ContentSource, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ContentID != nil {
		where, args = append(where, "content_id = ?"), append(args, *find.ContentID)
	}

	query := `SELECT id, content_id, shared_by, channel, raw_url, note, created_ts
		FROM content_source
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list content sources")
	}
	defer rows.Close()

	list := []*store.ContentSource{}
	for rows.Next() {
		var source store.ContentSource
		if err := rows.Scan(
			&source.ID,
			&source.ContentID,
			&source.SharedBy,
			&source.Channel,
			&source.RawURL,
			&source.Note,
			&source.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan content source")
		}
		list = append(list, &source)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate content sources")
	}
	return list, nil
}
