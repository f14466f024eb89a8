package postgres

import (
	"context"
	"fmt"

	"github.com/linkhoard/linkhoard/store"
)

func (db *DB) CreateContentSource(ctx context.Context, create *store.CreateContentSource) (*store.ContentSource, error) {
	query := `
		INSERT INTO content_source (content_id, shared_by, channel, raw_url, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, content_id, shared_by, channel, raw_url, note, created_ts
	`
	var source store.ContentSource
	err := db.db.QueryRowContext(ctx, query,
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
		return nil, fmt.Errorf("failed to create content source: %w", err)
	}
	return &source, nil
}

func (db *DB) ListContentSources(ctx context.Context, find *store.FindContentSource) ([]*store.ContentSource, error) {
	query := `
		SELECT id, content_id, shared_by, channel, raw_url, note, created_ts
		FROM content_source
		WHERE 1=1
	`
	var args []interface{}

	if find.ContentID != nil {
		args = append(args, *find.ContentID)
		query += fmt.Sprintf(" AND content_id = $%d", len(args))
	}

	query += " ORDER BY created_ts DESC, id DESC"
	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list content sources: %w", err)
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
			return nil, fmt.Errorf("failed to scan content source: %w", err)
		}
		list = append(list, &source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list content sources: %w", err)
	}
	return list, nil
}
