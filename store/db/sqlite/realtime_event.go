package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

const eventColumns = `id, event_type, payload, source_instance, created_ts`

func scanEvent(row rowScanner) (*store.RealtimeEvent, error) {
	var event store.RealtimeEvent
	var payload string
	if err := row.Scan(
		&event.ID,
		&event.EventType,
		&payload,
		&event.SourceInstance,
		&event.CreatedTs,
	); err != nil {
		return nil, err
	}
	event.Payload = json.RawMessage(payload)
	return &event, nil
}

func (d *DB) CreateRealtimeEvent(ctx context.Context, create *store.CreateRealtimeEvent) (*store.RealtimeEvent, error) {
	stmt := `
		INSERT INTO realtime_event (event_type, payload, source_instance)
		VALUES (?, ?, ?)
		RETURNING ` + eventColumns
	event, err := scanEvent(d.db.QueryRowContext(ctx, stmt,
		create.EventType,
		rawOrEmpty(create.Payload, "{}"),
		create.SourceInstance,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create realtime event")
	}
	return event, nil
}

func (d *DB) ListRealtimeEvents(ctx context.Context, find *store.FindRealtimeEvent) ([]*store.RealtimeEvent, error) {
	where, args := []string{"id > ?"}, []any{find.SinceID}

	if find.ExcludeInstance != 0 {
		where, args = append(where, "source_instance != ?"), append(args, find.ExcludeInstance)
	}

	query := "SELECT " + eventColumns + " FROM realtime_event WHERE " + strings.Join(where, " AND ") + " ORDER BY id ASC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list realtime events")
	}
	defer rows.Close()

	list := []*store.RealtimeEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan realtime event")
		}
		list = append(list, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate realtime events")
	}
	return list, nil
}

func (d *DB) MaxRealtimeEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := d.db.QueryRowContext(ctx, "SELECT MAX(id) FROM realtime_event").Scan(&id); err != nil {
		return 0, errors.Wrap(err, "failed to find max realtime event id")
	}
	return id.Int64, nil
}

func (d *DB) PruneRealtimeEventsBefore(ctx context.Context, ts int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM realtime_event WHERE created_ts < ?", ts)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune realtime events")
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pruned realtime events")
	}
	return pruned, nil
}
