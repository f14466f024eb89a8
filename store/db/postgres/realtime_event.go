package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

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

func (db *DB) CreateRealtimeEvent(ctx context.Context, create *store.CreateRealtimeEvent) (*store.RealtimeEvent, error) {
	query := `
		INSERT INTO realtime_event (event_type, payload, source_instance)
		VALUES ($1, $2, $3)
		RETURNING ` + eventColumns
	event, err := scanEvent(db.db.QueryRowContext(ctx, query,
		create.EventType,
		rawOrEmpty(create.Payload, "{}"),
		create.SourceInstance,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create realtime event: %w", err)
	}
	return event, nil
}

func (db *DB) ListRealtimeEvents(ctx context.Context, find *store.FindRealtimeEvent) ([]*store.RealtimeEvent, error) {
	query := "SELECT " + eventColumns + " FROM realtime_event WHERE id > $1"
	args := []interface{}{find.SinceID}

	if find.ExcludeInstance != 0 {
		args = append(args, find.ExcludeInstance)
		query += fmt.Sprintf(" AND source_instance != $%d", len(args))
	}

	query += " ORDER BY id ASC"
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list realtime events: %w", err)
	}
	defer rows.Close()

	list := []*store.RealtimeEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan realtime event: %w", err)
		}
		list = append(list, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list realtime events: %w", err)
	}
	return list, nil
}

func (db *DB) MaxRealtimeEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := db.db.QueryRowContext(ctx, "SELECT MAX(id) FROM realtime_event").Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to find max realtime event id: %w", err)
	}
	return id.Int64, nil
}

func (db *DB) PruneRealtimeEventsBefore(ctx context.Context, ts int64) (int64, error) {
	result, err := db.db.ExecContext(ctx, "DELETE FROM realtime_event WHERE created_ts < $1", ts)
	if err != nil {
		return 0, fmt.Errorf("failed to prune realtime events: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned realtime events: %w", err)
	}
	return pruned, nil
}
