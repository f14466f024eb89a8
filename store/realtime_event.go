package store

import "encoding/json"

// RealtimeEvent is one row of the durable event outbox. IDs are
// monotonic within one database and double as SSE event ids.
// Rows are append-only; operators may prune old rows.
type RealtimeEvent struct {
	ID             int64
	EventType      string
	Payload        json.RawMessage
	SourceInstance int64
	CreatedTs      int64
}

// CreateRealtimeEvent holds the fields for appending an outbox row.
type CreateRealtimeEvent struct {
	EventType      string
	Payload        json.RawMessage
	SourceInstance int64
}

// FindRealtimeEvent selects outbox rows for replay or cross-instance
// polling. SinceID is exclusive.
type FindRealtimeEvent struct {
	SinceID int64
	// ExcludeInstance skips rows published by the given instance;
	// zero means no exclusion.
	ExcludeInstance int64
	Limit           int
}
