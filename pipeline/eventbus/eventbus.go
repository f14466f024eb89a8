// Package eventbus provides local pub/sub fan-out backed by a durable
// outbox table, plus a poller that rebroadcasts events published by
// other instances sharing the same database.
package eventbus

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/pipeline/metrics"
	"github.com/linkhoard/linkhoard/store"
)

// Event types published by the pipeline. Payload shapes are open but
// stable per type.
const (
	EventContentCreated = "content_created"
	EventContentUpdated = "content_updated"
	EventContentParsed  = "content_parsed"
	EventContentDeleted = "content_deleted"
	EventContentPushed  = "content_pushed"
	EventPushSuccess    = "distribution_push_success"
	EventPushFailed     = "distribution_push_failed"
	EventQueueUpdated   = "queue_updated"
	EventPing           = "ping"
)

const (
	subscriberBuffer = 100
	pingInterval     = 300 * time.Second

	// evictDropThreshold is the number of consecutive dropped events
	// after which a stalled subscriber is detached from the bus.
	evictDropThreshold = 10

	pollInterval = 500 * time.Millisecond
	pollBatch    = 200
)

// Event is one bus message. ID is the outbox row id when the event went
// through the outbox; zero for synthetic events such as pings.
type Event struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Subscriber receives events on C. The buffer is bounded; events are
// dropped for a subscriber that falls behind, and a subscriber that
// keeps overflowing is evicted from the bus. After 300s without
// traffic a synthetic ping is delivered.
type Subscriber struct {
	C chan *Event

	bus   *Bus
	ping  *time.Timer
	drops atomic.Int32
	once  sync.Once
}

// Close detaches the subscriber from the bus. C is left open because a
// broadcast snapshotted before Close may still deliver into it; readers
// should select on their own cancellation signal.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		s.ping.Stop()
	})
}

// Bus is the process-local event bus.
type Bus struct {
	store      *store.Store
	instanceID int64

	// Metrics is optional; a nil exporter records nothing.
	Metrics *metrics.Exporter

	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

func NewBus(st *store.Store) *Bus {
	return &Bus{
		store:       st,
		instanceID:  newInstanceID(),
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// newInstanceID derives a random positive 64-bit instance id.
func newInstanceID() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]) &^ (1 << 63))
}

// InstanceID identifies this process in outbox rows.
func (b *Bus) InstanceID() int64 {
	return b.instanceID
}

// Publish appends the event to the durable outbox and broadcasts it to
// local subscribers. The broadcast is best-effort; the outbox append is
// the source of truth.
func (b *Bus) Publish(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s payload", eventType)
	}

	row, err := b.store.CreateRealtimeEvent(ctx, &store.CreateRealtimeEvent{
		EventType:      eventType,
		Payload:        data,
		SourceInstance: b.instanceID,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to append %s to outbox", eventType)
	}

	b.Metrics.RecordEvent(eventType)
	b.broadcast(&Event{ID: row.ID, Type: eventType, Payload: data})
	return nil
}

// Subscribe attaches a new subscriber with its own bounded buffer.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		C:   make(chan *Event, subscriberBuffer),
		bus: b,
	}
	sub.ping = time.AfterFunc(pingInterval, func() {
		sub.deliver(&Event{Type: EventPing, Payload: json.RawMessage("{}")})
	})

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) remove(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
}

func (b *Bus) broadcast(event *Event) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(event)
	}
}

// deliver hands the event to the subscriber without blocking; a full
// buffer drops the event for that subscriber only. Repeated overflow
// marks the subscriber as stalled and evicts it.
func (s *Subscriber) deliver(event *Event) {
	select {
	case s.C <- event:
		s.drops.Store(0)
		s.ping.Reset(pingInterval)
	default:
		s.ping.Reset(pingInterval)
		if dropped := s.drops.Add(1); dropped >= evictDropThreshold {
			slog.Warn("eventbus: subscriber stalled, evicting", "consecutive_drops", dropped)
			s.Close()
			return
		}
		slog.Warn("eventbus: subscriber buffer full, dropping event", "type", event.Type)
	}
}

// ReplaySince lists outbox events with id > lastID in order; used by the
// SSE handler on reconnect with Last-Event-ID.
func (b *Bus) ReplaySince(ctx context.Context, lastID int64) ([]*Event, error) {
	rows, err := b.store.ListRealtimeEvents(ctx, &store.FindRealtimeEvent{SinceID: lastID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to replay events")
	}
	events := make([]*Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, &Event{ID: row.ID, Type: row.EventType, Payload: row.Payload})
	}
	return events, nil
}

// RunPoller rebroadcasts outbox rows written by other instances until
// ctx is canceled. last_seen starts at MAX(id): no backfill of rows
// that predate this process.
func (b *Bus) RunPoller(ctx context.Context) {
	lastSeen, err := b.store.MaxRealtimeEventID(ctx)
	if err != nil {
		slog.Error("eventbus: failed to initialize poller cursor", "error", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rows, err := b.store.ListRealtimeEvents(ctx, &store.FindRealtimeEvent{
			SinceID:         lastSeen,
			ExcludeInstance: b.instanceID,
			Limit:           pollBatch,
		})
		if err != nil {
			slog.Error("eventbus: outbox poll failed", "error", err)
			continue
		}
		for _, row := range rows {
			b.broadcast(&Event{ID: row.ID, Type: row.EventType, Payload: row.Payload})
			if row.ID > lastSeen {
				lastSeen = row.ID
			}
		}
	}
}
