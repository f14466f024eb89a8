package store

import "encoding/json"

// QueueItemStatus tracks the distribution lifecycle of a queue item.
type QueueItemStatus string

const (
	QueueItemStatusPending    QueueItemStatus = "pending"
	QueueItemStatusScheduled  QueueItemStatus = "scheduled"
	QueueItemStatusProcessing QueueItemStatus = "processing"
	QueueItemStatusSuccess    QueueItemStatus = "success"
	QueueItemStatusFailed     QueueItemStatus = "failed"
	QueueItemStatusSkipped    QueueItemStatus = "skipped"
	QueueItemStatusCanceled   QueueItemStatus = "canceled"
)

// ContentQueueItem is one pending push of one content to one bot chat
// under one rule. (ContentID, RuleID, BotChatID) is unique.
//
// TargetID is the resolved destination chat id, which diverges from the
// bot chat's own ChatID after NSFW separate-channel routing.
// A row is owned by the worker named in LockedBy while LockedTs is within
// the lock timeout; other workers may only reclaim expired locks.
type ContentQueueItem struct {
	ID        int64
	ContentID int64
	RuleID    int64
	BotChatID int64

	TargetPlatform string
	TargetID       string

	Status   QueueItemStatus
	Priority int32

	// ScheduledTs of zero means claimable immediately.
	ScheduledTs int64

	NeedsApproval bool
	ApprovedTs    int64
	ApprovedBy    string

	AttemptCount int32
	MaxAttempts  int32
	// NextAttemptTs of zero on a failed row means the failure is terminal.
	NextAttemptTs int64

	LockedTs int64
	LockedBy string

	MessageID     string
	LastError     string
	LastErrorType string
	LastErrorTs   int64

	// NSFWRoutingResult caches the routing decision made at enqueue time,
	// e.g. {"target_id":"nsfw-123","routed":true}.
	NSFWRoutingResult json.RawMessage

	StartedTs   int64
	CompletedTs int64
	CreatedTs   int64
	UpdatedTs   int64
}

// CreateQueueItem holds the fields for inserting a queue item.
type CreateQueueItem struct {
	ContentID         int64
	RuleID            int64
	BotChatID         int64
	TargetPlatform    string
	TargetID          string
	Status            QueueItemStatus
	Priority          int32
	ScheduledTs       int64
	NeedsApproval     bool
	MaxAttempts       int32
	NSFWRoutingResult json.RawMessage
}

// FindQueueItem filters queue item listings.
type FindQueueItem struct {
	ID        *int64
	ContentID *int64
	RuleID    *int64
	RuleIDs   []int64
	BotChatID *int64
	Status    *QueueItemStatus
	Statuses  []QueueItemStatus
	Limit     *int
}

// UpdateQueueItem applies a partial update to a queue item.
type UpdateQueueItem struct {
	ID int64

	Status   *QueueItemStatus
	Priority *int32

	TargetID    *string
	ScheduledTs *int64

	NeedsApproval *bool
	ApprovedTs    *int64
	ApprovedBy    *string

	AttemptCount  *int32
	NextAttemptTs *int64

	LockedTs *int64
	LockedBy *string

	MessageID     *string
	LastError     *string
	LastErrorType *string
	LastErrorTs   *int64

	NSFWRoutingResult *json.RawMessage

	StartedTs   *int64
	CompletedTs *int64
}

// ClaimQueueItems describes one atomic claim batch for a distribution
// worker. Matching rows are flipped to processing and locked in the same
// transaction; the returned rows reflect the post-claim state.
type ClaimQueueItems struct {
	WorkerName     string
	Limit          int
	NowTs          int64
	LockTimeoutSec int64
}

// MaxScheduledTs finds the latest scheduled_at among non-terminal queue
// items of a (rule, bot chat) pair; used as a rate-limit anchor.
type MaxScheduledTs struct {
	RuleID    int64
	BotChatID int64
}
