package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error

	// Content.
	CreateContent(ctx context.Context, create *CreateContent) (*Content, error)
	ListContents(ctx context.Context, find *FindContent) ([]*Content, error)
	UpdateContent(ctx context.Context, update *UpdateContent) (*Content, error)
	DeleteContent(ctx context.Context, delete *DeleteContent) error

	// ContentSource.
	CreateContentSource(ctx context.Context, create *CreateContentSource) (*ContentSource, error)
	ListContentSources(ctx context.Context, find *FindContentSource) ([]*ContentSource, error)

	// PushedRecord.
	CreatePushedRecord(ctx context.Context, create *CreatePushedRecord) (*PushedRecord, error)
	ListPushedRecords(ctx context.Context, find *FindPushedRecord) ([]*PushedRecord, error)
	CountPushedInWindow(ctx context.Context, targetID string, fromTs, toTs int64) (int, error)
	EarliestPushedTsInWindow(ctx context.Context, targetID string, fromTs, toTs int64) (int64, error)
	LatestPushedTs(ctx context.Context, targetID string) (int64, error)

	// DistributionRule.
	CreateDistributionRule(ctx context.Context, create *CreateDistributionRule) (*DistributionRule, error)
	ListDistributionRules(ctx context.Context, find *FindDistributionRule) ([]*DistributionRule, error)
	UpdateDistributionRule(ctx context.Context, update *UpdateDistributionRule) (*DistributionRule, error)
	DeleteDistributionRule(ctx context.Context, id int64) error

	// DistributionTarget.
	CreateDistributionTarget(ctx context.Context, create *CreateDistributionTarget) (*DistributionTarget, error)
	ListDistributionTargets(ctx context.Context, find *FindDistributionTarget) ([]*DistributionTarget, error)
	UpdateDistributionTarget(ctx context.Context, update *UpdateDistributionTarget) (*DistributionTarget, error)
	DeleteDistributionTarget(ctx context.Context, id int64) error

	// BotChat.
	CreateBotChat(ctx context.Context, create *CreateBotChat) (*BotChat, error)
	ListBotChats(ctx context.Context, find *FindBotChat) ([]*BotChat, error)
	UpdateBotChat(ctx context.Context, update *UpdateBotChat) (*BotChat, error)
	IncrementBotChatPushed(ctx context.Context, id int64, pushedTs int64) error
	DeleteBotChat(ctx context.Context, id int64) error

	// ContentQueueItem.
	CreateQueueItem(ctx context.Context, create *CreateQueueItem) (*ContentQueueItem, error)
	ListQueueItems(ctx context.Context, find *FindQueueItem) ([]*ContentQueueItem, error)
	UpdateQueueItem(ctx context.Context, update *UpdateQueueItem) (*ContentQueueItem, error)
	ClaimQueueItems(ctx context.Context, claim *ClaimQueueItems) ([]*ContentQueueItem, error)
	MaxQueueItemScheduledTs(ctx context.Context, find *MaxScheduledTs) (int64, error)

	// Task.
	CreateTask(ctx context.Context, create *CreateTask) (*Task, error)
	ClaimNextTask(ctx context.Context, claim *ClaimNextTask) (*Task, error)
	ListTasks(ctx context.Context, find *FindTask) ([]*Task, error)
	UpdateTask(ctx context.Context, update *UpdateTask) (*Task, error)

	// RealtimeEvent outbox.
	CreateRealtimeEvent(ctx context.Context, create *CreateRealtimeEvent) (*RealtimeEvent, error)
	ListRealtimeEvents(ctx context.Context, find *FindRealtimeEvent) ([]*RealtimeEvent, error)
	MaxRealtimeEventID(ctx context.Context) (int64, error)
	PruneRealtimeEventsBefore(ctx context.Context, ts int64) (int64, error)
}
