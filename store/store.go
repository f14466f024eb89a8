// Package store provides database access to all persisted objects.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Migrate applies the schema when the database is uninitialized.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}
	return s.driver.Migrate(ctx)
}

// Content.

func (s *Store) CreateContent(ctx context.Context, create *CreateContent) (*Content, error) {
	return s.driver.CreateContent(ctx, create)
}

func (s *Store) ListContents(ctx context.Context, find *FindContent) ([]*Content, error) {
	return s.driver.ListContents(ctx, find)
}

// GetContent returns the content with the given id, or nil when absent.
func (s *Store) GetContent(ctx context.Context, id int64) (*Content, error) {
	list, err := s.driver.ListContents(ctx, &FindContent{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// GetContentByCanonicalURL returns the content with the given dedup key,
// or nil when absent.
func (s *Store) GetContentByCanonicalURL(ctx context.Context, platform Platform, canonicalURL string) (*Content, error) {
	list, err := s.driver.ListContents(ctx, &FindContent{Platform: &platform, CanonicalURL: &canonicalURL})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateContent(ctx context.Context, update *UpdateContent) (*Content, error) {
	return s.driver.UpdateContent(ctx, update)
}

func (s *Store) DeleteContent(ctx context.Context, delete *DeleteContent) error {
	return s.driver.DeleteContent(ctx, delete)
}

// ContentSource.

func (s *Store) CreateContentSource(ctx context.Context, create *CreateContentSource) (*ContentSource, error) {
	return s.driver.CreateContentSource(ctx, create)
}

func (s *Store) ListContentSources(ctx context.Context, find *FindContentSource) ([]*ContentSource, error) {
	return s.driver.ListContentSources(ctx, find)
}

// PushedRecord.

func (s *Store) CreatePushedRecord(ctx context.Context, create *CreatePushedRecord) (*PushedRecord, error) {
	return s.driver.CreatePushedRecord(ctx, create)
}

func (s *Store) ListPushedRecords(ctx context.Context, find *FindPushedRecord) ([]*PushedRecord, error) {
	return s.driver.ListPushedRecords(ctx, find)
}

// GetPushedRecord returns the record for (contentID, targetID), or nil.
func (s *Store) GetPushedRecord(ctx context.Context, contentID int64, targetID string) (*PushedRecord, error) {
	list, err := s.driver.ListPushedRecords(ctx, &FindPushedRecord{ContentID: &contentID, TargetID: &targetID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) CountPushedInWindow(ctx context.Context, targetID string, fromTs, toTs int64) (int, error) {
	return s.driver.CountPushedInWindow(ctx, targetID, fromTs, toTs)
}

func (s *Store) EarliestPushedTsInWindow(ctx context.Context, targetID string, fromTs, toTs int64) (int64, error) {
	return s.driver.EarliestPushedTsInWindow(ctx, targetID, fromTs, toTs)
}

func (s *Store) LatestPushedTs(ctx context.Context, targetID string) (int64, error) {
	return s.driver.LatestPushedTs(ctx, targetID)
}

// DistributionRule.

func (s *Store) CreateDistributionRule(ctx context.Context, create *CreateDistributionRule) (*DistributionRule, error) {
	return s.driver.CreateDistributionRule(ctx, create)
}

func (s *Store) ListDistributionRules(ctx context.Context, find *FindDistributionRule) ([]*DistributionRule, error) {
	return s.driver.ListDistributionRules(ctx, find)
}

// GetDistributionRule returns the rule with the given id, or nil.
func (s *Store) GetDistributionRule(ctx context.Context, id int64) (*DistributionRule, error) {
	list, err := s.driver.ListDistributionRules(ctx, &FindDistributionRule{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateDistributionRule(ctx context.Context, update *UpdateDistributionRule) (*DistributionRule, error) {
	return s.driver.UpdateDistributionRule(ctx, update)
}

func (s *Store) DeleteDistributionRule(ctx context.Context, id int64) error {
	return s.driver.DeleteDistributionRule(ctx, id)
}

// DistributionTarget.

func (s *Store) CreateDistributionTarget(ctx context.Context, create *CreateDistributionTarget) (*DistributionTarget, error) {
	return s.driver.CreateDistributionTarget(ctx, create)
}

func (s *Store) ListDistributionTargets(ctx context.Context, find *FindDistributionTarget) ([]*DistributionTarget, error) {
	return s.driver.ListDistributionTargets(ctx, find)
}

func (s *Store) UpdateDistributionTarget(ctx context.Context, update *UpdateDistributionTarget) (*DistributionTarget, error) {
	return s.driver.UpdateDistributionTarget(ctx, update)
}

func (s *Store) DeleteDistributionTarget(ctx context.Context, id int64) error {
	return s.driver.DeleteDistributionTarget(ctx, id)
}

// BotChat.

func (s *Store) CreateBotChat(ctx context.Context, create *CreateBotChat) (*BotChat, error) {
	return s.driver.CreateBotChat(ctx, create)
}

func (s *Store) ListBotChats(ctx context.Context, find *FindBotChat) ([]*BotChat, error) {
	return s.driver.ListBotChats(ctx, find)
}

// GetBotChat returns the bot chat with the given id, or nil.
func (s *Store) GetBotChat(ctx context.Context, id int64) (*BotChat, error) {
	list, err := s.driver.ListBotChats(ctx, &FindBotChat{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateBotChat(ctx context.Context, update *UpdateBotChat) (*BotChat, error) {
	return s.driver.UpdateBotChat(ctx, update)
}

func (s *Store) IncrementBotChatPushed(ctx context.Context, id int64, pushedTs int64) error {
	return s.driver.IncrementBotChatPushed(ctx, id, pushedTs)
}

func (s *Store) DeleteBotChat(ctx context.Context, id int64) error {
	return s.driver.DeleteBotChat(ctx, id)
}

// ContentQueueItem.

func (s *Store) CreateQueueItem(ctx context.Context, create *CreateQueueItem) (*ContentQueueItem, error) {
	return s.driver.CreateQueueItem(ctx, create)
}

func (s *Store) ListQueueItems(ctx context.Context, find *FindQueueItem) ([]*ContentQueueItem, error) {
	return s.driver.ListQueueItems(ctx, find)
}

// GetQueueItem returns the queue item with the given id, or nil.
func (s *Store) GetQueueItem(ctx context.Context, id int64) (*ContentQueueItem, error) {
	list, err := s.driver.ListQueueItems(ctx, &FindQueueItem{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateQueueItem(ctx context.Context, update *UpdateQueueItem) (*ContentQueueItem, error) {
	return s.driver.UpdateQueueItem(ctx, update)
}

func (s *Store) ClaimQueueItems(ctx context.Context, claim *ClaimQueueItems) ([]*ContentQueueItem, error) {
	return s.driver.ClaimQueueItems(ctx, claim)
}

func (s *Store) MaxQueueItemScheduledTs(ctx context.Context, find *MaxScheduledTs) (int64, error) {
	return s.driver.MaxQueueItemScheduledTs(ctx, find)
}

// Task.

func (s *Store) CreateTask(ctx context.Context, create *CreateTask) (*Task, error) {
	return s.driver.CreateTask(ctx, create)
}

func (s *Store) ClaimNextTask(ctx context.Context, claim *ClaimNextTask) (*Task, error) {
	return s.driver.ClaimNextTask(ctx, claim)
}

func (s *Store) ListTasks(ctx context.Context, find *FindTask) ([]*Task, error) {
	return s.driver.ListTasks(ctx, find)
}

func (s *Store) UpdateTask(ctx context.Context, update *UpdateTask) (*Task, error) {
	return s.driver.UpdateTask(ctx, update)
}

// RealtimeEvent outbox.

func (s *Store) CreateRealtimeEvent(ctx context.Context, create *CreateRealtimeEvent) (*RealtimeEvent, error) {
	return s.driver.CreateRealtimeEvent(ctx, create)
}

func (s *Store) ListRealtimeEvents(ctx context.Context, find *FindRealtimeEvent) ([]*RealtimeEvent, error) {
	return s.driver.ListRealtimeEvents(ctx, find)
}

func (s *Store) MaxRealtimeEventID(ctx context.Context) (int64, error) {
	return s.driver.MaxRealtimeEventID(ctx)
}

func (s *Store) PruneRealtimeEventsBefore(ctx context.Context, ts int64) (int64, error) {
	return s.driver.PruneRealtimeEventsBefore(ctx, ts)
}
