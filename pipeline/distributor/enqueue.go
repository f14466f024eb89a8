// Package distributor schedules parsed content into per-target queue
// items and runs the worker pool that pushes them to the sinks.
package distributor

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/rules"
	"github.com/linkhoard/linkhoard/store"
)

// defaultMaxAttempts is the push retry budget for a fresh queue item.
const defaultMaxAttempts = 3

// Service creates and refreshes queue items for a content across all
// matching rules and their targets.
type Service struct {
	store *store.Store
	rules *rules.Engine
	bus   *eventbus.Bus
}

// NewService creates an enqueue service.
func NewService(st *store.Store, engine *rules.Engine, bus *eventbus.Bus) *Service {
	return &Service{store: st, rules: engine, bus: bus}
}

// EnqueueContent evaluates every enabled rule against the content and
// creates one queue item per (rule, target) pair that decides to push.
// With force set, terminally failed items are reset and rescheduled.
// Contents that are not parsed, or that were rejected in review, are
// silently ignored.
func (s *Service) EnqueueContent(ctx context.Context, contentID int64, force bool) error {
	content, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return errors.Wrap(err, "load content")
	}
	if content == nil {
		return errors.Errorf("content %d not found", contentID)
	}
	if content.Status != store.ContentStatusParseSuccess {
		return nil
	}
	switch content.ReviewStatus {
	case store.ReviewStatusApproved, store.ReviewStatusAutoApproved, store.ReviewStatusPending:
	default:
		return nil
	}
	requireApproval := content.ReviewStatus == store.ReviewStatusPending

	matched, err := s.matchRules(ctx, content)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		return nil
	}

	ruleIDs := make([]int64, 0, len(matched))
	for _, rule := range matched {
		ruleIDs = append(ruleIDs, rule.ID)
	}

	enabled := true
	targets, err := s.store.ListDistributionTargets(ctx, &store.FindDistributionTarget{
		RuleIDs: ruleIDs,
		Enabled: &enabled,
	})
	if err != nil {
		return errors.Wrap(err, "list targets")
	}
	if len(targets) == 0 {
		return nil
	}

	chats, err := s.reachableChats(ctx, targets)
	if err != nil {
		return err
	}

	existing, err := s.existingItems(ctx, contentID, ruleIDs)
	if err != nil {
		return err
	}

	itemsChanged := 0
	for _, rule := range matched {
		for _, target := range targets {
			if target.RuleID != rule.ID {
				continue
			}
			chat := chats[target.BotChatID]
			if chat == nil {
				continue
			}

			decision := s.rules.Decide(content, rule, chat, requireApproval)
			if decision.Bucket == rules.BucketFiltered {
				continue
			}

			if item, ok := existing[itemKey{rule.ID, target.BotChatID}]; ok {
				if item.Status == store.QueueItemStatusFailed && force {
					if err := s.resetItem(ctx, item, content, rule, chat, decision); err != nil {
						slog.Warn("reset queue item failed", "item_id", item.ID, "error", err)
						continue
					}
					itemsChanged++
				}
				continue
			}

			if err := s.createItem(ctx, content, rule, target, chat, decision); err != nil {
				slog.Warn("create queue item failed",
					"content_id", contentID, "rule_id", rule.ID, "bot_chat_id", target.BotChatID, "error", err)
				continue
			}
			itemsChanged++
		}
	}

	if itemsChanged > 0 {
		if err := s.bus.Publish(ctx, eventbus.EventQueueUpdated, map[string]any{
			"action":        "enqueue",
			"content_id":    contentID,
			"items_changed": itemsChanged,
		}); err != nil {
			slog.Warn("publish queue_updated failed", "content_id", contentID, "error", err)
		}
	}
	return nil
}

func (s *Service) matchRules(ctx context.Context, content *store.Content) ([]*store.DistributionRule, error) {
	enabled := true
	ruleRows, err := s.store.ListDistributionRules(ctx, &store.FindDistributionRule{Enabled: &enabled})
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}

	var matched []*store.DistributionRule
	for _, rule := range ruleRows {
		ok, err := s.rules.Matches(content, rule.MatchConditions)
		if err != nil {
			slog.Warn("rule match failed", "rule_id", rule.ID, "content_id", content.ID, "error", err)
			continue
		}
		if ok {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

func (s *Service) reachableChats(ctx context.Context, targets []*store.DistributionTarget) (map[int64]*store.BotChat, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, target := range targets {
		if !seen[target.BotChatID] {
			seen[target.BotChatID] = true
			ids = append(ids, target.BotChatID)
		}
	}

	enabled, accessible := true, true
	chatRows, err := s.store.ListBotChats(ctx, &store.FindBotChat{
		IDs:          ids,
		Enabled:      &enabled,
		IsAccessible: &accessible,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list bot chats")
	}

	chats := make(map[int64]*store.BotChat, len(chatRows))
	for _, chat := range chatRows {
		chats[chat.ID] = chat
	}
	return chats, nil
}

type itemKey struct {
	ruleID    int64
	botChatID int64
}

func (s *Service) existingItems(ctx context.Context, contentID int64, ruleIDs []int64) (map[itemKey]*store.ContentQueueItem, error) {
	items, err := s.store.ListQueueItems(ctx, &store.FindQueueItem{
		ContentID: &contentID,
		RuleIDs:   ruleIDs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list existing queue items")
	}
	existing := make(map[itemKey]*store.ContentQueueItem, len(items))
	for _, item := range items {
		existing[itemKey{item.RuleID, item.BotChatID}] = item
	}
	return existing, nil
}

func (s *Service) createItem(ctx context.Context, content *store.Content, rule *store.DistributionRule, target *store.DistributionTarget, chat *store.BotChat, decision *rules.Decision) error {
	status := store.QueueItemStatusScheduled
	needsApproval := false
	if decision.Bucket == rules.BucketPendingReview {
		status = store.QueueItemStatusPending
		needsApproval = true
	}

	_, err := s.store.CreateQueueItem(ctx, &store.CreateQueueItem{
		ContentID:         content.ID,
		RuleID:            rule.ID,
		BotChatID:         chat.ID,
		TargetPlatform:    chat.PlatformType(),
		TargetID:          decision.TargetID,
		Status:            status,
		Priority:          rule.Priority + content.QueuePriority,
		ScheduledTs:       s.computeAutoScheduledAt(ctx, rule, chat.ID, decision.TargetID),
		NeedsApproval:     needsApproval,
		MaxAttempts:       defaultMaxAttempts,
		NSFWRoutingResult: decision.NSFWRoutingResult,
	})
	return err
}

// resetItem revives a terminally failed item under force: errors and
// attempts are cleared and the schedule recomputed.
func (s *Service) resetItem(ctx context.Context, item *store.ContentQueueItem, content *store.Content, rule *store.DistributionRule, chat *store.BotChat, decision *rules.Decision) error {
	status := store.QueueItemStatusScheduled
	needsApproval := false
	if decision.Bucket == rules.BucketPendingReview {
		status = store.QueueItemStatusPending
		needsApproval = true
	}

	var (
		zeroInt32   int32
		zeroInt64   int64
		emptyString string
	)
	scheduledTs := s.computeAutoScheduledAt(ctx, rule, chat.ID, decision.TargetID)
	_, err := s.store.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:                item.ID,
		Status:            &status,
		TargetID:          &decision.TargetID,
		ScheduledTs:       &scheduledTs,
		NeedsApproval:     &needsApproval,
		AttemptCount:      &zeroInt32,
		NextAttemptTs:     &zeroInt64,
		LastError:         &emptyString,
		LastErrorType:     &emptyString,
		LastErrorTs:       &zeroInt64,
		NSFWRoutingResult: &decision.NSFWRoutingResult,
	})
	return err
}

// computeAutoScheduledAt spaces pushes for a rate limited rule. Items
// are scheduled into the future instead of making workers sleep.
func (s *Service) computeAutoScheduledAt(ctx context.Context, rule *store.DistributionRule, botChatID int64, targetID string) int64 {
	now := time.Now().Unix()
	if rule.RateLimit <= 0 || rule.TimeWindowSec <= 0 {
		return now
	}

	minInterval := int64(rule.TimeWindowSec) / int64(rule.RateLimit)
	if minInterval < 1 {
		minInterval = 1
	}

	anchor, err := s.store.MaxQueueItemScheduledTs(ctx, &store.MaxScheduledTs{RuleID: rule.ID, BotChatID: botChatID})
	if err != nil {
		slog.Warn("queue anchor lookup failed", "rule_id", rule.ID, "error", err)
	}
	lastPushed, err := s.store.LatestPushedTs(ctx, targetID)
	if err != nil {
		slog.Warn("pushed anchor lookup failed", "target_id", targetID, "error", err)
	}
	if lastPushed > anchor {
		anchor = lastPushed
	}

	scheduled := now
	if anchor+minInterval > scheduled {
		scheduled = anchor + minInterval
	}

	window := int64(rule.TimeWindowSec)
	count, err := s.store.CountPushedInWindow(ctx, targetID, now-window, now)
	if err != nil {
		slog.Warn("pushed window count failed", "target_id", targetID, "error", err)
		return scheduled
	}
	if int32(count) >= rule.RateLimit {
		earliest, err := s.store.EarliestPushedTsInWindow(ctx, targetID, now-window, now)
		if err != nil {
			slog.Warn("pushed window floor failed", "target_id", targetID, "error", err)
			return scheduled
		}
		if floor := earliest + window; floor > scheduled {
			scheduled = floor
		}
	}
	return scheduled
}
