package distributor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/metrics"
	"github.com/linkhoard/linkhoard/pipeline/rules"
	"github.com/linkhoard/linkhoard/plugin/sinks"
	"github.com/linkhoard/linkhoard/store"
)

const (
	defaultWorkers = 3
	claimBatchSize = 10
	claimPoll      = 5 * time.Second
	lockTimeoutSec = 600

	maxBackoffSec = 3600
)

// Pool runs N distribution workers that claim scheduled queue items
// and push them through the sinks. Workers coordinate only through
// queue item locks.
type Pool struct {
	store   *store.Store
	sinks   *sinks.Registry
	bus     *eventbus.Bus
	workers int

	// Metrics is optional; a nil exporter records nothing.
	Metrics *metrics.Exporter
}

// NewPool creates a distribution worker pool. workers of zero or less
// falls back to the default of 3.
func NewPool(st *store.Store, registry *sinks.Registry, bus *eventbus.Bus, workers int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pool{store: st, sinks: registry, bus: bus, workers: workers}
}

// Run starts the workers and blocks until the context is canceled and
// every worker finished its current item.
func (p *Pool) Run(ctx context.Context) {
	host, _ := os.Hostname()
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		name := fmt.Sprintf("%s-worker-%d-%s", host, i, shortuuid.New()[:8])
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, name)
		}()
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, name string) {
	slog.Info("distribution worker started", "worker", name)
	for {
		items, err := p.store.ClaimQueueItems(ctx, &store.ClaimQueueItems{
			WorkerName:     name,
			Limit:          claimBatchSize,
			NowTs:          time.Now().Unix(),
			LockTimeoutSec: lockTimeoutSec,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("claim queue items failed", "worker", name, "error", err)
		}
		if len(items) == 0 {
			select {
			case <-ctx.Done():
				slog.Info("distribution worker stopped", "worker", name)
				return
			case <-time.After(claimPoll):
			}
			continue
		}

		p.Metrics.RecordClaimed(len(items))
		for _, item := range items {
			p.processItem(ctx, name, item)
		}
		if ctx.Err() != nil {
			slog.Info("distribution worker stopped", "worker", name)
			return
		}
	}
}

// ProcessItemNow runs one item inline, bypassing the scheduler filter.
// Terminal items (success, skipped, canceled) are rejected.
func (p *Pool) ProcessItemNow(ctx context.Context, itemID int64) error {
	item, err := p.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return errors.Wrap(err, "load queue item")
	}
	if item == nil {
		return errors.Errorf("queue item %d not found", itemID)
	}
	switch item.Status {
	case store.QueueItemStatusSuccess, store.QueueItemStatusSkipped, store.QueueItemStatusCanceled:
		return errors.Errorf("queue item %d is %s and cannot be reprocessed", itemID, item.Status)
	}

	host, _ := os.Hostname()
	worker := fmt.Sprintf("%s-manual-%s", host, shortuuid.New()[:8])
	now := time.Now().Unix()
	processing := store.QueueItemStatusProcessing
	startedTs := item.StartedTs
	if startedTs == 0 {
		startedTs = now
	}
	item, err = p.store.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:        itemID,
		Status:    &processing,
		LockedTs:  &now,
		LockedBy:  &worker,
		StartedTs: &startedTs,
	})
	if err != nil {
		return errors.Wrap(err, "lock queue item")
	}

	p.processItem(ctx, worker, item)
	return nil
}

func (p *Pool) processItem(ctx context.Context, worker string, item *store.ContentQueueItem) {
	content, err := p.store.GetContent(ctx, item.ContentID)
	if err != nil {
		p.handleFailure(ctx, item, errors.Wrap(err, "load content"))
		return
	}
	rule, err := p.store.GetDistributionRule(ctx, item.RuleID)
	if err != nil {
		p.handleFailure(ctx, item, errors.Wrap(err, "load rule"))
		return
	}
	chat, err := p.store.GetBotChat(ctx, item.BotChatID)
	if err != nil {
		p.handleFailure(ctx, item, errors.Wrap(err, "load bot chat"))
		return
	}
	if content == nil || rule == nil || chat == nil {
		p.skip(ctx, item, "content, rule or chat deleted")
		return
	}

	// The chat may have been disabled between claim and processing.
	// Reschedule, do not fail.
	if !chat.Enabled || !chat.IsAccessible {
		p.reschedule(ctx, item, "target unavailable")
		return
	}

	eligible := content.Status == store.ContentStatusParseSuccess &&
		(content.ReviewStatus == store.ReviewStatusApproved || content.ReviewStatus == store.ReviewStatusAutoApproved)
	if !eligible {
		p.skip(ctx, item, "not eligible")
		return
	}

	targetID := resolveTargetID(item)

	record, err := p.store.GetPushedRecord(ctx, item.ContentID, targetID)
	if err != nil {
		p.handleFailure(ctx, item, errors.Wrap(err, "pushed record lookup"))
		return
	}
	if record != nil {
		p.skip(ctx, item, "already pushed")
		return
	}

	payload, err := p.buildPayload(ctx, content, rule, item)
	if err != nil {
		p.handleFailure(ctx, item, err)
		return
	}

	sink, err := p.sinks.Get(item.TargetPlatform)
	if err != nil {
		p.handleFailure(ctx, item, err)
		return
	}

	pushStart := time.Now()
	messageID, err := sink.Push(ctx, payload, targetID)
	p.Metrics.RecordPush(item.TargetPlatform, time.Since(pushStart), err == nil)
	if err != nil {
		p.handleFailure(ctx, item, err)
		return
	}
	if messageID == "" && item.TargetPlatform == "telegram" {
		// The Bot API client occasionally swallows the message id.
		// Treating the push as successful avoids a duplicate send.
		messageID = fmt.Sprintf("telegram-noid-%d-%d-%d", time.Now().UnixMilli(), item.ID, item.AttemptCount+1)
	}

	p.commitSuccess(ctx, worker, item, chat, targetID, messageID)
}

// resolveTargetID prefers the routing decision cached at enqueue time
// over the item's direct target.
func resolveTargetID(item *store.ContentQueueItem) string {
	if len(item.NSFWRoutingResult) > 0 {
		var routing rules.NSFWRouting
		if err := json.Unmarshal(item.NSFWRoutingResult, &routing); err == nil && routing.TargetID != "" {
			return routing.TargetID
		}
	}
	return item.TargetID
}

// buildPayload assembles the sink payload with the rule's render
// config merged against the target's override.
func (p *Pool) buildPayload(ctx context.Context, content *store.Content, rule *store.DistributionRule, item *store.ContentQueueItem) (*sinks.Payload, error) {
	var override json.RawMessage
	targets, err := p.store.ListDistributionTargets(ctx, &store.FindDistributionTarget{
		RuleID:    &item.RuleID,
		BotChatID: &item.BotChatID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "load target override")
	}
	if len(targets) > 0 {
		override = targets[0].RenderConfigOverride
	}

	render, _, err := sinks.MergeRenderConfigs(rule.RenderConfig, override)
	if err != nil {
		return nil, errors.Wrap(err, "merge render config")
	}

	return &sinks.Payload{
		ID:              content.ID,
		Platform:        string(content.Platform),
		ContentType:     content.ContentType,
		LayoutType:      string(content.LayoutType),
		Title:           content.Title,
		Body:            content.Body,
		Summary:         content.Summary,
		AuthorName:      content.AuthorName,
		AuthorID:        content.AuthorID,
		AuthorAvatarURL: content.AuthorAvatarURL,
		CoverURL:        content.CoverURL,
		MediaURLs:       content.MediaURLs,
		Tags:            content.Tags,
		CanonicalURL:    content.CanonicalURL,
		URL:             content.URL,
		CleanURL:        content.CleanURL,
		IsNSFW:          content.IsNSFW,
		PublishedTs:     content.PublishedTs,
		Render:          render,
		ArchiveMetadata: content.ArchiveMetadata,
	}, nil
}

func (p *Pool) commitSuccess(ctx context.Context, worker string, item *store.ContentQueueItem, chat *store.BotChat, targetID, messageID string) {
	now := time.Now().Unix()
	success := store.QueueItemStatusSuccess
	var (
		zeroInt64   int64
		emptyString string
	)
	if _, err := p.store.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:            item.ID,
		Status:        &success,
		MessageID:     &messageID,
		CompletedTs:   &now,
		NextAttemptTs: &zeroInt64,
		LastError:     &emptyString,
		LastErrorType: &emptyString,
		LastErrorTs:   &zeroInt64,
		LockedTs:      &zeroInt64,
		LockedBy:      &emptyString,
	}); err != nil {
		slog.Error("commit push success failed", "item_id", item.ID, "error", err)
		return
	}

	if _, err := p.store.CreatePushedRecord(ctx, &store.CreatePushedRecord{
		ContentID:      item.ContentID,
		TargetPlatform: item.TargetPlatform,
		TargetID:       targetID,
		MessageID:      messageID,
		Status:         store.PushStatusSuccess,
	}); err != nil {
		slog.Error("record pushed failed", "item_id", item.ID, "error", err)
	}
	if err := p.store.IncrementBotChatPushed(ctx, chat.ID, now); err != nil {
		slog.Warn("increment bot chat pushed failed", "bot_chat_id", chat.ID, "error", err)
	}

	slog.Info("content pushed",
		"worker", worker,
		"item_id", item.ID,
		"content_id", item.ContentID,
		"target_platform", item.TargetPlatform,
		"target_id", targetID,
		"message_id", messageID)

	payload := map[string]any{
		"content_id": item.ContentID,
		"item_id":    item.ID,
		"target_id":  targetID,
		"message_id": messageID,
	}
	for _, eventType := range []string{eventbus.EventContentPushed, eventbus.EventPushSuccess, eventbus.EventQueueUpdated} {
		if err := p.bus.Publish(ctx, eventType, payload); err != nil {
			slog.Warn("publish push event failed", "event", eventType, "item_id", item.ID, "error", err)
		}
	}
}

// reschedule puts a claimed item back to scheduled without burning an
// attempt, e.g. when its chat became unreachable mid-flight.
func (p *Pool) reschedule(ctx context.Context, item *store.ContentQueueItem, reason string) {
	scheduled := store.QueueItemStatusScheduled
	var (
		zeroInt64   int64
		emptyString string
	)
	now := time.Now().Unix()
	if _, err := p.store.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:            item.ID,
		Status:        &scheduled,
		NextAttemptTs: &zeroInt64,
		LastError:     &reason,
		LastErrorTs:   &now,
		LockedTs:      &zeroInt64,
		LockedBy:      &emptyString,
	}); err != nil {
		slog.Error("reschedule queue item failed", "item_id", item.ID, "error", err)
	}
}

func (p *Pool) skip(ctx context.Context, item *store.ContentQueueItem, reason string) {
	skipped := store.QueueItemStatusSkipped
	now := time.Now().Unix()
	var (
		zeroInt64   int64
		emptyString string
	)
	if _, err := p.store.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:          item.ID,
		Status:      &skipped,
		LastError:   &reason,
		CompletedTs: &now,
		LockedTs:    &zeroInt64,
		LockedBy:    &emptyString,
	}); err != nil {
		slog.Error("skip queue item failed", "item_id", item.ID, "error", err)
	}
}

func (p *Pool) handleFailure(ctx context.Context, item *store.ContentQueueItem, pushErr error) {
	now := time.Now().Unix()
	attempt := item.AttemptCount + 1
	failed := store.QueueItemStatusFailed
	errMsg := pushErr.Error()
	errType := "push_error"
	var (
		zeroInt64   int64
		emptyString string
	)

	// next_attempt_ts of zero marks the failure terminal.
	nextAttempt := zeroInt64
	if attempt < item.MaxAttempts {
		backoff := int64(60) << attempt
		if backoff > maxBackoffSec {
			backoff = maxBackoffSec
		}
		nextAttempt = now + backoff
	}

	if _, err := p.store.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:            item.ID,
		Status:        &failed,
		AttemptCount:  &attempt,
		NextAttemptTs: &nextAttempt,
		LastError:     &errMsg,
		LastErrorType: &errType,
		LastErrorTs:   &now,
		LockedTs:      &zeroInt64,
		LockedBy:      &emptyString,
	}); err != nil {
		slog.Error("record push failure failed", "item_id", item.ID, "error", err)
	}

	slog.Warn("push failed",
		"item_id", item.ID,
		"content_id", item.ContentID,
		"attempt", attempt,
		"max_attempts", item.MaxAttempts,
		"next_attempt_ts", nextAttempt,
		"error", pushErr)

	payload := map[string]any{
		"content_id": item.ContentID,
		"item_id":    item.ID,
		"attempt":    attempt,
		"error":      errMsg,
	}
	for _, eventType := range []string{eventbus.EventPushFailed, eventbus.EventQueueUpdated} {
		if err := p.bus.Publish(ctx, eventType, payload); err != nil {
			slog.Warn("publish push event failed", "event", eventType, "item_id", item.ID, "error", err)
		}
	}
}
