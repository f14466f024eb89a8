package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/store"
	"github.com/linkhoard/linkhoard/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "linkhoard_test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func newClaimFixture(t *testing.T, st *store.Store) (*store.Content, *store.DistributionRule, *store.BotChat) {
	t.Helper()
	ctx := context.Background()

	content, err := st.CreateContent(ctx, &store.CreateContent{
		Platform:     store.PlatformBilibili,
		URL:          "https://www.bilibili.com/video/BV1xx411c7Xg",
		CanonicalURL: "https://www.bilibili.com/video/BV1xx411c7Xg",
		LayoutType:   store.LayoutTypeLink,
	})
	require.NoError(t, err)

	rule, err := st.CreateDistributionRule(ctx, &store.CreateDistributionRule{
		Name:    "everything",
		Enabled: true,
	})
	require.NoError(t, err)

	chat, err := st.CreateBotChat(ctx, &store.CreateBotChat{
		ChatID:       "-100123",
		ChatType:     store.ChatTypeChannel,
		Title:        "main channel",
		Enabled:      true,
		IsAccessible: true,
	})
	require.NoError(t, err)

	return content, rule, chat
}

func createItem(t *testing.T, st *store.Store, create *store.CreateQueueItem) *store.ContentQueueItem {
	t.Helper()
	item, err := st.CreateQueueItem(context.Background(), create)
	require.NoError(t, err)
	return item
}

func TestClaimQueueItems(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	content, rule, chat := newClaimFixture(t, st)
	now := time.Now().Unix()

	due := createItem(t, st, &store.CreateQueueItem{
		ContentID:      content.ID,
		RuleID:         rule.ID,
		BotChatID:      chat.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		Status:         store.QueueItemStatusScheduled,
		Priority:       1,
		MaxAttempts:    3,
	})

	claimed, err := st.ClaimQueueItems(ctx, &store.ClaimQueueItems{
		WorkerName:     "test-worker",
		Limit:          10,
		NowTs:          now,
		LockTimeoutSec: 600,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, store.QueueItemStatusProcessing, claimed[0].Status)
	assert.Equal(t, "test-worker", claimed[0].LockedBy)
	assert.Equal(t, now, claimed[0].LockedTs)
	assert.NotZero(t, claimed[0].StartedTs)

	// A freshly locked item is invisible to other workers.
	claimed, err = st.ClaimQueueItems(ctx, &store.ClaimQueueItems{
		WorkerName:     "other-worker",
		Limit:          10,
		NowTs:          now,
		LockTimeoutSec: 600,
	})
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Once the lock expires the item is reclaimed.
	claimed, err = st.ClaimQueueItems(ctx, &store.ClaimQueueItems{
		WorkerName:     "other-worker",
		Limit:          10,
		NowTs:          now + 601,
		LockTimeoutSec: 600,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "other-worker", claimed[0].LockedBy)
}

func TestClaimQueueItemsFilters(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	content, rule, chat := newClaimFixture(t, st)
	now := time.Now().Unix()

	// Scheduled in the future: never claimable before its time.
	createItem(t, st, &store.CreateQueueItem{
		ContentID:      content.ID,
		RuleID:         rule.ID,
		BotChatID:      chat.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		Status:         store.QueueItemStatusScheduled,
		ScheduledTs:    now + 3600,
		MaxAttempts:    3,
	})
	// Waiting on review.
	createItem(t, st, &store.CreateQueueItem{
		ContentID:      content.ID,
		RuleID:         rule.ID + 1,
		BotChatID:      chat.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		Status:         store.QueueItemStatusPending,
		NeedsApproval:  true,
		MaxAttempts:    3,
	})

	claimed, err := st.ClaimQueueItems(ctx, &store.ClaimQueueItems{
		WorkerName:     "test-worker",
		Limit:          10,
		NowTs:          now,
		LockTimeoutSec: 600,
	})
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimQueueItemsFailedRetry(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	content, rule, chat := newClaimFixture(t, st)
	now := time.Now().Unix()

	failed := store.QueueItemStatusFailed

	retryable := createItem(t, st, &store.CreateQueueItem{
		ContentID:      content.ID,
		RuleID:         rule.ID,
		BotChatID:      chat.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		Status:         store.QueueItemStatusScheduled,
		MaxAttempts:    3,
	})
	nextAttempt := now - 1
	_, err := st.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:            retryable.ID,
		Status:        &failed,
		NextAttemptTs: &nextAttempt,
	})
	require.NoError(t, err)

	terminal := createItem(t, st, &store.CreateQueueItem{
		ContentID:      content.ID,
		RuleID:         rule.ID + 1,
		BotChatID:      chat.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		Status:         store.QueueItemStatusScheduled,
		MaxAttempts:    3,
	})
	terminalTs := int64(0)
	_, err = st.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:            terminal.ID,
		Status:        &failed,
		NextAttemptTs: &terminalTs,
	})
	require.NoError(t, err)

	claimed, err := st.ClaimQueueItems(ctx, &store.ClaimQueueItems{
		WorkerName:     "test-worker",
		Limit:          10,
		NowTs:          now,
		LockTimeoutSec: 600,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, retryable.ID, claimed[0].ID)
}

func TestClaimQueueItemsSkipsUnavailableChat(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	content, rule, chat := newClaimFixture(t, st)
	now := time.Now().Unix()

	createItem(t, st, &store.CreateQueueItem{
		ContentID:      content.ID,
		RuleID:         rule.ID,
		BotChatID:      chat.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		Status:         store.QueueItemStatusScheduled,
		MaxAttempts:    3,
	})

	disabled := false
	_, err := st.UpdateBotChat(ctx, &store.UpdateBotChat{ID: chat.ID, Enabled: &disabled})
	require.NoError(t, err)

	claimed, err := st.ClaimQueueItems(ctx, &store.ClaimQueueItems{
		WorkerName:     "test-worker",
		Limit:          10,
		NowTs:          now,
		LockTimeoutSec: 600,
	})
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimQueueItemsOrdering(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	content, rule, chat := newClaimFixture(t, st)
	now := time.Now().Unix()

	low := createItem(t, st, &store.CreateQueueItem{
		ContentID:      content.ID,
		RuleID:         rule.ID,
		BotChatID:      chat.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		Status:         store.QueueItemStatusScheduled,
		Priority:       1,
		MaxAttempts:    3,
	})
	high := createItem(t, st, &store.CreateQueueItem{
		ContentID:      content.ID,
		RuleID:         rule.ID + 1,
		BotChatID:      chat.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		Status:         store.QueueItemStatusScheduled,
		Priority:       9,
		MaxAttempts:    3,
	})

	claimed, err := st.ClaimQueueItems(ctx, &store.ClaimQueueItems{
		WorkerName:     "test-worker",
		Limit:          10,
		NowTs:          now,
		LockTimeoutSec: 600,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, high.ID, claimed[0].ID)
	assert.Equal(t, low.ID, claimed[1].ID)
}

func TestPushedRecordWindowCounters(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().Unix()

	for i := int64(1); i <= 3; i++ {
		_, err := st.CreatePushedRecord(ctx, &store.CreatePushedRecord{
			ContentID:      i,
			TargetPlatform: "telegram",
			TargetID:       "-100123",
			MessageID:      "m",
		})
		require.NoError(t, err)
	}
	_, err := st.CreatePushedRecord(ctx, &store.CreatePushedRecord{
		ContentID:      99,
		TargetPlatform: "telegram",
		TargetID:       "-100999",
		MessageID:      "m",
	})
	require.NoError(t, err)

	count, err := st.CountPushedInWindow(ctx, "-100123", now-60, now+60)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = st.CountPushedInWindow(ctx, "-100123", now+3600, now+7200)
	require.NoError(t, err)
	assert.Zero(t, count)

	earliest, err := st.EarliestPushedTsInWindow(ctx, "-100123", now-60, now+60)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, earliest, now-60)

	latest, err := st.LatestPushedTs(ctx, "-100123")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latest, earliest)

	dedup, err := st.GetPushedRecord(ctx, 1, "-100123")
	require.NoError(t, err)
	require.NotNil(t, dedup)
	assert.Equal(t, store.PushStatusSuccess, dedup.Status)

	missing, err := st.GetPushedRecord(ctx, 1, "-100999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
