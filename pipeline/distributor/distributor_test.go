package distributor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/rules"
	"github.com/linkhoard/linkhoard/plugin/sinks"
	"github.com/linkhoard/linkhoard/store"
	"github.com/linkhoard/linkhoard/store/db/sqlite"
)

type fakeSink struct {
	name      string
	messageID string
	err       error
	pushed    []string
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Push(_ context.Context, _ *sinks.Payload, targetID string) (string, error) {
	s.pushed = append(s.pushed, targetID)
	return s.messageID, s.err
}

type testEnv struct {
	store   *store.Store
	bus     *eventbus.Bus
	service *Service
	pool    *Pool
	sink    *fakeSink
}

func newTestEnv(t *testing.T) *testEnv {
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

	engine, err := rules.NewEngine()
	require.NoError(t, err)
	bus := eventbus.NewBus(st)

	sink := &fakeSink{name: "telegram", messageID: "msg-1"}
	registry := sinks.NewRegistry()
	registry.Register(sink)

	return &testEnv{
		store:   st,
		bus:     bus,
		service: NewService(st, engine, bus),
		pool:    NewPool(st, registry, bus, 1),
		sink:    sink,
	}
}

func (e *testEnv) newParsedContent(t *testing.T, canonicalURL string, review store.ReviewStatus) *store.Content {
	t.Helper()
	ctx := context.Background()
	content, err := e.store.CreateContent(ctx, &store.CreateContent{
		Platform:     store.PlatformBilibili,
		URL:          canonicalURL,
		CanonicalURL: canonicalURL,
		CleanURL:     canonicalURL,
		Status:       store.ContentStatusUnprocessed,
		ReviewStatus: store.ReviewStatusPending,
		LayoutType:   store.LayoutTypeVideo,
	})
	require.NoError(t, err)

	success := store.ContentStatusParseSuccess
	title := "a video"
	content, err = e.store.UpdateContent(ctx, &store.UpdateContent{
		ID:           content.ID,
		Status:       &success,
		ReviewStatus: &review,
		Title:        &title,
	})
	require.NoError(t, err)
	return content
}

func (e *testEnv) newRuleWithTarget(t *testing.T, rule *store.CreateDistributionRule) (*store.DistributionRule, *store.BotChat) {
	t.Helper()
	ctx := context.Background()
	created, err := e.store.CreateDistributionRule(ctx, rule)
	require.NoError(t, err)

	chat, err := e.store.CreateBotChat(ctx, &store.CreateBotChat{
		ChatID:       "-100123",
		ChatType:     store.ChatTypeChannel,
		Title:        "main channel",
		Enabled:      true,
		IsAccessible: true,
	})
	require.NoError(t, err)

	_, err = e.store.CreateDistributionTarget(ctx, &store.CreateDistributionTarget{
		RuleID:    created.ID,
		BotChatID: chat.ID,
		Enabled:   true,
	})
	require.NoError(t, err)
	return created, chat
}

func (e *testEnv) soleQueueItem(t *testing.T, contentID int64) *store.ContentQueueItem {
	t.Helper()
	items, err := e.store.ListQueueItems(context.Background(), &store.FindQueueItem{ContentID: &contentID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func TestService_EnqueueContent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	rule, chat := env.newRuleWithTarget(t, &store.CreateDistributionRule{
		Name:     "all bilibili",
		Enabled:  true,
		Priority: 5,
	})

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1a", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))

	item := env.soleQueueItem(t, content.ID)
	assert.Equal(t, store.QueueItemStatusScheduled, item.Status)
	assert.Equal(t, rule.ID, item.RuleID)
	assert.Equal(t, chat.ID, item.BotChatID)
	assert.Equal(t, chat.ChatID, item.TargetID)
	assert.Equal(t, "telegram", item.TargetPlatform)
	assert.Equal(t, int32(5), item.Priority)
	assert.False(t, item.NeedsApproval)
	assert.LessOrEqual(t, item.ScheduledTs, time.Now().Unix())

	// A second enqueue does not duplicate the item.
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	env.soleQueueItem(t, content.ID)
}

func TestService_EnqueueUnparsedIsNoOp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "r", Enabled: true})

	content, err := env.store.CreateContent(ctx, &store.CreateContent{
		Platform:     store.PlatformBilibili,
		URL:          "https://www.bilibili.com/video/BV1raw",
		CanonicalURL: "https://www.bilibili.com/video/BV1raw",
		Status:       store.ContentStatusUnprocessed,
		ReviewStatus: store.ReviewStatusPending,
	})
	require.NoError(t, err)

	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	items, err := env.store.ListQueueItems(ctx, &store.FindQueueItem{ContentID: &content.ID})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestService_EnqueuePendingReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newRuleWithTarget(t, &store.CreateDistributionRule{
		Name:             "review gate",
		Enabled:          true,
		ApprovalRequired: true,
	})

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1p", store.ReviewStatusPending)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))

	item := env.soleQueueItem(t, content.ID)
	assert.Equal(t, store.QueueItemStatusPending, item.Status)
	assert.True(t, item.NeedsApproval)
}

func TestService_EnqueuePendingSkipsNonApprovalRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "direct", Enabled: true})

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1q", store.ReviewStatusPending)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))

	items, err := env.store.ListQueueItems(ctx, &store.FindQueueItem{ContentID: &content.ID})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestService_RateLimitSpacing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newRuleWithTarget(t, &store.CreateDistributionRule{
		Name:          "throttled",
		Enabled:       true,
		RateLimit:     2,
		TimeWindowSec: 3600,
	})

	first := env.newParsedContent(t, "https://www.bilibili.com/video/BV1r1", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, first.ID, false))
	firstItem := env.soleQueueItem(t, first.ID)

	second := env.newParsedContent(t, "https://www.bilibili.com/video/BV1r2", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, second.ID, false))
	secondItem := env.soleQueueItem(t, second.ID)

	// min_interval = 3600/2 = 1800 s past the previous schedule.
	assert.GreaterOrEqual(t, secondItem.ScheduledTs, firstItem.ScheduledTs+1800)
}

func TestService_ForceResetsFailedItem(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "r", Enabled: true})

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1f", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	item := env.soleQueueItem(t, content.ID)

	failed := store.QueueItemStatusFailed
	attempts := int32(3)
	lastError := "boom"
	_, err := env.store.UpdateQueueItem(ctx, &store.UpdateQueueItem{
		ID:           item.ID,
		Status:       &failed,
		AttemptCount: &attempts,
		LastError:    &lastError,
	})
	require.NoError(t, err)

	// Without force the failed item stays untouched.
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	item = env.soleQueueItem(t, content.ID)
	assert.Equal(t, store.QueueItemStatusFailed, item.Status)

	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, true))
	item = env.soleQueueItem(t, content.ID)
	assert.Equal(t, store.QueueItemStatusScheduled, item.Status)
	assert.Zero(t, item.AttemptCount)
	assert.Empty(t, item.LastError)
}

func claimOne(t *testing.T, st *store.Store, worker string) *store.ContentQueueItem {
	t.Helper()
	items, err := st.ClaimQueueItems(context.Background(), &store.ClaimQueueItems{
		WorkerName:     worker,
		Limit:          claimBatchSize,
		NowTs:          time.Now().Unix(),
		LockTimeoutSec: lockTimeoutSec,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func TestPool_ProcessItemSuccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, chat := env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "r", Enabled: true})

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1s", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	item := claimOne(t, env.store, "test-worker")

	env.pool.processItem(ctx, "test-worker", item)

	got, err := env.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueItemStatusSuccess, got.Status)
	assert.Equal(t, "msg-1", got.MessageID)
	assert.NotZero(t, got.CompletedTs)
	assert.Zero(t, got.LockedTs)

	record, err := env.store.GetPushedRecord(ctx, content.ID, chat.ChatID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "msg-1", record.MessageID)

	updatedChat, err := env.store.GetBotChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updatedChat.TotalPushed)
	assert.NotZero(t, updatedChat.LastPushedTs)

	assert.Equal(t, []string{chat.ChatID}, env.sink.pushed)
}

func TestPool_TelegramNoIDSynthesis(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "r", Enabled: true})
	env.sink.messageID = ""

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1n", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	item := claimOne(t, env.store, "test-worker")

	env.pool.processItem(ctx, "test-worker", item)

	got, err := env.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueItemStatusSuccess, got.Status)
	assert.True(t, strings.HasPrefix(got.MessageID, "telegram-noid-"))
}

func TestPool_AlreadyPushedSkips(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, chat := env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "r", Enabled: true})

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1d", store.ReviewStatusApproved)
	_, err := env.store.CreatePushedRecord(ctx, &store.CreatePushedRecord{
		ContentID:      content.ID,
		TargetPlatform: "telegram",
		TargetID:       chat.ChatID,
		MessageID:      "earlier",
		Status:         store.PushStatusSuccess,
	})
	require.NoError(t, err)

	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	item := claimOne(t, env.store, "test-worker")

	env.pool.processItem(ctx, "test-worker", item)

	got, err := env.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueItemStatusSkipped, got.Status)
	assert.Equal(t, "already pushed", got.LastError)
	assert.Empty(t, env.sink.pushed)
}

func TestPool_TargetGuardReschedules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, chat := env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "r", Enabled: true})

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1g", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	item := claimOne(t, env.store, "test-worker")

	// The chat goes dark between claim and processing.
	disabled := false
	_, err := env.store.UpdateBotChat(ctx, &store.UpdateBotChat{ID: chat.ID, IsAccessible: &disabled})
	require.NoError(t, err)

	env.pool.processItem(ctx, "test-worker", item)

	got, err := env.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueItemStatusScheduled, got.Status)
	assert.Zero(t, got.AttemptCount)
	assert.Equal(t, "target unavailable", got.LastError)
	assert.Zero(t, got.LockedTs)
	assert.Empty(t, env.sink.pushed)
}

func TestPool_FailureBackoffAndTerminal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "r", Enabled: true})
	env.sink.err = errors.New("chat not found")

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1x", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	item := claimOne(t, env.store, "test-worker")

	env.pool.processItem(ctx, "test-worker", item)

	got, err := env.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueItemStatusFailed, got.Status)
	assert.Equal(t, int32(1), got.AttemptCount)
	// 60·2^1 seconds into the future.
	assert.GreaterOrEqual(t, got.NextAttemptTs, time.Now().Unix()+100)
	assert.NotEmpty(t, got.LastError)

	// Exhaust the attempts; the failure becomes terminal.
	attempts := int32(got.MaxAttempts - 1)
	_, err = env.store.UpdateQueueItem(ctx, &store.UpdateQueueItem{ID: item.ID, AttemptCount: &attempts})
	require.NoError(t, err)
	got, err = env.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)

	env.pool.processItem(ctx, "test-worker", got)

	got, err = env.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueItemStatusFailed, got.Status)
	assert.Equal(t, got.MaxAttempts, got.AttemptCount)
	assert.Zero(t, got.NextAttemptTs)
}

func TestPool_ProcessItemNow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newRuleWithTarget(t, &store.CreateDistributionRule{Name: "r", Enabled: true})

	content := env.newParsedContent(t, "https://www.bilibili.com/video/BV1m", store.ReviewStatusApproved)
	require.NoError(t, env.service.EnqueueContent(ctx, content.ID, false))
	item := env.soleQueueItem(t, content.ID)

	require.NoError(t, env.pool.ProcessItemNow(ctx, item.ID))

	got, err := env.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueItemStatusSuccess, got.Status)

	// Terminal items cannot be reprocessed.
	assert.Error(t, env.pool.ProcessItemNow(ctx, item.ID))
}
