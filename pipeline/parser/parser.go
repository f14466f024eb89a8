// Package parser runs the parse worker loop: it consumes parse tasks,
// drives the platform adapters and the media processor, and commits
// the results to the content row.
package parser

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/metrics"
	"github.com/linkhoard/linkhoard/pipeline/rules"
	"github.com/linkhoard/linkhoard/pipeline/taskqueue"
	"github.com/linkhoard/linkhoard/plugin/adapters"
	"github.com/linkhoard/linkhoard/plugin/media"
	"github.com/linkhoard/linkhoard/store"
)

const (
	dequeueTimeout = 5 * time.Second
	transientSleep = 1 * time.Second
	retryBase      = 1 * time.Second
)

// Distributor schedules freshly parsed content into the distribution
// queue.
type Distributor interface {
	EnqueueContent(ctx context.Context, contentID int64, force bool) error
}

// TagSuggester proposes additional tags for parsed content.
type TagSuggester interface {
	Suggest(ctx context.Context, content *store.Content, knownTags []string) ([]string, error)
}

// Options wires a parse worker. Media, Distributor and Tags are
// optional; a nil value disables that stage.
type Options struct {
	Store       *store.Store
	Queue       *taskqueue.Queue
	Registry    *adapters.Registry
	Rules       *rules.Engine
	Bus         *eventbus.Bus
	Media       *media.Processor
	Distributor Distributor
	Tags        TagSuggester
	Metrics     *metrics.Exporter
}

// Worker is one parse worker loop. Multiple workers may run against
// the same task table; they coordinate only through task claims.
type Worker struct {
	Options
}

// NewWorker creates a parse worker.
func NewWorker(opts Options) *Worker {
	return &Worker{Options: opts}
}

// Run consumes parse tasks until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("parse worker started")
	for {
		task, payload, err := w.Queue.Dequeue(ctx, dequeueTimeout)
		if ctx.Err() != nil {
			slog.Info("parse worker stopped")
			return
		}
		if err != nil {
			slog.Error("parse worker dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(transientSleep):
			}
			continue
		}
		if task == nil {
			continue
		}
		if err := w.process(ctx, task, payload); err != nil {
			slog.Error("parse task failed", "task_id", task.ID, "content_id", payload.ContentID, "error", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, task *store.Task, payload *taskqueue.Payload) error {
	content, err := w.Store.GetContent(ctx, payload.ContentID)
	if err != nil {
		return errors.Wrap(err, "load content")
	}
	if content == nil {
		// The row was deleted after enqueue; nothing left to do.
		return w.Queue.MarkComplete(ctx, task.ID)
	}

	if payload.Action == taskqueue.ActionParse && content.Status == store.ContentStatusParseSuccess {
		// Already parsed. Re-archive media that slipped through, then
		// drop the task.
		if w.Media != nil && media.HasUnarchivedImages(content.ArchiveMetadata) {
			if err := w.rearchive(ctx, content); err != nil {
				return err
			}
		}
		return w.Queue.MarkComplete(ctx, task.ID)
	}

	processing := store.ContentStatusProcessing
	if _, err := w.Store.UpdateContent(ctx, &store.UpdateContent{ID: content.ID, Status: &processing}); err != nil {
		return errors.Wrap(err, "mark content processing")
	}

	parseStart := time.Now()
	parsed, parseErr := w.parseWithRetry(ctx, content, payload)
	if parseErr != nil {
		w.Metrics.RecordParse(string(content.Platform), time.Since(parseStart), "failed")
		w.commitFailure(ctx, task, content, parseErr)
		return nil
	}
	w.Metrics.RecordParse(string(content.Platform), time.Since(parseStart), "success")

	content, err = w.commitSuccess(ctx, content, parsed)
	if err != nil {
		return err
	}
	if err := w.Queue.MarkComplete(ctx, task.ID); err != nil {
		slog.Error("mark parse task complete failed", "task_id", task.ID, "error", err)
	}

	w.suggestTags(ctx, content)
	content = w.autoApprove(ctx, content)

	if err := w.Bus.Publish(ctx, eventbus.EventContentParsed, map[string]any{
		"content_id":    content.ID,
		"platform":      content.Platform,
		"review_status": content.ReviewStatus,
	}); err != nil {
		slog.Warn("publish content_parsed failed", "content_id", content.ID, "error", err)
	}

	if w.Distributor != nil {
		if err := w.Distributor.EnqueueContent(ctx, content.ID, false); err != nil {
			slog.Warn("distribution enqueue failed", "content_id", content.ID, "error", err)
		}
	}
	return nil
}

// parseWithRetry dispatches to the platform adapter with in-process
// exponential backoff. Non-retryable errors abort immediately; auth
// errors are retried like transient ones.
func (w *Worker) parseWithRetry(ctx context.Context, content *store.Content, payload *taskqueue.Payload) (*adapters.ParsedContent, error) {
	adapter, err := w.Registry.Create(content.Platform)
	if err != nil {
		return nil, adapters.NonRetryable(err)
	}

	remaining := int(payload.MaxAttempts - payload.Attempt)
	if remaining < 1 {
		remaining = 1
	}

	var lastErr error
	for n := 0; n < remaining; n++ {
		if n > 0 {
			backoff := retryBase << (n - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		parsed, err := adapter.Parse(ctx, content.CanonicalURL)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
		if !adapters.ShouldRetry(err) {
			break
		}
		slog.Warn("adapter parse attempt failed",
			"content_id", content.ID,
			"attempt", n+1,
			"error_type", adapters.ErrorType(err),
			"error", err)
	}
	return nil, lastErr
}

// commitSuccess writes the parsed fields, archives media and flips the
// content to parse_success.
func (w *Worker) commitSuccess(ctx context.Context, content *store.Content, parsed *adapters.ParsedContent) (*store.Content, error) {
	update := &store.UpdateContent{ID: content.ID}

	success := store.ContentStatusParseSuccess
	update.Status = &success
	update.ContentType = &parsed.ContentType
	update.PlatformID = &parsed.ContentID
	if parsed.CleanURL != "" {
		update.CleanURL = &parsed.CleanURL
	}
	if parsed.LayoutType != "" {
		update.LayoutType = &parsed.LayoutType
	}

	update.Title = &parsed.Title
	update.Body = &parsed.Body
	summary := parsed.Summary
	if summary == "" {
		summary = parsed.Description
	}
	update.Summary = &summary

	update.AuthorName = &parsed.AuthorName
	update.AuthorID = &parsed.AuthorID
	update.AuthorAvatarURL = &parsed.AuthorAvatarURL
	update.AuthorURL = &parsed.AuthorURL
	if parsed.PublishedTs > 0 {
		update.PublishedTs = &parsed.PublishedTs
	}

	applyStats(update, parsed.Stats)

	archive := parsed.ArchiveMetadata
	coverURL := parsed.CoverURL
	mediaURLs := parsed.MediaURLs
	if w.Media != nil && len(archive) > 0 {
		result, err := w.Media.Process(ctx, archive)
		if err != nil {
			// Archival failures leave the original CDN references in
			// place; the content itself still parsed fine.
			slog.Warn("media archival failed", "content_id", content.ID, "error", err)
		} else {
			archive = result.Archive
			coverURL = media.LocalizeURL(coverURL, result.Localized)
			mediaURLs = media.LocalizeURLs(mediaURLs, result.Localized)
		}
	}
	if len(archive) > 0 {
		raw := json.RawMessage(archive)
		update.ArchiveMetadata = &raw
	}
	update.CoverURL = &coverURL
	update.MediaURLs = &mediaURLs

	var (
		emptyString string
		zeroInt32   int32
		zeroInt64   int64
	)
	update.FailureCount = &zeroInt32
	update.LastError = &emptyString
	update.LastErrorType = &emptyString
	update.LastErrorTs = &zeroInt64

	updated, err := w.Store.UpdateContent(ctx, update)
	if err != nil {
		return nil, errors.Wrap(err, "commit parsed content")
	}
	slog.Info("content parsed",
		"content_id", updated.ID,
		"platform", updated.Platform,
		"platform_id", updated.PlatformID)
	return updated, nil
}

// commitFailure records a terminal parse failure and dead-letters the
// task.
func (w *Worker) commitFailure(ctx context.Context, task *store.Task, content *store.Content, parseErr error) {
	failed := store.ContentStatusParseFailed
	failureCount := content.FailureCount + 1
	errMsg := parseErr.Error()
	errType := adapters.ErrorType(parseErr)
	now := time.Now().Unix()

	if _, err := w.Store.UpdateContent(ctx, &store.UpdateContent{
		ID:            content.ID,
		Status:        &failed,
		FailureCount:  &failureCount,
		LastError:     &errMsg,
		LastErrorType: &errType,
		LastErrorTs:   &now,
	}); err != nil {
		slog.Error("record parse failure failed", "content_id", content.ID, "error", err)
	}

	w.Queue.DeadLetter(ctx, task, errMsg)
	slog.Warn("content parse failed",
		"content_id", content.ID,
		"failure_count", failureCount,
		"error_type", errType,
		"error", parseErr)
}

// rearchive runs the media processor over an already parsed content
// whose archive still references origin CDNs.
func (w *Worker) rearchive(ctx context.Context, content *store.Content) error {
	result, err := w.Media.Process(ctx, content.ArchiveMetadata)
	if err != nil {
		return errors.Wrap(err, "re-archive media")
	}
	if !result.Changed {
		return nil
	}

	coverURL := media.LocalizeURL(content.CoverURL, result.Localized)
	mediaURLs := media.LocalizeURLs(content.MediaURLs, result.Localized)
	raw := json.RawMessage(result.Archive)
	_, err = w.Store.UpdateContent(ctx, &store.UpdateContent{
		ID:              content.ID,
		ArchiveMetadata: &raw,
		CoverURL:        &coverURL,
		MediaURLs:       &mediaURLs,
	})
	return errors.Wrap(err, "commit re-archived media")
}

// suggestTags merges AI suggested tags into the content. Best effort.
func (w *Worker) suggestTags(ctx context.Context, content *store.Content) {
	if w.Tags == nil {
		return
	}
	suggested, err := w.Tags.Suggest(ctx, content, nil)
	if err != nil {
		slog.Warn("tag suggestion failed", "content_id", content.ID, "error", err)
		return
	}
	if len(suggested) == 0 {
		return
	}
	tags := append(append([]string{}, content.Tags...), suggested...)
	updated, err := w.Store.UpdateContent(ctx, &store.UpdateContent{ID: content.ID, Tags: &tags})
	if err != nil {
		slog.Warn("store suggested tags failed", "content_id", content.ID, "error", err)
		return
	}
	content.Tags = updated.Tags
}

// autoApprove flips the review status when any enabled rule's
// auto-approve conditions match.
func (w *Worker) autoApprove(ctx context.Context, content *store.Content) *store.Content {
	enabled := true
	ruleRows, err := w.Store.ListDistributionRules(ctx, &store.FindDistributionRule{Enabled: &enabled})
	if err != nil {
		slog.Warn("list rules for auto-approval failed", "content_id", content.ID, "error", err)
		return content
	}

	for _, rule := range ruleRows {
		ok, err := w.Rules.AutoApprove(content, rule)
		if err != nil {
			slog.Warn("auto-approve evaluation failed", "content_id", content.ID, "rule_id", rule.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		approved := store.ReviewStatusAutoApproved
		updated, err := w.Store.UpdateContent(ctx, &store.UpdateContent{ID: content.ID, ReviewStatus: &approved})
		if err != nil {
			slog.Warn("set auto_approved failed", "content_id", content.ID, "error", err)
			return content
		}
		slog.Info("content auto-approved", "content_id", content.ID, "rule_id", rule.ID)
		return updated
	}
	return content
}

// applyStats maps named adapter counters onto the content columns;
// unknown counters land in extra_stats.
func applyStats(update *store.UpdateContent, stats map[string]int64) {
	if len(stats) == 0 {
		return
	}
	extra := map[string]int64{}
	for name, value := range stats {
		value := value
		switch name {
		case "view":
			update.ViewCount = &value
		case "like":
			update.LikeCount = &value
		case "collect":
			update.CollectCount = &value
		case "share":
			update.ShareCount = &value
		case "comment":
			update.CommentCount = &value
		default:
			extra[name] = value
		}
	}
	if len(extra) > 0 {
		update.ExtraStats = &extra
	}
}
