// Package ingest turns submitted URLs into vault content rows and
// schedules them for parsing.
package ingest

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/metrics"
	"github.com/linkhoard/linkhoard/pipeline/taskqueue"
	"github.com/linkhoard/linkhoard/plugin/adapters"
	"github.com/linkhoard/linkhoard/store"
)

// Submission is one shared URL as it arrived, with its provenance.
type Submission struct {
	URL      string
	SharedBy string
	Channel  string
	Note     string
}

// Result reports the content a submission resolved to. Created is
// false when the URL deduplicated onto an existing row.
type Result struct {
	Content *store.Content
	Created bool
}

// Service implements URL ingestion: canonicalize, detect platform,
// dedup, create, schedule parse.
type Service struct {
	store    *store.Store
	registry *adapters.Registry
	queue    *taskqueue.Queue
	bus      *eventbus.Bus
	metrics  *metrics.Exporter
}

// NewService creates an ingest service. exporter may be nil.
func NewService(st *store.Store, registry *adapters.Registry, queue *taskqueue.Queue, bus *eventbus.Bus, exporter *metrics.Exporter) *Service {
	return &Service{
		store:    st,
		registry: registry,
		queue:    queue,
		bus:      bus,
		metrics:  exporter,
	}
}

// Ingest processes one submitted URL. The same canonical URL on the
// same platform always resolves to one content row; every submission
// is recorded as a source even when it deduplicates.
func (s *Service) Ingest(ctx context.Context, submission *Submission) (*Result, error) {
	canonical, err := adapters.Canonicalize(submission.URL)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize url")
	}
	platform := s.registry.Detect(canonical)

	existing, err := s.store.GetContentByCanonicalURL(ctx, platform, canonical)
	if err != nil {
		return nil, errors.Wrap(err, "lookup content by canonical url")
	}
	if existing != nil {
		s.recordSource(ctx, existing.ID, submission)
		s.metrics.RecordIngest(string(platform), "dedup")
		return &Result{Content: existing, Created: false}, nil
	}

	content, err := s.store.CreateContent(ctx, &store.CreateContent{
		Platform:     platform,
		URL:          submission.URL,
		CanonicalURL: canonical,
		CleanURL:     canonical,
		Status:       store.ContentStatusUnprocessed,
		ReviewStatus: store.ReviewStatusPending,
		LayoutType:   store.LayoutTypeLink,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create content")
	}
	s.recordSource(ctx, content.ID, submission)

	if _, err := s.queue.Enqueue(ctx, content.ID, taskqueue.ActionParse); err != nil {
		return nil, errors.Wrap(err, "enqueue parse task")
	}

	if err := s.bus.Publish(ctx, eventbus.EventContentCreated, map[string]any{
		"content_id": content.ID,
		"platform":   content.Platform,
	}); err != nil {
		slog.Warn("ingest: publish content_created failed", "content_id", content.ID, "error", err)
	}

	s.metrics.RecordIngest(string(platform), "created")
	slog.Info("content ingested",
		"content_id", content.ID,
		"platform", content.Platform,
		"canonical_url", content.CanonicalURL)
	return &Result{Content: content, Created: true}, nil
}

// RetryParse re-enters a failed content into the parse queue. Only
// parse_failed rows may go back to unprocessed.
func (s *Service) RetryParse(ctx context.Context, contentID int64) (*store.Content, error) {
	content, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, errors.Wrap(err, "load content")
	}
	if content == nil {
		return nil, errors.Errorf("content %d not found", contentID)
	}
	if content.Status != store.ContentStatusParseFailed {
		return nil, errors.Errorf("content %d is %s, only parse_failed can be retried", contentID, content.Status)
	}

	status := store.ContentStatusUnprocessed
	content, err = s.store.UpdateContent(ctx, &store.UpdateContent{
		ID:     contentID,
		Status: &status,
	})
	if err != nil {
		return nil, errors.Wrap(err, "reset content status")
	}

	if _, err := s.queue.Enqueue(ctx, contentID, taskqueue.ActionParse); err != nil {
		return nil, errors.Wrap(err, "enqueue parse task")
	}

	if err := s.bus.Publish(ctx, eventbus.EventContentUpdated, map[string]any{
		"content_id": contentID,
		"status":     status,
	}); err != nil {
		slog.Warn("ingest: publish content_updated failed", "content_id", contentID, "error", err)
	}
	return content, nil
}

// recordSource appends the submission trail row. Failures are logged
// and swallowed; provenance is not worth failing an ingest over.
func (s *Service) recordSource(ctx context.Context, contentID int64, submission *Submission) {
	_, err := s.store.CreateContentSource(ctx, &store.CreateContentSource{
		ContentID: contentID,
		SharedBy:  submission.SharedBy,
		Channel:   submission.Channel,
		RawURL:    submission.URL,
		Note:      submission.Note,
	})
	if err != nil {
		slog.Warn("ingest: record content source failed", "content_id", contentID, "error", err)
	}
}
