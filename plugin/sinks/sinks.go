// Package sinks provides the push sink interface and registry for all
// distribution targets.
package sinks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Payload carries everything a sink needs to render one content item.
// Fields mirror the content row at claim time; sinks must not read the
// database themselves.
type Payload struct {
	ID              int64           `json:"id"`
	Platform        string          `json:"platform"`
	ContentType     string          `json:"content_type"`
	LayoutType      string          `json:"layout_type"`
	Title           string          `json:"title"`
	Body            string          `json:"body"`
	Summary         string          `json:"summary"`
	AuthorName      string          `json:"author_name"`
	AuthorID        string          `json:"author_id"`
	AuthorAvatarURL string          `json:"author_avatar_url"`
	CoverURL        string          `json:"cover_url"`
	MediaURLs       []string        `json:"media_urls"`
	Tags            []string        `json:"tags"`
	CanonicalURL    string          `json:"canonical_url"`
	URL             string          `json:"url"`
	CleanURL        string          `json:"clean_url"`
	IsNSFW          bool            `json:"is_nsfw"`
	PublishedTs     int64           `json:"published_at"`
	Render          RenderConfig    `json:"render_config"`
	ArchiveMetadata json.RawMessage `json:"archive_metadata,omitempty"`
}

// Sink pushes one rendered content item to an external chat platform.
// Sinks never retry internally; the queue owns all retry policy.
type Sink interface {
	// Name returns the platform family this sink serves, e.g. "telegram".
	Name() string

	// Push delivers the payload to targetID and returns the platform
	// message id when the platform reports one.
	Push(ctx context.Context, payload *Payload, targetID string) (string, error)
}

// ErrNoSinkForPlatform is returned when no sink is registered for a
// target's platform family.
var ErrNoSinkForPlatform = errors.New("no sink registered for platform")

// Registry holds the registered sinks keyed by platform family.
// Concurrent-safe for Register and Get.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewRegistry creates an empty sink registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// Register registers a sink under its platform family name.
func (r *Registry) Register(sink Sink) {
	r.mu.Lock()
	r.sinks[sink.Name()] = sink
	r.mu.Unlock()
}

// Get returns the sink for a platform family.
func (r *Registry) Get(platform string) (Sink, error) {
	r.mu.RLock()
	sink := r.sinks[platform]
	r.mu.RUnlock()
	if sink == nil {
		return nil, errors.Wrap(ErrNoSinkForPlatform, platform)
	}
	return sink, nil
}
