// Package adapters defines the platform adapter SPI and the URL
// canonicalization that precedes adapter dispatch.
package adapters

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

// ParsedContent is the semantic result of one adapter parse.
type ParsedContent struct {
	Platform    store.Platform
	ContentType string
	ContentID   string
	CleanURL    string
	LayoutType  store.LayoutType

	Title       string
	Description string
	Summary     string
	Body        string

	AuthorName      string
	AuthorID        string
	AuthorAvatarURL string
	AuthorURL       string

	CoverURL  string
	MediaURLs []string

	PublishedTs int64

	// ArchiveMetadata is the structured archive blob: an images[] list,
	// optionally videos[], plus free-form platform data.
	ArchiveMetadata json.RawMessage

	// Stats maps named counters (view, like, collect, share, comment and
	// platform extras) to values.
	Stats map[string]int64
}

// Adapter is the per-platform scraper SPI. Implementations live outside
// the core pipeline; the pipeline only depends on this contract.
type Adapter interface {
	// CleanURL reduces a canonical URL to the platform's minimal stable form.
	CleanURL(rawURL string) string
	// Parse fetches and normalizes the content behind url. Failures are
	// wrapped with Retryable, NonRetryable or AuthRequired.
	Parse(ctx context.Context, rawURL string) (*ParsedContent, error)
}

// Registry maps platforms to adapter factories and detects platforms
// from canonical URLs. Concurrent-safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[store.Platform]func() Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[store.Platform]func() Adapter),
	}
}

func (r *Registry) Register(platform store.Platform, factory func() Adapter) {
	r.mu.Lock()
	r.factories[platform] = factory
	r.mu.Unlock()
}

// Create returns a new adapter for platform.
func (r *Registry) Create(platform store.Platform) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no adapter registered for platform %q", platform)
	}
	return factory(), nil
}

// hostPlatforms maps second-level host suffixes to platforms.
var hostPlatforms = []struct {
	suffix   string
	platform store.Platform
}{
	{"bilibili.com", store.PlatformBilibili},
	{"b23.tv", store.PlatformBilibili},
	{"weibo.com", store.PlatformWeibo},
	{"weibo.cn", store.PlatformWeibo},
	{"xiaohongshu.com", store.PlatformXiaohongshu},
	{"xhslink.com", store.PlatformXiaohongshu},
	{"zhihu.com", store.PlatformZhihu},
	{"douyin.com", store.PlatformDouyin},
	{"twitter.com", store.PlatformTwitter},
	{"x.com", store.PlatformTwitter},
}

// Detect maps a canonical URL to its platform. Unknown hosts fall back
// to the generic link platform.
func (r *Registry) Detect(canonicalURL string) store.Platform {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return store.PlatformLink
	}
	host := strings.ToLower(u.Hostname())
	for _, hp := range hostPlatforms {
		if host == hp.suffix || strings.HasSuffix(host, "."+hp.suffix) {
			return hp.platform
		}
	}
	return store.PlatformLink
}
