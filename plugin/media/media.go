// Package media archives the images and videos referenced by a parsed
// content: download, WebP transcode, content-addressed storage, and
// in-place rewrite of the archive blob.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/linkhoard/linkhoard/pipeline/metrics"
	"github.com/linkhoard/linkhoard/plugin/storage"
)

const (
	// namespace prefixes every storage key written by this package.
	namespace = "media"

	defaultQuality   = 80
	thumbnailQuality = 70
	thumbnailMaxSide = 300
)

// Config holds media processor settings.
type Config struct {
	// WebPQuality is the transcode quality (1-100); zero means 80.
	WebPQuality int
	// CWebPPath is the optional external cwebp binary used as a transcode
	// fast path for still images. Empty disables it.
	CWebPPath string
	// MaxConcurrentTranscodes bounds in-flight transcodes process-wide;
	// zero means 4.
	MaxConcurrentTranscodes int64
}

// Result summarizes one processing pass over an archive.
type Result struct {
	// Archive is the rewritten archive blob. Unknown keys are preserved.
	Archive json.RawMessage
	// Localized maps each original media URL to "local://<key>".
	Localized map[string]string
	// Changed reports whether any entry was written this pass.
	Changed bool
}

// Processor downloads referenced media, transcodes images to WebP and
// writes everything to the blob store.
type Processor struct {
	store      storage.Store
	downloader *downloader
	quality    int
	cwebpPath  string
	sem        *semaphore.Weighted

	// Metrics is optional; a nil exporter records nothing.
	Metrics *metrics.Exporter
}

func NewProcessor(store storage.Store, config *Config) *Processor {
	quality := config.WebPQuality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	concurrency := config.MaxConcurrentTranscodes
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Processor{
		store:      store,
		downloader: newDownloader(),
		quality:    quality,
		cwebpPath:  config.CWebPPath,
		sem:        semaphore.NewWeighted(concurrency),
	}
}

// HasUnarchivedImages reports whether the archive contains image entries
// lacking a stored_key. The parse worker uses this to decide whether an
// already-parsed content still needs an archival pass.
func HasUnarchivedImages(archive json.RawMessage) bool {
	root, err := decodeArchive(archive)
	if err != nil {
		return false
	}
	for _, entry := range entryList(root, "images") {
		if entryURL(entry) == "" {
			continue
		}
		if key, _ := entry["stored_key"].(string); key == "" {
			return true
		}
	}
	return false
}

// Process archives every not-yet-processed image and video entry. Each
// entry is rewritten in place with stored_* fields; per-entry failures
// are logged and skipped so one dead CDN link never blocks the rest.
func (p *Processor) Process(ctx context.Context, archive json.RawMessage) (*Result, error) {
	root, err := decodeArchive(archive)
	if err != nil {
		return nil, err
	}

	result := &Result{Localized: map[string]string{}}

	var storedImages []map[string]any
	if existing, ok := root["stored_images"].([]any); ok {
		for _, item := range existing {
			if entry, ok := item.(map[string]any); ok {
				storedImages = append(storedImages, entry)
			}
		}
	}

	firstImage := true
	for _, entry := range entryList(root, "images") {
		origURL := entryURL(entry)
		if origURL == "" {
			continue
		}
		if key, _ := entry["stored_key"].(string); key != "" {
			result.Localized[origURL] = storage.LocalURL(key)
			firstImage = false
			continue
		}

		stored, img, err := p.processImage(ctx, origURL)
		p.Metrics.RecordTranscode("image", err == nil)
		if err != nil {
			slog.Warn("media: failed to archive image", "url", origURL, "error", err)
			continue
		}
		p.Metrics.RecordMediaArchived(stored.Size)

		entry["stored_key"] = stored.Key
		if stored.URL != "" {
			entry["stored_url"] = stored.URL
		}
		entry["stored_sha256"] = stored.SHA256
		entry["stored_size"] = stored.Size
		entry["stored_width"] = stored.Width
		entry["stored_height"] = stored.Height
		entry["stored_content_type"] = "image/webp"

		storedImages = append(storedImages, entry)
		result.Localized[origURL] = storage.LocalURL(stored.Key)
		result.Changed = true

		if firstImage {
			root["dominant_color"] = dominantColor(img)
			firstImage = false
		}
	}
	if storedImages != nil {
		list := make([]any, 0, len(storedImages))
		for _, entry := range storedImages {
			list = append(list, entry)
		}
		root["stored_images"] = list
	}

	for _, entry := range entryList(root, "videos") {
		origURL := entryURL(entry)
		if origURL == "" {
			continue
		}
		if key, _ := entry["stored_key"].(string); key != "" {
			result.Localized[origURL] = storage.LocalURL(key)
			continue
		}

		stored, err := p.processVideo(ctx, origURL)
		if err != nil {
			slog.Warn("media: failed to archive video", "url", origURL, "error", err)
			continue
		}
		p.Metrics.RecordMediaArchived(stored.Size)

		entry["stored_key"] = stored.Key
		if stored.URL != "" {
			entry["stored_url"] = stored.URL
		}
		entry["stored_sha256"] = stored.SHA256
		entry["stored_size"] = stored.Size
		entry["stored_content_type"] = stored.ContentType
		result.Localized[origURL] = storage.LocalURL(stored.Key)
		result.Changed = true
	}

	rewritten, err := json.Marshal(root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal archive")
	}
	result.Archive = rewritten
	return result, nil
}

type storedImage struct {
	Key    string
	URL    string
	SHA256 string
	Size   int64
	Width  int
	Height int
}

func (p *Processor) processImage(ctx context.Context, origURL string) (*storedImage, *decodedImage, error) {
	data, _, err := p.downloader.fetch(ctx, origURL)
	if err != nil {
		return nil, nil, err
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	img, webpBytes, err := p.transcode(ctx, data)
	p.sem.Release(1)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to transcode %s", origURL)
	}

	sum := storage.Sum256Hex(webpBytes)
	key := storage.ObjectKey(namespace, sum, "webp")
	obj, err := p.store.Put(ctx, key, webpBytes, "image/webp")
	if err != nil {
		return nil, nil, err
	}

	if thumb, err := p.thumbnail(img); err == nil {
		if _, err := p.store.Put(ctx, key+".thumb.webp", thumb, "image/webp"); err != nil {
			slog.Warn("media: failed to store thumbnail", "key", key, "error", err)
		}
	} else {
		slog.Warn("media: failed to build thumbnail", "key", key, "error", err)
	}

	return &storedImage{
		Key:    obj.Key,
		URL:    obj.URL,
		SHA256: sum,
		Size:   obj.Size,
		Width:  img.width,
		Height: img.height,
	}, img, nil
}

type storedVideo struct {
	Key         string
	URL         string
	SHA256      string
	Size        int64
	ContentType string
}

// processVideo saves video bytes verbatim; the extension follows the
// response content type and defaults to mp4.
func (p *Processor) processVideo(ctx context.Context, origURL string) (*storedVideo, error) {
	data, contentType, err := p.downloader.fetch(ctx, origURL)
	if err != nil {
		return nil, err
	}

	ext := "mp4"
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = strings.TrimPrefix(exts[0], ".")
		}
	}
	if contentType == "" {
		contentType = "video/mp4"
	}

	sum := storage.Sum256Hex(data)
	key := storage.ObjectKey(namespace, sum, ext)
	obj, err := p.store.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, err
	}

	return &storedVideo{
		Key:         obj.Key,
		URL:         obj.URL,
		SHA256:      sum,
		Size:        obj.Size,
		ContentType: contentType,
	}, nil
}

func decodeArchive(archive json.RawMessage) (map[string]any, error) {
	root := map[string]any{}
	if len(archive) > 0 {
		if err := json.Unmarshal(archive, &root); err != nil {
			return nil, errors.Wrap(err, "failed to decode archive")
		}
	}
	return root, nil
}

func entryList(root map[string]any, field string) []map[string]any {
	raw, ok := root[field].([]any)
	if !ok {
		return nil
	}
	entries := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if entry, ok := item.(map[string]any); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func entryURL(entry map[string]any) string {
	u, _ := entry["url"].(string)
	return u
}

// LocalizeURLs maps urls through localized, preserving insertion order
// and dropping duplicates. URLs with no localized form pass through.
func LocalizeURLs(urls []string, localized map[string]string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		mapped := u
		if local, ok := localized[u]; ok {
			mapped = local
		}
		if seen[mapped] {
			continue
		}
		seen[mapped] = true
		out = append(out, mapped)
	}
	return out
}

// LocalizeURL maps one URL through localized, or returns it unchanged.
func LocalizeURL(u string, localized map[string]string) string {
	if local, ok := localized[u]; ok {
		return local
	}
	return u
}

// dominantColor averages the pixels of img into a #rrggbb hex string.
func dominantColor(img *decodedImage) string {
	if img == nil || len(img.frames) == 0 {
		return ""
	}
	frame := img.frames[0]
	bounds := frame.Bounds()
	var r, g, b, n uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pr, pg, pb, _ := frame.At(x, y).RGBA()
			r += uint64(pr >> 8)
			g += uint64(pg >> 8)
			b += uint64(pb >> 8)
			n++
		}
	}
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("#%02x%02x%02x", r/n, g/n, b/n)
}
