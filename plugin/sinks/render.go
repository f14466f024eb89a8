package sinks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Message length ceilings shared by the concrete sinks. Telegram caps
// media captions at 1024 characters and plain messages at 4096; QQ has
// no hard documented cap so it reuses the text ceiling.
const (
	CaptionLimitMedia = 1024
	CaptionLimitText  = 4096
)

// Author display modes.
const (
	AuthorModeNone = "none"
	AuthorModeName = "name"
	AuthorModeFull = "full"
)

// Content body modes.
const (
	ContentModeHidden  = "hidden"
	ContentModeSummary = "summary"
	ContentModeFull    = "full"
)

// Media attachment modes.
const (
	MediaModeNone  = "none"
	MediaModeAuto  = "auto"
	MediaModeAll   = "all"
	MediaModeCover = "cover"
)

// Link footer modes.
const (
	LinkModeNone     = "none"
	LinkModeClean    = "clean"
	LinkModeOriginal = "original"
)

// RenderConfig governs which fields a sink includes and how. Stored as
// a JSON blob on rules and targets; unknown keys are preserved by the
// merge and ignored here.
type RenderConfig struct {
	ShowPlatformID bool   `json:"show_platform_id"`
	ShowTitle      bool   `json:"show_title"`
	ShowTags       bool   `json:"show_tags"`
	AuthorMode     string `json:"author_mode"`
	ContentMode    string `json:"content_mode"`
	MediaMode      string `json:"media_mode"`
	LinkMode       string `json:"link_mode"`
	HeaderText     string `json:"header_text"`
	FooterText     string `json:"footer_text"`
}

// DefaultRenderConfig returns the config applied when a rule carries no
// render settings at all.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		ShowTitle:   true,
		ShowTags:    true,
		AuthorMode:  AuthorModeName,
		ContentMode: ContentModeSummary,
		MediaMode:   MediaModeAuto,
		LinkMode:    LinkModeClean,
	}
}

// MergeRenderConfigs overlays the target's override on top of the
// rule's config. Keys present in the override win; keys absent fall
// through to the rule; unknown keys from either side survive in the
// returned raw blob. Defaults are filled only for keys neither side
// sets.
func MergeRenderConfigs(ruleRaw, overrideRaw json.RawMessage) (RenderConfig, json.RawMessage, error) {
	merged := map[string]interface{}{}
	for _, raw := range []json.RawMessage{ruleRaw, overrideRaw} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		layer := map[string]interface{}{}
		if err := json.Unmarshal(raw, &layer); err != nil {
			return RenderConfig{}, nil, errors.Wrap(err, "unmarshal render config")
		}
		for key, value := range layer {
			if value == nil {
				continue
			}
			merged[key] = value
		}
	}

	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return RenderConfig{}, nil, errors.Wrap(err, "marshal render config")
	}

	config := DefaultRenderConfig()
	if err := json.Unmarshal(mergedRaw, &config); err != nil {
		return RenderConfig{}, nil, errors.Wrap(err, "decode render config")
	}
	if config.AuthorMode == "" {
		config.AuthorMode = AuthorModeName
	}
	if config.ContentMode == "" {
		config.ContentMode = ContentModeSummary
	}
	if config.MediaMode == "" {
		config.MediaMode = MediaModeAuto
	}
	if config.LinkMode == "" {
		config.LinkMode = LinkModeClean
	}
	return config, mergedRaw, nil
}

// ExpandTemplate substitutes {{date}} and {{title}} in header and
// footer templates. The date is the content's publish date when known,
// today otherwise.
func ExpandTemplate(tmpl, title string, publishedTs int64) string {
	if tmpl == "" {
		return ""
	}
	date := time.Now()
	if publishedTs > 0 {
		date = time.Unix(publishedTs, 0)
	}
	out := strings.ReplaceAll(tmpl, "{{date}}", date.Format("2006-01-02"))
	out = strings.ReplaceAll(out, "{{title}}", title)
	return out
}

// Truncate cuts s to at most limit runes, replacing the tail with a
// single ellipsis when anything was removed.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

// RenderText assembles the textual part of a push message from the
// payload and its merged render config. Sinks append platform specific
// media handling around it.
func RenderText(p *Payload) string {
	cfg := p.Render
	var parts []string

	if header := ExpandTemplate(cfg.HeaderText, p.Title, p.PublishedTs); header != "" {
		parts = append(parts, header)
	}
	if cfg.ShowTitle && p.Title != "" {
		parts = append(parts, p.Title)
	}

	switch cfg.AuthorMode {
	case AuthorModeName:
		if p.AuthorName != "" {
			parts = append(parts, p.AuthorName)
		}
	case AuthorModeFull:
		if p.AuthorName != "" {
			author := p.AuthorName
			if p.AuthorID != "" {
				author += " (" + p.AuthorID + ")"
			}
			parts = append(parts, author)
		}
	}

	switch cfg.ContentMode {
	case ContentModeSummary:
		if p.Summary != "" {
			parts = append(parts, p.Summary)
		} else if p.Body != "" {
			parts = append(parts, Truncate(p.Body, 200))
		}
	case ContentModeFull:
		if p.Body != "" {
			parts = append(parts, p.Body)
		} else if p.Summary != "" {
			parts = append(parts, p.Summary)
		}
	}

	if cfg.ShowTags && len(p.Tags) > 0 {
		tags := make([]string, 0, len(p.Tags))
		for _, tag := range p.Tags {
			tags = append(tags, "#"+tag)
		}
		parts = append(parts, strings.Join(tags, " "))
	}

	switch cfg.LinkMode {
	case LinkModeClean:
		if p.CleanURL != "" {
			parts = append(parts, p.CleanURL)
		} else if p.CanonicalURL != "" {
			parts = append(parts, p.CanonicalURL)
		}
	case LinkModeOriginal:
		if p.URL != "" {
			parts = append(parts, p.URL)
		}
	}

	if footer := ExpandTemplate(cfg.FooterText, p.Title, p.PublishedTs); footer != "" {
		parts = append(parts, footer)
	}

	return strings.Join(parts, "\n\n")
}

// MediaList resolves the attachment URLs the render config asks for.
// Entries prefer archived copies when the archive metadata carries a
// stored URL for the original.
func MediaList(p *Payload) []string {
	cfg := p.Render
	switch cfg.MediaMode {
	case MediaModeNone:
		return nil
	case MediaModeCover:
		if p.CoverURL != "" {
			return []string{p.CoverURL}
		}
		return nil
	case MediaModeAll:
		return p.MediaURLs
	default: // auto
		if len(p.MediaURLs) > 0 {
			return p.MediaURLs
		}
		if p.CoverURL != "" {
			return []string{p.CoverURL}
		}
		return nil
	}
}
