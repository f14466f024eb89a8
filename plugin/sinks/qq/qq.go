// Package qq implements a push sink for OneBot v11 compatible QQ bot
// endpoints.
package qq

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/plugin/sinks"
	"github.com/linkhoard/linkhoard/plugin/storage"
)

// mergeForwardThreshold is the attachment count past which a push is
// bundled into one forwarded message instead of a flat segment list.
const mergeForwardThreshold = 4

// Config holds the OneBot endpoint settings.
type Config struct {
	// Endpoint is the OneBot HTTP API base, e.g. "http://127.0.0.1:5700".
	Endpoint string
	// AccessToken, when set, is sent as a bearer token.
	AccessToken string
	// SenderName labels forwarded message nodes.
	SenderName string
}

// Sink pushes content to QQ groups and private chats through a OneBot
// HTTP endpoint. QQ has no markdown support, so bodies are flattened
// to plain text before sending.
type Sink struct {
	config *Config
	store  storage.Store
	client *http.Client
}

// New creates a QQ sink. The storage store resolves archived media
// referenced by local:// URLs.
func New(config *Config, store storage.Store) *Sink {
	return &Sink{
		config: config,
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the platform family this sink serves.
func (s *Sink) Name() string {
	return "qq"
}

// segment is one OneBot message segment.
type segment struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Push delivers one content item. Large attachment sets go out as a
// merge-forward bundle so a burst of images does not flood the group.
func (s *Sink) Push(ctx context.Context, payload *sinks.Payload, targetID string) (string, error) {
	text := MarkdownToPlain(sinks.RenderText(payload))
	text = sinks.Truncate(text, sinks.CaptionLimitText)

	segments := []segment{{Type: "text", Data: map[string]interface{}{"text": text}}}
	media := sinks.MediaList(payload)
	for _, mediaURL := range media {
		seg, err := s.mediaSegment(ctx, mediaURL)
		if err != nil {
			return "", err
		}
		segments = append(segments, seg)
	}

	chatType, chatID, err := splitTarget(targetID)
	if err != nil {
		return "", err
	}

	if len(media) >= mergeForwardThreshold && chatType == "group" {
		return s.sendForward(ctx, chatID, segments)
	}
	return s.sendMessage(ctx, chatType, chatID, segments)
}

func (s *Sink) sendMessage(ctx context.Context, chatType string, chatID int64, segments []segment) (string, error) {
	action := "send_group_msg"
	idKey := "group_id"
	if chatType == "private" {
		action = "send_private_msg"
		idKey = "user_id"
	}
	return s.call(ctx, action, map[string]interface{}{
		idKey:     chatID,
		"message": segments,
	})
}

func (s *Sink) sendForward(ctx context.Context, groupID int64, segments []segment) (string, error) {
	name := s.config.SenderName
	if name == "" {
		name = "linkhoard"
	}
	node := map[string]interface{}{
		"type": "node",
		"data": map[string]interface{}{
			"name":    name,
			"uin":     "0",
			"content": segments,
		},
	}
	return s.call(ctx, "send_group_forward_msg", map[string]interface{}{
		"group_id": groupID,
		"messages": []interface{}{node},
	})
}

// mediaSegment builds an image segment. Archived copies are inlined as
// base64 so the OneBot endpoint needs no access to local storage.
func (s *Sink) mediaSegment(ctx context.Context, mediaURL string) (segment, error) {
	file := mediaURL
	if key, ok := storage.ParseLocalURL(mediaURL); ok {
		data, err := s.store.GetBytes(ctx, key)
		if err != nil {
			return segment{}, errors.Wrapf(err, "read archived media %s", key)
		}
		file = "base64://" + base64.StdEncoding.EncodeToString(data)
	}
	return segment{Type: "image", Data: map[string]interface{}{"file": file}}, nil
}

type onebotResponse struct {
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Data    struct {
		MessageID json.Number `json:"message_id"`
	} `json:"data"`
}

func (s *Sink) call(ctx context.Context, action string, params map[string]interface{}) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "marshal onebot params")
	}

	url := strings.TrimRight(s.config.Endpoint, "/") + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build onebot request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "onebot %s", action)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrapf(err, "onebot %s read response", action)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("onebot %s: http %d: %s", action, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded onebotResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", errors.Wrapf(err, "onebot %s decode response", action)
	}
	if decoded.Status == "failed" || decoded.Retcode != 0 {
		return "", errors.Errorf("onebot %s: retcode %d", action, decoded.Retcode)
	}
	return decoded.Data.MessageID.String(), nil
}

// splitTarget parses "group:<id>", "private:<id>" or a bare numeric id
// (treated as a group).
func splitTarget(targetID string) (string, int64, error) {
	chatType := "group"
	idPart := targetID
	if prefix, rest, found := strings.Cut(targetID, ":"); found {
		chatType = prefix
		idPart = rest
	}
	if chatType != "group" && chatType != "private" {
		return "", 0, errors.Errorf("invalid qq chat type %q", chatType)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid qq chat id %q", targetID)
	}
	return chatType, id, nil
}

var _ sinks.Sink = (*Sink)(nil)
