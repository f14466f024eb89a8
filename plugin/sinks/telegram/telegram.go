// Package telegram implements the Telegram push sink on top of the Bot
// API.
package telegram

import (
	"context"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/linkhoard/linkhoard/plugin/sinks"
	"github.com/linkhoard/linkhoard/plugin/storage"
)

// mediaGroupLimit is the Bot API ceiling for one sendMediaGroup call.
// Attachments past the limit are dropped, not split into a second
// message.
const mediaGroupLimit = 10

// Config holds the Telegram sink configuration.
type Config struct {
	BotToken string
}

// Sink pushes content to Telegram chats and channels. A single global
// limiter keeps the bot under the Bot API flood thresholds; retry on
// failure is owned by the queue.
type Sink struct {
	bot     *tgbotapi.BotAPI
	store   storage.Store
	limiter *rate.Limiter
}

// New creates a Telegram sink. The storage store resolves archived
// media referenced by local:// URLs.
func New(config *Config, store storage.Store) (*Sink, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}

	return &Sink{
		bot:     bot,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// Name returns the platform family this sink serves.
func (s *Sink) Name() string {
	return "telegram"
}

// Push delivers one content item. Depending on the attached media it
// sends a plain message, a single photo or video with caption, or a
// media group.
func (s *Sink) Push(ctx context.Context, payload *sinks.Payload, targetID string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	text := sinks.RenderText(payload)
	media := sinks.MediaList(payload)
	if len(media) > mediaGroupLimit {
		slog.Warn("telegram: dropping attachments over media group limit",
			"content_id", payload.ID, "total", len(media))
		media = media[:mediaGroupLimit]
	}

	switch {
	case len(media) == 0:
		return s.sendText(targetID, text)
	case len(media) == 1:
		return s.sendSingle(ctx, targetID, media[0], text)
	default:
		return s.sendGroup(ctx, targetID, media, text)
	}
}

func (s *Sink) sendText(targetID, text string) (string, error) {
	msg := tgbotapi.NewMessage(0, sinks.Truncate(text, sinks.CaptionLimitText))
	if err := applyTarget(&msg.BaseChat, targetID); err != nil {
		return "", err
	}
	sent, err := s.bot.Send(msg)
	if err != nil {
		return "", errors.Wrap(err, "telegram send message")
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (s *Sink) sendSingle(ctx context.Context, targetID, mediaURL, text string) (string, error) {
	file, err := s.requestFile(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	caption := sinks.Truncate(text, sinks.CaptionLimitMedia)

	var chattable tgbotapi.Chattable
	if isVideoURL(mediaURL) {
		video := tgbotapi.NewVideo(0, file)
		video.Caption = caption
		if err := applyTarget(&video.BaseChat, targetID); err != nil {
			return "", err
		}
		chattable = video
	} else {
		photo := tgbotapi.NewPhoto(0, file)
		photo.Caption = caption
		if err := applyTarget(&photo.BaseChat, targetID); err != nil {
			return "", err
		}
		chattable = photo
	}

	sent, err := s.bot.Send(chattable)
	if err != nil {
		return "", errors.Wrap(err, "telegram send media")
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (s *Sink) sendGroup(ctx context.Context, targetID string, media []string, text string) (string, error) {
	files := make([]interface{}, 0, len(media))
	caption := sinks.Truncate(text, sinks.CaptionLimitMedia)
	for i, mediaURL := range media {
		file, err := s.requestFile(ctx, mediaURL)
		if err != nil {
			return "", err
		}
		if isVideoURL(mediaURL) {
			item := tgbotapi.NewInputMediaVideo(file)
			if i == 0 {
				item.Caption = caption
			}
			files = append(files, item)
		} else {
			item := tgbotapi.NewInputMediaPhoto(file)
			if i == 0 {
				item.Caption = caption
			}
			files = append(files, item)
		}
	}

	group := tgbotapi.NewMediaGroup(0, files)
	var base tgbotapi.BaseChat
	if err := applyTarget(&base, targetID); err != nil {
		return "", err
	}
	group.ChatID = base.ChatID
	group.ChannelUsername = base.ChannelUsername
	sent, err := s.bot.SendMediaGroup(group)
	if err != nil {
		return "", errors.Wrap(err, "telegram send media group")
	}
	if len(sent) == 0 {
		return "", nil
	}
	return strconv.Itoa(sent[0].MessageID), nil
}

// requestFile turns a media URL into a Bot API file reference.
// Archived copies (local:// keys) are uploaded as bytes; everything
// else is passed as a URL for Telegram to fetch.
func (s *Sink) requestFile(ctx context.Context, mediaURL string) (tgbotapi.RequestFileData, error) {
	key, ok := storage.ParseLocalURL(mediaURL)
	if !ok {
		return tgbotapi.FileURL(mediaURL), nil
	}
	data, err := s.store.GetBytes(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "read archived media %s", key)
	}
	return tgbotapi.FileBytes{Name: path.Base(key), Bytes: data}, nil
}

// applyTarget points a message at a numeric chat id or an @channel
// username.
func applyTarget(chat *tgbotapi.BaseChat, targetID string) error {
	if strings.HasPrefix(targetID, "@") {
		chat.ChannelUsername = targetID
		return nil
	}
	id, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid telegram chat id %q", targetID)
	}
	chat.ChatID = id
	return nil
}

func isVideoURL(mediaURL string) bool {
	lower := strings.ToLower(mediaURL)
	for _, ext := range []string{".mp4", ".mov", ".webm", ".mkv"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

var _ sinks.Sink = (*Sink)(nil)
