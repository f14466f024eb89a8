package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhoard/linkhoard/plugin/storage"
)

func TestApplyTarget(t *testing.T) {
	var chat tgbotapi.BaseChat

	require.NoError(t, applyTarget(&chat, "-1001234567890"))
	assert.Equal(t, int64(-1001234567890), chat.ChatID)

	chat = tgbotapi.BaseChat{}
	require.NoError(t, applyTarget(&chat, "@mychannel"))
	assert.Equal(t, "@mychannel", chat.ChannelUsername)
	assert.Zero(t, chat.ChatID)

	assert.Error(t, applyTarget(&chat, "not-a-chat"))
}

func TestIsVideoURL(t *testing.T) {
	assert.True(t, isVideoURL("https://cdn.example.com/clip.MP4"))
	assert.True(t, isVideoURL("local://media/blobs/sha256/aa/bb/c.webm"))
	assert.False(t, isVideoURL("https://cdn.example.com/pic.webp"))
}

func TestRequestFile(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	obj, err := store.Put(context.Background(), "media/blobs/sha256/aa/bb/x.webp", []byte("bytes"), "image/webp")
	require.NoError(t, err)

	sink := &Sink{store: store}

	file, err := sink.requestFile(context.Background(), storage.LocalURL(obj.Key))
	require.NoError(t, err)
	fileBytes, ok := file.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "x.webp", fileBytes.Name)
	assert.Equal(t, []byte("bytes"), fileBytes.Bytes)

	file, err = sink.requestFile(context.Background(), "https://cdn.example.com/pic.webp")
	require.NoError(t, err)
	assert.Equal(t, tgbotapi.FileURL("https://cdn.example.com/pic.webp"), file)

	_, err = sink.requestFile(context.Background(), storage.LocalURL("media/blobs/missing.webp"))
	assert.Error(t, err)
}
