package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhoard/linkhoard/plugin/storage"
)

func solidPNG(t *testing.T, c color.NRGBA, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func animatedGIF(t *testing.T, frames int) []byte {
	t.Helper()
	g := &gif.GIF{Config: image.Config{Width: 4, Height: 4}}
	for i := 0; i < frames; i++ {
		palette := color.Palette{color.Black, color.White}
		frame := image.NewPaletted(image.Rect(0, 0, 4, 4), palette)
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 5)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

func TestDecodeImage_Still(t *testing.T) {
	img, err := decodeImage(solidPNG(t, color.NRGBA{R: 255, A: 255}, 8, 6))
	require.NoError(t, err)

	assert.False(t, img.animated)
	assert.Len(t, img.frames, 1)
	assert.Equal(t, 8, img.width)
	assert.Equal(t, 6, img.height)
}

func TestDecodeImage_AnimatedGIF(t *testing.T) {
	img, err := decodeImage(animatedGIF(t, 3))
	require.NoError(t, err)

	assert.True(t, img.animated)
	assert.Len(t, img.frames, 3)
	assert.Equal(t, []uint{50, 50, 50}, img.durations)
}

func TestDominantColor(t *testing.T) {
	img, err := decodeImage(solidPNG(t, color.NRGBA{R: 255, A: 255}, 4, 4))
	require.NoError(t, err)

	assert.Equal(t, "#ff0000", dominantColor(img))
}

func TestLocalizeURLs(t *testing.T) {
	localized := map[string]string{
		"https://cdn.example.com/a.png": "local://media/blobs/sha256/aa/bb/a.webp",
		"https://cdn.example.com/b.png": "local://media/blobs/sha256/cc/dd/b.webp",
	}
	urls := []string{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/unknown.png",
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/b.png",
	}

	got := LocalizeURLs(urls, localized)

	assert.Equal(t, []string{
		"local://media/blobs/sha256/aa/bb/a.webp",
		"https://cdn.example.com/unknown.png",
		"local://media/blobs/sha256/cc/dd/b.webp",
	}, got)
}

func TestHasUnarchivedImages(t *testing.T) {
	assert.True(t, HasUnarchivedImages(json.RawMessage(`{"images":[{"url":"https://a/x.png"}]}`)))
	assert.False(t, HasUnarchivedImages(json.RawMessage(`{"images":[{"url":"https://a/x.png","stored_key":"media/blobs/sha256/aa/bb/x.webp"}]}`)))
	assert.False(t, HasUnarchivedImages(json.RawMessage(`{"images":[]}`)))
	assert.False(t, HasUnarchivedImages(json.RawMessage(`{}`)))
	assert.False(t, HasUnarchivedImages(nil))
}

func TestProcessor_Process(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(solidPNG(t, color.NRGBA{G: 255, A: 255}, 8, 8))
	}))
	defer server.Close()

	blobStore, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	processor := NewProcessor(blobStore, &Config{})

	archive := json.RawMessage(fmt.Sprintf(`{"images":[{"url":"%s/a.png","note":"kept"}],"platform_extra":"kept"}`, server.URL))

	result, err := processor.Process(ctx, archive)
	require.NoError(t, err)
	assert.True(t, result.Changed)

	var root map[string]any
	require.NoError(t, json.Unmarshal(result.Archive, &root))

	// Unknown keys survive the rewrite.
	assert.Equal(t, "kept", root["platform_extra"])
	assert.Equal(t, "#00ff00", root["dominant_color"])

	images := root["images"].([]any)
	entry := images[0].(map[string]any)
	assert.Equal(t, "kept", entry["note"])
	storedKey := entry["stored_key"].(string)
	assert.Contains(t, storedKey, "media/blobs/sha256/")
	assert.Equal(t, "image/webp", entry["stored_content_type"])
	assert.EqualValues(t, 8, entry["stored_width"])

	assert.Equal(t, "local://"+storedKey, result.Localized[server.URL+"/a.png"])

	// Blob and thumbnail both landed in storage.
	exists, err := blobStore.Exists(ctx, storedKey)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = blobStore.Exists(ctx, storedKey+".thumb.webp")
	require.NoError(t, err)
	assert.True(t, exists)

	// Second pass over the rewritten archive performs no writes.
	again, err := processor.Process(ctx, result.Archive)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, result.Localized, again.Localized)
}

func TestProcessor_ProcessSkipsDeadLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	blobStore, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	processor := NewProcessor(blobStore, &Config{})

	archive := json.RawMessage(fmt.Sprintf(`{"images":[{"url":"%s/gone.png"}]}`, server.URL))

	result, err := processor.Process(context.Background(), archive)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Empty(t, result.Localized)
}
