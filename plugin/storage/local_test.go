package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	sum := Sum256Hex([]byte("hello"))
	key := ObjectKey("media", sum, "webp")

	assert.Equal(t, "media/blobs/sha256/"+sum[0:2]+"/"+sum[2:4]+"/"+sum+".webp", key)
	// Identical bytes always derive the identical key.
	assert.Equal(t, key, ObjectKey("media", Sum256Hex([]byte("hello")), "webp"))
}

func TestLocalStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	data := []byte("blob bytes")
	key := ObjectKey("media", Sum256Hex(data), "webp")

	obj, err := store.Put(ctx, key, data, "image/webp")
	require.NoError(t, err)
	assert.Equal(t, key, obj.Key)
	assert.Equal(t, int64(len(data)), obj.Size)
	assert.Empty(t, obj.URL)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.GetBytes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLocalStore_PutIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewLocalStore(root, "")
	require.NoError(t, err)

	data := []byte("same bytes")
	key := ObjectKey("media", Sum256Hex(data), "webp")

	_, err = store.Put(ctx, key, data, "image/webp")
	require.NoError(t, err)
	_, err = store.Put(ctx, key, data, "image/webp")
	require.NoError(t, err)

	// No temp file leftovers after the second put.
	entries, err := os.ReadDir(filepath.Dir(filepath.Join(root, filepath.FromSlash(key))))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStore_URL(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "https://vault.example.com/o/")
	require.NoError(t, err)

	assert.Equal(t, "https://vault.example.com/o/media/blobs/sha256/aa/bb/x.webp",
		store.URL("media/blobs/sha256/aa/bb/x.webp"))
}

func TestLocalStore_GetBytesMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.GetBytes(context.Background(), "media/blobs/sha256/aa/bb/missing.webp")
	assert.Error(t, err)
}
