// Package storage provides the content-addressed blob store used by the
// media processor.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// localScheme prefixes archived-copy references embedded in content
// rows, e.g. "local://media/blobs/sha256/aa/bb/<hex>.webp".
const localScheme = "local://"

// StoredObject describes a blob after a successful Put.
type StoredObject struct {
	Key  string
	Size int64
	// URL is the public URL for the blob when the backend can serve one;
	// empty means the caller must proxy reads through GetBytes.
	URL string
}

// Store is a content-addressed blob store. Identical bytes map to an
// identical key, so concurrent writers racing on one key are benign.
type Store interface {
	// Put writes bytes under key. Writing an existing key is a no-op.
	// Partial files must never become visible under the final key.
	Put(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error)
	Exists(ctx context.Context, key string) (bool, error)
	GetBytes(ctx context.Context, key string) ([]byte, error)
	// URL returns the public URL for key, or empty when the caller
	// must proxy.
	URL(key string) string
}

// Sum256Hex returns the lowercase hex sha256 digest of data.
func Sum256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LocalURL wraps a storage key as a local:// reference.
func LocalURL(key string) string {
	return localScheme + key
}

// ParseLocalURL extracts the storage key from a local:// reference.
// The second return is false for any other URL scheme.
func ParseLocalURL(url string) (string, bool) {
	if !strings.HasPrefix(url, localScheme) {
		return "", false
	}
	return strings.TrimPrefix(url, localScheme), true
}

// ObjectKey builds the content-addressed key
// <ns>/blobs/sha256/<aa>/<bb>/<hex64>.<ext> where aa and bb are the
// first two byte pairs of the digest.
func ObjectKey(namespace, sumHex, ext string) string {
	return fmt.Sprintf("%s/blobs/sha256/%s/%s/%s.%s", namespace, sumHex[0:2], sumHex[2:4], sumHex, ext)
}
