package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LocalStore keeps blobs on the local filesystem under a root directory.
// Writes go through a temp file plus rename so a crashed write never
// leaves a partial blob under the final key.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates a filesystem store rooted at root. baseURL, when
// non-empty, is prepended to keys by URL(); leave it empty when the blobs
// are not directly reachable over HTTP.
func NewLocalStore(root string, baseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("storage root required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage root %s", root)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	final := s.path(key)

	// Content addressing: an existing key already holds these bytes.
	if info, err := os.Stat(final); err == nil {
		return &StoredObject{Key: key, Size: info.Size(), URL: s.URL(key)}, nil
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create blob directory for %s", key)
	}

	tmp := final + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temp file for %s", key)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, errors.Wrapf(err, "failed to write blob %s", key)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, errors.Wrapf(err, "failed to sync blob %s", key)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, errors.Wrapf(err, "failed to close blob %s", key)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return nil, errors.Wrapf(err, "failed to publish blob %s", key)
	}

	return &StoredObject{Key: key, Size: int64(len(data)), URL: s.URL(key)}, nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat blob %s", key)
}

func (s *LocalStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read blob %s", key)
	}
	return data, nil
}

func (s *LocalStore) URL(key string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/" + key
}
