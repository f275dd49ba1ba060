package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps artifacts on the local filesystem under a root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *LocalStore) Put(_ context.Context, key, contentType string, data []byte) (Object, error) {
	target, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return Object{}, fmt.Errorf("commit artifact: %w", err)
	}
	return Object{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, Object, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, Object{}, err
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("open artifact: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, Object{}, fmt.Errorf("stat artifact: %w", err)
	}
	return file, Object{
		Key:         key,
		ContentType: mime.TypeByExtension(filepath.Ext(target)),
		Size:        info.Size(),
	}, nil
}

func (s *LocalStore) DownloadURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
