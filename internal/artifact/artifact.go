// Package artifact stores rendered export files.
package artifact

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

type Object struct {
	Key         string
	ContentType string
	Size        int64
}

type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)
	// DownloadURL returns a time-limited URL, or "" when the backend cannot
	// serve files directly.
	DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ExportKey is the object key for one rendered export.
func ExportKey(projectID, exportID, extension string) string {
	return path.Join("projects", projectID, "exports", exportID+"."+strings.TrimPrefix(extension, "."))
}
