package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	ArchiveContentType     = "application/zip"
	DefaultObjectPrefix    = "exports"
	defaultPresignedExpiry = 24 * time.Hour
)

// Stored describes where an archive ended up.
type Stored struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	URL   string `json:"url,omitempty"`
	Bytes int    `json:"bytes"`
}

type Sink interface {
	Store(ctx context.Context, sessionID, name string, data []byte) (Stored, error)
}

// LocalDirSink writes archives under Dir/<session>/, or directly into Dir
// when sessionID is empty.
type LocalDirSink struct {
	Dir string
}

func (s LocalDirSink) Store(ctx context.Context, sessionID, name string, data []byte) (Stored, error) {
	if strings.TrimSpace(s.Dir) == "" {
		return Stored{}, errors.New("output directory is required")
	}
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	dir := s.Dir
	if sessionID != "" {
		dir = filepath.Join(dir, sanitizePathToken(sessionID))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Stored{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Stored{}, fmt.Errorf("write archive file: %w", err)
	}
	return Stored{Name: name, Path: fullPath, Bytes: len(data)}, nil
}

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	RemoveObject(ctx context.Context, objectKey string) error
}

// ObjectStoreSink uploads archives to exports/<session>/<name> and returns a
// presigned download URL.
type ObjectStoreSink struct {
	Storage     objectStorage
	Prefix      string
	URLValidFor time.Duration
}

func (s ObjectStoreSink) Store(ctx context.Context, sessionID, name string, data []byte) (Stored, error) {
	if s.Storage == nil {
		return Stored{}, errors.New("storage client is required")
	}

	objectKey := path.Join(
		orDefault(strings.TrimSpace(s.Prefix), DefaultObjectPrefix),
		sanitizePathToken(sessionID),
		path.Base(name),
	)
	if err := s.Storage.WriteObject(ctx, objectKey, data, ArchiveContentType); err != nil {
		return Stored{}, fmt.Errorf("upload archive: %w", err)
	}

	expiry := s.URLValidFor
	if expiry <= 0 {
		expiry = defaultPresignedExpiry
	}
	url, err := s.Storage.PresignedGetURL(ctx, objectKey, expiry)
	if err != nil {
		// drop the upload nobody can reach
		if rmErr := s.Storage.RemoveObject(ctx, objectKey); rmErr != nil {
			return Stored{}, fmt.Errorf("presign archive: %w (cleanup: %v)", err, rmErr)
		}
		return Stored{}, fmt.Errorf("presign archive: %w", err)
	}
	return Stored{Name: name, Path: objectKey, URL: url, Bytes: len(data)}, nil
}

// Archive runs an export and hands the archive to sink. The archive is built
// in memory; a session holds a bounded number of items.
func Archive(ctx context.Context, c *Coordinator, sink Sink, sessionID string, items []Item, now time.Time) (Result, Stored, error) {
	var buf bytes.Buffer
	result, err := c.ExportAll(ctx, items, &buf)
	if err != nil {
		return result, Stored{}, err
	}

	stored, err := sink.Store(ctx, sessionID, ArchiveName(now), buf.Bytes())
	if err != nil {
		return result, Stored{}, fmt.Errorf("store archive: %w", err)
	}
	return result, stored, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
