package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

type captureStorage struct {
	key         string
	data        []byte
	contentType string
	expiry      time.Duration
	presignErr  error
	removed     []string
}

func (s *captureStorage) WriteObject(_ context.Context, objectKey string, data []byte, contentType string) error {
	s.key = objectKey
	s.data = data
	s.contentType = contentType
	return nil
}

func (s *captureStorage) PresignedGetURL(_ context.Context, objectKey string, expiry time.Duration) (string, error) {
	s.expiry = expiry
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://minio.local/bucket/" + objectKey + "?sig=abc", nil
}

func (s *captureStorage) RemoveObject(_ context.Context, objectKey string) error {
	s.removed = append(s.removed, objectKey)
	return nil
}

func TestLocalDirSinkWritesUnderSession(t *testing.T) {
	dir := t.TempDir()
	stored, err := LocalDirSink{Dir: dir}.Store(context.Background(), "sess/1", "archive.zip", []byte("zip"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	want := filepath.Join(dir, "sess_1", "archive.zip")
	if stored.Path != want {
		t.Fatalf("expected path %s, got %s", want, stored.Path)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read stored archive: %v", err)
	}
	if string(data) != "zip" || stored.Bytes != 3 {
		t.Fatalf("expected 3 stored bytes, got %q (%d)", data, stored.Bytes)
	}
}

func TestLocalDirSinkRequiresDir(t *testing.T) {
	if _, err := (LocalDirSink{}).Store(context.Background(), "", "a.zip", nil); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestArchiveUploadsToObjectStore(t *testing.T) {
	storage := &captureStorage{}
	sink := ObjectStoreSink{Storage: storage}
	c := NewCoordinator(staticTransformer{})

	now := time.UnixMilli(1700000000000)
	result, stored, err := Archive(context.Background(), c, sink, "session-1", []Item{testItem("a", "a.png")}, now)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	if storage.key != "exports/session-1/image-optimizer-export-1700000000000.zip" {
		t.Fatalf("unexpected object key %s", storage.key)
	}
	if storage.contentType != ArchiveContentType {
		t.Fatalf("expected content type %s, got %s", ArchiveContentType, storage.contentType)
	}
	if storage.expiry != defaultPresignedExpiry {
		t.Fatalf("expected default expiry, got %s", storage.expiry)
	}
	if !strings.HasPrefix(stored.URL, "https://minio.local/") {
		t.Fatalf("expected presigned url, got %q", stored.URL)
	}
	if names := readArchiveNames(t, storage.data); len(names) != 1 || names[0] != "a-80x60.webp" {
		t.Fatalf("unexpected archive entries %v", names)
	}
}

func TestArchiveSkipsSinkWhenNothingSucceeded(t *testing.T) {
	storage := &captureStorage{}
	c := NewCoordinator(staticTransformer{failFor: map[string]bool{"a": true}})

	_, _, err := Archive(context.Background(), c, ObjectStoreSink{Storage: storage}, "s", []Item{testItem("a", "a.png")}, time.Now())
	if domain.KindOf(err) != domain.KindNoValidFiles {
		t.Fatalf("expected no_valid_files, got %v", err)
	}
	if storage.key != "" {
		t.Fatalf("expected no upload, got %s", storage.key)
	}
}

func TestObjectStoreSinkRemovesUploadWhenPresignFails(t *testing.T) {
	storage := &captureStorage{presignErr: errors.New("signature backend down")}
	sink := ObjectStoreSink{Storage: storage}

	_, err := sink.Store(context.Background(), "s1", "a.zip", []byte("zip"))
	if err == nil {
		t.Fatal("expected presign failure")
	}
	if len(storage.removed) != 1 || storage.removed[0] != "exports/s1/a.zip" {
		t.Fatalf("expected uploaded object to be removed, got %v", storage.removed)
	}
}
