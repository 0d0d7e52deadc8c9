package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/export"
	"github.com/dunamismax/imageoptimizer/internal/queue"
	"github.com/dunamismax/imageoptimizer/internal/store"
	"github.com/dunamismax/imageoptimizer/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
)

func TestHandleExportSessionStoresArchive(t *testing.T) {
	s, st, sink, hooks := newTestServer(t)
	seed(t, st, "exp-1", "sess-1", "one", "broken", "three")

	if err := s.handleExportSession(context.Background(), exportTask(t, "exp-1", "sess-1")); err != nil {
		t.Fatalf("handle export: %v", err)
	}

	job, ok, err := st.GetExport(context.Background(), "exp-1")
	if err != nil || !ok {
		t.Fatalf("expected export record, got ok=%v err=%v", ok, err)
	}
	if job.Status != domain.ExportStatusSucceeded {
		t.Fatalf("expected status succeeded, got %s", job.Status)
	}
	if job.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", job.Entries)
	}
	if len(job.Failed) != 1 || job.Failed[0].ItemID != "broken" {
		t.Fatalf("expected one failure for broken, got %+v", job.Failed)
	}
	if job.Failed[0].Reason != domain.KindExportFailed || job.Failed[0].Cause != domain.KindDecode {
		t.Fatalf("expected export_failed caused by decode_error, got %+v", job.Failed[0])
	}
	if job.ArchiveKey != "sess-1/image-optimizer-export-1700000000000.zip" {
		t.Fatalf("unexpected archive key: %s", job.ArchiveKey)
	}
	if job.SessionID != "sess-1" {
		t.Fatalf("expected session id to be preserved, got %q", job.SessionID)
	}
	if sink.calls != 1 {
		t.Fatalf("expected one stored archive, got %d", sink.calls)
	}
	if len(hooks.events) != 1 || hooks.events[0] != webhook.EventExportCompleted {
		t.Fatalf("expected export.completed webhook, got %v", hooks.events)
	}
}

func TestHandleExportSessionNoValidFiles(t *testing.T) {
	s, st, sink, hooks := newTestServer(t)
	seed(t, st, "exp-2", "sess-2", "broken-a", "broken-b")

	if err := s.handleExportSession(context.Background(), exportTask(t, "exp-2", "sess-2")); err != nil {
		t.Fatalf("expected no retry for no_valid_files, got %v", err)
	}

	job, _, _ := st.GetExport(context.Background(), "exp-2")
	if job.Status != domain.ExportStatusFailed {
		t.Fatalf("expected status failed, got %s", job.Status)
	}
	if len(job.Failed) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(job.Failed))
	}
	if !strings.Contains(job.Error, domain.ErrNoValidFiles.Error()) {
		t.Fatalf("expected no valid files error, got %q", job.Error)
	}
	if sink.calls != 0 {
		t.Fatalf("expected no archive to be stored, got %d", sink.calls)
	}
	if len(hooks.events) != 1 || hooks.events[0] != webhook.EventExportFailed {
		t.Fatalf("expected export.failed webhook, got %v", hooks.events)
	}
}

func TestHandleExportSessionMissingSnapshotSkipsRetry(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	if err := st.CreateExport(context.Background(), domain.ExportJob{ID: "exp-3", SessionID: "gone", Status: domain.ExportStatusQueued}); err != nil {
		t.Fatalf("seed export: %v", err)
	}

	err := s.handleExportSession(context.Background(), exportTask(t, "exp-3", "gone"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if !errors.Is(err, store.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}

	job, _, _ := st.GetExport(context.Background(), "exp-3")
	if job.Status != domain.ExportStatusFailed {
		t.Fatalf("expected status failed, got %s", job.Status)
	}
}

func TestHandleExportSessionRejectsBadPayload(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	err := s.handleExportSession(context.Background(), asynq.NewTask(queue.TypeExportSession, []byte(`{"export_id":"x"}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleExportSessionRetriesSinkFailure(t *testing.T) {
	s, st, sink, _ := newTestServer(t)
	sink.err = errors.New("bucket unavailable")
	seed(t, st, "exp-4", "sess-4", "one")

	err := s.handleExportSession(context.Background(), exportTask(t, "exp-4", "sess-4"))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}

	job, _, _ := st.GetExport(context.Background(), "exp-4")
	if job.Status != domain.ExportStatusProcessing {
		t.Fatalf("expected status processing while retrying, got %s", job.Status)
	}
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore, *captureSink, *captureWebhook) {
	t.Helper()

	st := store.NewMemoryStore()
	sink := &captureSink{}
	hooks := &captureWebhook{}
	s := &Server{
		logger:            log.New(io.Discard, "", 0),
		transformer:       namedTransformer{},
		exportConcurrency: 2,
		sink:              sink,
		snapshots:         st,
		exports:           st,
		webhookClient:     hooks,
		metrics:           newMetrics(),
		tracer:            otel.Tracer("test"),
		now: func() time.Time {
			return time.UnixMilli(1_700_000_000_000)
		},
	}
	return s, st, sink, hooks
}

func seed(t *testing.T, st *store.MemoryStore, exportID, sessionID string, itemIDs ...string) {
	t.Helper()

	snap := domain.SessionSnapshot{
		Version:   domain.SnapshotVersion,
		SessionID: sessionID,
		SavedAt:   time.Now().UTC(),
	}
	for _, id := range itemIDs {
		snap.Items = append(snap.Items, domain.ItemSnapshot{
			ID:       id,
			Filename: id + ".png",
			MIMEType: "image/png",
			Data:     []byte(id),
			Natural:  domain.Dimensions{Width: 40, Height: 30},
			Settings: domain.DefaultSettings(domain.Dimensions{Width: 40, Height: 30}),
		})
	}
	if err := st.SaveSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	if err := st.CreateExport(context.Background(), domain.ExportJob{
		ID:         exportID,
		SessionID:  sessionID,
		Status:     domain.ExportStatusQueued,
		WebhookURL: "https://hooks.example.test/export",
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed export: %v", err)
	}
}

func exportTask(t *testing.T, exportID, sessionID string) *asynq.Task {
	t.Helper()

	task, err := queue.NewExportSessionTask(queue.ExportSessionPayload{
		ExportID:    exportID,
		SessionID:   sessionID,
		WebhookURL:  "https://hooks.example.test/export",
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

type namedTransformer struct{}

func (namedTransformer) Transform(_ context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error) {
	if strings.HasPrefix(string(input), "broken") {
		return domain.EncodedImage{}, domain.ErrDecode
	}
	return domain.EncodedImage{
		Data:   append([]byte("out-"), input...),
		Format: settings.Format,
		Width:  settings.Width,
		Height: settings.Height,
	}, nil
}

type captureSink struct {
	calls int
	err   error
}

func (s *captureSink) Store(_ context.Context, sessionID, name string, data []byte) (export.Stored, error) {
	if s.err != nil {
		return export.Stored{}, s.err
	}
	s.calls++
	return export.Stored{
		Name:  name,
		Path:  sessionID + "/" + name,
		URL:   "https://objects.example.test/" + sessionID + "/" + name,
		Bytes: len(data),
	}, nil
}

type captureWebhook struct {
	events []string
}

func (w *captureWebhook) Send(_ context.Context, _ string, event string, _ any) error {
	w.events = append(w.events, event)
	return nil
}
