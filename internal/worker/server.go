package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/config"
	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/export"
	"github.com/dunamismax/imageoptimizer/internal/queue"
	"github.com/dunamismax/imageoptimizer/internal/store"
	"github.com/dunamismax/imageoptimizer/internal/webhook"
	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger            *log.Logger
	server            *asynq.Server
	transformer       export.Transformer
	exportConcurrency int
	sink              export.Sink
	snapshots         store.SnapshotStore
	exports           store.ExportStore
	webhookClient     webhookSender
	metrics           *metrics
	tracer            trace.Tracer
	now               func() time.Time
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Deps struct {
	Transformer       export.Transformer
	ExportConcurrency int
	Sink              export.Sink
	Store             store.Store
	Webhook           webhookSender
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Transformer == nil {
		return nil, errors.New("transformer is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("archive sink is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		transformer:       deps.Transformer,
		exportConcurrency: deps.ExportConcurrency,
		sink:              deps.Sink,
		snapshots:         deps.Store,
		exports:           deps.Store,
		webhookClient:     deps.Webhook,
		metrics:           newMetrics(),
		tracer:            otel.Tracer("imageoptimizer/worker"),
		now:               time.Now,
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeExportSession, s.handleExportSession)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleExportSession(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := string(domain.ExportStatusFailed)

	payload, err := queue.ParseExportSessionPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.export_session", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("export.id", payload.ExportID),
		attribute.String("export.session_id", payload.SessionID),
	)
	defer span.End()
	defer func() {
		s.metrics.exportDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.exportsTotal.WithLabelValues(outcome).Inc()
	}()

	s.metrics.activeExports.Inc()
	defer s.metrics.activeExports.Dec()

	s.logger.Printf("Exporting export_id=%s session_id=%s", payload.ExportID, payload.SessionID)
	s.updateStatus(ctx, payload.ExportID, domain.ExportStatusProcessing)

	snap, ok, err := s.snapshots.LoadSnapshot(ctx, payload.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot load failed")
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		err := fmt.Errorf("%w: %s", store.ErrSnapshotNotFound, payload.SessionID)
		s.fail(ctx, payload, domain.ExportJob{ID: payload.ExportID, Status: domain.ExportStatusFailed, Error: err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot missing")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	coordinator := export.NewCoordinator(s.transformer,
		export.WithConcurrency(s.exportConcurrency),
		export.WithLogger(s.logger),
	)
	result, stored, err := export.Archive(ctx, coordinator, s.sink, payload.SessionID, itemsFromSnapshot(snap), s.now())
	for _, f := range result.Failed {
		s.metrics.itemFailuresTotal.WithLabelValues(string(f.Cause)).Inc()
	}

	if errors.Is(err, domain.ErrNoValidFiles) {
		s.fail(ctx, payload, domain.ExportJob{
			ID:     payload.ExportID,
			Status: domain.ExportStatusFailed,
			Failed: export.ItemFailures(result.Failed),
			Error:  err.Error(),
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindNoValidFiles))
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return fmt.Errorf("run export: %w", err)
	}

	job := domain.ExportJob{
		ID:           payload.ExportID,
		SessionID:    payload.SessionID,
		Status:       domain.ExportStatusSucceeded,
		ArchiveKey:   stored.Path,
		ArchiveURL:   stored.URL,
		ArchiveBytes: stored.Bytes,
		Entries:      len(result.Entries),
		Failed:       export.ItemFailures(result.Failed),
	}
	if err := s.exports.FinishExport(ctx, job); err != nil {
		s.logger.Printf("export record update failed export_id=%s err=%v", payload.ExportID, err)
	}

	s.logger.Printf(
		"Exported export_id=%s entries=%d failed=%d size=%s key=%s",
		payload.ExportID,
		len(result.Entries),
		len(result.Failed),
		humanize.IBytes(uint64(stored.Bytes)),
		stored.Path,
	)
	s.metrics.archiveEntries.Add(float64(len(result.Entries)))
	s.metrics.archiveBytesTotal.Add(float64(stored.Bytes))
	outcome = string(domain.ExportStatusSucceeded)

	if err := s.dispatchWebhook(ctx, payload, webhook.EventExportCompleted, map[string]any{
		"export_id":     payload.ExportID,
		"session_id":    payload.SessionID,
		"status":        domain.ExportStatusSucceeded,
		"archive_name":  stored.Name,
		"archive_url":   stored.URL,
		"archive_bytes": stored.Bytes,
		"entries":       len(result.Entries),
		"failed":        job.Failed,
		"requested_at":  payload.RequestedAt,
		"completed_at":  time.Now().UTC(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	span.SetStatus(codes.Ok, "exported")
	return nil
}

func itemsFromSnapshot(snap domain.SessionSnapshot) []export.Item {
	items := make([]export.Item, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, export.Item{
			ID:       it.ID,
			Filename: it.Filename,
			Source:   it.Data,
			Settings: it.Settings,
		})
	}
	return items
}

func (s *Server) fail(ctx context.Context, payload queue.ExportSessionPayload, job domain.ExportJob) {
	if err := s.exports.FinishExport(ctx, job); err != nil {
		s.logger.Printf("export record update failed export_id=%s err=%v", payload.ExportID, err)
	}
	_ = s.dispatchWebhook(ctx, payload, webhook.EventExportFailed, map[string]any{
		"export_id":    payload.ExportID,
		"session_id":   payload.SessionID,
		"status":       domain.ExportStatusFailed,
		"failed":       job.Failed,
		"error":        job.Error,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
	})
}

func (s *Server) updateStatus(ctx context.Context, exportID string, status domain.ExportStatus) {
	if _, err := s.exports.UpdateExportStatus(ctx, exportID, status); err != nil {
		s.logger.Printf("export status update failed export_id=%s status=%s err=%v", exportID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ExportSessionPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed export_id=%s event=%s err=%v", payload.ExportID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}
