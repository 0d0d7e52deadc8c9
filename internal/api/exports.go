package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/export"
	"github.com/dunamismax/imageoptimizer/internal/id"
	"github.com/dunamismax/imageoptimizer/internal/queue"
	"github.com/dustin/go-humanize"
)

// handleExport streams the archive of the session's items. The archive is
// assembled first so a NoValidFiles failure can still be reported as JSON.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	result, err := sess.Export(r.Context(), &buf)
	if err != nil {
		s.metrics.exportsTotal.WithLabelValues(exportStatus(err)).Inc()
		if errors.Is(err, domain.ErrNoValidFiles) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  err.Error(),
				"kind":   domain.KindNoValidFiles,
				"failed": export.ItemFailures(result.Failed),
			})
			return
		}
		s.writeError(w, err)
		return
	}
	s.metrics.exportsTotal.WithLabelValues("ok").Inc()

	name := export.ArchiveName(time.Now())
	s.logger.Printf(
		"session exported session_id=%s entries=%d failed=%d size=%s",
		sess.ID(), len(result.Entries), len(result.Failed), humanize.IBytes(uint64(buf.Len())),
	)

	w.Header().Set("Content-Type", export.ArchiveContentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Export-Entries", strconv.Itoa(len(result.Entries)))
	w.Header().Set("X-Export-Failed", strconv.Itoa(len(result.Failed)))
	if len(result.Failed) > 0 {
		ids := make([]string, 0, len(result.Failed))
		for _, f := range result.Failed {
			ids = append(ids, f.ItemID)
		}
		w.Header().Set("X-Export-Failed-Items", strings.Join(ids, ","))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func exportStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoValidFiles):
		return string(domain.KindNoValidFiles)
	case errors.Is(err, domain.ErrExportInProgress):
		return "in_progress"
	default:
		return "error"
	}
}

// handleEnqueueExport persists the session snapshot and hands the export to
// the worker.
func (s *Server) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "background export is unavailable"})
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		WebhookURL string `json:"webhook_url"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	snap := sess.Snapshot()
	if len(snap.Items) == 0 {
		s.writeError(w, fmt.Errorf("%w: session has no items", domain.ErrNoValidFiles))
		return
	}
	if err := s.store.SaveSnapshot(r.Context(), snap); err != nil {
		s.writeError(w, fmt.Errorf("save snapshot %s: %w", sess.ID(), err))
		return
	}

	now := time.Now().UTC()
	job := domain.ExportJob{
		ID:         id.New(),
		SessionID:  sess.ID(),
		Status:     domain.ExportStatusQueued,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateExport(r.Context(), job); err != nil {
		s.writeError(w, fmt.Errorf("create export %s: %w", job.ID, err))
		return
	}

	taskInfo, err := s.queueClient.EnqueueExportSession(r.Context(), queue.ExportSessionPayload{
		ExportID:    job.ID,
		SessionID:   job.SessionID,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed for export %s: %v", job.ID, err)
		job.Status = domain.ExportStatusFailed
		job.Error = "failed to enqueue export"
		if finishErr := s.store.FinishExport(r.Context(), job); finishErr != nil {
			s.logger.Printf("export record update failed export_id=%s err=%v", job.ID, finishErr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue export"})
		return
	}
	s.metrics.exportsEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"export_id":   job.ID,
		"session_id":  job.SessionID,
		"status":      job.Status,
		"items":       len(snap.Items),
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/exports/" + job.ID,
	})
}

type exportView struct {
	domain.ExportJob
	ArchiveSize string `json:"archive_size,omitempty"`
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "background export is unavailable"})
		return
	}

	exportID := r.PathValue("export")
	if !id.Valid(exportID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "export not found"})
		return
	}
	job, ok, err := s.store.GetExport(r.Context(), exportID)
	if err != nil {
		s.writeError(w, fmt.Errorf("load export %s: %w", exportID, err))
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "export not found"})
		return
	}

	view := exportView{ExportJob: job}
	if job.ArchiveBytes > 0 {
		view.ArchiveSize = humanize.IBytes(uint64(job.ArchiveBytes))
	}
	writeJSON(w, http.StatusOK, view)
}
