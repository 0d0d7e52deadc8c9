package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/alttext"
	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/editor"
	"github.com/dustin/go-humanize"
)

type sessionView struct {
	ID                   string     `json:"id"`
	ApplyToAll           bool       `json:"apply_to_all"`
	MaxItems             int        `json:"max_items"`
	Exporting            bool       `json:"exporting"`
	CreatedAt            time.Time  `json:"created_at"`
	RetainedPreviewBytes int        `json:"retained_preview_bytes"`
	RetainedPreviewSize  string     `json:"retained_preview_size"`
	Items                []itemView `json:"items"`
}

type itemView struct {
	editor.ItemView
	SourceSize    string `json:"source_size"`
	EstimatedSize string `json:"estimated_size,omitempty"`
}

func newSessionView(sess *editor.Session) sessionView {
	retained := sess.RetainedPreviewBytes()
	return sessionView{
		ID:                   sess.ID(),
		ApplyToAll:           sess.ApplyToAll(),
		MaxItems:             sess.MaxItems(),
		Exporting:            sess.Exporting(),
		CreatedAt:            sess.CreatedAt(),
		RetainedPreviewBytes: retained,
		RetainedPreviewSize:  humanize.IBytes(uint64(retained)),
		Items:                newItemViews(sess.Items()),
	}
}

func newItemView(v editor.ItemView) itemView {
	out := itemView{ItemView: v, SourceSize: humanize.IBytes(uint64(v.SourceBytes))}
	if v.Preview.Status == domain.PreviewReady {
		out.EstimatedSize = humanize.IBytes(uint64(v.Preview.EncodedSize))
	}
	return out
}

func newItemViews(views []editor.ItemView) []itemView {
	out := make([]itemView, 0, len(views))
	for _, v := range views {
		out = append(out, newItemView(v))
	}
	return out
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	s.logger.Printf("session created session_id=%s", sess.ID())
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("session")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid multipart body: %w", err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeBadRequest(w, errors.New(`multipart field "files" is required`))
		return
	}

	files := make([]domain.IngestFile, 0, len(headers))
	for _, fh := range headers {
		file, err := readUpload(fh)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		files = append(files, file)
	}

	result, err := sess.Ingest(r.Context(), files)
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := map[string]any{
		"accepted":  newItemViews(result.Accepted),
		"skipped":   result.Skipped,
		"rejected":  result.Rejected,
		"truncated": result.Truncated,
		"max_items": sess.MaxItems(),
	}
	if result.Warning != nil {
		body["warning"] = result.Warning.Error()
		body["warning_kind"] = domain.KindOf(result.Warning)
	}
	s.logger.Printf(
		"files ingested session_id=%s accepted=%d skipped=%d rejected=%d truncated=%d",
		sess.ID(), len(result.Accepted), len(result.Skipped), len(result.Rejected), result.Truncated,
	)
	writeJSON(w, http.StatusOK, body)
}

func readUpload(fh *multipart.FileHeader) (domain.IngestFile, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.IngestFile{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.IngestFile{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}

	mimeType := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return domain.IngestFile{Filename: fh.Filename, MIMEType: mimeType, Data: data}, nil
}

func (s *Server) handleApplyToAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	sess.SetApplyToAll(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"apply_to_all": sess.ApplyToAll()})
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	s.updateSettings(w, r, r.PathValue("item"))
}

func (s *Server) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	s.updateSettings(w, r, "")
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request, itemID string) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var patch editor.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeBadRequest(w, err)
		return
	}

	views, err := sess.UpdateSettings(itemID, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"apply_to_all": sess.ApplyToAll(),
		"items":        newItemViews(views),
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := sess.Item(r.PathValue("item"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(view))
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Remove(r.PathValue("item")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Clear()
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

// handlePreview serves the latest successful estimation. While a newer one
// is pending the previous bytes are still served.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	itemID := r.PathValue("item")
	view, err := sess.Item(itemID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, format, ok := sess.Preview(itemID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "preview not available",
			"preview": view.Preview,
		})
		return
	}

	w.Header().Set("Content-Type", format.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Preview-Status", string(view.Preview.Status))
	w.Header().Set("X-Preview-Generation", strconv.FormatUint(view.Preview.Generation, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	rendered, err := sess.Render(r.Context(), r.PathValue("item"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", rendered.Image.Format.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(rendered.Image.Size()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rendered.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered.Image.Data)
}

func (s *Server) handleAltText(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Language string `json:"language"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	lang := alttext.ParseLanguage(req.Language)

	itemID := r.PathValue("item")
	text, err := sess.GenerateAltText(r.Context(), itemID, lang)
	if err != nil {
		s.metrics.altTextRequests.WithLabelValues(altTextStatus(err)).Inc()
		s.writeError(w, err)
		return
	}
	s.metrics.altTextRequests.WithLabelValues("ok").Inc()

	view, err := sess.Item(itemID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":  itemID,
		"language": lang,
		"alt_text": text,
		"item":     newItemView(view),
	})
}

func altTextStatus(err error) string {
	switch {
	case errors.Is(err, alttext.ErrAPIKeyMissing):
		return "missing_key"
	case errors.Is(err, alttext.ErrAPIKeyInvalid):
		return "invalid_key"
	case errors.Is(err, domain.ErrItemNotFound):
		return "not_found"
	default:
		return "failed"
	}
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot store is unavailable"})
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	snap := sess.Snapshot()
	if err := s.store.SaveSnapshot(r.Context(), snap); err != nil {
		s.writeError(w, fmt.Errorf("save snapshot %s: %w", sess.ID(), err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": snap.SessionID,
		"items":      len(snap.Items),
		"saved_at":   snap.SavedAt,
	})
}

// handleDeleteSnapshot drops the persisted copy only; a live session with the
// same id stays open.
func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot store is unavailable"})
		return
	}
	sessionID := r.PathValue("session")
	if err := s.store.DeleteSnapshot(r.Context(), sessionID); err != nil {
		s.writeError(w, fmt.Errorf("delete snapshot %s: %w", sessionID, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResumeSession rebuilds a live session from its persisted snapshot,
// for example after an api restart.
func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot store is unavailable"})
		return
	}

	sessionID := r.PathValue("session")
	snap, ok, err := s.store.LoadSnapshot(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, fmt.Errorf("load snapshot %s: %w", sessionID, err))
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "snapshot not found"})
		return
	}
	s.restore(w, snap)
}

func (s *Server) handleRestoreSession(w http.ResponseWriter, r *http.Request) {
	var snap domain.SessionSnapshot
	if err := decodeJSONLimit(r, &snap, s.maxUploadBytes*2); err != nil {
		writeBadRequest(w, err)
		return
	}
	s.restore(w, snap)
}

func (s *Server) restore(w http.ResponseWriter, snap domain.SessionSnapshot) {
	sess, err := s.sessions.Restore(snap)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			writeBadRequest(w, err)
			return
		}
		s.writeError(w, err)
		return
	}
	s.logger.Printf("session restored session_id=%s items=%d", sess.ID(), sess.Len())
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}
