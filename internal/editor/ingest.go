package editor

import (
	"context"
	"fmt"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/id"
)

type Rejection struct {
	Filename string           `json:"filename"`
	Reason   domain.ErrorKind `json:"reason"`
}

// IngestResult reports the outcome per file. Skipped lists files that were
// not image-typed; Truncated counts image files dropped because the session
// was full.
type IngestResult struct {
	Accepted  []ItemView  `json:"accepted"`
	Skipped   []string    `json:"skipped,omitempty"`
	Rejected  []Rejection `json:"rejected,omitempty"`
	Truncated int         `json:"truncated,omitempty"`
	Warning   error       `json:"-"`
}

// Ingest accepts image-typed files in order until the session holds
// MaxItems items. Non-image files are skipped silently. Files beyond the cap
// are dropped and reported through Warning, which wraps ErrMaxFilesExceeded;
// ingestion itself still succeeds. Files that cannot be probed are rejected
// without using capacity.
//
// Probing runs before the session lock is taken, so views and previews stay
// readable during a large upload.
func (s *Session) Ingest(ctx context.Context, files []domain.IngestFile) (IngestResult, error) {
	probes := make([]probeOutcome, len(files))
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return IngestResult{}, err
		}
		if !(domain.SourceImage{MIMEType: file.MIMEType}).IsImage() {
			continue
		}
		probes[i].image = true
		probes[i].natural, probes[i].err = s.prober.Probe(file.Data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return IngestResult{}, ErrSessionClosed
	}

	var result IngestResult
	capacity := s.maxItems - len(s.order)
	for i, file := range files {
		probe := probes[i]
		if !probe.image {
			result.Skipped = append(result.Skipped, file.Filename)
			continue
		}
		if len(result.Accepted) >= capacity {
			result.Truncated++
			continue
		}
		if probe.err != nil {
			s.logger.Printf("ingest probe failed session_id=%s filename=%q err=%v", s.id, file.Filename, probe.err)
			result.Rejected = append(result.Rejected, Rejection{Filename: file.Filename, Reason: domain.KindOf(probe.err)})
			continue
		}

		source := domain.SourceImage{Filename: file.Filename, MIMEType: file.MIMEType, Data: file.Data}
		item, err := s.addLocked(id.New(), source, probe.natural, s.defaultSettings(probe.natural))
		if err != nil {
			return result, err
		}
		result.Accepted = append(result.Accepted, s.viewLocked(item))
	}

	if result.Truncated > 0 {
		result.Warning = fmt.Errorf("%w: limit is %d, %d files dropped", domain.ErrMaxFilesExceeded, s.maxItems, result.Truncated)
		s.logger.Printf("ingest truncated session_id=%s max_items=%d dropped=%d", s.id, s.maxItems, result.Truncated)
	}
	return result, nil
}

type probeOutcome struct {
	image   bool
	natural domain.Dimensions
	err     error
}

// defaultSettings targets the natural size, scaled down by aspect ratio when
// a side exceeds the session's dimension cap.
func (s *Session) defaultSettings(natural domain.Dimensions) domain.TransformSettings {
	settings := domain.DefaultSettings(natural)
	if natural.Within(s.maxDimension) {
		return settings
	}
	limit := s.maxDimension
	edit := DimensionEdit{Width: &limit}
	if natural.Height > natural.Width {
		edit = DimensionEdit{Height: &limit}
	}
	if scaled, err := ApplyDimensionEdit(natural, settings, edit, s.maxDimension); err == nil {
		return scaled
	}
	return settings
}

// addLocked registers a new item and schedules its first estimation.
func (s *Session) addLocked(itemID string, source domain.SourceImage, natural domain.Dimensions, settings domain.TransformSettings) (*domain.ImageItem, error) {
	if err := s.estimator.Track(itemID, source.Data); err != nil {
		return nil, fmt.Errorf("track item %s: %w", itemID, err)
	}

	item := &domain.ImageItem{
		ID:       itemID,
		Source:   source,
		Natural:  natural,
		Settings: settings,
	}
	s.items[itemID] = item
	s.order = append(s.order, itemID)
	s.scheduleLocked(item)
	return item, nil
}
