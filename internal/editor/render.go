package editor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dunamismax/imageoptimizer/internal/alttext"
	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/export"
	"github.com/dunamismax/imageoptimizer/internal/naming"
)

type Rendered struct {
	Filename string
	Image    domain.EncodedImage
}

// Render encodes one item with its current settings, bypassing the debounce.
func (s *Session) Render(ctx context.Context, itemID string) (Rendered, error) {
	s.mu.RLock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.RUnlock()
		return Rendered{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	source, settings := item.Source, item.Settings
	s.mu.RUnlock()

	out, err := s.transformer.Transform(ctx, source.Data, settings)
	if err != nil {
		return Rendered{}, fmt.Errorf("render item %s: %w", itemID, err)
	}
	return Rendered{Filename: naming.Resolve(source.Filename, settings), Image: out}, nil
}

// ExportItems returns the read-only views the export coordinator works on.
func (s *Session) ExportItems() []export.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]export.Item, 0, len(s.order))
	for _, itemID := range s.order {
		item := s.items[itemID]
		items = append(items, export.Item{
			ID:       item.ID,
			Filename: item.Source.Filename,
			Source:   item.Source.Data,
			Settings: item.Settings,
		})
	}
	return items
}

// Export writes the archive of every item to w. Failed items are marked
// Failed{export_failed} in their preview state.
func (s *Session) Export(ctx context.Context, w io.Writer) (export.Result, error) {
	return s.exporter.ExportAll(ctx, s.ExportItems(), w)
}

func (s *Session) Exporting() bool {
	return s.exporter.Running()
}

// GenerateAltText asks the generator for alt text of the item's original
// image and stores the cleaned text in the item's settings.
func (s *Session) GenerateAltText(ctx context.Context, itemID string, lang alttext.Language) (string, error) {
	if s.altText == nil {
		return "", alttext.ErrAPIKeyMissing
	}

	s.mu.RLock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.RUnlock()
		return "", fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	source := item.Source
	s.mu.RUnlock()

	text, err := s.altText.Generate(ctx, source.Data, source.MIMEType, lang)
	if err != nil {
		s.logger.Printf("alt text failed session_id=%s item_id=%s err=%v", s.id, itemID, err)
		return "", alttext.Classify(err)
	}
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok = s.items[itemID]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	item.Settings.AltText = text
	s.scheduleLocked(item)
	return text, nil
}
