package editor

import (
	"fmt"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

// Snapshot captures every item with its source bytes and settings. Preview
// state is not persisted; it is recomputed after Restore.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.SessionSnapshot{
		Version:    domain.SnapshotVersion,
		SessionID:  s.id,
		ApplyToAll: s.applyToAll,
		Items:      make([]domain.ItemSnapshot, 0, len(s.order)),
		SavedAt:    time.Now().UTC(),
	}
	for _, itemID := range s.order {
		item := s.items[itemID]
		snap.Items = append(snap.Items, domain.ItemSnapshot{
			ID:       item.ID,
			Filename: item.Source.Filename,
			MIMEType: item.Source.MIMEType,
			Data:     item.Source.Data,
			Natural:  item.Natural,
			Settings: item.Settings,
		})
	}
	return snap
}

// Restore replaces the session contents with snap. Item ids are kept and an
// estimation is scheduled for each item.
func (s *Session) Restore(snap domain.SessionSnapshot) error {
	if err := snap.ValidateWithin(s.maxDimension); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if len(snap.Items) > s.maxItems {
		return fmt.Errorf("restore snapshot: %w: %d items, limit is %d", domain.ErrMaxFilesExceeded, len(snap.Items), s.maxItems)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.clearLocked()
	s.applyToAll = snap.ApplyToAll
	for _, it := range snap.Items {
		source := domain.SourceImage{Filename: it.Filename, MIMEType: it.MIMEType, Data: it.Data}
		if _, err := s.addLocked(it.ID, source, it.Natural, it.Settings); err != nil {
			return err
		}
	}
	return nil
}
