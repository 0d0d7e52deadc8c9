package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.SessionSnapshot
	exports   map[string]domain.ExportJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]domain.SessionSnapshot),
		exports:   make(map[string]domain.ExportJob),
	}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.SessionID] = snap
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, sessionID string) (domain.SessionSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	return snap, ok, nil
}

func (s *MemoryStore) DeleteSnapshot(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}

func (s *MemoryStore) CreateExport(_ context.Context, job domain.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports[job.ID] = job
	return nil
}

func (s *MemoryStore) GetExport(_ context.Context, id string) (domain.ExportJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.exports[id]
	return job, ok, nil
}

func (s *MemoryStore) UpdateExportStatus(_ context.Context, id string, status domain.ExportStatus) (domain.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.exports[id]
	if !ok {
		return domain.ExportJob{}, ErrExportNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.exports[id] = job
	return job, nil
}

func (s *MemoryStore) FinishExport(_ context.Context, job domain.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.exports[job.ID]
	if !ok {
		return ErrExportNotFound
	}

	job.CreatedAt = current.CreatedAt
	job.WebhookURL = current.WebhookURL
	job.SessionID = current.SessionID
	job.UpdatedAt = time.Now().UTC()
	s.exports[job.ID] = job
	return nil
}
