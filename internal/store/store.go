package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrExportNotFound   = errors.New("export not found")
)

// SnapshotStore persists session snapshots between processes.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap domain.SessionSnapshot) error
	LoadSnapshot(ctx context.Context, sessionID string) (domain.SessionSnapshot, bool, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
}

type ExportStore interface {
	CreateExport(ctx context.Context, job domain.ExportJob) error
	GetExport(ctx context.Context, id string) (domain.ExportJob, bool, error)
	UpdateExportStatus(ctx context.Context, id string, status domain.ExportStatus) (domain.ExportJob, error)
	// FinishExport stores the outcome fields of job and its terminal status.
	FinishExport(ctx context.Context, job domain.ExportJob) error
}

type Store interface {
	SnapshotStore
	ExportStore
}
