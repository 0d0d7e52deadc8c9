package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS session_snapshots (
	session_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	snapshot JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS export_jobs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	archive_key TEXT NOT NULL DEFAULT '',
	archive_url TEXT NOT NULL DEFAULT '',
	archive_bytes INTEGER NOT NULL DEFAULT 0,
	entries INTEGER NOT NULL DEFAULT 0,
	failed JSONB NOT NULL DEFAULT '[]'::jsonb,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS export_jobs_session_idx ON export_jobs (session_id);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap domain.SessionSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO session_snapshots (session_id, version, snapshot, saved_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE
		 SET version = EXCLUDED.version, snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at`,
		snap.SessionID,
		snap.Version,
		body,
		snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, sessionID string) (domain.SessionSnapshot, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT snapshot FROM session_snapshots WHERE session_id = $1`,
		sessionID,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SessionSnapshot{}, false, nil
		}
		return domain.SessionSnapshot{}, false, fmt.Errorf("query snapshot: %w", err)
	}

	var snap domain.SessionSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.SessionSnapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *PostgresStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateExport(ctx context.Context, job domain.ExportJob) error {
	failedJSON, err := marshalFailures(job.Failed)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO export_jobs (id, session_id, status, webhook_url, archive_key, archive_url, archive_bytes, entries, failed, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID,
		job.SessionID,
		string(job.Status),
		job.WebhookURL,
		job.ArchiveKey,
		job.ArchiveURL,
		job.ArchiveBytes,
		job.Entries,
		failedJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExport(ctx context.Context, id string) (domain.ExportJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, session_id, status, webhook_url, archive_key, archive_url, archive_bytes, entries, failed, error, created_at, updated_at
		 FROM export_jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job        domain.ExportJob
		status     string
		failedJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.SessionID,
		&status,
		&job.WebhookURL,
		&job.ArchiveKey,
		&job.ArchiveURL,
		&job.ArchiveBytes,
		&job.Entries,
		&failedJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ExportJob{}, false, nil
		}
		return domain.ExportJob{}, false, fmt.Errorf("query export job: %w", err)
	}

	job.Status = domain.ExportStatus(status)
	if err := json.Unmarshal(failedJSON, &job.Failed); err != nil {
		return domain.ExportJob{}, false, fmt.Errorf("unmarshal export failures: %w", err)
	}
	return job, true, nil
}

func (s *PostgresStore) UpdateExportStatus(ctx context.Context, id string, status domain.ExportStatus) (domain.ExportJob, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE export_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		string(status),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("update export status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ExportJob{}, ErrExportNotFound
	}

	job, ok, err := s.GetExport(ctx, id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if !ok {
		return domain.ExportJob{}, ErrExportNotFound
	}
	return job, nil
}

func (s *PostgresStore) FinishExport(ctx context.Context, job domain.ExportJob) error {
	failedJSON, err := marshalFailures(job.Failed)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE export_jobs
		 SET status = $1, archive_key = $2, archive_url = $3, archive_bytes = $4, entries = $5, failed = $6, error = $7, updated_at = $8
		 WHERE id = $9`,
		string(job.Status),
		job.ArchiveKey,
		job.ArchiveURL,
		job.ArchiveBytes,
		job.Entries,
		failedJSON,
		job.Error,
		time.Now().UTC(),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("finish export job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrExportNotFound
	}
	return nil
}

func marshalFailures(failed []domain.ItemFailure) ([]byte, error) {
	if failed == nil {
		failed = []domain.ItemFailure{}
	}
	body, err := json.Marshal(failed)
	if err != nil {
		return nil, fmt.Errorf("marshal export failures: %w", err)
	}
	return body, nil
}
