package domain

import "time"

type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "queued"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusSucceeded  ExportStatus = "succeeded"
	ExportStatusFailed     ExportStatus = "failed"
)

func (s ExportStatus) Terminal() bool {
	return s == ExportStatusSucceeded || s == ExportStatusFailed
}

type ItemFailure struct {
	ItemID string    `json:"item_id"`
	Reason ErrorKind `json:"reason"`
	Cause  ErrorKind `json:"cause,omitempty"`
}

// ExportJob tracks one background export of a persisted session snapshot.
type ExportJob struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Status       ExportStatus  `json:"status"`
	WebhookURL   string        `json:"webhook_url,omitempty"`
	ArchiveKey   string        `json:"archive_key,omitempty"`
	ArchiveURL   string        `json:"archive_url,omitempty"`
	ArchiveBytes int           `json:"archive_bytes,omitempty"`
	Entries      int           `json:"entries"`
	Failed       []ItemFailure `json:"failed,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
