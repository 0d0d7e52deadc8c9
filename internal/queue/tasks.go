package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeExportSession = "export:session"

type ExportSessionPayload struct {
	ExportID    string    `json:"export_id"`
	SessionID   string    `json:"session_id"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewExportSessionTask(payload ExportSessionPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal export payload: %w", err)
	}
	return asynq.NewTask(TypeExportSession, body), nil
}

func ParseExportSessionPayload(task *asynq.Task) (ExportSessionPayload, error) {
	var payload ExportSessionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExportSessionPayload{}, fmt.Errorf("unmarshal export payload: %w", err)
	}
	if payload.ExportID == "" || payload.SessionID == "" {
		return ExportSessionPayload{}, fmt.Errorf("export payload requires export_id and session_id")
	}
	return payload, nil
}
