package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const SnapshotVersion = 1

// IngestFile is one file handed over by the picker or drag-drop boundary.
type IngestFile struct {
	Filename string
	MIMEType string
	Data     []byte
}

// SessionSnapshot is the serializable form of a session. Source bytes are
// base64 encoded by encoding/json.
type SessionSnapshot struct {
	Version    int            `json:"version"`
	SessionID  string         `json:"session_id"`
	ApplyToAll bool           `json:"apply_to_all"`
	Items      []ItemSnapshot `json:"items"`
	SavedAt    time.Time      `json:"saved_at"`
}

type ItemSnapshot struct {
	ID       string            `json:"id"`
	Filename string            `json:"filename"`
	MIMEType string            `json:"mime_type"`
	Data     []byte            `json:"data"`
	Natural  Dimensions        `json:"natural"`
	Settings TransformSettings `json:"settings"`
}

func (s SessionSnapshot) Validate() error {
	return s.ValidateWithin(DefaultMaxDimension)
}

// ValidateWithin checks the snapshot with maxDimension as the cap on every
// item's target size.
func (s SessionSnapshot) ValidateWithin(maxDimension int) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d", s.Version)
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return errors.New("snapshot session_id is required")
	}
	seen := make(map[string]struct{}, len(s.Items))
	for i, item := range s.Items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("items[%d].id is required", i)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("items[%d].id is duplicated: %s", i, item.ID)
		}
		seen[item.ID] = struct{}{}
		if len(item.Data) == 0 {
			return fmt.Errorf("items[%d].data is required", i)
		}
		if !item.Natural.Valid() {
			return fmt.Errorf("items[%d].natural: %w", i, ErrInvalidDimensions)
		}
		if err := item.Settings.ValidateWithin(maxDimension); err != nil {
			return fmt.Errorf("items[%d].settings: %w", i, err)
		}
	}
	return nil
}
