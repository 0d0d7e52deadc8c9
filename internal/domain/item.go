package domain

import "strings"

type SourceImage struct {
	Filename string
	MIMEType string
	Data     []byte
}

func (s SourceImage) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s.MIMEType)), "image/")
}

type ImageItem struct {
	ID       string
	Source   SourceImage
	Natural  Dimensions
	Settings TransformSettings
	Preview  PreviewState
}

type PreviewStatus string

const (
	PreviewIdle    PreviewStatus = "idle"
	PreviewPending PreviewStatus = "pending"
	PreviewReady   PreviewStatus = "ready"
	PreviewFailed  PreviewStatus = "failed"
)

// PreviewState is a tagged union keyed by Status. EncodedSize and Preview are
// set only for PreviewReady, Reason only for PreviewFailed.
type PreviewState struct {
	Status      PreviewStatus `json:"status"`
	Generation  uint64        `json:"generation"`
	EncodedSize int           `json:"encoded_size,omitempty"`
	Preview     []byte        `json:"-"`
	Reason      ErrorKind     `json:"reason,omitempty"`
}

func IdlePreview() PreviewState {
	return PreviewState{Status: PreviewIdle}
}

func PendingPreview(generation uint64) PreviewState {
	return PreviewState{Status: PreviewPending, Generation: generation}
}

func ReadyPreview(generation uint64, data []byte) PreviewState {
	return PreviewState{
		Status:      PreviewReady,
		Generation:  generation,
		EncodedSize: len(data),
		Preview:     data,
	}
}

func FailedPreview(generation uint64, reason ErrorKind) PreviewState {
	return PreviewState{Status: PreviewFailed, Generation: generation, Reason: reason}
}
