package domain

import (
	"context"
	"errors"
)

type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInvalidDimensions ErrorKind = "invalid_dimensions"
	KindInvalidSettings   ErrorKind = "invalid_settings"
	KindDecode            ErrorKind = "decode_error"
	KindEncode            ErrorKind = "encode_error"
	KindExportFailed      ErrorKind = "export_failed"
	KindNoValidFiles      ErrorKind = "no_valid_files"
	KindMaxFilesExceeded  ErrorKind = "max_files_exceeded"
	KindCanceled          ErrorKind = "canceled"
	KindUnknown           ErrorKind = "unknown"
)

var (
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrInvalidSettings   = errors.New("invalid settings")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrDecode            = errors.New("decode error")
	ErrEncode            = errors.New("encode error")
	ErrExportFailed      = errors.New("export failed")
	ErrNoValidFiles      = errors.New("no valid files to export")
	ErrMaxFilesExceeded  = errors.New("max files exceeded")
	ErrExportInProgress  = errors.New("export already in progress")
	ErrItemNotFound      = errors.New("item not found")
)

// KindOf classifies err by the sentinel it wraps. Export failures report
// KindExportFailed even when the underlying cause is a decode or encode error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrExportFailed):
		return KindExportFailed
	case errors.Is(err, ErrNoValidFiles):
		return KindNoValidFiles
	case errors.Is(err, ErrMaxFilesExceeded):
		return KindMaxFilesExceeded
	case errors.Is(err, ErrInvalidDimensions):
		return KindInvalidDimensions
	case errors.Is(err, ErrInvalidSettings), errors.Is(err, ErrUnsupportedFormat):
		return KindInvalidSettings
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrEncode):
		return KindEncode
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
