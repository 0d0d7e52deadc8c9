package domain

import (
	"fmt"
	"strings"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
)

const (
	MinQuality     = 10
	MaxQuality     = 100
	DefaultQuality = 90
	DefaultFormat  = FormatJPEG

	// DefaultMaxDimension bounds each target side. 16384x16384 RGBA is 1GiB.
	DefaultMaxDimension = 16384
)

func ParseFormat(in string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "jpeg", "jpg", "image/jpeg":
		return FormatJPEG, nil
	case "png", "image/png":
		return FormatPNG, nil
	case "webp", "image/webp":
		return FormatWEBP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, in)
	}
}

func (f Format) Valid() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWEBP:
		return true
	default:
		return false
	}
}

// SupportsAlpha reports whether the encoded output carries transparency.
// Formats without alpha are composited onto opaque white.
func (f Format) SupportsAlpha() bool {
	return f != FormatJPEG
}

func (f Format) Lossless() bool {
	return f == FormatPNG
}

func (f Format) Extension() string {
	return string(f)
}

func (f Format) MIMEType() string {
	return "image/" + string(f)
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Within reports whether both sides are positive and at most limit. A limit
// of zero or less means DefaultMaxDimension.
func (d Dimensions) Within(limit int) bool {
	return d.Valid() && d.Width <= orMaxDimension(limit) && d.Height <= orMaxDimension(limit)
}

func orMaxDimension(limit int) int {
	if limit <= 0 {
		return DefaultMaxDimension
	}
	return limit
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

type TransformSettings struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Quality     int    `json:"quality"`
	Format      Format `json:"format"`
	ProjectName string `json:"project_name"`
	SectionName string `json:"section_name"`
	ElementName string `json:"element_name"`
	AltText     string `json:"alt_text"`
}

func DefaultSettings(natural Dimensions) TransformSettings {
	return TransformSettings{
		Width:   natural.Width,
		Height:  natural.Height,
		Quality: DefaultQuality,
		Format:  DefaultFormat,
	}
}

func (s TransformSettings) Target() Dimensions {
	return Dimensions{Width: s.Width, Height: s.Height}
}

// EffectiveQuality is the quality handed to the encoder. PNG is always
// lossless, so the stored quality is kept only for the editor.
func (s TransformSettings) EffectiveQuality() int {
	if s.Format.Lossless() {
		return MaxQuality
	}
	return s.Quality
}

func (s TransformSettings) Validate() error {
	return s.ValidateWithin(DefaultMaxDimension)
}

// ValidateWithin is Validate with a custom cap on each target side.
func (s TransformSettings) ValidateWithin(maxDimension int) error {
	if !s.Target().Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, s.Width, s.Height)
	}
	if limit := orMaxDimension(maxDimension); !s.Target().Within(limit) {
		return fmt.Errorf("%w: %dx%d exceeds %d", ErrInvalidDimensions, s.Width, s.Height, limit)
	}
	if !s.Format.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, s.Format)
	}
	if s.Quality < MinQuality || s.Quality > MaxQuality {
		return fmt.Errorf("%w: quality must be in [%d,%d], got %d", ErrInvalidSettings, MinQuality, MaxQuality, s.Quality)
	}
	return nil
}

type EncodedImage struct {
	Data   []byte
	Format Format
	Width  int
	Height int
}

// Size is the exact encoded byte length shown as the estimated size.
func (e EncodedImage) Size() int {
	return len(e.Data)
}
