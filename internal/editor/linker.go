package editor

import (
	"fmt"
	"math"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

// DimensionEdit carries the dimensions supplied by one edit. A nil field was
// not part of the edit.
type DimensionEdit struct {
	Width  *int
	Height *int
}

func (e DimensionEdit) Empty() bool {
	return e.Width == nil && e.Height == nil
}

// ApplyDimensionEdit keeps the target aspect ratio tied to the natural one.
// Supplying only one dimension recomputes the other from natural; supplying
// both sets them as given. Every resulting side, derived ones included, must
// be at most maxDimension (domain.DefaultMaxDimension when <= 0).
func ApplyDimensionEdit(natural domain.Dimensions, current domain.TransformSettings, edit DimensionEdit, maxDimension int) (domain.TransformSettings, error) {
	if maxDimension <= 0 {
		maxDimension = domain.DefaultMaxDimension
	}
	next := current
	switch {
	case edit.Width != nil && edit.Height != nil:
		target := domain.Dimensions{Width: *edit.Width, Height: *edit.Height}
		if !target.Within(maxDimension) {
			return current, fmt.Errorf("%w: %s, each side must be in [1,%d]", domain.ErrInvalidDimensions, target, maxDimension)
		}
		next.Width, next.Height = *edit.Width, *edit.Height
	case edit.Width != nil:
		height, err := linked(*edit.Width, natural.Width, natural.Height, maxDimension)
		if err != nil {
			return current, err
		}
		next.Width, next.Height = *edit.Width, height
	case edit.Height != nil:
		width, err := linked(*edit.Height, natural.Height, natural.Width, maxDimension)
		if err != nil {
			return current, err
		}
		next.Width, next.Height = width, *edit.Height
	}
	return next, nil
}

// linked returns round(value / from * to), never less than 1. Both value
// and the derived side must stay within limit.
func linked(value, from, to, limit int) (int, error) {
	if value <= 0 || value > limit {
		return 0, fmt.Errorf("%w: %d, must be in [1,%d]", domain.ErrInvalidDimensions, value, limit)
	}
	if from <= 0 || to <= 0 {
		return 0, fmt.Errorf("%w: natural dimensions unknown", domain.ErrInvalidDimensions)
	}
	derived := int(math.Round(float64(value) / float64(from) * float64(to)))
	if derived < 1 {
		derived = 1
	}
	if derived > limit {
		return 0, fmt.Errorf("%w: linked side %d exceeds %d", domain.ErrInvalidDimensions, derived, limit)
	}
	return derived, nil
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	Width       *int           `json:"width,omitempty"`
	Height      *int           `json:"height,omitempty"`
	Quality     *int           `json:"quality,omitempty"`
	Format      *domain.Format `json:"format,omitempty"`
	ProjectName *string        `json:"project_name,omitempty"`
	SectionName *string        `json:"section_name,omitempty"`
	ElementName *string        `json:"element_name,omitempty"`
	AltText     *string        `json:"alt_text,omitempty"`
}

func (p SettingsPatch) Dimensions() DimensionEdit {
	return DimensionEdit{Width: p.Width, Height: p.Height}
}

// Apply merges the patch into current for an item with the given natural
// dimensions and validates the result against maxDimension.
func (p SettingsPatch) Apply(natural domain.Dimensions, current domain.TransformSettings, maxDimension int) (domain.TransformSettings, error) {
	next, err := ApplyDimensionEdit(natural, current, p.Dimensions(), maxDimension)
	if err != nil {
		return current, err
	}
	if p.Quality != nil {
		next.Quality = *p.Quality
	}
	if p.Format != nil {
		format, err := domain.ParseFormat(string(*p.Format))
		if err != nil {
			return current, err
		}
		next.Format = format
	}
	if p.ProjectName != nil {
		next.ProjectName = *p.ProjectName
	}
	if p.SectionName != nil {
		next.SectionName = *p.SectionName
	}
	if p.ElementName != nil {
		next.ElementName = *p.ElementName
	}
	if p.AltText != nil {
		next.AltText = *p.AltText
	}
	if err := next.ValidateWithin(maxDimension); err != nil {
		return current, err
	}
	return next, nil
}
