//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imageoptimizer/internal/domain"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error) {
	select {
	case <-ctx.Done():
		return domain.EncodedImage{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return domain.EncodedImage{}, fmt.Errorf("%w: decode source image: %v", domain.ErrDecode, err)
	}
	defer img.Close()

	// SizeForce scales each axis independently to hit the exact target.
	if err := img.ThumbnailWithSize(settings.Width, settings.Height, vips.InterestingNone, vips.SizeForce); err != nil {
		return domain.EncodedImage{}, fmt.Errorf("%w: resample image: %v", domain.ErrEncode, err)
	}

	if !settings.Format.SupportsAlpha() && img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return domain.EncodedImage{}, fmt.Errorf("%w: flatten onto white: %v", domain.ErrEncode, err)
		}
	}

	data, err := exportGovipsImage(img, settings.Format, settings.EffectiveQuality())
	if err != nil {
		return domain.EncodedImage{}, err
	}

	return domain.EncodedImage{
		Data:   data,
		Format: settings.Format,
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}

func exportGovipsImage(img *vips.ImageRef, format domain.Format, quality int) ([]byte, error) {
	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("%w: encode jpeg: %v", domain.ErrEncode, err)
		}
		return data, nil
	case domain.FormatPNG:
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("%w: encode png: %v", domain.ErrEncode, err)
		}
		return data, nil
	case domain.FormatWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("%w: encode webp: %v", domain.ErrEncode, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrEncode, domain.ErrUnsupportedFormat, format)
	}
}
