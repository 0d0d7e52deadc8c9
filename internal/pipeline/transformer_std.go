package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imageoptimizer/internal/domain"
	"golang.org/x/image/draw"
)

var opaqueWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}

type stdlibTransformer struct{}

func (t stdlibTransformer) Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error) {
	select {
	case <-ctx.Done():
		return domain.EncodedImage{}, ctx.Err()
	default:
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return domain.EncodedImage{}, fmt.Errorf("%w: decode source image: %v", domain.ErrDecode, err)
	}
	if src.Bounds().Empty() {
		return domain.EncodedImage{}, fmt.Errorf("%w: source image has no pixels", domain.ErrDecode)
	}

	out := resample(src, settings.Width, settings.Height, settings.Format.SupportsAlpha())

	select {
	case <-ctx.Done():
		return domain.EncodedImage{}, ctx.Err()
	default:
	}

	data, err := encodeImage(out, settings.Format, settings.EffectiveQuality())
	if err != nil {
		return domain.EncodedImage{}, err
	}

	return domain.EncodedImage{
		Data:   data,
		Format: settings.Format,
		Width:  settings.Width,
		Height: settings.Height,
	}, nil
}

// resample stretches src to exactly width x height with independent X and Y
// scale factors. Without alpha the result is composited on opaque white.
func resample(src image.Image, width, height int, keepAlpha bool) image.Image {
	scaled := imaging.Resize(src, width, height, imaging.Lanczos)
	if keepAlpha {
		return scaled
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opaqueWhite), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), scaled, scaled.Bounds().Min, draw.Over)
	return dst
}

func encodeImage(img image.Image, format domain.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case domain.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("%w: encode jpeg: %v", domain.ErrEncode, err)
		}
	case domain.FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("%w: encode png: %v", domain.ErrEncode, err)
		}
	case domain.FormatWEBP:
		if err := encodeWebP(&buf, img, quality); err != nil {
			return nil, fmt.Errorf("%w: encode webp: %v", domain.ErrEncode, err)
		}
	default:
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrEncode, domain.ErrUnsupportedFormat, format)
	}

	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no bytes", domain.ErrEncode)
	}
	return buf.Bytes(), nil
}
