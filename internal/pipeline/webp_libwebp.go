//go:build libwebp && cgo && !nativewebp

package pipeline

import (
	"image"
	"io"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

const encoderLossyWebP = true

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return err
	}
	return webp.Encode(w, img, options)
}
