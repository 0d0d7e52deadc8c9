//go:build nativewebp

package pipeline

import (
	"image"
	"io"

	"github.com/HugoSmits86/nativewebp"
)

// nativewebp only writes lossless VP8L bitstreams, so quality has no effect
// on WEBP output in this build.
const encoderLossyWebP = false

func encodeWebP(w io.Writer, img image.Image, _ int) error {
	return nativewebp.Encode(w, img, nil)
}
