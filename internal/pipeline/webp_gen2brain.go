//go:build !nativewebp && !(libwebp && cgo)

package pipeline

import (
	"image"
	"io"

	"github.com/gen2brain/webp"
)

// libwebp compiled to wasm and run under wazero, or a system libwebp loaded
// through purego when one is installed.
const encoderLossyWebP = true

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, webp.Options{Quality: quality})
}
