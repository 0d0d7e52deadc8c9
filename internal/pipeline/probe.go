package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	_ "golang.org/x/image/webp"
)

// Probe reads only the image header. Animated GIF and WEBP containers report
// the dimensions of their first frame.
func Probe(data []byte) (domain.Dimensions, error) {
	if len(data) == 0 {
		return domain.Dimensions{}, fmt.Errorf("%w: empty input", domain.ErrDecode)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.Dimensions{}, fmt.Errorf("%w: probe header: %v", domain.ErrDecode, err)
	}

	dims := domain.Dimensions{Width: cfg.Width, Height: cfg.Height}
	if !dims.Valid() {
		return domain.Dimensions{}, fmt.Errorf("%w: source reports %s", domain.ErrDecode, dims)
	}
	return dims, nil
}
