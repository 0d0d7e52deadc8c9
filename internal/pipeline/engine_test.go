package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

func TestEngine_OutputDecodesToTargetDimensions(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	source := buildTestPNG(t, 240, 120)

	targets := []domain.Dimensions{{Width: 80, Height: 40}, {Width: 33, Height: 77}, {Width: 240, Height: 120}, {Width: 1, Height: 1}}
	for _, format := range []domain.Format{domain.FormatJPEG, domain.FormatPNG, domain.FormatWEBP} {
		for _, target := range targets {
			for _, quality := range []int{10, 75, 100} {
				settings := domain.TransformSettings{Width: target.Width, Height: target.Height, Quality: quality, Format: format}
				out, err := engine.Transform(context.Background(), source, settings)
				if err != nil {
					t.Fatalf("transform %s %s q=%d: %v", format, target, quality, err)
				}
				if out.Size() <= 0 {
					t.Fatalf("expected non-empty output for %s %s", format, target)
				}
				if out.Size() != len(out.Data) {
					t.Fatalf("expected size to equal byte length, got %d vs %d", out.Size(), len(out.Data))
				}

				decoded, gotFormat, err := image.Decode(bytes.NewReader(out.Data))
				if err != nil {
					t.Fatalf("decode %s output: %v", format, err)
				}
				if gotFormat != string(format) {
					t.Fatalf("expected %s bitstream, got %s", format, gotFormat)
				}
				if got := decoded.Bounds().Dx(); got != target.Width {
					t.Fatalf("expected width %d, got %d", target.Width, got)
				}
				if got := decoded.Bounds().Dy(); got != target.Height {
					t.Fatalf("expected height %d, got %d", target.Height, got)
				}
			}
		}
	}
}

func TestEngine_PNGIgnoresQuality(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	source := buildTestPNG(t, 160, 90)

	var reference image.Image
	for _, quality := range []int{10, 40, 90, 100} {
		out, err := engine.Transform(context.Background(), source, domain.TransformSettings{Width: 64, Height: 48, Quality: quality, Format: domain.FormatPNG})
		if err != nil {
			t.Fatalf("transform png q=%d: %v", quality, err)
		}
		decoded, err := png.Decode(bytes.NewReader(out.Data))
		if err != nil {
			t.Fatalf("decode png q=%d: %v", quality, err)
		}
		if reference == nil {
			reference = decoded
			continue
		}
		assertSamePixels(t, reference, decoded)
	}
}

func TestEngine_JPEGQualityChangesSize(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	source := buildTestPNG(t, 320, 240)

	low, err := engine.Transform(context.Background(), source, domain.TransformSettings{Width: 320, Height: 240, Quality: 10, Format: domain.FormatJPEG})
	if err != nil {
		t.Fatalf("transform low quality: %v", err)
	}
	high, err := engine.Transform(context.Background(), source, domain.TransformSettings{Width: 320, Height: 240, Quality: 100, Format: domain.FormatJPEG})
	if err != nil {
		t.Fatalf("transform high quality: %v", err)
	}
	if low.Size() >= high.Size() {
		t.Fatalf("expected q=10 (%d bytes) to be smaller than q=100 (%d bytes)", low.Size(), high.Size())
	}
}

func TestEngine_JPEGCompositesOnWhite(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	transparent := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	var buf bytes.Buffer
	if err := png.Encode(&buf, transparent); err != nil {
		t.Fatalf("encode transparent png: %v", err)
	}

	out, err := engine.Transform(context.Background(), buf.Bytes(), domain.TransformSettings{Width: 20, Height: 20, Quality: 100, Format: domain.FormatJPEG})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}

	for _, p := range []image.Point{{0, 0}, {10, 10}, {19, 19}} {
		r, g, b, _ := decoded.At(p.X, p.Y).RGBA()
		if r>>8 < 250 || g>>8 < 250 || b>>8 < 250 {
			t.Fatalf("expected white at %v, got r=%d g=%d b=%d", p, r>>8, g>>8, b>>8)
		}
	}
}

func TestEngine_PNGKeepsTransparency(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	transparent := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	var buf bytes.Buffer
	if err := png.Encode(&buf, transparent); err != nil {
		t.Fatalf("encode transparent png: %v", err)
	}

	out, err := engine.Transform(context.Background(), buf.Bytes(), domain.TransformSettings{Width: 10, Height: 10, Quality: 90, Format: domain.FormatPNG})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if _, _, _, a := decoded.At(5, 5).RGBA(); a != 0 {
		t.Fatalf("expected transparent pixel, got alpha=%d", a)
	}
}

func TestEngine_InvalidDimensionsSkipsDecode(t *testing.T) {
	calls := 0
	engine := NewEngineWithBackend(TransformerFunc(func(context.Context, []byte, domain.TransformSettings) (domain.EncodedImage, error) {
		calls++
		return domain.EncodedImage{Data: []byte{1}}, nil
	}))

	for _, settings := range []domain.TransformSettings{
		{Width: 0, Height: 10, Quality: 90, Format: domain.FormatJPEG},
		{Width: 10, Height: -1, Quality: 90, Format: domain.FormatJPEG},
	} {
		_, err := engine.Transform(context.Background(), []byte("not an image"), settings)
		if !errors.Is(err, domain.ErrInvalidDimensions) {
			t.Fatalf("expected ErrInvalidDimensions, got %v", err)
		}
	}
	if calls != 0 {
		t.Fatalf("expected backend not to be called, got %d calls", calls)
	}
}

func TestEngine_OversizedTargetRejectedBeforeDecode(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	source := buildTestPNG(t, 8, 8)

	_, err = engine.Transform(context.Background(), source, domain.TransformSettings{Width: 1 << 40, Height: 1 << 40, Quality: 90, Format: domain.FormatJPEG})
	if !errors.Is(err, domain.ErrInvalidDimensions) {
		t.Fatalf("expected ErrInvalidDimensions, got %v", err)
	}

	capped, err := NewEngine(WithMaxDimension(16))
	if err != nil {
		t.Fatalf("new capped engine: %v", err)
	}
	if _, err := capped.Transform(context.Background(), source, domain.TransformSettings{Width: 17, Height: 8, Quality: 90, Format: domain.FormatJPEG}); !errors.Is(err, domain.ErrInvalidDimensions) {
		t.Fatalf("expected ErrInvalidDimensions above the configured cap, got %v", err)
	}
	if _, err := capped.Transform(context.Background(), source, domain.TransformSettings{Width: 16, Height: 8, Quality: 90, Format: domain.FormatJPEG}); err != nil {
		t.Fatalf("expected 16x8 within the cap, got %v", err)
	}
}

func TestEngine_DecodeError(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Transform(context.Background(), []byte("definitely not an image"), domain.TransformSettings{Width: 10, Height: 10, Quality: 90, Format: domain.FormatPNG})
	if !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestEngine_EmptyBackendOutputIsEncodeError(t *testing.T) {
	engine := NewEngineWithBackend(TransformerFunc(func(context.Context, []byte, domain.TransformSettings) (domain.EncodedImage, error) {
		return domain.EncodedImage{}, nil
	}))

	_, err := engine.Transform(context.Background(), []byte{1}, domain.TransformSettings{Width: 1, Height: 1, Quality: 90, Format: domain.FormatPNG})
	if !errors.Is(err, domain.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
}

func TestEngine_AcceptsGIFSource(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	out, err := engine.Transform(context.Background(), buildTestGIF(t, 30, 20), domain.TransformSettings{Width: 15, Height: 10, Quality: 80, Format: domain.FormatJPEG})
	if err != nil {
		t.Fatalf("transform gif: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode jpeg config: %v", err)
	}
	if cfg.Width != 15 || cfg.Height != 10 {
		t.Fatalf("expected 15x10, got %dx%d", cfg.Width, cfg.Height)
	}
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: uint8((x * y) % 256),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTestGIF(t testing.TB, w, h int) []byte {
	t.Helper()

	palette := color.Palette{color.Black, color.White, color.RGBA{R: 200, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, w, h), palette)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetColorIndex(x, y, uint8((x+y)%len(palette)))
		}
	}

	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode source gif: %v", err)
	}
	return buf.Bytes()
}

func assertSamePixels(t *testing.T, want, got image.Image) {
	t.Helper()

	if want.Bounds() != got.Bounds() {
		t.Fatalf("expected bounds %v, got %v", want.Bounds(), got.Bounds())
	}
	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			wr, wg, wb, wa := want.At(x, y).RGBA()
			gr, gg, gb, ga := got.At(x, y).RGBA()
			if wr != gr || wg != gg || wb != gb || wa != ga {
				t.Fatalf("pixel (%d,%d) differs: want %v got %v", x, y, want.At(x, y), got.At(x, y))
			}
		}
	}
}
