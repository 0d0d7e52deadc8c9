package previewcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

type countingTransformer struct {
	calls int
	err   error
}

func (c *countingTransformer) Transform(_ context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error) {
	c.calls++
	if c.err != nil {
		return domain.EncodedImage{}, c.err
	}
	return domain.EncodedImage{Data: append([]byte("out:"), input...), Format: settings.Format, Width: settings.Width, Height: settings.Height}, nil
}

func baseSettings() domain.TransformSettings {
	return domain.TransformSettings{Width: 40, Height: 30, Quality: 80, Format: domain.FormatJPEG}
}

func TestCacheReusesEncodedResult(t *testing.T) {
	next := &countingTransformer{}
	c := New(next, time.Minute)

	settings := baseSettings()
	first, err := c.Transform(context.Background(), []byte("src"), settings)
	if err != nil {
		t.Fatalf("first transform: %v", err)
	}

	settings.ProjectName = "Acme"
	settings.AltText = "a red bicycle"
	second, err := c.Transform(context.Background(), []byte("src"), settings)
	if err != nil {
		t.Fatalf("second transform: %v", err)
	}

	if next.calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", next.calls)
	}
	if string(first.Data) != string(second.Data) {
		t.Fatalf("expected cached bytes, got %q and %q", first.Data, second.Data)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %d and %d", hits, misses)
	}
}

func TestCacheHitsReturnIndependentBytes(t *testing.T) {
	c := New(&countingTransformer{}, time.Minute)

	first, err := c.Transform(context.Background(), []byte("src"), baseSettings())
	if err != nil {
		t.Fatalf("first transform: %v", err)
	}
	second, _ := c.Transform(context.Background(), []byte("src"), baseSettings())
	third, _ := c.Transform(context.Background(), []byte("src"), baseSettings())

	first.Data[0] = 'X'
	second.Data[0] = 'Y'
	if &second.Data[0] == &third.Data[0] {
		t.Fatalf("expected each hit to own its bytes")
	}
	if string(third.Data) != "out:src" {
		t.Fatalf("expected cached bytes untouched by callers, got %q", third.Data)
	}
}

func TestCacheMissesOnEncoderSettings(t *testing.T) {
	next := &countingTransformer{}
	c := New(next, time.Minute)

	settings := baseSettings()
	variants := []func(*domain.TransformSettings){
		func(s *domain.TransformSettings) { s.Width = 41 },
		func(s *domain.TransformSettings) { s.Height = 31 },
		func(s *domain.TransformSettings) { s.Quality = 70 },
		func(s *domain.TransformSettings) { s.Format = domain.FormatWEBP },
	}
	if _, err := c.Transform(context.Background(), []byte("src"), settings); err != nil {
		t.Fatalf("transform: %v", err)
	}
	for _, mutate := range variants {
		s := settings
		mutate(&s)
		if _, err := c.Transform(context.Background(), []byte("src"), s); err != nil {
			t.Fatalf("transform: %v", err)
		}
	}
	if _, err := c.Transform(context.Background(), []byte("other"), settings); err != nil {
		t.Fatalf("transform: %v", err)
	}

	if next.calls != 6 {
		t.Fatalf("expected 6 backend calls, got %d", next.calls)
	}
	if c.Len() != 6 {
		t.Fatalf("expected 6 cached entries, got %d", c.Len())
	}
}

func TestKeyIgnoresPNGQuality(t *testing.T) {
	a := baseSettings()
	a.Format = domain.FormatPNG
	b := a
	b.Quality = 10

	if Key([]byte("x"), a) != Key([]byte("x"), b) {
		t.Fatal("expected png keys to ignore quality")
	}
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	next := &countingTransformer{err: domain.ErrDecode}
	c := New(next, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := c.Transform(context.Background(), []byte("bad"), baseSettings()); !errors.Is(err, domain.ErrDecode) {
			t.Fatalf("expected ErrDecode, got %v", err)
		}
	}
	if next.calls != 2 {
		t.Fatalf("expected failures to reach the backend twice, got %d", next.calls)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}
}
