package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPTIMIZER_MAX_FILES", "")
	t.Setenv("OPTIMIZER_MAX_DIMENSION", "")
	t.Setenv("POSTGRES_DSN", "")

	cfg := Load()
	if cfg.Editor.MaxFiles != 10 {
		t.Fatalf("expected max files 10, got %d", cfg.Editor.MaxFiles)
	}
	if cfg.Editor.MaxDimension != 16384 {
		t.Fatalf("expected max dimension 16384, got %d", cfg.Editor.MaxDimension)
	}
	if cfg.Editor.QuietPeriod != 300*time.Millisecond {
		t.Fatalf("expected quiet period 300ms, got %s", cfg.Editor.QuietPeriod)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected empty dsn, got %q", cfg.Database.DSN)
	}
	if cfg.AltText.Model != "gemini-2.5-flash" {
		t.Fatalf("expected default gemini model, got %s", cfg.AltText.Model)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPTIMIZER_MAX_FILES", "25")
	t.Setenv("OPTIMIZER_MAX_DIMENSION", "8000")
	t.Setenv("OPTIMIZER_QUIET_PERIOD", "150ms")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.25")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Editor.MaxFiles != 25 {
		t.Fatalf("expected max files 25, got %d", cfg.Editor.MaxFiles)
	}
	if cfg.Editor.MaxDimension != 8000 {
		t.Fatalf("expected max dimension 8000, got %d", cfg.Editor.MaxDimension)
	}
	if cfg.Editor.QuietPeriod != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", cfg.Editor.QuietPeriod)
	}
	if cfg.Tracing.SampleRatio != 0.25 {
		t.Fatalf("expected ratio 0.25, got %v", cfg.Tracing.SampleRatio)
	}
	if !cfg.Storage.UseSSL {
		t.Fatal("expected ssl enabled")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("OPTIMIZER_MAX_FILES", "many")
	t.Setenv("OPTIMIZER_QUIET_PERIOD", "-1s")

	cfg := Load()
	if cfg.Editor.MaxFiles != 10 {
		t.Fatalf("expected fallback 10, got %d", cfg.Editor.MaxFiles)
	}
	if cfg.Editor.QuietPeriod != 300*time.Millisecond {
		t.Fatalf("expected fallback 300ms, got %s", cfg.Editor.QuietPeriod)
	}
}
