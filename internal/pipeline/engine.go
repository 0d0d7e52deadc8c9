package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Engine struct {
	backend      Transformer
	tracer       trace.Tracer
	maxDimension int
}

type EngineOption func(*Engine)

// WithMaxDimension caps each target side. Values <= 0 keep
// domain.DefaultMaxDimension.
func WithMaxDimension(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxDimension = n
		}
	}
}

func NewEngine(opts ...EngineOption) (*Engine, error) {
	backend, err := newTransformer()
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}
	return NewEngineWithBackend(backend, opts...), nil
}

func NewEngineWithBackend(backend Transformer, opts ...EngineOption) *Engine {
	e := &Engine{
		backend:      backend,
		tracer:       otel.Tracer("imageoptimizer/pipeline"),
		maxDimension: domain.DefaultMaxDimension,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) MaxDimension() int {
	return e.maxDimension
}

// Transform validates settings before any decode work and returns the encoded
// bytes. The same input and settings always yield the same output.
func (e *Engine) Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error) {
	if err := settings.ValidateWithin(e.maxDimension); err != nil {
		return domain.EncodedImage{}, err
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.transform")
	span.SetAttributes(
		attribute.Int("image.source_bytes", len(input)),
		attribute.Int("image.target_width", settings.Width),
		attribute.Int("image.target_height", settings.Height),
		attribute.String("image.format", string(settings.Format)),
		attribute.Int("image.quality", settings.EffectiveQuality()),
	)
	defer span.End()

	out, err := e.backend.Transform(ctx, input, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return domain.EncodedImage{}, err
	}
	if len(out.Data) == 0 {
		err := fmt.Errorf("%w: backend returned empty output", domain.ErrEncode)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindEncode))
		return domain.EncodedImage{}, err
	}

	span.SetAttributes(attribute.Int("image.encoded_bytes", len(out.Data)))
	span.SetStatus(codes.Ok, "encoded")
	return out, nil
}

func (e *Engine) Probe(input []byte) (domain.Dimensions, error) {
	return Probe(input)
}
