package pipeline

import (
	"context"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

// Transformer is a codec backend. Implementations decode input, resample it
// to exactly settings.Width x settings.Height and encode it in settings.Format.
type Transformer interface {
	Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error)
}

type TransformerFunc func(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error)

func (f TransformerFunc) Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error) {
	return f(ctx, input, settings)
}
