// Package embedding turns images and query text into vectors in a shared space.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrFailure marks any failure to produce an embedding: undecodable input,
// a model runtime error, or an output of the wrong size.
var ErrFailure = errors.New("embedding failure")

// Provider embeds images and text into the same vector space. Implementations
// must be safe for concurrent use.
type Provider interface {
	EmbedImage(ctx context.Context, content []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	// Model identifies the model that produced the vectors.
	Model() string
	Close() error
}

func failure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFailure, op, err)
}

// emptyTextVector is the embedding of the empty string: a zero vector, which
// scores 0 against every asset.
func emptyTextVector(d int) []float32 {
	return make([]float32, d)
}

// checkDimensions returns an error unless vec has exactly d elements.
func checkDimensions(vec []float32, d int) error {
	if len(vec) != d {
		return fmt.Errorf("model returned %d dimensions, want %d", len(vec), d)
	}
	return nil
}

// HealthChecker is implemented by providers backed by a remote service.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CheckHealth runs p's health check, looking through a CachedProvider.
// Providers without one are always healthy.
func CheckHealth(ctx context.Context, p Provider) error {
	if c, ok := p.(*CachedProvider); ok {
		p = c.Provider
	}
	if hc, ok := p.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}
