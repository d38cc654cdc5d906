package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/shashin/internal/imaging"
	"github.com/hyperjump/shashin/internal/vector"
)

// MockProvider is a deterministic provider for tests and offline development.
// Equal inputs get equal unit vectors; images are validated but not understood.
type MockProvider struct {
	dimensions int
}

// NewMockProvider returns a provider that produces deterministic embeddings of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockProvider{dimensions: dimensions}
}

// EmbedImage checks that content decodes as an image and hashes its bytes.
func (p *MockProvider) EmbedImage(ctx context.Context, content []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure("embed image", err)
	}
	if _, _, err := imaging.DecodeConfig(content); err != nil {
		return nil, failure("embed image", err)
	}
	return p.hashVector(HashString(string(content))), nil
}

// EmbedText hashes the text. Empty text yields the zero vector.
func (p *MockProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure("embed text", err)
	}
	if text == "" {
		return emptyTextVector(p.dimensions), nil
	}
	return p.hashVector(HashString(text)), nil
}

func (p *MockProvider) hashVector(h int) []float32 {
	emb := make([]float32, p.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	vector.NormalizeL2(emb)
	return emb
}

// Dimensions returns the embedding dimension.
func (p *MockProvider) Dimensions() int {
	return p.dimensions
}

// Model returns "mock".
func (p *MockProvider) Model() string {
	return "mock"
}

// Close is a no-op for MockProvider.
func (p *MockProvider) Close() error {
	return nil
}
