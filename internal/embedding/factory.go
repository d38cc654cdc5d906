package embedding

import (
	"fmt"
	"time"

	"github.com/hyperjump/shashin/internal/config"
)

// New builds the provider named by cfg.Provider and wraps it with a query
// cache when cfg.CacheSize is positive. An unusable provider is an error;
// there is no fallback to another model.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "onnx", "":
		op, err := NewONNXProvider(ONNXOptions{
			ImageModelPath: cfg.ImageModelPath,
			TextModelPath:  cfg.TextModelPath,
			VocabPath:      cfg.VocabPath,
			LibraryPath:    cfg.ONNXLibraryPath,
			Dimensions:     cfg.Dimensions,
			ImageSize:      cfg.ImageSize,
			MaxTokens:      cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		p = op
	case "ollama":
		p = NewOllamaProvider(OllamaOptions{
			BaseURL:     cfg.OllamaURL,
			Model:       cfg.OllamaModel,
			VisionModel: cfg.OllamaVisionModel,
			Dimensions:  cfg.Dimensions,
			Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	case "mock":
		p = NewMockProvider(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		return NewCachedProvider(p, cfg.CacheSize), nil
	}
	return p, nil
}
