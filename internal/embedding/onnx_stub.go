//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"
)

// ONNXOptions configures an ONNXProvider.
type ONNXOptions struct {
	ImageModelPath string
	TextModelPath  string
	VocabPath      string
	LibraryPath    string
	Dimensions     int
	ImageSize      int
	MaxTokens      int
}

// ONNXProvider stub type when built without CGO (see onnx.go for real implementation).
type ONNXProvider struct {
	Provider
}

// NewONNXProvider returns an error when built without CGO (ONNX not available).
func NewONNXProvider(_ ONNXOptions) (*ONNXProvider, error) {
	return nil, errors.New("ONNX provider requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
