//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/shashin/internal/imaging"
	"github.com/hyperjump/shashin/internal/vector"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime initializes the process-wide ONNX Runtime environment once.
// It is never destroyed; sessions come and go with their providers.
func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

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

// ONNXProvider runs a CLIP-style image encoder and text encoder with ONNX Runtime.
// The image model takes "pixel_values" [1,3,S,S] and yields "image_embeds" [1,d];
// the text model takes "input_ids" and "attention_mask" [1,T] and yields "text_embeds" [1,d].
type ONNXProvider struct {
	dimensions int
	imageSize  int
	maxTokens  int
	model      string
	tokenizer  Tokenizer

	imageMu      sync.Mutex
	imageSession *ort.AdvancedSession
	pixelTensor  *ort.Tensor[float32]
	imageOut     *ort.Tensor[float32]

	textMu              sync.Mutex
	textSession         *ort.AdvancedSession
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	textOut             *ort.Tensor[float32]
}

// NewONNXProvider loads both encoders. Any failure here is fatal to startup.
func NewONNXProvider(opts ONNXOptions) (*ONNXProvider, error) {
	if err := initRuntime(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	var tokenizer Tokenizer = &SimpleTokenizer{}
	if opts.VocabPath != "" {
		vt, err := LoadVocabTokenizer(opts.VocabPath)
		if err != nil {
			return nil, err
		}
		tokenizer = vt
	}

	p := &ONNXProvider{
		dimensions: opts.Dimensions,
		imageSize:  opts.ImageSize,
		maxTokens:  opts.MaxTokens,
		model:      "onnx:" + opts.ImageModelPath,
		tokenizer:  tokenizer,
	}
	if err := p.initImage(opts.ImageModelPath); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.initText(opts.TextModelPath); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *ONNXProvider) initImage(modelPath string) error {
	var err error
	s := int64(p.imageSize)
	p.pixelTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, s, s))
	if err != nil {
		return fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	p.imageOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(p.dimensions)))
	if err != nil {
		return fmt.Errorf("failed to create image output tensor: %w", err)
	}
	p.imageSession, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{p.pixelTensor},
		[]ort.ArbitraryTensor{p.imageOut},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create image session: %w", err)
	}
	return nil
}

func (p *ONNXProvider) initText(modelPath string) error {
	inputIDs, attentionMask := p.tokenizer.Tokenize("", p.maxTokens)
	shape := ort.NewShape(1, int64(len(inputIDs)))

	var err error
	p.inputIDsTensor, err = ort.NewTensor(shape, inputIDs)
	if err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	p.attentionMaskTensor, err = ort.NewTensor(shape, attentionMask)
	if err != nil {
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	p.textOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(p.dimensions)))
	if err != nil {
		return fmt.Errorf("failed to create text output tensor: %w", err)
	}
	p.textSession, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{p.inputIDsTensor, p.attentionMaskTensor},
		[]ort.ArbitraryTensor{p.textOut},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create text session: %w", err)
	}
	return nil
}

// EmbedImage decodes content, preprocesses it and runs the image encoder.
func (p *ONNXProvider) EmbedImage(ctx context.Context, content []byte) ([]float32, error) {
	img, _, err := imaging.Decode(content)
	if err != nil {
		return nil, failure("embed image", err)
	}
	pixels := imaging.PixelValues(img, p.imageSize, imaging.CLIPNormalization)
	if err := ctx.Err(); err != nil {
		return nil, failure("embed image", err)
	}

	p.imageMu.Lock()
	defer p.imageMu.Unlock()
	if p.imageSession == nil {
		return nil, failure("embed image", errors.New("provider closed"))
	}
	copy(p.pixelTensor.GetData(), pixels)
	if err := p.imageSession.Run(); err != nil {
		return nil, failure("embed image", fmt.Errorf("inference failed: %w", err))
	}
	return p.readOutput(p.imageOut, "embed image")
}

// EmbedText tokenizes text and runs the text encoder.
func (p *ONNXProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return emptyTextVector(p.dimensions), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, failure("embed text", err)
	}
	inputIDs, attentionMask := p.tokenizer.Tokenize(text, p.maxTokens)

	p.textMu.Lock()
	defer p.textMu.Unlock()
	if p.textSession == nil {
		return nil, failure("embed text", errors.New("provider closed"))
	}
	copy(p.inputIDsTensor.GetData(), inputIDs)
	copy(p.attentionMaskTensor.GetData(), attentionMask)
	if err := p.textSession.Run(); err != nil {
		return nil, failure("embed text", fmt.Errorf("inference failed: %w", err))
	}
	return p.readOutput(p.textOut, "embed text")
}

func (p *ONNXProvider) readOutput(out *ort.Tensor[float32], op string) ([]float32, error) {
	data := out.GetData()
	if err := checkDimensions(data, p.dimensions); err != nil {
		return nil, failure(op, err)
	}
	emb := make([]float32, p.dimensions)
	copy(emb, data)
	vector.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (p *ONNXProvider) Dimensions() int {
	return p.dimensions
}

// Model returns an identifier derived from the image model path.
func (p *ONNXProvider) Model() string {
	return p.model
}

// Close destroys the sessions and tensors. The runtime environment stays up.
func (p *ONNXProvider) Close() error {
	p.imageMu.Lock()
	defer p.imageMu.Unlock()
	p.textMu.Lock()
	defer p.textMu.Unlock()

	var errs []error
	if p.imageSession != nil {
		errs = append(errs, p.imageSession.Destroy())
		p.imageSession = nil
	}
	if p.textSession != nil {
		errs = append(errs, p.textSession.Destroy())
		p.textSession = nil
	}
	if p.pixelTensor != nil {
		_ = p.pixelTensor.Destroy()
		p.pixelTensor = nil
	}
	if p.imageOut != nil {
		_ = p.imageOut.Destroy()
		p.imageOut = nil
	}
	if p.inputIDsTensor != nil {
		_ = p.inputIDsTensor.Destroy()
		p.inputIDsTensor = nil
	}
	if p.attentionMaskTensor != nil {
		_ = p.attentionMaskTensor.Destroy()
		p.attentionMaskTensor = nil
	}
	if p.textOut != nil {
		_ = p.textOut.Destroy()
		p.textOut = nil
	}
	return errors.Join(errs...)
}
