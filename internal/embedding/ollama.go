package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/shashin/internal/imaging"
	"github.com/hyperjump/shashin/internal/vector"
)

const captionPrompt = "Describe this photo in one or two plain sentences: the subjects, the setting, " +
	"notable objects, colors and any visible text."

// OllamaOptions configures an OllamaProvider.
type OllamaOptions struct {
	BaseURL     string
	Model       string
	VisionModel string
	Dimensions  int
	Timeout     time.Duration
}

// OllamaProvider embeds text with an Ollama embedding model. Images are first
// captioned by a vision model and the caption is embedded, so both
// modalities land in the text model's space.
type OllamaProvider struct {
	baseURL     string
	model       string
	visionModel string
	dimensions  int
	client      *http.Client
}

// NewOllamaProvider creates a provider talking to the Ollama server at opts.BaseURL.
func NewOllamaProvider(opts OllamaOptions) *OllamaProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaProvider{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		visionModel: opts.VisionModel,
		dimensions:  opts.Dimensions,
		client:      &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream bool     `json:"stream"`
	Images []string `json:"images"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// EmbedText embeds text with the configured embedding model.
func (p *OllamaProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return emptyTextVector(p.dimensions), nil
	}
	emb, err := p.embed(ctx, text)
	if err != nil {
		return nil, failure("embed text", err)
	}
	return emb, nil
}

// EmbedImage captions the image with the vision model and embeds the caption.
func (p *OllamaProvider) EmbedImage(ctx context.Context, content []byte) ([]float32, error) {
	if _, _, err := imaging.DecodeConfig(content); err != nil {
		return nil, failure("embed image", err)
	}
	caption, err := p.Caption(ctx, content)
	if err != nil {
		return nil, failure("embed image", err)
	}
	emb, err := p.embed(ctx, caption)
	if err != nil {
		return nil, failure("embed image", err)
	}
	return emb, nil
}

// Caption asks the vision model to describe the image.
func (p *OllamaProvider) Caption(ctx context.Context, content []byte) (string, error) {
	var resp ollamaGenerateResponse
	err := p.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:  p.visionModel,
		Prompt: captionPrompt,
		Stream: false,
		Images: []string{base64.StdEncoding.EncodeToString(content)},
	}, &resp)
	if err != nil {
		return "", err
	}
	caption := strings.TrimSpace(resp.Response)
	if caption == "" {
		return "", errors.New("vision model returned an empty caption")
	}
	return caption, nil
}

func (p *OllamaProvider) embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	if err := p.post(ctx, "/api/embed", ollamaEmbedRequest{Model: p.model, Input: []string{text}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("no embeddings returned")
	}
	emb := resp.Embeddings[0]
	if err := checkDimensions(emb, p.dimensions); err != nil {
		return nil, err
	}
	vector.NormalizeL2(emb)
	return emb, nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks that the server is reachable and both models are pulled.
func (p *OllamaProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not available: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode tags response: %w", err)
	}
	have := make(map[string]bool, len(tags.Models))
	for _, m := range tags.Models {
		have[stripModelTag(m.Name)] = true
	}
	for _, want := range []string{p.model, p.visionModel} {
		if !have[stripModelTag(want)] {
			return fmt.Errorf("model %s not found (run: ollama pull %s)", want, want)
		}
	}
	return nil
}

// stripModelTag removes a tag suffix such as ":latest".
func stripModelTag(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

// Dimensions returns the embedding dimension.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

// Model returns the embedding model name prefixed with "ollama:".
func (p *OllamaProvider) Model() string {
	return "ollama:" + p.model
}

// Close releases idle HTTP connections.
func (p *OllamaProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
