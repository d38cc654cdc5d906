// Package imaging decodes uploaded images and prepares model input tensors.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	// Registered decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds width*height of an accepted image so a tiny compressed
// file cannot expand into an enormous bitmap.
const MaxPixels = 64 << 20

// ErrUndecodable is returned when content is not an image in a supported format.
var ErrUndecodable = errors.New("imaging: undecodable image")

// Extensions lists the file extensions of the supported formats.
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff"}

// Decode decodes content and returns the image and its format name
// ("jpeg", "png", "gif", "webp", "bmp", "tiff").
func Decode(content []byte) (image.Image, string, error) {
	if _, _, err := DecodeConfig(content); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return img, format, nil
}

// DecodeConfig reads only the image header. It rejects empty content, unknown
// formats, degenerate dimensions, and images larger than MaxPixels.
func DecodeConfig(content []byte) (image.Config, string, error) {
	if len(content) == 0 {
		return image.Config{}, "", fmt.Errorf("%w: empty content", ErrUndecodable)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", fmt.Errorf("%w: invalid dimensions %dx%d", ErrUndecodable, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return image.Config{}, "", fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrUndecodable, cfg.Width, cfg.Height)
	}
	return cfg, format, nil
}

// IsImagePath reports whether path has one of the supported image extensions.
func IsImagePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
