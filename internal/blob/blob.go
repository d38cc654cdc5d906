// Package blob stores the binary content of media assets behind opaque locators.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidLocator is returned for locators that are empty, absolute, or escape the store root.
var ErrInvalidLocator = errors.New("invalid storage locator")

// ErrNotFound is returned when no content exists at a locator.
var ErrNotFound = errors.New("blob not found")

// Store holds binary content addressed by locators it assigns.
type Store interface {
	// Put stores content under a fresh locator derived from filename's extension.
	Put(ctx context.Context, filename string, content []byte) (string, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) error
}

// NewLocator returns "uploads/<yyyymmddhhmmss>-<uuid><ext>" for filename.
func NewLocator(now time.Time, filename string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(filename)))
	return fmt.Sprintf("uploads/%s-%s%s", now.UTC().Format("20060102150405"), uuid.New().String(), ext)
}

// FSStore keeps content as files under a root directory.
type FSStore struct {
	root string
	now  func() time.Time
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates root if needed and returns a store rooted there.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &FSStore{root: root, now: time.Now}, nil
}

// Root returns the directory the store writes to.
func (s *FSStore) Root() string {
	return s.root
}

// resolve maps a locator to a path under root.
func (s *FSStore) resolve(locator string) (string, error) {
	if locator == "" || path.IsAbs(locator) || strings.Contains(locator, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	clean := path.Clean(locator)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes content atomically and returns its locator.
func (s *FSStore) Put(ctx context.Context, filename string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	locator := NewLocator(s.now(), filename)
	dst, err := s.resolve(locator)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return locator, nil
}

// Open returns a reader for the content at locator.
func (s *FSStore) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Delete removes the content at locator. Deleting missing content is not an error.
func (s *FSStore) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// UsageBytes returns the total size of all stored content.
func (s *FSStore) UsageBytes() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
