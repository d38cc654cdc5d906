package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/fileid"
	"github.com/hyperjump/shashin/internal/imaging"
	"github.com/hyperjump/shashin/internal/models"
)

// ImportStats summarizes a directory import.
type ImportStats struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ImportFile uploads the file at path for ownerID under an id derived from
// owner and absolute path. It returns false without error when the file was
// imported before. The extension must be in allowedExts, or be a supported
// image extension when allowedExts is empty.
func (in *Ingester) ImportFile(ctx context.Context, ownerID, path string, allowedExts []string) (bool, error) {
	if ownerID == "" {
		return false, models.ErrOwnerRequired
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("absolute path: %w", err)
	}
	if !importable(absPath, allowedExts) {
		return false, fmt.Errorf("extension %q not importable", filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("not a regular file: %s", absPath)
	}

	id := fileid.ImportID(ownerID, absPath)
	exists, err := in.storage.AssetExists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		in.logger.Debug("import skipping known file", zap.String("path", absPath), zap.String("asset_id", id))
		return false, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("read file: %w", err)
	}
	_, err = in.Upload(ctx, &models.MediaInput{
		ID:       id,
		OwnerID:  ownerID,
		Filename: filepath.Base(absPath),
	}, content)
	if err != nil {
		return false, err
	}
	in.logger.Debug("import file imported", zap.String("path", absPath), zap.String("asset_id", id))
	return true, nil
}

// ImportDirectory walks dir and imports each regular file with an allowed
// extension. Per-file failures are logged and counted; the walk continues.
func (in *Ingester) ImportDirectory(ctx context.Context, ownerID, dir string, recursive bool, allowedExts []string) (ImportStats, error) {
	var stats ImportStats
	if ownerID == "" {
		return stats, models.ErrOwnerRequired
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return stats, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return stats, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("not a directory: %s", absDir)
	}

	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !importable(path, allowedExts) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		imported, importErr := in.ImportFile(ctx, ownerID, path, allowedExts)
		switch {
		case importErr != nil:
			stats.Failed++
			in.logger.Warn("import failed", zap.String("path", path), zap.Error(importErr))
		case imported:
			stats.Imported++
		default:
			stats.Skipped++
		}
		return nil
	})
	return stats, err
}

// importable reports whether path passes the extension filter. An empty
// filter admits the supported image formats.
func importable(path string, allowedExts []string) bool {
	if len(allowedExts) == 0 {
		return imaging.IsImagePath(path)
	}
	return extensionAllowed(filepath.Ext(path), allowedExts)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
