// Package ingest adds, edits and removes gallery assets: content goes to the
// blob store, the image embedding and record go to storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/blob"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// ErrEmptyContent is returned when an upload carries no bytes.
var ErrEmptyContent = errors.New("empty content")

// Ingester manages the lifecycle of media assets.
type Ingester struct {
	storage  storage.Storage
	blobs    blob.Store
	provider embedding.Provider
	logger   *zap.Logger
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithLogger sets a logger for upload, import and delete events.
func WithLogger(l *zap.Logger) IngesterOption {
	return func(in *Ingester) {
		if l != nil {
			in.logger = l
		}
	}
}

// NewIngester creates an ingester with the given dependencies.
func NewIngester(store storage.Storage, blobs blob.Store, provider embedding.Provider, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		storage:  store,
		blobs:    blobs,
		provider: provider,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Upload stores content, embeds it and persists the record. A failed
// embedding does not fail the upload; the asset is stored without one.
// If the record cannot be persisted the stored content is removed again.
func (in *Ingester) Upload(ctx context.Context, input *models.MediaInput, content []byte) (*models.MediaAsset, error) {
	if input.OwnerID == "" {
		return nil, models.ErrOwnerRequired
	}
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}
	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}

	mime := mimetype.Detect(content)
	ext := strings.ToLower(filepath.Ext(input.Filename))
	if ext == "" {
		ext = mime.Extension()
	}
	locator, err := in.blobs.Put(ctx, "content"+ext, content)
	if err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	asset := &models.MediaAsset{
		ID:             id,
		OwnerID:        input.OwnerID,
		Title:          displayTitle(input.Title, input.Filename),
		StorageLocator: locator,
		ContentType:    mime.String(),
		SizeBytes:      int64(len(content)),
		Embedding:      in.embed(ctx, id, content),
	}
	if err := in.storage.CreateAsset(ctx, asset); err != nil {
		if delErr := in.blobs.Delete(context.WithoutCancel(ctx), locator); delErr != nil {
			in.logger.Warn("failed to remove content of unsaved asset",
				zap.String("asset_id", id), zap.String("locator", locator), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to save asset: %w", err)
	}
	in.logger.Info("asset uploaded",
		zap.String("owner_id", asset.OwnerID),
		zap.String("asset_id", asset.ID),
		zap.String("content_type", asset.ContentType),
		zap.Bool("embedded", asset.HasEmbedding()),
	)
	return asset, nil
}

// embed returns the serialized image embedding, or nil when none can be made.
func (in *Ingester) embed(ctx context.Context, id string, content []byte) []byte {
	vec, err := in.provider.EmbedImage(ctx, content)
	if err != nil {
		in.logger.Warn("embedding failed; saving asset without one", zap.String("asset_id", id), zap.Error(err))
		return nil
	}
	encoded, err := vector.Encode(vec)
	if err != nil {
		in.logger.Warn("embedding could not be encoded", zap.String("asset_id", id), zap.Error(err))
		return nil
	}
	return encoded
}

func displayTitle(title, filename string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Get returns ownerID's asset. Assets of other owners are reported as not found.
func (in *Ingester) Get(ctx context.Context, ownerID, id string) (*models.MediaAsset, error) {
	if ownerID == "" {
		return nil, models.ErrOwnerRequired
	}
	asset, err := in.storage.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return asset, nil
}

// Open returns the asset and a reader for its content.
func (in *Ingester) Open(ctx context.Context, ownerID, id string) (*models.MediaAsset, io.ReadCloser, error) {
	asset, err := in.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := in.blobs.Open(ctx, asset.StorageLocator)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open content: %w", err)
	}
	return asset, rc, nil
}

// Retitle changes the display title. The embedding is left as is.
func (in *Ingester) Retitle(ctx context.Context, ownerID, id, title string) (*models.MediaAsset, error) {
	asset, err := in.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if err := in.storage.UpdateTitle(ctx, id, title); err != nil {
		return nil, err
	}
	asset.Title = title
	in.logger.Debug("asset retitled", zap.String("owner_id", ownerID), zap.String("asset_id", id))
	return asset, nil
}

// Delete removes the asset's content and record. A content deletion failure
// is logged and does not keep the record.
func (in *Ingester) Delete(ctx context.Context, ownerID, id string) error {
	asset, err := in.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := in.blobs.Delete(ctx, asset.StorageLocator); err != nil {
		in.logger.Warn("failed to delete asset content",
			zap.String("asset_id", id), zap.String("locator", asset.StorageLocator), zap.Error(err))
	}
	if err := in.storage.DeleteAsset(ctx, id); err != nil {
		return err
	}
	in.logger.Info("asset deleted", zap.String("owner_id", ownerID), zap.String("asset_id", id))
	return nil
}
