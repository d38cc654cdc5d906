// Package storage defines the persistence interface for media records.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/shashin/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("asset not found")

// Storage persists media records. Implementations must be safe for concurrent use.
type Storage interface {
	// CreateAsset inserts asset with its embedding blob, or NULL when asset.Embedding is nil.
	// A zero CreatedAt is set to now.
	CreateAsset(ctx context.Context, asset *models.MediaAsset) error
	GetAsset(ctx context.Context, id string) (*models.MediaAsset, error)
	AssetExists(ctx context.Context, id string) (bool, error)
	UpdateTitle(ctx context.Context, id, title string) error
	DeleteAsset(ctx context.Context, id string) error
	// ListAssets returns every asset of ownerID, embeddings included,
	// newest first with ties broken by id ascending.
	ListAssets(ctx context.Context, ownerID string) ([]*models.MediaAsset, error)

	// Stats
	CountAssets(ctx context.Context) (int64, error)
	CountEmbedded(ctx context.Context) (int64, error)

	Close() error
}
