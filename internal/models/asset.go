// Package models defines the media records shared by storage, ingest, search, and the API.
package models

import (
	"errors"
	"time"
)

// MediaAsset is one uploaded image owned by a single account.
type MediaAsset struct {
	ID             string    `json:"id" db:"id"`
	OwnerID        string    `json:"owner_id" db:"owner_id"`
	Title          string    `json:"title" db:"title"`
	StorageLocator string    `json:"storage_locator" db:"storage_locator"`
	ContentType    string    `json:"content_type,omitempty" db:"content_type"`
	SizeBytes      int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	// Embedding is the serialized vector (see vector.Encode); nil when the
	// asset predates semantic search or embedding failed at upload.
	Embedding []byte `json:"-" db:"embedding"`
}

// HasEmbedding reports whether the asset carries a serialized embedding.
func (a *MediaAsset) HasEmbedding() bool {
	return len(a.Embedding) > 0
}

// MediaInput is the input for uploading or importing an asset.
type MediaInput struct {
	// ID is optional; uploads get a random id, directory imports a stable one.
	ID       string `json:"id,omitempty"`
	OwnerID  string `json:"owner_id"`
	Title    string `json:"title,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ErrOwnerRequired is returned when an operation is attempted without an owner id.
var ErrOwnerRequired = errors.New("owner id is required")
