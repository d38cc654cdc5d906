package ingest

import (
	"context"
	"fmt"
)

// Status summarizes the gallery for the status endpoint and command.
type Status struct {
	Assets           int64    `json:"assets"`
	Embedded         int64    `json:"embedded"`
	MediaBytes       int64    `json:"media_bytes"`
	DatabaseBytes    int64    `json:"database_bytes"`
	Model            string   `json:"model"`
	Dimensions       int      `json:"dimensions"`
	WatchDirectories []string `json:"watch_directories,omitempty"`
}

type usageReporter interface {
	UsageBytes() (int64, error)
}

type sizeReporter interface {
	SizeBytes(ctx context.Context) (int64, error)
}

// Status counts assets and reports storage usage when the backends expose it.
func (in *Ingester) Status(ctx context.Context) (*Status, error) {
	assets, err := in.storage.CountAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count assets: %w", err)
	}
	embedded, err := in.storage.CountEmbedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count embedded assets: %w", err)
	}
	st := &Status{
		Assets:     assets,
		Embedded:   embedded,
		Model:      in.provider.Model(),
		Dimensions: in.provider.Dimensions(),
	}
	if u, ok := in.blobs.(usageReporter); ok {
		if n, err := u.UsageBytes(); err == nil {
			st.MediaBytes = n
		}
	}
	if s, ok := in.storage.(sizeReporter); ok {
		if n, err := s.SizeBytes(ctx); err == nil {
			st.DatabaseBytes = n
		}
	}
	return st, nil
}
